package news

import (
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// StripHTML returns the visible text of an HTML fragment with collapsed whitespace
func StripHTML(fragment string) string {
	if !strings.ContainsAny(fragment, "<&") {
		return collapseSpaces(fragment)
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(fragment))
	if err != nil {
		return collapseSpaces(fragment)
	}
	doc.Find("script, style").Remove()
	return collapseSpaces(doc.Text())
}

func collapseSpaces(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
