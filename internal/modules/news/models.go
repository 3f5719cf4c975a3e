package news

import "time"

// ScrapeRun records one source scrape
type ScrapeRun struct {
	ID           int64     `json:"id"`
	Source       string    `json:"source"`
	ItemCount    int       `json:"itemCount"`
	Success      bool      `json:"success"`
	ErrorMessage string    `json:"errorMessage,omitempty"`
	CreatedAt    time.Time `json:"createdAt"`
}

// PageSource is an HTML page whose headline links are collected
type PageSource struct {
	URL      string `yaml:"url" json:"url"`
	Selector string `yaml:"selector" json:"selector"`
}

// DefaultHeadlineSelector matches common headline links
const DefaultHeadlineSelector = "h1 a[href], h2 a[href], h3 a[href]"

// ItemsPerSource caps how many items one feed or page contributes
const ItemsPerSource = 10
