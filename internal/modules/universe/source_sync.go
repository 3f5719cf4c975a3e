package universe

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/aristath/tradeagent/internal/domain"
	"github.com/rs/zerolog"
)

// SourceConfig describes an external catalog download
type SourceConfig struct {
	URL            string
	Format         string // "json", "csv" or empty to detect
	SymbolField    string
	MarketCapField string
	NameField      string
}

// SourceSync refreshes the catalog from a JSON or CSV download
type SourceSync struct {
	cfg     SourceConfig
	catalog *Catalog
	client  *http.Client
	log     zerolog.Logger
}

// NewSourceSync creates a source refresher
func NewSourceSync(cfg SourceConfig, catalog *Catalog, log zerolog.Logger) *SourceSync {
	if cfg.SymbolField == "" {
		cfg.SymbolField = "symbol"
	}
	if cfg.MarketCapField == "" {
		cfg.MarketCapField = "marketcap"
	}
	if cfg.NameField == "" {
		cfg.NameField = "name"
	}
	cfg.Format = strings.ToLower(cfg.Format)
	cfg.SymbolField = strings.ToLower(cfg.SymbolField)
	cfg.MarketCapField = strings.ToLower(cfg.MarketCapField)
	cfg.NameField = strings.ToLower(cfg.NameField)

	return &SourceSync{
		cfg:     cfg,
		catalog: catalog,
		client:  &http.Client{Timeout: 30 * time.Second},
		log:     log.With().Str("service", "universe_source_sync").Logger(),
	}
}

// RefreshFromSource downloads the catalog and replaces it. It returns the entry
// count; zero with a nil error means the refresh was skipped.
func (s *SourceSync) RefreshFromSource(ctx context.Context) (int, error) {
	if s.cfg.URL == "" {
		s.log.Warn().Msg("Universe refresh skipped, no source URL configured")
		return 0, nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.cfg.URL, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to build universe request: %w", err)
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("universe download failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return 0, fmt.Errorf("universe download failed: status %d", resp.StatusCode)
	}
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, fmt.Errorf("failed to read universe body: %w", err)
	}

	format := s.cfg.Format
	if format == "" {
		if strings.HasSuffix(strings.ToLower(s.cfg.URL), ".json") || strings.Contains(resp.Header.Get("Content-Type"), "json") {
			format = "json"
		} else {
			format = "csv"
		}
	}

	var entries []domain.UniverseEntry
	if format == "json" {
		entries, err = ParseJSONEntries(raw, s.cfg.SymbolField, s.cfg.MarketCapField, s.cfg.NameField)
	} else {
		entries, err = ParseCSVEntries(raw, s.cfg.SymbolField, s.cfg.MarketCapField, s.cfg.NameField)
	}
	if err != nil {
		return 0, err
	}
	if len(entries) == 0 {
		s.log.Warn().Msg("Universe refresh returned no entries")
		return 0, nil
	}

	if err := s.catalog.Replace(ctx, entries, "source", s.cfg.URL); err != nil {
		return 0, err
	}
	s.log.Info().Int("entries", len(entries)).Str("format", format).Msg("Universe refreshed from source")
	return len(entries), nil
}

// ParseJSONEntries reads an array of objects using the configured field names.
// Field lookup is case-insensitive.
func ParseJSONEntries(raw []byte, symbolField, marketCapField, nameField string) ([]domain.UniverseEntry, error) {
	var payload []map[string]interface{}
	if err := json.Unmarshal(raw, &payload); err != nil {
		return nil, fmt.Errorf("universe JSON parse failed: %w", err)
	}

	entries := make([]domain.UniverseEntry, 0, len(payload))
	for _, row := range payload {
		lower := make(map[string]interface{}, len(row))
		for k, v := range row {
			lower[strings.ToLower(k)] = v
		}
		e := domain.UniverseEntry{
			Symbol:     domain.NormalizeSymbol(firstString(lower, symbolField, "symbol")),
			MarketCap:  parseNumber(firstString(lower, marketCapField, "marketcap")),
			Name:       firstString(lower, nameField, "name"),
			MarketCode: firstString(lower, "marketcode", "market_cd"),
			MarketName: firstString(lower, "marketname", "market_nm"),
		}
		if e.Symbol != "" {
			entries = append(entries, e)
		}
	}
	return entries, nil
}

// ParseCSVEntries reads rows with an optional header. Without a header the
// columns are symbol, market cap, name, market code, market name.
func ParseCSVEntries(raw []byte, symbolField, marketCapField, nameField string) ([]domain.UniverseEntry, error) {
	reader := csv.NewReader(strings.NewReader(string(raw)))
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	records, err := reader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("universe CSV parse failed: %w", err)
	}
	if len(records) == 0 {
		return nil, nil
	}

	idx := map[string]int{"symbol": 0, "marketCap": 1, "name": 2, "marketCode": 3, "marketName": 4}
	data := records

	headers := make([]string, len(records[0]))
	hasHeader := false
	for i, h := range records[0] {
		headers[i] = strings.ToLower(strings.TrimSpace(h))
		if strings.Contains(headers[i], "symbol") || strings.Contains(headers[i], "code") || strings.Contains(headers[i], "ticker") {
			hasHeader = true
		}
	}
	if hasHeader {
		data = records[1:]
		idx = map[string]int{
			"symbol":     indexOf(headers, symbolField),
			"marketCap":  indexOf(headers, marketCapField),
			"name":       indexOf(headers, nameField),
			"marketCode": indexOf(headers, "marketcode"),
			"marketName": indexOf(headers, "marketname"),
		}
	}

	entries := make([]domain.UniverseEntry, 0, len(data))
	for _, cols := range data {
		e := domain.UniverseEntry{
			Symbol:     domain.NormalizeSymbol(column(cols, idx["symbol"])),
			MarketCap:  parseNumber(column(cols, idx["marketCap"])),
			Name:       column(cols, idx["name"]),
			MarketCode: column(cols, idx["marketCode"]),
			MarketName: column(cols, idx["marketName"]),
		}
		if e.Symbol != "" {
			entries = append(entries, e)
		}
	}
	return entries, nil
}

func firstString(row map[string]interface{}, keys ...string) string {
	for _, k := range keys {
		v, ok := row[k]
		if !ok || v == nil {
			continue
		}
		var s string
		switch t := v.(type) {
		case string:
			s = t
		case float64:
			s = strconv.FormatFloat(t, 'f', -1, 64)
		default:
			s = fmt.Sprint(t)
		}
		if s = strings.TrimSpace(s); s != "" {
			return s
		}
	}
	return ""
}

func parseNumber(s string) float64 {
	v, err := strconv.ParseFloat(strings.ReplaceAll(strings.TrimSpace(s), ",", ""), 64)
	if err != nil {
		return 0
	}
	return v
}

func indexOf(headers []string, name string) int {
	for i, h := range headers {
		if h == name {
			return i
		}
	}
	return -1
}

func column(cols []string, i int) string {
	if i < 0 || i >= len(cols) {
		return ""
	}
	return strings.TrimSpace(cols[i])
}
