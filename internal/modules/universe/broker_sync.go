package universe

import (
	"context"
	"fmt"
	"strings"

	"github.com/aristath/tradeagent/internal/domain"
	"github.com/rs/zerolog"
)

// MarketTypeCode maps market names to broker market codes; numeric codes pass through
func MarketTypeCode(market string) string {
	switch strings.ToUpper(strings.TrimSpace(market)) {
	case "KOSPI":
		return "0"
	case "KOSDAQ":
		return "10"
	default:
		return strings.TrimSpace(market)
	}
}

// BrokerSync refreshes the catalog from the broker's stock lists
type BrokerSync struct {
	lister  StockLister
	catalog *Catalog
	log     zerolog.Logger
}

// NewBrokerSync creates a broker refresher
func NewBrokerSync(lister StockLister, catalog *Catalog, log zerolog.Logger) *BrokerSync {
	return &BrokerSync{
		lister:  lister,
		catalog: catalog,
		log:     log.With().Str("service", "universe_broker_sync").Logger(),
	}
}

// RefreshFromBroker replaces the catalog with every listed stock of the given markets
func (b *BrokerSync) RefreshFromBroker(ctx context.Context, markets []string) (int, error) {
	var marketTypes []string
	for _, m := range markets {
		if code := MarketTypeCode(m); code != "" {
			marketTypes = append(marketTypes, code)
		}
	}
	if len(marketTypes) == 0 {
		marketTypes = []string{"0", "10"}
	}

	var entries []domain.UniverseEntry
	for _, marketType := range marketTypes {
		list, err := b.lister.GetStockList(ctx, marketType)
		if err != nil {
			return 0, fmt.Errorf("failed to list market %s: %w", marketType, err)
		}
		for _, item := range list {
			code := item.MarketCode
			if code == "" {
				code = marketType
			}
			entries = append(entries, domain.UniverseEntry{
				Symbol:     item.Symbol,
				Name:       item.Name,
				MarketCap:  item.MarketCap(),
				MarketCode: code,
				MarketName: item.MarketName,
			})
		}
	}

	if len(entries) == 0 {
		b.log.Warn().Msg("Universe refresh from broker returned no entries")
		return 0, nil
	}

	note := "markets=" + strings.Join(marketTypes, ",")
	if err := b.catalog.Replace(ctx, entries, "kiwoom", note); err != nil {
		return 0, err
	}
	b.log.Info().Int("entries", len(entries)).Str("markets", note).Msg("Universe refreshed from broker")
	return len(entries), nil
}
