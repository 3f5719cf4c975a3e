package di

import (
	"fmt"

	"github.com/aristath/tradeagent/internal/config"
	"github.com/aristath/tradeagent/internal/database"
	"github.com/rs/zerolog"
)

// InitializeDatabases opens ledger.db and market.db and applies their schemas
func InitializeDatabases(cfg *config.Config, log zerolog.Logger) (*Container, error) {
	container := &Container{}

	// ledger.db - cash, holdings, trade logs, reports
	ledgerDB, err := database.New(database.Config{
		Path:    cfg.LedgerPath(),
		Profile: database.ProfileLedger,
		Name:    database.NameLedger,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize ledger database: %w", err)
	}
	container.LedgerDB = ledgerDB

	// market.db - quotes, catalog, news, call logs
	marketDB, err := database.New(database.Config{
		Path:    cfg.MarketPath(),
		Profile: database.ProfileStandard,
		Name:    database.NameMarket,
	})
	if err != nil {
		ledgerDB.Close()
		return nil, fmt.Errorf("failed to initialize market database: %w", err)
	}
	container.MarketDB = marketDB

	for _, db := range container.Databases() {
		if err := db.Migrate(); err != nil {
			ledgerDB.Close()
			marketDB.Close()
			return nil, fmt.Errorf("failed to migrate %s database: %w", db.Name(), err)
		}
	}

	log.Info().
		Str("ledger", cfg.LedgerPath()).
		Str("market", cfg.MarketPath()).
		Msg("Databases initialized")

	return container, nil
}
