// Package testing provides testing utilities and helpers for the trading agent.
package testing

import (
	"fmt"
	"os"
	"testing"

	"github.com/aristath/tradeagent/internal/database"
)

// NewTestDB creates a temporary SQLite database with the embedded schema applied.
// Returns the database instance and a cleanup function that closes and removes it.
//
// Supported schema names:
//   - "ledger" - portfolio state, holdings, trade logs, reports, strategy revisions
//   - "market" - quotes, universe, news, call logs
//   - Unknown names - empty database
func NewTestDB(t *testing.T, name string) (*database.DB, func()) {
	t.Helper()

	db, tmpPath := openTemp(t, name)

	if err := db.Migrate(); err != nil {
		_ = db.Close()
		_ = os.Remove(tmpPath)
		t.Fatalf("Failed to migrate test database %s: %v", name, err)
	}

	return db, cleanup(t, db, tmpPath)
}

// NewTestDBWithSchema creates a temporary database and executes a custom schema.
func NewTestDBWithSchema(t *testing.T, name string, schema string) (*database.DB, func()) {
	t.Helper()

	db, tmpPath := openTemp(t, name)

	if schema != "" {
		if _, err := db.Conn().Exec(schema); err != nil {
			_ = db.Close()
			_ = os.Remove(tmpPath)
			t.Fatalf("Failed to execute custom schema for test database %s: %v", name, err)
		}
	}

	return db, cleanup(t, db, tmpPath)
}

func openTemp(t *testing.T, name string) (*database.DB, string) {
	t.Helper()

	tmpFile, err := os.CreateTemp("", fmt.Sprintf("test_%s_*.db", name))
	if err != nil {
		t.Fatalf("Failed to create temporary database file: %v", err)
	}
	tmpPath := tmpFile.Name()
	_ = tmpFile.Close()

	profile := database.ProfileStandard
	if name == database.NameLedger {
		profile = database.ProfileLedger
	}

	db, err := database.New(database.Config{
		Path:    tmpPath,
		Profile: profile,
		Name:    name,
	})
	if err != nil {
		_ = os.Remove(tmpPath)
		t.Fatalf("Failed to create test database %s: %v", name, err)
	}
	return db, tmpPath
}

func cleanup(t *testing.T, db *database.DB, tmpPath string) func() {
	return func() {
		if err := db.Close(); err != nil {
			t.Logf("Warning: Failed to close test database: %v", err)
		}
		for _, suffix := range []string{"", "-wal", "-shm"} {
			_ = os.Remove(tmpPath + suffix)
		}
	}
}
