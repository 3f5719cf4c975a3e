package universe

import (
	"context"
	"sync"
	"time"

	"github.com/aristath/tradeagent/internal/domain"
	"github.com/rs/zerolog"
)

// CatalogTTL bounds how long a loaded catalog is served from memory
const CatalogTTL = 10 * time.Minute

// Catalog serves the symbol catalog from a short-lived in-memory copy
type Catalog struct {
	repo *Repository
	ttl  time.Duration
	now  func() time.Time
	log  zerolog.Logger

	mu       sync.Mutex
	entries  []domain.UniverseEntry
	loadedAt time.Time
	loaded   bool
}

// NewCatalog creates a catalog backed by the repository
func NewCatalog(repo *Repository, log zerolog.Logger) *Catalog {
	return &Catalog{
		repo: repo,
		ttl:  CatalogTTL,
		now:  time.Now,
		log:  log.With().Str("component", "universe_catalog").Logger(),
	}
}

// Entries returns the catalog. A load failure is logged and yields an empty catalog.
func (c *Catalog) Entries(ctx context.Context) ([]domain.UniverseEntry, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	if c.loaded && now.Sub(c.loadedAt) < c.ttl {
		return c.entries, nil
	}

	entries, err := c.repo.GetAll(ctx)
	if err != nil {
		c.log.Warn().Err(err).Msg("Failed to load universe entries")
		entries = nil
	}
	c.entries = entries
	c.loadedAt = now
	c.loaded = true
	return entries, nil
}

// Replace swaps the persisted catalog and drops the in-memory copy
func (c *Catalog) Replace(ctx context.Context, entries []domain.UniverseEntry, source, note string) error {
	if err := c.repo.Replace(ctx, entries, source, note); err != nil {
		return err
	}
	c.Invalidate()
	return nil
}

// Invalidate forces the next Entries call to reload
func (c *Catalog) Invalidate() {
	c.mu.Lock()
	c.loaded = false
	c.entries = nil
	c.mu.Unlock()
}

// Repository exposes the backing repository for paged reads
func (c *Catalog) Repository() *Repository {
	return c.repo
}
