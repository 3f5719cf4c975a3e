// Package strategy owns the markdown strategy document and the policies parsed from it.
package strategy

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// DefaultDocument seeds a missing strategy file
const DefaultDocument = `# Short-Term Trading Strategy

- Keep risk low and react fast.

## Trading Policy
TAKE_PROFIT_PCT=3
STOP_LOSS_PCT=-2
POSITION_SIZE_PCT=10
MIN_HOLD_MINUTES=0

## Universe Selection
TOP_MARKET_CAP=30
TOP_LIQUIDITY=20
TOP_NEWS=10
MAX_UNIVERSE=50
LIQUIDITY_CANDIDATES=100
LIQUIDITY_DAYS=5
MARKETS=KOSPI,KOSDAQ
INCLUDE_MANAGED=false
STEX=KRX
`

// Service reads and writes the file-backed strategy document
type Service struct {
	mu   sync.Mutex
	path string
	repo *RevisionRepository
	now  func() time.Time
	log  zerolog.Logger
}

// NewService creates the strategy service. The file is created on first access.
func NewService(path string, repo *RevisionRepository, log zerolog.Logger) *Service {
	return &Service{
		path: path,
		repo: repo,
		now:  time.Now,
		log:  log.With().Str("service", "strategy").Logger(),
	}
}

// Path returns the strategy file location
func (s *Service) Path() string {
	return s.path
}

// GetCurrentStrategy returns the document text, seeding the default when missing
func (s *Service) GetCurrentStrategy() (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.ensureFile(); err != nil {
		return "", err
	}
	content, err := os.ReadFile(s.path)
	if err != nil {
		return "", fmt.Errorf("failed to read strategy file: %w", err)
	}
	return string(content), nil
}

// UpdateStrategy replaces the document and records a revision
func (s *Service) UpdateStrategy(ctx context.Context, content, source string) error {
	if strings.TrimSpace(content) == "" {
		return fmt.Errorf("strategy content is empty")
	}
	if source == "" {
		source = "manual"
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(s.path), 0755); err != nil {
		return fmt.Errorf("failed to create strategy directory: %w", err)
	}
	if err := writeAtomic(s.path, []byte(content)); err != nil {
		return fmt.Errorf("failed to write strategy file: %w", err)
	}

	if s.repo != nil {
		if _, err := s.repo.Create(ctx, content, source, s.now()); err != nil {
			return err
		}
	}

	s.log.Info().Str("source", source).Int("length", len(content)).Msg("Strategy updated")
	return nil
}

// TradingPolicy parses the trading policy from the current document
func (s *Service) TradingPolicy() TradingPolicy {
	doc, err := s.GetCurrentStrategy()
	if err != nil {
		s.log.Warn().Err(err).Msg("Using default trading policy")
		return DefaultTradingPolicy()
	}
	return ParseTradingPolicy(doc)
}

// UniversePolicy parses the universe policy from the current document
func (s *Service) UniversePolicy() UniversePolicy {
	doc, err := s.GetCurrentStrategy()
	if err != nil {
		s.log.Warn().Err(err).Msg("Using default universe policy")
		return DefaultUniversePolicy()
	}
	return ParseUniversePolicy(doc)
}

// Revisions lists saved revisions newest first
func (s *Service) Revisions(ctx context.Context, limit, offset int) ([]Revision, error) {
	if s.repo == nil {
		return nil, nil
	}
	return s.repo.List(ctx, limit, offset)
}

func (s *Service) ensureFile() error {
	if _, err := os.Stat(s.path); err == nil {
		return nil
	} else if !os.IsNotExist(err) {
		return fmt.Errorf("failed to stat strategy file: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(s.path), 0755); err != nil {
		return fmt.Errorf("failed to create strategy directory: %w", err)
	}
	if err := os.WriteFile(s.path, []byte(DefaultDocument), 0644); err != nil {
		return fmt.Errorf("failed to seed strategy file: %w", err)
	}
	s.log.Info().Str("path", s.path).Msg("Seeded default strategy document")
	return nil
}

func writeAtomic(path string, data []byte) error {
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}
