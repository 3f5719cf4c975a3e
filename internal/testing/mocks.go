package testing

import (
	"context"
	"fmt"
	"sync"

	"github.com/aristath/tradeagent/internal/clients/kiwoom"
	"github.com/aristath/tradeagent/internal/domain"
)

// MockBroker is an in-memory brokerage for tests
type MockBroker struct {
	mu         sync.Mutex
	quotes     map[string]domain.Quote
	stocks     []kiwoom.ListedStock
	orders     []domain.OrderRequest
	registered []string
	err        error
	orderErr   error
}

// NewMockBroker creates a new mock broker
func NewMockBroker() *MockBroker {
	return &MockBroker{quotes: make(map[string]domain.Quote)}
}

// SetQuotes sets the quotes returned by GetQuote
func (m *MockBroker) SetQuotes(quotes []domain.Quote) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, q := range quotes {
		m.quotes[q.Symbol] = q
	}
}

// SetStockList sets the stocks returned by GetStockList
func (m *MockBroker) SetStockList(stocks []kiwoom.ListedStock) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stocks = stocks
}

// SetError makes every read fail
func (m *MockBroker) SetError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.err = err
}

// SetOrderError makes PlaceOrder fail
func (m *MockBroker) SetOrderError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.orderErr = err
}

// GetQuote returns the configured quote. Unknown symbols fail.
func (m *MockBroker) GetQuote(_ context.Context, symbol string) (domain.Quote, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return domain.Quote{}, m.err
	}
	q, ok := m.quotes[symbol]
	if !ok {
		return domain.Quote{}, fmt.Errorf("no quote for %s", symbol)
	}
	return q, nil
}

// GetStockList returns the configured stocks in the requested market
func (m *MockBroker) GetStockList(_ context.Context, marketType string) ([]kiwoom.ListedStock, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return nil, m.err
	}
	var out []kiwoom.ListedStock
	for _, s := range m.stocks {
		if s.MarketCode == marketType {
			out = append(out, s)
		}
	}
	return out, nil
}

// RegisterRealtimeQuotes records the subscribed symbols
func (m *MockBroker) RegisterRealtimeQuotes(_ context.Context, symbols, _ []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.registered = append(m.registered, symbols...)
	return nil
}

// PlaceOrder records the order and returns a sequential order ID
func (m *MockBroker) PlaceOrder(_ context.Context, req domain.OrderRequest) (*domain.OrderResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.orderErr != nil {
		return nil, m.orderErr
	}
	m.orders = append(m.orders, req)
	return &domain.OrderResult{OrderID: fmt.Sprintf("ORD-%d", len(m.orders)), Status: "ACCEPTED"}, nil
}

// Orders returns the orders placed so far
func (m *MockBroker) Orders() []domain.OrderRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]domain.OrderRequest(nil), m.orders...)
}

// Registered returns every symbol passed to RegisterRealtimeQuotes
func (m *MockBroker) Registered() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.registered...)
}

// MockTextGenerator returns a fixed answer and records prompts
type MockTextGenerator struct {
	mu      sync.Mutex
	answer  string
	prompts []string
}

// NewMockTextGenerator creates a generator that always answers with answer
func NewMockTextGenerator(answer string) *MockTextGenerator {
	return &MockTextGenerator{answer: answer}
}

// GenerateText records the prompt and returns the fixed answer
func (m *MockTextGenerator) GenerateText(_ context.Context, prompt string) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.prompts = append(m.prompts, prompt)
	return m.answer
}

// Prompts returns the prompts received so far
func (m *MockTextGenerator) Prompts() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.prompts...)
}
