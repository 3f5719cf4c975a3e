package kiwoom

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aristath/tradeagent/internal/domain"
)

func TestRequestScheduler_SpacesConcurrentRequests(t *testing.T) {
	interval := 40 * time.Millisecond
	s := NewRequestScheduler(interval, zerolog.Nop())
	defer s.Close()

	var (
		mu     sync.Mutex
		starts []time.Time
		wg     sync.WaitGroup
	)
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := s.Do(context.Background(), func() {
				mu.Lock()
				starts = append(starts, time.Now())
				mu.Unlock()
			})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	require.Len(t, starts, 4)
	for i := 1; i < len(starts); i++ {
		gap := starts[i].Sub(starts[i-1])
		assert.GreaterOrEqual(t, gap, interval-2*time.Millisecond, "request %d started too early", i)
	}
}

func TestRequestScheduler_FirstRequestIsImmediate(t *testing.T) {
	s := NewRequestScheduler(time.Second, zerolog.Nop())
	defer s.Close()

	start := time.Now()
	require.NoError(t, s.Do(context.Background(), func() {}))
	assert.Less(t, time.Since(start), 500*time.Millisecond)
}

func TestRequestScheduler_ClosedRejects(t *testing.T) {
	s := NewRequestScheduler(time.Millisecond, zerolog.Nop())
	s.Close()

	ran := false
	err := s.Do(context.Background(), func() { ran = true })
	assert.ErrorIs(t, err, domain.ErrClientClosed)
	assert.False(t, ran)
}

func TestRequestScheduler_CancelledWhileQueued(t *testing.T) {
	s := NewRequestScheduler(200*time.Millisecond, zerolog.Nop())
	defer s.Close()

	require.NoError(t, s.Do(context.Background(), func() {}))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	ran := make(chan struct{}, 1)
	err := s.Do(ctx, func() { ran <- struct{}{} })
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	// The worker skips the abandoned job once it reaches it
	time.Sleep(250 * time.Millisecond)
	assert.Empty(t, ran)
}
