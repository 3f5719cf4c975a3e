package kiwoom

import (
	"context"
	"sync"
	"time"

	"github.com/aristath/tradeagent/internal/domain"
)

// DefaultRequestTimeout bounds request/response exchanges over the socket
const DefaultRequestTimeout = 10 * time.Second

type pendingResult struct {
	payload map[string]interface{}
	err     error
}

// PendingRequest is a waiter registered for one correlated response
type PendingRequest struct {
	key      string
	registry *PendingRegistry
	result   chan pendingResult
	timer    *time.Timer
}

// Wait blocks until the response arrives, the timeout fires or ctx is cancelled
func (p *PendingRequest) Wait(ctx context.Context) (map[string]interface{}, error) {
	select {
	case res := <-p.result:
		return res.payload, res.err
	case <-ctx.Done():
		p.registry.remove(p)
		return nil, ctx.Err()
	}
}

// PendingRegistry correlates responses to waiters by transaction name, FIFO per key
type PendingRegistry struct {
	mu      sync.Mutex
	waiters map[string][]*PendingRequest
}

// NewPendingRegistry creates an empty registry
func NewPendingRegistry() *PendingRegistry {
	return &PendingRegistry{waiters: make(map[string][]*PendingRequest)}
}

// Register queues a waiter for key that expires after timeout
func (r *PendingRegistry) Register(key string, timeout time.Duration) *PendingRequest {
	if timeout <= 0 {
		timeout = DefaultRequestTimeout
	}
	p := &PendingRequest{key: key, registry: r, result: make(chan pendingResult, 1)}

	r.mu.Lock()
	r.waiters[key] = append(r.waiters[key], p)
	p.timer = time.AfterFunc(timeout, func() { r.Expire(p) })
	r.mu.Unlock()

	return p
}

// Resolve hands payload to the oldest waiter for key; false when nobody waits
func (r *PendingRegistry) Resolve(key string, payload map[string]interface{}) bool {
	r.mu.Lock()
	queue := r.waiters[key]
	if len(queue) == 0 {
		r.mu.Unlock()
		return false
	}
	p := queue[0]
	r.setQueue(key, queue[1:])
	r.mu.Unlock()

	p.timer.Stop()
	p.result <- pendingResult{payload: payload}
	return true
}

// Expire rejects a waiter with ErrTimeout if it is still pending
func (r *PendingRegistry) Expire(p *PendingRequest) {
	if r.remove(p) {
		p.result <- pendingResult{err: domain.ErrTimeout}
	}
}

// Len reports the number of waiters for key
func (r *PendingRegistry) Len(key string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.waiters[key])
}

// remove drops p from its queue and reports whether it was still there
func (r *PendingRegistry) remove(p *PendingRequest) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	queue := r.waiters[p.key]
	for i, w := range queue {
		if w == p {
			next := append(queue[:i:i], queue[i+1:]...)
			r.setQueue(p.key, next)
			if p.timer != nil {
				p.timer.Stop()
			}
			return true
		}
	}
	return false
}

func (r *PendingRegistry) setQueue(key string, queue []*PendingRequest) {
	if len(queue) == 0 {
		delete(r.waiters, key)
		return
	}
	r.waiters[key] = queue
}
