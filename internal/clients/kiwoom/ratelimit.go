package kiwoom

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/tradeagent/internal/domain"
)

const (
	// DefaultMinInterval is the process-wide spacing between REST request starts
	DefaultMinInterval = 333 * time.Millisecond
	requestQueueSize   = 100
)

// requestJob is one queued REST call
type requestJob struct {
	ctx  context.Context
	run  func()
	done chan struct{}
}

// RequestScheduler serializes every outbound REST call through one FIFO worker
type RequestScheduler struct {
	interval     time.Duration
	log          zerolog.Logger
	requestQueue chan requestJob
	stopChan     chan struct{}
	workerDone   chan struct{}
	once         sync.Once
}

// NewRequestScheduler starts the worker; a non-positive interval uses DefaultMinInterval
func NewRequestScheduler(interval time.Duration, log zerolog.Logger) *RequestScheduler {
	if interval <= 0 {
		interval = DefaultMinInterval
	}
	s := &RequestScheduler{
		interval:     interval,
		log:          log.With().Str("component", "kiwoom-scheduler").Logger(),
		requestQueue: make(chan requestJob, requestQueueSize),
		stopChan:     make(chan struct{}),
		workerDone:   make(chan struct{}),
	}

	go s.worker()

	return s
}

// Do queues fn and blocks until the worker has run it
func (s *RequestScheduler) Do(ctx context.Context, fn func()) error {
	job := requestJob{ctx: ctx, run: fn, done: make(chan struct{})}

	select {
	case s.requestQueue <- job:
	case <-s.stopChan:
		return domain.ErrClientClosed
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case <-job.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-s.workerDone:
		// Queued after the final drain
		select {
		case <-job.done:
			return nil
		default:
			return domain.ErrClientClosed
		}
	}
}

// worker processes jobs sequentially, spacing request starts by the interval
func (s *RequestScheduler) worker() {
	defer close(s.workerDone)

	var lastRequestTime time.Time
	firstRequest := true

	processJob := func(job requestJob) {
		defer close(job.done)

		if job.ctx.Err() != nil {
			// Caller gave up while queued
			return
		}

		if !firstRequest {
			if wait := s.interval - time.Since(lastRequestTime); wait > 0 {
				time.Sleep(wait)
			}
		}
		firstRequest = false
		lastRequestTime = time.Now()

		job.run()
	}

	for {
		select {
		case <-s.stopChan:
			for {
				select {
				case job := <-s.requestQueue:
					processJob(job)
				default:
					return
				}
			}
		case job := <-s.requestQueue:
			processJob(job)
		}
	}
}

// Close drains queued jobs and stops the worker
func (s *RequestScheduler) Close() {
	s.once.Do(func() {
		close(s.stopChan)
		<-s.workerDone
		s.log.Debug().Msg("Request scheduler stopped")
	})
}
