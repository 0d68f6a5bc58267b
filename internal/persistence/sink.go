package persistence

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/sawpanic/tradegate/internal/domain"
)

// Write budget for one queued decision; the worker owns its own clock,
// the request path is long gone by the time this runs.
const sinkWriteTimeout = 5 * time.Second

// AsyncSink buffers decisions and writes them to the audit repository
// off the request path. A full queue drops the decision and counts it;
// the in-memory audit ring still has the record, so a drop loses
// durability, never correctness.
type AsyncSink struct {
	repo    AuditRepo
	queue   chan domain.Decision
	stop    chan struct{}
	done    chan struct{}
	started bool
	mu      sync.Mutex

	written atomic.Int64
	dropped atomic.Int64
	failed  atomic.Int64
}

// NewAsyncSink creates a sink with the given queue depth.
func NewAsyncSink(repo AuditRepo, buffer int) *AsyncSink {
	if buffer <= 0 {
		buffer = 256
	}
	return &AsyncSink{
		repo:  repo,
		queue: make(chan domain.Decision, buffer),
		stop:  make(chan struct{}),
		done:  make(chan struct{}),
	}
}

// Start launches the writer goroutine. Idempotent.
func (s *AsyncSink) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return
	}
	s.started = true
	go s.run()
}

// Close stops the writer after draining queued decisions.
func (s *AsyncSink) Close() {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return
	}
	s.started = false
	s.mu.Unlock()

	close(s.stop)
	<-s.done
}

// Consume enqueues a decision without ever blocking the caller.
func (s *AsyncSink) Consume(decision domain.Decision) {
	select {
	case s.queue <- decision:
	default:
		s.dropped.Add(1)
		log.Warn().
			Str("symbol", decision.Audit.Symbol).
			Int64("dropped_total", s.dropped.Load()).
			Msg("Audit sink queue full, dropping decision")
	}
}

// Written returns how many rows reached the repository.
func (s *AsyncSink) Written() int64 { return s.written.Load() }

// Dropped returns how many decisions were shed at the queue.
func (s *AsyncSink) Dropped() int64 { return s.dropped.Load() }

// Failed returns how many writes errored.
func (s *AsyncSink) Failed() int64 { return s.failed.Load() }

func (s *AsyncSink) run() {
	defer close(s.done)
	for {
		select {
		case decision := <-s.queue:
			s.write(decision)
		case <-s.stop:
			for {
				select {
				case decision := <-s.queue:
					s.write(decision)
				default:
					return
				}
			}
		}
	}
}

func (s *AsyncSink) write(decision domain.Decision) {
	row, err := RowFromDecision(decision)
	if err != nil {
		s.failed.Add(1)
		log.Error().Err(err).Msg("Audit sink could not flatten decision")
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), sinkWriteTimeout)
	defer cancel()

	if err := s.repo.Insert(ctx, row); err != nil {
		s.failed.Add(1)
		log.Error().
			Err(err).
			Str("symbol", row.Symbol).
			Str("verdict", row.Verdict).
			Msg("Audit sink insert failed")
		return
	}
	s.written.Add(1)
}

// Retention periodically purges audit rows older than the configured
// window. Same janitor shape as the store sweepers.
type Retention struct {
	repo     AuditRepo
	ttl      time.Duration
	interval time.Duration

	mu      sync.Mutex
	stop    chan struct{}
	running bool
}

// NewRetention creates a purger keeping ttl worth of rows, checking at
// the given interval.
func NewRetention(repo AuditRepo, ttl, interval time.Duration) *Retention {
	return &Retention{repo: repo, ttl: ttl, interval: interval}
}

// Start launches the background purger. Idempotent.
func (r *Retention) Start() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.running {
		return
	}
	r.running = true
	r.stop = make(chan struct{})

	go func(stop chan struct{}) {
		ticker := time.NewTicker(r.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				r.purge()
			case <-stop:
				return
			}
		}
	}(r.stop)
}

// Stop halts the background purger. Idempotent.
func (r *Retention) Stop() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.running {
		return
	}
	r.running = false
	close(r.stop)
}

func (r *Retention) purge() {
	ctx, cancel := context.WithTimeout(context.Background(), sinkWriteTimeout)
	defer cancel()

	purged, err := r.repo.PurgeBefore(ctx, time.Now().Add(-r.ttl))
	if err != nil {
		log.Error().Err(err).Msg("Audit retention purge failed")
		return
	}
	if purged > 0 {
		log.Info().Int64("purged", purged).Msg("Audit retention purged expired rows")
	}
}
