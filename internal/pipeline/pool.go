package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
	"golang.org/x/sync/semaphore"
)

// ErrSaturated is returned when a request gave up waiting for a run slot.
var ErrSaturated = errors.New("all synthesis slots busy")

// Runner executes a single request.
type Runner interface {
	Run(ctx context.Context, req Request) (Result, error)
}

// Pool bounds how many runs execute at once and applies the per-run timeout.
// Submit blocks the caller until its run finishes.
type Pool struct {
	runner   Runner
	sem      *semaphore.Weighted
	size     int64
	timeout  time.Duration
	inflight atomic.Int64
	log      *slog.Logger
}

func NewPool(runner Runner, size int, timeout time.Duration, log *slog.Logger) *Pool {
	if size <= 0 {
		size = 1
	}
	p := &Pool{
		runner:  runner,
		sem:     semaphore.NewWeighted(int64(size)),
		size:    int64(size),
		timeout: timeout,
		log:     log.With(slog.String("component", "run-pool")),
	}
	p.registerMetrics()
	return p
}

// Submit waits for a free slot and runs req in it. Giving up on the wait,
// because ctx ended first, yields ErrSaturated.
func (p *Pool) Submit(ctx context.Context, req Request) (Result, error) {
	if err := p.sem.Acquire(ctx, 1); err != nil {
		return Result{}, fmt.Errorf("%w: %w", ErrSaturated, err)
	}
	defer p.sem.Release(1)

	p.inflight.Add(1)
	defer p.inflight.Add(-1)

	if p.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.timeout)
		defer cancel()
	}
	return p.runner.Run(ctx, req)
}

// InFlight reports how many runs currently hold a slot.
func (p *Pool) InFlight() int64 {
	return p.inflight.Load()
}

// Size is the maximum number of concurrent runs.
func (p *Pool) Size() int64 {
	return p.size
}

func (p *Pool) registerMetrics() {
	meter := otel.Meter(instrumentationName)
	inflight, err := meter.Int64ObservableGauge("voiceclone.runs.inflight", metric.WithDescription("Runs currently executing"))
	if err != nil {
		p.log.Warn("failed to register pool gauge", slogError(err))
		return
	}
	capacity, err := meter.Int64ObservableGauge("voiceclone.runs.capacity", metric.WithDescription("Maximum concurrent runs"))
	if err != nil {
		p.log.Warn("failed to register pool gauge", slogError(err))
		return
	}
	_, err = meter.RegisterCallback(func(ctx context.Context, obs metric.Observer) error {
		obs.ObserveInt64(inflight, p.InFlight())
		obs.ObserveInt64(capacity, p.size)
		return nil
	}, inflight, capacity)
	if err != nil {
		p.log.Warn("failed to register pool metrics callback", slogError(err))
	}
}
