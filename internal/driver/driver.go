// Package driver runs the tick loop that advances every active tenant.
package driver

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/pixil98/go-errors"

	"github.com/pixil98/go-guildrpg/internal/game"
	"github.com/pixil98/go-guildrpg/internal/metrics"
	"github.com/pixil98/go-guildrpg/internal/storage"
)

const (
	DefaultTickLength = time.Second * 2
	DefaultTimeScale  = 1.0
)

// Manager is a tick consumer. dt is the game time elapsed since the last tick.
type Manager interface {
	ProcessTick(ctx context.Context, t storage.TenantID, dt float64, tc *game.TickContext) error
}

// Stage is a named manager; stages run in the order given.
type Stage struct {
	Name    string
	Manager Manager
}

// Clock advances a tenant's game time.
type Clock interface {
	Advance(t storage.TenantID, dt float64) float64
}

// TenantSource lists the tenants to tick.
type TenantSource interface {
	ActiveTenants() []storage.TenantID
}

// TenantsFunc adapts a function to a TenantSource.
type TenantsFunc func() []storage.TenantID

func (f TenantsFunc) ActiveTenants() []storage.TenantID {
	return f()
}

type Scheduler struct {
	tickLength time.Duration
	timeScale  float64
	metrics    *metrics.Metrics

	clock   Clock
	tenants TenantSource
	stages  []Stage
	tc      *game.TickContext

	done chan struct{}
}

func NewScheduler(clock Clock, tenants TenantSource, tc *game.TickContext, stages []Stage, opts ...SchedulerOpt) *Scheduler {
	s := &Scheduler{
		tickLength: DefaultTickLength,
		timeScale:  DefaultTimeScale,
		clock:      clock,
		tenants:    tenants,
		stages:     stages,
		tc:         tc,
		done:       make(chan struct{}),
	}

	for _, opt := range opts {
		opt(s)
	}

	return s
}

// Start ticks until ctx is cancelled. Tick failures are logged and the loop
// keeps going. A tick in progress at cancellation runs to completion.
func (s *Scheduler) Start(ctx context.Context) error {
	defer close(s.done)

	ticker := time.NewTicker(s.tickLength)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := s.Tick(ctx); err != nil {
				slog.WarnContext(ctx, "tick finished with errors", "error", err)
			}
		}
	}
}

// Done is closed once Start has returned, so no tick can still be mutating
// state.
func (s *Scheduler) Done() <-chan struct{} {
	return s.done
}

// Tick advances every active tenant once. Within a tenant the clock moves
// first, then each stage runs in order; a failing stage does not stop the
// stages after it. The returned error aggregates every stage failure.
func (s *Scheduler) Tick(ctx context.Context) error {
	dt := s.tickLength.Seconds() * s.timeScale
	el := errors.NewErrorList()

	for _, t := range s.tenants.ActiveTenants() {
		if ctx.Err() != nil {
			break
		}
		s.clock.Advance(t, dt)

		for _, st := range s.stages {
			err := s.runStage(ctx, st, t, dt)
			if err != nil {
				slog.ErrorContext(ctx, "tick stage failed", "tenant", t, "stage", st.Name, "error", err)
				el.Add(fmt.Errorf("tenant %s stage %s: %w", t, st.Name, err))
			}
		}
	}

	return el.Err()
}

func (s *Scheduler) runStage(ctx context.Context, st Stage, t storage.TenantID, dt float64) (err error) {
	start := time.Now()
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("panic: %v", p)
		}
		s.metrics.ObserveStage(st.Name, time.Since(start), err)
	}()

	return st.Manager.ProcessTick(ctx, t, dt, s.tc)
}
