package persistence

import (
	"time"

	"github.com/pixil98/go-guildrpg/internal/metrics"
)

type CoordinatorOpt func(*Coordinator)

func WithSaveInterval(d time.Duration) CoordinatorOpt {
	return func(c *Coordinator) {
		c.saveInterval = d
	}
}

// WithShutdownTimeout bounds the final save made when the worker stops.
func WithShutdownTimeout(d time.Duration) CoordinatorOpt {
	return func(c *Coordinator) {
		c.shutdownTimeout = d
	}
}

func WithMetrics(m *metrics.Metrics) CoordinatorOpt {
	return func(c *Coordinator) {
		c.metrics = m
	}
}

// WithFinalSaveAfter delays the shutdown save until done is closed, so writers
// such as the tick scheduler finish first. The wait is bounded by the
// shutdown timeout.
func WithFinalSaveAfter(done <-chan struct{}) CoordinatorOpt {
	return func(c *Coordinator) {
		c.waitFor = append(c.waitFor, done)
	}
}
