package driver

import (
	"time"

	"github.com/pixil98/go-guildrpg/internal/metrics"
)

type SchedulerOpt func(*Scheduler)

func WithTickLength(tickLength time.Duration) SchedulerOpt {
	return func(s *Scheduler) {
		s.tickLength = tickLength
	}
}

// WithTimeScale sets how many game seconds pass per real second.
func WithTimeScale(scale float64) SchedulerOpt {
	return func(s *Scheduler) {
		s.timeScale = scale
	}
}

func WithMetrics(m *metrics.Metrics) SchedulerOpt {
	return func(s *Scheduler) {
		s.metrics = m
	}
}
