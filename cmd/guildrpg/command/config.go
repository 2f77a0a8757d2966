package command

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/pixil98/go-errors"

	"github.com/pixil98/go-guildrpg/internal/storage"
)

// EnvPrefix prefixes every environment override, e.g. GUILDRPG_TICK_INTERVAL.
const EnvPrefix = "GUILDRPG_"

type Config struct {
	TickInterval string   `json:"tick_interval" env:"TICK_INTERVAL"`
	TimeScale    float64  `json:"time_scale" env:"TIME_SCALE"`
	SaveInterval string   `json:"save_interval" env:"SAVE_INTERVAL"`
	Guilds       []string `json:"guilds" env:"GUILDS" envSeparator:","`

	Storage  StorageConfig `json:"storage" envPrefix:"STORAGE_"`
	Statuses StatusConfig  `json:"statuses" envPrefix:"STATUSES_"`
	Reports  ReportConfig  `json:"reports" envPrefix:"REPORTS_"`
	Nats     NatsConfig    `json:"nats" envPrefix:"NATS_"`
	Metrics  MetricsConfig `json:"metrics" envPrefix:"METRICS_"`
	Log      LogConfig     `json:"log" envPrefix:"LOG_"`
}

// ApplyEnv overlays GUILDRPG_* environment variables onto the loaded config.
func (c *Config) ApplyEnv() error {
	if err := env.ParseWithOptions(c, env.Options{Prefix: EnvPrefix}); err != nil {
		return fmt.Errorf("parsing environment: %w", err)
	}
	return nil
}

func (c *Config) Validate() error {
	el := errors.NewErrorList()

	d, err := time.ParseDuration(c.TickInterval)
	if err != nil {
		el.Add(fmt.Errorf("parsing tick_interval: %w", err))
	} else if d < 100*time.Millisecond {
		el.Add(fmt.Errorf("tick_interval must be at least 100ms"))
	}

	if c.TimeScale < 0 {
		el.Add(fmt.Errorf("time_scale must not be negative"))
	}

	if c.SaveInterval != "" {
		d, err := time.ParseDuration(c.SaveInterval)
		if err != nil {
			el.Add(fmt.Errorf("parsing save_interval: %w", err))
		} else if d < time.Second {
			el.Add(fmt.Errorf("save_interval must be at least 1 second"))
		}
	}

	for i, g := range c.Guilds {
		if err := storage.TenantID(g).Validate(); err != nil {
			el.Add(fmt.Errorf("guild %d: %w", i, err))
		}
	}

	el.Add(c.Storage.validate())
	el.Add(c.Statuses.validate())
	el.Add(c.Reports.validate())
	el.Add(c.Nats.validate())
	el.Add(c.Metrics.validate())
	el.Add(c.Log.validate())

	return el.Err()
}

func (c *Config) tickInterval() time.Duration {
	d, _ := time.ParseDuration(c.TickInterval)
	return d
}

func (c *Config) timeScale() float64 {
	if c.TimeScale == 0 {
		return 1
	}
	return c.TimeScale
}

func (c *Config) saveInterval() time.Duration {
	d, err := time.ParseDuration(c.SaveInterval)
	if err != nil || c.SaveInterval == "" {
		return 0
	}
	return d
}

func (c *Config) guilds() []storage.TenantID {
	out := make([]storage.TenantID, 0, len(c.Guilds))
	for _, g := range c.Guilds {
		out = append(out, storage.TenantID(g))
	}
	return out
}
