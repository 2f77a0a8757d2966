package command

import (
	"fmt"
	"net"

	"github.com/pixil98/go-errors"
)

type MetricsConfig struct {
	// Addr serves /metrics when set, e.g. ":9090".
	Addr string `json:"addr" env:"ADDR"`
}

func (c *MetricsConfig) validate() error {
	el := errors.NewErrorList()

	if c.Addr != "" {
		if _, _, err := net.SplitHostPort(c.Addr); err != nil {
			el.Add(fmt.Errorf("metrics.addr: %w", err))
		}
	}

	return el.Err()
}
