package command

import (
	"fmt"
	"os"

	"github.com/pixil98/go-errors"

	"github.com/pixil98/go-guildrpg/internal/status"
)

type StatusConfig struct {
	// CatalogPath is an optional YAML file of status templates.
	CatalogPath string `json:"catalog_path" env:"CATALOG_PATH"`
}

func (c *StatusConfig) validate() error {
	el := errors.NewErrorList()

	if c.CatalogPath != "" {
		if _, err := os.Stat(c.CatalogPath); err != nil {
			el.Add(fmt.Errorf("statuses.catalog_path: %w", err))
		}
	}

	return el.Err()
}

func (c *StatusConfig) buildCatalog() (*status.Catalog, error) {
	if c.CatalogPath == "" {
		return status.NewCatalog(), nil
	}
	return status.LoadCatalogFile(c.CatalogPath)
}
