package command

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/pixil98/go-errors"

	"github.com/pixil98/go-guildrpg/internal/storage/sqlite"
)

type StorageConfig struct {
	Path string `json:"path" env:"PATH"`
}

func (c *StorageConfig) validate() error {
	el := errors.NewErrorList()

	if c.Path == "" {
		el.Add(fmt.Errorf("storage.path is required"))
	}

	return el.Err()
}

func (c *StorageConfig) openDB(ctx context.Context) (*sql.DB, error) {
	db, err := sqlite.Open(ctx, c.Path)
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", c.Path, err)
	}
	return db, nil
}
