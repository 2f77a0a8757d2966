package storage

import (
	"fmt"
	"regexp"

	"github.com/google/uuid"
)

var identifierPattern = regexp.MustCompile(`^[a-zA-Z0-9_:.-]+$`)

// TenantID identifies an isolated game instance (one guild).
type TenantID string

func (t TenantID) String() string {
	return string(t)
}

// Validate checks that the tenant id is usable as a row key.
func (t TenantID) Validate() error {
	if t == "" {
		return fmt.Errorf("tenant id must be set")
	}
	if !identifierPattern.MatchString(string(t)) {
		return fmt.Errorf("tenant id %q contains invalid characters", string(t))
	}
	return nil
}

// Identifier is the id of an entity within a tenant.
type Identifier string

func (id Identifier) String() string {
	return string(id)
}

// Validate checks that the identifier is usable as a row key.
func (id Identifier) Validate() error {
	if id == "" {
		return fmt.Errorf("id must be set")
	}
	if !identifierPattern.MatchString(string(id)) {
		return fmt.Errorf("id %q contains invalid characters", string(id))
	}
	return nil
}

// NewIdentifier returns a random identifier for a newly created entity.
func NewIdentifier() Identifier {
	return Identifier(uuid.NewString())
}
