package market

import (
	"context"

	"github.com/pixil98/go-guildrpg/internal/storage"
)

// Pricer quotes unit prices. It returns false when the item cannot be
// traded at the location.
type Pricer interface {
	BuyPrice(ctx context.Context, t storage.TenantID, location storage.Identifier, template string) (float64, bool)
	SellPrice(ctx context.Context, t storage.TenantID, location storage.Identifier, template string) (float64, bool)
}

// Wallet moves a character's currency.
type Wallet interface {
	Deduct(ctx context.Context, t storage.TenantID, characterID storage.Identifier, amount float64) error
	Credit(ctx context.Context, t storage.TenantID, characterID storage.Identifier, amount float64) error
}

// Holding is one item instance owned by a character.
type Holding struct {
	InstanceID storage.Identifier
	OwnerID    storage.Identifier
	Template   string
	Quantity   float64
}

// Holdings creates, inspects and destroys item instances.
type Holdings interface {
	CreateInstance(ctx context.Context, t storage.TenantID, ownerID storage.Identifier, template string) (storage.Identifier, error)
	Instance(ctx context.Context, t storage.TenantID, instanceID storage.Identifier) (Holding, bool)
	RemoveInstance(ctx context.Context, t storage.TenantID, instanceID storage.Identifier, quantity float64) error
}
