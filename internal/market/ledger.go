package market

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"maps"
	"math"
	"slices"
	"sync"

	"github.com/pixil98/go-guildrpg/internal/game"
	"github.com/pixil98/go-guildrpg/internal/metrics"
	"github.com/pixil98/go-guildrpg/internal/storage"
)

// Result reports the outcome of a buy or sell. Business failures set OK to
// false with a Reason; they are never returned as errors.
type Result struct {
	OK        bool
	Reason    string
	Price     float64
	Quantity  float64
	Instances []storage.Identifier
	// Critical is set when currency moved but stock did not.
	Critical bool
}

func failed(format string, args ...any) Result {
	return Result{Reason: fmt.Sprintf(format, args...)}
}

// RestockRule refills one item at a location toward Target at Rate units
// per game second.
type RestockRule struct {
	Target float64
	Rate   float64
}

// Ledger owns every tenant's market inventories.
type Ledger struct {
	inventories *storage.Collection[*Inventory]
	pricer      Pricer
	wallet      Wallet
	holdings    Holdings
	metrics     *metrics.Metrics

	mu      sync.RWMutex
	restock map[storage.TenantID]map[storage.Identifier]map[string]RestockRule
}

type LedgerOpt func(*Ledger)

func WithMetrics(m *metrics.Metrics) LedgerOpt {
	return func(l *Ledger) {
		l.metrics = m
	}
}

// WithTrading supplies the collaborators Buy and Sell need. Without them
// every trade fails with a reason.
func WithTrading(p Pricer, w Wallet, h Holdings) LedgerOpt {
	return func(l *Ledger) {
		l.pricer = p
		l.wallet = w
		l.holdings = h
	}
}

func NewLedger(db *sql.DB, opts ...LedgerOpt) *Ledger {
	l := &Ledger{
		inventories: storage.NewCollection(db, inventoryTable()),
		restock:     map[storage.TenantID]map[storage.Identifier]map[string]RestockRule{},
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// GetInventory returns a copy of the location's inventory.
func (l *Ledger) GetInventory(t storage.TenantID, location storage.Identifier) (Inventory, bool) {
	var out Inventory
	ok := l.inventories.View(t, location, func(inv *Inventory) {
		out = inv.clone()
	})
	return out, ok
}

// Stock returns a copy of the location's quantities.
func (l *Ledger) Stock(t storage.TenantID, location storage.Identifier) (map[string]float64, bool) {
	inv, ok := l.GetInventory(t, location)
	return inv.Quantities, ok
}

// Locations lists the tenant's locations that hold an inventory.
func (l *Ledger) Locations(t storage.TenantID) []storage.Identifier {
	return slices.Sorted(maps.Keys(l.inventories.All(t)))
}

// CreateInventory creates an empty inventory, or returns false when one exists.
func (l *Ledger) CreateInventory(_ context.Context, t storage.TenantID, location storage.Identifier) bool {
	if _, ok := l.inventories.Get(t, location); ok {
		return false
	}
	l.inventories.Put(t, location, &Inventory{
		Tenant:     t,
		LocationID: location,
		Quantities: map[string]float64{},
	})
	return true
}

// DeleteInventory removes a location's inventory and its restock rules.
func (l *Ledger) DeleteInventory(_ context.Context, t storage.TenantID, location storage.Identifier) bool {
	l.mu.Lock()
	delete(l.restock[t], location)
	l.mu.Unlock()

	if _, ok := l.inventories.Get(t, location); !ok {
		return false
	}
	l.inventories.MarkDeleted(t, location)
	return true
}

// AddItems merges the positive quantities into the location's inventory,
// creating it if needed. Returns false when no quantity is positive.
func (l *Ledger) AddItems(_ context.Context, t storage.TenantID, location storage.Identifier, items map[string]float64) bool {
	positive := map[string]float64{}
	for item, q := range items {
		if q > 0 && !math.IsInf(q, 0) {
			positive[item] = q
		}
	}
	if len(positive) == 0 {
		return false
	}

	merge := func(inv *Inventory) bool {
		if inv.Quantities == nil {
			inv.Quantities = map[string]float64{}
		}
		for item, q := range positive {
			inv.Quantities[item] += q
		}
		return true
	}

	if !l.inventories.Update(t, location, merge) {
		inv := &Inventory{Tenant: t, LocationID: location}
		merge(inv)
		l.inventories.Put(t, location, inv)
	}
	return true
}

// RemoveItems deducts every listed quantity or none of them. Entries that
// reach zero are dropped. Non-positive requests are ignored.
func (l *Ledger) RemoveItems(_ context.Context, t storage.TenantID, location storage.Identifier, items map[string]float64) bool {
	ok := false
	l.inventories.Update(t, location, func(inv *Inventory) bool {
		for item, q := range items {
			if q > 0 && inv.Quantities[item] < q {
				return false
			}
		}
		for item, q := range items {
			if q <= 0 {
				continue
			}
			left := inv.Quantities[item] - q
			if left <= 0 {
				delete(inv.Quantities, item)
			} else {
				inv.Quantities[item] = left
			}
		}
		ok = true
		return true
	})
	return ok
}

// Buy sells qty units of template from the location to buyer. Stock is
// checked before any currency moves. Instances created before a failure are
// still returned.
func (l *Ledger) Buy(ctx context.Context, t storage.TenantID, buyerID, location storage.Identifier, template string, qty int) Result {
	if qty <= 0 {
		return failed("quantity must be positive")
	}
	if l.pricer == nil || l.wallet == nil || l.holdings == nil {
		return failed("trading is not available")
	}

	units := float64(qty)
	stock, ok := l.Stock(t, location)
	if !ok {
		return failed("no market at this location")
	}
	if stock[template] < units {
		return failed("only %v %s in stock", stock[template], template)
	}

	unit, ok := l.pricer.BuyPrice(ctx, t, location, template)
	if !ok {
		return failed("%s is not sold here", template)
	}
	price := unit * units

	if err := l.wallet.Deduct(ctx, t, buyerID, price); err != nil {
		return failed("cannot pay %v: %v", price, err)
	}

	if !l.RemoveItems(ctx, t, location, map[string]float64{template: units}) {
		slog.ErrorContext(ctx, "critical inconsistency",
			"critical", true,
			"tenant", t,
			"buyerId", buyerID,
			"location", location,
			"template", template,
			"quantity", qty,
			"charged", price,
		)
		l.metrics.CriticalInconsistency()
		return Result{Reason: "stock changed during purchase", Price: price, Critical: true}
	}

	res := Result{OK: true, Price: price, Quantity: units}
	for range qty {
		id, err := l.holdings.CreateInstance(ctx, t, buyerID, template)
		if err != nil {
			slog.ErrorContext(ctx, "creating bought item", "tenant", t, "buyerId", buyerID, "template", template, "error", err)
			res.OK = false
			res.Reason = fmt.Sprintf("delivered %d of %d %s", len(res.Instances), qty, template)
			break
		}
		res.Instances = append(res.Instances, id)
	}
	return res
}

// Sell buys qty units of an item instance from seller into the location's
// stock. Removing the item is authoritative; a failed credit is logged only.
// A seller paid for an item that could not be taken is reported as critical.
func (l *Ledger) Sell(ctx context.Context, t storage.TenantID, sellerID, location, instanceID storage.Identifier, qty float64) Result {
	if qty <= 0 {
		return failed("quantity must be positive")
	}
	if l.pricer == nil || l.wallet == nil || l.holdings == nil {
		return failed("trading is not available")
	}

	h, ok := l.holdings.Instance(ctx, t, instanceID)
	if !ok || h.OwnerID != sellerID {
		return failed("you do not own that item")
	}
	if h.Quantity < qty {
		return failed("you only have %v %s", h.Quantity, h.Template)
	}

	unit, ok := l.pricer.SellPrice(ctx, t, location, h.Template)
	if !ok {
		return failed("%s cannot be sold here", h.Template)
	}
	price := unit * qty

	credited := true
	if err := l.wallet.Credit(ctx, t, sellerID, price); err != nil {
		credited = false
		slog.WarnContext(ctx, "crediting seller", "tenant", t, "sellerId", sellerID, "amount", price, "error", err)
	}

	if err := l.holdings.RemoveInstance(ctx, t, instanceID, qty); err != nil {
		if !credited {
			return failed("could not hand over %s: %v", h.Template, err)
		}
		slog.ErrorContext(ctx, "critical inconsistency",
			"critical", true,
			"tenant", t,
			"sellerId", sellerID,
			"location", location,
			"instanceId", instanceID,
			"quantity", qty,
			"credited", price,
			"error", err,
		)
		l.metrics.CriticalInconsistency()
		return Result{Reason: fmt.Sprintf("could not hand over %s", h.Template), Price: price, Critical: true}
	}

	l.AddItems(ctx, t, location, map[string]float64{h.Template: qty})
	return Result{OK: true, Price: price, Quantity: qty, Instances: []storage.Identifier{instanceID}}
}

// SetRestockRule configures how an item refills at a location. A zero rate
// removes the rule. Rules are runtime configuration and are not persisted.
func (l *Ledger) SetRestockRule(t storage.TenantID, location storage.Identifier, template string, rule RestockRule) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if rule.Rate <= 0 || rule.Target <= 0 {
		delete(l.restock[t][location], template)
		return
	}
	if l.restock[t] == nil {
		l.restock[t] = map[storage.Identifier]map[string]RestockRule{}
	}
	if l.restock[t][location] == nil {
		l.restock[t][location] = map[string]RestockRule{}
	}
	l.restock[t][location][template] = rule
}

func (l *Ledger) restockPlan(t storage.TenantID) map[storage.Identifier]map[string]RestockRule {
	l.mu.RLock()
	defer l.mu.RUnlock()

	plan := make(map[storage.Identifier]map[string]RestockRule, len(l.restock[t]))
	for loc, rules := range l.restock[t] {
		plan[loc] = maps.Clone(rules)
	}
	return plan
}

// ProcessTick refills stock toward each restock target by rate*dt.
func (l *Ledger) ProcessTick(ctx context.Context, t storage.TenantID, dt float64, _ *game.TickContext) error {
	if dt <= 0 {
		return nil
	}

	for loc, rules := range l.restockPlan(t) {
		stock, _ := l.Stock(t, loc)
		add := map[string]float64{}
		for item, rule := range rules {
			if missing := rule.Target - stock[item]; missing > 0 {
				add[item] = math.Min(missing, rule.Rate*dt)
			}
		}
		l.AddItems(ctx, t, loc, add)
	}
	return nil
}

func (l *Ledger) LoadState(ctx context.Context, t storage.TenantID) error {
	return l.inventories.LoadState(ctx, t)
}

func (l *Ledger) SaveState(ctx context.Context, t storage.TenantID) error {
	return l.inventories.SaveState(ctx, t)
}

// RebuildRuntimeCaches is a no-op; inventories are keyed by location already.
func (l *Ledger) RebuildRuntimeCaches(context.Context, storage.TenantID) error {
	return nil
}

func (l *Ledger) Pending(t storage.TenantID) (int, int) {
	return l.inventories.Pending(t)
}
