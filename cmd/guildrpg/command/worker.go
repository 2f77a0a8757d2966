package command

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"sync"

	"github.com/pixil98/go-service"

	"github.com/pixil98/go-guildrpg/internal/clock"
	"github.com/pixil98/go-guildrpg/internal/driver"
	"github.com/pixil98/go-guildrpg/internal/game"
	"github.com/pixil98/go-guildrpg/internal/market"
	"github.com/pixil98/go-guildrpg/internal/messaging"
	"github.com/pixil98/go-guildrpg/internal/metrics"
	"github.com/pixil98/go-guildrpg/internal/party"
	"github.com/pixil98/go-guildrpg/internal/persistence"
	"github.com/pixil98/go-guildrpg/internal/status"
	"github.com/pixil98/go-guildrpg/internal/storage"
	"github.com/pixil98/go-guildrpg/internal/timers"
)

// Collaborators are the pieces the command layer supplies. Any of them may
// be left unset; the matching feature then reports itself unavailable.
type Collaborators struct {
	Pricer   market.Pricer
	Wallet   market.Wallet
	Holdings market.Holdings

	Roster    party.Roster
	Processor party.ActionProcessor

	// Resolvers add to or replace the built-in Party and Location resolvers.
	Resolvers     map[game.TargetType]status.Resolver
	PeriodicHooks map[string]status.PeriodicHook
	TimerHandlers map[string]timers.Handler
}

// Engine is every manager of a running host.
type Engine struct {
	Clock       *clock.Manager
	Timers      *timers.Registry
	Statuses    *status.Engine
	Market      *market.Ledger
	Parties     *party.Coordinator
	Persistence *persistence.Coordinator
	Scheduler   *driver.Scheduler
	TickContext *game.TickContext

	db *sql.DB
}

// Close closes the state database.
func (e *Engine) Close() error {
	return e.db.Close()
}

// Host builds the workers of one process and keeps the engine they share so
// the command layer can call into it.
type Host struct {
	collab Collaborators

	mu     sync.Mutex
	engine *Engine
}

func NewHost(c Collaborators) *Host {
	return &Host{collab: c}
}

// Engine returns the engine built by BuildWorkers, or nil before that.
func (h *Host) Engine() *Engine {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.engine
}

// BuildWorkers runs a host without command layer collaborators.
func BuildWorkers(config interface{}) (service.WorkerList, error) {
	return NewHost(Collaborators{}).BuildWorkers(config)
}

func (h *Host) BuildWorkers(config interface{}) (service.WorkerList, error) {
	cfg, ok := config.(*Config)
	if !ok {
		return nil, fmt.Errorf("unable to cast config")
	}
	if err := cfg.ApplyEnv(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	logger, err := cfg.Log.buildLogger(os.Stderr)
	if err != nil {
		return nil, fmt.Errorf("building logger: %w", err)
	}
	slog.SetDefault(logger)

	m := metrics.New()

	ns, err := cfg.Nats.buildNatsServer()
	if err != nil {
		return nil, fmt.Errorf("creating nats server: %w", err)
	}

	engine, err := newEngine(cfg, h.collab, messaging.NewReporter(ns), m)
	if err != nil {
		return nil, err
	}

	h.mu.Lock()
	h.engine = engine
	h.mu.Unlock()

	workers := service.WorkerList{
		"nats":   ns,
		"driver": engine.Scheduler,
		"state":  &stateWorker{engine: engine, guilds: cfg.guilds()},
	}
	if cfg.Metrics.Addr != "" {
		workers["metrics"] = metrics.NewServer(cfg.Metrics.Addr, m)
	}

	return workers, nil
}

func newEngine(cfg *Config, collab Collaborators, reporter party.Reporter, m *metrics.Metrics) (*Engine, error) {
	catalog, err := cfg.Statuses.buildCatalog()
	if err != nil {
		return nil, fmt.Errorf("loading status catalog: %w", err)
	}
	reportOpt, err := cfg.Reports.coordinatorOpt()
	if err != nil {
		return nil, err
	}

	db, err := cfg.Storage.openDB(context.Background())
	if err != nil {
		return nil, err
	}

	e := &Engine{db: db}
	e.Clock = clock.NewManager(db)
	e.Timers = timers.NewRegistry(db, e.Clock, timers.WithMetrics(m))
	e.Statuses = status.NewEngine(db, e.Clock, status.WithCatalog(catalog), status.WithMetrics(m))
	e.Market = market.NewLedger(db,
		market.WithMetrics(m),
		market.WithTrading(collab.Pricer, collab.Wallet, collab.Holdings),
	)
	e.Parties = party.NewCoordinator(db,
		party.WithMetrics(m),
		party.WithTurns(collab.Roster, collab.Processor),
		party.WithReporter(reporter),
		reportOpt,
	)

	e.TickContext = game.NewTickContext(game.Siblings{
		Clock:    e.Clock,
		Timers:   e.Timers,
		Statuses: e.Statuses,
		Market:   e.Market,
		Parties:  e.Parties,
	})

	if err := e.registerHandlers(collab); err != nil {
		_ = db.Close()
		return nil, err
	}

	tenants := driver.TenantsFunc(func() []storage.TenantID {
		return e.Persistence.ActiveTenants()
	})
	e.Scheduler = driver.NewScheduler(e.Clock, tenants, e.TickContext, []driver.Stage{
		{Name: "timers", Manager: e.Timers},
		{Name: "statuses", Manager: e.Statuses},
		{Name: "market", Manager: e.Market},
		{Name: "parties", Manager: e.Parties},
	},
		driver.WithTickLength(cfg.tickInterval()),
		driver.WithTimeScale(cfg.timeScale()),
		driver.WithMetrics(m),
	)

	// Persistence, in dependency order. The shutdown save waits for the last
	// tick to finish.
	persistOpts := []persistence.CoordinatorOpt{
		persistence.WithMetrics(m),
		persistence.WithFinalSaveAfter(e.Scheduler.Done()),
	}
	if d := cfg.saveInterval(); d > 0 {
		persistOpts = append(persistOpts, persistence.WithSaveInterval(d))
	}
	e.Persistence = persistence.NewCoordinator(persistOpts...)
	e.Persistence.Register("clock", e.Clock)
	e.Persistence.Register("timers", e.Timers)
	e.Persistence.Register("statuses", e.Statuses)
	e.Persistence.Register("market", e.Market)
	e.Persistence.Register("parties", e.Parties)

	return e, nil
}

func (e *Engine) registerHandlers(collab Collaborators) error {
	e.Timers.RegisterHandler(timers.KindApplyStatus, timers.ApplyStatus)
	for kind, h := range collab.TimerHandlers {
		e.Timers.RegisterHandler(kind, h)
	}

	resolvers := map[game.TargetType]status.Resolver{
		game.TargetParty: func(_ context.Context, t storage.TenantID, id storage.Identifier) (any, bool) {
			return e.Parties.GetParty(t, id)
		},
		game.TargetLocation: func(_ context.Context, _ storage.TenantID, id storage.Identifier) (any, bool) {
			return id, true
		},
	}
	for tt, r := range collab.Resolvers {
		resolvers[tt] = r
	}
	for tt, r := range resolvers {
		if err := e.Statuses.RegisterResolver(tt, r); err != nil {
			return err
		}
	}

	for kind, h := range collab.PeriodicHooks {
		e.Statuses.RegisterPeriodicHook(kind, h)
	}
	return nil
}

// stateWorker brings the configured guilds online, saves them periodically
// and flushes them once more before closing the database.
type stateWorker struct {
	engine *Engine
	guilds []storage.TenantID
}

func (w *stateWorker) Start(ctx context.Context) error {
	defer func() {
		if err := w.engine.Close(); err != nil {
			slog.Error("closing database", "error", err)
		}
	}()

	for _, g := range w.guilds {
		if err := w.engine.Persistence.StartTenant(ctx, g); err != nil {
			return fmt.Errorf("starting guild %s: %w", g, err)
		}
	}

	return w.engine.Persistence.Start(ctx)
}
