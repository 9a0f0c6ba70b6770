// README: Wires config into stores, notifiers, engine services and the scheduler.
package cli

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"

	"fleetdispatch/internal/config"
	"fleetdispatch/internal/infra"
	"fleetdispatch/internal/logger"
	"fleetdispatch/internal/maps"
	"fleetdispatch/internal/modules/booking"
	"fleetdispatch/internal/modules/dispatch"
	"fleetdispatch/internal/modules/geo"
	"fleetdispatch/internal/modules/notify"
	"fleetdispatch/internal/modules/schedule"
	"fleetdispatch/internal/modules/tenant"
	"fleetdispatch/internal/storage/memory"
	"fleetdispatch/internal/storage/postgres"
)

const leaseKey = "dispatch:scheduler:lease"

// store is what both persistence backends provide.
type store interface {
	booking.Repository
	booking.EventLog
	booking.Timeline
	schedule.Directory
	schedule.TemplateStore
	tenant.SettingsProvider
}

var (
	_ store = (*memory.Store)(nil)
	_ store = (*postgres.Store)(nil)
)

type app struct {
	cfg       *config.Config
	log       logger.Logger
	store     store
	db        *pgxpool.Pool
	redis     *redis.Client
	hub       *notify.Hub
	registry  *prometheus.Registry
	bookings  *booking.Service
	dispatch  *dispatch.Service
	scheduler *dispatch.Scheduler
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	logger.SetLevel(cfg.Log.Level)
	return cfg, nil
}

func newApp(ctx context.Context, cfg *config.Config) (a *app, err error) {
	a = &app{cfg: cfg, log: logger.New("dispatchd"), registry: prometheus.NewRegistry()}
	defer func() {
		if err != nil {
			a.Close()
		}
	}()

	if err := a.openStore(ctx); err != nil {
		return nil, err
	}
	if a.redis, err = infra.NewRedis(ctx, cfg.Redis); err != nil {
		return nil, err
	}
	loc, err := cfg.Schedule.Location()
	if err != nil {
		return nil, err
	}

	notifier, err := a.notifier(ctx)
	if err != nil {
		return nil, err
	}

	var settings tenant.SettingsProvider = a.store
	if a.redis != nil {
		settings = tenant.NewRedisCache(a.store, a.redis, cfg.Redis.SettingsTTL(), logger.New("tenant"))
	}

	var estimator booking.DurationEstimator
	if cfg.Maps.APIKey != "" {
		rs, err := maps.NewRouteService(cfg.Maps.APIKey)
		if err != nil {
			return nil, err
		}
		estimator = rs
	}

	a.registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics, err := dispatch.NewMetrics(a.registry)
	if err != nil {
		return nil, err
	}

	a.bookings = booking.NewService(booking.Deps{
		Repo:          a.store,
		Events:        a.store,
		Notifier:      notifier,
		Estimator:     estimator,
		Geo:           geo.Policy{RadiusMeters: cfg.Geo.RadiusMeters, AccuracyMeters: cfg.Geo.AccuracyMeters},
		NoShowMinWait: cfg.Booking.NoShowMinWait(),
		Log:           logger.New("booking"),
	})

	dispatchLog := logger.New("dispatch")
	a.dispatch = dispatch.NewService(dispatch.Deps{
		Repo:     a.store,
		Events:   a.store,
		Index:    schedule.NewIndex(a.store, loc),
		Settings: settings,
		Notifier: notifier,
		Queue:    dispatch.NewCascadeQueue(cfg.Dispatch.QueueCapacity, dispatchLog, metrics),
		Metrics:  metrics,
		Log:      dispatchLog,
		Config: dispatch.Config{
			CascadeLimit:   cfg.Dispatch.CascadeLimit,
			ConflictBuffer: cfg.Dispatch.ConflictBuffer(),
			OfferTimeout:   cfg.Dispatch.OfferTimeout(),
			Horizon:        cfg.Dispatch.Horizon(),
			BatchSize:      cfg.Dispatch.BatchSize,
		},
	})

	var lease dispatch.Lease
	if cfg.Dispatch.LeaderLock {
		lease = dispatch.NewRedisLease(a.redis, leaseKey, cfg.Dispatch.Lease())
	}
	a.scheduler = dispatch.NewScheduler(a.dispatch, cfg.Dispatch.Tick(), lease, logger.New("scheduler"))
	return a, nil
}

func (a *app) openStore(ctx context.Context) error {
	switch a.cfg.Store.Driver {
	case "memory":
		s := memory.New()
		if a.cfg.Store.SeedFile != "" {
			seed, err := memory.LoadSeed(a.cfg.Store.SeedFile)
			if err != nil {
				return err
			}
			if err := s.Apply(seed); err != nil {
				return fmt.Errorf("apply seed: %w", err)
			}
		}
		a.store = s
		a.log.Warnf("using in-memory store; state is lost on exit")
	default:
		db, err := infra.NewDB(ctx, a.cfg.DB.DSN)
		if err != nil {
			return err
		}
		a.db = db
		a.store = postgres.New(db)
	}
	return nil
}

// notifier fans out to every configured transport. The log sink is always
// present.
func (a *app) notifier(ctx context.Context) (notify.Notifier, error) {
	n := a.cfg.Notify
	sinks := notify.Multi{notify.LogSink{Log: logger.New("notify")}}
	if a.redis != nil {
		sinks = append(sinks, notify.NewRedisPublisher(a.redis, n.RedisChannelPrefix))
	}
	if n.FirebaseProjectID != "" {
		client, err := infra.NewMessagingClient(ctx, n.FirebaseProjectID, n.FirebaseCredentialsFile)
		if err != nil {
			return nil, err
		}
		sinks = append(sinks, notify.NewFCM(client))
	}
	if n.WebSocket {
		a.hub = notify.NewHub()
		sinks = append(sinks, wsSink{a.hub})
	}
	return notify.Adapt(sinks), nil
}

// wsSink drops the no-session error: drivers are often reachable only by push.
type wsSink struct{ hub *notify.Hub }

func (s wsSink) Deliver(ctx context.Context, e notify.Envelope) error {
	if err := s.hub.Deliver(ctx, e); err != nil && !errors.Is(err, notify.ErrNoSession) {
		return err
	}
	return nil
}

func (a *app) Close() {
	if a.redis != nil {
		if err := a.redis.Close(); err != nil {
			a.log.Warnf("redis close: %v", err)
		}
	}
	if a.db != nil {
		a.db.Close()
	}
}
