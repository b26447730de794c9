// README: Entry point; loads config, wires the store, services and live views, then serves HTTP until signalled.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"

	"dispatch/internal/config"
	"dispatch/internal/docstore"
	httptransport "dispatch/internal/http"
	"dispatch/internal/infra"
	"dispatch/internal/logger"
	"dispatch/internal/maps"
	"dispatch/internal/metrics"
	"dispatch/internal/modules/account"
	"dispatch/internal/modules/dashboard"
	"dispatch/internal/modules/ledger"
	"dispatch/internal/modules/location"
	"dispatch/internal/modules/order"
	"dispatch/internal/modules/tracking"
	"dispatch/internal/notify"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logger.New(logger.Options{ServiceName: "dispatch-api"}).Error(context.Background(), "load config", err)
		os.Exit(1)
	}
	log := logger.New(logger.Options{
		ServiceName: "dispatch-api",
		Level:       logger.ParseLevel(cfg.Log.Level),
		Format:      cfg.Log.Format,
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log); err != nil {
		log.Error(ctx, "dispatch-api stopped", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config.Config, log *logger.Logger) error {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.NewDispatch(reg)

	mode, err := docstore.ParseConsistency(cfg.Dispatch.Consistency)
	if err != nil {
		return err
	}

	var fb *infra.Firebase
	if cfg.Firebase.ProjectID != "" {
		fb, err = infra.NewFirebase(ctx, cfg.Firebase.ProjectID, cfg.Firebase.CredentialsFile)
		if err != nil {
			return err
		}
	}

	var docs docstore.Store
	switch cfg.Store.Backend {
	case config.StoreFirestore:
		client, err := fb.Firestore(ctx)
		if err != nil {
			return err
		}
		docs = docstore.NewFirestore(client)
	default:
		log.Warn(ctx, "using the in-memory store; data is lost on restart", nil)
		docs = docstore.NewMemory()
	}
	defer docs.Close()

	var rdb *redis.Client
	if cfg.Redis.Addr != "" {
		rdb, err = infra.NewRedis(ctx, cfg.Redis.Addr)
		if err != nil {
			return err
		}
		defer rdb.Close()
	}

	var pool *pgxpool.Pool
	if cfg.DB.DSN != "" {
		pool, err = infra.NewDB(ctx, cfg.DB.DSN)
		if err != nil {
			return err
		}
		defer pool.Close()
	}

	fanout, err := buildNotifier(ctx, cfg, fb, log, m)
	if err != nil {
		return err
	}
	defer fanout.Wait()

	ledgerSvc := ledger.NewService(docs, mode, ledger.Options{Metrics: m, Logger: log})

	orderOpts := order.Options{
		MaxActiveOrders: cfg.Dispatch.MaxActiveOrders,
		Notifier:        fanout,
		Settler:         ledgerSvc,
		Metrics:         m,
		Logger:          log,
	}
	if cfg.Dispatch.RequireBalance {
		orderOpts.Balance = ledgerSvc
	}
	if pool != nil {
		orderOpts.Journal = order.NewPGJournal(pool)
	}
	orderSvc := order.NewService(order.NewStore(docs, mode), orderOpts)

	locOpts := location.Options{Metrics: m, Logger: log}
	if rdb != nil {
		locOpts.Geo = location.NewGeoIndex(rdb)
		locOpts.Throttle = location.NewRedisThrottle(rdb, cfg.Redis.ThrottleWindow)
	} else {
		locOpts.Throttle = location.NewLocalThrottle(cfg.Redis.ThrottleWindow, nil)
	}
	locationSvc := location.NewService(docs, locOpts)

	var revoker account.TokenRevoker
	var verifier infra.TokenVerifier
	if fb != nil {
		revoker = fb
		verifier = fb.Verifier()
	}
	if cfg.Firebase.DevAuth {
		log.Warn(ctx, "dev auth enabled; bearer tokens are trusted as uid:role", nil)
		verifier = infra.NewDevVerifier()
	}
	accountSvc := account.NewService(docs, revoker, log)

	trackDeps := tracking.Deps{Orders: orderSvc, Metrics: m, Logger: log}
	if cfg.Maps.APIKey != "" {
		routes, err := maps.NewRouteService(cfg.Maps.APIKey)
		if err != nil {
			return err
		}
		trackDeps.Router = routes
	}

	router := httptransport.NewRouter(httptransport.RouterDeps{
		Orders:      orderSvc,
		Ledger:      ledgerSvc,
		Locations:   locationSvc,
		Accounts:    accountSvc,
		Dashboard:   dashboard.Deps{Orders: orderSvc, Ledger: ledgerSvc, Metrics: m, Logger: log},
		Tracking:    trackDeps,
		Verifier:    verifier,
		Logger:      log,
		Metrics:     m,
		Gatherer:    reg,
		CORSOrigins: cfg.HTTP.CORSOrigins,
	})

	return httptransport.NewServer(cfg.HTTP.Addr, router, log).Run(ctx)
}

func buildNotifier(ctx context.Context, cfg config.Config, fb *infra.Firebase, log *logger.Logger, m *metrics.Dispatch) (*notify.Fanout, error) {
	client := &http.Client{Timeout: cfg.Notify.Timeout}
	var channels []notify.Channel
	if cfg.Notify.ChatURL != "" {
		channels = append(channels, &notify.ChatWebhook{URL: cfg.Notify.ChatURL, ChatID: cfg.Notify.ChatID, Client: client})
	}
	if cfg.Notify.SheetURL != "" {
		channels = append(channels, &notify.SheetWebhook{URL: cfg.Notify.SheetURL, Client: client})
	}
	if cfg.Notify.PushEnabled && fb != nil {
		msg, err := fb.Messaging(ctx)
		if err != nil {
			return nil, err
		}
		channels = append(channels, &notify.Push{Client: msg})
	}
	return notify.NewFanout(log, m, cfg.Notify.Timeout, channels...), nil
}
