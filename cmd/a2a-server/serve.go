// Copyright 2025 The Go A2A Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/gorilla/mux"
	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/go-a2a/a2a-core"
	"github.com/go-a2a/a2a-core/auth"
	"github.com/go-a2a/a2a-core/config"
	"github.com/go-a2a/a2a-core/internal/metrics"
	"github.com/go-a2a/a2a-core/server"
	"github.com/go-a2a/a2a-core/server/event"
	"github.com/go-a2a/a2a-core/server/handler"
	"github.com/go-a2a/a2a-core/server/push"
	"github.com/go-a2a/a2a-core/server/retention"
	"github.com/go-a2a/a2a-core/server/task"
)

const shutdownTimeout = 15 * time.Second

// app holds the components of one server process.
type app struct {
	cfg    *config.Config
	logger *slog.Logger

	metrics     *metrics.Metrics
	broker      *event.Broker
	store       task.Store
	pushConfigs task.PushConfigStore
	push        *push.Dispatcher
	dispatcher  *server.Dispatcher
	sweeper     *retention.Sweeper

	closeStore func(context.Context) error
}

// openStores opens the task and push config stores selected by cfg.
func openStores(ctx context.Context, cfg config.StoreConfig) (task.Store, task.PushConfigStore, func(context.Context) error, error) {
	noop := func(context.Context) error { return nil }

	var (
		store       task.Store
		pushConfigs task.PushConfigStore
		closeStore  = noop
	)
	switch cfg.Driver {
	case "memory":
		store = task.NewInMemoryStore()
		pushConfigs = task.NewInMemoryPushConfigStore()

	case "sqlite":
		db, err := gorm.Open(sqlite.Open(cfg.DSN), &gorm.Config{Logger: gormlogger.Discard})
		if err != nil {
			return nil, nil, noop, fmt.Errorf("open sqlite store: %w", err)
		}
		sqlDB, err := db.DB()
		if err != nil {
			return nil, nil, noop, err
		}
		// sqlite serializes writers; one connection also keeps ":memory:" databases shared.
		sqlDB.SetMaxOpenConns(1)

		dbStore, err := task.NewDatabaseStore(task.DatabaseStoreConfig{DB: db, CreateTable: true})
		if err != nil {
			sqlDB.Close()
			return nil, nil, noop, err
		}
		if err := dbStore.Initialize(ctx); err != nil {
			sqlDB.Close()
			return nil, nil, noop, err
		}
		dbPush, err := task.NewDatabasePushConfigStore(db)
		if err != nil {
			sqlDB.Close()
			return nil, nil, noop, err
		}
		if err := dbPush.Initialize(ctx); err != nil {
			sqlDB.Close()
			return nil, nil, noop, err
		}
		store, pushConfigs, closeStore = dbStore, dbPush, dbStore.Close

	default:
		return nil, nil, noop, fmt.Errorf("unknown store driver %q", cfg.Driver)
	}

	if cfg.CacheSize > 0 {
		cached, err := task.NewCachedStore(store, cfg.CacheSize)
		if err != nil {
			closeStore(ctx)
			return nil, nil, noop, err
		}
		store = cached
	}
	return store, pushConfigs, closeStore, nil
}

func newApp(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*app, error) {
	a := &app{
		cfg:     cfg,
		logger:  logger,
		metrics: metrics.New(),
	}

	store, pushConfigs, closeStore, err := openStores(ctx, cfg.Store)
	if err != nil {
		return nil, err
	}
	a.closeStore = closeStore

	a.broker = event.NewBroker(
		event.WithBufferSize(cfg.Stream.BufferSize),
		event.WithMaxSubscribers(cfg.Stream.MaxSubscribers),
		event.WithOverflowPolicy(event.OverflowPolicy(cfg.Stream.Overflow)),
		event.WithHeartbeat(cfg.Stream.Heartbeat),
		event.WithGracePeriod(cfg.Stream.Grace),
		event.WithLogger(logger),
		event.WithMetrics(a.metrics),
	)

	sinks := []task.Sink{a.broker, a.metrics}
	opts := []server.Option{
		server.WithLogger(logger),
		server.WithExecutor(echoExecutor{}),
		server.WithAgentCard(a2a.AgentCard{
			Name:        cfg.Agent.Name,
			Description: cfg.Agent.Description,
			URL:         cfg.Agent.URL,
			Version:     cfg.Agent.Version,
		}),
	}
	if cfg.Push.Enabled {
		a.pushConfigs = pushConfigs
		a.push = push.NewDispatcher(pushConfigs,
			push.WithMaxAttempts(cfg.Push.MaxAttempts),
			push.WithBackoff(cfg.Push.InitialBackoff, cfg.Push.MaxBackoff),
			push.WithTimeout(cfg.Push.Timeout),
			push.WithQueueSize(cfg.Push.QueueSize),
			push.WithLogger(logger),
			push.WithMetrics(a.metrics),
		)
		sinks = append(sinks, a.push)
		opts = append(opts, server.WithPushConfigStore(pushConfigs))
	}

	a.store = task.NewPublishingStore(store, sinks...)
	a.dispatcher = server.NewDispatcher(a.store, a.broker, opts...)

	interval := cfg.Retention.SweepInterval
	if interval <= 0 {
		interval = retention.DefaultInterval
	}
	sweeperOpts := []retention.Option{
		retention.WithWindow(cfg.Retention.Window),
		retention.WithInterval(interval),
		retention.WithLogger(logger),
	}
	if a.pushConfigs != nil {
		sweeperOpts = append(sweeperOpts, retention.WithPushConfigStore(a.pushConfigs))
	}
	a.sweeper = retention.NewSweeper(a.store, a.broker, sweeperOpts...)

	return a, nil
}

func (a *app) handlerOptions() []handler.Option {
	opts := []handler.Option{
		handler.WithLogger(a.logger),
		handler.WithMetrics(a.metrics),
		handler.WithMaxBodyBytes(a.cfg.Server.MaxBodyBytes),
		handler.WithRateLimit(rate.Limit(a.cfg.Server.RateLimit), a.cfg.Server.RateBurst),
	}
	if a.cfg.Auth.Enabled {
		opts = append(opts, handler.WithAuthenticator(
			auth.NewJWTAuthenticator([]byte(a.cfg.Auth.HMACSecret), a.cfg.Auth.Issuer)))
	}
	return opts
}

// httpHandler routes JSON-RPC on "/", the REST API under "/v1", the agent
// card and the Prometheus endpoint. HTTP/2 is accepted without TLS.
func (a *app) httpHandler() http.Handler {
	opts := a.handlerOptions()
	rest := handler.NewRESTHandler(a.dispatcher, opts...)
	rpc := handler.NewJSONRPCHandler(a.dispatcher, opts...)

	r := mux.NewRouter()
	r.Handle("/metrics", a.metrics.Handler()).Methods(http.MethodGet)
	r.Handle(handler.AgentCardPath, rest)
	r.PathPrefix("/v1/").Handler(rest)
	r.Handle("/", rpc)

	return h2c.NewHandler(r, &http2.Server{})
}

func (a *app) grpcServer() *grpc.Server {
	h := handler.NewGRPCHandler(a.dispatcher, a.handlerOptions()...)
	s := grpc.NewServer(h.ServerOptions()...)
	h.Register(s)

	hs := health.NewServer()
	hs.SetServingStatus(handler.ServiceName, healthpb.HealthCheckResponse_SERVING)
	healthpb.RegisterHealthServer(s, hs)

	return s
}

// close stops the components in dependency order: executors first, then
// pending webhook deliveries, then the store.
func (a *app) close(ctx context.Context) error {
	a.sweeper.Stop()

	var errs []error
	if err := a.dispatcher.Close(ctx); err != nil {
		errs = append(errs, fmt.Errorf("close dispatcher: %w", err))
	}
	if a.push != nil {
		if err := a.push.Close(ctx); err != nil {
			errs = append(errs, fmt.Errorf("close push dispatcher: %w", err))
		}
	}
	if err := a.closeStore(ctx); err != nil {
		errs = append(errs, fmt.Errorf("close store: %w", err))
	}
	return errors.Join(errs...)
}

// run serves until ctx is canceled or a listener fails, then shuts down
// gracefully.
func run(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	a, err := newApp(ctx, cfg, logger)
	if err != nil {
		return err
	}

	httpLn, err := net.Listen("tcp", cfg.Server.HTTPAddr)
	if err != nil {
		a.close(ctx)
		return err
	}
	grpcLn, err := net.Listen("tcp", cfg.Server.GRPCAddr)
	if err != nil {
		httpLn.Close()
		a.close(ctx)
		return err
	}

	// Request contexts outlive Shutdown's grace for long-lived streams, so
	// they are canceled as soon as shutdown starts.
	streamCtx, cancelStreams := context.WithCancel(context.Background())
	defer cancelStreams()
	httpSrv := &http.Server{
		Handler:           a.httpHandler(),
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return streamCtx },
	}
	httpSrv.RegisterOnShutdown(cancelStreams)
	grpcSrv := a.grpcServer()

	if err := a.sweeper.Start(); err != nil {
		httpLn.Close()
		grpcLn.Close()
		a.close(ctx)
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.InfoContext(gctx, "serving HTTP", "addr", httpLn.Addr().String())
		if err := httpSrv.Serve(httpLn); !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		logger.InfoContext(gctx, "serving gRPC", "addr", grpcLn.Addr().String())
		if err := grpcSrv.Serve(grpcLn); err != nil {
			return fmt.Errorf("grpc server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		stopped := make(chan struct{})
		go func() {
			grpcSrv.GracefulStop()
			close(stopped)
		}()
		err := httpSrv.Shutdown(shutdownCtx)
		select {
		case <-stopped:
		case <-shutdownCtx.Done():
			grpcSrv.Stop()
		}
		return err
	})

	err = g.Wait()

	closeCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return errors.Join(err, a.close(closeCtx))
}
