package main

import (
	"context"
	"database/sql"
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/go-redis/redis/v8"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"

	"github.com/platinummonkey/gatekeep/pkg/access"
	"github.com/platinummonkey/gatekeep/pkg/api"
	"github.com/platinummonkey/gatekeep/pkg/audit"
	"github.com/platinummonkey/gatekeep/pkg/config"
	"github.com/platinummonkey/gatekeep/pkg/observability"
	"github.com/platinummonkey/gatekeep/pkg/policy"
	"github.com/platinummonkey/gatekeep/pkg/rbac"
	"github.com/platinummonkey/gatekeep/pkg/schema"
	"github.com/platinummonkey/gatekeep/pkg/session"
	"github.com/platinummonkey/gatekeep/pkg/storage/postgres"
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		logrus.WithError(err).Fatal("Failed to load configuration")
	}

	log := observability.NewLogger(cfg.Observability.LogLevel, os.Stdout)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := run(ctx, cfg, log); err != nil {
		log.WithError(err).Fatal("gatekeep exited with error")
	}
}

// version is set at build time with -ldflags "-X main.version=..."
var version = "dev"

func run(ctx context.Context, cfg *config.Config, log *logrus.Logger) error {
	// Cancelled before cleanups run so background loops stop using the
	// database and Redis first
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	var workers sync.WaitGroup

	otelProviders, err := observability.InitOTel(ctx, cfg.Observability.OTel(version), log)
	if err != nil {
		return err
	}

	var (
		metrics  *observability.Metrics
		registry *prometheus.Registry
	)
	if cfg.Observability.MetricsEnabled {
		registry = prometheus.NewRegistry()
		registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
		metrics = observability.NewMetrics(registry)
	}

	cleanups := []observability.ShutdownFunc{otelProviders.Shutdown}

	// Database
	var (
		cm *postgres.ConnectionManager
		db *sql.DB
	)
	if cfg.Postgres.URL != "" {
		cm, err = postgres.NewConnectionManager(cfg.Postgres.Connection(), log)
		if err != nil {
			return err
		}
		db = cm.Primary()
		cleanups = append(cleanups, func(context.Context) error { return cm.Close() })

		if err := rbac.RunMigrations(ctx, db, log); err != nil {
			return err
		}
		cm.StartHealthCheckRoutine(ctx, 30*time.Second, metrics)
	} else {
		log.Warn("No database configured; custom roles are kept in memory and audit events are only logged")
	}

	// Redis invalidation channel
	var (
		redisClient *redis.Client
		notifier    *rbac.RedisNotifier
	)
	if cfg.Redis.URL != "" {
		redisClient, err = postgres.NewRedisClient(ctx, postgres.RedisConfig{
			URL:      cfg.Redis.URL,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
			PoolSize: cfg.Redis.PoolSize,
		})
		if err != nil {
			return err
		}
		notifier = rbac.NewRedisNotifier(redisClient, cfg.Redis.Channel, log)
		cleanups = append(cleanups, func(context.Context) error { return redisClient.Close() })
	}

	// Role registry
	regCfg := rbac.RegistryConfig{Logger: log, Metrics: metrics}
	if db != nil {
		regCfg.Store = rbac.NewSQLStore(db)
	}
	if notifier != nil {
		regCfg.Notifier = notifier
	}
	roles := rbac.NewRegistry(regCfg)
	if err := roles.ReloadAll(ctx); err != nil {
		return err
	}
	if notifier != nil {
		workers.Add(1)
		go func() {
			defer workers.Done()
			if err := roles.ListenForInvalidations(ctx, notifier); err != nil && !errors.Is(err, context.Canceled) {
				log.WithError(err).Error("Role invalidation listener stopped")
			}
		}()
	}
	checker := rbac.NewChecker(roles, cfg.Roles.CacheSize, cfg.Roles.CacheTTL, metrics)

	scheduler := cron.New()
	if cfg.Roles.RefreshSchedule != "" {
		_, err := scheduler.AddFunc(cfg.Roles.RefreshSchedule, func() {
			if err := roles.ReloadAll(ctx); err != nil {
				log.WithError(err).Error("Scheduled role refresh failed")
				return
			}
			log.Debug("Roles refreshed")
		})
		if err != nil {
			return err
		}
	}
	scheduler.Start()
	cleanups = append(cleanups, func(context.Context) error {
		<-scheduler.Stop().Done()
		return nil
	})

	// Audit trail
	var auditLog audit.Logger = audit.NopLogger{}
	if cfg.Server.Audit {
		auditLog = audit.NewLogrusLogger(log)
		if db != nil {
			if err := audit.Migrate(ctx, db); err != nil {
				return err
			}
			dbLog, err := audit.NewDBLogger(db, sq.Dollar)
			if err != nil {
				return err
			}
			auditLog = audit.NewMultiLogger(auditLog, dbLog)
		}
		cleanups = append(cleanups, func(context.Context) error { return auditLog.Close() })
	}

	// Schema and plans
	s, err := schema.LoadAndValidate(cfg.Schema.Path, roles)
	if err != nil {
		return err
	}
	plans, err := policy.CompileSchema(s)
	if err != nil {
		return err
	}
	engine := access.NewEngine(access.Config{Plans: plans, Checker: checker, Metrics: metrics, Logger: log})
	log.WithField("tables", len(s.Tables)).WithField("path", cfg.Schema.Path).Info("Schema loaded")

	ddl := policy.DDLOptions{Role: cfg.Postgres.PolicyRole, ViewSuffix: cfg.Postgres.ViewSuffix}
	if cfg.Postgres.ApplyPolicies {
		if err := postgres.ApplyPolicies(ctx, db, plans, ddl, log); err != nil {
			return err
		}
	}

	if cfg.Schema.Watch {
		watcher := schema.NewWatcher(cfg.Schema.Path, roles, func(s *schema.Schema) error {
			plans, err := policy.CompileSchema(s)
			if err != nil {
				return err
			}
			if cfg.Postgres.ApplyPolicies {
				if err := postgres.ApplyPolicies(ctx, db, plans, ddl, log); err != nil {
					return err
				}
			}
			engine.Swap(plans)
			if metrics != nil {
				metrics.SchemaReloadsTotal.WithLabelValues("success").Inc()
			}
			recordSchemaReload(ctx, auditLog, log, audit.EventStatusSuccess, "Schema reloaded")
			return nil
		}, log)
		watcher.OnError = func(err error) {
			if metrics != nil {
				metrics.SchemaReloadsTotal.WithLabelValues("failure").Inc()
			}
			recordSchemaReload(ctx, auditLog, log, audit.EventStatusFailure, err.Error())
		}
		workers.Add(1)
		go func() {
			defer workers.Done()
			if err := watcher.Run(ctx); err != nil {
				log.WithError(err).Error("Schema watcher stopped")
			}
		}()
	}

	// API server
	provider := &session.RegistryProvider{
		Next:     &session.HeaderProvider{UserHeader: session.DefaultUserHeader, OrganizationHeader: session.DefaultOrganizationHeader, RoleHeader: session.DefaultRoleHeader, RequireUser: cfg.Server.RequireUser},
		Registry: roles,
	}
	apiCfg := api.Config{
		Engine:   engine,
		Registry: roles,
		Checker:  checker,
		Provider: provider,
		Metrics:  metrics,
		Logger:   log,
		Tracing:  cfg.Observability.OTelEnabled,
	}
	if cfg.Server.Audit {
		apiCfg.Audit = auditLog
	}

	server := &http.Server{
		Addr:         net.JoinHostPort(cfg.Server.Host, cfg.Server.Port),
		Handler:      api.NewServer(apiCfg),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	// Health and metrics on a separate port
	healthRouter := mux.NewRouter()
	health := observability.NewHealthChecker(db, redisClient)
	health.AddCheck("plans", func(context.Context) error {
		if engine.Plans() == nil {
			return errors.New("no enforcement plans loaded")
		}
		return nil
	})
	observability.RegisterHealthRoutes(healthRouter, health)
	if registry != nil {
		observability.RegisterMetricsEndpoint(healthRouter, registry)
	}
	healthServer := &http.Server{
		Addr:              net.JoinHostPort(cfg.Server.Host, cfg.Server.HealthPort),
		Handler:           healthRouter,
		ReadHeaderTimeout: 5 * time.Second,
	}

	// Shutdown functions run in reverse: the health server stops first, then
	// background workers drain, then the dependencies close in reverse order
	// of creation.
	shutdown := observability.NewShutdownManager(log, server, cfg.Server.ShutdownTimeout)
	for _, fn := range cleanups {
		shutdown.RegisterShutdownFunc(fn)
	}
	shutdown.RegisterShutdownFunc(func(ctx context.Context) error {
		drained := make(chan struct{})
		go func() {
			workers.Wait()
			close(drained)
		}()
		select {
		case <-drained:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	})
	shutdown.RegisterShutdownFunc(healthServer.Shutdown)

	errCh := make(chan error, 2)
	go func() {
		log.WithField("addr", healthServer.Addr).Info("Starting health server")
		if err := healthServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()
	go func() {
		log.WithField("addr", server.Addr).Info("Starting gatekeep API server")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	var serveErr error
	select {
	case sig := <-sigChan:
		log.WithField("signal", sig.String()).Info("Shutting down gracefully")
	case serveErr = <-errCh:
		log.WithError(serveErr).Error("Server failed")
	}

	cancel()
	if err := shutdown.Shutdown(); err != nil {
		return errors.Join(serveErr, err)
	}
	log.Info("gatekeep stopped")
	return serveErr
}

func recordSchemaReload(ctx context.Context, auditLog audit.Logger, log *logrus.Logger, status audit.EventStatus, message string) {
	event := &audit.Event{
		Type:     audit.EventTypeSchemaReload,
		Status:   status,
		Resource: "schema",
		Message:  message,
	}
	if err := auditLog.Log(ctx, event); err != nil {
		log.WithError(err).Error("Failed to record audit event")
	}
}
