package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/jmoiron/sqlx"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	"golang.org/x/sync/errgroup"

	"wms/internal/catalog"
	"wms/internal/jobs"
	"wms/internal/platform/config"
	"wms/internal/platform/database"
	"wms/internal/platform/httpserver"
	"wms/internal/platform/logger"
	"wms/internal/platform/metrics"
	"wms/internal/settings"
	httptransport "wms/internal/transport/http"
	audit "wms/pkg/platform/audit"
	"wms/pkg/platform/audit/consumer"
	"wms/pkg/platform/audit/dispatcher"
	"wms/pkg/platform/audit/hook"
	auditmemory "wms/pkg/platform/audit/store/memory"
	auditpostgres "wms/pkg/platform/audit/store/postgres"
	"wms/pkg/platform/circuit"
)

func main() {
	configPath := flag.String("config", "", "path to a YAML config file")
	var admin adminCommand
	flag.StringVar(&admin.migrate, "migrate", "", "apply schema migrations (up, down or version) and exit")
	flag.StringVar(&admin.setting, "set-setting", "", "store KEY=VALUE in app_settings and exit")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}
	log := logger.New(cfg.Logging)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if admin.requested() {
		if err := runAdmin(ctx, cfg, log, admin); err != nil {
			log.Error("admin command failed", "error", err)
			os.Exit(1)
		}
		return
	}

	if err := run(ctx, cfg, log); err != nil {
		log.Error("wms stopped with error", "error", err)
		os.Exit(1)
	}
	log.Info("wms stopped")
}

func run(ctx context.Context, cfg *config.Config, log *slog.Logger) error {
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(propagation.TraceContext{}, propagation.Baggage{}))
	reg := metrics.NewRegistry()
	checks := map[string]httptransport.HealthCheck{}

	var db *sqlx.DB
	if cfg.Database.Enabled() {
		conn, err := database.Connect(ctx, cfg.Database)
		if err != nil {
			return err
		}
		defer conn.Close()
		if cfg.Database.MigrateOnStart {
			if err := database.RunMigrations(conn, "up"); err != nil {
				return err
			}
		}
		db = conn
		checks["database"] = db.PingContext
	}

	var store audit.Store
	if cfg.Audit.Store.Backend == "postgres" {
		store = auditpostgres.New(db, auditpostgres.WithDeleteBatchSize(cfg.Audit.Store.DeleteBatchSize))
	} else {
		log.Warn("audit entries are kept in memory and lost on restart")
		store = auditmemory.NewInMemoryStore()
	}

	tr, err := newTransport(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer tr.close(log)
	if tr.health != nil {
		checks[cfg.Audit.Transport] = tr.health
	}

	breaker := circuit.New("audit-transport",
		circuit.WithFailureThreshold(cfg.Audit.Breaker.FailureThreshold),
		circuit.WithSuccessThreshold(cfg.Audit.Breaker.SuccessThreshold),
		circuit.WithCooldown(cfg.Audit.Breaker.Cooldown),
	)
	disp := dispatcher.New(tr.publisher,
		dispatcher.WithLogger(log),
		dispatcher.WithMetrics(dispatcher.NewMetrics(reg)),
		dispatcher.WithTopic(cfg.Audit.Topic),
		dispatcher.WithEnqueueTimeout(cfg.Audit.EnqueueTimeout),
		dispatcher.WithAsyncBuffer(cfg.Audit.AsyncBuffer),
		dispatcher.WithBreaker(breaker),
	)
	defer disp.Close()
	lifecycle := hook.New(disp, hook.WithLogger(log), hook.WithMetrics(reg))

	router := httptransport.NewRouter(httptransport.Deps{
		Logger:     log,
		Registry:   reg,
		AuditStore: store,
		Produtos:   catalog.NewRepository[*catalog.Produto](lifecycle),
		Parceiros:  catalog.NewRepository[*catalog.Parceiro](lifecycle),
		Checks:     checks,
	})
	srv := httpserver.New(cfg.Server, router)

	g, ctx := errgroup.WithContext(ctx)

	if cfg.Audit.Consumer.Enabled {
		handler := consumer.NewEntryHandler(store,
			consumer.WithLogger(log),
			consumer.WithMetrics(consumer.NewMetrics(reg)),
		)
		pool := consumer.NewPool(cfg.Audit.Consumer.Workers, tr.subscribers, handler, log)
		g.Go(func() error { return pool.Run(ctx) })
	}

	if cfg.Retention.Enabled {
		var source settings.Chain
		if db != nil {
			source = append(source, settings.NewPostgresSource(db))
		}
		source = append(source, settings.NewEnvSource())

		jobMetrics := jobs.NewMetrics(reg)
		scheduler := jobs.NewScheduler(log, jobMetrics)
		scheduler.Register(jobs.NewRetentionJob(store, source,
			jobs.WithDefaultDays(cfg.Retention.DefaultDays),
			jobs.WithRetentionLogger(log),
			jobs.WithRetentionMetrics(jobMetrics),
		), cfg.Retention.Interval, cfg.Retention.RunOnStart)
		g.Go(func() error { return scheduler.Run(ctx) })
	}

	g.Go(func() error {
		log.Info("http server listening", "addr", cfg.Server.Addr, "transport", cfg.Audit.Transport)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cfg.Server.ShutdownTimeout)
		defer cancel()
		log.Info("shutting down http server")
		return srv.Shutdown(shutdownCtx)
	})

	return g.Wait()
}
