// Command server runs the construction-site safety gate service: the gated
// daily-log API, the offline sync engine, and the background monitors.
package main

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	alerthandler "sitegate/internal/alert/handler"
	alertmetrics "sitegate/internal/alert/metrics"
	alertservice "sitegate/internal/alert/service"
	alertstore "sitegate/internal/alert/store"
	audithandler "sitegate/internal/audit/handler"
	"sitegate/internal/audit/materializer"
	compliancehandler "sitegate/internal/compliance/handler"
	compliancemetrics "sitegate/internal/compliance/metrics"
	complianceservice "sitegate/internal/compliance/service"
	compliancestore "sitegate/internal/compliance/store"
	complianceworker "sitegate/internal/compliance/worker"
	devicehandler "sitegate/internal/device/handler"
	deviceservice "sitegate/internal/device/service"
	devicestore "sitegate/internal/device/store"
	evidencehandler "sitegate/internal/evidence/handler"
	evidencemetrics "sitegate/internal/evidence/metrics"
	evidenceservice "sitegate/internal/evidence/service"
	evidencestore "sitegate/internal/evidence/store"
	gatehandler "sitegate/internal/gate/handler"
	gatemetrics "sitegate/internal/gate/metrics"
	gateservice "sitegate/internal/gate/service"
	gatestore "sitegate/internal/gate/store"
	gateworker "sitegate/internal/gate/worker"
	"sitegate/internal/platform/config"
	"sitegate/internal/platform/httpserver"
	"sitegate/internal/platform/kafka"
	"sitegate/internal/platform/lease"
	"sitegate/internal/platform/logger"
	"sitegate/internal/platform/middleware"
	platformredis "sitegate/internal/platform/redis"
	projecthandler "sitegate/internal/project/handler"
	projectmetrics "sitegate/internal/project/metrics"
	projectservice "sitegate/internal/project/service"
	projectstore "sitegate/internal/project/store"
	synchandler "sitegate/internal/syncengine/handler"
	syncmetrics "sitegate/internal/syncengine/metrics"
	syncservice "sitegate/internal/syncengine/service"
	syncstore "sitegate/internal/syncengine/store"
	syncworker "sitegate/internal/syncengine/worker"
	weatherhandler "sitegate/internal/weather/handler"
	weathermetrics "sitegate/internal/weather/metrics"
	weatherprovider "sitegate/internal/weather/provider"
	weatherservice "sitegate/internal/weather/service"
	weatherstore "sitegate/internal/weather/store"
	weatherworker "sitegate/internal/weather/worker"
	"sitegate/pkg/platform/audit"
	auditmemory "sitegate/pkg/platform/audit/store/memory"
	auditpg "sitegate/pkg/platform/audit/store/postgres"
	auditworker "sitegate/pkg/platform/audit/worker"
	"sitegate/pkg/platform/tx"
)

func main() {
	cfg := config.FromEnv()
	log := logger.New()

	if err := run(cfg, log); err != nil && !errors.Is(err, context.Canceled) {
		log.Error("server exited", "error", err)
		os.Exit(1)
	}
}

type stores struct {
	projects   projectservice.ProjectStore
	gates      gateservice.GateStore
	evidence   evidenceservice.EvidenceStore
	captures   weatherservice.CaptureStore
	compliance complianceservice.EventStore
	alerts     alertservice.AlertStore
	syncQueue  syncservice.QueueStore
	devices    deviceservice.DeviceStore
	audit      audit.Store
	auditPG    *auditpg.Store // nil without Postgres
}

func buildStores(db *sql.DB) stores {
	if db == nil {
		return stores{
			projects:   projectstore.NewInMemory(),
			gates:      gatestore.NewInMemory(),
			evidence:   evidencestore.NewInMemory(),
			captures:   weatherstore.NewInMemory(),
			compliance: compliancestore.NewInMemory(),
			alerts:     alertstore.NewInMemory(),
			syncQueue:  syncstore.NewInMemory(),
			devices:    devicestore.NewInMemory(),
			audit:      auditmemory.NewInMemoryStore(),
		}
	}
	pgAudit := auditpg.New(db)
	return stores{
		projects:   projectstore.NewPostgres(db),
		gates:      gatestore.NewPostgres(db),
		evidence:   evidencestore.NewPostgres(db),
		captures:   weatherstore.NewPostgres(db),
		compliance: compliancestore.NewPostgres(db),
		alerts:     alertstore.NewPostgres(db),
		syncQueue:  syncstore.NewPostgres(db),
		devices:    devicestore.NewPostgres(db),
		audit:      pgAudit,
		auditPG:    pgAudit,
	}
}

func run(cfg config.Config, log *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var db *sql.DB
	if cfg.Postgres.URL != "" {
		var err error
		db, err = sql.Open("pgx", cfg.Postgres.URL)
		if err != nil {
			return err
		}
		defer db.Close()
		if err := db.PingContext(ctx); err != nil {
			return err
		}
		log.Info("postgres connected")
	} else {
		log.Warn("no postgres configured, using in-memory stores")
	}
	st := buildStores(db)

	redisClient, err := platformredis.New(cfg.Redis)
	if err != nil {
		return err
	}
	var guard lease.Guard = lease.NewMemoryGuard()
	if redisClient != nil {
		defer redisClient.Close()
		guard = lease.NewRedisGuard(redisClient.Client)
		log.Info("redis connected")
	}

	recorder := audit.NewRecorder(st.audit)

	var runner tx.Runner
	if db != nil {
		runner = tx.NewSQLRunner(db)
	}

	projects := projectservice.NewProjectService(st.projects, recorder, log,
		append(projectOpts(runner), projectservice.WithMetrics(projectmetrics.New()))...)
	alerts := alertservice.NewAlertService(st.alerts, recorder, log,
		alertservice.WithMetrics(alertmetrics.New()))
	gates := gateservice.NewGateService(st.gates, projects, recorder, log,
		append(gateOpts(runner), gateservice.WithMetrics(gatemetrics.New()))...)
	evidence := evidenceservice.NewEvidenceService(st.evidence, projects, alerts, recorder, log,
		append(evidenceOpts(runner), evidenceservice.WithMetrics(evidencemetrics.New()))...)

	source := weatherprovider.NewOpenWeather(cfg.Weather.Endpoint, cfg.Weather.APIKey, cfg.Weather.Timeout)
	weather := weatherservice.NewWeatherService(st.captures, projects, alerts, source, recorder, log,
		weatherservice.WithMetrics(weathermetrics.New()))

	compliance := complianceservice.NewComplianceService(st.compliance, projects, alerts, recorder, log,
		complianceservice.WithMetrics(compliancemetrics.New()))

	syncEngine := syncservice.NewSyncService(st.syncQueue, alerts, recorder, log,
		[]syncservice.Applier{
			syncservice.NewGateRecordApplier(gates),
			syncservice.NewGatedLogApplier(gates),
			syncservice.NewEvidenceApplier(evidence),
			syncservice.NewEnvCaptureApplier(weather),
			syncservice.NewComplianceApplier(compliance),
		},
		syncservice.WithMetrics(syncmetrics.New()),
		syncservice.WithMaxAttempts(cfg.Sync.MaxAttempts),
		syncservice.WithBaseBackoff(cfg.Sync.BaseBackoff))

	devices := deviceservice.NewDeviceService(st.devices, recorder, log,
		cfg.Device.JWTSigningKey, deviceservice.WithTokenTTL(cfg.Device.TokenTTL))

	router := buildRouter(cfg, log, devices,
		projecthandler.New(projects),
		gatehandler.New(gates),
		evidencehandler.New(evidence),
		weatherhandler.New(weather),
		compliancehandler.New(compliance),
		alerthandler.New(alerts),
		synchandler.New(syncEngine),
		devicehandler.New(devices),
		audithandler.New(st.audit))

	group, ctx := errgroup.WithContext(ctx)

	server := httpserver.New(cfg.HTTP.Addr, router)
	group.Go(func() error {
		log.Info("http server listening", "addr", cfg.HTTP.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	group.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	group.Go(func() error {
		return gateworker.NewSweeper(gates, log, 5*time.Minute).Run(ctx)
	})
	group.Go(func() error {
		return weatherworker.NewScheduler(weather, projects, guard, log, cfg.Weather.FetchTimes).Run(ctx)
	})
	group.Go(func() error {
		return complianceworker.NewCutoff(compliance, projects, guard, log, cfg.ComplianceCutoff).Run(ctx)
	})
	group.Go(func() error {
		return syncworker.NewPool(syncEngine, log, syncworker.WithWorkers(cfg.Sync.Workers)).Run(ctx)
	})

	// With Postgres, audit entries land in the transactional outbox and the
	// outbox worker moves them on: through Kafka when brokers are configured,
	// or straight into audit_entries via the loopback publisher so the query
	// API works either way.
	if st.auditPG != nil {
		if len(cfg.Kafka.Brokers) > 0 {
			if err := kafka.EnsureTopics(ctx, cfg.Kafka); err != nil {
				return err
			}
			producer, err := kafka.NewProducer(cfg.Kafka)
			if err != nil {
				return err
			}
			defer producer.Close()
			group.Go(func() error {
				return auditworker.NewOutboxWorker(st.auditPG, producer, log, time.Second, 100).Run(ctx)
			})

			consumer, err := kafka.NewConsumer(cfg.Kafka, materializer.New(st.auditPG, log), log)
			if err != nil {
				return err
			}
			group.Go(func() error {
				return consumer.Run(ctx)
			})
			log.Info("audit stream enabled", "topic", cfg.Kafka.AuditTopic)
		} else {
			loopback := auditworker.NewLoopback(st.auditPG)
			group.Go(func() error {
				return auditworker.NewOutboxWorker(st.auditPG, loopback, log, time.Second, 100).Run(ctx)
			})
			log.Warn("no kafka brokers configured, materializing audit entries in-process")
		}
	}

	return group.Wait()
}

func projectOpts(runner tx.Runner) []projectservice.Option {
	if runner == nil {
		return nil
	}
	return []projectservice.Option{projectservice.WithTxRunner(runner)}
}

func gateOpts(runner tx.Runner) []gateservice.Option {
	if runner == nil {
		return nil
	}
	return []gateservice.Option{gateservice.WithTxRunner(runner)}
}

func evidenceOpts(runner tx.Runner) []evidenceservice.Option {
	if runner == nil {
		return nil
	}
	return []evidenceservice.Option{evidenceservice.WithTxRunner(runner)}
}

func buildRouter(cfg config.Config, log *slog.Logger, devices *deviceservice.DeviceService,
	projectsH *projecthandler.Handler,
	gatesH *gatehandler.Handler,
	evidenceH *evidencehandler.Handler,
	weatherH *weatherhandler.Handler,
	complianceH *compliancehandler.Handler,
	alertsH *alerthandler.Handler,
	syncH *synchandler.Handler,
	devicesH *devicehandler.Handler,
	auditH *audithandler.Handler,
) http.Handler {
	router := chi.NewRouter()
	router.Use(middleware.RequestMeta)

	router.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	router.Handle("/metrics", promhttp.Handler())
	devicesH.PublicRoutes(router)

	// Field surface: everything a device does on site.
	router.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.RequireDevice(devices, log))
		gatesH.Routes(r)
		evidenceH.Routes(r)
		complianceH.Routes(r)
		syncH.Routes(r)
	})

	// Administrative surface: registry, dashboard and history.
	router.Route("/admin/v1", func(r chi.Router) {
		r.Use(middleware.RequireAdminToken(cfg.Admin.Token, log))
		projectsH.Routes(r)
		weatherH.Routes(r)
		alertsH.Routes(r)
		devicesH.AdminRoutes(r)
		auditH.Routes(r)
	})

	return router
}
