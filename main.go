package main

import (
	"context"
	"database/sql"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"voltage-monitor/internal/alerts"
	"voltage-monitor/internal/analytics"
	apihttp "voltage-monitor/internal/api/http"
	"voltage-monitor/internal/auth"
	"voltage-monitor/internal/collector"
	"voltage-monitor/internal/devicecache"
	"voltage-monitor/internal/observability/metrics"
	reading "voltage-monitor/internal/reading/domain"
	readingrepo "voltage-monitor/internal/reading/infrastructure/postgres"
	"voltage-monitor/internal/tuya"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const readingsTable = "voltage_readings"

func main() {
	_ = godotenv.Load()

	cfg := loadConfig()
	logger := log.New(os.Stdout, "", log.LstdFlags)

	db, err := sql.Open("pgx", cfg.DatabaseURL)
	if err != nil {
		logger.Fatalf("db open error: %v", err)
	}
	defer db.Close()

	if err := db.Ping(); err != nil {
		logger.Fatalf("db ping error: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	repo := readingrepo.NewRepository(db)
	if err := repo.Migrate(ctx); err != nil {
		logger.Fatalf("migrate error: %v", err)
	}

	metrics.Init(db, logger)

	cloud, err := tuya.NewClient(cfg.TuyaRegion, cfg.TuyaClientID, cfg.TuyaClientSecret)
	if err != nil {
		logger.Fatalf("tuya client error: %v", err)
	}
	if err := cloud.Ping(ctx); err != nil {
		logger.Fatalf("tuya connectivity check error: %v", err)
	}
	logger.Printf("tuya cloud connected: region=%s", cfg.TuyaRegion)

	collectorCfg, err := collector.LoadConfig()
	if err != nil {
		logger.Fatalf("collector config error: %v", err)
	}

	clock := naiveClock{loc: reading.Location(cfg.OffsetHours)}
	runner := collector.NewRunner(cloud, clock, logger)

	var observer collector.CycleObserver
	if collectorCfg.WebhookURL != "" {
		checker := alerts.NewChecker(
			alerts.NewWebhookNotifier(collectorCfg.WebhookURL),
			collectorCfg.MinVoltageOK,
			collectorCfg.MaxVoltageOK,
			0,
			logger,
		)
		observer = checker
		logger.Printf("voltage alerts enabled: min=%.1f max=%.1f", collectorCfg.MinVoltageOK, collectorCfg.MaxVoltageOK)
	}

	scheduler := collector.NewScheduler(runner, repo, observer, collectorCfg.DeviceIDs, logger)
	go scheduler.Run(ctx, collectorCfg.Interval)
	logger.Printf("collector started: devices=%d interval=%s", len(collectorCfg.DeviceIDs), collectorCfg.Interval)

	engine, err := analytics.NewEngine(db, readingsTable, clock)
	if err != nil {
		logger.Fatalf("analytics engine error: %v", err)
	}
	query := readingrepo.NewQuery(db)

	var nameCache apihttp.NameCache
	if cfg.RedisAddr != "" {
		cache, err := devicecache.New(cfg.RedisAddr, cfg.NameCacheTTL)
		if err != nil {
			logger.Printf("device name cache unavailable, serving from cloud: %v", err)
		} else {
			defer cache.Close()
			nameCache = cache
		}
	}

	policy := auth.NewDefaultPolicy([]string{"/healthz", "/metrics"}, nil)
	authMiddleware := auth.NewMiddleware([]byte(cfg.JWTSecret), policy)

	mux := http.NewServeMux()
	mux.Handle("/api/v1/data", apihttp.NewDataHandler(engine, cfg.OffsetHours))
	mux.Handle("/api/v1/devices", apihttp.NewDevicesHandler(query))
	mux.Handle("/api/v1/device-names", apihttp.NewDeviceNamesHandler(cloud, nameCache))
	mux.Handle("/api/v1/stats", apihttp.NewStatsHandler(engine, cfg.OffsetHours))
	mux.Handle("/api/v1/exports/readings.csv", apihttp.NewExportReadingsCSVHandler(engine, cfg.OffsetHours))
	mux.Handle("/api/v1/exports/readings.xlsx", apihttp.NewExportReadingsXLSXHandler(engine, cfg.OffsetHours))
	mux.Handle("/api/v1/exports/report.pdf", apihttp.NewExportReportPDFHandler(engine, cfg.OffsetHours))
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	server := &http.Server{Addr: cfg.HTTPAddr, Handler: loggingMiddleware(authMiddleware.Wrap(mux), logger)}
	go func() {
		logger.Printf("http listening on %s", cfg.HTTPAddr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatalf("http server error: %v", err)
		}
	}()

	<-ctx.Done()
	logger.Printf("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Printf("http shutdown error: %v", err)
	}
}

type config struct {
	DatabaseURL      string
	HTTPAddr         string
	TuyaRegion       string
	TuyaClientID     string
	TuyaClientSecret string
	OffsetHours      int
	JWTSecret        string
	RedisAddr        string
	NameCacheTTL     time.Duration
}

func loadConfig() config {
	cfg := config{
		DatabaseURL:      getenvDefault("DATABASE_URL", getenvDefault("PG_DSN", "")),
		HTTPAddr:         getenvDefault("HTTP_ADDR", ":8080"),
		TuyaRegion:       getenvDefault("TUYA_REGION", "us"),
		TuyaClientID:     getenvDefault("TUYA_CLIENT_ID", ""),
		TuyaClientSecret: getenvDefault("TUYA_CLIENT_SECRET", ""),
		OffsetHours:      getenvIntDefault("UTC_OFFSET_HOURS", -3),
		JWTSecret:        getenvDefault("AUTH_JWT_SECRET", getenvDefault("JWT_SECRET", "")),
		RedisAddr:        getenvDefault("REDIS_ADDR", ""),
		NameCacheTTL:     getenvDuration("DEVICE_NAME_CACHE_TTL", 10*time.Minute),
	}
	if cfg.DatabaseURL == "" {
		log.Fatal("DATABASE_URL or PG_DSN is required")
	}
	if cfg.TuyaClientID == "" || cfg.TuyaClientSecret == "" {
		log.Fatal("TUYA_CLIENT_ID and TUYA_CLIENT_SECRET are required")
	}
	return cfg
}

func getenvDefault(key, fallback string) string {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	return value
}

func getenvIntDefault(key string, fallback int) int {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func getenvDuration(key string, fallback time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := time.ParseDuration(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func loggingMiddleware(next http.Handler, logger *log.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		resp := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(resp, r)
		logger.Printf("http %s %s %d %s", r.Method, r.URL.Path, resp.status, time.Since(start))
	})
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(status int) {
	w.status = status
	w.ResponseWriter.WriteHeader(status)
}

// naiveClock yields the current wall clock in the configured UTC offset,
// re-labeled as UTC so it matches how readings are stored.
type naiveClock struct {
	loc *time.Location
}

func (c naiveClock) Now() time.Time { return reading.NaiveNow(c.loc) }
