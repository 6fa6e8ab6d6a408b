// Command notifyd runs the notification prioritization core's HTTP
// surface, wiring the pipeline orchestrator to Redis, Postgres, NATS,
// and etcd. Grounded on cmd/gateway/main.go's env-config + graceful
// shutdown shape, merged with cmd/alerts/main.go's pattern of starting
// a background reload loop (here: the rules matcher's poll ticker)
// alongside the HTTP listener.
package main

import (
	"context"
	"database/sql"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/notifyhub/prioritycore/internal/aienrich"
	"github.com/notifyhub/prioritycore/internal/apiserver"
	"github.com/notifyhub/prioritycore/internal/audit"
	"github.com/notifyhub/prioritycore/internal/authtoken"
	"github.com/notifyhub/prioritycore/internal/dedup"
	"github.com/notifyhub/prioritycore/internal/dispatch"
	"github.com/notifyhub/prioritycore/internal/dnd"
	"github.com/notifyhub/prioritycore/internal/fatigue"
	"github.com/notifyhub/prioritycore/internal/kvstore"
	"github.com/notifyhub/prioritycore/internal/metrics"
	"github.com/notifyhub/prioritycore/internal/pipeline"
	"github.com/notifyhub/prioritycore/internal/rules"
	"github.com/notifyhub/prioritycore/internal/streaming"
	"github.com/notifyhub/prioritycore/pkg/clock"
	"github.com/notifyhub/prioritycore/pkg/messaging"
)

type config struct {
	Port            string
	RedisURL        string
	RedisV8URL      string
	DatabaseURL     string
	NATSURL         string
	EtcdEndpoints   []string
	AIEndpointURL   string
	JWTSecret       string
	InfluxURL       string
	InfluxToken     string
	InfluxOrg       string
	InfluxBucket    string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	RateLimitMax    int
	RateLimitWindow time.Duration
}

func loadConfig() *config {
	return &config{
		Port:            getEnv("PORT", "8080"),
		RedisURL:        getEnv("REDIS_URL", "localhost:6379"),
		RedisV8URL:      getEnv("REDIS_V8_URL", "localhost:6380"),
		DatabaseURL:     getEnv("DATABASE_URL", "postgres://localhost:5432/notifyhub?sslmode=disable"),
		NATSURL:         getEnv("NATS_URL", "nats://localhost:4222"),
		EtcdEndpoints:   []string{getEnv("ETCD_ENDPOINTS", "localhost:2379")},
		AIEndpointURL:   os.Getenv("AI_ENDPOINT_URL"),
		JWTSecret:       getEnv("JWT_SECRET", "dev-secret-change-me"),
		InfluxURL:       os.Getenv("INFLUX_URL"),
		InfluxToken:     os.Getenv("INFLUX_TOKEN"),
		InfluxOrg:       getEnv("INFLUX_ORG", "notifyhub"),
		InfluxBucket:    getEnv("INFLUX_BUCKET", "notifications"),
		ReadTimeout:     30 * time.Second,
		WriteTimeout:    30 * time.Second,
		RateLimitMax:    100,
		RateLimitWindow: time.Minute,
	}
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

// validateConfig fails fast on startup rather than running with a
// predictable signing secret.
func validateConfig(cfg *config) {
	if cfg.JWTSecret == "dev-secret-change-me" {
		log.Fatalf("JWT_SECRET must be set explicitly, refusing to start with the default dev secret")
	}
}

func main() {
	cfg := loadConfig()
	validateConfig(cfg)
	c := clock.NewReal()

	dedupStore := kvstore.NewRedisV9(cfg.RedisURL)
	fatigueStore := kvstore.NewRedisV8(cfg.RedisV8URL)

	db, err := sql.Open("postgres", cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("failed to open database: %v", err)
	}
	defer db.Close()

	auditStore := audit.NewStore(db)
	if err := auditStore.EnsureSchema(context.Background()); err != nil {
		log.Fatalf("failed to ensure audit schema: %v", err)
	}

	bus, err := messaging.NewClient(messaging.Config{
		URL:            cfg.NATSURL,
		Name:           "notifyd",
		ReconnectWait:  time.Second,
		MaxReconnects:  60,
		ConnectTimeout: 10 * time.Second,
	})
	if err != nil {
		log.Fatalf("failed to connect to NATS: %v", err)
	}
	defer bus.Close()

	dispatchStore := dispatch.NewStore(db, bus)
	if err := dispatchStore.EnsureSchema(context.Background()); err != nil {
		log.Fatalf("failed to ensure dispatch schema: %v", err)
	}

	rulesMatcher, err := rules.NewFromClientV3(cfg.EtcdEndpoints, 5*time.Second)
	if err != nil {
		log.Fatalf("failed to connect to etcd: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	rulesMatcher.Start(ctx)
	defer rulesMatcher.Stop()

	var metricsSink *metrics.Sink
	if cfg.InfluxURL != "" {
		metricsSink = metrics.New(cfg.InfluxURL, cfg.InfluxToken, cfg.InfluxOrg, cfg.InfluxBucket)
	} else {
		metricsSink = metrics.NoopSink()
	}

	hub := streaming.NewHub(bus)
	if err := hub.Start(); err != nil {
		log.Fatalf("failed to start audit stream hub: %v", err)
	}
	defer hub.Stop()

	orch := pipeline.New(
		c,
		dedup.New(dedupStore, c),
		rulesMatcher,
		dnd.New(c),
		fatigue.New(fatigueStore, c),
		aienrich.New(cfg.AIEndpointURL),
		auditStore,
		dispatchStore,
	)
	orch.SetMetrics(metricsSink)
	orch.SetAuditBus(bus)

	tokens := authtoken.New(cfg.JWTSecret, 24*time.Hour)
	server := apiserver.New(apiserver.Config{
		Port:            cfg.Port,
		ReadTimeout:     cfg.ReadTimeout,
		WriteTimeout:    cfg.WriteTimeout,
		RateLimitMax:    cfg.RateLimitMax,
		RateLimitWindow: cfg.RateLimitWindow,
	}, orch, rulesMatcher, hub, tokens)

	httpServer := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      server.Router(),
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}

	go func() {
		log.Printf("notifyd starting on port %s", cfg.Port)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("failed to start notifyd: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("shutting down notifyd...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Printf("notifyd shutdown error: %v", err)
	}

	log.Println("notifyd stopped")
}
