// trustcore-janitor runs the periodic cleanup jobs against the configured
// store until interrupted.
package main

import (
	"context"
	"database/sql"
	"errors"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/MrEthical07/trustcore"
	"github.com/MrEthical07/trustcore/internal/envconfig"
	"github.com/MrEthical07/trustcore/metrics/export/prometheus"
	"github.com/MrEthical07/trustcore/store/redisstore"
	"github.com/MrEthical07/trustcore/store/sqlstore"
	"github.com/redis/go-redis/v9"
)

func main() {
	once := flag.Bool("once", false, "run a single cleanup pass and exit")
	flag.Parse()

	logger := log.New(os.Stderr, "", log.LstdFlags)

	settings, err := envconfig.Load()
	if err != nil {
		logger.Fatalf("trustcore-janitor: %v", err)
	}
	cfg, err := settings.EngineConfig()
	if err != nil {
		logger.Fatalf("trustcore-janitor: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	builder := trustcore.New().WithConfig(cfg).WithLogger(logger)
	closeStore, err := attachStore(ctx, builder, settings, logger)
	if err != nil {
		logger.Fatalf("trustcore-janitor: %v", err)
	}
	defer closeStore()

	engine, err := builder.Build()
	if err != nil {
		logger.Fatalf("trustcore-janitor: build engine: %v", err)
	}
	defer engine.Close()

	if *once {
		report := engine.Janitor().RunOnce(ctx)
		if len(report.Errors) > 0 {
			logger.Fatalf("trustcore-janitor: %d cleanup steps failed", len(report.Errors))
		}
		return
	}

	if settings.MetricsAddr != "" {
		srv := serveMetrics(settings.MetricsAddr, engine, logger)
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()
	}

	logger.Printf("trustcore-janitor: store=%s interval=%s", settings.Store, cfg.Cleanup.Interval)
	if err := engine.Janitor().Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Printf("trustcore-janitor: %v", err)
	}
	logger.Printf("trustcore-janitor: stopped")
}

// attachStore opens the backend named by TRUSTCORE_STORE and registers it on
// the builder. The returned func releases the connection.
func attachStore(ctx context.Context, b *trustcore.Builder, s *envconfig.Settings, logger *log.Logger) (func(), error) {
	switch s.Store {
	case envconfig.StoreRedis:
		rdb := redis.NewClient(&redis.Options{
			Addr:     s.RedisAddr,
			Password: s.RedisPassword,
			DB:       s.RedisDB,
		})
		st := redisstore.New(rdb, redisstore.Options{Prefix: s.RedisPrefix})
		if err := st.Ping(ctx); err != nil {
			_ = rdb.Close()
			return nil, err
		}
		b.WithStore(st)
		return func() { _ = rdb.Close() }, nil

	default:
		dialect, err := sqlstore.ParseDialect(s.Store)
		if err != nil {
			return nil, err
		}
		db, err := sqlstore.Open(ctx, dialect, s.DatabaseURL)
		if err != nil {
			return nil, err
		}
		if dialect == sqlstore.SQLite {
			if err := sqlstore.New(db, dialect).EnsureSchema(ctx); err != nil {
				_ = db.Close()
				return nil, err
			}
		}
		b.WithSQL(db, dialect).WithAuditSink(sqlstore.NewAuditSink(db, dialect, logger))
		return closeDB(db), nil
	}
}

func closeDB(db *sql.DB) func() {
	return func() { _ = db.Close() }
}

func serveMetrics(addr string, engine *trustcore.Engine, logger *log.Logger) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", prometheus.NewExporter(engine).Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Printf("trustcore-janitor: metrics server: %v", err)
		}
	}()
	return srv
}
