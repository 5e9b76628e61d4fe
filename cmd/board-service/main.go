package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/ocdataUS/GroomFlow-sub000/internal/cache"
	"github.com/ocdataUS/GroomFlow-sub000/internal/catalog"
	"github.com/ocdataUS/GroomFlow-sub000/internal/config"
	"github.com/ocdataUS/GroomFlow-sub000/internal/engine"
	"github.com/ocdataUS/GroomFlow-sub000/internal/httpapi"
	"github.com/ocdataUS/GroomFlow-sub000/internal/store/postgres"
	"github.com/ocdataUS/GroomFlow-sub000/internal/telemetry"
)

func main() {
	cfg := config.Load()

	shutdownTelemetry := telemetry.Setup("board-service")
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = shutdownTelemetry(ctx)
	}()

	pool, err := pgxpool.New(context.Background(), cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("db connect: %v", err)
	}
	defer pool.Close()

	st := postgres.NewStore(pool)
	boardCache := cache.New(cache.NewMemoryBackend(cfg.CacheMaxEntries), cache.Options{
		BoardTTL: cfg.BoardCacheTTL,
		MetaTTL:  cfg.MetaCacheTTL,
	})
	library := catalog.New(st, boardCache)
	eng := engine.New(st, library, boardCache)

	handler := httpapi.NewHandler(eng)
	limiter := httpapi.NewRateLimiter(httpapi.RateLimitConfig{
		IPPerMinute:   cfg.RateLimitPerMinute,
		IPBurst:       cfg.RateLimitBurst,
		ViewPerMinute: cfg.ViewRateLimitPerMinute,
		ViewBurst:     cfg.ViewRateLimitBurst,
	})

	otelHandler := otelhttp.NewHandler(httpapi.LoggingMiddleware(limiter.Middleware(handler.Routes())), "board-service")

	server := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      otelHandler,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Printf("board-service listening on %s", server.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server error: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		log.Printf("shutdown error: %v", err)
	}
}
