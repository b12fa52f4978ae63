package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"reelrank/api/internal/app"
	"reelrank/api/internal/catalog"
	"reelrank/api/internal/config"
	"reelrank/api/internal/media"
	"reelrank/api/internal/notify"
	"reelrank/api/internal/session"
	"reelrank/api/internal/store"
)

func main() {
	cfg := config.Load()
	ctx := context.Background()

	db, err := store.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("database connection failed: %v", err)
	}
	defer db.Close()

	if err := store.ApplyMigrations(ctx, db, cfg.MigrationsDir); err != nil {
		log.Fatalf("migrations failed: %v", err)
	}

	dataStore := store.NewPostgresStore(db)

	var meiliClient *catalog.Meili
	if strings.TrimSpace(cfg.MeiliURL) != "" {
		meiliClient = catalog.NewMeili(cfg.MeiliURL, cfg.MeiliMasterKey)
		defer meiliClient.Close()
	}
	var catalogService *catalog.Service
	if meiliClient != nil {
		catalogService = catalog.NewService(meiliClient)
	}

	var sessions session.Store
	if strings.TrimSpace(cfg.RedisURL) != "" {
		log.Printf("Using Redis for comparison sessions")
		redisStore, err := session.NewRedisStore(cfg.RedisURL, cfg.CompareTTL)
		if err != nil {
			log.Fatalf("redis connection failed: %v", err)
		}
		defer redisStore.Close()
		sessions = redisStore
	} else {
		log.Printf("Using in-memory comparison sessions")
		sessions = session.NewMemoryStore(cfg.CompareTTL)
	}

	var posterStore *media.PosterStore
	if strings.TrimSpace(cfg.MinioEndpoint) != "" {
		posterStore, err = media.NewPosterStore(cfg.MinioEndpoint, cfg.MinioAccessKey, cfg.MinioSecretKey, cfg.MinioBucket, cfg.MinioUseSSL)
		if err != nil {
			log.Printf("WARNING: poster cache unavailable: %v", err)
			posterStore = nil
		}
	}

	notifier := notify.NewService(cfg.PushGatewayURL, cfg.PushAPIKey)

	service := app.New(cfg, dataStore, sessions, catalogService, notifier, posterStore)

	httpServer := app.NewHTTPServer(service, cfg.CORSOrigin)
	server := &http.Server{
		Addr:              cfg.Addr,
		Handler:           httpServer.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		log.Printf("ReelRank API listening on %s", cfg.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server failed: %v", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("shutdown error: %v", err)
	}
}
