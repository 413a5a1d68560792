package main

import (
	"context"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"golang.org/x/oauth2"

	"github.com/hearthhq/hearth/internal/channels"
	"github.com/hearthhq/hearth/internal/config"
	"github.com/hearthhq/hearth/internal/credentials"
	"github.com/hearthhq/hearth/internal/events"
	httpserver "github.com/hearthhq/hearth/internal/http"
	"github.com/hearthhq/hearth/internal/provider"
	"github.com/hearthhq/hearth/internal/scheduler"
	"github.com/hearthhq/hearth/internal/store"
	syncengine "github.com/hearthhq/hearth/internal/sync"
)

func main() {
	log.Println("Starting Hearth calendar service...")
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool, err := pgxpool.New(ctx, cfg.DB.DSN)
	if err != nil {
		log.Fatalf("failed to create db pool: %v", err)
	}
	defer pool.Close()

	if err := store.ApplyMigrations(ctx, pool); err != nil {
		log.Fatalf("failed to apply migrations: %v", err)
	}

	stor := store.New(pool)

	oauthCfg := &oauth2.Config{
		ClientID:     cfg.Provider.ClientID,
		ClientSecret: cfg.Provider.ClientSecret,
		Endpoint:     oauth2.Endpoint{TokenURL: cfg.Provider.TokenURL},
	}
	tokens := credentials.NewManager(stor.Accounts, oauthCfg)
	providerClient := provider.NewClient(cfg.Provider.BaseURL, nil)

	engine := syncengine.NewEngine(stor.Calendars, stor.Events, tokens, providerClient)
	channelManager := channels.NewManager(stor.Channels, stor.Calendars, tokens, providerClient, cfg.BaseURL+"/webhooks/calendar")
	eventService := events.NewService(stor.Events, stor.Calendars, stor.Accounts, tokens, providerClient)

	sched := scheduler.New(stor.Calendars, engine, channelManager, cfg.Sync.Interval, cfg.Sync.SweepEvery)
	if err := sched.Start(); err != nil {
		log.Fatalf("failed to start scheduler: %v", err)
	}

	r := httpserver.NewRouter(cfg, stor, engine, channelManager, eventService, tokens, providerClient)

	srv := &http.Server{
		Addr:         cfg.ListenAddr,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Printf("server listening on %s", cfg.ListenAddr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server error: %v", err)
		}
	}()

	<-ctx.Done()
	log.Printf("shutting down...")

	sched.Stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("graceful shutdown failed: %v", err)
	}
}
