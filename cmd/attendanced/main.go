package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"workpulse/internal/activity"
	"workpulse/internal/attendance"
	"workpulse/internal/auth"
	"workpulse/internal/config"
	"workpulse/internal/db"
	"workpulse/internal/notify"
	"workpulse/internal/server"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/spf13/pflag"
	"golang.org/x/sync/errgroup"
)

func main() {
	log.Println("Starting attendanced...")
	if err := run(); err != nil {
		log.Fatalf("attendanced: %v", err)
	}
}

func run() error {
	configPath := pflag.StringP("config", "c", "config.yaml", "path to the server config file")
	pflag.Parse()

	// Load environment variables from .env file
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found")
	}

	cfg, err := config.LoadServer(*configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: cfg.Log.SlogLevel()}))
	slog.SetDefault(logger)
	logger.Info("starting attendanced", "addr", cfg.HTTP.Addr, "driver", cfg.Database.Driver)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, err := db.Open(ctx, cfg.Database)
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer store.Close()
	if err := store.Ping(ctx); err != nil {
		return fmt.Errorf("pinging database: %w", err)
	}

	loc, err := cfg.Location()
	if err != nil {
		return err
	}

	var notifier notify.Notifier = notify.Nop{}
	if cfg.Discord.Token != "" {
		d, err := notify.NewDiscord(cfg.Discord.Token, cfg.Discord.ChannelID, loc, logger)
		if err != nil {
			return fmt.Errorf("connecting to discord: %w", err)
		}
		notifier = d
	}
	defer notifier.Close()

	authority := attendance.NewAuthority(store, notifier, loc, logger)
	ingestor := activity.NewIngestor(store, authority, cfg.Activity.DefaultInterval, logger)

	gin.SetMode(gin.ReleaseMode)
	router := server.NewRouter(server.Deps{
		Store:          store,
		Tokens:         auth.NewTokens(cfg.Auth.JWTSecret, cfg.Auth.TokenTTL),
		Attendance:     authority,
		Activity:       ingestor,
		Logger:         logger,
		RequestTimeout: cfg.HTTP.RequestTimeout,
		LoginRate:      cfg.Auth.LoginRate,
		LoginBurst:     cfg.Auth.LoginBurst,
	})

	srv := &http.Server{
		Addr:              cfg.HTTP.Addr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		return err
	}
	logger.Info("shutdown complete")
	return nil
}
