package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"strings"
	"time"

	"workpulse/internal/auth"
	"workpulse/internal/config"
	"workpulse/internal/db"
	"workpulse/internal/db/models"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"github.com/spf13/pflag"
)

func main() {
	configPath := pflag.StringP("config", "c", "config.yaml", "path to the server config file")
	adminEmail := pflag.String("admin-email", "", "create an admin user with this email")
	adminPassword := pflag.String("admin-password", "", "password for --admin-email")
	adminName := pflag.String("admin-name", "Administrator", "display name for --admin-email")
	pflag.Parse()

	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found")
	}

	if err := run(*configPath, *adminEmail, *adminPassword, *adminName); err != nil {
		log.Fatalf("Migration failed: %v", err)
	}
}

func run(configPath, email, password, name string) error {
	cfg, err := config.LoadServer(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	// SQLite migrates on open; Postgres runs the embedded schema.
	store, err := db.Open(ctx, cfg.Database)
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer store.Close()
	if pg, ok := store.(*db.DB); ok {
		if err := pg.Migrate(ctx); err != nil {
			return err
		}
	}
	slog.Info("migration completed successfully", "driver", cfg.Database.Driver)

	if email == "" {
		return nil
	}
	if password == "" {
		return errors.New("--admin-password is required with --admin-email")
	}
	hash, err := auth.HashPassword(password)
	if err != nil {
		return fmt.Errorf("hashing password: %w", err)
	}
	admin := &models.User{
		ID:           uuid.New(),
		Email:        strings.ToLower(strings.TrimSpace(email)),
		Name:         name,
		Role:         models.RoleAdmin,
		PasswordHash: hash,
		CreatedAt:    time.Now().UTC(),
	}
	switch err := store.CreateUser(ctx, admin); {
	case errors.Is(err, db.ErrDuplicateEmail):
		slog.Info("admin already exists", "email", admin.Email)
	case err != nil:
		return fmt.Errorf("creating admin: %w", err)
	default:
		slog.Info("admin created", "email", admin.Email, "id", admin.ID)
	}
	return nil
}
