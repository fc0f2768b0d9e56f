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

	"qahub/api/internal/app"
	"qahub/api/internal/auth"
	"qahub/api/internal/authpw"
	"qahub/api/internal/avatar"
	"qahub/api/internal/config"
	"qahub/api/internal/email"
	"qahub/api/internal/search"
	"qahub/api/internal/session"
	"qahub/api/internal/store"
)

func main() {
	cfg := config.Load()
	ctx := context.Background()

	dataStore, closeStore, err := openStore(ctx, cfg)
	if err != nil {
		log.Fatalf("database connection failed: %v", err)
	}
	defer closeStore()

	deps := app.Deps{
		Store:      dataStore,
		Issuer:     auth.NewIssuer(cfg.SecretKey, cfg.TokenTTL),
		RateLimit:  cfg.RateLimit,
		RateWindow: cfg.RateLimitWindow,
	}

	if strings.TrimSpace(cfg.RedisURL) != "" {
		log.Printf("Using Redis for token denylist and throttling")
		redisStore, err := session.NewRedisStore(cfg.RedisURL)
		if err != nil {
			log.Fatalf("redis connection failed: %v", err)
		}
		defer redisStore.Close()
		deps.Denylist = redisStore
		deps.Limiter = redisStore
	} else {
		log.Printf("Using in-process token denylist and throttling")
	}

	var meiliClient *search.Meili
	if strings.TrimSpace(cfg.MeiliURL) != "" {
		meiliClient = search.NewMeili(cfg.MeiliURL, cfg.MeiliMasterKey)
		defer meiliClient.Close()
	}
	searchService := search.NewService(meiliClient, search.NewScan(dataStore))
	go func() {
		reindexCtx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
		defer cancel()
		searchService.ReindexAll(reindexCtx)
	}()
	deps.Search = searchService

	accounts := authpw.NewService(dataStore, cfg.BcryptCost)
	if strings.TrimSpace(cfg.MinioEndpoint) != "" {
		mirror, err := avatar.NewMinioMirror(ctx, cfg.MinioEndpoint, cfg.MinioAccessKey, cfg.MinioSecretKey, cfg.MinioBucket, cfg.MinioUseSSL)
		if err != nil {
			log.Printf("WARNING: avatar mirror disabled: %v", err)
		} else {
			accounts = accounts.WithAvatarMirror(mirror)
		}
	}
	deps.Accounts = accounts

	mailer := email.NewService(email.Config{
		Host:     cfg.SMTPHost,
		Port:     cfg.SMTPPort,
		Username: cfg.SMTPUsername,
		Password: cfg.SMTPPassword,
		From:     cfg.SMTPFrom,
		FromName: cfg.SMTPFromName,
		AppURL:   cfg.AppURL,
	})
	if mailer.IsConfigured() {
		deps.Mailer = mailer
	}

	service := app.New(deps)
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
		log.Printf("QAHub API listening on %s (%s, %s store)", cfg.Addr, cfg.Mode, cfg.StoreDriver)
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

// openStore connects the backend named by STORE_DRIVER and prepares its schema.
func openStore(ctx context.Context, cfg config.Config) (app.DataStore, func(), error) {
	switch cfg.StoreDriver {
	case "postgres":
		db, err := store.OpenPostgres(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, nil, err
		}
		if _, err := store.ApplyMigrations(ctx, db, cfg.MigrationsDir); err != nil {
			db.Close()
			return nil, nil, err
		}
		return store.NewPostgresStore(db), func() { db.Close() }, nil
	default:
		mongoStore, err := store.OpenMongo(ctx, cfg.DatabaseURL, cfg.MongoDatabase)
		if err != nil {
			return nil, nil, err
		}
		return mongoStore, func() { _ = mongoStore.Close(context.Background()) }, nil
	}
}
