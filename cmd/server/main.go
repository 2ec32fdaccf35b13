package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"canteenpos/backend/internal/blob"
	"canteenpos/backend/internal/config"
	"canteenpos/backend/internal/httpapi"
	"canteenpos/backend/internal/service"
	"canteenpos/backend/internal/store"
	"canteenpos/backend/internal/store/memory"
	pgstore "canteenpos/backend/internal/store/postgres"
)

func main() {
	zlog, err := zap.NewProduction()
	if err != nil {
		panic(err)
	}
	defer func() { _ = zlog.Sync() }()
	zap.ReplaceGlobals(zlog)
	logger := zlog.Sugar()

	cfg := config.Load()
	if err := validateSecurityConfig(cfg); err != nil {
		logger.Fatalw("invalid security configuration", "error", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	var repo store.Repository
	var unsavedFn func() bool
	closers := make([]func() error, 0, 2)

	if cfg.DatabaseURL != "" {
		pg, err := pgstore.New(ctx, cfg.DatabaseURL)
		if err != nil {
			logger.Fatalw("postgres unavailable and DATABASE_URL is set; refusing to start with in-memory fallback", "error", err)
		}
		repo = pg
		closers = append(closers, pg.Close)
		logger.Infow("repository selected", "repository", "postgres")
	} else {
		blobStore := openBlobStore(ctx, cfg, logger)
		closers = append(closers, blobStore.Close)

		mem, err := memory.Open(ctx, blobStore, logger)
		if err != nil {
			logger.Fatalw("failed to open in-memory repository", "error", err)
		}
		repo = mem
		unsavedFn = mem.UnsavedChanges
		logger.Infow("repository selected", "repository", "memory")
	}

	svc := service.New(repo, logger)
	auth := httpapi.NewAuthManager(cfg.AuthSecret, time.Duration(cfg.AccessTokenTTLMinutes)*time.Minute, cfg.ManagerPIN)
	api := httpapi.New(svc, auth, cfg.AllowedOrigin, unsavedFn, logger)

	server := &http.Server{
		Addr:              cfg.Address(),
		Handler:           api.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		logger.Infow("POS backend listening", "addr", cfg.Address(), "store", cfg.StoreName)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatalw("server error", "error", err)
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 8*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warnw("shutdown error", "error", err)
	}

	for _, closeFn := range closers {
		if err := closeFn(); err != nil {
			logger.Warnw("close error", "error", err)
		}
	}

	logger.Infow("server stopped")
}

// openBlobStore picks the persistence backend for the in-memory repository:
// Redis when configured and reachable, otherwise local JSON files.
func openBlobStore(ctx context.Context, cfg config.Config, logger *zap.SugaredLogger) blob.Store {
	if cfg.RedisAddr != "" {
		redisStore := blob.NewRedisStore(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		if err := redisStore.Ping(ctx); err != nil {
			logger.Warnw("redis unavailable, falling back to file storage", "error", err)
			_ = redisStore.Close()
		} else {
			logger.Infow("blob store selected", "blob", "redis")
			return redisStore
		}
	}

	fileStore, err := blob.NewFileStore(cfg.DataDir)
	if err != nil {
		logger.Warnw("file storage unavailable, state will not survive restarts", "error", err, "dir", cfg.DataDir)
		return blob.NewMemoryStore()
	}
	logger.Infow("blob store selected", "blob", "file", "dir", cfg.DataDir)
	return fileStore
}

func validateSecurityConfig(cfg config.Config) error {
	if len(cfg.AuthSecret) < 32 {
		return fmt.Errorf("AUTH_SECRET must be set and at least 32 characters")
	}
	if len(cfg.ManagerPIN) < 6 {
		return fmt.Errorf("MANAGER_PIN must be set and at least 6 digits")
	}
	if err := validatePINStrength(cfg.ManagerPIN); err != nil {
		return fmt.Errorf("MANAGER_PIN is too weak: %w", err)
	}
	return nil
}

// validatePINStrength rejects PINs that are all the same digit,
// sequential (ascending or descending), or from a known-weak list.
func validatePINStrength(pin string) error {
	known := map[string]bool{
		"123456": true, "654321": true, "000000": true, "111111": true,
		"222222": true, "333333": true, "444444": true, "555555": true,
		"666666": true, "777777": true, "888888": true, "999999": true,
		"121212": true, "112233": true, "123123": true,
	}
	if known[pin] {
		return fmt.Errorf("common PIN not allowed")
	}

	allSame := true
	for i := 1; i < len(pin); i++ {
		if pin[i] != pin[0] {
			allSame = false
			break
		}
	}
	if allSame {
		return fmt.Errorf("all-same-digit PIN not allowed")
	}

	ascending, descending := true, true
	for i := 1; i < len(pin); i++ {
		diff := int(pin[i]) - int(pin[i-1])
		if diff != 1 {
			ascending = false
		}
		if diff != -1 {
			descending = false
		}
	}
	if ascending || descending {
		return fmt.Errorf("sequential PIN not allowed")
	}

	return nil
}
