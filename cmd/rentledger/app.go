package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/warp/rental-ledger/auth"
	"github.com/warp/rental-ledger/billing"
	"github.com/warp/rental-ledger/blob"
	"github.com/warp/rental-ledger/config"
	"github.com/warp/rental-ledger/lock"
	"github.com/warp/rental-ledger/store/sqlite"
)

// app holds the wired dependencies shared by every command.
type app struct {
	store  *sqlite.Store
	ledger *billing.Ledger
	tokens *auth.JWT
	blobs  blob.Store
	redis  *redis.Client
}

func newApp(ctx context.Context, cfg *config.Config, log *zap.Logger) (*app, error) {
	store, err := sqlite.New(cfg.Database.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}
	a := &app{
		store:  store,
		tokens: auth.NewJWT(cfg.Auth.JWTSecret, cfg.Auth.Issuer, cfg.Auth.TokenTTL),
	}

	locker, err := a.newLocker(ctx, cfg, log)
	if err != nil {
		a.Close()
		return nil, err
	}

	a.ledger, err = billing.New(billing.Options{
		Store:               store,
		Locker:              locker,
		Notifier:            store,
		Audit:               store,
		Logger:              log,
		ReminderMinInterval: cfg.Billing.ReminderMinInterval,
		DueDays:             cfg.Billing.DueDays,
		StaffInbox:          cfg.Billing.StaffInbox,
	})
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("failed to create ledger: %w", err)
	}

	a.blobs, err = newBlobStore(ctx, cfg, log)
	if err != nil {
		a.Close()
		return nil, err
	}

	log.Info("application wired",
		zap.String("database", cfg.Database.Path),
		zap.String("lock_backend", cfg.Lock.Backend),
		zap.String("storage_backend", cfg.Storage.Backend),
	)
	return a, nil
}

func (a *app) newLocker(ctx context.Context, cfg *config.Config, log *zap.Logger) (billing.Locker, error) {
	switch cfg.Lock.Backend {
	case "redis":
		a.redis = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err := a.redis.Ping(ctx).Err(); err != nil {
			return nil, fmt.Errorf("failed to connect to redis at %s: %w", cfg.Redis.Addr, err)
		}
		log.Info("using redis invoice locks", zap.String("addr", cfg.Redis.Addr))
		return lock.NewRedis(a.redis, lock.RedisConfig{
			Prefix:  "rentledger:lock:",
			TTL:     cfg.Lock.TTL,
			Timeout: cfg.Lock.Timeout,
		}), nil
	default:
		return lock.NewKeyed(cfg.Lock.Timeout), nil
	}
}

func newBlobStore(ctx context.Context, cfg *config.Config, log *zap.Logger) (blob.Store, error) {
	switch cfg.Storage.Backend {
	case "s3":
		s, err := blob.NewS3(ctx, blob.S3Config{
			Bucket:        cfg.Storage.Bucket,
			Endpoint:      cfg.Storage.Endpoint,
			Region:        cfg.Storage.Region,
			AccessKey:     cfg.Storage.AccessKey,
			SecretKey:     cfg.Storage.SecretKey,
			UsePathStyle:  cfg.Storage.UsePathStyle,
			PublicBaseURL: cfg.Storage.PublicBaseURL,
		}, log)
		if err != nil {
			return nil, fmt.Errorf("failed to create proof storage: %w", err)
		}
		return s, nil
	default:
		log.Warn("payment proofs are kept in memory and lost on restart")
		return blob.NewMemory(), nil
	}
}

// Close releases the database and redis connections.
func (a *app) Close() error {
	var errs []error
	if a.redis != nil {
		errs = append(errs, a.redis.Close())
	}
	if a.store != nil {
		errs = append(errs, a.store.Close())
	}
	return errors.Join(errs...)
}
