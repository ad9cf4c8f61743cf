// Package storage opens the configured ledger and session store backends.
package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/enoch-sit/tool-chatbot-boilerplate-sub004/internal/config"
	"github.com/enoch-sit/tool-chatbot-boilerplate-sub004/internal/domain"
	"github.com/enoch-sit/tool-chatbot-boilerplate-sub004/internal/ledger/memory"
	"github.com/enoch-sit/tool-chatbot-boilerplate-sub004/internal/ledger/redisstore"
	"github.com/enoch-sit/tool-chatbot-boilerplate-sub004/internal/ledger/sqlstore"
	"github.com/enoch-sit/tool-chatbot-boilerplate-sub004/internal/observability"
)

const (
	DriverMemory = "memory"
	DriverSQLite = "sqlite"
	DriverMySQL  = "mysql"

	SessionsLedger = "ledger"
	SessionsRedis  = "redis"
)

// AllocationLister exposes a user's allocations for reporting.
type AllocationLister interface {
	Allocations(ctx context.Context, userID string) ([]*domain.CreditAllocation, error)
}

// LedgerBackend is a ledger that can also list allocations.
type LedgerBackend interface {
	domain.Ledger
	AllocationLister
}

// Backend bundles the opened stores and their release function.
type Backend struct {
	Ledger   LedgerBackend
	Sessions domain.SessionStore

	closers []func() error
}

// Close releases every underlying connection.
func (b *Backend) Close() error {
	var errs []error
	for i := len(b.closers) - 1; i >= 0; i-- {
		if err := b.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Open creates the backends selected by cfg.
func Open(ctx context.Context, cfg *config.StorageConfig) (*Backend, error) {
	logger := observability.FromContext(ctx)
	backend := &Backend{}

	switch cfg.LedgerDriver {
	case DriverMemory, "":
		backend.Ledger = memory.NewLedger()
		backend.Sessions = memory.NewSessionStore()
	case DriverSQLite, DriverMySQL:
		store, err := sqlstore.Open(ctx, sqlstore.Dialect(cfg.LedgerDriver), cfg.LedgerDSN, sqlstore.Options{})
		if err != nil {
			return nil, err
		}
		backend.closers = append(backend.closers, store.Close)
		backend.Ledger = store.Ledger()
		backend.Sessions = store.Sessions()
	default:
		return nil, fmt.Errorf("unsupported ledger driver %q", cfg.LedgerDriver)
	}

	switch cfg.SessionStore {
	case SessionsLedger, "":
	case SessionsRedis:
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		if err := client.Ping(ctx).Err(); err != nil {
			_ = client.Close()
			_ = backend.Close()
			return nil, fmt.Errorf("failed to connect to redis: %w", err)
		}
		backend.closers = append(backend.closers, client.Close)
		backend.Sessions = redisstore.NewSessionStore(client, redisstore.Options{RetainCompleted: cfg.RedisRetain})
	default:
		_ = backend.Close()
		return nil, fmt.Errorf("unsupported session store %q", cfg.SessionStore)
	}

	logger.Info("storage opened",
		observability.String("ledger_driver", cfg.LedgerDriver),
		observability.String("session_store", cfg.SessionStore),
	)
	return backend, nil
}
