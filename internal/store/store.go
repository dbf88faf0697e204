package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/dgraph-io/badger/v4"
	_ "github.com/glebarez/go-sqlite" // Pure Go SQLite driver
	_ "github.com/lib/pq"
	"github.com/sony/gobreaker/v2"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/gmsas95/pillpal/internal/config"
	apperrors "github.com/gmsas95/pillpal/internal/errors"
)

// Store provides access to the relational store and the Badger KV used
// for token revocation. Every call goes through a circuit breaker so a
// failing database surfaces as STORE_002 instead of piling up timeouts.
type Store struct {
	db      *gorm.DB
	badger  *badger.DB
	breaker *gobreaker.CircuitBreaker[any]
	logger  *zap.Logger
}

// Options tunes the breaker around the database.
type Options struct {
	MaxFailures uint32
	OpenTimeout time.Duration
	Logger      *zap.Logger
}

// New opens the configured database and Badger directory.
func New(cfg *config.Config, log *zap.Logger) (*Store, error) {
	db, err := openSQL(&cfg.Storage)
	if err != nil {
		return nil, err
	}

	if err := os.MkdirAll(cfg.Storage.BadgerPath, 0755); err != nil {
		return nil, fmt.Errorf("failed to create badger directory: %w", err)
	}
	badgerOpts := badger.DefaultOptions(cfg.Storage.BadgerPath).
		WithLogger(nil).
		WithNumVersionsToKeep(1).
		WithCompactL0OnClose(true).
		WithValueLogFileSize(16 << 20).
		WithMemTableSize(16 << 20)

	kv, err := badger.Open(badgerOpts)
	if err != nil {
		return nil, fmt.Errorf("failed to open badger: %w", err)
	}

	return Open(db, kv, Options{
		MaxFailures: cfg.Breaker.MaxFailures,
		OpenTimeout: time.Duration(cfg.Breaker.OpenTimeoutSec) * time.Second,
		Logger:      log,
	})
}

func openSQL(cfg *config.StorageConfig) (*gorm.DB, error) {
	gormCfg := &gorm.Config{
		Logger:                 logger.Default.LogMode(logger.Silent),
		SkipDefaultTransaction: true,
		PrepareStmt:            true,
		NowFunc:                func() time.Time { return time.Now().UTC() },
	}

	maxOpen := cfg.MaxOpenConns
	if maxOpen <= 0 {
		maxOpen = 10
	}

	switch cfg.Driver {
	case "postgres":
		pgDB, err := sql.Open("postgres", cfg.PostgresDSN)
		if err != nil {
			return nil, fmt.Errorf("failed to open postgres: %w", err)
		}
		pgDB.SetMaxOpenConns(maxOpen)
		pgDB.SetMaxIdleConns(maxOpen / 2)
		pgDB.SetConnMaxLifetime(time.Hour)

		db, err := gorm.Open(postgres.New(postgres.Config{Conn: pgDB}), gormCfg)
		if err != nil {
			return nil, fmt.Errorf("failed to open postgres: %w", err)
		}
		return db, nil

	default:
		sqliteDB, err := sql.Open("sqlite", cfg.SQLitePath+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)")
		if err != nil {
			return nil, fmt.Errorf("failed to open sqlite: %w", err)
		}
		sqliteDB.SetMaxOpenConns(maxOpen)
		sqliteDB.SetMaxIdleConns(maxOpen / 2)
		sqliteDB.SetConnMaxLifetime(time.Hour)

		db, err := gorm.Open(sqlite.Dialector{Conn: sqliteDB}, gormCfg)
		if err != nil {
			return nil, fmt.Errorf("failed to open sqlite: %w", err)
		}
		return db, nil
	}
}

// Open wraps already-opened handles. kv may be nil, in which case token
// revocation is disabled.
func Open(db *gorm.DB, kv *badger.DB, opts Options) (*Store, error) {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.MaxFailures == 0 {
		opts.MaxFailures = 5
	}
	if opts.OpenTimeout <= 0 {
		opts.OpenTimeout = 30 * time.Second
	}

	if err := db.AutoMigrate(
		&User{},
		&Device{},
		&Schedule{},
		&Medlog{},
		&Notification{},
	); err != nil {
		return nil, fmt.Errorf("failed to migrate: %w", err)
	}

	s := &Store{
		db:     db,
		badger: kv,
		logger: opts.Logger,
	}

	s.breaker = gobreaker.NewCircuitBreaker[any](gobreaker.Settings{
		Name:    "store",
		Timeout: opts.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= opts.MaxFailures
		},
		IsSuccessful: isInfraHealthy,
		OnStateChange: func(name string, from, to gobreaker.State) {
			s.logger.Warn("Storage circuit state changed",
				zap.String("breaker", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()),
			)
		},
	})

	return s, nil
}

// Close closes all database connections
func (s *Store) Close() error {
	var errs []error
	if sqlDB, err := s.db.DB(); err == nil {
		errs = append(errs, sqlDB.Close())
	}
	if s.badger != nil {
		errs = append(errs, s.badger.Close())
	}
	return errors.Join(errs...)
}

// DB returns the GORM database instance
func (s *Store) DB() *gorm.DB {
	return s.db
}

// Ping checks database reachability.
func (s *Store) Ping(ctx context.Context) error {
	_, err := guard(s, func() (struct{}, error) {
		sqlDB, err := s.db.DB()
		if err != nil {
			return struct{}{}, err
		}
		return struct{}{}, sqlDB.PingContext(ctx)
	})
	return err
}

// isInfraHealthy tells the breaker which errors are caller mistakes or
// cancellations rather than database trouble.
func isInfraHealthy(err error) bool {
	if err == nil {
		return true
	}
	return errors.Is(err, gorm.ErrRecordNotFound) ||
		errors.Is(err, context.Canceled) ||
		errors.Is(err, context.DeadlineExceeded) ||
		apperrors.IsAppError(err) ||
		errors.Is(err, apperrors.ErrInvalidStatus)
}

func guard[T any](s *Store, fn func() (T, error)) (T, error) {
	var zero T
	out, err := s.breaker.Execute(func() (any, error) {
		return fn()
	})
	if err != nil {
		return zero, classify(err)
	}
	return out.(T), nil
}

func classify(err error) error {
	switch {
	case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
		return apperrors.ErrCircuitOpen.WithCause(err)
	case isInfraHealthy(err):
		return err
	default:
		return apperrors.ErrStorageUnavailable.WithCause(err)
	}
}

func notFound(err error, sentinel *apperrors.AppError) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return sentinel
	}
	return err
}

// ==================== Token revocation (BadgerDB) ====================

// RevokeToken remembers a token id until it would have expired anyway.
func (s *Store) RevokeToken(tokenID string, ttl time.Duration) error {
	if s.badger == nil || ttl <= 0 {
		return nil
	}
	return s.badger.Update(func(txn *badger.Txn) error {
		e := badger.NewEntry([]byte("revoked:"+tokenID), []byte{1}).WithTTL(ttl)
		return txn.SetEntry(e)
	})
}

// IsTokenRevoked reports whether RevokeToken was called for tokenID.
func (s *Store) IsTokenRevoked(tokenID string) (bool, error) {
	if s.badger == nil {
		return false, nil
	}
	err := s.badger.View(func(txn *badger.Txn) error {
		_, err := txn.Get([]byte("revoked:" + tokenID))
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}
