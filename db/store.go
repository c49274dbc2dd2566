// Package db persists the release-request domain in postgres via gorm:
// requests with their groups, files, votes and comments, the append-only
// audit log, and the upload job queue. All mutating controller
// operations run inside a single transaction that also appends the
// audit entry; failure rolls everything back.
package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"airlock.evalgo.org/request"
	"airlock.evalgo.org/uploader"
)

// Options tunes the underlying sql connection pool.
type Options struct {
	MaxIdleConns    int
	MaxOpenConns    int
	ConnMaxLifetime time.Duration
}

// DefaultOptions returns the standard pool settings.
func DefaultOptions() Options {
	return Options{
		MaxIdleConns:    10,
		MaxOpenConns:    100,
		ConnMaxLifetime: time.Hour,
	}
}

// Store is the request store. A Store handed to a transaction callback
// is scoped to that transaction.
type Store struct {
	db *gorm.DB
}

// Open connects to postgres, applies pool settings, and runs the schema
// migrations.
func Open(url string, opts Options) (*Store, error) {
	gdb, err := gorm.Open(postgres.Open(url), &gorm.Config{
		TranslateError: true,
		Logger:         logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to postgres: %w", err)
	}

	sqlDB, err := gdb.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to access connection pool: %w", err)
	}
	sqlDB.SetMaxIdleConns(opts.MaxIdleConns)
	sqlDB.SetMaxOpenConns(opts.MaxOpenConns)
	sqlDB.SetConnMaxLifetime(opts.ConnMaxLifetime)

	store := &Store{db: gdb}
	if err := store.migrate(); err != nil {
		return nil, err
	}
	return store, nil
}

// NewStoreWithDB wraps an existing gorm handle. Integration tests use
// this with a testcontainers-provisioned database.
func NewStoreWithDB(gdb *gorm.DB) (*Store, error) {
	store := &Store{db: gdb}
	if err := store.migrate(); err != nil {
		return nil, err
	}
	return store, nil
}

func (s *Store) migrate() error {
	err := s.db.AutoMigrate(
		&request.Request{},
		&request.FileGroup{},
		&request.RequestFile{},
		&request.FileVote{},
		&request.Comment{},
		&request.AuditEntry{},
		&uploader.Job{},
	)
	if err != nil {
		return fmt.Errorf("failed to migrate schema: %w", err)
	}
	// AutoMigrate cannot express a partial index, so the one-active-
	// request-per-author rule is created directly: inserting a second
	// non-terminal request for the same workspace and author violates
	// the index and surfaces as a conflict.
	err = s.db.Exec(`CREATE UNIQUE INDEX IF NOT EXISTS idx_one_active_request
		ON requests (workspace, author)
		WHERE status NOT IN ('RELEASED', 'REJECTED', 'WITHDRAWN')`).Error
	if err != nil {
		return fmt.Errorf("failed to create active request index: %w", err)
	}
	return nil
}

// Close releases the connection pool.
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// Transaction runs fn inside a database transaction. The callback's
// Store is transaction-scoped; any error rolls the whole transaction
// back, including audit entries written through it.
func (s *Store) Transaction(ctx context.Context, fn func(tx *Store) error) error {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&Store{db: tx})
	})
	return translateErr(err)
}

// translateErr maps storage and context failures onto the stable error
// kinds the controller surfaces to callers. Domain errors pass through
// untouched.
func translateErr(err error) error {
	if err == nil {
		return nil
	}
	var reqErr *request.Error
	if errors.As(err, &reqErr) {
		return err
	}
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return &request.Error{Kind: request.KindTimeout, Message: "operation deadline expired", Err: err}
	case errors.Is(err, gorm.ErrDuplicatedKey):
		return &request.Error{Kind: request.KindConflict, Message: "concurrent modification, please refresh and retry", Err: err}
	case errors.Is(err, gorm.ErrRecordNotFound):
		return &request.Error{Kind: request.KindNotFound, Message: "record not found", Err: err}
	}
	return err
}
