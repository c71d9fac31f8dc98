// Package store owns the durable state of the rental station: the users and
// transactions relations in one sqlite file. Every operation runs under a
// single process-wide lock, so no two operations interleave and a backup
// never observes a half-applied mutation.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"github.com/ovaphlow/pitchfork/service-rental-go/pkg/database"
	"github.com/ovaphlow/pitchfork/service-rental-go/pkg/utilities"
)

var (
	ErrAlreadyOpen = errors.New("store already open")
	ErrNotOpen     = errors.New("store not open")
)

// IDGenerator hands out transaction ids. *snowflake.Node satisfies it.
type IDGenerator interface {
	Generate() snowflake.ID
}

// Store serializes access to users and transactions.
type Store struct {
	mu     sync.Mutex
	db     *sqlx.DB
	ids    IDGenerator
	logger *zap.SugaredLogger

	now        func() time.Time
	removalKey func() (string, error)
}

// New returns a closed store. Call Open (or Attach) before use.
func New(logger *zap.SugaredLogger, ids IDGenerator) *Store {
	return &Store{
		ids:        ids,
		logger:     logger,
		now:        time.Now,
		removalKey: utilities.NewRemovalKey,
	}
}

// Open connects to the sqlite file described by cfg.
func (s *Store) Open(cfg database.Config) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.logger.Debugw("store open", "path", cfg.Path)
	if s.db != nil {
		return ErrAlreadyOpen
	}
	sqlDB, err := database.Connect(cfg)
	if err != nil {
		return err
	}
	s.db = sqlx.NewDb(sqlDB, database.DriverName)
	return nil
}

// Attach adopts an already opened connection.
func (s *Store) Attach(db *sqlx.DB) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db != nil {
		return ErrAlreadyOpen
	}
	s.db = db
	return nil
}

// Close releases the connection. Closing a closed store is a no-op.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.logger.Debugw("store close")
	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	return err
}

// locked runs fn while holding the store lock. The lock is released on every
// exit path, including panics inside fn.
func (s *Store) locked(fn func(db *sqlx.DB) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db == nil {
		return ErrNotOpen
	}
	return fn(s.db)
}

// inTx runs fn in a database transaction under the store lock.
func (s *Store) inTx(ctx context.Context, fn func(tx *sqlx.Tx) error) error {
	return s.locked(func(db *sqlx.DB) error {
		tx, err := db.BeginTxx(ctx, nil)
		if err != nil {
			return err
		}
		if err := fn(tx); err != nil {
			_ = tx.Rollback()
			return err
		}
		return tx.Commit()
	})
}

// Backup writes a consistent copy of the database to dest, replacing any
// file already there.
func (s *Store) Backup(ctx context.Context, dest string) error {
	s.logger.Debugw("store backup", "dest", dest)
	err := s.locked(func(db *sqlx.DB) error {
		if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
			return err
		}
		if err := os.Remove(dest); err != nil && !errors.Is(err, os.ErrNotExist) {
			return err
		}
		_, err := db.ExecContext(ctx, `VACUUM INTO ?`, dest)
		return err
	})
	if err != nil {
		return fmt.Errorf("backup to %s: %w", dest, err)
	}
	s.logger.Infow("finished database backup", "dest", dest)
	return nil
}

// EnsureSchema creates both relations if absent. Safe on every startup.
func (s *Store) EnsureSchema(ctx context.Context) error {
	s.logger.Debugw("store ensure schema")
	return s.locked(func(db *sqlx.DB) error {
		if err := newUsers(db).EnsureTable(ctx); err != nil {
			return fmt.Errorf("users table: %w", err)
		}
		if err := newTransactions(db).EnsureTable(ctx); err != nil {
			return fmt.Errorf("transactions table: %w", err)
		}
		return nil
	})
}

func (s *Store) unix() int64 { return s.now().Unix() }

func isNoRows(err error) bool { return errors.Is(err, sql.ErrNoRows) }
