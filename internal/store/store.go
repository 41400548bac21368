package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"sync"

	"github.com/bwmarrin/snowflake"
	_ "github.com/mattn/go-sqlite3"

	"github.com/roach88/till/internal/ids"
)

// Store provides durable storage for the local ledger.
// Uses SQLite with WAL mode for concurrent read access.
type Store struct {
	db       *sql.DB
	outboxID *snowflake.Node

	mu        sync.Mutex
	listeners []func()
	enqueued  []func()
}

// Option configures Open.
type Option func(*openConfig)

type openConfig struct {
	nodeID int64
}

// WithNodeID sets the snowflake node used for outbox entry IDs. Each client
// instance sharing a remote should use a distinct node.
func WithNodeID(id int64) Option {
	return func(c *openConfig) { c.nodeID = id }
}

// Open creates or opens a SQLite database at the given path.
// Applies required pragmas and migrations automatically.
//
// The database is configured with:
//   - WAL mode for concurrent reads during writes
//   - NORMAL synchronous mode (balance durability/performance)
//   - 5-second busy timeout for lock contention
//   - Foreign key enforcement
//   - Immediate transactions (write lock taken at BEGIN)
//
// This function is idempotent - safe to call multiple times.
func Open(path string, opts ...Option) (*Store, error) {
	cfg := openConfig{nodeID: 1}
	for _, opt := range opts {
		opt(&cfg)
	}

	node, err := ids.NewNode(cfg.nodeID)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db, err := sql.Open("sqlite3", dsn(path))
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	// SQLite only supports one writer at a time, so limit connections
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if err := applyPragmas(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply pragmas: %w", err)
	}

	if err := migrate(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}

	return &Store{db: db, outboxID: node}, nil
}

// dsn appends connection parameters that must hold for every connection the
// pool opens. go-sqlite3 strips them from plain paths before opening.
func dsn(path string) string {
	sep := "?"
	if strings.Contains(path, "?") {
		sep = "&"
	}
	return path + sep + "_txlock=immediate&_foreign_keys=on&_busy_timeout=5000"
}

// Close closes the database connection.
// Should be called when the store is no longer needed.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// DB returns the underlying sql.DB for direct queries.
// Use with caution - prefer using Store methods when available.
func (s *Store) DB() *sql.DB {
	return s.db
}

// OnTicketsChanged registers fn to run after any committed transaction that
// touched tickets or ticket items. Listeners run synchronously on the
// committing goroutine and must not block.
func (s *Store) OnTicketsChanged(fn func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listeners = append(s.listeners, fn)
}

// OnOutboxEnqueued registers fn to run after any committed transaction that
// appended to the outbox. Quiet transactions still notify.
func (s *Store) OnOutboxEnqueued(fn func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.enqueued = append(s.enqueued, fn)
}

func (s *Store) notifyTicketsChanged() {
	s.mu.Lock()
	listeners := append([]func(){}, s.listeners...)
	s.mu.Unlock()
	for _, fn := range listeners {
		fn()
	}
}

func (s *Store) notifyOutboxEnqueued() {
	s.mu.Lock()
	listeners := append([]func(){}, s.enqueued...)
	s.mu.Unlock()
	for _, fn := range listeners {
		fn()
	}
}

// WithTx runs fn inside a write transaction. The transaction commits if fn
// returns nil and rolls back otherwise.
func (s *Store) WithTx(ctx context.Context, fn func(tx *Tx) error) error {
	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer sqlTx.Rollback() // No-op if committed

	tx := &Tx{q: sqlTx, outboxID: s.outboxID}
	if err := fn(tx); err != nil {
		return err
	}

	if err := sqlTx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}

	if tx.ticketsDirty && !tx.quiet {
		s.notifyTicketsChanged()
	}
	if tx.outboxDirty {
		s.notifyOutboxEnqueued()
	}
	return nil
}

// View runs fn against the database outside of an explicit transaction.
// Intended for reads; writes made through the Tx autocommit individually.
func (s *Store) View(ctx context.Context, fn func(tx *Tx) error) error {
	return fn(&Tx{q: s.db, outboxID: s.outboxID})
}

// Reset deletes every ledger row, keeping the schema. This is the only way
// shifts are hard-deleted.
func (s *Store) Reset(ctx context.Context) error {
	return s.WithTx(ctx, func(tx *Tx) error {
		for _, table := range []string{
			"ticket_items", "tickets", "void_requests", "notifications",
			"audit_log", "shifts", "outbox", "preferences",
		} {
			if _, err := tx.q.ExecContext(ctx, "DELETE FROM "+table); err != nil {
				return fmt.Errorf("reset %s: %w", table, err)
			}
		}
		tx.ticketsDirty = true
		return nil
	})
}

// applyPragmas sets required SQLite configuration.
func applyPragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA foreign_keys = ON",
	}

	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			return fmt.Errorf("failed to execute %q: %w", pragma, err)
		}
	}

	return nil
}

// verifyPragma checks that a pragma is set to the expected value.
// Used for testing.
func (s *Store) verifyPragma(name, expected string) error {
	var value string
	query := fmt.Sprintf("PRAGMA %s", name)
	if err := s.db.QueryRow(query).Scan(&value); err != nil {
		return fmt.Errorf("failed to query %s: %w", name, err)
	}
	if value != expected {
		return fmt.Errorf("%s = %q, expected %q", name, value, expected)
	}
	return nil
}
