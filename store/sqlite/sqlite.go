/*
Package sqlite provides a SQLite-backed implementation of the storage interfaces.

PURPOSE:
  Implements settlement.Repository (and with it generic.Store) using SQLite.
  Ledger entries and settlement records live in the same database so one
  operation commits or rolls back as a unit.

APPEND-ONLY ENFORCEMENT:
  The entries table is append-only:
  - No UPDATE statements on entries
  - No DELETE statements on entries
  - Corrections via reversal entries only, at most one per original
    (unique index on reversal_of)

KEY TABLES:
  entries:            Immutable ledger of every balance change
  cultures:           Crop types with admin price
  farmers:            Grain owners
  stock_goods:        Purchase goods, unique on (normalized_name, category)
  contracts:          Contract headers (status, balance)
  contract_items:     Committed lines with delivered_kg
  contract_payments:  Payments with their reversible delta (JSON)
  vouchers:           Bakery vouchers
  voucher_payments:   Cash received against the voucher pool
  intakes:            Grain weighed in

DECIMALS:
  Stored as TEXT via decimal.Decimal's sql.Scanner/driver.Valuer so no
  value ever passes through float64.

CONCURRENCY:
  A single connection plus a writer mutex: WithTx bodies run one at a time,
  so a balance check and the write that depends on it see the same state.
  Reads outside WithTx wait for the connection.

WAL MODE:
  File databases are opened with WAL (Write-Ahead Logging) for better
  crash recovery.

USAGE:
  store, err := sqlite.New("./data/ledger.db")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

  svc := settlement.NewService(store, cfg, logger)

MIGRATION:
  Schema is auto-migrated on New().

SEE ALSO:
  - generic/store.go: Entry store interface
  - settlement/repository.go: Record store interfaces
  - generic/store/memory.go: In-memory entry store for testing
*/
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/mattn/go-sqlite3"
	"github.com/warp/grain-ledger/settlement"
)

var (
	_ settlement.Repository = (*Store)(nil)
	_ settlement.Tx         = (*queries)(nil)
)

// Store implements settlement.Repository using SQLite.
type Store struct {
	*queries
	db *sql.DB
	mu sync.Mutex
}

// querier is the subset of *sql.DB and *sql.Tx the queries need.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// queries runs every statement against db or an open transaction.
type queries struct {
	q querier
}

// New creates a new SQLite store with the given database path.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	dsn := dbPath + "?_foreign_keys=on&_busy_timeout=5000"
	if dbPath != ":memory:" {
		dsn += "&_journal_mode=WAL"
	}
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// ":memory:" is per connection; a single connection also serialises writers.
	db.SetMaxOpenConns(1)

	store := &Store{queries: &queries{q: db}, db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping checks the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// migrate creates the database schema.
func (s *Store) migrate() error {
	schema := `
	-- Ledger entries (append-only)
	CREATE TABLE IF NOT EXISTS entries (
		seq INTEGER PRIMARY KEY AUTOINCREMENT,
		id TEXT NOT NULL UNIQUE,
		account_kind TEXT NOT NULL,
		account_holder TEXT NOT NULL,
		account_asset TEXT NOT NULL,
		delta_value TEXT NOT NULL,
		delta_unit TEXT NOT NULL,
		entry_type TEXT NOT NULL,
		reference_id TEXT,
		reversal_of TEXT,
		reason TEXT,
		idempotency_key TEXT UNIQUE,
		metadata_json TEXT,
		created_by TEXT,
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_entries_account
		ON entries(account_kind, account_holder, account_asset);
	CREATE INDEX IF NOT EXISTS idx_entries_reference
		ON entries(reference_id) WHERE reference_id IS NOT NULL;

	-- An entry is reversed at most once
	CREATE UNIQUE INDEX IF NOT EXISTS idx_entries_reversal_of
		ON entries(reversal_of) WHERE reversal_of IS NOT NULL;

	CREATE TABLE IF NOT EXISTS cultures (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL UNIQUE,
		price_per_kg TEXT NOT NULL,
		created_at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS farmers (
		id TEXT PRIMARY KEY,
		full_name TEXT NOT NULL,
		phone TEXT,
		created_at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS stock_goods (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		normalized_name TEXT NOT NULL,
		category TEXT NOT NULL,
		sale_price_per_kg TEXT NOT NULL,
		created_at TEXT NOT NULL,
		UNIQUE(normalized_name, category)
	);

	CREATE TABLE IF NOT EXISTS contracts (
		id TEXT PRIMARY KEY,
		owner_id TEXT NOT NULL REFERENCES farmers(id),
		contract_type TEXT NOT NULL,
		status TEXT NOT NULL,
		currency TEXT NOT NULL,
		exchange_rate TEXT NOT NULL,
		total_value TEXT NOT NULL,
		balance TEXT NOT NULL,
		was_reserve INTEGER NOT NULL DEFAULT 0,
		note TEXT,
		created_by TEXT,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_contracts_owner ON contracts(owner_id);
	CREATE INDEX IF NOT EXISTS idx_contracts_status ON contracts(status);

	CREATE TABLE IF NOT EXISTS contract_items (
		id TEXT PRIMARY KEY,
		contract_id TEXT NOT NULL REFERENCES contracts(id) ON DELETE CASCADE,
		position INTEGER NOT NULL,
		direction TEXT NOT NULL,
		item_type TEXT NOT NULL,
		culture_id TEXT,
		stock_good_id TEXT,
		item_name TEXT NOT NULL,
		quantity_kg TEXT NOT NULL,
		price_per_kg TEXT NOT NULL,
		total_value TEXT NOT NULL,
		delivered_kg TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_contract_items_contract ON contract_items(contract_id);

	CREATE TABLE IF NOT EXISTS contract_payments (
		id TEXT PRIMARY KEY,
		contract_id TEXT NOT NULL REFERENCES contracts(id),
		payment_type TEXT NOT NULL,
		contract_item_id TEXT,
		culture_id TEXT,
		item_name TEXT,
		quantity_kg TEXT NOT NULL,
		amount TEXT NOT NULL,
		amount_base TEXT NOT NULL,
		currency TEXT NOT NULL,
		exchange_rate TEXT NOT NULL,
		is_cancelled INTEGER NOT NULL DEFAULT 0,
		cancelled_at TEXT,
		payment_date TEXT NOT NULL,
		created_by TEXT,
		delta_json TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_contract_payments_contract ON contract_payments(contract_id);

	CREATE TABLE IF NOT EXISTS vouchers (
		id TEXT PRIMARY KEY,
		contract_id TEXT NOT NULL REFERENCES contracts(id),
		contract_item_id TEXT NOT NULL,
		payment_id TEXT NOT NULL,
		owner_id TEXT NOT NULL,
		culture_id TEXT NOT NULL,
		quantity_kg TEXT NOT NULL,
		price_per_kg TEXT NOT NULL,
		total_value TEXT NOT NULL,
		is_cancelled INTEGER NOT NULL DEFAULT 0,
		created_at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS voucher_payments (
		id TEXT PRIMARY KEY,
		currency TEXT NOT NULL,
		amount TEXT NOT NULL,
		exchange_rate TEXT NOT NULL,
		amount_base TEXT NOT NULL,
		description TEXT,
		cash_entry_id TEXT,
		is_cancelled INTEGER NOT NULL DEFAULT 0,
		created_by TEXT,
		created_at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS intakes (
		id TEXT PRIMARY KEY,
		farmer_id TEXT REFERENCES farmers(id),
		culture_id TEXT NOT NULL REFERENCES cultures(id),
		is_own_grain INTEGER NOT NULL DEFAULT 0,
		net_weight_kg TEXT NOT NULL,
		impurity_percent TEXT NOT NULL,
		accepted_kg TEXT NOT NULL,
		pending_quality INTEGER NOT NULL DEFAULT 0,
		note TEXT,
		created_by TEXT,
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_intakes_farmer ON intakes(farmer_id);

	CREATE TABLE IF NOT EXISTS purchases (
		id TEXT PRIMARY KEY,
		stock_good_id TEXT NOT NULL REFERENCES stock_goods(id),
		item_name TEXT NOT NULL,
		category TEXT NOT NULL,
		quantity_kg TEXT NOT NULL,
		price_per_kg TEXT NOT NULL,
		currency TEXT NOT NULL,
		total_amount TEXT NOT NULL,
		stock_entry_id TEXT NOT NULL,
		cash_entry_id TEXT NOT NULL,
		created_by TEXT,
		created_at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS shipments (
		id TEXT PRIMARY KEY,
		culture_id TEXT NOT NULL REFERENCES cultures(id),
		destination TEXT NOT NULL,
		quantity_kg TEXT NOT NULL,
		stock_entry_id TEXT NOT NULL,
		created_by TEXT,
		created_at TEXT NOT NULL
	);
	`

	_, err := s.db.Exec(schema)
	return err
}

// =============================================================================
// TRANSACTIONAL STORE (settlement.Repository)
// =============================================================================

// WithTx executes fn within a database transaction. fn's error rolls back
// every entry and record it wrote.
func (s *Store) WithTx(ctx context.Context, fn func(tx settlement.Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	if err := fn(&queries{q: sqlTx}); err != nil {
		return err
	}

	return sqlTx.Commit()
}

// Reset deletes all data (demo reset).
func (s *Store) Reset(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tables := []string{
		"purchases", "shipments", "intakes", "voucher_payments", "vouchers", "contract_payments",
		"contract_items", "contracts", "stock_goods", "farmers", "cultures", "entries",
	}
	for _, t := range tables {
		if _, err := s.db.ExecContext(ctx, "DELETE FROM "+t); err != nil {
			return fmt.Errorf("failed to reset %s: %w", t, err)
		}
	}
	return nil
}

// Helper functions

type scanner interface {
	Scan(dest ...any) error
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

// timeLayout is fixed width so timestamps sort as text.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) time.Time {
	t, _ := time.Parse(time.RFC3339Nano, s)
	return t
}

func isUniqueConstraintError(err error) bool {
	var se sqlite3.Error
	if errors.As(err, &se) {
		return se.ExtendedCode == sqlite3.ErrConstraintUnique
	}
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}

// notFound maps sql.ErrNoRows to the settlement not-found error.
func notFound(err error, what, id string) error {
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%s %s: %w", what, id, settlement.ErrNotFound)
	}
	return fmt.Errorf("failed to load %s: %w", what, err)
}

// rowsAffected returns a not-found error when an update matched nothing.
func rowsAffected(res sql.Result, what, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%s %s: %w", what, id, settlement.ErrNotFound)
	}
	return nil
}
