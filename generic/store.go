/*
store.go - Persistence interface for ledger entries

PURPOSE:
  Defines the interface between the posting engine and the database.
  The Store handles persistence while maintaining append-only semantics.
  Different implementations can use SQLite or in-memory storage.

KEY INTERFACES:
  Store:   Core entry persistence (append, load, exists)
  TxStore: Transactional operations (atomic multi-entry writes)

APPEND-ONLY CONTRACT:
  The Store interface enforces append-only semantics:
  - Append(): Single entry write
  - AppendBatch(): Atomic multi-entry write
  - NO Update() or Delete() methods exist

IDEMPOTENCY:
  An entry may carry an idempotency key. If the key already exists,
  the write is rejected. This prevents duplicate postings from
  network retries or user double-clicks.

ATOMIC BATCHES:
  AppendBatch() ensures all-or-nothing semantics. Moving 1000 kg from
  farmer stock to own stock is two entries; either both are written or
  neither is.

IMPLEMENTATIONS:
  - store/sqlite/sqlite.go: Production SQLite
  - generic/store/memory.go: In-memory for testing

SEE ALSO:
  - ledger.go: Higher-level interface using Store
*/
package generic

import "context"

// =============================================================================
// STORE - Interface for entry persistence (append-only)
// =============================================================================

// Store handles persistence of ledger entries.
// IMPORTANT: Store is APPEND-ONLY. No Update, No Delete. Ever.
// Corrections are made via reversal entries.
type Store interface {
	// Append persists an entry. Returns error if idempotency key exists.
	Append(ctx context.Context, e Entry) error

	// AppendBatch persists multiple entries atomically.
	AppendBatch(ctx context.Context, entries []Entry) error

	// Load returns all entries of one account in insertion order.
	Load(ctx context.Context, account AccountKey) ([]Entry, error)

	// LoadByHolder returns entries of every account of a kind owned by
	// holder (e.g. all cultures of one farmer), in insertion order.
	LoadByHolder(ctx context.Context, kind AccountKind, holder string) ([]Entry, error)

	// Get returns a single entry or ErrEntryNotFound.
	Get(ctx context.Context, id EntryID) (*Entry, error)

	// IsReversed reports whether a reversal entry points at id.
	IsReversed(ctx context.Context, id EntryID) (bool, error)

	// Exists checks if idempotency key already exists.
	Exists(ctx context.Context, idempotencyKey string) (bool, error)
}

// =============================================================================
// TRANSACTIONAL STORE - For atomic operations across multiple writes
// =============================================================================

// TxStore wraps Store with transaction support.
type TxStore interface {
	Store

	// WithTx executes fn within a transaction.
	// If fn returns error, transaction is rolled back.
	// If fn returns nil, transaction is committed.
	WithTx(ctx context.Context, fn func(Store) error) error
}
