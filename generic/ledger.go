/*
ledger.go - Append-only posting log

PURPOSE:
  The Ledger is the immutable source of truth for every balance change.
  Every intake credit, settlement debit, stock movement, reservation and
  cash movement is recorded here. Balance is always computed by summing
  entries - there's no separate "balance" field that can get out of sync.

CRITICAL INVARIANTS:
  1. APPEND-ONLY: No Update, No Delete. EVER.
  2. IMMUTABLE: Once written, entries cannot be modified
  3. AUDITABLE: Every balance change is traceable with full context
  4. IDEMPOTENT: Same idempotency key = same entry (no duplicates)
  5. COVERED: Withdraw never drives an account below zero

CORRECTIONS:
  If an operation is cancelled, you don't edit its entries. Instead:
  1. Create a Reversal entry (opposite sign, ReversalOf = original)
  2. Both original and reversal remain in the ledger
  3. An entry can be reversed at most once

EXAMPLE FLOW:
  1. Intake of 1000 kg wheat:       farmer_grain +1000
  2. Payment contract for 600 kg:   farmer_grain -600
  3. Payment cancelled:             farmer_grain +600 (reversal of 2)

  farmer_grain: [+1000, -600, +600] = 1000 kg

SEE ALSO:
  - store.go: Low-level persistence interface
*/
package generic

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// =============================================================================
// LEDGER - Append-only posting log
// =============================================================================

// Ledger is the source of truth for all balance changes.
//
// INVARIANTS:
//   - Append-only: No Update, No Delete. EVER.
//   - Immutable: Once written, entries cannot be modified.
//   - Auditable: Every balance change is traceable.
//
// Corrections are made via reversal entries, not edits.
type Ledger interface {
	// Append adds an entry and returns it with ID and timestamp filled in.
	Append(ctx context.Context, e Entry) (Entry, error)

	// AppendBatch adds multiple entries atomically.
	AppendBatch(ctx context.Context, entries []Entry) ([]Entry, error)

	// Withdraw appends a negative entry only if the account covers it.
	Withdraw(ctx context.Context, e Entry) (Entry, error)

	// Transfer moves amount from one account to another. The source must
	// cover the amount.
	Transfer(ctx context.Context, from, to AccountKey, amount Amount, template Entry) ([]Entry, error)

	// Reverse appends the exact negation of an entry.
	Reverse(ctx context.Context, id EntryID, opts ReverseOptions) (Entry, error)

	// Entries returns all entries of an account, chronologically.
	Entries(ctx context.Context, account AccountKey) ([]Entry, error)

	// Balance sums the entries of an account.
	Balance(ctx context.Context, account AccountKey, unit Unit) (Amount, error)
}

// ReverseOptions controls how a reversal is posted.
type ReverseOptions struct {
	Reason    string
	CreatedBy string

	// AllowNegative skips the coverage check when the reversal removes
	// value from the account (e.g. undoing an intake credit).
	AllowNegative bool
}

// =============================================================================
// DEFAULT LEDGER - Implementation using Store
// =============================================================================

type DefaultLedger struct {
	Store Store
	Now   func() time.Time
}

func NewLedger(store Store) *DefaultLedger {
	return &DefaultLedger{Store: store, Now: func() time.Time { return time.Now().UTC() }}
}

func (l *DefaultLedger) prepare(e Entry) Entry {
	if e.ID == "" {
		e.ID = EntryID(uuid.NewString())
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = l.Now()
	}
	e.Delta = e.Delta.Round()
	return e
}

func (l *DefaultLedger) Append(ctx context.Context, e Entry) (Entry, error) {
	e = l.prepare(e)
	if e.IdempotencyKey != "" {
		exists, err := l.Store.Exists(ctx, e.IdempotencyKey)
		if err != nil {
			return Entry{}, err
		}
		if exists {
			return Entry{}, ErrDuplicateIdempotencyKey
		}
	}
	if err := l.Store.Append(ctx, e); err != nil {
		return Entry{}, err
	}
	return e, nil
}

func (l *DefaultLedger) AppendBatch(ctx context.Context, entries []Entry) ([]Entry, error) {
	prepared := make([]Entry, len(entries))
	seen := make(map[string]bool)
	for i, e := range entries {
		e = l.prepare(e)
		if e.IdempotencyKey != "" {
			if seen[e.IdempotencyKey] {
				return nil, ErrDuplicateIdempotencyKey
			}
			seen[e.IdempotencyKey] = true
			exists, err := l.Store.Exists(ctx, e.IdempotencyKey)
			if err != nil {
				return nil, err
			}
			if exists {
				return nil, ErrDuplicateIdempotencyKey
			}
		}
		prepared[i] = e
	}
	if err := l.Store.AppendBatch(ctx, prepared); err != nil {
		return nil, err
	}
	return prepared, nil
}

func (l *DefaultLedger) Withdraw(ctx context.Context, e Entry) (Entry, error) {
	if !e.Delta.IsNegative() {
		return Entry{}, fmt.Errorf("withdraw from %s: delta must be negative, got %s", e.Account, e.Delta)
	}
	if err := l.cover(ctx, e.Account, e.Delta.Neg()); err != nil {
		return Entry{}, err
	}
	return l.Append(ctx, e)
}

func (l *DefaultLedger) Transfer(ctx context.Context, from, to AccountKey, amount Amount, template Entry) ([]Entry, error) {
	if !amount.IsPositive() {
		return nil, fmt.Errorf("transfer %s -> %s: amount must be positive, got %s", from, to, amount)
	}
	if err := l.cover(ctx, from, amount); err != nil {
		return nil, err
	}

	out := template
	out.ID = ""
	out.Account = from
	out.Delta = amount.Neg()
	in := template
	in.ID = ""
	in.Account = to
	in.Delta = amount
	if template.IdempotencyKey != "" {
		out.IdempotencyKey = template.IdempotencyKey + ":out"
		in.IdempotencyKey = template.IdempotencyKey + ":in"
	}
	return l.AppendBatch(ctx, []Entry{out, in})
}

func (l *DefaultLedger) Reverse(ctx context.Context, id EntryID, opts ReverseOptions) (Entry, error) {
	original, err := l.Store.Get(ctx, id)
	if err != nil {
		return Entry{}, err
	}
	if original.Type == EntryReversal {
		return Entry{}, fmt.Errorf("entry %s is itself a reversal", id)
	}
	reversed, err := l.Store.IsReversed(ctx, id)
	if err != nil {
		return Entry{}, err
	}
	if reversed {
		return Entry{}, ErrAlreadyReversed
	}

	if original.Delta.IsPositive() && !opts.AllowNegative {
		if err := l.cover(ctx, original.Account, original.Delta); err != nil {
			return Entry{}, err
		}
	}

	return l.Append(ctx, Entry{
		Account:     original.Account,
		Delta:       original.Delta.Neg(),
		Type:        EntryReversal,
		ReferenceID: original.ReferenceID,
		ReversalOf:  original.ID,
		Reason:      opts.Reason,
		CreatedBy:   opts.CreatedBy,
	})
}

func (l *DefaultLedger) Entries(ctx context.Context, account AccountKey) ([]Entry, error) {
	return l.Store.Load(ctx, account)
}

func (l *DefaultLedger) Balance(ctx context.Context, account AccountKey, unit Unit) (Amount, error) {
	entries, err := l.Store.Load(ctx, account)
	if err != nil {
		return Amount{}, err
	}
	for _, e := range entries {
		if e.Delta.Unit != unit {
			return Amount{}, fmt.Errorf("%w: %s holds %s, asked for %s", ErrUnitMismatch, account, e.Delta.Unit, unit)
		}
	}
	return Sum(entries, unit), nil
}

// cover fails with InsufficientBalanceError when the account cannot give up amount.
func (l *DefaultLedger) cover(ctx context.Context, account AccountKey, amount Amount) error {
	available, err := l.Balance(ctx, account, amount.Unit)
	if err != nil {
		return err
	}
	if amount.Round().GreaterThan(available.Round()) {
		return &InsufficientBalanceError{
			Account:   account,
			Available: available,
			Requested: amount,
			Shortfall: amount.Sub(available),
		}
	}
	return nil
}
