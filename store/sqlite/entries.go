package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
	"github.com/warp/grain-ledger/generic"
)

// =============================================================================
// ENTRY STORE (generic.Store interface)
// =============================================================================

const entryColumns = `id, account_kind, account_holder, account_asset, delta_value, delta_unit,
	entry_type, reference_id, reversal_of, reason, idempotency_key, metadata_json, created_by, created_at`

// Append adds an entry to the ledger.
func (q *queries) Append(ctx context.Context, e generic.Entry) error {
	var metadataJSON sql.NullString
	if len(e.Metadata) > 0 {
		b, err := json.Marshal(e.Metadata)
		if err != nil {
			return fmt.Errorf("failed to encode entry metadata: %w", err)
		}
		metadataJSON = sql.NullString{String: string(b), Valid: true}
	}

	query := `INSERT INTO entries (` + entryColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	_, err := q.q.ExecContext(ctx, query,
		e.ID,
		e.Account.Kind,
		e.Account.Holder,
		e.Account.Asset,
		e.Delta.Value,
		e.Delta.Unit,
		e.Type,
		nullString(e.ReferenceID),
		nullString(string(e.ReversalOf)),
		nullString(e.Reason),
		nullString(e.IdempotencyKey),
		metadataJSON,
		nullString(e.CreatedBy),
		formatTime(e.CreatedAt),
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			if strings.Contains(err.Error(), "reversal_of") {
				return generic.ErrAlreadyReversed
			}
			return generic.ErrDuplicateIdempotencyKey
		}
		return fmt.Errorf("failed to append entry: %w", err)
	}
	return nil
}

// AppendBatch adds entries in order. On the Store itself the batch runs
// in its own transaction; inside WithTx it joins the open one.
func (q *queries) AppendBatch(ctx context.Context, entries []generic.Entry) error {
	keys := make(map[string]bool)
	for _, e := range entries {
		if e.IdempotencyKey != "" {
			if keys[e.IdempotencyKey] {
				return generic.ErrDuplicateIdempotencyKey
			}
			keys[e.IdempotencyKey] = true
		}
	}

	db, ok := q.q.(*sql.DB)
	if !ok {
		for _, e := range entries {
			if err := q.Append(ctx, e); err != nil {
				return err
			}
		}
		return nil
	}

	sqlTx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	inTx := &queries{q: sqlTx}
	for _, e := range entries {
		if err := inTx.Append(ctx, e); err != nil {
			return err
		}
	}
	return sqlTx.Commit()
}

// Load returns all entries of one account in insertion order.
func (q *queries) Load(ctx context.Context, account generic.AccountKey) ([]generic.Entry, error) {
	query := `SELECT ` + entryColumns + ` FROM entries
		WHERE account_kind = ? AND account_holder = ? AND account_asset = ?
		ORDER BY seq ASC`
	return q.queryEntries(ctx, query, account.Kind, account.Holder, account.Asset)
}

// LoadByHolder returns entries of every account of a kind owned by holder.
func (q *queries) LoadByHolder(ctx context.Context, kind generic.AccountKind, holder string) ([]generic.Entry, error) {
	query := `SELECT ` + entryColumns + ` FROM entries
		WHERE account_kind = ? AND account_holder = ?
		ORDER BY seq ASC`
	return q.queryEntries(ctx, query, kind, holder)
}

// Get returns a single entry.
func (q *queries) Get(ctx context.Context, id generic.EntryID) (*generic.Entry, error) {
	row := q.q.QueryRowContext(ctx, `SELECT `+entryColumns+` FROM entries WHERE id = ?`, id)
	e, err := scanEntry(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%s: %w", id, generic.ErrEntryNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &e, nil
}

// IsReversed reports whether a reversal entry points at id.
func (q *queries) IsReversed(ctx context.Context, id generic.EntryID) (bool, error) {
	var count int
	err := q.q.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM entries WHERE reversal_of = ?", id,
	).Scan(&count)
	return count > 0, err
}

// Exists checks if an idempotency key exists.
func (q *queries) Exists(ctx context.Context, idempotencyKey string) (bool, error) {
	var count int
	err := q.q.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM entries WHERE idempotency_key = ?", idempotencyKey,
	).Scan(&count)
	return count > 0, err
}

func (q *queries) queryEntries(ctx context.Context, query string, args ...any) ([]generic.Entry, error) {
	rows, err := q.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query entries: %w", err)
	}
	defer rows.Close()

	var entries []generic.Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func scanEntry(row scanner) (generic.Entry, error) {
	var (
		e              generic.Entry
		deltaValue     decimal.Decimal
		deltaUnit      string
		referenceID    sql.NullString
		reversalOf     sql.NullString
		reason         sql.NullString
		idempotencyKey sql.NullString
		metadataJSON   sql.NullString
		createdBy      sql.NullString
		createdAt      string
	)

	err := row.Scan(
		&e.ID, &e.Account.Kind, &e.Account.Holder, &e.Account.Asset,
		&deltaValue, &deltaUnit, &e.Type,
		&referenceID, &reversalOf, &reason, &idempotencyKey, &metadataJSON, &createdBy, &createdAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return e, err
		}
		return e, fmt.Errorf("failed to scan entry: %w", err)
	}

	e.Delta = generic.Amount{Value: deltaValue, Unit: generic.Unit(deltaUnit)}
	e.ReferenceID = referenceID.String
	e.ReversalOf = generic.EntryID(reversalOf.String)
	e.Reason = reason.String
	e.IdempotencyKey = idempotencyKey.String
	e.CreatedBy = createdBy.String
	e.CreatedAt = parseTime(createdAt)

	if metadataJSON.Valid && metadataJSON.String != "" {
		if err := json.Unmarshal([]byte(metadataJSON.String), &e.Metadata); err != nil {
			return e, fmt.Errorf("failed to decode entry metadata: %w", err)
		}
	}
	return e, nil
}
