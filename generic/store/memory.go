// Package store provides Store implementations.
package store

import (
	"context"
	"sync"

	"github.com/warp/grain-ledger/generic"
)

// =============================================================================
// MEMORY STORE - In-memory implementation (for testing/dev)
// =============================================================================

type Memory struct {
	mu          sync.RWMutex
	entries     []generic.Entry
	byAccount   map[generic.AccountKey][]int
	byID        map[generic.EntryID]int
	reversed    map[generic.EntryID]bool
	idempotency map[string]bool
}

func NewMemory() *Memory {
	return &Memory{
		byAccount:   make(map[generic.AccountKey][]int),
		byID:        make(map[generic.EntryID]int),
		reversed:    make(map[generic.EntryID]bool),
		idempotency: make(map[string]bool),
	}
}

// Append adds a single entry. Append-only.
func (m *Memory) Append(_ context.Context, e generic.Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.appendLocked(e)
}

// AppendBatch adds multiple entries atomically.
func (m *Memory) AppendBatch(_ context.Context, entries []generic.Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.appendBatchLocked(entries)
}

func (m *Memory) appendBatchLocked(entries []generic.Entry) error {
	// Check all keys first (atomic check)
	seen := make(map[string]bool)
	for _, e := range entries {
		if e.IdempotencyKey == "" {
			continue
		}
		if m.idempotency[e.IdempotencyKey] || seen[e.IdempotencyKey] {
			return generic.ErrDuplicateIdempotencyKey
		}
		seen[e.IdempotencyKey] = true
	}
	for _, e := range entries {
		if err := m.appendLocked(e); err != nil {
			return err
		}
	}
	return nil
}

func (m *Memory) appendLocked(e generic.Entry) error {
	if e.IdempotencyKey != "" && m.idempotency[e.IdempotencyKey] {
		return generic.ErrDuplicateIdempotencyKey
	}
	if e.ReversalOf != "" && m.reversed[e.ReversalOf] {
		return generic.ErrAlreadyReversed
	}

	i := len(m.entries)
	m.entries = append(m.entries, e)
	m.byAccount[e.Account] = append(m.byAccount[e.Account], i)
	m.byID[e.ID] = i
	if e.ReversalOf != "" {
		m.reversed[e.ReversalOf] = true
	}
	if e.IdempotencyKey != "" {
		m.idempotency[e.IdempotencyKey] = true
	}
	return nil
}

func (m *Memory) Load(_ context.Context, account generic.AccountKey) ([]generic.Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.loadLocked(account), nil
}

func (m *Memory) loadLocked(account generic.AccountKey) []generic.Entry {
	idx := m.byAccount[account]
	result := make([]generic.Entry, len(idx))
	for i, j := range idx {
		result[i] = m.entries[j]
	}
	return result
}

func (m *Memory) LoadByHolder(_ context.Context, kind generic.AccountKind, holder string) ([]generic.Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.loadByHolderLocked(kind, holder), nil
}

func (m *Memory) loadByHolderLocked(kind generic.AccountKind, holder string) []generic.Entry {
	var result []generic.Entry
	for _, e := range m.entries {
		if e.Account.Kind == kind && e.Account.Holder == holder {
			result = append(result, e)
		}
	}
	return result
}

func (m *Memory) Get(_ context.Context, id generic.EntryID) (*generic.Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.getLocked(id)
}

func (m *Memory) getLocked(id generic.EntryID) (*generic.Entry, error) {
	i, ok := m.byID[id]
	if !ok {
		return nil, generic.ErrEntryNotFound
	}
	e := m.entries[i]
	return &e, nil
}

func (m *Memory) IsReversed(_ context.Context, id generic.EntryID) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.reversed[id], nil
}

func (m *Memory) Exists(_ context.Context, idempotencyKey string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.idempotency[idempotencyKey], nil
}

// =============================================================================
// TRANSACTIONAL MEMORY STORE
// =============================================================================

// TxMemory wraps Memory with transaction support.
type TxMemory struct {
	*Memory
}

func NewTxMemory() *TxMemory {
	return &TxMemory{Memory: NewMemory()}
}

// WithTx executes fn within a transaction.
// For memory store, this is simulated with a snapshot + rollback on error.
func (tm *TxMemory) WithTx(ctx context.Context, fn func(generic.Store) error) error {
	tm.mu.Lock()
	defer tm.mu.Unlock()

	snapshot := tm.snapshot()
	if err := fn(&txMemoryView{parent: tm}); err != nil {
		tm.restore(snapshot)
		return err
	}
	return nil
}

type memorySnapshot struct {
	entries     int
	byAccount   map[generic.AccountKey][]int
	byID        map[generic.EntryID]int
	reversed    map[generic.EntryID]bool
	idempotency map[string]bool
}

func (tm *TxMemory) snapshot() memorySnapshot {
	s := memorySnapshot{
		entries:     len(tm.entries),
		byAccount:   make(map[generic.AccountKey][]int, len(tm.byAccount)),
		byID:        make(map[generic.EntryID]int, len(tm.byID)),
		reversed:    make(map[generic.EntryID]bool, len(tm.reversed)),
		idempotency: make(map[string]bool, len(tm.idempotency)),
	}
	for k, v := range tm.byAccount {
		s.byAccount[k] = append([]int{}, v...)
	}
	for k, v := range tm.byID {
		s.byID[k] = v
	}
	for k, v := range tm.reversed {
		s.reversed[k] = v
	}
	for k, v := range tm.idempotency {
		s.idempotency[k] = v
	}
	return s
}

func (tm *TxMemory) restore(s memorySnapshot) {
	tm.entries = tm.entries[:s.entries]
	tm.byAccount = s.byAccount
	tm.byID = s.byID
	tm.reversed = s.reversed
	tm.idempotency = s.idempotency
}

// txMemoryView runs against the parent while WithTx holds its lock.
type txMemoryView struct {
	parent *TxMemory
}

func (tv *txMemoryView) Append(_ context.Context, e generic.Entry) error {
	return tv.parent.appendLocked(e)
}

func (tv *txMemoryView) AppendBatch(_ context.Context, entries []generic.Entry) error {
	return tv.parent.appendBatchLocked(entries)
}

func (tv *txMemoryView) Load(_ context.Context, account generic.AccountKey) ([]generic.Entry, error) {
	return tv.parent.loadLocked(account), nil
}

func (tv *txMemoryView) LoadByHolder(_ context.Context, kind generic.AccountKind, holder string) ([]generic.Entry, error) {
	return tv.parent.loadByHolderLocked(kind, holder), nil
}

func (tv *txMemoryView) Get(_ context.Context, id generic.EntryID) (*generic.Entry, error) {
	return tv.parent.getLocked(id)
}

func (tv *txMemoryView) IsReversed(_ context.Context, id generic.EntryID) (bool, error) {
	return tv.parent.reversed[id], nil
}

func (tv *txMemoryView) Exists(_ context.Context, idempotencyKey string) (bool, error) {
	return tv.parent.idempotency[idempotencyKey], nil
}
