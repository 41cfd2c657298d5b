// Package store provides Store implementations.
package store

import (
	"context"
	"maps"
	"slices"
	"sync"

	"github.com/bitbadges/balance-engine/generic"
)

// =============================================================================
// MEMORY STORE - In-memory implementation (for testing/dev)
// =============================================================================

// Memory keeps ledgers in their encoded storage form so reads and writes
// go through the same Encode/Decode boundary as a real database.
type Memory struct {
	mu          sync.RWMutex
	balances    map[key][]generic.StoredBalance
	transfers   []generic.Transfer
	transferIDs map[generic.TransferID]bool
	idempotency map[string]bool
}

type key struct {
	CollectionID generic.CollectionID
	HolderID     generic.HolderID
}

func NewMemory() *Memory {
	return &Memory{
		balances:    make(map[key][]generic.StoredBalance),
		transferIDs: make(map[generic.TransferID]bool),
		idempotency: make(map[string]bool),
	}
}

func (m *Memory) Load(_ context.Context, collectionID generic.CollectionID, holderID generic.HolderID) (generic.Ledger, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.loadLocked(collectionID, holderID)
}

func (m *Memory) loadLocked(collectionID generic.CollectionID, holderID generic.HolderID) (generic.Ledger, error) {
	stored, ok := m.balances[key{CollectionID: collectionID, HolderID: holderID}]
	if !ok {
		return nil, nil
	}
	return generic.Decode(stored)
}

// Save replaces a holder's ledger. An empty ledger removes the holder.
func (m *Memory) Save(_ context.Context, collectionID generic.CollectionID, holderID generic.HolderID, l generic.Ledger) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.saveLocked(collectionID, holderID, l)
}

func (m *Memory) saveLocked(collectionID generic.CollectionID, holderID generic.HolderID, l generic.Ledger) error {
	stored, err := generic.Encode(l)
	if err != nil {
		return err
	}
	k := key{CollectionID: collectionID, HolderID: holderID}
	if len(stored) == 0 {
		delete(m.balances, k)
		return nil
	}
	m.balances[k] = stored
	return nil
}

func (m *Memory) Holders(_ context.Context, collectionID generic.CollectionID) ([]generic.HolderID, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.holdersLocked(collectionID), nil
}

func (m *Memory) holdersLocked(collectionID generic.CollectionID) []generic.HolderID {
	var out []generic.HolderID
	for k := range m.balances {
		if k.CollectionID == collectionID {
			out = append(out, k.HolderID)
		}
	}
	slices.Sort(out)
	return out
}

// AppendTransfer records a transfer. Append-only.
func (m *Memory) AppendTransfer(_ context.Context, t generic.Transfer) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.appendLocked(t)
}

func (m *Memory) appendLocked(t generic.Transfer) error {
	if t.IdempotencyKey != "" && m.idempotency[t.IdempotencyKey] {
		return generic.ErrDuplicateIdempotencyKey
	}
	if m.transferIDs[t.ID] {
		return generic.ErrDuplicateTransferID
	}
	t.To = slices.Clone(t.To)
	t.Ranges = slices.Clone(t.Ranges)
	m.transfers = append(m.transfers, t)
	m.transferIDs[t.ID] = true
	if t.IdempotencyKey != "" {
		m.idempotency[t.IdempotencyKey] = true
	}
	return nil
}

func (m *Memory) Transfers(_ context.Context, collectionID generic.CollectionID) ([]generic.Transfer, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.transfersLocked(collectionID), nil
}

func (m *Memory) transfersLocked(collectionID generic.CollectionID) []generic.Transfer {
	var out []generic.Transfer
	for _, t := range m.transfers {
		if t.CollectionID == collectionID {
			out = append(out, t)
		}
	}
	return out
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

	// Snapshot current state
	snapshot := tm.snapshot()

	// Create a transactional view
	txStore := &txMemoryView{parent: tm}

	if err := fn(txStore); err != nil {
		tm.restore(snapshot)
		return err
	}
	return nil
}

func (tm *TxMemory) snapshot() memorySnapshot {
	balancesCopy := make(map[key][]generic.StoredBalance, len(tm.balances))
	for k, v := range tm.balances {
		balancesCopy[k] = v
	}
	return memorySnapshot{
		balances:    balancesCopy,
		transfers:   slices.Clone(tm.transfers),
		transferIDs: maps.Clone(tm.transferIDs),
		idempotency: maps.Clone(tm.idempotency),
	}
}

func (tm *TxMemory) restore(s memorySnapshot) {
	tm.balances = s.balances
	tm.transfers = s.transfers
	tm.transferIDs = s.transferIDs
	tm.idempotency = s.idempotency
}

// Stored balances are replaced wholesale on Save and never edited in
// place, so a shallow map copy is a full snapshot.
type memorySnapshot struct {
	balances    map[key][]generic.StoredBalance
	transfers   []generic.Transfer
	transferIDs map[generic.TransferID]bool
	idempotency map[string]bool
}

type txMemoryView struct {
	parent *TxMemory
}

func (tv *txMemoryView) Load(_ context.Context, collectionID generic.CollectionID, holderID generic.HolderID) (generic.Ledger, error) {
	return tv.parent.loadLocked(collectionID, holderID)
}

func (tv *txMemoryView) Save(_ context.Context, collectionID generic.CollectionID, holderID generic.HolderID, l generic.Ledger) error {
	return tv.parent.saveLocked(collectionID, holderID, l)
}

func (tv *txMemoryView) Holders(_ context.Context, collectionID generic.CollectionID) ([]generic.HolderID, error) {
	return tv.parent.holdersLocked(collectionID), nil
}

func (tv *txMemoryView) AppendTransfer(_ context.Context, t generic.Transfer) error {
	return tv.parent.appendLocked(t)
}

func (tv *txMemoryView) Transfers(_ context.Context, collectionID generic.CollectionID) ([]generic.Transfer, error) {
	return tv.parent.transfersLocked(collectionID), nil
}

func (tv *txMemoryView) Exists(_ context.Context, idempotencyKey string) (bool, error) {
	return tv.parent.idempotency[idempotencyKey], nil
}
