/*
store.go - Persistence interface for ledgers and transfers

PURPOSE:
  Defines the interface between the balance engine and the database.
  Different implementations can use SQLite or in-memory storage.

KEY INTERFACES:
  Store:   Per-holder ledgers plus the append-only transfer log
  TxStore: Store with all-or-nothing transactions

STORAGE FORM:
  Save must persist Encode(ledger). Encode canonicalises, runs
  Ledger.Check and compacts single-ID ranges; a ledger that fails the
  check is never written. Load returns Decode(stored), so callers may
  assume every ledger they read is canonical.

  Saving an empty ledger removes the holder: "no row" and "holds
  nothing" are the same state.

IDEMPOTENCY:
  Transfers may carry an idempotency key. AppendTransfer rejects a
  repeated key with ErrDuplicateIdempotencyKey, so a retried request
  cannot move badges twice. Transfer IDs are unique as well: a repeated
  ID is rejected with ErrDuplicateTransferID.

IMPLEMENTATIONS:
  - store/sqlite/sqlite.go: Production SQLite
  - generic/store/memory.go: In-memory for testing

SEE ALSO:
  - engine.go: Orchestrates load / apply / save inside WithTx
*/
package generic

import "context"

// =============================================================================
// STORE - Interface for ledger persistence
// =============================================================================

// Store persists ledgers keyed by (collection, holder) and records transfers.
type Store interface {
	// Load returns the holder's ledger. A holder never seen is empty, not an error.
	Load(ctx context.Context, collectionID CollectionID, holderID HolderID) (Ledger, error)

	// Save replaces the holder's ledger with the storage form of l.
	Save(ctx context.Context, collectionID CollectionID, holderID HolderID, l Ledger) error

	// Holders lists holders with a non-empty ledger in the collection, sorted.
	Holders(ctx context.Context, collectionID CollectionID) ([]HolderID, error)

	// AppendTransfer records an applied transfer. Append-only.
	// Fails with ErrDuplicateTransferID or ErrDuplicateIdempotencyKey.
	AppendTransfer(ctx context.Context, t Transfer) error

	// Transfers returns the collection's transfers, oldest first.
	Transfers(ctx context.Context, collectionID CollectionID) ([]Transfer, error)

	// Exists checks if an idempotency key was already used.
	Exists(ctx context.Context, idempotencyKey string) (bool, error)
}

// =============================================================================
// TRANSACTIONAL STORE - For atomic operations across multiple writes
// =============================================================================

// TxStore wraps Store with transaction support.
// Use this whenever more than one ledger changes together (transfers).
type TxStore interface {
	Store

	// WithTx executes fn within a transaction.
	// If fn returns error, transaction is rolled back.
	// If fn returns nil, transaction is committed.
	WithTx(ctx context.Context, fn func(Store) error) error
}
