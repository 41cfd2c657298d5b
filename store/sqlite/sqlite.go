/*
Package sqlite provides a SQLite-backed implementation of generic.TxStore.

PURPOSE:
  Persists each holder's ledger in storage form and keeps the
  append-only transfer log. In production the same patterns apply to
  PostgreSQL with minor dialect differences.

KEY TABLES:
  balances:  One row per (collection, holder). balances_json holds the
             output of generic.Encode: canonical, checked, single-ID
             ranges compacted.
  transfers: Append-only log of applied transfers. Amounts are decimal
             TEXT so the full uint64 domain survives any SQL driver.

APPEND-ONLY ENFORCEMENT:
  - No UPDATE or DELETE statements on the transfers table
  - idempotency_key is UNIQUE; a repeat surfaces as
    generic.ErrDuplicateIdempotencyKey
  - id is UNIQUE; a repeat surfaces as generic.ErrDuplicateTransferID

CONCURRENCY:
  Uses sync.RWMutex for thread-safety and a single pooled connection, so
  ":memory:" databases are shared by every call and WithTx never waits
  on itself.

WAL MODE:
  SQLite is opened with WAL (Write-Ahead Logging):
  - Multiple readers don't block
  - Single writer at a time
  - Better crash recovery

USAGE:
  store, err := sqlite.New("./data/badges.db")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

  engine := generic.NewEngine(store, logger)

SEE ALSO:
  - generic/store.go: Interface definitions
  - generic/store/memory.go: In-memory implementation for testing
*/
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/mattn/go-sqlite3"

	"github.com/bitbadges/balance-engine/generic"
	"github.com/bitbadges/balance-engine/ranges"
)

// Store implements generic.TxStore using SQLite.
type Store struct {
	db *sql.DB
	mu sync.RWMutex
}

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// New creates a new SQLite store with the given database path.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)

	store := &Store{db: db}
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

// Ping checks the database is reachable. Used by the health endpoint.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// migrate creates the database schema.
func (s *Store) migrate() error {
	schema := `
	-- Current ledger per holder, in storage form
	CREATE TABLE IF NOT EXISTS balances (
		collection_id TEXT NOT NULL,
		holder_id TEXT NOT NULL,
		balances_json TEXT NOT NULL,
		updated_at TEXT NOT NULL,
		PRIMARY KEY (collection_id, holder_id)
	);

	-- Transfers (append-only log)
	CREATE TABLE IF NOT EXISTS transfers (
		seq INTEGER PRIMARY KEY AUTOINCREMENT,
		id TEXT NOT NULL UNIQUE,
		collection_id TEXT NOT NULL,
		from_holder TEXT NOT NULL,
		to_holders_json TEXT NOT NULL,
		ranges_json TEXT NOT NULL,
		amount TEXT NOT NULL,
		memo TEXT,
		idempotency_key TEXT UNIQUE,
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_transfers_collection
		ON transfers(collection_id, seq);
	CREATE INDEX IF NOT EXISTS idx_transfers_idempotency
		ON transfers(idempotency_key) WHERE idempotency_key IS NOT NULL;
	`

	_, err := s.db.Exec(schema)
	return err
}

// =============================================================================
// LEDGERS
// =============================================================================

// Load returns the holder's ledger, empty if no row exists.
func (s *Store) Load(ctx context.Context, collectionID generic.CollectionID, holderID generic.HolderID) (generic.Ledger, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return loadLedger(ctx, s.db, collectionID, holderID)
}

func loadLedger(ctx context.Context, q querier, collectionID generic.CollectionID, holderID generic.HolderID) (generic.Ledger, error) {
	var raw string
	err := q.QueryRowContext(ctx,
		"SELECT balances_json FROM balances WHERE collection_id = ? AND holder_id = ?",
		collectionID, holderID,
	).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load balances: %w", err)
	}

	var stored []generic.StoredBalance
	if err := json.Unmarshal([]byte(raw), &stored); err != nil {
		return nil, fmt.Errorf("failed to decode balances of %s/%s: %w", collectionID, holderID, err)
	}
	return generic.Decode(stored)
}

// Save replaces the holder's ledger. An empty ledger deletes the row.
func (s *Store) Save(ctx context.Context, collectionID generic.CollectionID, holderID generic.HolderID, l generic.Ledger) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return saveLedger(ctx, s.db, collectionID, holderID, l)
}

func saveLedger(ctx context.Context, q querier, collectionID generic.CollectionID, holderID generic.HolderID, l generic.Ledger) error {
	stored, err := generic.Encode(l)
	if err != nil {
		return err
	}

	if len(stored) == 0 {
		_, err := q.ExecContext(ctx,
			"DELETE FROM balances WHERE collection_id = ? AND holder_id = ?",
			collectionID, holderID)
		if err != nil {
			return fmt.Errorf("failed to delete balances: %w", err)
		}
		return nil
	}

	raw, err := json.Marshal(stored)
	if err != nil {
		return fmt.Errorf("failed to encode balances: %w", err)
	}

	query := `
		INSERT INTO balances (collection_id, holder_id, balances_json, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(collection_id, holder_id) DO UPDATE SET
			balances_json = excluded.balances_json,
			updated_at = excluded.updated_at
	`
	_, err = q.ExecContext(ctx, query,
		collectionID, holderID, string(raw), time.Now().UTC().Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("failed to save balances: %w", err)
	}
	return nil
}

// Holders lists holders with a stored ledger, sorted by ID.
func (s *Store) Holders(ctx context.Context, collectionID generic.CollectionID) ([]generic.HolderID, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return listHolders(ctx, s.db, collectionID)
}

func listHolders(ctx context.Context, q querier, collectionID generic.CollectionID) ([]generic.HolderID, error) {
	rows, err := q.QueryContext(ctx,
		"SELECT holder_id FROM balances WHERE collection_id = ? ORDER BY holder_id",
		collectionID)
	if err != nil {
		return nil, fmt.Errorf("failed to query holders: %w", err)
	}
	defer rows.Close()

	var holders []generic.HolderID
	for rows.Next() {
		var h generic.HolderID
		if err := rows.Scan(&h); err != nil {
			return nil, fmt.Errorf("failed to scan holder: %w", err)
		}
		holders = append(holders, h)
	}
	return holders, rows.Err()
}

// =============================================================================
// TRANSFER LOG
// =============================================================================

// AppendTransfer adds a transfer to the log.
func (s *Store) AppendTransfer(ctx context.Context, t generic.Transfer) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return appendTransfer(ctx, s.db, t)
}

func appendTransfer(ctx context.Context, q querier, t generic.Transfer) error {
	toJSON, err := json.Marshal(t.To)
	if err != nil {
		return fmt.Errorf("failed to encode recipients: %w", err)
	}
	stored, err := ranges.ToStorageForm(t.Ranges)
	if err != nil {
		return err
	}
	rangesJSON, err := json.Marshal(stored)
	if err != nil {
		return fmt.Errorf("failed to encode ranges: %w", err)
	}

	query := `
		INSERT INTO transfers
		(id, collection_id, from_holder, to_holders_json, ranges_json, amount,
		 memo, idempotency_key, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err = q.ExecContext(ctx, query,
		t.ID,
		t.CollectionID,
		t.From,
		string(toJSON),
		string(rangesJSON),
		t.Amount.String(),
		nullString(t.Memo),
		nullString(t.IdempotencyKey),
		t.CreatedAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		switch uniqueConstraintColumn(err) {
		case "transfers.idempotency_key":
			return generic.ErrDuplicateIdempotencyKey
		case "transfers.id":
			return fmt.Errorf("transfer %s: %w", t.ID, generic.ErrDuplicateTransferID)
		}
		return fmt.Errorf("failed to append transfer: %w", err)
	}
	return nil
}

// Transfers returns the collection's transfers in the order they were applied.
func (s *Store) Transfers(ctx context.Context, collectionID generic.CollectionID) ([]generic.Transfer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return listTransfers(ctx, s.db, collectionID)
}

func listTransfers(ctx context.Context, q querier, collectionID generic.CollectionID) ([]generic.Transfer, error) {
	query := `
		SELECT id, collection_id, from_holder, to_holders_json, ranges_json, amount,
		       memo, idempotency_key, created_at
		FROM transfers
		WHERE collection_id = ?
		ORDER BY seq ASC
	`
	rows, err := q.QueryContext(ctx, query, collectionID)
	if err != nil {
		return nil, fmt.Errorf("failed to query transfers: %w", err)
	}
	defer rows.Close()

	var transfers []generic.Transfer
	for rows.Next() {
		t, err := scanTransfer(rows)
		if err != nil {
			return nil, err
		}
		transfers = append(transfers, t)
	}
	return transfers, rows.Err()
}

func scanTransfer(rows *sql.Rows) (generic.Transfer, error) {
	var (
		t              generic.Transfer
		toJSON         string
		rangesJSON     string
		amount         string
		memo           sql.NullString
		idempotencyKey sql.NullString
		createdAt      string
	)

	err := rows.Scan(
		&t.ID, &t.CollectionID, &t.From, &toJSON, &rangesJSON, &amount,
		&memo, &idempotencyKey, &createdAt,
	)
	if err != nil {
		return t, fmt.Errorf("failed to scan transfer: %w", err)
	}

	if err := json.Unmarshal([]byte(toJSON), &t.To); err != nil {
		return t, fmt.Errorf("failed to decode recipients of %s: %w", t.ID, err)
	}
	var stored []ranges.Stored
	if err := json.Unmarshal([]byte(rangesJSON), &stored); err != nil {
		return t, fmt.Errorf("failed to decode ranges of %s: %w", t.ID, err)
	}
	if t.Ranges, err = ranges.FromStorageForm(stored); err != nil {
		return t, err
	}
	if t.Amount, err = generic.ParseAmount(amount); err != nil {
		return t, err
	}
	t.Memo = memo.String
	t.IdempotencyKey = idempotencyKey.String
	if t.CreatedAt, err = time.Parse(time.RFC3339Nano, createdAt); err != nil {
		return t, fmt.Errorf("failed to decode created_at of %s: %w", t.ID, err)
	}

	return t, nil
}

// Exists checks if an idempotency key exists.
func (s *Store) Exists(ctx context.Context, idempotencyKey string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return keyExists(ctx, s.db, idempotencyKey)
}

func keyExists(ctx context.Context, q querier, idempotencyKey string) (bool, error) {
	var count int
	err := q.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM transfers WHERE idempotency_key = ?",
		idempotencyKey,
	).Scan(&count)
	return count > 0, err
}

// =============================================================================
// TRANSACTIONAL STORE (generic.TxStore interface)
// =============================================================================

// WithTx executes a function within a database transaction.
func (s *Store) WithTx(ctx context.Context, fn func(store generic.Store) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	if err := fn(&txStore{tx: sqlTx}); err != nil {
		return err
	}

	return sqlTx.Commit()
}

// txStore runs every call on the open transaction. It never touches the
// parent's mutex, which WithTx already holds.
type txStore struct {
	tx *sql.Tx
}

func (ts *txStore) Load(ctx context.Context, collectionID generic.CollectionID, holderID generic.HolderID) (generic.Ledger, error) {
	return loadLedger(ctx, ts.tx, collectionID, holderID)
}

func (ts *txStore) Save(ctx context.Context, collectionID generic.CollectionID, holderID generic.HolderID, l generic.Ledger) error {
	return saveLedger(ctx, ts.tx, collectionID, holderID, l)
}

func (ts *txStore) Holders(ctx context.Context, collectionID generic.CollectionID) ([]generic.HolderID, error) {
	return listHolders(ctx, ts.tx, collectionID)
}

func (ts *txStore) AppendTransfer(ctx context.Context, t generic.Transfer) error {
	return appendTransfer(ctx, ts.tx, t)
}

func (ts *txStore) Transfers(ctx context.Context, collectionID generic.CollectionID) ([]generic.Transfer, error) {
	return listTransfers(ctx, ts.tx, collectionID)
}

func (ts *txStore) Exists(ctx context.Context, idempotencyKey string) (bool, error) {
	return keyExists(ctx, ts.tx, idempotencyKey)
}

// =============================================================================
// UTILITIES
// =============================================================================

// Reset clears all data (for testing/demo).
func (s *Store) Reset(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tables := []string{"transfers", "balances"}
	for _, table := range tables {
		if _, err := s.db.ExecContext(ctx, "DELETE FROM "+table); err != nil {
			return err
		}
	}
	return nil
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

// uniqueConstraintColumn returns the "table.column" named by a UNIQUE
// violation, or "" if err is not one. SQLite reports it as
// "UNIQUE constraint failed: transfers.id".
func uniqueConstraintColumn(err error) string {
	var sqliteErr sqlite3.Error
	if !errors.As(err, &sqliteErr) {
		return ""
	}
	if sqliteErr.ExtendedCode != sqlite3.ErrConstraintUnique &&
		sqliteErr.ExtendedCode != sqlite3.ErrConstraintPrimaryKey {
		return ""
	}
	_, column, found := strings.Cut(sqliteErr.Error(), "constraint failed: ")
	if !found {
		return ""
	}
	return strings.TrimSpace(column)
}
