/*
engine.go - Store-backed ledger operations

PURPOSE:
  The pure operations in balance.go and transfer.go take and return
  values. The Engine gives them a home in storage: it loads the affected
  ledgers, applies the operation and saves the result inside a single
  store transaction.

CONCURRENCY:
  Ledger operations are synchronous and never shared. Serialising
  mutations of the same holder is the store's job: both implementations
  hold a write lock for the duration of WithTx.

LOGGING:
  Rejected mutations are logged at Warn with the operation, collection,
  holder and error. Successful ones at Debug, transfers at Info.

SEE ALSO:
  - store.go: TxStore contract
  - api/handlers.go: HTTP surface over the Engine
*/
package generic

import (
	"context"
	"slices"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/bitbadges/balance-engine/ranges"
)

// Engine applies ledger operations against a TxStore.
type Engine struct {
	Store  TxStore
	Logger *zap.Logger

	// Now and NewID are overridable for tests.
	Now   func() time.Time
	NewID func() TransferID
}

func NewEngine(store TxStore, logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{
		Store:  store,
		Logger: logger,
		Now:    time.Now,
		NewID:  func() TransferID { return TransferID(uuid.NewString()) },
	}
}

// =============================================================================
// READS
// =============================================================================

// Balances returns the holder's whole ledger.
func (e *Engine) Balances(ctx context.Context, c CollectionID, h HolderID) (Ledger, error) {
	return e.Store.Load(ctx, c, h)
}

// Query returns the holder's balances over rs, zero gaps included.
func (e *Engine) Query(ctx context.Context, c CollectionID, h HolderID, rs []ranges.Range) (Ledger, error) {
	l, err := e.Store.Load(ctx, c, h)
	if err != nil {
		return nil, err
	}
	return GetBalances(l, rs)
}

// Eligible reports whether the holder owns at least amount of every ID in rs.
func (e *Engine) Eligible(ctx context.Context, c CollectionID, h HolderID, rs []ranges.Range, amount Amount) (bool, error) {
	l, err := e.Store.Load(ctx, c, h)
	if err != nil {
		return false, err
	}
	return HasAtLeast(l, rs, amount)
}

func (e *Engine) Holders(ctx context.Context, c CollectionID) ([]HolderID, error) {
	return e.Store.Holders(ctx, c)
}

func (e *Engine) Transfers(ctx context.Context, c CollectionID) ([]Transfer, error) {
	return e.Store.Transfers(ctx, c)
}

// =============================================================================
// SINGLE-HOLDER MUTATIONS
// =============================================================================

// Set claims unheld IDs at amount. See SetRanges for the precondition.
func (e *Engine) Set(ctx context.Context, c CollectionID, h HolderID, rs []ranges.Range, amount Amount) (Ledger, error) {
	return e.mutate(ctx, c, h, "set", func(l Ledger) (Ledger, error) {
		return SetRanges(l, rs, amount)
	})
}

// Update sets the amount of every ID in rs regardless of what it held.
func (e *Engine) Update(ctx context.Context, c CollectionID, h HolderID, rs []ranges.Range, amount Amount) (Ledger, error) {
	return e.mutate(ctx, c, h, "update", func(l Ledger) (Ledger, error) {
		return UpdateRanges(l, rs, amount)
	})
}

func (e *Engine) Add(ctx context.Context, c CollectionID, h HolderID, rs []ranges.Range, delta Amount) (Ledger, error) {
	return e.mutate(ctx, c, h, "add", func(l Ledger) (Ledger, error) {
		return AddAmount(l, rs, delta)
	})
}

func (e *Engine) Subtract(ctx context.Context, c CollectionID, h HolderID, rs []ranges.Range, delta Amount) (Ledger, error) {
	return e.mutate(ctx, c, h, "subtract", func(l Ledger) (Ledger, error) {
		return SubtractAmount(l, rs, delta)
	})
}

func (e *Engine) Delete(ctx context.Context, c CollectionID, h HolderID, rs []ranges.Range) (Ledger, error) {
	return e.mutate(ctx, c, h, "delete", func(l Ledger) (Ledger, error) {
		return DeleteRanges(l, rs)
	})
}

func (e *Engine) mutate(ctx context.Context, c CollectionID, h HolderID, op string, fn func(Ledger) (Ledger, error)) (Ledger, error) {
	var result Ledger
	err := e.Store.WithTx(ctx, func(s Store) error {
		current, err := s.Load(ctx, c, h)
		if err != nil {
			return err
		}
		next, err := fn(current)
		if err != nil {
			return err
		}
		if err := s.Save(ctx, c, h, next); err != nil {
			return err
		}
		result = next
		return nil
	})
	if err != nil {
		e.Logger.Warn("ledger mutation rejected",
			zap.String("op", op),
			zap.String("collection", string(c)),
			zap.String("holder", string(h)),
			zap.Error(err))
		return nil, err
	}

	e.Logger.Debug("ledger updated",
		zap.String("op", op),
		zap.String("collection", string(c)),
		zap.String("holder", string(h)),
		zap.Int("groups", len(result)))
	return result, nil
}

// =============================================================================
// TRANSFERS
// =============================================================================

// Transfer applies t and records it. The sender's and every recipient's
// ledger are saved in one transaction. The returned transfer carries the
// assigned ID and timestamp.
func (e *Engine) Transfer(ctx context.Context, t Transfer) (Transfer, map[HolderID]Ledger, error) {
	if t.ID == "" {
		t.ID = e.NewID()
	}
	if t.CreatedAt.IsZero() {
		t.CreatedAt = e.Now().UTC()
	}
	if err := t.Validate(); err != nil {
		return t, nil, err
	}

	var result map[HolderID]Ledger
	err := e.Store.WithTx(ctx, func(s Store) error {
		if t.IdempotencyKey != "" {
			exists, err := s.Exists(ctx, t.IdempotencyKey)
			if err != nil {
				return err
			}
			if exists {
				return ErrDuplicateIdempotencyKey
			}
		}

		ledgers, err := loadHolders(ctx, s, t.CollectionID, t.Holders())
		if err != nil {
			return err
		}
		next, err := Simulate(ledgers, []Transfer{t})
		if err != nil {
			return err
		}
		for h, l := range next {
			if err := s.Save(ctx, t.CollectionID, h, l); err != nil {
				return err
			}
		}
		if err := s.AppendTransfer(ctx, t); err != nil {
			return err
		}
		result = next
		return nil
	})
	if err != nil {
		e.Logger.Warn("transfer rejected",
			zap.String("transfer", string(t.ID)),
			zap.String("collection", string(t.CollectionID)),
			zap.String("from", string(t.From)),
			zap.Error(err))
		return t, nil, err
	}

	e.Logger.Info("transfer applied",
		zap.String("transfer", string(t.ID)),
		zap.String("collection", string(t.CollectionID)),
		zap.String("from", string(t.From)),
		zap.Int("recipients", len(t.To)),
		zap.Stringer("amount", t.Amount))
	return t, result, nil
}

// SimulateTransfers previews transfers against the collection's current
// ledgers without writing anything.
func (e *Engine) SimulateTransfers(ctx context.Context, c CollectionID, transfers []Transfer) (map[HolderID]Ledger, error) {
	transfers = slices.Clone(transfers)
	var holders []HolderID
	for i := range transfers {
		transfers[i].CollectionID = c
		holders = append(holders, transfers[i].Holders()...)
	}
	ledgers, err := loadHolders(ctx, e.Store, c, holders)
	if err != nil {
		return nil, err
	}
	return Simulate(ledgers, transfers)
}

func loadHolders(ctx context.Context, s Store, c CollectionID, holders []HolderID) (map[HolderID]Ledger, error) {
	ledgers := make(map[HolderID]Ledger, len(holders))
	for _, h := range holders {
		if _, ok := ledgers[h]; ok {
			continue
		}
		l, err := s.Load(ctx, c, h)
		if err != nil {
			return nil, err
		}
		ledgers[h] = l
	}
	return ledgers, nil
}
