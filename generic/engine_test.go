package generic_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/bitbadges/balance-engine/generic"
	"github.com/bitbadges/balance-engine/generic/store"
)

// =============================================================================
// TEST HELPERS
// =============================================================================

const collection generic.CollectionID = "col-1"

var fixedNow = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

func newTestEngine(t *testing.T) (*generic.Engine, *store.TxMemory) {
	t.Helper()
	s := store.NewTxMemory()
	e := generic.NewEngine(s, zaptest.NewLogger(t))
	e.Now = func() time.Time { return fixedNow }
	n := 0
	e.NewID = func() generic.TransferID {
		n++
		return generic.TransferID(fmt.Sprintf("tr-%d", n))
	}
	return e, s
}

// =============================================================================
// SINGLE-HOLDER MUTATIONS
// =============================================================================

func TestEngine_SetAndQuery(t *testing.T) {
	e, _ := newTestEngine(t)
	ctx := context.Background()

	_, err := e.Set(ctx, collection, alice, rs(r(0, 9)), 5)
	require.NoError(t, err)

	got, err := e.Query(ctx, collection, alice, rs(r(5, 14)))
	require.NoError(t, err)
	assert.Equal(t, generic.Ledger{group(0, r(10, 14)), group(5, r(5, 9))}, got)

	eligible, err := e.Eligible(ctx, collection, alice, rs(r(0, 9)), 5)
	require.NoError(t, err)
	assert.True(t, eligible)
}

func TestEngine_MutationsPersist(t *testing.T) {
	e, s := newTestEngine(t)
	ctx := context.Background()

	_, err := e.Update(ctx, collection, alice, rs(r(0, 9)), 5)
	require.NoError(t, err)
	_, err = e.Add(ctx, collection, alice, rs(r(3, 3)), 2)
	require.NoError(t, err)
	got, err := e.Subtract(ctx, collection, alice, rs(r(0, 1)), 5)
	require.NoError(t, err)

	want := generic.Ledger{group(5, r(2, 2), r(4, 9)), group(7, r(3, 3))}
	assert.Equal(t, want, got)

	stored, err := s.Load(ctx, collection, alice)
	require.NoError(t, err)
	assert.Equal(t, want, stored)
}

func TestEngine_RejectedMutationLeavesStoreUntouched(t *testing.T) {
	e, s := newTestEngine(t)
	ctx := context.Background()
	_, err := e.Set(ctx, collection, alice, rs(r(0, 9)), 5)
	require.NoError(t, err)

	_, err = e.Subtract(ctx, collection, alice, rs(r(0, 10)), 1)

	assert.ErrorIs(t, err, generic.ErrUnderflow)
	stored, err := s.Load(ctx, collection, alice)
	require.NoError(t, err)
	assert.Equal(t, generic.Ledger{group(5, r(0, 9))}, stored)
}

func TestEngine_DeleteEverythingRemovesHolder(t *testing.T) {
	e, _ := newTestEngine(t)
	ctx := context.Background()
	_, err := e.Set(ctx, collection, alice, rs(r(0, 9)), 5)
	require.NoError(t, err)
	_, err = e.Set(ctx, collection, bob, rs(r(0, 0)), 1)
	require.NoError(t, err)

	_, err = e.Delete(ctx, collection, alice, rs(r(0, 9)))
	require.NoError(t, err)

	holders, err := e.Holders(ctx, collection)
	require.NoError(t, err)
	assert.Equal(t, []generic.HolderID{bob}, holders)
}

func TestEngine_CollectionsAreIsolated(t *testing.T) {
	e, _ := newTestEngine(t)
	ctx := context.Background()
	_, err := e.Set(ctx, collection, alice, rs(r(0, 9)), 5)
	require.NoError(t, err)

	got, err := e.Balances(ctx, "col-2", alice)

	require.NoError(t, err)
	assert.Empty(t, got)
}

// =============================================================================
// TRANSFERS
// =============================================================================

func TestEngine_Transfer(t *testing.T) {
	// GIVEN: Alice minted 10 of IDs 0-9
	e, _ := newTestEngine(t)
	ctx := context.Background()
	_, _, err := e.Transfer(ctx, generic.Transfer{
		CollectionID: collection,
		From:         generic.MintHolder,
		To:           []generic.HolderID{alice},
		Ranges:       rs(r(0, 9)),
		Amount:       10,
	})
	require.NoError(t, err)

	// WHEN: She sends 3 of IDs 0-4 to Bob
	applied, ledgers, err := e.Transfer(ctx, generic.Transfer{
		CollectionID: collection,
		From:         alice,
		To:           []generic.HolderID{bob},
		Ranges:       rs(r(0, 4)),
		Amount:       3,
		Memo:         "gift",
	})

	// THEN: Both ledgers are saved and the transfer is logged
	require.NoError(t, err)
	assert.Equal(t, generic.TransferID("tr-2"), applied.ID)
	assert.Equal(t, fixedNow, applied.CreatedAt)
	assert.Equal(t, generic.Ledger{group(7, r(0, 4)), group(10, r(5, 9))}, ledgers[alice])
	assert.Equal(t, generic.Ledger{group(3, r(0, 4))}, ledgers[bob])

	bobs, err := e.Balances(ctx, collection, bob)
	require.NoError(t, err)
	assert.Equal(t, ledgers[bob], bobs)

	log, err := e.Transfers(ctx, collection)
	require.NoError(t, err)
	require.Len(t, log, 2)
	assert.Equal(t, applied.ID, log[1].ID)
	assert.Equal(t, "gift", log[1].Memo)
}

func TestEngine_TransferInsufficientRollsBack(t *testing.T) {
	e, _ := newTestEngine(t)
	ctx := context.Background()
	_, err := e.Set(ctx, collection, alice, rs(r(0, 9)), 1)
	require.NoError(t, err)

	_, _, err = e.Transfer(ctx, generic.Transfer{
		CollectionID: collection,
		From:         alice,
		To:           []generic.HolderID{bob, carol},
		Ranges:       rs(r(0, 9)),
		Amount:       1,
	})

	assert.ErrorIs(t, err, generic.ErrInsufficientBalance)
	holders, err := e.Holders(ctx, collection)
	require.NoError(t, err)
	assert.Equal(t, []generic.HolderID{alice}, holders)
	log, err := e.Transfers(ctx, collection)
	require.NoError(t, err)
	assert.Empty(t, log)
}

func TestEngine_TransferIdempotency(t *testing.T) {
	e, _ := newTestEngine(t)
	ctx := context.Background()
	tr := generic.Transfer{
		CollectionID:   collection,
		From:           generic.MintHolder,
		To:             []generic.HolderID{alice},
		Ranges:         rs(r(0, 0)),
		Amount:         1,
		IdempotencyKey: "claim-42",
	}
	_, _, err := e.Transfer(ctx, tr)
	require.NoError(t, err)

	// WHEN: The same request is retried
	_, _, err = e.Transfer(ctx, tr)

	// THEN: It is rejected and Alice is not credited twice
	assert.ErrorIs(t, err, generic.ErrDuplicateIdempotencyKey)
	assert.True(t, generic.IsConflict(err))
	got, err := e.Balances(ctx, collection, alice)
	require.NoError(t, err)
	assert.Equal(t, generic.Ledger{group(1, r(0, 0))}, got)
}

func TestEngine_TransferRepeatedID(t *testing.T) {
	e, _ := newTestEngine(t)
	ctx := context.Background()
	tr := generic.Transfer{
		ID:           "t1",
		CollectionID: collection,
		From:         generic.MintHolder,
		To:           []generic.HolderID{alice},
		Ranges:       rs(r(0, 0)),
		Amount:       1,
	}
	_, _, err := e.Transfer(ctx, tr)
	require.NoError(t, err)

	// WHEN: The same ID is sent again with no idempotency key
	_, _, err = e.Transfer(ctx, tr)

	// THEN: It conflicts and Alice holds only the first credit
	assert.ErrorIs(t, err, generic.ErrDuplicateTransferID)
	assert.True(t, generic.IsConflict(err))
	got, err := e.Balances(ctx, collection, alice)
	require.NoError(t, err)
	assert.Equal(t, generic.Ledger{group(1, r(0, 0))}, got)
	log, err := e.Transfers(ctx, collection)
	require.NoError(t, err)
	assert.Len(t, log, 1)
}

func TestEngine_TransferInvalid(t *testing.T) {
	e, _ := newTestEngine(t)

	_, _, err := e.Transfer(context.Background(), generic.Transfer{
		CollectionID: collection,
		From:         alice,
		To:           []generic.HolderID{alice},
		Ranges:       rs(r(0, 0)),
		Amount:       1,
	})

	assert.ErrorIs(t, err, generic.ErrInvalidTransfer)
}

func TestEngine_SimulateDoesNotWrite(t *testing.T) {
	e, _ := newTestEngine(t)
	ctx := context.Background()
	_, err := e.Set(ctx, collection, alice, rs(r(0, 9)), 4)
	require.NoError(t, err)
	transfers := []generic.Transfer{
		{From: alice, To: []generic.HolderID{bob}, Ranges: rs(r(0, 9)), Amount: 1},
	}

	preview, err := e.SimulateTransfers(ctx, collection, transfers)

	require.NoError(t, err)
	assert.Equal(t, generic.Ledger{group(3, r(0, 9))}, preview[alice])
	assert.Equal(t, generic.Ledger{group(1, r(0, 9))}, preview[bob])
	assert.Empty(t, transfers[0].CollectionID)

	stored, err := e.Balances(ctx, collection, alice)
	require.NoError(t, err)
	assert.Equal(t, generic.Ledger{group(4, r(0, 9))}, stored)
	holders, err := e.Holders(ctx, collection)
	require.NoError(t, err)
	assert.Equal(t, []generic.HolderID{alice}, holders)
}
