package generic_test

import (
	"math"
	"math/rand"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bitbadges/balance-engine/generic"
	"github.com/bitbadges/balance-engine/ranges"
)

// =============================================================================
// TEST HELPERS
// =============================================================================

func r(start, end uint64) ranges.Range {
	return ranges.Range{Start: start, End: end}
}

func rs(list ...ranges.Range) []ranges.Range { return list }

func group(amount generic.Amount, list ...ranges.Range) generic.Balance {
	return generic.Balance{Amount: amount, Ranges: list}
}

func mustSet(t *testing.T, l generic.Ledger, list []ranges.Range, amount generic.Amount) generic.Ledger {
	t.Helper()
	out, err := generic.SetRanges(l, list, amount)
	require.NoError(t, err)
	return out
}

// =============================================================================
// WALKTHROUGH
// =============================================================================

func TestLedger_SetAddDeleteSet(t *testing.T) {
	// GIVEN: An empty ledger with IDs 0-9 set to 5
	l := mustSet(t, nil, rs(r(0, 9)), 5)

	got, err := generic.GetBalances(l, rs(r(0, 9)))
	require.NoError(t, err)
	assert.Equal(t, generic.Ledger{group(5, r(0, 9))}, got)

	// WHEN: ID 3 gains 2 units
	l, err = generic.AddAmount(l, rs(r(3, 3)), 2)
	require.NoError(t, err)

	// THEN: ID 3 holds 7 and its neighbours still hold 5
	got, err = generic.GetBalances(l, rs(r(0, 9)))
	require.NoError(t, err)
	assert.Equal(t, []generic.Entry{
		{Amount: 5, Range: r(0, 2)},
		{Amount: 7, Range: r(3, 3)},
		{Amount: 5, Range: r(4, 9)},
	}, got.Entries())

	// WHEN: ID 3 is deleted and set back to 5
	l, err = generic.DeleteRanges(l, rs(r(3, 3)))
	require.NoError(t, err)
	l = mustSet(t, l, rs(r(3, 3)), 5)

	// THEN: The group is merged back into a single range
	assert.Equal(t, generic.Ledger{group(5, r(0, 9))}, l)
	require.NoError(t, l.Check())
}

// =============================================================================
// GET BALANCES
// =============================================================================

func TestGetBalances_EmptyLedger(t *testing.T) {
	got, err := generic.GetBalances(nil, rs(r(0, 4)))

	require.NoError(t, err)
	assert.Equal(t, generic.Ledger{group(0, r(0, 4))}, got)
}

func TestGetBalances_EmptyQuery(t *testing.T) {
	l := mustSet(t, nil, rs(r(0, 9)), 5)

	got, err := generic.GetBalances(l, nil)

	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestGetBalances_SingleID(t *testing.T) {
	l := mustSet(t, nil, rs(r(0, 9)), 5)

	got, err := generic.GetBalances(l, rs(r(3, 3)))

	require.NoError(t, err)
	assert.Equal(t, generic.Ledger{group(5, r(3, 3))}, got)
}

func TestGetBalances_TrimsAndReportsGaps(t *testing.T) {
	l := mustSet(t, nil, rs(r(0, 9)), 5)
	l = mustSet(t, l, rs(r(20, 29)), 3)

	got, err := generic.GetBalances(l, rs(r(5, 24), r(40, 40)))

	require.NoError(t, err)
	assert.Equal(t, generic.Ledger{
		group(0, r(10, 19), r(40, 40)),
		group(3, r(20, 24)),
		group(5, r(5, 9)),
	}, got)
}

func TestGetBalances_QueryIsMerged(t *testing.T) {
	l := mustSet(t, nil, rs(r(0, 9)), 5)

	got, err := generic.GetBalances(l, rs(r(4, 6), r(2, 5), r(7, 7)))

	require.NoError(t, err)
	assert.Equal(t, generic.Ledger{group(5, r(2, 7))}, got)
}

func TestGetBalances_InvalidQuery(t *testing.T) {
	_, err := generic.GetBalances(nil, rs(r(5, 1)))

	assert.ErrorIs(t, err, ranges.ErrInvalidRange)
}

func TestGetBalances_FullDomain(t *testing.T) {
	l := mustSet(t, nil, rs(r(math.MaxUint64, math.MaxUint64)), 1)

	got, err := generic.GetBalances(l, rs(r(0, math.MaxUint64)))

	require.NoError(t, err)
	assert.Equal(t, generic.Ledger{
		group(0, r(0, math.MaxUint64-1)),
		group(1, r(math.MaxUint64, math.MaxUint64)),
	}, got)
}

// =============================================================================
// SET / DELETE / UPDATE
// =============================================================================

func TestSetRanges_ZeroAmountIsNoop(t *testing.T) {
	l := mustSet(t, nil, rs(r(0, 9)), 5)

	got := mustSet(t, l, rs(r(20, 29)), 0)

	assert.Equal(t, l, got)
}

func TestSetRanges_RoundTrip(t *testing.T) {
	l := mustSet(t, nil, rs(r(0, 9)), 5)

	l = mustSet(t, l, rs(r(30, 31), r(20, 29)), 8)

	got, err := generic.GetBalances(l, rs(r(20, 29), r(30, 31)))
	require.NoError(t, err)
	assert.Equal(t, generic.Ledger{group(8, r(20, 31))}, got)
}

func TestSetRanges_MergesIntoExistingGroup(t *testing.T) {
	l := mustSet(t, nil, rs(r(0, 4)), 5)
	l = mustSet(t, l, rs(r(10, 14)), 2)

	l = mustSet(t, l, rs(r(5, 8)), 5)

	assert.Equal(t, generic.Ledger{
		group(2, r(10, 14)),
		group(5, r(0, 8)),
	}, l)
}

func TestSetRanges_DoesNotMutateInput(t *testing.T) {
	l := mustSet(t, nil, rs(r(0, 4)), 5)
	before := l.Clone()

	_ = mustSet(t, l, rs(r(5, 9)), 5)

	assert.Equal(t, before, l)
}

func TestDeleteRanges_SplitsAndDropsEmptyGroups(t *testing.T) {
	l := mustSet(t, nil, rs(r(0, 9)), 5)
	l = mustSet(t, l, rs(r(20, 20)), 7)

	l, err := generic.DeleteRanges(l, rs(r(3, 4), r(20, 25)))

	require.NoError(t, err)
	assert.Equal(t, generic.Ledger{group(5, r(0, 2), r(5, 9))}, l)
}

func TestDeleteRanges_Everything(t *testing.T) {
	l := mustSet(t, nil, rs(r(0, 9)), 5)

	l, err := generic.DeleteRanges(l, rs(r(0, math.MaxUint64)))

	require.NoError(t, err)
	assert.Empty(t, l)
}

func TestUpdateRanges_MovesBetweenGroups(t *testing.T) {
	// GIVEN: IDs 0-9 at 5
	l := mustSet(t, nil, rs(r(0, 9)), 5)

	// WHEN: IDs 4-12 are updated to 2
	l, err := generic.UpdateRanges(l, rs(r(4, 12)), 2)

	// THEN: No ID is held twice and 10-12 are newly held
	require.NoError(t, err)
	assert.Equal(t, generic.Ledger{
		group(2, r(4, 12)),
		group(5, r(0, 3)),
	}, l)
	require.NoError(t, l.Check())
}

func TestUpdateRanges_ToZeroReleases(t *testing.T) {
	l := mustSet(t, nil, rs(r(0, 9)), 5)

	l, err := generic.UpdateRanges(l, rs(r(0, 4)), 0)

	require.NoError(t, err)
	assert.Equal(t, generic.Ledger{group(5, r(5, 9))}, l)
}

// =============================================================================
// ADD / SUBTRACT
// =============================================================================

func TestAddAmount_HeterogeneousRanges(t *testing.T) {
	// GIVEN: 0-4 at 5, 5-9 at 7, 10-14 unheld
	l := mustSet(t, nil, rs(r(0, 4)), 5)
	l = mustSet(t, l, rs(r(5, 9)), 7)

	// WHEN: 1 is added across 0-14
	l, err := generic.AddAmount(l, rs(r(0, 14)), 1)

	// THEN: Every ID rises from its own amount
	require.NoError(t, err)
	assert.Equal(t, generic.Ledger{
		group(1, r(10, 14)),
		group(6, r(0, 4)),
		group(8, r(5, 9)),
	}, l)
}

func TestAddAmount_ShiftIntoExistingAmount(t *testing.T) {
	l := mustSet(t, nil, rs(r(0, 4)), 5)
	l = mustSet(t, l, rs(r(5, 9)), 6)

	l, err := generic.AddAmount(l, rs(r(0, 4)), 1)

	require.NoError(t, err)
	assert.Equal(t, generic.Ledger{group(6, r(0, 9))}, l)
}

func TestAddAmount_Overflow(t *testing.T) {
	// GIVEN: ID 0 at the maximum amount, ID 1 at 1
	l := mustSet(t, nil, rs(r(0, 0)), math.MaxUint64)
	l = mustSet(t, l, rs(r(1, 1)), 1)
	before := l.Clone()

	// WHEN: 1 is added to both
	got, err := generic.AddAmount(l, rs(r(0, 1)), 1)

	// THEN: The whole operation fails and nothing changed
	require.Error(t, err)
	assert.ErrorIs(t, err, generic.ErrOverflow)
	var overflow *generic.OverflowError
	require.ErrorAs(t, err, &overflow)
	assert.Equal(t, generic.Amount(math.MaxUint64), overflow.A)
	assert.Nil(t, got)
	assert.Equal(t, before, l)
}

func TestSubtractAmount_ToZeroRemovesIDs(t *testing.T) {
	l := mustSet(t, nil, rs(r(0, 9)), 5)

	l, err := generic.SubtractAmount(l, rs(r(0, 4)), 5)

	require.NoError(t, err)
	assert.Equal(t, generic.Ledger{group(5, r(5, 9))}, l)
}

func TestSubtractAmount_FailsClosed(t *testing.T) {
	// GIVEN: 0-4 at 5, 5-9 at 2
	l := mustSet(t, nil, rs(r(0, 4)), 5)
	l = mustSet(t, l, rs(r(5, 9)), 2)
	before := l.Clone()

	// WHEN: 3 is subtracted from 0-9
	got, err := generic.SubtractAmount(l, rs(r(0, 9)), 3)

	// THEN: Underflow on 5-9 rejects the whole subtraction
	assert.ErrorIs(t, err, generic.ErrUnderflow)
	var underflow *generic.UnderflowError
	require.ErrorAs(t, err, &underflow)
	assert.Equal(t, generic.Amount(2), underflow.A)
	assert.Equal(t, generic.Amount(3), underflow.B)
	assert.Nil(t, got)
	assert.Equal(t, before, l)
}

func TestSubtractAmount_UnheldIDs(t *testing.T) {
	_, err := generic.SubtractAmount(nil, rs(r(0, 0)), 1)

	assert.ErrorIs(t, err, generic.ErrUnderflow)
}

func TestHasAtLeast(t *testing.T) {
	l := mustSet(t, nil, rs(r(0, 4)), 5)
	l = mustSet(t, l, rs(r(5, 9)), 2)

	tests := []struct {
		name   string
		query  []ranges.Range
		amount generic.Amount
		want   bool
	}{
		{"all ids hold enough", rs(r(0, 4)), 5, true},
		{"one group short", rs(r(0, 9)), 3, false},
		{"unheld id", rs(r(9, 10)), 1, false},
		{"zero is always held", rs(r(100, 200)), 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := generic.HasAtLeast(l, tt.query, tt.amount)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

// =============================================================================
// MODEL-BASED PROPERTIES
// =============================================================================

const modelIDs = 32

// model is a per-ID reference implementation over a small ID space.
type model map[uint64]generic.Amount

func modelOf(l generic.Ledger) model {
	out := model{}
	for id := uint64(0); id < modelIDs; id++ {
		if a := l.AmountOf(id); a != 0 {
			out[id] = a
		}
	}
	return out
}

func randomRange(rng *rand.Rand) ranges.Range {
	a, b := uint64(rng.Intn(modelIDs)), uint64(rng.Intn(modelIDs))
	return r(min(a, b), max(a, b))
}

func TestLedger_MatchesPerIDModel(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	var l generic.Ledger
	want := model{}

	for step := 0; step < 2000; step++ {
		target := randomRange(rng)
		amount := generic.Amount(rng.Intn(4))

		var err error
		switch op := rng.Intn(4); op {
		case 0:
			l, err = generic.UpdateRanges(l, rs(target), amount)
			require.NoError(t, err)
			for id := target.Start; id <= target.End; id++ {
				want[id] = amount
			}
		case 1:
			l, err = generic.AddAmount(l, rs(target), amount)
			require.NoError(t, err)
			for id := target.Start; id <= target.End; id++ {
				want[id] += amount
			}
		case 2:
			enough := true
			for id := target.Start; id <= target.End; id++ {
				enough = enough && want[id] >= amount
			}
			next, err := generic.SubtractAmount(l, rs(target), amount)
			if !enough {
				require.ErrorIs(t, err, generic.ErrUnderflow, "step %d", step)
				continue
			}
			require.NoError(t, err)
			l = next
			for id := target.Start; id <= target.End; id++ {
				want[id] -= amount
			}
		case 3:
			l, err = generic.DeleteRanges(l, rs(target))
			require.NoError(t, err)
			for id := target.Start; id <= target.End; id++ {
				want[id] = 0
			}
		}
		for id, a := range want {
			if a == 0 {
				delete(want, id)
			}
		}

		require.NoError(t, l.Check(), "step %d", step)
		if diff := cmp.Diff(want, modelOf(l), cmpopts.EquateEmpty()); diff != "" {
			t.Fatalf("step %d: ledger diverged from model (-want +got):\n%s", step, diff)
		}
	}
}

func TestGetBalances_TilesQuery(t *testing.T) {
	rng := rand.New(rand.NewSource(11))

	for i := 0; i < 300; i++ {
		var l generic.Ledger
		for j := 0; j < 5; j++ {
			var err error
			l, err = generic.UpdateRanges(l, rs(randomRange(rng)), generic.Amount(rng.Intn(5)))
			require.NoError(t, err)
		}
		query := rs(randomRange(rng), randomRange(rng))
		merged, err := ranges.SortAndMerge(query)
		require.NoError(t, err)

		got, err := generic.GetBalances(l, query)
		require.NoError(t, err)

		// Pairwise disjoint and their union is exactly the merged query.
		var union ranges.Set
		for _, e := range got.Entries() {
			require.False(t, union.Overlaps(e.Range), "entry %s overlaps another", e.Range)
			union, err = union.Insert(e.Range)
			require.NoError(t, err)
			assert.Equal(t, l.AmountOf(e.Range.Start), e.Amount)
		}
		assert.Equal(t, merged, union.Ranges())
	}
}

func TestToStorageForm_Idempotent(t *testing.T) {
	rng := rand.New(rand.NewSource(3))

	for i := 0; i < 300; i++ {
		var messy generic.Ledger
		for j := 0; j < 6; j++ {
			messy = append(messy, group(generic.Amount(rng.Intn(3)), randomRange(rng), randomRange(rng)))
		}

		once, err := generic.ToStorageForm(messy)
		require.NoError(t, err)
		twice, err := generic.ToStorageForm(once)
		require.NoError(t, err)

		if diff := cmp.Diff(once, twice, cmpopts.EquateEmpty()); diff != "" {
			t.Fatalf("ToStorageForm not idempotent (-once +twice):\n%s", diff)
		}
		for _, b := range once {
			assert.NotZero(t, b.Amount)
			assert.True(t, ranges.IsCanonical(b.Ranges))
		}
	}
}
