/*
balance.go - Ledger queries and mutations

PURPOSE:
  The operations every collaborator goes through: transfer processing,
  claim simulation and balance displays all reduce to these calls.

OPERATIONS:
  GetBalances(l, query)          what is held over query, zero gaps included
  SetRanges(l, rs, amount)       claim currently unheld IDs at amount
  DeleteRanges(l, rs)            release IDs from every group
  UpdateRanges(l, rs, amount)    delete then set: the only amount change
  AddAmount(l, rs, delta)        +delta for every ID, per current amount
  SubtractAmount(l, rs, delta)   -delta for every ID, fails closed
  HasAtLeast(l, rs, amount)      eligibility check used before debits

ATOMICITY:
  Every operation works on an owned copy and returns it. On error the
  caller's ledger is untouched and nothing is returned, so there is no
  partially applied state to discard.

EXAMPLE:
  l, _ := SetRanges(nil, []ranges.Range{{Start: 0, End: 9}}, 5)
  l, _ = AddAmount(l, []ranges.Range{{Start: 3, End: 3}}, 2)
  l.Entries() // (5, 0-2) (7, 3) (5, 4-9)

SEE ALSO:
  - ledger.go: Canonical form these operations return
  - math.go: SafeAdd / SafeSubtract
  - transfer.go: Multi-holder composition of AddAmount / SubtractAmount
*/
package generic

import (
	"slices"

	"github.com/bitbadges/balance-engine/ranges"
)

// =============================================================================
// QUERY
// =============================================================================

// GetBalances returns what l holds over the query ranges. Every stored
// range overlapping the query is trimmed to the query boundary and
// reported at its amount. IDs held by no group are reported in a
// synthetic amount-0 group, so the returned ranges exactly tile the
// merged query.
func GetBalances(l Ledger, query []ranges.Range) (Ledger, error) {
	merged, err := ranges.SortAndMerge(query)
	if err != nil {
		return nil, err
	}
	unmatched, err := ranges.NewSet(merged...)
	if err != nil {
		return nil, err
	}

	var out Ledger
	for _, b := range l {
		var pieces []ranges.Range
		for _, q := range merged {
			lo, hi, found := ranges.IndexSpan(q, b.Ranges)
			if !found {
				continue
			}
			for _, stored := range b.Ranges[lo : hi+1] {
				piece, _ := ranges.Intersect(stored, q)
				pieces = append(pieces, piece)
				unmatched = unmatched.Remove(piece)
			}
		}
		if len(pieces) > 0 {
			out = append(out, Balance{Amount: b.Amount, Ranges: pieces})
		}
	}
	if !unmatched.IsEmpty() {
		out = append(out, Balance{Amount: 0, Ranges: unmatched.Ranges()})
	}
	return canonicalize(out, true)
}

// HasAtLeast reports whether every ID in rs holds at least amount.
func HasAtLeast(l Ledger, rs []ranges.Range, amount Amount) (bool, error) {
	current, err := GetBalances(l, rs)
	if err != nil {
		return false, err
	}
	for _, b := range current {
		if b.Amount < amount {
			return false, nil
		}
	}
	return true, nil
}

// =============================================================================
// MUTATIONS
// =============================================================================

// SetRanges records rs at amount. A zero amount is a no-op since zero is
// never stored.
//
// The IDs in rs must not currently be held by any group; SetRanges does
// not check this. Use UpdateRanges to change the amount of held IDs.
func SetRanges(l Ledger, rs []ranges.Range, amount Amount) (Ledger, error) {
	merged, err := ranges.SortAndMerge(rs)
	if err != nil {
		return nil, err
	}
	out, err := ToStorageForm(l)
	if err != nil {
		return nil, err
	}
	if amount == 0 || len(merged) == 0 {
		return out, nil
	}

	idx, found := Search(out, amount)
	if !found {
		return slices.Insert(out, idx, Balance{Amount: amount, Ranges: merged}), nil
	}
	for _, r := range merged {
		out[idx].Ranges = ranges.InsertMerging(r, out[idx].Ranges)
	}
	return ToStorageForm(out)
}

// DeleteRanges releases every ID in rs from every group. Groups left
// with no ranges are dropped.
func DeleteRanges(l Ledger, rs []ranges.Range) (Ledger, error) {
	merged, err := ranges.SortAndMerge(rs)
	if err != nil {
		return nil, err
	}
	out, err := ToStorageForm(l)
	if err != nil {
		return nil, err
	}
	for i := range out {
		for _, r := range merged {
			out[i].Ranges = ranges.RemoveMerging(r, out[i].Ranges)
		}
	}
	return ToStorageForm(out)
}

// UpdateRanges sets the amount of every ID in rs to amount, whatever it
// held before. Deleting first guarantees no ID is ever held by two groups.
func UpdateRanges(l Ledger, rs []ranges.Range, amount Amount) (Ledger, error) {
	deleted, err := DeleteRanges(l, rs)
	if err != nil {
		return nil, err
	}
	return SetRanges(deleted, rs, amount)
}

// AddAmount adds delta to every ID in rs. IDs may currently hold
// different amounts (including 0); each is raised from its own amount.
// Fails with OverflowError, leaving l untouched, if any sum wraps.
func AddAmount(l Ledger, rs []ranges.Range, delta Amount) (Ledger, error) {
	return shiftAmounts(l, rs, func(current Amount) (Amount, error) {
		return SafeAdd(current, delta)
	})
}

// SubtractAmount removes delta from every ID in rs. Fails with
// UnderflowError, leaving l untouched, if any ID holds less than delta.
func SubtractAmount(l Ledger, rs []ranges.Range, delta Amount) (Ledger, error) {
	return shiftAmounts(l, rs, func(current Amount) (Amount, error) {
		return SafeSubtract(current, delta)
	})
}

// shiftAmounts computes every new amount before touching the ledger, so
// an arithmetic failure on the last group leaves nothing applied.
func shiftAmounts(l Ledger, rs []ranges.Range, shift func(Amount) (Amount, error)) (Ledger, error) {
	current, err := GetBalances(l, rs)
	if err != nil {
		return nil, err
	}

	updates := make(Ledger, 0, len(current))
	for _, b := range current {
		next, err := shift(b.Amount)
		if err != nil {
			return nil, err
		}
		updates = append(updates, Balance{Amount: next, Ranges: b.Ranges})
	}

	out, err := ToStorageForm(l)
	if err != nil {
		return nil, err
	}
	for _, u := range updates {
		if out, err = UpdateRanges(out, u.Ranges, u.Amount); err != nil {
			return nil, err
		}
	}
	return out, nil
}
