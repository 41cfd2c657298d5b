/*
ledger.go - Canonical form and invariants of a holder's ledger

PURPOSE:
  A Ledger is only meaningful in canonical form. This file defines that
  form, the binary search over it, and the assertion stores run before
  every write.

CANONICAL FORM:
  1. Groups sorted ascending by Amount, each Amount appearing once
  2. No group with Amount 0 (zero is absence)
  3. No group with zero ranges
  4. Each group's ranges sorted, disjoint and merged (no abutting pair)
  5. No badge ID appears in two groups

WHY SORT BY AMOUNT?
  Mutations move ID ranges between amounts. Finding the destination
  group is a binary search on amount, and a missing group is inserted
  at the position the search reports.

EXAMPLE:
  [{5 [0-2 4-9]} {7 [3]}]
  ID 3 holds 7 units, IDs 0-2 and 4-9 hold 5, every other ID holds 0.

SEE ALSO:
  - balance.go: Operations that produce canonical ledgers
  - types.go: Encode/Decode use ToStorageForm and Check
*/
package generic

import (
	"cmp"
	"fmt"
	"slices"

	"github.com/bitbadges/balance-engine/ranges"
)

// =============================================================================
// SEARCH
// =============================================================================

// Search binary-searches l, which must be sorted by amount, for amount.
// If found, index is the matching group. Otherwise index is where a
// group with that amount would be inserted to keep l sorted.
func Search(l Ledger, amount Amount) (index int, found bool) {
	return slices.BinarySearchFunc(l, amount, func(b Balance, target Amount) int {
		return cmp.Compare(b.Amount, target)
	})
}

// =============================================================================
// CANONICALISATION
// =============================================================================

// ToStorageForm returns the canonical form of l: groups with equal amounts
// are combined, zero-amount and empty groups are dropped, and every range
// collection is sorted and merged. It is idempotent and never mutates l.
func ToStorageForm(l Ledger) (Ledger, error) {
	return canonicalize(l, false)
}

// canonicalize is ToStorageForm with the option of keeping an amount-0
// group, which query results use to report unheld IDs.
func canonicalize(l Ledger, keepZero bool) (Ledger, error) {
	sorted := slices.Clone(l)
	slices.SortStableFunc(sorted, func(a, b Balance) int { return cmp.Compare(a.Amount, b.Amount) })

	var grouped Ledger
	for _, b := range sorted {
		if b.Amount == 0 && !keepZero {
			continue
		}
		if n := len(grouped); n > 0 && grouped[n-1].Amount == b.Amount {
			grouped[n-1].Ranges = append(grouped[n-1].Ranges, b.Ranges...)
			continue
		}
		grouped = append(grouped, Balance{Amount: b.Amount, Ranges: slices.Clone(b.Ranges)})
	}

	var out Ledger
	for _, b := range grouped {
		merged, err := ranges.SortAndMerge(b.Ranges)
		if err != nil {
			return nil, err
		}
		if len(merged) == 0 {
			continue
		}
		out = append(out, Balance{Amount: b.Amount, Ranges: merged})
	}
	return out, nil
}

// =============================================================================
// INVARIANTS
// =============================================================================

// Check asserts that l is canonical and that no ID is claimed by two
// groups. It reports the first violation found.
func (l Ledger) Check() error {
	var claimed ranges.Set
	for i, b := range l {
		if b.Amount == 0 {
			return &InvariantError{Amount: b.Amount, Reason: "zero amount stored", Err: ErrInvariantViolation}
		}
		if i > 0 && l[i-1].Amount >= b.Amount {
			return &InvariantError{Amount: b.Amount, Reason: "amounts not strictly ascending", Err: ErrInvariantViolation}
		}
		if len(b.Ranges) == 0 {
			return &InvariantError{Amount: b.Amount, Reason: "no ranges", Err: ErrEmptyGroup}
		}
		if !ranges.IsCanonical(b.Ranges) {
			return &InvariantError{Amount: b.Amount, Reason: "ranges not sorted and merged", Err: ErrInvariantViolation}
		}
		for _, r := range b.Ranges {
			if claimed.Overlaps(r) {
				return &InvariantError{
					Amount: b.Amount,
					Reason: fmt.Sprintf("ids %s already held by another group", r),
					Err:    ErrInvariantViolation,
				}
			}
			claimed, _ = claimed.Insert(r)
		}
	}
	return nil
}
