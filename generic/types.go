/*
Package generic provides the core badge balance engine.

PURPOSE:
  This package contains the interval-compressed balance ledger: for each
  holder of a badge collection it tracks how many units of every badge ID
  the holder owns, without ever materialising one entry per ID. Transfers,
  claims and mint events all reduce to the same handful of ledger
  operations defined here.

KEY CONCEPTS IN THIS FILE (types.go):
  - Amount: fixed-width unsigned quantity (uint64)
  - Balance: one amount plus every ID range currently holding exactly it
  - Ledger: balances sorted by amount, one group per distinct amount
  - Entry: flattened (amount, range) view ordered by badge ID
  - Collection/Holder IDs: type-safe identifiers

DESIGN PRINCIPLES:
  1. Value semantics: operations never mutate their inputs, they return a
     new Ledger. A failed operation leaves nothing half-applied.
  2. Canonical form: groups are sorted by amount, amounts are unique and
     non-zero, every group's ranges are sorted, disjoint and merged.
  3. Zero is absence: "no entry" and "amount 0" mean the same thing and
     only the former is ever stored.

USAGE:
  l, _ := generic.SetRanges(nil, []ranges.Range{{Start: 0, End: 9}}, 5)
  l, _ = generic.AddAmount(l, []ranges.Range{{Start: 3, End: 3}}, 2)
  got, _ := generic.GetBalances(l, []ranges.Range{{Start: 0, End: 9}})
  // got == [{5 [0-2 4-9]} {7 [3]}]

SEE ALSO:
  - balance.go: ledger operations (get/set/delete/update/add/subtract)
  - math.go: overflow/underflow checked arithmetic
  - transfer.go: multi-holder transfers built on the ledger
  - ranges/: the range algebra the ledger is built on
*/
package generic

import (
	"cmp"
	"fmt"
	"math/big"
	"slices"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/bitbadges/balance-engine/ranges"
)

// =============================================================================
// AMOUNT - Fixed-width unsigned quantity
// =============================================================================

// Amount is the number of units of a badge ID held.
type Amount uint64

// Decimal converts a to a decimal for display or text persistence.
func (a Amount) Decimal() decimal.Decimal {
	return decimal.NewFromBigInt(new(big.Int).SetUint64(uint64(a)), 0)
}

func (a Amount) String() string { return a.Decimal().String() }

// ParseAmount reads a decimal string into an Amount. Fractions, negative
// values and values beyond the uint64 domain are rejected.
func ParseAmount(s string) (Amount, error) {
	d, err := decimal.NewFromString(strings.TrimSpace(s))
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrInvalidAmount, s)
	}
	return AmountFromDecimal(d)
}

// AmountFromDecimal converts d to an Amount if it is a non-negative
// integer that fits in 64 bits.
func AmountFromDecimal(d decimal.Decimal) (Amount, error) {
	if !d.IsInteger() {
		return 0, fmt.Errorf("%w: %s is not a whole number", ErrInvalidAmount, d)
	}
	if d.IsNegative() {
		return 0, fmt.Errorf("%w: %s is negative", ErrInvalidAmount, d)
	}
	bi := d.BigInt()
	if !bi.IsUint64() {
		return 0, fmt.Errorf("amount %s: %w", d, ErrOverflow)
	}
	return Amount(bi.Uint64()), nil
}

// =============================================================================
// IDENTIFIERS
// =============================================================================

type CollectionID string
type HolderID string
type TransferID string

// MintHolder is the unlimited source of new badges. Transfers from it
// credit recipients without debiting anyone.
const MintHolder HolderID = "Mint"

// =============================================================================
// BALANCE & LEDGER
// =============================================================================

// Balance pairs an amount with every range of IDs holding exactly it.
type Balance struct {
	Amount Amount         `json:"amount"`
	Ranges []ranges.Range `json:"ranges"`
}

func (b Balance) Clone() Balance {
	return Balance{Amount: b.Amount, Ranges: slices.Clone(b.Ranges)}
}

// Ledger is one holder's balances in a collection, sorted by amount.
// The nil Ledger is empty: the holder owns nothing.
type Ledger []Balance

// Clone returns a deep copy of l.
func (l Ledger) Clone() Ledger {
	if l == nil {
		return nil
	}
	out := make(Ledger, len(l))
	for i, b := range l {
		out[i] = b.Clone()
	}
	return out
}

// Entry is a single (amount, range) pair.
type Entry struct {
	Amount Amount
	Range  ranges.Range
}

// Entries flattens l into (amount, range) pairs ordered by range start.
// This is the view UIs render: who holds what, ID by ID.
func (l Ledger) Entries() []Entry {
	var out []Entry
	for _, b := range l {
		for _, r := range b.Ranges {
			out = append(out, Entry{Amount: b.Amount, Range: r})
		}
	}
	slices.SortFunc(out, func(a, b Entry) int { return cmp.Compare(a.Range.Start, b.Range.Start) })
	return out
}

// AmountOf returns how many units of id the ledger holds.
func (l Ledger) AmountOf(id uint64) Amount {
	for _, b := range l {
		if _, _, found := ranges.IndexSpan(ranges.Single(id), b.Ranges); found {
			return b.Amount
		}
	}
	return 0
}

// Total returns the sum over every ID of its amount, failing with
// ErrOverflow when it does not fit in an Amount.
func (l Ledger) Total() (Amount, error) {
	var total Amount
	for _, b := range l {
		for _, r := range b.Ranges {
			n, ok := r.Count()
			if !ok {
				return 0, fmt.Errorf("id count of %s: %w", r, ErrOverflow)
			}
			units, err := SafeMul(b.Amount, Amount(n))
			if err != nil {
				return 0, err
			}
			if total, err = SafeAdd(total, units); err != nil {
				return 0, err
			}
		}
	}
	return total, nil
}

// =============================================================================
// STORAGE FORM
// =============================================================================

// StoredBalance is the persisted shape of a Balance: ranges are compacted
// so a single-ID range omits its end.
type StoredBalance struct {
	Amount uint64          `json:"amount"`
	Ranges []ranges.Stored `json:"ranges"`
}

// Encode canonicalises l, asserts its invariants and compacts it for
// persistence. Stores call this before every write.
func Encode(l Ledger) ([]StoredBalance, error) {
	canon, err := ToStorageForm(l)
	if err != nil {
		return nil, err
	}
	if err := canon.Check(); err != nil {
		return nil, err
	}
	out := make([]StoredBalance, len(canon))
	for i, b := range canon {
		stored, err := ranges.ToStorageForm(b.Ranges)
		if err != nil {
			return nil, err
		}
		out[i] = StoredBalance{Amount: uint64(b.Amount), Ranges: stored}
	}
	return out, nil
}

// Decode expands persisted balances back into a canonical Ledger.
func Decode(stored []StoredBalance) (Ledger, error) {
	l := make(Ledger, 0, len(stored))
	for _, sb := range stored {
		rs, err := ranges.FromStorageForm(sb.Ranges)
		if err != nil {
			return nil, err
		}
		l = append(l, Balance{Amount: Amount(sb.Amount), Ranges: rs})
	}
	canon, err := ToStorageForm(l)
	if err != nil {
		return nil, err
	}
	if err := canon.Check(); err != nil {
		return nil, err
	}
	return canon, nil
}
