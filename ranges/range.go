/*
Package ranges provides the interval algebra used by the balance ledger.

PURPOSE:
  Badge IDs are sequential integers and a holder usually owns long runs of
  them. Instead of one entry per ID, ownership is tracked as inclusive
  ID ranges. This package holds the pure functions over those ranges:
  validation, sort/merge, overlap search, subtraction and the compact
  storage form.

KEY CONCEPTS:
  Range:  inclusive [Start, End] over uint64, Start <= End
  Set:    sorted, pairwise disjoint, non-touching collection of Range
  Stored: persisted shape of a Range, End omitted when End == Start

INVARIANTS:
  1. Every exported function treats its inputs as read-only and returns
     fresh slices. Callers may keep and mutate what they passed in.
  2. Boundary arithmetic never wraps: ranges ending at math.MaxUint64
     merge and split correctly.

USAGE:
  merged, err := ranges.SortAndMerge([]ranges.Range{{Start: 5, End: 9}, {Start: 0, End: 4}})
  // merged == [{0 9}]

  rest := ranges.Subtract(ranges.Range{Start: 3, End: 3}, ranges.Range{Start: 0, End: 9})
  // rest == [{0 2} {4 9}]

SEE ALSO:
  - set.go: Set type and collection-level operations
  - storage.go: Stored form and compaction
  - generic/balance.go: the ledger built on top of this package
*/
package ranges

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// MaxID is the largest representable badge ID.
const MaxID = math.MaxUint64

// =============================================================================
// RANGE - Inclusive interval of badge IDs
// =============================================================================

// Range is an inclusive interval [Start, End] of badge IDs.
type Range struct {
	Start uint64 `json:"start"`
	End   uint64 `json:"end"`
}

// Single returns the range holding only id.
func Single(id uint64) Range {
	return Range{Start: id, End: id}
}

// Validate reports whether r is a well-formed interval.
func (r Range) Validate() error {
	if r.Start > r.End {
		return &InvalidRangeError{Range: r}
	}
	return nil
}

func (r Range) IsSingle() bool { return r.Start == r.End }

func (r Range) Contains(id uint64) bool { return r.Start <= id && id <= r.End }

// Count returns the number of IDs in r. The full [0, MaxID] range has
// 2^64 IDs which does not fit; ok is false in that case.
func (r Range) Count() (n uint64, ok bool) {
	if r.Start == 0 && r.End == MaxID {
		return 0, false
	}
	return r.End - r.Start + 1, true
}

// Overlaps reports whether r and o share at least one ID.
func (r Range) Overlaps(o Range) bool {
	return r.Start <= o.End && o.Start <= r.End
}

// Touches reports whether r and o overlap or abut, i.e. whether their
// union is a single range.
func (r Range) Touches(o Range) bool {
	if r.Overlaps(o) {
		return true
	}
	if r.End < o.Start {
		return r.End+1 == o.Start
	}
	return o.End+1 == r.Start
}

func (r Range) String() string {
	if r.IsSingle() {
		return strconv.FormatUint(r.Start, 10)
	}
	return strconv.FormatUint(r.Start, 10) + "-" + strconv.FormatUint(r.End, 10)
}

// Parse reads the text form produced by String: "7" or "0-9".
func Parse(s string) (Range, error) {
	s = strings.TrimSpace(s)
	lo, hi, isSpan := strings.Cut(s, "-")
	start, err := strconv.ParseUint(strings.TrimSpace(lo), 10, 64)
	if err != nil {
		return Range{}, fmt.Errorf("parse range %q: %w", s, err)
	}
	if !isSpan {
		return Single(start), nil
	}
	end, err := strconv.ParseUint(strings.TrimSpace(hi), 10, 64)
	if err != nil {
		return Range{}, fmt.Errorf("parse range %q: %w", s, err)
	}
	r := Range{Start: start, End: end}
	if err := r.Validate(); err != nil {
		return Range{}, err
	}
	return r, nil
}

// ParseList reads a comma separated list of ranges, e.g. "0-9,12,20-25".
func ParseList(s string) ([]Range, error) {
	var out []Range
	for _, part := range strings.Split(s, ",") {
		if strings.TrimSpace(part) == "" {
			continue
		}
		r, err := Parse(part)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, nil
}

// =============================================================================
// PAIRWISE OPERATIONS
// =============================================================================

// Intersect returns the IDs shared by a and b.
func Intersect(a, b Range) (Range, bool) {
	if !a.Overlaps(b) {
		return Range{}, false
	}
	return Range{Start: max(a.Start, b.Start), End: min(a.End, b.End)}, true
}

// Subtract removes toRemove from source and returns what is left:
//
//	no overlap               -> [source]
//	toRemove covers source   -> []
//	overlap at head or tail  -> one trimmed range
//	toRemove inside source   -> two ranges, before and after
func Subtract(toRemove, source Range) []Range {
	if !toRemove.Overlaps(source) {
		return []Range{source}
	}
	var out []Range
	if toRemove.Start > source.Start {
		out = append(out, Range{Start: source.Start, End: toRemove.Start - 1})
	}
	if toRemove.End < source.End {
		out = append(out, Range{Start: toRemove.End + 1, End: source.End})
	}
	return out
}
