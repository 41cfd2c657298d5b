package ranges

import (
	"cmp"
	"slices"
	"sort"

	"github.com/google/btree"
)

// =============================================================================
// COLLECTION OPERATIONS - Over sorted, disjoint []Range
// =============================================================================

// SortAndMerge sorts rs by start and merges every pair that overlaps or
// abuts. The result is sorted, pairwise disjoint and has no touching
// boundaries. Fails with InvalidRangeError if any input is malformed.
func SortAndMerge(rs []Range) ([]Range, error) {
	for _, r := range rs {
		if err := r.Validate(); err != nil {
			return nil, err
		}
	}
	if len(rs) == 0 {
		return nil, nil
	}

	sorted := slices.Clone(rs)
	slices.SortFunc(sorted, func(a, b Range) int { return cmp.Compare(a.Start, b.Start) })

	out := make([]Range, 0, len(sorted))
	cur := sorted[0]
	for _, r := range sorted[1:] {
		if cur.Touches(r) {
			cur.End = max(cur.End, r.End)
			continue
		}
		out = append(out, cur)
		cur = r
	}
	return append(out, cur), nil
}

// IndexSpan returns the inclusive index interval [lo, hi] of the members
// of sorted that overlap query. sorted must be sorted and disjoint, so
// both starts and ends are ascending and two binary searches suffice.
//
// When nothing overlaps, found is false and lo is the position at which
// query would be inserted.
func IndexSpan(query Range, sorted []Range) (lo, hi int, found bool) {
	lo = sort.Search(len(sorted), func(i int) bool { return sorted[i].End >= query.Start })
	hi = sort.Search(len(sorted), func(i int) bool { return sorted[i].Start > query.End }) - 1
	return lo, hi, lo <= hi
}

// InsertMerging inserts r into the sorted, disjoint collection, merging
// it with every member it overlaps or abuts.
func InsertMerging(r Range, sorted []Range) []Range {
	// First member ending at or after r.Start-1, last starting at or before r.End+1.
	lo := sort.Search(len(sorted), func(i int) bool {
		return sorted[i].End >= r.Start || sorted[i].End+1 == r.Start
	})
	hi := sort.Search(len(sorted), func(i int) bool {
		return sorted[i].Start > r.End && sorted[i].Start-1 > r.End
	}) - 1

	merged := r
	if lo <= hi {
		merged.Start = min(r.Start, sorted[lo].Start)
		merged.End = max(r.End, sorted[hi].End)
	}

	out := make([]Range, 0, len(sorted)-(hi-lo+1)+1)
	out = append(out, sorted[:lo]...)
	out = append(out, merged)
	return append(out, sorted[hi+1:]...)
}

// RemoveMerging subtracts toRemove from every member of the sorted,
// disjoint collection it overlaps, splicing the 0, 1 or 2 remainders of
// each back in place.
func RemoveMerging(toRemove Range, sorted []Range) []Range {
	lo, hi, found := IndexSpan(toRemove, sorted)
	if !found {
		return slices.Clone(sorted)
	}

	out := make([]Range, 0, len(sorted)+1)
	out = append(out, sorted[:lo]...)
	for _, s := range sorted[lo : hi+1] {
		out = append(out, Subtract(toRemove, s)...)
	}
	return append(out, sorted[hi+1:]...)
}

// IsCanonical reports whether rs is sorted, valid, pairwise disjoint and
// free of touching neighbours.
func IsCanonical(rs []Range) bool {
	for i, r := range rs {
		if r.Validate() != nil {
			return false
		}
		if i > 0 && (rs[i-1].End >= r.Start || rs[i-1].Touches(r)) {
			return false
		}
	}
	return true
}

// =============================================================================
// SET - Canonical collection with value semantics
// =============================================================================

// setDegree is the B-tree node degree. Sets are small per group, so a
// modest fan-out keeps nodes cache friendly.
const setDegree = 8

func byStart(a, b Range) bool { return a.Start < b.Start }

// Set is an immutable canonical collection of ranges, kept in a B-tree
// ordered by start. The zero value is the empty set. Every method returns
// a new Set and leaves the receiver untouched; derived sets share nodes
// with the receiver through the tree's copy-on-write clone.
//
// Reads are safe from several goroutines. Deriving new sets from the same
// Set must happen on one goroutine at a time, since cloning marks the
// shared nodes on the receiver.
type Set struct {
	tree *btree.BTreeG[Range]
}

// NewSet builds a Set from arbitrary, possibly overlapping ranges.
func NewSet(rs ...Range) (Set, error) {
	merged, err := SortAndMerge(rs)
	if err != nil {
		return Set{}, err
	}
	tree := btree.NewG[Range](setDegree, byStart)
	for _, r := range merged {
		tree.ReplaceOrInsert(r)
	}
	return Set{tree: tree}, nil
}

// derive returns a tree the caller may modify without affecting s.
func (s Set) derive() *btree.BTreeG[Range] {
	if s.tree == nil {
		return btree.NewG[Range](setDegree, byStart)
	}
	return s.tree.Clone()
}

// overlapping returns the members of s that overlap r, ascending.
func (s Set) overlapping(r Range) []Range {
	if s.tree == nil {
		return nil
	}
	var out []Range
	s.tree.DescendLessOrEqual(Range{Start: r.Start}, func(p Range) bool {
		if p.Start < r.Start && p.Overlaps(r) {
			out = append(out, p)
		}
		return false
	})
	s.tree.AscendGreaterOrEqual(Range{Start: r.Start}, func(n Range) bool {
		if n.Start > r.End {
			return false
		}
		out = append(out, n)
		return true
	})
	return out
}

// Ranges returns the canonical members in ascending order.
func (s Set) Ranges() []Range {
	if s.tree == nil {
		return nil
	}
	out := make([]Range, 0, s.tree.Len())
	s.tree.Ascend(func(r Range) bool {
		out = append(out, r)
		return true
	})
	return out
}

func (s Set) Len() int {
	if s.tree == nil {
		return 0
	}
	return s.tree.Len()
}

func (s Set) IsEmpty() bool { return s.Len() == 0 }

// Insert adds r to the set, merging it with every member it overlaps or
// abuts.
func (s Set) Insert(r Range) (Set, error) {
	if err := r.Validate(); err != nil {
		return s, err
	}
	tree := s.derive()

	merged := r
	var absorbed []Range
	tree.DescendLessOrEqual(Range{Start: r.Start}, func(p Range) bool {
		if p.Touches(merged) {
			absorbed = append(absorbed, p)
			merged = Range{Start: min(p.Start, merged.Start), End: max(p.End, merged.End)}
		}
		return false
	})
	tree.AscendGreaterOrEqual(Range{Start: merged.Start}, func(n Range) bool {
		if !n.Touches(merged) {
			return false
		}
		absorbed = append(absorbed, n)
		merged.End = max(merged.End, n.End)
		return true
	})

	for _, a := range absorbed {
		tree.Delete(a)
	}
	tree.ReplaceOrInsert(merged)
	return Set{tree: tree}, nil
}

// Remove deletes every ID of r from the set.
func (s Set) Remove(r Range) Set {
	hit := s.overlapping(r)
	if len(hit) == 0 {
		return s
	}
	tree := s.derive()
	for _, m := range hit {
		tree.Delete(m)
		for _, rest := range Subtract(r, m) {
			tree.ReplaceOrInsert(rest)
		}
	}
	return Set{tree: tree}
}

func (s Set) Contains(id uint64) bool {
	return s.Overlaps(Single(id))
}

// Overlaps reports whether any ID of r is in the set.
func (s Set) Overlaps(r Range) bool {
	return len(s.overlapping(r)) > 0
}

// Intersect returns the parts of the set that fall inside r.
func (s Set) Intersect(r Range) []Range {
	hit := s.overlapping(r)
	if len(hit) == 0 {
		return nil
	}
	out := make([]Range, 0, len(hit))
	for _, m := range hit {
		piece, _ := Intersect(m, r)
		out = append(out, piece)
	}
	return out
}

// Count returns the number of IDs in the set; ok is false on overflow.
func (s Set) Count() (n uint64, ok bool) {
	ok = true
	if s.tree == nil {
		return 0, true
	}
	s.tree.Ascend(func(r Range) bool {
		c, fits := r.Count()
		if !fits || n+c < n {
			ok = false
			return false
		}
		n += c
		return true
	})
	if !ok {
		return 0, false
	}
	return n, true
}
