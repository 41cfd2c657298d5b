package ranges

// =============================================================================
// STORAGE FORM - Compact persisted shape
// =============================================================================

// Stored is the persisted shape of a Range. A nil End marks the compact
// single-ID form and reads back as End == Start. This replaces numeric
// sentinels: 0 is a legitimate badge ID, so it cannot also mean "absent".
type Stored struct {
	Start uint64  `json:"start"`
	End   *uint64 `json:"end,omitempty"`
}

// Normalize expands a stored range to its explicit [Start, End] form.
func Normalize(s Stored) Range {
	if s.End == nil {
		return Single(s.Start)
	}
	return Range{Start: s.Start, End: *s.End}
}

// Compact returns the minimal stored form of r.
func Compact(r Range) Stored {
	if r.IsSingle() {
		return Stored{Start: r.Start}
	}
	end := r.End
	return Stored{Start: r.Start, End: &end}
}

// Compact returns s in its minimal form; an explicit End equal to Start
// is dropped.
func (s Stored) Compact() Stored {
	return Compact(Normalize(s))
}

// ToStorageForm canonicalises rs (sort + merge) and compacts every
// single-ID member. Applying it to its own expanded output yields the
// same result.
func ToStorageForm(rs []Range) ([]Stored, error) {
	merged, err := SortAndMerge(rs)
	if err != nil {
		return nil, err
	}
	out := make([]Stored, len(merged))
	for i, r := range merged {
		out[i] = Compact(r)
	}
	return out, nil
}

// FromStorageForm expands and validates persisted ranges. The result is
// canonical even if the stored list was not.
func FromStorageForm(stored []Stored) ([]Range, error) {
	rs := make([]Range, len(stored))
	for i, s := range stored {
		rs[i] = Normalize(s)
	}
	return SortAndMerge(rs)
}
