package ranges

import (
	"errors"
	"fmt"
)

// ErrInvalidRange is returned for a range whose start is after its end.
var ErrInvalidRange = errors.New("invalid range")

// InvalidRangeError carries the offending range.
type InvalidRangeError struct {
	Range Range
}

func (e *InvalidRangeError) Error() string {
	return fmt.Sprintf("invalid range: start %d is after end %d", e.Range.Start, e.Range.End)
}

func (e *InvalidRangeError) Unwrap() error {
	return ErrInvalidRange
}
