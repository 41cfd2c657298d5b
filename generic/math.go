package generic

import "math/bits"

// SafeAdd returns a+b, or an OverflowError if the sum wraps.
func SafeAdd(a, b Amount) (Amount, error) {
	sum, carry := bits.Add64(uint64(a), uint64(b), 0)
	if carry != 0 {
		return 0, &OverflowError{Op: "add", A: a, B: b}
	}
	return Amount(sum), nil
}

// SafeSubtract returns a-b, or an UnderflowError if b > a. Subtraction
// fails closed: a balance can never go negative.
func SafeSubtract(a, b Amount) (Amount, error) {
	diff, borrow := bits.Sub64(uint64(a), uint64(b), 0)
	if borrow != 0 {
		return 0, &UnderflowError{A: a, B: b}
	}
	return Amount(diff), nil
}

// SafeMul returns a*b, or an OverflowError if the product wraps.
func SafeMul(a, b Amount) (Amount, error) {
	hi, lo := bits.Mul64(uint64(a), uint64(b))
	if hi != 0 {
		return 0, &OverflowError{Op: "mul", A: a, B: b}
	}
	return Amount(lo), nil
}
