package amount

import "errors"

var (
	// ErrNegative indicates a value or the result of a subtraction is below zero.
	ErrNegative = errors.New("amount: negative value")

	// ErrOverflow indicates a value or the result of an operation exceeds MaxMoney.
	ErrOverflow = errors.New("amount: value exceeds maximum money supply")

	// ErrInvalidOutpoint indicates an outpoint string is malformed.
	ErrInvalidOutpoint = errors.New("amount: invalid outpoint")
)
