// Package amount holds the value and coordinate primitives shared by every
// transaction of the vault graph. All arithmetic is checked: a result that
// would go negative or exceed the money supply is returned as an error,
// never wrapped.
package amount

import (
	"fmt"

	"github.com/btcsuite/btcd/btcutil"
)

// MaxMoney is the largest representable amount, 21 million BTC in satoshis.
const MaxMoney = Amount(btcutil.MaxSatoshi)

// Amount is a count of satoshis. Values produced by this package are always
// within [0, MaxMoney].
type Amount int64

// New returns sats as an Amount after range checking it.
func New(sats int64) (Amount, error) {
	if sats < 0 {
		return 0, fmt.Errorf("%w: %d", ErrNegative, sats)
	}
	if sats > int64(MaxMoney) {
		return 0, fmt.Errorf("%w: %d", ErrOverflow, sats)
	}
	return Amount(sats), nil
}

// MustNew is New for constants and tests. It panics on an out-of-range value.
func MustNew(sats int64) Amount {
	a, err := New(sats)
	if err != nil {
		panic(err)
	}
	return a
}

// Add returns a+b.
func (a Amount) Add(b Amount) (Amount, error) {
	if a < 0 || b < 0 {
		return 0, ErrNegative
	}
	if b > MaxMoney-a {
		return 0, fmt.Errorf("%w: %d + %d", ErrOverflow, a, b)
	}
	return a + b, nil
}

// Sub returns a-b. A negative result is an error.
func (a Amount) Sub(b Amount) (Amount, error) {
	if a < 0 || b < 0 {
		return 0, ErrNegative
	}
	if b > a {
		return 0, fmt.Errorf("%w: %d - %d", ErrNegative, a, b)
	}
	return a - b, nil
}

// MulInt returns a*n, used for feerate times size.
func (a Amount) MulInt(n int64) (Amount, error) {
	if a < 0 || n < 0 {
		return 0, ErrNegative
	}
	if n != 0 && a > MaxMoney/Amount(n) {
		return 0, fmt.Errorf("%w: %d * %d", ErrOverflow, a, n)
	}
	return a * Amount(n), nil
}

// Sum adds all amounts.
func Sum(amounts ...Amount) (Amount, error) {
	var total Amount
	for _, a := range amounts {
		var err error
		if total, err = total.Add(a); err != nil {
			return 0, err
		}
	}
	return total, nil
}

// Sats returns the raw satoshi count, as stored in wire.TxOut.Value.
func (a Amount) Sats() int64 { return int64(a) }

// String formats the amount in BTC.
func (a Amount) String() string {
	return btcutil.Amount(a).String()
}
