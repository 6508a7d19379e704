package currency

import (
	"database/sql/driver"
	"errors"
	"fmt"
	"math/big"
	"strings"
)

// WincPerCredit is the number of winston credits in one credit.
var WincPerCredit = big.NewInt(1_000_000_000_000)

var (
	// ErrNegativeResult is returned when an arithmetic operation would
	// produce a negative winc amount.
	ErrNegativeResult = errors.New("currency: negative winc result")
	// ErrInvalidAmount is returned when a decimal string cannot be parsed
	// into a non-negative integer amount.
	ErrInvalidAmount = errors.New("currency: invalid winc amount")
)

// Winc is a non-negative arbitrary-precision winston credit amount. The zero
// value is usable and equal to zero winc. Amounts cross the wire and the
// database as decimal strings, never as floats.
type Winc struct {
	value *big.Int
}

// NewWinc builds a Winc from a non-negative int64.
func NewWinc(v int64) Winc {
	if v < 0 {
		v = 0
	}
	return Winc{value: big.NewInt(v)}
}

// ParseWinc parses a decimal string into a Winc amount.
func ParseWinc(s string) (Winc, error) {
	trimmed := strings.TrimSpace(s)
	if trimmed == "" {
		return Winc{}, fmt.Errorf("%w: empty string", ErrInvalidAmount)
	}
	v, ok := new(big.Int).SetString(trimmed, 10)
	if !ok {
		return Winc{}, fmt.Errorf("%w: %q", ErrInvalidAmount, s)
	}
	if v.Sign() < 0 {
		return Winc{}, fmt.Errorf("%w: %q", ErrInvalidAmount, s)
	}
	return Winc{value: v}, nil
}

// MustWinc parses a decimal string and panics on failure. Intended for
// constants and tests.
func MustWinc(s string) Winc {
	w, err := ParseWinc(s)
	if err != nil {
		panic(err)
	}
	return w
}

// BigInt returns a copy of the underlying integer.
func (w Winc) BigInt() *big.Int {
	if w.value == nil {
		return new(big.Int)
	}
	return new(big.Int).Set(w.value)
}

// String renders the amount as a decimal string.
func (w Winc) String() string {
	if w.value == nil {
		return "0"
	}
	return w.value.String()
}

// IsZero reports whether the amount equals zero.
func (w Winc) IsZero() bool {
	return w.value == nil || w.value.Sign() == 0
}

// Add returns w + other.
func (w Winc) Add(other Winc) Winc {
	return Winc{value: new(big.Int).Add(w.BigInt(), other.BigInt())}
}

// Sub returns w - other, failing with ErrNegativeResult when the result
// would be negative.
func (w Winc) Sub(other Winc) (Winc, error) {
	result := new(big.Int).Sub(w.BigInt(), other.BigInt())
	if result.Sign() < 0 {
		return Winc{}, fmt.Errorf("%w: %s - %s", ErrNegativeResult, w, other)
	}
	return Winc{value: result}, nil
}

// MulScalar returns w × k for a non-negative scalar.
func (w Winc) MulScalar(k int64) (Winc, error) {
	if k < 0 {
		return Winc{}, fmt.Errorf("%w: scalar %d", ErrNegativeResult, k)
	}
	return Winc{value: new(big.Int).Mul(w.BigInt(), big.NewInt(k))}, nil
}

// Cmp compares two amounts: -1 when w < other, 0 when equal, 1 when greater.
func (w Winc) Cmp(other Winc) int {
	return w.BigInt().Cmp(other.BigInt())
}

// Equal reports amount equality.
func (w Winc) Equal(other Winc) bool { return w.Cmp(other) == 0 }

// Min returns the smaller of the two amounts.
func (w Winc) Min(other Winc) Winc {
	if w.Cmp(other) <= 0 {
		return Winc{value: w.BigInt()}
	}
	return Winc{value: other.BigInt()}
}

// MarshalJSON emits the decimal string form.
func (w Winc) MarshalJSON() ([]byte, error) {
	return []byte(`"` + w.String() + `"`), nil
}

// UnmarshalJSON accepts a quoted or bare decimal string.
func (w *Winc) UnmarshalJSON(data []byte) error {
	s := strings.Trim(string(data), `"`)
	parsed, err := ParseWinc(s)
	if err != nil {
		return err
	}
	*w = parsed
	return nil
}

// Value implements driver.Valuer; amounts persist as decimal text.
func (w Winc) Value() (driver.Value, error) {
	return w.String(), nil
}

// Scan implements sql.Scanner.
func (w *Winc) Scan(src any) error {
	switch v := src.(type) {
	case nil:
		*w = Winc{}
		return nil
	case string:
		parsed, err := ParseWinc(v)
		if err != nil {
			return err
		}
		*w = parsed
		return nil
	case []byte:
		parsed, err := ParseWinc(string(v))
		if err != nil {
			return err
		}
		*w = parsed
		return nil
	case int64:
		if v < 0 {
			return fmt.Errorf("%w: %d", ErrInvalidAmount, v)
		}
		*w = NewWinc(v)
		return nil
	default:
		return fmt.Errorf("%w: unsupported type %T", ErrInvalidAmount, src)
	}
}

// GormDataType stores winc amounts as text columns.
func (Winc) GormDataType() string { return "text" }

// SignedWinc is a signed winston credit delta used by audit records and
// promotional adjustments. Unlike Winc it may be negative.
type SignedWinc struct {
	value *big.Int
}

// NewSignedWinc builds a delta from an int64.
func NewSignedWinc(v int64) SignedWinc {
	return SignedWinc{value: big.NewInt(v)}
}

// SignedFromWinc converts a non-negative amount into a delta, negated when
// debit is true.
func SignedFromWinc(w Winc, debit bool) SignedWinc {
	v := w.BigInt()
	if debit {
		v.Neg(v)
	}
	return SignedWinc{value: v}
}

// ParseSignedWinc parses a decimal string with an optional leading sign.
func ParseSignedWinc(s string) (SignedWinc, error) {
	trimmed := strings.TrimSpace(s)
	if trimmed == "" {
		return SignedWinc{}, fmt.Errorf("%w: empty string", ErrInvalidAmount)
	}
	v, ok := new(big.Int).SetString(trimmed, 10)
	if !ok {
		return SignedWinc{}, fmt.Errorf("%w: %q", ErrInvalidAmount, s)
	}
	return SignedWinc{value: v}, nil
}

// BigInt returns a copy of the underlying integer.
func (d SignedWinc) BigInt() *big.Int {
	if d.value == nil {
		return new(big.Int)
	}
	return new(big.Int).Set(d.value)
}

// String renders the delta as a decimal string with sign.
func (d SignedWinc) String() string {
	if d.value == nil {
		return "0"
	}
	return d.value.String()
}

// Add returns d + other.
func (d SignedWinc) Add(other SignedWinc) SignedWinc {
	return SignedWinc{value: new(big.Int).Add(d.BigInt(), other.BigInt())}
}

// Sub returns d - other.
func (d SignedWinc) Sub(other SignedWinc) SignedWinc {
	return SignedWinc{value: new(big.Int).Sub(d.BigInt(), other.BigInt())}
}

// SubWinc returns d - w.
func (d SignedWinc) SubWinc(w Winc) SignedWinc {
	return SignedWinc{value: new(big.Int).Sub(d.BigInt(), w.BigInt())}
}

// AddWinc returns d + w.
func (d SignedWinc) AddWinc(w Winc) SignedWinc {
	return SignedWinc{value: new(big.Int).Add(d.BigInt(), w.BigInt())}
}

// NonNegative clamps the delta to a non-negative amount.
func (d SignedWinc) NonNegative() Winc {
	v := d.BigInt()
	if v.Sign() < 0 {
		return Winc{}
	}
	return Winc{value: v}
}

// Sign reports -1, 0 or 1.
func (d SignedWinc) Sign() int { return d.BigInt().Sign() }

// MarshalJSON emits the decimal string form.
func (d SignedWinc) MarshalJSON() ([]byte, error) {
	return []byte(`"` + d.String() + `"`), nil
}

// UnmarshalJSON accepts a quoted or bare decimal string.
func (d *SignedWinc) UnmarshalJSON(data []byte) error {
	parsed, err := ParseSignedWinc(strings.Trim(string(data), `"`))
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}

// Value implements driver.Valuer.
func (d SignedWinc) Value() (driver.Value, error) {
	return d.String(), nil
}

// Scan implements sql.Scanner.
func (d *SignedWinc) Scan(src any) error {
	switch v := src.(type) {
	case nil:
		*d = SignedWinc{}
		return nil
	case string:
		parsed, err := ParseSignedWinc(v)
		if err != nil {
			return err
		}
		*d = parsed
		return nil
	case []byte:
		parsed, err := ParseSignedWinc(string(v))
		if err != nil {
			return err
		}
		*d = parsed
		return nil
	case int64:
		*d = NewSignedWinc(v)
		return nil
	default:
		return fmt.Errorf("%w: unsupported type %T", ErrInvalidAmount, src)
	}
}

// GormDataType stores deltas as text columns.
func (SignedWinc) GormDataType() string { return "text" }
