// Package field implements arithmetic modulo the fixed secret sharing prime.
//
// Every value handed out by a Field is a fresh *big.Int reduced into [0, P).
// Inputs are never modified.
package field

import (
	"errors"
	"fmt"
	"io"
	"math/big"
)

var (
	ErrNotInvertible  = errors.New("element has no modular inverse")
	ErrOutOfRange     = errors.New("element outside field range")
	ErrInvalidModulus = errors.New("field modulus must be greater than 2")
	ErrValueTooWide   = errors.New("value does not fit requested width")
)

// Field is arithmetic over the integers modulo a prime P.
type Field struct {
	p       *big.Int
	bitLen  int
	byteLen int
}

// New returns a Field over prime p. Primality is the caller's concern
// (params validates it once at startup).
func New(p *big.Int) (*Field, error) {
	if p == nil || p.Cmp(big.NewInt(2)) <= 0 {
		return nil, ErrInvalidModulus
	}
	return &Field{
		p:       new(big.Int).Set(p),
		bitLen:  p.BitLen(),
		byteLen: (p.BitLen() + 7) / 8,
	}, nil
}

// Prime returns a copy of P.
func (f *Field) Prime() *big.Int {
	return new(big.Int).Set(f.p)
}

// ByteLen is the fixed width of an encoded element.
func (f *Field) ByteLen() int {
	return f.byteLen
}

// Contains reports whether x is already a canonical element.
func (f *Field) Contains(x *big.Int) bool {
	return x != nil && x.Sign() >= 0 && x.Cmp(f.p) < 0
}

// Reduce maps any integer, negative included, into [0, P).
func (f *Field) Reduce(x *big.Int) *big.Int {
	// big.Int.Mod is Euclidean, so the result is never negative.
	return new(big.Int).Mod(x, f.p)
}

func (f *Field) Add(a, b *big.Int) *big.Int {
	r := new(big.Int).Add(a, b)
	return r.Mod(r, f.p)
}

func (f *Field) Sub(a, b *big.Int) *big.Int {
	r := new(big.Int).Sub(a, b)
	return r.Mod(r, f.p)
}

func (f *Field) Mul(a, b *big.Int) *big.Int {
	r := new(big.Int).Mul(a, b)
	return r.Mod(r, f.p)
}

func (f *Field) Neg(a *big.Int) *big.Int {
	r := new(big.Int).Neg(a)
	return r.Mod(r, f.p)
}

// Exp returns a^e mod P for a non-negative exponent.
func (f *Field) Exp(a *big.Int, e int) *big.Int {
	return new(big.Int).Exp(f.Reduce(a), big.NewInt(int64(e)), f.p)
}

// Inverse returns a^-1 mod P using the extended Euclidean algorithm.
func (f *Field) Inverse(a *big.Int) (*big.Int, error) {
	r := f.Reduce(a)
	if r.Sign() == 0 {
		return nil, ErrNotInvertible
	}
	g, x, _ := ExtendedGCD(r, f.p)
	if g.Cmp(big.NewInt(1)) != 0 {
		return nil, fmt.Errorf("%w: gcd is %s", ErrNotInvertible, g.String())
	}
	return x.Mod(x, f.p), nil
}

// Div returns a * b^-1 mod P.
func (f *Field) Div(a, b *big.Int) (*big.Int, error) {
	inv, err := f.Inverse(b)
	if err != nil {
		return nil, err
	}
	return f.Mul(a, inv), nil
}

// ExtendedGCD returns (g, x, y) such that a*x + b*y = g = gcd(a, b).
func ExtendedGCD(a, b *big.Int) (g, x, y *big.Int) {
	oldR, r := new(big.Int).Set(a), new(big.Int).Set(b)
	oldS, s := big.NewInt(1), big.NewInt(0)
	oldT, t := big.NewInt(0), big.NewInt(1)

	q := new(big.Int)
	tmp := new(big.Int)
	for r.Sign() != 0 {
		q.Quo(oldR, r)

		tmp.Mul(q, r)
		oldR, r = r, new(big.Int).Sub(oldR, tmp)

		tmp.Mul(q, s)
		oldS, s = s, new(big.Int).Sub(oldS, tmp)

		tmp.Mul(q, t)
		oldT, t = t, new(big.Int).Sub(oldT, tmp)
	}
	return oldR, oldS, oldT
}

// Random draws a uniform element from rand, rejecting samples >= P.
func (f *Field) Random(rand io.Reader) (*big.Int, error) {
	buf := make([]byte, f.byteLen)
	excess := uint(f.byteLen*8 - f.bitLen)
	for {
		if _, err := io.ReadFull(rand, buf); err != nil {
			return nil, fmt.Errorf("failed to read randomness: %w", err)
		}
		buf[0] &= byte(0xff >> excess)
		v := new(big.Int).SetBytes(buf)
		if v.Cmp(f.p) < 0 {
			return v, nil
		}
	}
}

// Bytes encodes x as an unsigned big-endian string of ByteLen bytes.
func (f *Field) Bytes(x *big.Int) ([]byte, error) {
	if !f.Contains(x) {
		return nil, ErrOutOfRange
	}
	return FixedBytes(x, f.byteLen)
}

// FromBytes decodes an unsigned big-endian value and checks it is canonical.
func (f *Field) FromBytes(b []byte) (*big.Int, error) {
	v := new(big.Int).SetBytes(b)
	if !f.Contains(v) {
		return nil, ErrOutOfRange
	}
	return v, nil
}

// FixedBytes left-pads a non-negative x to exactly width bytes.
func FixedBytes(x *big.Int, width int) ([]byte, error) {
	if x.Sign() < 0 {
		return nil, ErrOutOfRange
	}
	if (x.BitLen()+7)/8 > width {
		return nil, fmt.Errorf("%w: %d bits into %d bytes", ErrValueTooWide, x.BitLen(), width)
	}
	return x.FillBytes(make([]byte, width)), nil
}
