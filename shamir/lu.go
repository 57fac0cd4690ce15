package shamir

import (
	"fmt"
	"math/big"

	"github.com/ruteri/custody-keyengine/field"
)

// LU is a decomposition P·A = L·U where L is unit lower triangular, U is
// upper triangular and Perm records the row permutation P.
type LU struct {
	L    *Matrix
	U    *Matrix
	Perm []int

	field *field.Field
}

// Decompose factors a square matrix with partial pivoting. The input is
// cloned and never modified.
//
// The pivot for column k is the candidate row whose element, read as an
// integer in [0, P), is largest. Existing shard sets were produced and
// recovered under this rule, so it must stay as is.
func Decompose(f *field.Field, a *Matrix) (*LU, error) {
	if !a.IsSquare() {
		return nil, fmt.Errorf("%w: %dx%d is not square", ErrDegenerateMatrix, a.rows, a.cols)
	}
	n := a.rows
	u := a.Clone()
	l := Identity(n)
	perm := make([]int, n)
	for i := range perm {
		perm[i] = i
	}

	for k := 0; k < n; k++ {
		pivot := k
		for i := k + 1; i < n; i++ {
			if u.data[i][k].Cmp(u.data[pivot][k]) > 0 {
				pivot = i
			}
		}
		if u.data[pivot][k].Sign() == 0 {
			return nil, fmt.Errorf("%w: no pivot in column %d", ErrDegenerateMatrix, k)
		}

		if pivot != k {
			u.SwapRows(pivot, k)
			perm[pivot], perm[k] = perm[k], perm[pivot]
			// Only the multipliers already computed move with the row.
			for j := 0; j < k; j++ {
				l.data[pivot][j], l.data[k][j] = l.data[k][j], l.data[pivot][j]
			}
		}

		inv, err := f.Inverse(u.data[k][k])
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrDegenerateMatrix, err)
		}
		for i := k + 1; i < n; i++ {
			factor := f.Mul(u.data[i][k], inv)
			l.data[i][k] = factor
			for j := k; j < n; j++ {
				u.data[i][j] = f.Sub(u.data[i][j], f.Mul(factor, u.data[k][j]))
			}
		}
	}

	return &LU{L: l, U: u, Perm: perm, field: f}, nil
}

// Solve returns x with A·x = b.
func (lu *LU) Solve(b []*big.Int) ([]*big.Int, error) {
	n := lu.U.rows
	if len(b) != n {
		return nil, fmt.Errorf("right-hand side has %d entries, want %d", len(b), n)
	}
	f := lu.field

	// Forward substitution on L·y = P·b.
	y := make([]*big.Int, n)
	for i := 0; i < n; i++ {
		acc := f.Reduce(b[lu.Perm[i]])
		for j := 0; j < i; j++ {
			acc = f.Sub(acc, f.Mul(lu.L.data[i][j], y[j]))
		}
		y[i] = acc
	}

	// Back substitution on U·x = y.
	x := make([]*big.Int, n)
	for i := n - 1; i >= 0; i-- {
		acc := y[i]
		for j := i + 1; j < n; j++ {
			acc = f.Sub(acc, f.Mul(lu.U.data[i][j], x[j]))
		}
		v, err := f.Div(acc, lu.U.data[i][i])
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrDegenerateMatrix, err)
		}
		x[i] = v
	}
	return x, nil
}

// Inverse returns A^-1, solving one unit column at a time.
func (lu *LU) Inverse() (*Matrix, error) {
	n := lu.U.rows
	inv := NewMatrix(n, n)
	for col := 0; col < n; col++ {
		e := make([]*big.Int, n)
		for i := range e {
			e[i] = new(big.Int)
		}
		e[col].SetInt64(1)

		x, err := lu.Solve(e)
		if err != nil {
			return nil, err
		}
		for row := 0; row < n; row++ {
			inv.data[row][col] = x[row]
		}
	}
	return inv, nil
}

// Invert decomposes and inverts a in one step.
func Invert(f *field.Field, a *Matrix) (*Matrix, error) {
	lu, err := Decompose(f, a)
	if err != nil {
		return nil, err
	}
	return lu.Inverse()
}
