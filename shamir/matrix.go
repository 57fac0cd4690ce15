package shamir

import (
	"fmt"
	"math/big"

	"github.com/ruteri/custody-keyengine/field"
)

// Matrix is a dense row-major matrix of field elements. It owns its cells:
// Set and At copy, and Clone gives a fully independent matrix.
type Matrix struct {
	rows, cols int
	data       [][]*big.Int
}

// NewMatrix returns a rows×cols zero matrix.
func NewMatrix(rows, cols int) *Matrix {
	data := make([][]*big.Int, rows)
	for i := range data {
		data[i] = make([]*big.Int, cols)
		for j := range data[i] {
			data[i][j] = new(big.Int)
		}
	}
	return &Matrix{rows: rows, cols: cols, data: data}
}

// Identity returns the n×n identity matrix.
func Identity(n int) *Matrix {
	m := NewMatrix(n, n)
	for i := 0; i < n; i++ {
		m.data[i][i].SetInt64(1)
	}
	return m
}

// Vandermonde builds the len(ids)×threshold matrix M[i][j] = ids[i]^j mod P.
func Vandermonde(f *field.Field, ids []*big.Int, threshold int) *Matrix {
	m := NewMatrix(len(ids), threshold)
	for i, id := range ids {
		x := f.Reduce(id)
		acc := big.NewInt(1)
		for j := 0; j < threshold; j++ {
			m.data[i][j].Set(acc)
			acc = f.Mul(acc, x)
		}
	}
	return m
}

func (m *Matrix) Rows() int { return m.rows }

func (m *Matrix) Cols() int { return m.cols }

func (m *Matrix) IsSquare() bool { return m.rows == m.cols }

// At returns a copy of cell (i, j).
func (m *Matrix) At(i, j int) *big.Int {
	return new(big.Int).Set(m.data[i][j])
}

// Set stores a copy of v at (i, j).
func (m *Matrix) Set(i, j int, v *big.Int) {
	m.data[i][j].Set(v)
}

// Row returns a copy of row i.
func (m *Matrix) Row(i int) []*big.Int {
	out := make([]*big.Int, m.cols)
	for j, v := range m.data[i] {
		out[j] = new(big.Int).Set(v)
	}
	return out
}

func (m *Matrix) Clone() *Matrix {
	c := NewMatrix(m.rows, m.cols)
	for i := range m.data {
		for j := range m.data[i] {
			c.data[i][j].Set(m.data[i][j])
		}
	}
	return c
}

// SwapRows exchanges rows i and j in place.
func (m *Matrix) SwapRows(i, j int) {
	m.data[i], m.data[j] = m.data[j], m.data[i]
}

// MulVec returns m·v mod P.
func (m *Matrix) MulVec(f *field.Field, v []*big.Int) ([]*big.Int, error) {
	if len(v) != m.cols {
		return nil, fmt.Errorf("vector length %d does not match %d columns", len(v), m.cols)
	}
	out := make([]*big.Int, m.rows)
	for i := range m.data {
		out[i] = Dot(f, m.data[i], v)
	}
	return out, nil
}

// Mul returns m·o mod P.
func (m *Matrix) Mul(f *field.Field, o *Matrix) (*Matrix, error) {
	if m.cols != o.rows {
		return nil, fmt.Errorf("cannot multiply %dx%d by %dx%d", m.rows, m.cols, o.rows, o.cols)
	}
	out := NewMatrix(m.rows, o.cols)
	for i := 0; i < m.rows; i++ {
		for j := 0; j < o.cols; j++ {
			acc := new(big.Int)
			for k := 0; k < m.cols; k++ {
				acc.Add(acc, new(big.Int).Mul(m.data[i][k], o.data[k][j]))
			}
			out.data[i][j] = f.Reduce(acc)
		}
	}
	return out, nil
}

// Equal compares dimensions and every cell.
func (m *Matrix) Equal(o *Matrix) bool {
	if m.rows != o.rows || m.cols != o.cols {
		return false
	}
	for i := range m.data {
		for j := range m.data[i] {
			if m.data[i][j].Cmp(o.data[i][j]) != 0 {
				return false
			}
		}
	}
	return true
}

// Dot returns sum(a[i]*b[i]) mod P. The slices must have equal length.
func Dot(f *field.Field, a, b []*big.Int) *big.Int {
	acc := new(big.Int)
	for i := range a {
		acc.Add(acc, new(big.Int).Mul(a[i], b[i]))
	}
	return f.Reduce(acc)
}
