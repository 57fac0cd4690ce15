package shamir

import (
	"math/big"
	"testing"

	"github.com/ruteri/custody-keyengine/field"
	"github.com/ruteri/custody-keyengine/params"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testField(t *testing.T) *field.Field {
	f, err := field.New(params.Default().FieldPrime())
	require.NoError(t, err)
	return f
}

func ints(vs ...int64) []*big.Int {
	out := make([]*big.Int, len(vs))
	for i, v := range vs {
		out[i] = big.NewInt(v)
	}
	return out
}

func TestVandermonde(t *testing.T) {
	f := testField(t)
	v := Vandermonde(f, ints(7, 11, 19), 2)
	require.Equal(t, 3, v.Rows())
	require.Equal(t, 2, v.Cols())

	for i, x := range []int64{7, 11, 19} {
		assert.Equal(t, int64(1), v.At(i, 0).Int64())
		assert.Equal(t, x, v.At(i, 1).Int64())
	}

	sq := Vandermonde(f, ints(2, 3, 5), 3)
	assert.Equal(t, int64(25), sq.At(2, 2).Int64())
}

func TestCloneDoesNotAlias(t *testing.T) {
	m := Identity(3)
	c := m.Clone()
	c.Set(0, 0, big.NewInt(9))
	c.SwapRows(1, 2)

	assert.Equal(t, int64(1), m.At(0, 0).Int64())
	assert.Equal(t, int64(1), m.At(1, 1).Int64())
	assert.Equal(t, int64(1), c.At(1, 2).Int64())

	cell := m.At(2, 2)
	cell.SetInt64(77)
	assert.Equal(t, int64(1), m.At(2, 2).Int64())
}

func TestDecomposeReconstructs(t *testing.T) {
	f := testField(t)
	a := Vandermonde(f, ints(3, 1000, 2, 45), 4)
	original := a.Clone()

	lu, err := Decompose(f, a)
	require.NoError(t, err)
	assert.True(t, a.Equal(original), "input must not be modified")

	// P·A == L·U
	pa := NewMatrix(4, 4)
	for i, src := range lu.Perm {
		for j := 0; j < 4; j++ {
			pa.Set(i, j, a.At(src, j))
		}
	}
	product, err := lu.L.Mul(f, lu.U)
	require.NoError(t, err)
	assert.True(t, pa.Equal(product))

	for i := 0; i < 4; i++ {
		assert.Equal(t, int64(1), lu.L.At(i, i).Int64())
		for j := i + 1; j < 4; j++ {
			assert.Equal(t, 0, lu.L.At(i, j).Sign())
			assert.Equal(t, 0, lu.U.At(j, i).Sign())
		}
	}
}

func TestPivotPicksLargestElement(t *testing.T) {
	f := testField(t)
	lu, err := Decompose(f, Vandermonde(f, ints(3, 1000, 2), 3))
	require.NoError(t, err)
	// Column 0 is all ones, so the first row stays. After elimination column 1
	// holds 997 and 2-3 = P-1, and P-1 wins as the larger integer.
	assert.Equal(t, 0, lu.Perm[0])
	assert.Equal(t, 2, lu.Perm[1])
	assert.Equal(t, 1, lu.Perm[2])
}

func TestInverse(t *testing.T) {
	f := testField(t)
	a := Vandermonde(f, ints(7, 11, 19), 3)

	inv, err := Invert(f, a)
	require.NoError(t, err)

	product, err := a.Mul(f, inv)
	require.NoError(t, err)
	assert.True(t, product.Equal(Identity(3)))

	product, err = inv.Mul(f, a)
	require.NoError(t, err)
	assert.True(t, product.Equal(Identity(3)))
}

func TestDecomposeDegenerate(t *testing.T) {
	f := testField(t)

	_, err := Decompose(f, Vandermonde(f, ints(7, 7, 19), 3))
	assert.ErrorIs(t, err, ErrDegenerateMatrix)

	_, err = Decompose(f, Vandermonde(f, ints(7, 11, 19), 2))
	assert.ErrorIs(t, err, ErrDegenerateMatrix)

	_, err = Decompose(f, NewMatrix(2, 2))
	assert.ErrorIs(t, err, ErrDegenerateMatrix)
}

func TestSolve(t *testing.T) {
	f := testField(t)
	a := Vandermonde(f, ints(2, 3, 4), 3)
	x := ints(5, 6, 7)
	b, err := a.MulVec(f, x)
	require.NoError(t, err)

	lu, err := Decompose(f, a)
	require.NoError(t, err)
	got, err := lu.Solve(b)
	require.NoError(t, err)
	for i := range x {
		assert.Equal(t, 0, x[i].Cmp(got[i]))
	}

	_, err = lu.Solve(ints(1))
	assert.Error(t, err)
}
