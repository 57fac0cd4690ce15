package field

import (
	"bytes"
	"crypto/rand"
	"math/big"
	"testing"

	"github.com/ruteri/custody-keyengine/params"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testField(t *testing.T) *Field {
	f, err := New(params.Default().FieldPrime())
	require.NoError(t, err)
	return f
}

func TestNew(t *testing.T) {
	_, err := New(big.NewInt(2))
	assert.ErrorIs(t, err, ErrInvalidModulus)
	_, err = New(nil)
	assert.ErrorIs(t, err, ErrInvalidModulus)

	f := testField(t)
	assert.Equal(t, 66, f.ByteLen())
}

func TestArithmeticReduces(t *testing.T) {
	f := testField(t)
	p := f.Prime()
	pm1 := new(big.Int).Sub(p, big.NewInt(1))

	assert.Equal(t, int64(0), f.Add(pm1, big.NewInt(1)).Int64())
	assert.Equal(t, 0, f.Sub(big.NewInt(0), big.NewInt(1)).Cmp(pm1))
	assert.Equal(t, int64(1), f.Mul(pm1, pm1).Int64())
	assert.Equal(t, 0, f.Neg(big.NewInt(1)).Cmp(pm1))
	assert.Equal(t, 0, f.Reduce(big.NewInt(-1)).Cmp(pm1))
	assert.Equal(t, int64(1024), f.Exp(big.NewInt(2), 10).Int64())
	assert.Equal(t, int64(1), f.Exp(big.NewInt(12345), 0).Int64())
}

func TestInverse(t *testing.T) {
	f := testField(t)

	for _, v := range []int64{1, 2, 3, 7, 11, 19, 42, 65537} {
		inv, err := f.Inverse(big.NewInt(v))
		require.NoError(t, err)
		assert.Equal(t, int64(1), f.Mul(inv, big.NewInt(v)).Int64(), "value %d", v)
		assert.Equal(t, 0, inv.Cmp(new(big.Int).ModInverse(big.NewInt(v), f.Prime())))
	}

	_, err := f.Inverse(big.NewInt(0))
	assert.ErrorIs(t, err, ErrNotInvertible)
	_, err = f.Inverse(f.Prime())
	assert.ErrorIs(t, err, ErrNotInvertible)

	// Negative inputs are reduced first.
	inv, err := f.Inverse(big.NewInt(-3))
	require.NoError(t, err)
	assert.Equal(t, int64(1), f.Mul(inv, big.NewInt(-3)).Int64())

	q, err := f.Div(big.NewInt(42), big.NewInt(6))
	require.NoError(t, err)
	assert.Equal(t, int64(7), q.Int64())
}

func TestExtendedGCD(t *testing.T) {
	cases := []struct{ a, b, g int64 }{
		{240, 46, 2},
		{17, 5, 1},
		{0, 9, 9},
		{12, 0, 12},
	}
	for _, c := range cases {
		g, x, y := ExtendedGCD(big.NewInt(c.a), big.NewInt(c.b))
		assert.Equal(t, c.g, g.Int64())
		lhs := new(big.Int).Add(new(big.Int).Mul(big.NewInt(c.a), x), new(big.Int).Mul(big.NewInt(c.b), y))
		assert.Equal(t, 0, lhs.Cmp(g), "bezout identity for %d,%d", c.a, c.b)
	}
}

// scriptedReader returns the queued chunks one Read at a time.
type scriptedReader struct{ chunks [][]byte }

func (r *scriptedReader) Read(p []byte) (int, error) {
	chunk := r.chunks[0]
	r.chunks = r.chunks[1:]
	return copy(p, chunk), nil
}

func TestRandomRejectsOutOfRange(t *testing.T) {
	f := testField(t)

	allOnes := bytes.Repeat([]byte{0xff}, f.ByteLen())
	small := make([]byte, f.ByteLen())
	small[len(small)-1] = 5

	v, err := f.Random(&scriptedReader{chunks: [][]byte{allOnes, allOnes, small}})
	require.NoError(t, err)
	assert.Equal(t, int64(5), v.Int64())
}

func TestRandomInRange(t *testing.T) {
	f := testField(t)
	for i := 0; i < 32; i++ {
		v, err := f.Random(rand.Reader)
		require.NoError(t, err)
		assert.True(t, f.Contains(v))
	}
}

func TestBytes(t *testing.T) {
	f := testField(t)

	b, err := f.Bytes(big.NewInt(42))
	require.NoError(t, err)
	require.Len(t, b, f.ByteLen())
	assert.Equal(t, byte(42), b[len(b)-1])

	v, err := f.FromBytes(b)
	require.NoError(t, err)
	assert.Equal(t, int64(42), v.Int64())

	_, err = f.Bytes(f.Prime())
	assert.ErrorIs(t, err, ErrOutOfRange)
	_, err = f.FromBytes(f.Prime().Bytes())
	assert.ErrorIs(t, err, ErrOutOfRange)

	_, err = FixedBytes(new(big.Int).Lsh(big.NewInt(1), 512), 64)
	assert.ErrorIs(t, err, ErrValueTooWide)
	out, err := FixedBytes(big.NewInt(1), 64)
	require.NoError(t, err)
	assert.Len(t, out, 64)
}
