package params

import (
	"math/big"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault(t *testing.T) {
	p := Default()
	assert.Equal(t, CurveSecp256k1, p.Curve())
	assert.Equal(t, Mainnet, p.Network())
	assert.Equal(t, 521, p.FieldPrime().BitLen())

	eth, err := p.PurposePath(PurposeEthereum)
	require.NoError(t, err)
	assert.Equal(t, []uint32{HardenedOffset + 44, HardenedOffset + 60, HardenedOffset, 0}, eth)
}

func TestPurposePathsAreDistinct(t *testing.T) {
	p := Default()
	seen := map[string]Purpose{}
	for _, purpose := range Purposes() {
		path, err := p.PurposePath(purpose)
		require.NoError(t, err)
		require.Len(t, path, 4)
		key := big.NewInt(0)
		for _, c := range path {
			key.Lsh(key, 32).Add(key, big.NewInt(int64(c)))
		}
		other, dup := seen[key.String()]
		assert.False(t, dup, "%s shares a path with %s", purpose, other)
		seen[key.String()] = purpose
	}
}

func TestParamsAreNotAliased(t *testing.T) {
	p := Default()
	prime := p.FieldPrime()
	prime.SetInt64(7)
	assert.Equal(t, 521, p.FieldPrime().BitLen())

	path, err := p.PurposePath(PurposeBitcoin)
	require.NoError(t, err)
	path[0] = 0
	again, err := p.PurposePath(PurposeBitcoin)
	require.NoError(t, err)
	assert.Equal(t, HardenedOffset+84, again[0])
}

func TestOptions(t *testing.T) {
	_, err := New(WithFieldPrime(big.NewInt(7919)))
	assert.ErrorIs(t, err, ErrFieldPrimeTooSmall)

	notPrime := new(big.Int).Lsh(big.NewInt(1), 600)
	_, err = New(WithFieldPrime(notPrime))
	assert.ErrorIs(t, err, ErrFieldPrimeNotPrime)

	_, err = New(WithPurposePath("short", []uint32{1, 2}))
	assert.ErrorIs(t, err, ErrInvalidPurposePath)

	p, err := New(WithNetwork(Testnet), WithPurposePath("vault", []uint32{HardenedOffset + 44, HardenedOffset + 7, HardenedOffset, 1}))
	require.NoError(t, err)
	assert.Equal(t, Testnet, p.Network())
	_, err = p.PurposePath("vault")
	assert.NoError(t, err)

	_, err = p.PurposePath("missing")
	assert.ErrorIs(t, err, ErrUnknownPurpose)
}

func TestParseNetwork(t *testing.T) {
	n, err := ParseNetwork("testnet")
	require.NoError(t, err)
	assert.Equal(t, Testnet, n)

	n, err = ParseNetwork("")
	require.NoError(t, err)
	assert.Equal(t, Mainnet, n)

	_, err = ParseNetwork("regtest")
	assert.Error(t, err)
}
