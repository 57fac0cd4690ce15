package flags

import (
	"flag"
	"testing"

	"github.com/ruteri/custody-keyengine/kms"
	"github.com/ruteri/custody-keyengine/params"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/urfave/cli/v2"
)

func newContext(t *testing.T, args ...string) *cli.Context {
	set := flag.NewFlagSet("test", flag.ContinueOnError)
	for _, f := range append(append([]cli.Flag{}, EngineFlags...), SeedFlags...) {
		require.NoError(t, f.Apply(set))
	}
	require.NoError(t, set.Parse(args))
	return cli.NewContext(cli.NewApp(), set, nil)
}

func TestParams(t *testing.T) {
	p, err := Params(newContext(t))
	require.NoError(t, err)
	assert.Equal(t, params.Mainnet, p.Network())
	assert.Equal(t, 0, p.FieldPrime().Cmp(params.DefaultFieldPrime()))

	p, err = Params(newContext(t, "--network", "testnet"))
	require.NoError(t, err)
	assert.Equal(t, params.Testnet, p.Network())

	_, err = Params(newContext(t, "--network", "regtest"))
	assert.Error(t, err)

	_, err = Params(newContext(t, "--field-prime", "0x1f"))
	assert.ErrorIs(t, err, params.ErrFieldPrimeTooSmall)

	_, err = Params(newContext(t, "--field-prime", "not-a-number"))
	assert.Error(t, err)
}

func TestSeedSource(t *testing.T) {
	_, err := SeedSource(newContext(t))
	assert.Error(t, err, "no seed flag")

	src, err := SeedSource(newContext(t, "--seed-hex", "00"))
	require.NoError(t, err)
	assert.IsType(t, kms.HexSeed(""), src)

	src, err = SeedSource(newContext(t, "--mnemonic", "abandon", "--passphrase", "x"))
	require.NoError(t, err)
	assert.Equal(t, kms.MnemonicSeed{Mnemonic: "abandon", Passphrase: "x"}, src)

	_, err = SeedSource(newContext(t, "--seed-hex", "00", "--mnemonic", "abandon"))
	assert.Error(t, err)
}
