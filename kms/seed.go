package kms

import (
	"encoding/hex"
	"errors"
	"fmt"

	"github.com/ruteri/custody-keyengine/interfaces"
	"github.com/ruteri/custody-keyengine/recovery"
	"github.com/tyler-smith/go-bip39"
)

var ErrInvalidMnemonic = errors.New("invalid mnemonic")

var (
	_ interfaces.SeedSource = MnemonicSeed{}
	_ interfaces.SeedSource = HexSeed("")
)

// MnemonicSeed turns a BIP-39 phrase into a 64-byte root seed.
type MnemonicSeed struct {
	Mnemonic   string
	Passphrase string
}

func (m MnemonicSeed) Seed() ([]byte, error) {
	seed, err := bip39.NewSeedWithErrorChecking(m.Mnemonic, m.Passphrase)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidMnemonic, err)
	}
	return seed, nil
}

// NewMnemonic generates a fresh phrase from bits of entropy (128..256, step 32).
func NewMnemonic(bits int) (string, error) {
	entropy, err := bip39.NewEntropy(bits)
	if err != nil {
		return "", err
	}
	return bip39.NewMnemonic(entropy)
}

// HexSeed is a root seed given directly as hex.
type HexSeed string

func (h HexSeed) Seed() ([]byte, error) {
	seed, err := hex.DecodeString(string(h))
	if err != nil {
		return nil, fmt.Errorf("failed to decode seed hex: %w", err)
	}
	if len(seed) != recovery.SeedLen {
		return nil, fmt.Errorf("%w: got %d", recovery.ErrInvalidSeedLength, len(seed))
	}
	return seed, nil
}
