// Package shardseal encrypts shards to participant device keys with ECIES
// over secp256k1. It sits at the transport boundary: the engine hands it
// plaintext wire shards and never sees ciphertext.
package shardseal

import (
	"crypto/ecdsa"
	"crypto/rand"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/crypto/ecies"
	"github.com/ruteri/custody-keyengine/eckey"
	"github.com/ruteri/custody-keyengine/field"
	"github.com/ruteri/custody-keyengine/interfaces"
	"github.com/ruteri/custody-keyengine/recovery"
)

var sharedInfo = []byte("custody-keyengine/shard-seal/v1")

var ErrInvalidDeviceKey = errors.New("invalid device key")

var (
	_ interfaces.ShardSealer = (*Sealer)(nil)
	_ interfaces.ShardOpener = (*Opener)(nil)
)

// Sealer encrypts to any device public key.
type Sealer struct {
	rand io.Reader
}

func NewSealer() *Sealer {
	return &Sealer{rand: rand.Reader}
}

// Seal encrypts plaintext to a compressed or uncompressed secp256k1 key.
func (s *Sealer) Seal(devicePubKey []byte, plaintext []byte) ([]byte, error) {
	pub, err := parseDeviceKey(devicePubKey)
	if err != nil {
		return nil, err
	}
	ct, err := ecies.Encrypt(s.rand, ecies.ImportECDSAPublic(pub), plaintext, sharedInfo, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to seal shard: %w", err)
	}
	return ct, nil
}

func parseDeviceKey(b []byte) (*ecdsa.PublicKey, error) {
	switch len(b) {
	case eckey.CompressedPointLen:
		pub, err := crypto.DecompressPubkey(b)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrInvalidDeviceKey, err)
		}
		return pub, nil
	case eckey.UncompressedPointLen:
		pub, err := crypto.UnmarshalPubkey(b)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrInvalidDeviceKey, err)
		}
		return pub, nil
	default:
		return nil, fmt.Errorf("%w: %d bytes", ErrInvalidDeviceKey, len(b))
	}
}

// Opener decrypts with the local device key.
type Opener struct {
	key *ecies.PrivateKey
}

// NewOpener takes the raw 32-byte device scalar.
func NewOpener(deviceKey []byte) (*Opener, error) {
	priv, err := crypto.ToECDSA(deviceKey)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidDeviceKey, err)
	}
	return &Opener{key: ecies.ImportECDSA(priv)}, nil
}

// PublicKey is the compressed key senders should seal to.
func (o *Opener) PublicKey() []byte {
	return crypto.CompressPubkey(&o.key.ExportECDSA().PublicKey)
}

func (o *Opener) Open(ciphertext []byte) ([]byte, error) {
	pt, err := o.key.Decrypt(ciphertext, sharedInfo, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to open shard: %w", err)
	}
	return pt, nil
}

// SealShard encodes an entry in wire form and seals it.
func SealShard(sealer interfaces.ShardSealer, f *field.Field, devicePubKey []byte, entry recovery.ShardEntry) ([]byte, error) {
	w, err := recovery.ToWire(f, entry)
	if err != nil {
		return nil, err
	}
	plaintext, err := json.Marshal(w)
	if err != nil {
		return nil, err
	}
	return sealer.Seal(devicePubKey, plaintext)
}

// OpenShard opens a sealed shard and decodes it.
func OpenShard(opener interfaces.ShardOpener, f *field.Field, ciphertext []byte) (recovery.ShardEntry, error) {
	plaintext, err := opener.Open(ciphertext)
	if err != nil {
		return recovery.ShardEntry{}, err
	}
	var w recovery.WireShard
	if err := json.Unmarshal(plaintext, &w); err != nil {
		return recovery.ShardEntry{}, fmt.Errorf("failed to decode shard: %w", err)
	}
	return recovery.FromWire(f, w)
}
