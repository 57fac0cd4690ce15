// Package hdkey implements BIP32 hierarchical deterministic keys on secp256k1.
//
// A Key carries either PrivateDerivable material (a private scalar, from which
// both hardened and non-hardened children can be derived) or PublicOnly
// material (a point, restricted to non-hardened children). Keys are
// immutable: derivation always returns a new Key.
package hdkey

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha512"
	"errors"
	"fmt"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ruteri/custody-keyengine/eckey"
	"github.com/ruteri/custody-keyengine/params"
)

const (
	ChainCodeLen = 32
	MinSeedLen   = 16
	MaxSeedLen   = 64
	MaxDepth     = 255
)

var masterHMACKey = []byte("Bitcoin seed")

var (
	ErrHardenedDerivationRequiresPrivateKey = errors.New("hardened derivation requires a private key")
	ErrInvalidChild                         = errors.New("derived child key is invalid, use the next index")
	ErrMaxDepthExceeded                     = errors.New("cannot derive beyond depth 255")
	ErrInvalidSeedLength                    = errors.New("seed must be between 16 and 64 bytes")
	ErrUnusableSeed                         = errors.New("seed produces an invalid master key")
	ErrPublicOnlyKey                        = errors.New("key has no private material")
	ErrInvalidPath                          = errors.New("invalid derivation path")
)

// KeyMaterial is either PrivateDerivable or PublicOnly.
type KeyMaterial interface {
	PublicKey() *btcec.PublicKey
	isKeyMaterial()
}

// PrivateDerivable holds a private scalar.
type PrivateDerivable struct {
	priv *btcec.PrivateKey
}

func (m PrivateDerivable) PublicKey() *btcec.PublicKey { return m.priv.PubKey() }

// PrivateKey returns the underlying signing key.
func (m PrivateDerivable) PrivateKey() *btcec.PrivateKey { return m.priv }

func (PrivateDerivable) isKeyMaterial() {}

// PublicOnly holds just the point.
type PublicOnly struct {
	pub *btcec.PublicKey
}

func (m PublicOnly) PublicKey() *btcec.PublicKey { return m.pub }

func (PublicOnly) isKeyMaterial() {}

// Key is one node of the derivation tree.
type Key struct {
	material          KeyMaterial
	chainCode         [ChainCodeLen]byte
	depth             uint8
	parentFingerprint [eckey.FingerprintLen]byte
	childNumber       ChildPathNumber
	network           params.Network
}

// NewMaster derives the root key from seed: HMAC-SHA512("Bitcoin seed", seed).
func NewMaster(seed []byte, network params.Network) (*Key, error) {
	if len(seed) < MinSeedLen || len(seed) > MaxSeedLen {
		return nil, fmt.Errorf("%w: got %d", ErrInvalidSeedLength, len(seed))
	}

	mac := hmac.New(sha512.New, masterHMACKey)
	mac.Write(seed)
	sum := mac.Sum(nil)

	priv, err := eckey.PrivateKeyFromScalar(sum[:32])
	if err != nil {
		return nil, ErrUnusableSeed
	}

	k := &Key{
		material: PrivateDerivable{priv: priv},
		network:  network,
	}
	copy(k.chainCode[:], sum[32:])
	return k, nil
}

// Material exposes the tagged key material.
func (k *Key) Material() KeyMaterial { return k.material }

// IsPrivate reports whether hardened children can be derived.
func (k *Key) IsPrivate() bool {
	_, ok := k.material.(PrivateDerivable)
	return ok
}

// PrivateKey returns the signing key or ErrPublicOnlyKey.
func (k *Key) PrivateKey() (*btcec.PrivateKey, error) {
	m, ok := k.material.(PrivateDerivable)
	if !ok {
		return nil, ErrPublicOnlyKey
	}
	return m.priv, nil
}

func (k *Key) PublicKey() *btcec.PublicKey { return k.material.PublicKey() }

// PublicKeyBytes is the compressed SEC1 encoding.
func (k *Key) PublicKeyBytes() []byte { return eckey.Compress(k.PublicKey()) }

func (k *Key) ChainCode() [ChainCodeLen]byte { return k.chainCode }

func (k *Key) Depth() uint8 { return k.depth }

func (k *Key) ParentFingerprint() [eckey.FingerprintLen]byte { return k.parentFingerprint }

func (k *Key) ChildNumber() ChildPathNumber { return k.childNumber }

func (k *Key) Network() params.Network { return k.network }

// Fingerprint identifies this key as a parent.
func (k *Key) Fingerprint() [eckey.FingerprintLen]byte {
	return eckey.Fingerprint(k.PublicKey())
}

// Child derives one step down the tree.
func (k *Key) Child(c ChildPathNumber) (*Key, error) {
	if k.depth == MaxDepth {
		return nil, ErrMaxDepthExceeded
	}

	parentPub := k.PublicKeyBytes()
	index := c.Bytes()

	data := make([]byte, 0, 1+eckey.ScalarLen+len(index))
	if c.Hardened {
		m, ok := k.material.(PrivateDerivable)
		if !ok {
			return nil, ErrHardenedDerivationRequiresPrivateKey
		}
		data = append(data, 0x00)
		data = append(data, m.priv.Serialize()...)
	} else {
		data = append(data, parentPub...)
	}
	data = append(data, index[:]...)

	mac := hmac.New(sha512.New, k.chainCode[:])
	mac.Write(data)
	sum := mac.Sum(nil)
	il, ir := sum[:32], sum[32:]

	child := &Key{
		depth:             k.depth + 1,
		parentFingerprint: eckey.Fingerprint(k.PublicKey()),
		childNumber:       c,
		network:           k.network,
	}
	copy(child.chainCode[:], ir)

	switch m := k.material.(type) {
	case PrivateDerivable:
		scalar, err := eckey.AddScalars(il, m.priv.Serialize())
		if err != nil {
			return nil, fmt.Errorf("%w: %s", ErrInvalidChild, c)
		}
		priv, err := eckey.PrivateKeyFromScalar(scalar)
		if err != nil {
			return nil, fmt.Errorf("%w: %s", ErrInvalidChild, c)
		}
		child.material = PrivateDerivable{priv: priv}
	case PublicOnly:
		ilG, err := eckey.ScalarBaseMult(il)
		if err != nil {
			return nil, fmt.Errorf("%w: %s", ErrInvalidChild, c)
		}
		pub, err := eckey.AddPoints(ilG, m.pub)
		if err != nil {
			return nil, fmt.Errorf("%w: %s", ErrInvalidChild, c)
		}
		child.material = PublicOnly{pub: pub}
	default:
		return nil, fmt.Errorf("unsupported key material %T", k.material)
	}
	return child, nil
}

// Derive applies every step of path in order.
func (k *Key) Derive(path Path) (*Key, error) {
	cur := k
	for i, c := range path {
		next, err := cur.Child(c)
		if err != nil {
			return nil, fmt.Errorf("derivation step %d (%s) failed: %w", i, c, err)
		}
		cur = next
	}
	return cur, nil
}

// DerivePurpose applies the configured purpose path to a master key.
func DerivePurpose(master *Key, p params.Params, purpose params.Purpose) (*Key, error) {
	raw, err := p.PurposePath(purpose)
	if err != nil {
		return nil, err
	}
	return master.Derive(PathFromUint32(raw))
}

// Neuter drops the private scalar.
func (k *Key) Neuter() *Key {
	if !k.IsPrivate() {
		return k
	}
	n := *k
	n.material = PublicOnly{pub: k.PublicKey()}
	return &n
}

// Sign produces a low-s DER signature over SHA-256(msg).
func (k *Key) Sign(msg []byte) ([]byte, error) {
	priv, err := k.PrivateKey()
	if err != nil {
		return nil, err
	}
	return eckey.Sign(priv, msg)
}

// SignHash signs a caller-computed 32-byte digest.
func (k *Key) SignHash(digest []byte) ([]byte, error) {
	priv, err := k.PrivateKey()
	if err != nil {
		return nil, err
	}
	return eckey.SignHash(priv, digest)
}

// Verify checks a signature made by Sign.
func (k *Key) Verify(msg, sig []byte) bool {
	return eckey.Verify(k.PublicKey(), msg, sig)
}

// EthereumAddress is keccak256(uncompressed point)[12:].
func (k *Key) EthereumAddress() common.Address {
	return common.BytesToAddress(crypto.Keccak256(eckey.Uncompress(k.PublicKey())[1:])[12:])
}

// Equal compares every serialized field, including network and key kind.
func (k *Key) Equal(other *Key) bool {
	if k == nil || other == nil {
		return k == other
	}
	return bytes.Equal(k.Serialize(), other.Serialize())
}
