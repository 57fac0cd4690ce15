// Package eckey wraps the secp256k1 primitives the engine relies on: scalar
// and point arithmetic, point encodings, HASH160 and deterministic low-s
// ECDSA. Curve arithmetic itself comes from btcec.
package eckey

import (
	"crypto/sha256"
	"errors"
	"fmt"
	"math/big"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/ecdsa"
	"golang.org/x/crypto/ripemd160" //nolint:staticcheck // HASH160 is defined over RIPEMD-160
)

const (
	ScalarLen            = 32
	CompressedPointLen   = 33
	UncompressedPointLen = 65
	FingerprintLen       = 4
	hashLen              = sha256.Size
)

var (
	ErrInvalidScalar            = errors.New("scalar is zero or not below the curve order")
	ErrPointAtInfinity          = errors.New("point at infinity")
	ErrInvalidHashLength        = errors.New("digest must be 32 bytes")
	ErrSignatureSelfCheckFailed = errors.New("signature failed self-verification")
)

// verifyHash is the self-check used after signing; tests swap it out.
var verifyHash = VerifyHash

// CurveOrder returns a copy of n.
func CurveOrder() *big.Int {
	return new(big.Int).Set(btcec.S256().N)
}

func scalarFromBytes(b []byte) (*btcec.ModNScalar, error) {
	if len(b) != ScalarLen {
		return nil, fmt.Errorf("%w: length %d", ErrInvalidScalar, len(b))
	}
	var k btcec.ModNScalar
	if overflow := k.SetByteSlice(b); overflow || k.IsZero() {
		return nil, ErrInvalidScalar
	}
	return &k, nil
}

// PrivateKeyFromScalar validates a 32-byte big-endian scalar in [1, n).
func PrivateKeyFromScalar(b []byte) (*btcec.PrivateKey, error) {
	k, err := scalarFromBytes(b)
	if err != nil {
		return nil, err
	}
	return btcec.PrivKeyFromScalar(k), nil
}

// AddScalars returns (a + b) mod n. Both inputs must be valid scalars.
func AddScalars(a, b []byte) ([]byte, error) {
	ka, err := scalarFromBytes(a)
	if err != nil {
		return nil, err
	}
	kb, err := scalarFromBytes(b)
	if err != nil {
		return nil, err
	}
	ka.Add(kb)
	if ka.IsZero() {
		return nil, ErrInvalidScalar
	}
	out := ka.Bytes()
	return out[:], nil
}

// ScalarBaseMult returns k·G.
func ScalarBaseMult(k []byte) (*btcec.PublicKey, error) {
	scalar, err := scalarFromBytes(k)
	if err != nil {
		return nil, err
	}
	var result btcec.JacobianPoint
	btcec.ScalarBaseMultNonConst(scalar, &result)
	return affine(&result)
}

// AddPoints returns a + b.
func AddPoints(a, b *btcec.PublicKey) (*btcec.PublicKey, error) {
	var ja, jb, result btcec.JacobianPoint
	a.AsJacobian(&ja)
	b.AsJacobian(&jb)
	btcec.AddNonConst(&ja, &jb, &result)
	return affine(&result)
}

func affine(p *btcec.JacobianPoint) (*btcec.PublicKey, error) {
	if p.Z.IsZero() || (p.X.IsZero() && p.Y.IsZero()) {
		return nil, ErrPointAtInfinity
	}
	p.ToAffine()
	return btcec.NewPublicKey(&p.X, &p.Y), nil
}

// ParsePublicKey accepts compressed or uncompressed SEC1 encodings.
func ParsePublicKey(b []byte) (*btcec.PublicKey, error) {
	pub, err := btcec.ParsePubKey(b)
	if err != nil {
		return nil, fmt.Errorf("failed to parse public key: %w", err)
	}
	return pub, nil
}

// Compress returns the 33-byte SEC1 encoding.
func Compress(pub *btcec.PublicKey) []byte {
	return pub.SerializeCompressed()
}

// Uncompress returns the 65-byte SEC1 encoding.
func Uncompress(pub *btcec.PublicKey) []byte {
	return pub.SerializeUncompressed()
}

// Hash160 is RIPEMD160(SHA256(b)).
func Hash160(b []byte) []byte {
	sum := sha256.Sum256(b)
	h := ripemd160.New()
	h.Write(sum[:])
	return h.Sum(nil)
}

// Fingerprint is the first four bytes of HASH160 of the compressed key.
func Fingerprint(pub *btcec.PublicKey) [FingerprintLen]byte {
	var fp [FingerprintLen]byte
	copy(fp[:], Hash160(pub.SerializeCompressed()))
	return fp
}

// Sign hashes msg with SHA-256 and signs the digest. See SignHash.
func Sign(priv *btcec.PrivateKey, msg []byte) ([]byte, error) {
	digest := sha256.Sum256(msg)
	return SignHash(priv, digest[:])
}

// SignHash produces a DER-encoded ECDSA signature over a 32-byte digest.
// The nonce is derived per RFC 6979 and s is forced into the lower half of
// the order. The signature is verified against priv's public key before it
// is returned.
func SignHash(priv *btcec.PrivateKey, digest []byte) ([]byte, error) {
	if len(digest) != hashLen {
		return nil, ErrInvalidHashLength
	}

	sig := ecdsa.Sign(priv, digest)
	r, s := sig.R(), sig.S()
	if s.IsOverHalfOrder() {
		s.Negate()
	}
	der := ecdsa.NewSignature(&r, &s).Serialize()

	if !verifyHash(priv.PubKey(), digest, der) {
		return nil, ErrSignatureSelfCheckFailed
	}
	return der, nil
}

// Verify checks a DER signature over SHA-256(msg).
func Verify(pub *btcec.PublicKey, msg, der []byte) bool {
	digest := sha256.Sum256(msg)
	return VerifyHash(pub, digest[:], der)
}

// VerifyHash checks a DER signature over a 32-byte digest. High-s
// signatures are rejected.
func VerifyHash(pub *btcec.PublicKey, digest, der []byte) bool {
	if len(digest) != hashLen {
		return false
	}
	sig, err := ecdsa.ParseDERSignature(der)
	if err != nil {
		return false
	}
	s := sig.S()
	if s.IsOverHalfOrder() {
		return false
	}
	return sig.Verify(digest, pub)
}
