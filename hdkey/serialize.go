package hdkey

import (
	"bytes"
	"crypto/sha256"
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/btcsuite/btcd/btcutil/base58"
	"github.com/ruteri/custody-keyengine/eckey"
	"github.com/ruteri/custody-keyengine/params"
)

const (
	// SerializedLen is version(4) depth(1) parent(4) child(4) chain(32) key(33).
	SerializedLen = 78
	checksumLen   = 4
)

var (
	ErrChecksumMismatch          = errors.New("extended key checksum mismatch")
	ErrUnknownExtendedKeyVersion = errors.New("unknown extended key version")
	ErrInvalidKeyLength          = errors.New("extended key has the wrong length")
	ErrMalformedKey              = errors.New("malformed extended key")
)

type versionInfo struct {
	network params.Network
	private bool
}

var (
	versionMainnetPrivate = [4]byte{0x04, 0x88, 0xad, 0xe4}
	versionMainnetPublic  = [4]byte{0x04, 0x88, 0xb2, 0x1e}
	versionTestnetPrivate = [4]byte{0x04, 0x35, 0x83, 0x94}
	versionTestnetPublic  = [4]byte{0x04, 0x35, 0x87, 0xcf}

	versions = map[[4]byte]versionInfo{
		versionMainnetPrivate: {network: params.Mainnet, private: true},
		versionMainnetPublic:  {network: params.Mainnet},
		versionTestnetPrivate: {network: params.Testnet, private: true},
		versionTestnetPublic:  {network: params.Testnet},
	}
)

func versionFor(network params.Network, private bool) [4]byte {
	switch {
	case network == params.Testnet && private:
		return versionTestnetPrivate
	case network == params.Testnet:
		return versionTestnetPublic
	case private:
		return versionMainnetPrivate
	default:
		return versionMainnetPublic
	}
}

// Serialize returns the 78-byte BIP32 encoding without checksum.
func (k *Key) Serialize() []byte {
	out := make([]byte, 0, SerializedLen)
	version := versionFor(k.network, k.IsPrivate())
	out = append(out, version[:]...)
	out = append(out, k.depth)
	out = append(out, k.parentFingerprint[:]...)
	child := k.childNumber.Bytes()
	out = append(out, child[:]...)
	out = append(out, k.chainCode[:]...)
	if m, ok := k.material.(PrivateDerivable); ok {
		out = append(out, 0x00)
		out = append(out, m.priv.Serialize()...)
	} else {
		out = append(out, k.PublicKeyBytes()...)
	}
	return out
}

// SerializeWithChecksum appends the first four bytes of SHA256(SHA256(payload)).
func (k *Key) SerializeWithChecksum() []byte {
	payload := k.Serialize()
	sum := checksum(payload)
	return append(payload, sum[:]...)
}

// String is the Base58 form, e.g. "xprv9s21...".
func (k *Key) String() string {
	return base58.Encode(k.SerializeWithChecksum())
}

func checksum(payload []byte) [checksumLen]byte {
	first := sha256.Sum256(payload)
	second := sha256.Sum256(first[:])
	var out [checksumLen]byte
	copy(out[:], second[:checksumLen])
	return out
}

// Parse decodes a Base58 extended key.
func Parse(s string) (*Key, error) {
	raw := base58.Decode(s)
	if len(raw) == 0 {
		return nil, fmt.Errorf("%w: not base58", ErrMalformedKey)
	}
	return ParseBytes(raw)
}

// ParseBytes decodes the 82-byte payload+checksum form. The checksum is
// checked before anything else is interpreted.
func ParseBytes(raw []byte) (*Key, error) {
	if len(raw) != SerializedLen+checksumLen {
		return nil, fmt.Errorf("%w: got %d bytes", ErrInvalidKeyLength, len(raw))
	}
	payload, sum := raw[:SerializedLen], raw[SerializedLen:]
	expected := checksum(payload)
	if !bytes.Equal(sum, expected[:]) {
		return nil, ErrChecksumMismatch
	}

	var version [4]byte
	copy(version[:], payload[0:4])
	info, ok := versions[version]
	if !ok {
		return nil, fmt.Errorf("%w: %x", ErrUnknownExtendedKeyVersion, version)
	}

	k := &Key{
		depth:       payload[4],
		childNumber: ChildPathNumberFromUint32(binary.BigEndian.Uint32(payload[9:13])),
		network:     info.network,
	}
	copy(k.parentFingerprint[:], payload[5:9])
	copy(k.chainCode[:], payload[13:45])

	if k.depth == 0 && (k.parentFingerprint != [eckey.FingerprintLen]byte{} || k.childNumber.Uint32() != 0) {
		return nil, fmt.Errorf("%w: master key with parent data", ErrMalformedKey)
	}

	keyData := payload[45:78]
	if info.private {
		if keyData[0] != 0x00 {
			return nil, fmt.Errorf("%w: private key prefix %#x", ErrMalformedKey, keyData[0])
		}
		priv, err := eckey.PrivateKeyFromScalar(keyData[1:])
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrMalformedKey, err)
		}
		k.material = PrivateDerivable{priv: priv}
	} else {
		if keyData[0] != 0x02 && keyData[0] != 0x03 {
			return nil, fmt.Errorf("%w: public key prefix %#x", ErrMalformedKey, keyData[0])
		}
		pub, err := eckey.ParsePublicKey(keyData)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrMalformedKey, err)
		}
		k.material = PublicOnly{pub: pub}
	}
	return k, nil
}
