package params

import (
	"errors"
	"fmt"
	"math/big"
)

// CurveSecp256k1 is the only curve the engine signs and derives on.
const CurveSecp256k1 = "secp256k1"

// MinFieldPrimeBits is the smallest field prime accepted. Root seeds are 64
// bytes, so P has to exceed 2^512 for a seed to survive sharding.
const MinFieldPrimeBits = 513

// HardenedOffset marks a hardened child path number.
const HardenedOffset uint32 = 0x80000000

// Network selects the extended-key version tags.
type Network int

const (
	Mainnet Network = iota
	Testnet
)

func (n Network) String() string {
	switch n {
	case Mainnet:
		return "mainnet"
	case Testnet:
		return "testnet"
	default:
		return "unknown"
	}
}

// ParseNetwork maps a flag value onto a Network.
func ParseNetwork(s string) (Network, error) {
	switch s {
	case "mainnet", "main", "":
		return Mainnet, nil
	case "testnet", "test":
		return Testnet, nil
	default:
		return 0, fmt.Errorf("unknown network %q", s)
	}
}

// Purpose names one of the independent key trees hanging off the master key.
type Purpose string

const (
	PurposeBitcoin  Purpose = "bitcoin"
	PurposeEthereum Purpose = "ethereum"
	PurposeCustody  Purpose = "custody"
)

// Purposes lists the built-in purposes in a stable order.
func Purposes() []Purpose {
	return []Purpose{PurposeBitcoin, PurposeEthereum, PurposeCustody}
}

var (
	ErrFieldPrimeTooSmall = errors.New("field prime must exceed 2^512")
	ErrFieldPrimeNotPrime = errors.New("field prime is not prime")
	ErrUnknownPurpose     = errors.New("unknown derivation purpose")
	ErrInvalidPurposePath = errors.New("purpose path must have exactly four levels")
)

// Params is the deployment-wide configuration shared by every component.
// It is built once and never mutated; accessors hand out copies.
type Params struct {
	curve      string
	fieldPrime *big.Int
	network    Network
	paths      map[Purpose][]uint32
}

// Option customises Params during construction.
type Option func(*Params) error

// WithNetwork selects mainnet or testnet version tags.
func WithNetwork(n Network) Option {
	return func(p *Params) error {
		p.network = n
		return nil
	}
}

// WithFieldPrime overrides the secret sharing prime.
func WithFieldPrime(prime *big.Int) Option {
	return func(p *Params) error {
		if prime == nil || prime.BitLen() < MinFieldPrimeBits {
			return ErrFieldPrimeTooSmall
		}
		if !prime.ProbablyPrime(32) {
			return ErrFieldPrimeNotPrime
		}
		p.fieldPrime = new(big.Int).Set(prime)
		return nil
	}
}

// WithPurposePath sets (or adds) the raw child numbers for a purpose.
func WithPurposePath(purpose Purpose, path []uint32) Option {
	return func(p *Params) error {
		if len(path) != 4 {
			return fmt.Errorf("%w: %s has %d", ErrInvalidPurposePath, purpose, len(path))
		}
		p.paths[purpose] = append([]uint32(nil), path...)
		return nil
	}
}

// DefaultFieldPrime returns the Mersenne prime 2^521 - 1.
func DefaultFieldPrime() *big.Int {
	p := new(big.Int).Lsh(big.NewInt(1), 521)
	return p.Sub(p, big.NewInt(1))
}

func defaultPaths() map[Purpose][]uint32 {
	h := HardenedOffset
	return map[Purpose][]uint32{
		PurposeBitcoin:  {h + 84, h + 0, h + 0, 0},
		PurposeEthereum: {h + 44, h + 60, h + 0, 0},
		PurposeCustody:  {h + 44, h + 1001, h + 0, 0},
	}
}

// New builds Params from the defaults and the given options.
func New(opts ...Option) (Params, error) {
	p := Params{
		curve:      CurveSecp256k1,
		fieldPrime: DefaultFieldPrime(),
		network:    Mainnet,
		paths:      defaultPaths(),
	}
	for _, opt := range opts {
		if err := opt(&p); err != nil {
			return Params{}, err
		}
	}
	return p, nil
}

// Default returns mainnet parameters with the default prime and paths.
func Default() Params {
	p, _ := New()
	return p
}

// Curve returns the curve name.
func (p Params) Curve() string { return p.curve }

// Network returns the configured network.
func (p Params) Network() Network { return p.network }

// FieldPrime returns a copy of P.
func (p Params) FieldPrime() *big.Int {
	if p.fieldPrime == nil {
		return DefaultFieldPrime()
	}
	return new(big.Int).Set(p.fieldPrime)
}

// PurposePath returns a copy of the raw child numbers for purpose.
func (p Params) PurposePath(purpose Purpose) ([]uint32, error) {
	path, ok := p.paths[purpose]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownPurpose, purpose)
	}
	return append([]uint32(nil), path...), nil
}
