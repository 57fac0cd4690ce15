// Package shamir implements Shamir secret sharing over the fixed prime field.
//
// Shares are points on a random polynomial whose constant term is the
// secret. Splitting evaluates the polynomial through a Vandermonde matrix;
// recovery inverts the Vandermonde matrix of the supplied x values with an
// explicit LU decomposition and reads the secret off the first row.
package shamir

import (
	"crypto/rand"
	"errors"
	"fmt"
	"io"
	"math/big"

	"github.com/ruteri/custody-keyengine/field"
	"github.com/ruteri/custody-keyengine/params"
)

// MinThreshold is the smallest meaningful threshold: with one share every
// holder would own the secret outright.
const MinThreshold = 2

var (
	ErrThresholdExceedsParticipants = errors.New("threshold exceeds number of participants")
	ErrDegenerateMatrix             = errors.New("degenerate matrix")
	ErrInsufficientShares           = errors.New("insufficient shares")
	ErrTooManyShares                = errors.New("more shares than the threshold")
	ErrInvalidParticipantID         = errors.New("invalid participant id")
	ErrInvalidThreshold             = errors.New("invalid threshold")
)

// Point is one share: participant id X and share value Y.
type Point struct {
	X *big.Int
	Y *big.Int
}

// ShardingPolicy says who holds shares and how many are needed.
type ShardingPolicy struct {
	Threshold      int
	ParticipantIDs []*big.Int
}

// NewShardingPolicy is a convenience constructor for small integer ids.
func NewShardingPolicy(threshold int, ids ...uint64) ShardingPolicy {
	p := ShardingPolicy{Threshold: threshold, ParticipantIDs: make([]*big.Int, len(ids))}
	for i, id := range ids {
		p.ParticipantIDs[i] = new(big.Int).SetUint64(id)
	}
	return p
}

// Validate checks the policy against the field: MinThreshold <= threshold <=
// participants, and every id distinct and in [1, P).
func (p ShardingPolicy) Validate(f *field.Field) error {
	if p.Threshold < MinThreshold {
		return fmt.Errorf("%w: %d, minimum is %d", ErrInvalidThreshold, p.Threshold, MinThreshold)
	}
	if p.Threshold > len(p.ParticipantIDs) {
		return fmt.Errorf("%w: threshold %d, %d participants", ErrThresholdExceedsParticipants, p.Threshold, len(p.ParticipantIDs))
	}
	return validateIDs(f, p.ParticipantIDs)
}

func validateIDs(f *field.Field, ids []*big.Int) error {
	seen := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		if id == nil || id.Sign() <= 0 || !f.Contains(id) {
			return fmt.Errorf("%w: must be in [1, P)", ErrInvalidParticipantID)
		}
		key := id.Text(16)
		if _, dup := seen[key]; dup {
			return fmt.Errorf("%w: duplicate id %s", ErrInvalidParticipantID, key)
		}
		seen[key] = struct{}{}
	}
	return nil
}

// Sharer splits and recovers secrets. It holds no mutable state and is safe
// for concurrent use as long as its random source is.
type Sharer struct {
	field *field.Field
	rand  io.Reader
}

type Option func(*Sharer)

// WithRandom replaces crypto/rand as the coefficient source.
func WithRandom(r io.Reader) Option {
	return func(s *Sharer) {
		s.rand = r
	}
}

func NewSharer(p params.Params, opts ...Option) (*Sharer, error) {
	f, err := field.New(p.FieldPrime())
	if err != nil {
		return nil, err
	}
	s := &Sharer{field: f, rand: rand.Reader}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

func (s *Sharer) Field() *field.Field { return s.field }

// Split shares secret among policy.ParticipantIDs so that any
// policy.Threshold of them recover it. Points come back in participant order.
func (s *Sharer) Split(secret *big.Int, policy ShardingPolicy) ([]Point, error) {
	if err := policy.Validate(s.field); err != nil {
		return nil, err
	}
	if !s.field.Contains(secret) {
		return nil, fmt.Errorf("secret: %w", field.ErrOutOfRange)
	}

	coefficients := make([]*big.Int, policy.Threshold)
	coefficients[0] = new(big.Int).Set(secret)
	for i := 1; i < policy.Threshold; i++ {
		c, err := s.field.Random(s.rand)
		if err != nil {
			return nil, err
		}
		coefficients[i] = c
	}

	v := Vandermonde(s.field, policy.ParticipantIDs, policy.Threshold)
	values, err := v.MulVec(s.field, coefficients)
	if err != nil {
		return nil, err
	}

	points := make([]Point, len(values))
	for i, y := range values {
		points[i] = Point{X: new(big.Int).Set(policy.ParticipantIDs[i]), Y: y}
	}
	return points, nil
}

// Recover interpolates the secret from exactly as many points as the
// polynomial's threshold. The matrix is sized by len(points): passing the
// wrong number of points solves a different system. Use RecoverThreshold
// when the threshold is known.
func (s *Sharer) Recover(points []Point) (*big.Int, error) {
	if len(points) < MinThreshold {
		return nil, fmt.Errorf("%w: %w: got %d points", ErrInsufficientShares, ErrDegenerateMatrix, len(points))
	}

	xs := make([]*big.Int, len(points))
	ys := make([]*big.Int, len(points))
	for i, p := range points {
		if p.X == nil || p.Y == nil {
			return nil, fmt.Errorf("%w: point %d is incomplete", ErrInvalidParticipantID, i)
		}
		xs[i] = p.X
		ys[i] = s.field.Reduce(p.Y)
	}
	if err := validateIDs(s.field, xs); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrDegenerateMatrix, err)
	}

	inv, err := Invert(s.field, Vandermonde(s.field, xs, len(xs)))
	if err != nil {
		return nil, err
	}
	return Dot(s.field, inv.data[0], ys), nil
}

// RecoverThreshold is Recover with an exact count check.
func (s *Sharer) RecoverThreshold(points []Point, threshold int) (*big.Int, error) {
	switch {
	case threshold < MinThreshold:
		return nil, fmt.Errorf("%w: %d", ErrInvalidThreshold, threshold)
	case len(points) < threshold:
		return nil, fmt.Errorf("%w: %w: %d of %d", ErrInsufficientShares, ErrDegenerateMatrix, len(points), threshold)
	case len(points) > threshold:
		return nil, fmt.Errorf("%w: %d of %d", ErrTooManyShares, len(points), threshold)
	}
	return s.Recover(points)
}

// Reshare treats share.Y as a new secret and splits it under policy.
func (s *Sharer) Reshare(share Point, policy ShardingPolicy) ([]Point, error) {
	if share.Y == nil {
		return nil, fmt.Errorf("%w: share has no value", field.ErrOutOfRange)
	}
	return s.Split(share.Y, policy)
}
