package shamir

import (
	"crypto/rand"
	"math/big"
	"testing"

	"github.com/ruteri/custody-keyengine/field"
	"github.com/ruteri/custody-keyengine/params"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testSharer(t *testing.T) *Sharer {
	s, err := NewSharer(params.Default())
	require.NoError(t, err)
	return s
}

func TestConcreteScenario(t *testing.T) {
	s := testSharer(t)
	policy := NewShardingPolicy(2, 7, 11, 19)

	points, err := s.Split(big.NewInt(42), policy)
	require.NoError(t, err)
	require.Len(t, points, 3)
	for i, id := range []int64{7, 11, 19} {
		assert.Equal(t, id, points[i].X.Int64())
	}

	secret, err := s.RecoverThreshold(points[:2], 2)
	require.NoError(t, err)
	assert.Equal(t, int64(42), secret.Int64())

	secret, err = s.Recover([]Point{points[2], points[0]})
	require.NoError(t, err)
	assert.Equal(t, int64(42), secret.Int64())

	_, err = s.RecoverThreshold(points[:1], 2)
	assert.ErrorIs(t, err, ErrInsufficientShares)
	assert.ErrorIs(t, err, ErrDegenerateMatrix)

	_, err = s.Recover(points[:1])
	assert.ErrorIs(t, err, ErrDegenerateMatrix)

	_, err = s.RecoverThreshold(points, 2)
	assert.ErrorIs(t, err, ErrTooManyShares)
}

func TestThresholdCorrectness(t *testing.T) {
	s := testSharer(t)
	f := s.Field()

	for _, tc := range []struct {
		threshold int
		ids       []uint64
	}{
		{2, []uint64{1, 2}},
		{2, []uint64{5, 9, 200}},
		{3, []uint64{1, 2, 3, 4, 5}},
		{4, []uint64{1000, 17, 3, 999999, 42}},
		{7, []uint64{1, 2, 3, 4, 5, 6, 7, 8, 9, 10}},
	} {
		for round := 0; round < 4; round++ {
			secret, err := f.Random(rand.Reader)
			require.NoError(t, err)

			points, err := s.Split(secret, NewShardingPolicy(tc.threshold, tc.ids...))
			require.NoError(t, err)

			// Every contiguous window of threshold points recovers.
			for start := 0; start+tc.threshold <= len(points); start++ {
				got, err := s.RecoverThreshold(points[start:start+tc.threshold], tc.threshold)
				require.NoError(t, err)
				assert.Equal(t, 0, secret.Cmp(got), "threshold %d window %d", tc.threshold, start)
			}

			if tc.threshold > MinThreshold {
				_, err := s.RecoverThreshold(points[:tc.threshold-1], tc.threshold)
				assert.ErrorIs(t, err, ErrInsufficientShares)
			}
		}
	}
}

func TestSplitEdgeValues(t *testing.T) {
	s := testSharer(t)
	pMinus1 := new(big.Int).Sub(s.Field().Prime(), big.NewInt(1))
	policy := NewShardingPolicy(3, 4, 5, 6)

	for _, secret := range []*big.Int{big.NewInt(0), big.NewInt(1), pMinus1} {
		points, err := s.Split(secret, policy)
		require.NoError(t, err)
		got, err := s.Recover(points)
		require.NoError(t, err)
		assert.Equal(t, 0, secret.Cmp(got))
	}

	_, err := s.Split(s.Field().Prime(), policy)
	assert.ErrorIs(t, err, field.ErrOutOfRange)
}

func TestPolicyValidation(t *testing.T) {
	s := testSharer(t)
	secret := big.NewInt(1)

	_, err := s.Split(secret, NewShardingPolicy(4, 1, 2, 3))
	assert.ErrorIs(t, err, ErrThresholdExceedsParticipants)

	// A lone share would hand every holder the secret outright.
	_, err = s.Split(secret, NewShardingPolicy(1, 1, 2, 3))
	assert.ErrorIs(t, err, ErrInvalidThreshold)
	_, err = s.Split(secret, NewShardingPolicy(1, 1))
	assert.ErrorIs(t, err, ErrInvalidThreshold)
	assert.ErrorIs(t, NewShardingPolicy(MinThreshold-1, 1, 2).Validate(s.Field()), ErrInvalidThreshold)
	assert.NoError(t, NewShardingPolicy(MinThreshold, 1, 2).Validate(s.Field()))

	_, err = s.Split(secret, NewShardingPolicy(2, 1, 2, 2))
	assert.ErrorIs(t, err, ErrInvalidParticipantID)

	_, err = s.Split(secret, NewShardingPolicy(2, 0, 1))
	assert.ErrorIs(t, err, ErrInvalidParticipantID)

	tooBig := ShardingPolicy{Threshold: 2, ParticipantIDs: []*big.Int{big.NewInt(1), s.Field().Prime()}}
	_, err = s.Split(secret, tooBig)
	assert.ErrorIs(t, err, ErrInvalidParticipantID)
}

func TestRecoverDuplicateIDs(t *testing.T) {
	s := testSharer(t)
	points, err := s.Split(big.NewInt(99), NewShardingPolicy(2, 3, 8))
	require.NoError(t, err)

	_, err = s.Recover([]Point{points[0], points[0]})
	assert.ErrorIs(t, err, ErrDegenerateMatrix)
}

func TestReshareRoundTrip(t *testing.T) {
	s := testSharer(t)
	secret, err := s.Field().Random(rand.Reader)
	require.NoError(t, err)

	level0, err := s.Split(secret, NewShardingPolicy(2, 1, 2, 3))
	require.NoError(t, err)

	// Each of the first threshold holders re-shares to a new 3-of-4 group.
	next := NewShardingPolicy(3, 10, 20, 30, 40)
	recovered := make([]Point, 0, 2)
	for _, share := range level0[:2] {
		level1, err := s.Reshare(share, next)
		require.NoError(t, err)

		value, err := s.RecoverThreshold(level1[1:], 3)
		require.NoError(t, err)
		assert.Equal(t, 0, share.Y.Cmp(value))
		recovered = append(recovered, Point{X: share.X, Y: value})
	}

	got, err := s.RecoverThreshold(recovered, 2)
	require.NoError(t, err)
	assert.Equal(t, 0, secret.Cmp(got))
}

type zeroReader struct{}

func (zeroReader) Read(p []byte) (int, error) {
	for i := range p {
		p[i] = 0
	}
	return len(p), nil
}

func TestWithRandom(t *testing.T) {
	s, err := NewSharer(params.Default(), WithRandom(zeroReader{}))
	require.NoError(t, err)

	// All higher coefficients are zero, so every share equals the secret.
	points, err := s.Split(big.NewInt(5), NewShardingPolicy(3, 1, 2, 3))
	require.NoError(t, err)
	for _, p := range points {
		assert.Equal(t, int64(5), p.Y.Int64())
	}
}
