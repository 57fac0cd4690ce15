package recovery

import (
	"fmt"
	"math/big"

	"github.com/google/uuid"
	"github.com/ruteri/custody-keyengine/shamir"
)

// Level is one generation of shards together with the ancestry needed to
// link it back up the tree.
type Level struct {
	// RootID is set only on the first level.
	RootID     ShardID
	Entries    []ShardEntry
	Ancestors  []AncestorShard
	Thresholds map[ShardID]int
}

// Sharder produces tree levels. It is stateless.
type Sharder struct {
	sharer *shamir.Sharer
}

func NewSharder(sharer *shamir.Sharer) *Sharder {
	return &Sharder{sharer: sharer}
}

func newShardID() ShardID {
	return ShardID(uuid.NewString())
}

// ShardSeed splits a 64-byte root seed into the first tree level.
func (s *Sharder) ShardSeed(seed []byte, policy shamir.ShardingPolicy) (*Level, error) {
	if len(seed) != SeedLen {
		return nil, fmt.Errorf("%w: got %d", ErrInvalidSeedLength, len(seed))
	}
	points, err := s.sharer.Split(new(big.Int).SetBytes(seed), policy)
	if err != nil {
		return nil, err
	}

	rootID := newShardID()
	level := &Level{
		RootID:     rootID,
		Entries:    make([]ShardEntry, len(points)),
		Thresholds: map[ShardID]int{rootID: policy.Threshold},
	}
	for i, p := range points {
		level.Entries[i] = ShardEntry{
			ShardID:       newShardID(),
			ParentID:      rootID,
			ParticipantID: p.X,
			Value:         p.Y,
		}
	}
	return level, nil
}

// ReshareLevel re-shares the first threshold entries of a level under a new
// policy. Each consumed entry becomes an ancestor and gets one child shard
// set; the remaining entries are left untouched and stay valid.
func (s *Sharder) ReshareLevel(entries []ShardEntry, threshold int, policy shamir.ShardingPolicy) (*Level, error) {
	if threshold < shamir.MinThreshold {
		return nil, fmt.Errorf("%w: %d", shamir.ErrInvalidThreshold, threshold)
	}
	if len(entries) < threshold {
		return nil, fmt.Errorf("%w: %d entries for threshold %d", shamir.ErrInsufficientShares, len(entries), threshold)
	}

	level := &Level{
		Entries:    make([]ShardEntry, 0, threshold*len(policy.ParticipantIDs)),
		Ancestors:  make([]AncestorShard, 0, threshold),
		Thresholds: make(map[ShardID]int, threshold),
	}
	for _, old := range entries[:threshold] {
		if old.ShardID == "" {
			return nil, fmt.Errorf("%w: entry without a shard id", ErrUnknownAncestor)
		}
		points, err := s.sharer.Reshare(old.Point(), policy)
		if err != nil {
			return nil, fmt.Errorf("resharing %s: %w", old.ShardID, err)
		}

		level.Ancestors = append(level.Ancestors, AncestorShard{
			ShardID:       old.ShardID,
			ParentID:      old.ParentID,
			ParticipantID: old.ParticipantID,
		})
		level.Thresholds[old.ShardID] = policy.Threshold
		for _, p := range points {
			level.Entries = append(level.Entries, ShardEntry{
				ShardID:       newShardID(),
				ParentID:      old.ShardID,
				ParticipantID: p.X,
				Value:         p.Y,
			})
		}
	}
	return level, nil
}

// ByParticipant groups entries by participant id so each holder can be sent
// its own shards.
func ByParticipant(entries []ShardEntry) map[string][]ShardEntry {
	out := make(map[string][]ShardEntry)
	for _, e := range entries {
		key := e.ParticipantID.String()
		out[key] = append(out[key], e)
	}
	return out
}
