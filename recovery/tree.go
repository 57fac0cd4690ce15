// Package recovery manages multi-level shard trees.
//
// The forward side shards a root seed for a policy and re-shares shards into
// new tree levels. The backward side collapses a set of decrypted leaf
// shards, level by level, back into the root seed. Neither side ever
// reconstructs the root seed until the final reduction.
package recovery

import (
	"errors"
	"fmt"
	"math/big"
	"sort"

	"github.com/ruteri/custody-keyengine/field"
	"github.com/ruteri/custody-keyengine/shamir"
)

// SeedLen is the width of a root seed and of its decoded recovery output.
const SeedLen = 64

var (
	ErrRootSeedRecoveryFailed = errors.New("root seed recovery failed")
	ErrUnknownAncestor        = errors.New("shard references an unknown ancestor")
	ErrCyclicAncestry         = errors.New("shard ancestry contains a cycle")
	ErrNoRoot                 = errors.New("tree did not collapse to a single root")
	ErrInvalidSeedLength      = errors.New("root seed must be 64 bytes")
)

// ShardID names a position in the tree. The empty id means "no parent".
type ShardID string

// ShardEntry is a decrypted shard at a known tree position.
type ShardEntry struct {
	ShardID       ShardID
	ParentID      ShardID
	ParticipantID *big.Int
	Value         *big.Int
}

// Point returns the shamir share carried by the entry.
func (e ShardEntry) Point() shamir.Point {
	return shamir.Point{X: e.ParticipantID, Y: e.Value}
}

// AncestorShard records where a consumed shard used to sit. It never
// carries a value.
type AncestorShard struct {
	ShardID       ShardID
	ParentID      ShardID
	ParticipantID *big.Int
}

// Tree is the input to recovery.
type Tree struct {
	// RootID is the position of the root seed. When empty, any parent id
	// without an ancestor record is taken to be the root.
	RootID ShardID
	// Leaves are the decrypted shards available for this recovery.
	Leaves []ShardEntry
	// Ancestors is keyed by shard id.
	Ancestors map[ShardID]AncestorShard
	// Thresholds optionally pins the exact share count per parent id.
	Thresholds map[ShardID]int
}

// NewTree starts an empty tree rooted at rootID.
func NewTree(rootID ShardID) *Tree {
	return &Tree{
		RootID:     rootID,
		Ancestors:  make(map[ShardID]AncestorShard),
		Thresholds: make(map[ShardID]int),
	}
}

// AddLevel merges a level's ancestry and thresholds. Leaves are chosen by
// the caller, since only decrypted shards can take part.
func (t *Tree) AddLevel(l *Level) {
	if t.Ancestors == nil {
		t.Ancestors = make(map[ShardID]AncestorShard)
	}
	if t.Thresholds == nil {
		t.Thresholds = make(map[ShardID]int)
	}
	if t.RootID == "" && l.RootID != "" {
		t.RootID = l.RootID
	}
	for _, a := range l.Ancestors {
		t.Ancestors[a.ShardID] = a
	}
	for id, k := range l.Thresholds {
		t.Thresholds[id] = k
	}
}

// Reducer collapses trees. It is stateless.
type Reducer struct {
	sharer *shamir.Sharer
}

func NewReducer(sharer *shamir.Sharer) *Reducer {
	return &Reducer{sharer: sharer}
}

// RecoverSeed collapses the tree and decodes the root value as a 64-byte seed.
func (r *Reducer) RecoverSeed(t *Tree) ([]byte, error) {
	value, err := r.RecoverValue(t)
	if err != nil {
		return nil, err
	}
	seed, err := field.FixedBytes(value, SeedLen)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrRootSeedRecoveryFailed, err)
	}
	return seed, nil
}

// RecoverValue collapses the tree into the root field element. Every
// failure is wrapped in ErrRootSeedRecoveryFailed and no partial value is
// returned.
func (r *Reducer) RecoverValue(t *Tree) (*big.Int, error) {
	v, err := r.reduce(t)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrRootSeedRecoveryFailed, err)
	}
	return v, nil
}

type pending struct {
	entry ShardEntry
	depth int
}

func (r *Reducer) reduce(t *Tree) (*big.Int, error) {
	if len(t.Leaves) == 0 {
		return nil, fmt.Errorf("%w: no leaves", shamir.ErrInsufficientShares)
	}

	current := make([]pending, 0, len(t.Leaves))
	for _, leaf := range t.Leaves {
		d, err := t.depth(leaf)
		if err != nil {
			return nil, err
		}
		current = append(current, pending{entry: leaf, depth: d})
	}

	// Each pass reduces the deepest level, so every group is complete by the
	// time it is reduced even when leaves come from different generations.
	for {
		maxDepth := 0
		for _, p := range current {
			if p.depth > maxDepth {
				maxDepth = p.depth
			}
		}
		if maxDepth == 0 {
			break
		}

		groups := make(map[ShardID][]ShardEntry)
		next := make([]pending, 0, len(current))
		for _, p := range current {
			if p.depth == maxDepth {
				groups[p.entry.ParentID] = append(groups[p.entry.ParentID], p.entry)
			} else {
				next = append(next, p)
			}
		}

		parents := make([]ShardID, 0, len(groups))
		for id := range groups {
			parents = append(parents, id)
		}
		sort.Slice(parents, func(i, j int) bool { return parents[i] < parents[j] })

		for _, parentID := range parents {
			value, err := r.recoverGroup(t, parentID, groups[parentID])
			if err != nil {
				return nil, fmt.Errorf("reducing shards of %s: %w", parentID, err)
			}
			entry := ShardEntry{ShardID: parentID, Value: value}
			if a, ok := t.Ancestors[parentID]; ok && !t.isRoot(parentID) {
				entry.ParentID = a.ParentID
				entry.ParticipantID = a.ParticipantID
			}
			next = append(next, pending{entry: entry, depth: maxDepth - 1})
		}
		current = next
	}

	if len(current) != 1 {
		return nil, fmt.Errorf("%w: %d entries left", ErrNoRoot, len(current))
	}
	return current[0].entry.Value, nil
}

func (r *Reducer) recoverGroup(t *Tree, parentID ShardID, group []ShardEntry) (*big.Int, error) {
	points := make([]shamir.Point, len(group))
	for i, e := range group {
		points[i] = e.Point()
	}
	if k, ok := t.Thresholds[parentID]; ok {
		return r.sharer.RecoverThreshold(points, k)
	}
	return r.sharer.Recover(points)
}

func (t *Tree) isRoot(id ShardID) bool {
	if t.RootID != "" {
		return id == t.RootID
	}
	a, ok := t.Ancestors[id]
	return !ok || a.ParentID == ""
}

// depth counts the hops from an entry up to the root. The root itself is
// depth 0 and its direct shards are depth 1.
func (t *Tree) depth(e ShardEntry) (int, error) {
	if e.ParentID == "" {
		return 0, nil
	}
	d := 1
	cur := e.ParentID
	seen := map[ShardID]struct{}{e.ShardID: {}}
	for !t.isRoot(cur) {
		if _, loop := seen[cur]; loop {
			return 0, fmt.Errorf("%w: at %s", ErrCyclicAncestry, cur)
		}
		seen[cur] = struct{}{}

		a, ok := t.Ancestors[cur]
		if !ok {
			return 0, fmt.Errorf("%w: %s", ErrUnknownAncestor, cur)
		}
		if a.ParentID == "" {
			return 0, fmt.Errorf("%w: %s has no parent but is not the root", ErrUnknownAncestor, cur)
		}
		cur = a.ParentID
		d++
	}
	return d, nil
}
