package recovery

import (
	"fmt"
	"sort"

	"github.com/ruteri/custody-keyengine/shamir"
)

// SelectLeaves picks from the received shards a set the reducer can collapse
// with every group holding exactly its threshold of shares. Groups that
// cannot reach their threshold are left out, and a shard received directly
// is used as is rather than rebuilt from its own children, so a raw shard
// and its rebuilt value never meet in the same group.
//
// It returns shamir.ErrInsufficientShares while the root is out of reach.
func (t *Tree) SelectLeaves(received []ShardEntry) ([]ShardEntry, error) {
	if len(received) == 0 {
		return nil, fmt.Errorf("%w: no leaves", shamir.ErrInsufficientShares)
	}

	s := &selector{
		tree:        t,
		raw:         make(map[ShardID]ShardEntry, len(received)),
		children:    make(map[ShardID][]ShardID),
		rebuildable: make(map[ShardID]bool),
	}
	for _, e := range received {
		if _, err := t.depth(e); err != nil {
			return nil, err
		}
		if _, dup := s.raw[e.ShardID]; dup {
			continue
		}
		s.raw[e.ShardID] = e
		s.children[e.ParentID] = append(s.children[e.ParentID], e.ShardID)
	}
	for id, a := range t.Ancestors {
		if _, ok := s.raw[id]; ok || a.ParentID == "" || id == t.RootID {
			continue
		}
		s.children[a.ParentID] = append(s.children[a.ParentID], id)
	}
	for _, ids := range s.children {
		sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	}

	root := t.rootOf(received[0])
	if e, ok := s.raw[root]; ok {
		return []ShardEntry{e}, nil
	}
	if !s.canRebuild(root) {
		return nil, fmt.Errorf("%w: root %s is out of reach", shamir.ErrInsufficientShares, root)
	}
	return s.collect(root, nil), nil
}

// rootOf follows e's ancestry up to the root. The ancestry is assumed valid.
func (t *Tree) rootOf(e ShardEntry) ShardID {
	if e.ParentID == "" {
		return e.ShardID
	}
	cur := e.ParentID
	for !t.isRoot(cur) {
		cur = t.Ancestors[cur].ParentID
	}
	return cur
}

type selector struct {
	tree        *Tree
	raw         map[ShardID]ShardEntry
	children    map[ShardID][]ShardID
	rebuildable map[ShardID]bool
}

func (s *selector) threshold(id ShardID) (int, bool) {
	k, ok := s.tree.Thresholds[id]
	if !ok {
		return shamir.MinThreshold, false
	}
	return k, true
}

// candidates lists the usable children of id in shard id order, one per
// participant.
func (s *selector) candidates(id ShardID) []ShardID {
	var out []ShardID
	seen := make(map[string]struct{})
	for _, c := range s.children[id] {
		var participant string
		if e, ok := s.raw[c]; ok {
			participant = e.ParticipantID.String()
		} else if s.canRebuild(c) {
			a := s.tree.Ancestors[c]
			if a.ParticipantID == nil {
				continue
			}
			participant = a.ParticipantID.String()
		} else {
			continue
		}
		if _, dup := seen[participant]; dup {
			continue
		}
		seen[participant] = struct{}{}
		out = append(out, c)
	}
	return out
}

func (s *selector) canRebuild(id ShardID) bool {
	if ok, done := s.rebuildable[id]; done {
		return ok
	}
	// Guards against cycles among ancestors no received shard points through.
	s.rebuildable[id] = false

	need, _ := s.threshold(id)
	ok := len(s.candidates(id)) >= need
	s.rebuildable[id] = ok
	return ok
}

// collect appends the leaves that rebuild id. Without a recorded threshold
// every usable child is taken.
func (s *selector) collect(id ShardID, out []ShardEntry) []ShardEntry {
	k, capped := s.threshold(id)
	for i, c := range s.candidates(id) {
		if capped && i == k {
			break
		}
		if e, ok := s.raw[c]; ok {
			out = append(out, e)
			continue
		}
		out = s.collect(c, out)
	}
	return out
}
