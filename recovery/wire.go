package recovery

import (
	"encoding/hex"
	"fmt"
	"math/big"

	"github.com/ruteri/custody-keyengine/field"
)

// WireShard is the transport form of a ShardEntry: ids and values are
// fixed-width big-endian hex. An empty Value marks an ancestor record.
type WireShard struct {
	ShardID       ShardID `json:"shard_id"`
	ParentID      ShardID `json:"parent_id,omitempty"`
	ParticipantID string  `json:"participant_id"`
	Value         string  `json:"value,omitempty"`
}

// ToWire encodes an entry.
func ToWire(f *field.Field, e ShardEntry) (WireShard, error) {
	id, err := f.Bytes(e.ParticipantID)
	if err != nil {
		return WireShard{}, fmt.Errorf("participant id: %w", err)
	}
	value, err := f.Bytes(e.Value)
	if err != nil {
		return WireShard{}, fmt.Errorf("shard value: %w", err)
	}
	return WireShard{
		ShardID:       e.ShardID,
		ParentID:      e.ParentID,
		ParticipantID: hex.EncodeToString(id),
		Value:         hex.EncodeToString(value),
	}, nil
}

// FromWire decodes an entry and checks both numbers are field elements.
func FromWire(f *field.Field, w WireShard) (ShardEntry, error) {
	id, err := decodeElement(f, w.ParticipantID)
	if err != nil {
		return ShardEntry{}, fmt.Errorf("participant id: %w", err)
	}
	value, err := decodeElement(f, w.Value)
	if err != nil {
		return ShardEntry{}, fmt.Errorf("shard value: %w", err)
	}
	return ShardEntry{
		ShardID:       w.ShardID,
		ParentID:      w.ParentID,
		ParticipantID: id,
		Value:         value,
	}, nil
}

// AncestorToWire encodes an ancestor record; Value stays empty.
func AncestorToWire(f *field.Field, a AncestorShard) (WireShard, error) {
	id, err := f.Bytes(a.ParticipantID)
	if err != nil {
		return WireShard{}, fmt.Errorf("participant id: %w", err)
	}
	return WireShard{ShardID: a.ShardID, ParentID: a.ParentID, ParticipantID: hex.EncodeToString(id)}, nil
}

// AncestorFromWire decodes an ancestor record. Any value is ignored.
func AncestorFromWire(f *field.Field, w WireShard) (AncestorShard, error) {
	id, err := decodeElement(f, w.ParticipantID)
	if err != nil {
		return AncestorShard{}, fmt.Errorf("participant id: %w", err)
	}
	return AncestorShard{ShardID: w.ShardID, ParentID: w.ParentID, ParticipantID: id}, nil
}

func decodeElement(f *field.Field, s string) (*big.Int, error) {
	b, err := hex.DecodeString(s)
	if err != nil {
		return nil, err
	}
	if len(b) != f.ByteLen() {
		return nil, fmt.Errorf("%w: want %d bytes, got %d", field.ErrOutOfRange, f.ByteLen(), len(b))
	}
	return f.FromBytes(b)
}
