package api

import (
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ruteri/custody-keyengine/field"
	"github.com/ruteri/custody-keyengine/interfaces"
	"github.com/ruteri/custody-keyengine/recovery"
	"github.com/ruteri/custody-keyengine/shamir"
)

var ErrInvalidRequest = errors.New("invalid request")

// StatusResponse mirrors interfaces.EngineStatus.
type StatusResponse struct {
	Unlocked          bool          `json:"unlocked"`
	MasterFingerprint hexutil.Bytes `json:"master_fingerprint"`
	Network           string        `json:"network"`
	ReceivedShards    int           `json:"received_shards"`
	Participants      int           `json:"participants"`
}

func NewStatusResponse(s interfaces.EngineStatus) StatusResponse {
	return StatusResponse{
		Unlocked:          s.Unlocked,
		MasterFingerprint: s.MasterFingerprint[:],
		Network:           s.Network.String(),
		ReceivedShards:    s.ReceivedShards,
		Participants:      s.Participants,
	}
}

// PublicKeyResponse describes the neutered key of one purpose.
type PublicKeyResponse struct {
	Purpose     string        `json:"purpose"`
	ExtendedKey string        `json:"extended_key"`
	PublicKey   hexutil.Bytes `json:"public_key"`
	Fingerprint hexutil.Bytes `json:"fingerprint"`
	// Address is set for the ethereum purpose only.
	Address string `json:"address,omitempty"`
}

// SignRequest carries either a message (hashed with SHA-256) or a 32-byte
// digest, never both.
type SignRequest struct {
	Message hexutil.Bytes `json:"message,omitempty"`
	Digest  hexutil.Bytes `json:"digest,omitempty"`
}

func (r SignRequest) Validate() error {
	if (len(r.Message) == 0) == (len(r.Digest) == 0) {
		return fmt.Errorf("%w: exactly one of message and digest is required", ErrInvalidRequest)
	}
	return nil
}

// SignResponse holds a DER-encoded low-s ECDSA signature.
type SignResponse struct {
	Signature hexutil.Bytes `json:"signature"`
}

// PolicyRequest is the wire form of shamir.ShardingPolicy.
type PolicyRequest struct {
	Threshold      int      `json:"threshold"`
	ParticipantIDs []uint64 `json:"participant_ids"`
}

func (p PolicyRequest) Policy() shamir.ShardingPolicy {
	return shamir.NewShardingPolicy(p.Threshold, p.ParticipantIDs...)
}

// ReshareRequest asks the engine to re-share the first Threshold entries.
type ReshareRequest struct {
	Entries   []recovery.WireShard `json:"entries"`
	Threshold int                  `json:"threshold"`
	Policy    PolicyRequest        `json:"policy"`
}

// DecodeEntries converts the wire entries to field elements.
func (r ReshareRequest) DecodeEntries(f *field.Field) ([]recovery.ShardEntry, error) {
	entries := make([]recovery.ShardEntry, len(r.Entries))
	for i, w := range r.Entries {
		e, err := recovery.FromWire(f, w)
		if err != nil {
			return nil, fmt.Errorf("%w: entry %d: %w", ErrInvalidRequest, i, err)
		}
		entries[i] = e
	}
	return entries, nil
}

// LevelResponse is the wire form of recovery.Level.
type LevelResponse struct {
	RootID     recovery.ShardID         `json:"root_id,omitempty"`
	Entries    []recovery.WireShard     `json:"entries"`
	Ancestors  []recovery.WireShard     `json:"ancestors"`
	Thresholds map[recovery.ShardID]int `json:"thresholds"`
}

func NewLevelResponse(f *field.Field, l *recovery.Level) (*LevelResponse, error) {
	resp := &LevelResponse{
		RootID:     l.RootID,
		Entries:    make([]recovery.WireShard, 0, len(l.Entries)),
		Ancestors:  make([]recovery.WireShard, 0, len(l.Ancestors)),
		Thresholds: l.Thresholds,
	}
	for _, e := range l.Entries {
		w, err := recovery.ToWire(f, e)
		if err != nil {
			return nil, err
		}
		resp.Entries = append(resp.Entries, w)
	}
	for _, a := range l.Ancestors {
		w, err := recovery.AncestorToWire(f, a)
		if err != nil {
			return nil, err
		}
		resp.Ancestors = append(resp.Ancestors, w)
	}
	return resp, nil
}

// Level decodes the response back into a recovery.Level.
func (r *LevelResponse) Level(f *field.Field) (*recovery.Level, error) {
	l := &recovery.Level{RootID: r.RootID, Thresholds: r.Thresholds}
	for _, w := range r.Entries {
		e, err := recovery.FromWire(f, w)
		if err != nil {
			return nil, err
		}
		l.Entries = append(l.Entries, e)
	}
	for _, w := range r.Ancestors {
		a, err := recovery.AncestorFromWire(f, w)
		if err != nil {
			return nil, err
		}
		l.Ancestors = append(l.Ancestors, a)
	}
	return l, nil
}

// SubmitShardRequest is one opened shard plus the holder's device signature
// over it.
type SubmitShardRequest struct {
	Shard     recovery.WireShard `json:"shard"`
	Signature hexutil.Bytes      `json:"signature"`
}

