package main

import (
	"encoding/json"
	"fmt"
	"io"
	"math/big"
	"os"
	"sort"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ruteri/custody-keyengine/api"
	"github.com/ruteri/custody-keyengine/eckey"
	"github.com/ruteri/custody-keyengine/field"
	"github.com/ruteri/custody-keyengine/interfaces"
	"github.com/ruteri/custody-keyengine/kms"
	"github.com/ruteri/custody-keyengine/recovery"
	"github.com/ruteri/custody-keyengine/shardseal"
)

type participantJSON struct {
	ID           uint64        `json:"id"`
	DevicePubKey hexutil.Bytes `json:"device_pubkey"`
}

func (p participantJSON) participant() kms.Participant {
	return kms.Participant{ID: new(big.Int).SetUint64(p.ID), DevicePubKey: p.DevicePubKey}
}

// custodyConfigJSON is the policy file read by split, reshare and serve.
type custodyConfigJSON struct {
	Threshold    int               `json:"threshold"`
	Participants []participantJSON `json:"participants"`
}

func (c custodyConfigJSON) config() kms.CustodyConfig {
	cfg := kms.CustodyConfig{Threshold: c.Threshold}
	for _, p := range c.Participants {
		cfg.Participants = append(cfg.Participants, p.participant())
	}
	return cfg
}

func (c custodyConfigJSON) deviceKey(id *big.Int) ([]byte, bool) {
	for _, p := range c.Participants {
		if new(big.Int).SetUint64(p.ID).Cmp(id) == 0 {
			return p.DevicePubKey, true
		}
	}
	return nil, false
}

// recoveryConfigJSON is everything a locked engine needs except the shards.
type recoveryConfigJSON struct {
	Participants      []participantJSON        `json:"participants"`
	RootID            recovery.ShardID         `json:"root_id"`
	Ancestors         []recovery.WireShard     `json:"ancestors"`
	Thresholds        map[recovery.ShardID]int `json:"thresholds"`
	MasterFingerprint hexutil.Bytes            `json:"master_fingerprint"`
}

func (r recoveryConfigJSON) config(f *field.Field) (kms.RecoveryConfig, error) {
	cfg := kms.RecoveryConfig{
		RootID:     r.RootID,
		Thresholds: r.Thresholds,
	}
	if len(r.MasterFingerprint) != eckey.FingerprintLen {
		return cfg, fmt.Errorf("master fingerprint must be %d bytes", eckey.FingerprintLen)
	}
	copy(cfg.MasterFingerprint[:], r.MasterFingerprint)
	for _, p := range r.Participants {
		cfg.Participants = append(cfg.Participants, p.participant())
	}
	for _, w := range r.Ancestors {
		a, err := recovery.AncestorFromWire(f, w)
		if err != nil {
			return cfg, err
		}
		cfg.Ancestors = append(cfg.Ancestors, a)
	}
	return cfg, nil
}

// tree builds a recovery tree over the given leaves.
func (r recoveryConfigJSON) tree(f *field.Field, leaves []recovery.ShardEntry) (*recovery.Tree, error) {
	cfg, err := r.config(f)
	if err != nil {
		return nil, err
	}
	t := recovery.NewTree(cfg.RootID)
	t.AddLevel(&recovery.Level{Ancestors: cfg.Ancestors, Thresholds: cfg.Thresholds})
	t.Leaves = leaves
	return t, nil
}

// addLevel merges a new level and its holders into the config.
func (r *recoveryConfigJSON) addLevel(f *field.Field, level *recovery.Level, participants []participantJSON) error {
	if r.Thresholds == nil {
		r.Thresholds = make(map[recovery.ShardID]int)
	}
	if r.RootID == "" {
		r.RootID = level.RootID
	}
	for _, a := range level.Ancestors {
		w, err := recovery.AncestorToWire(f, a)
		if err != nil {
			return err
		}
		r.Ancestors = append(r.Ancestors, w)
	}
	for id, k := range level.Thresholds {
		r.Thresholds[id] = k
	}

	known := make(map[uint64]bool, len(r.Participants))
	for _, p := range r.Participants {
		known[p.ID] = true
	}
	for _, p := range participants {
		if !known[p.ID] {
			r.Participants = append(r.Participants, p)
			known[p.ID] = true
		}
	}
	sort.Slice(r.Participants, func(i, j int) bool { return r.Participants[i].ID < r.Participants[j].ID })
	return nil
}

type sealedShardJSON struct {
	ShardID       recovery.ShardID `json:"shard_id"`
	ParticipantID uint64           `json:"participant_id"`
	Ciphertext    hexutil.Bytes    `json:"ciphertext"`
}

// bundleJSON is the output of split and reshare: the updated recovery config
// plus every new shard sealed to its holder's device key.
type bundleJSON struct {
	Recovery recoveryConfigJSON `json:"recovery"`
	Shards   []sealedShardJSON  `json:"shards"`
}

func sealLevel(sealer interfaces.ShardSealer, f *field.Field, policy custodyConfigJSON, level *recovery.Level) ([]sealedShardJSON, error) {
	out := make([]sealedShardJSON, 0, len(level.Entries))
	for _, e := range level.Entries {
		devicePub, ok := policy.deviceKey(e.ParticipantID)
		if !ok {
			return nil, fmt.Errorf("no device key for participant %s", e.ParticipantID)
		}
		ct, err := shardseal.SealShard(sealer, f, devicePub, e)
		if err != nil {
			return nil, err
		}
		out = append(out, sealedShardJSON{
			ShardID:       e.ShardID,
			ParticipantID: e.ParticipantID.Uint64(),
			Ciphertext:    ct,
		})
	}
	return out, nil
}

// openShards opens the shards of one participant and signs each for
// submission with the same device key.
func openShards(f *field.Field, shards []sealedShardJSON, participantID uint64, deviceKey []byte) ([]api.SubmitShardRequest, error) {
	opener, err := shardseal.NewOpener(deviceKey)
	if err != nil {
		return nil, err
	}
	signer, err := eckey.PrivateKeyFromScalar(deviceKey)
	if err != nil {
		return nil, err
	}

	var out []api.SubmitShardRequest
	for _, s := range shards {
		if s.ParticipantID != participantID {
			continue
		}
		entry, err := shardseal.OpenShard(opener, f, s.Ciphertext)
		if err != nil {
			return nil, fmt.Errorf("shard %s: %w", s.ShardID, err)
		}
		sig, err := kms.SignShard(f, entry, signer)
		if err != nil {
			return nil, err
		}
		w, err := recovery.ToWire(f, entry)
		if err != nil {
			return nil, err
		}
		out = append(out, api.SubmitShardRequest{Shard: w, Signature: sig})
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("no shards for participant %d", participantID)
	}
	return out, nil
}

func decodeOpened(f *field.Field, opened []api.SubmitShardRequest) ([]recovery.ShardEntry, error) {
	entries := make([]recovery.ShardEntry, len(opened))
	for i, o := range opened {
		e, err := recovery.FromWire(f, o.Shard)
		if err != nil {
			return nil, err
		}
		entries[i] = e
	}
	return entries, nil
}

// readJSON reads path, or stdin when path is "-".
func readJSON(path string, v any) error {
	var r io.Reader = os.Stdin
	if path != "-" {
		f, err := os.Open(path)
		if err != nil {
			return err
		}
		defer f.Close()
		r = f
	}
	if err := json.NewDecoder(r).Decode(v); err != nil {
		return fmt.Errorf("failed to decode %s: %w", path, err)
	}
	return nil
}

// writeJSON writes to path, or stdout when path is "-" or empty.
func writeJSON(path string, v any) error {
	var w io.Writer = os.Stdout
	if path != "" && path != "-" {
		f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600)
		if err != nil {
			return err
		}
		defer f.Close()
		w = f
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
