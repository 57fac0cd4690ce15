package kms

import (
	"bytes"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"sync"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/ruteri/custody-keyengine/eckey"
	"github.com/ruteri/custody-keyengine/field"
	"github.com/ruteri/custody-keyengine/hdkey"
	"github.com/ruteri/custody-keyengine/interfaces"
	"github.com/ruteri/custody-keyengine/params"
	"github.com/ruteri/custody-keyengine/recovery"
	"github.com/ruteri/custody-keyengine/shamir"
)

var (
	ErrLocked                  = errors.New("KMS is locked - need more shards to unlock")
	ErrAlreadyUnlocked         = errors.New("KMS is already unlocked")
	ErrUnregisteredParticipant = errors.New("unregistered participant")
	ErrInvalidSignature        = errors.New("invalid shard signature")
	ErrFingerprintMismatch     = errors.New("recovered master key fingerprint does not match")
	ErrUnknownShard            = errors.New("shard is not part of the recovery tree")
)

var _ interfaces.KeyEngine = (*CustodyKMS)(nil)

// Participant is one shard holder and the device key it signs submissions with.
type Participant struct {
	ID *big.Int
	// DevicePubKey is a compressed or uncompressed secp256k1 key.
	DevicePubKey []byte
}

// CustodyConfig describes the policy shards are produced for.
type CustodyConfig struct {
	Threshold    int
	Participants []Participant
}

// Policy returns the sharding policy implied by the config.
func (c CustodyConfig) Policy() shamir.ShardingPolicy {
	ids := make([]*big.Int, len(c.Participants))
	for i, p := range c.Participants {
		ids[i] = p.ID
	}
	return shamir.ShardingPolicy{Threshold: c.Threshold, ParticipantIDs: ids}
}

// RecoveryConfig is what a locked KMS needs to know about the shard tree. It
// carries no shard values.
type RecoveryConfig struct {
	Participants      []Participant
	RootID            recovery.ShardID
	Ancestors         []recovery.AncestorShard
	Thresholds        map[recovery.ShardID]int
	MasterFingerprint [eckey.FingerprintLen]byte
}

// CustodyKMS holds the root seed in memory only while unlocked.
//
// In generation mode the seed is supplied at construction, sharded for the
// configured policy and kept in memory. In recovery mode the KMS starts
// locked; participants submit their decrypted shards, each signed with their
// registered device key, and the KMS unlocks as soon as the shard tree
// collapses to a seed whose master key fingerprint matches the expected one.
// The seed is never written anywhere.
type CustodyKMS struct {
	mu         sync.RWMutex
	params     params.Params
	seed       []byte
	master     *hdkey.Key
	isUnlocked bool

	expectedFingerprint [eckey.FingerprintLen]byte
	participants        map[string]*btcec.PublicKey

	tree           *recovery.Tree
	receivedShards map[recovery.ShardID]recovery.ShardEntry

	sharer  *shamir.Sharer
	sharder *recovery.Sharder
	reducer *recovery.Reducer

	log *slog.Logger
}

func newCustodyKMS(p params.Params, participants []Participant) (*CustodyKMS, error) {
	sharer, err := shamir.NewSharer(p)
	if err != nil {
		return nil, err
	}
	k := &CustodyKMS{
		params:         p,
		participants:   make(map[string]*btcec.PublicKey, len(participants)),
		receivedShards: make(map[recovery.ShardID]recovery.ShardEntry),
		sharer:         sharer,
		sharder:        recovery.NewSharder(sharer),
		reducer:        recovery.NewReducer(sharer),
		log:            slog.Default(),
	}
	for _, participant := range participants {
		if err := k.registerParticipant(participant); err != nil {
			return nil, err
		}
	}
	return k, nil
}

// NewCustodyKMS creates an unlocked KMS from a 64-byte root seed and shards
// the seed for config's policy. The returned level must be sealed to each
// participant and handed out; the KMS does not keep it.
func NewCustodyKMS(seed []byte, p params.Params, config CustodyConfig) (*CustodyKMS, *recovery.Level, error) {
	k, err := newCustodyKMS(p, config.Participants)
	if err != nil {
		return nil, nil, err
	}

	master, err := hdkey.NewMaster(seed, p.Network())
	if err != nil {
		return nil, nil, fmt.Errorf("failed to derive master key: %w", err)
	}
	level, err := k.sharder.ShardSeed(seed, config.Policy())
	if err != nil {
		return nil, nil, fmt.Errorf("failed to shard seed: %w", err)
	}

	k.seed = bytes.Clone(seed)
	k.master = master
	k.expectedFingerprint = master.Fingerprint()
	k.isUnlocked = true
	k.tree = recovery.NewTree(level.RootID)
	k.tree.AddLevel(level)
	return k, level, nil
}

// NewCustodyKMSRecovery creates a locked KMS that waits for shard submissions.
func NewCustodyKMSRecovery(p params.Params, config RecoveryConfig) (*CustodyKMS, error) {
	if config.RootID == "" {
		return nil, fmt.Errorf("%w: missing root shard id", recovery.ErrUnknownAncestor)
	}
	if _, ok := config.Thresholds[config.RootID]; !ok {
		return nil, fmt.Errorf("%w: no threshold for root %s", shamir.ErrInvalidThreshold, config.RootID)
	}
	for _, a := range config.Ancestors {
		if _, ok := config.Thresholds[a.ShardID]; !ok {
			return nil, fmt.Errorf("%w: no threshold for %s", shamir.ErrInvalidThreshold, a.ShardID)
		}
	}

	k, err := newCustodyKMS(p, config.Participants)
	if err != nil {
		return nil, err
	}

	tree := recovery.NewTree(config.RootID)
	tree.AddLevel(&recovery.Level{
		Ancestors:  config.Ancestors,
		Thresholds: config.Thresholds,
	})
	k.tree = tree
	k.expectedFingerprint = config.MasterFingerprint
	return k, nil
}

// SetLogger replaces the default logger.
func (k *CustodyKMS) SetLogger(log *slog.Logger) *CustodyKMS {
	k.log = log
	return k
}

func (k *CustodyKMS) registerParticipant(p Participant) error {
	if p.ID == nil || p.ID.Sign() <= 0 {
		return fmt.Errorf("%w: participant id must be positive", shamir.ErrInvalidParticipantID)
	}
	pub, err := eckey.ParsePublicKey(p.DevicePubKey)
	if err != nil {
		return fmt.Errorf("invalid device key for participant %s: %w", p.ID, err)
	}
	k.participants[p.ID.String()] = pub
	return nil
}

// SubmitShard accepts one decrypted shard signed by its holder's device key.
// Once enough shards are present the tree is collapsed; on success the KMS
// unlocks and every received shard is wiped. A shard that makes recovery fail
// is dropped again, except on a fingerprint mismatch, which wipes them all.
func (k *CustodyKMS) SubmitShard(entry recovery.ShardEntry, signature []byte) error {
	k.mu.Lock()
	defer k.mu.Unlock()

	if k.isUnlocked {
		return ErrAlreadyUnlocked
	}
	if entry.ParticipantID == nil || entry.Value == nil {
		return fmt.Errorf("%w: incomplete shard", shamir.ErrInvalidParticipantID)
	}

	pub, found := k.participants[entry.ParticipantID.String()]
	if !found {
		return fmt.Errorf("%w: %s", ErrUnregisteredParticipant, entry.ParticipantID)
	}
	if !k.knowsParent(entry.ParentID) {
		return fmt.Errorf("%w: parent %s", ErrUnknownShard, entry.ParentID)
	}

	msg, err := ShardMessage(k.sharer.Field(), entry)
	if err != nil {
		return err
	}
	if !eckey.Verify(pub, msg, signature) {
		return ErrInvalidSignature
	}

	prev, hadPrev := k.receivedShards[entry.ShardID]
	k.receivedShards[entry.ShardID] = recovery.ShardEntry{
		ShardID:       entry.ShardID,
		ParentID:      entry.ParentID,
		ParticipantID: new(big.Int).Set(entry.ParticipantID),
		Value:         new(big.Int).Set(entry.Value),
	}
	k.log.Info("shard submitted",
		"shardID", entry.ShardID,
		"parentID", entry.ParentID,
		"participant", entry.ParticipantID.String(),
		"received", len(k.receivedShards))

	if err := k.tryReconstruct(); err != nil {
		if !errors.Is(err, ErrFingerprintMismatch) {
			k.rollback(entry.ShardID, prev, hadPrev)
			k.log.Warn("shard rejected, recovery failed", "shardID", entry.ShardID, "err", err)
		}
		return err
	}
	return nil
}

func (k *CustodyKMS) knowsParent(parentID recovery.ShardID) bool {
	if parentID == k.tree.RootID {
		return true
	}
	_, ok := k.tree.Ancestors[parentID]
	return ok
}

// tryReconstruct attempts to collapse the tree from the received shards.
// Missing shards are not an error; the KMS just stays locked.
func (k *CustodyKMS) tryReconstruct() error {
	received := make([]recovery.ShardEntry, 0, len(k.receivedShards))
	for _, e := range k.receivedShards {
		received = append(received, e)
	}
	leaves, err := k.tree.SelectLeaves(received)
	switch {
	case errors.Is(err, shamir.ErrInsufficientShares):
		return nil
	case err != nil:
		return err
	}
	k.tree.Leaves = leaves

	seed, err := k.reducer.RecoverSeed(k.tree)
	switch {
	case errors.Is(err, shamir.ErrInsufficientShares), errors.Is(err, recovery.ErrNoRoot):
		return nil
	case err != nil:
		return err
	}

	master, err := hdkey.NewMaster(seed, k.params.Network())
	if err != nil {
		wipeBytes(seed)
		return fmt.Errorf("failed to derive master key: %w", err)
	}
	if master.Fingerprint() != k.expectedFingerprint {
		wipeBytes(seed)
		k.wipeShards()
		k.log.Warn("recovered master key fingerprint mismatch, discarding submitted shards")
		return ErrFingerprintMismatch
	}

	k.seed = seed
	k.master = master
	k.isUnlocked = true
	k.wipeShards()
	k.log.Info("KMS unlocked", "fingerprint", fmt.Sprintf("%x", k.expectedFingerprint))
	return nil
}

// rollback undoes a submission that made recovery fail, restoring whatever
// the same shard id held before.
func (k *CustodyKMS) rollback(id recovery.ShardID, prev recovery.ShardEntry, hadPrev bool) {
	if e, ok := k.receivedShards[id]; ok {
		e.Value.SetInt64(0)
		delete(k.receivedShards, id)
	}
	if hadPrev {
		k.receivedShards[id] = prev
	}
	if k.tree != nil {
		k.tree.Leaves = nil
	}
}

func (k *CustodyKMS) wipeShards() {
	for id, e := range k.receivedShards {
		e.Value.SetInt64(0)
		delete(k.receivedShards, id)
	}
	if k.tree != nil {
		k.tree.Leaves = nil
	}
}

// IsUnlocked returns whether the root seed is currently held.
func (k *CustodyKMS) IsUnlocked() bool {
	k.mu.RLock()
	defer k.mu.RUnlock()
	return k.isUnlocked
}

// Status reports the KMS state without exposing secrets.
func (k *CustodyKMS) Status() interfaces.EngineStatus {
	k.mu.RLock()
	defer k.mu.RUnlock()
	return interfaces.EngineStatus{
		Unlocked:          k.isUnlocked,
		MasterFingerprint: k.expectedFingerprint,
		Network:           k.params.Network(),
		ReceivedShards:    len(k.receivedShards),
		Participants:      len(k.participants),
	}
}

func (k *CustodyKMS) purposeKey(purpose params.Purpose) (*hdkey.Key, error) {
	if !k.isUnlocked {
		return nil, ErrLocked
	}
	return hdkey.DerivePurpose(k.master, k.params, purpose)
}

// PublicKey returns the neutered key for a purpose.
func (k *CustodyKMS) PublicKey(purpose params.Purpose) (*hdkey.Key, error) {
	k.mu.RLock()
	defer k.mu.RUnlock()

	key, err := k.purposeKey(purpose)
	if err != nil {
		return nil, err
	}
	return key.Neuter(), nil
}

// Sign signs SHA-256(msg) with the purpose key.
func (k *CustodyKMS) Sign(purpose params.Purpose, msg []byte) ([]byte, error) {
	k.mu.RLock()
	defer k.mu.RUnlock()

	key, err := k.purposeKey(purpose)
	if err != nil {
		return nil, err
	}
	return key.Sign(msg)
}

// SignHash signs a precomputed 32-byte digest with the purpose key.
func (k *CustodyKMS) SignHash(purpose params.Purpose, digest []byte) ([]byte, error) {
	k.mu.RLock()
	defer k.mu.RUnlock()

	key, err := k.purposeKey(purpose)
	if err != nil {
		return nil, err
	}
	return key.SignHash(digest)
}

// Reshard splits the held seed afresh for a new policy. The result is an
// independent tree with its own root.
func (k *CustodyKMS) Reshard(config CustodyConfig) (*recovery.Level, error) {
	k.mu.Lock()
	defer k.mu.Unlock()

	if !k.isUnlocked {
		return nil, ErrLocked
	}
	for _, p := range config.Participants {
		if err := k.registerParticipant(p); err != nil {
			return nil, err
		}
	}
	level, err := k.sharder.ShardSeed(k.seed, config.Policy())
	if err != nil {
		return nil, err
	}
	k.tree = recovery.NewTree(level.RootID)
	k.tree.AddLevel(level)
	k.log.Info("seed resharded", "threshold", config.Threshold, "participants", len(config.Participants))
	return level, nil
}

// Reshare re-shares existing shards into a new tree level. It never touches
// the root seed, so it works whether or not the KMS is unlocked. The new
// ancestry is remembered so the reshared shards can later be submitted.
func (k *CustodyKMS) Reshare(entries []recovery.ShardEntry, threshold int, policy shamir.ShardingPolicy) (*recovery.Level, error) {
	k.mu.Lock()
	defer k.mu.Unlock()

	for _, e := range entries {
		if !k.knowsParent(e.ParentID) {
			return nil, fmt.Errorf("%w: parent %s", ErrUnknownShard, e.ParentID)
		}
	}
	level, err := k.sharder.ReshareLevel(entries, threshold, policy)
	if err != nil {
		return nil, err
	}
	k.tree.AddLevel(level)
	k.log.Info("shards reshared", "consumed", len(level.Ancestors), "produced", len(level.Entries))
	return level, nil
}

// Field exposes the sharing field for encoding shard values.
func (k *CustodyKMS) Field() *field.Field {
	return k.sharer.Field()
}

// Lock wipes the seed. The KMS can be unlocked again by submitting shards
// of the current tree.
func (k *CustodyKMS) Lock() {
	k.mu.Lock()
	defer k.mu.Unlock()

	wipeBytes(k.seed)
	k.seed = nil
	k.master = nil
	k.isUnlocked = false
	k.log.Info("KMS locked")
}

// Securely wipe data from memory
func wipeBytes(data []byte) {
	for i := range data {
		data[i] = 0
	}
}
