// Package interfaces defines the contracts between the key engine and its
// collaborators, separating interface definitions from implementations.
//
// # Engine
//
// KeyEngine: what the HTTP surface needs from the custody KMS. Derive public
// keys per purpose, sign, re-share shards and accept shard submissions.
//
// # External collaborators
//
// SeedSource: produces the root seed (mnemonic-to-seed lives outside the
// core).
//
// ShardSealer / ShardOpener: asymmetric encryption of shards for transport
// between devices. The engine itself only ever sees plaintext shard values.
package interfaces

import (
	"github.com/ruteri/custody-keyengine/eckey"
	"github.com/ruteri/custody-keyengine/field"
	"github.com/ruteri/custody-keyengine/hdkey"
	"github.com/ruteri/custody-keyengine/params"
	"github.com/ruteri/custody-keyengine/recovery"
	"github.com/ruteri/custody-keyengine/shamir"
)

// EngineStatus is a snapshot of engine state. It never includes secrets.
type EngineStatus struct {
	Unlocked          bool
	MasterFingerprint [eckey.FingerprintLen]byte
	Network           params.Network
	ReceivedShards    int
	Participants      int
}

// KeyEngine holds the root seed and exposes derived-key operations.
type KeyEngine interface {
	// Status reports lock state and the expected master fingerprint.
	Status() EngineStatus

	// PublicKey returns the neutered purpose key.
	PublicKey(purpose params.Purpose) (*hdkey.Key, error)

	// Sign signs SHA-256(msg) with the purpose key.
	Sign(purpose params.Purpose, msg []byte) ([]byte, error)

	// SignHash signs a 32-byte digest with the purpose key.
	SignHash(purpose params.Purpose, digest []byte) ([]byte, error)

	// Reshare turns the first threshold entries into a new tree level.
	Reshare(entries []recovery.ShardEntry, threshold int, policy shamir.ShardingPolicy) (*recovery.Level, error)

	// SubmitShard accepts a device-signed shard while locked.
	SubmitShard(entry recovery.ShardEntry, signature []byte) error

	// Field is the prime field shard values live in.
	Field() *field.Field
}

// SeedSource yields a root seed.
type SeedSource interface {
	Seed() ([]byte, error)
}

// ShardSealer encrypts a serialized shard to a participant device key.
type ShardSealer interface {
	Seal(devicePubKey []byte, plaintext []byte) ([]byte, error)
}

// ShardOpener decrypts shards sealed to the local device key.
type ShardOpener interface {
	Open(ciphertext []byte) ([]byte, error)
}
