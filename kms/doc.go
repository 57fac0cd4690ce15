// Package kms provides the custody key management service.
//
// CustodyKMS holds a 64-byte root seed in memory, derives purpose-specific
// BIP32 keys from it and signs with them. It implements the
// interfaces.KeyEngine interface:
//
//	type KeyEngine interface {
//	    Status() EngineStatus
//	    PublicKey(purpose params.Purpose) (*hdkey.Key, error)
//	    Sign(purpose params.Purpose, msg []byte) ([]byte, error)
//	    SignHash(purpose params.Purpose, digest []byte) ([]byte, error)
//	    Reshare(entries []recovery.ShardEntry, threshold int, policy shamir.ShardingPolicy) (*recovery.Level, error)
//	    SubmitShard(entry recovery.ShardEntry, signature []byte) error
//	    Field() *field.Field
//	}
//
// # Seed Protection
//
// The root seed is never stored in persistent storage:
//
//   - Split into N shards for a policy, any M (threshold) of which recover it
//   - Shards can be re-shared into new tree levels without touching the seed
//   - Each shard submission is signed by the holder's registered device key
//   - The recovered seed is accepted only if its master key fingerprint
//     matches the one recorded when the seed was first sharded
//   - Submitted shards are wiped once recovery succeeds or the recovered
//     fingerprint mismatches; a shard that breaks recovery is dropped
//
// # Usage Example: generation
//
//	seed, err := kms.MnemonicSeed{Mnemonic: phrase}.Seed()
//	custody, level, err := kms.NewCustodyKMS(seed, params.Default(), kms.CustodyConfig{
//	    Threshold:    2,
//	    Participants: participants,
//	})
//	// seal level.Entries to each participant, then discard them
//
// # Usage Example: recovery
//
//	custody, err := kms.NewCustodyKMSRecovery(params.Default(), recoveryConfig)
//	sig, err := kms.SignShard(custody.Field(), entry, deviceKey)
//	err = custody.SubmitShard(entry, sig)
//	if custody.IsUnlocked() {
//	    key, err := custody.PublicKey(params.PurposeEthereum)
//	}
package kms
