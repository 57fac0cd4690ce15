package kms

import (
	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/ruteri/custody-keyengine/eckey"
	"github.com/ruteri/custody-keyengine/field"
	"github.com/ruteri/custody-keyengine/recovery"
)

const shardMessageDomain = "custody-keyengine/shard/v1"

// ShardMessage is the byte string a participant signs when submitting a
// shard: a domain tag, the tree position and the fixed-width id and value.
func ShardMessage(f *field.Field, entry recovery.ShardEntry) ([]byte, error) {
	id, err := f.Bytes(entry.ParticipantID)
	if err != nil {
		return nil, err
	}
	value, err := f.Bytes(entry.Value)
	if err != nil {
		return nil, err
	}

	msg := make([]byte, 0, len(shardMessageDomain)+len(entry.ShardID)+len(entry.ParentID)+2*f.ByteLen()+3)
	msg = append(msg, shardMessageDomain...)
	msg = append(msg, 0)
	msg = append(msg, string(entry.ShardID)...)
	msg = append(msg, 0)
	msg = append(msg, string(entry.ParentID)...)
	msg = append(msg, 0)
	msg = append(msg, id...)
	msg = append(msg, value...)
	return msg, nil
}

// SignShard signs a shard with a participant's device key. Participants use
// it before calling SubmitShard.
func SignShard(f *field.Field, entry recovery.ShardEntry, deviceKey *btcec.PrivateKey) ([]byte, error) {
	msg, err := ShardMessage(f, entry)
	if err != nil {
		return nil, err
	}
	return eckey.Sign(deviceKey, msg)
}
