// Package keyhandler exposes a interfaces.KeyEngine over HTTP and provides a
// matching client.
//
// Routes:
//
//	GET  /api/v1/status             engine state, never secrets
//	GET  /api/v1/keys/{purpose}     extended public key of a purpose
//	POST /api/v1/keys/{purpose}/sign
//	POST /api/v1/shards/reshare     opened shards in, new level out
//	POST /api/v1/shards/submit      one device-signed shard
//
// Purpose keys are only available while the engine is unlocked; requests
// against a locked engine return 423 Locked.
package keyhandler
