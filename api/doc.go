/*
Package api holds the HTTP surface of the custody key engine.

It is organized into:

1. keyhandler - request handlers and a thin client for the engine API
2. server - HTTP server lifecycle, health endpoints and metrics

The root package carries the shared JSON request and response types and the
server configuration.

# Key Functionality

- Engine status without exposing secrets
- Purpose-specific extended public keys and addresses
- Signing with purpose keys while the engine is unlocked
- Re-sharing of shards into a new tree level
- Device-signed shard submission to unlock a locked engine

# Security Model

Shards cross this API in plaintext wire form only between the engine and a
participant that has already opened its sealed shard. Sealing to device keys
is the caller's job (see package shardseal). Every submitted shard must be
signed by the participant's registered device key.
*/
package api
