// Package transport implements the messenger connection endpoints.
//
// The transport layer handles:
//   - TCP accept and dial with connection timeouts
//   - Frame I/O through pkg/wire
//   - Ephemeral key exchange and per-socket AEAD channels via pkg/secure
//   - Heartbeats, idle peer reaping and acknowledgments
//
// # Protocol Stack
//
//	┌────────────────────────────────┐
//	│   CBOR DomainMessage           │
//	├────────────────────────────────┤
//	│   Secure container (optional)  │
//	├────────────────────────────────┤
//	│   8-byte header framing        │
//	├────────────────────────────────┤
//	│           TCP                  │
//	└────────────────────────────────┘
//
// # Key Exchange
//
// The client sends a KeyExchange message right after connect. A node that
// receives a KeyExchange while holding no pending keypair answers with its
// own public key; a node that already holds one only derives. Both sides
// then install the derived secret on the socket's channel. Key exchange and
// heartbeat frames are always sent in plaintext. Rotation after
// key_rotation_interval messages repeats the same exchange.
//
// # Keep-Alive
//
// Clients send a Heartbeat every heartbeat interval. Servers drop peers that
// stayed silent longer than the connection timeout.
package transport
