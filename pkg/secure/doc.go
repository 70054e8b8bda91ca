// Package secure implements the tcpmsg key exchange and message protection.
//
// Peers exchange ephemeral public keys in KeyExchange messages. Each side
// computes the ECDH shared point and derives two 256-bit keys:
//
//	encryption = SHA-256(shared || "encryption" || "tcp-messenger-v1")
//	mac        = SHA-256(shared || "mac"        || "tcp-messenger-v1")
//
// Payloads are sealed with an AEAD under a fresh random 96-bit nonce, then
// authenticated with HMAC-SHA256 over the sealed bytes. The MAC is always
// checked before any decryption is attempted. The resulting secure container
// is
//
//	[encrypted_len:u32 BE][nonce:12 || ciphertext+tag][mac:32]
//
// A Channel holds the keys for one socket and tracks when rotation is due.
// Rotation is a fresh exchange; the previous secret stays valid for inbound
// traffic until the first message under the new one arrives.
package secure
