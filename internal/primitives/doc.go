// Package primitives wraps the raw cryptographic building blocks used by
// every protocol package in this module: X25519 and Ed25519 keys, the two
// negotiable AEAD ciphers, HKDF-SHA512, the HMAC-SHA256 chain-ratchet step,
// and key fingerprinting. Higher packages (x3dh, ratchet, identity) never
// call curve25519, chacha20poly1305, hkdf or crypto/ed25519 directly (identity
// imports golang.org/x/crypto/argon2 only for passphrase wrapping); they go through here
// so the key types stay fixed-size and the ratchet's associated data stays
// byte-identical across algorithms.
package primitives
