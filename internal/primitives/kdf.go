package primitives

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/sha512"
	"errors"
	"io"

	"golang.org/x/crypto/hkdf"
)

var errUnknownAlgo = errors.New("primitives: unknown AEAD algorithm")

// HKDFSHA512 runs HKDF-SHA512 with the given salt, input keying material,
// info string, and output length. The X3DH root-key derivation and the
// Double Ratchet's root ratchet both go through this single entry point with
// the same info string; they differ in salt (0xFF x 32 versus the current
// root key) and output length (32 versus 64 bytes).
func HKDFSHA512(salt, ikm, info []byte, length int) ([]byte, error) {
	r := hkdf.New(sha512.New, ikm, salt, info)
	out := make([]byte, length)
	if _, err := io.ReadFull(r, out); err != nil {
		return nil, err
	}
	return out, nil
}

// Chain-ratchet HMAC labels, per the resolved Open Question (see
// SPEC_FULL.md §9): the message key and the next chain key are each a
// single-block HMAC-SHA256 of the current chain key with a one-byte label,
// not an HKDF expand.
var (
	chainLabelMessageKey = []byte{0x01}
	chainLabelNextChain  = []byte{0x02}
)

// ChainRatchetStep advances a symmetric chain key one step, returning the
// message key for the current step and the chain key for the next one.
// chainKey is not mutated; callers overwrite their stored chain key with the
// returned nextChainKey.
func ChainRatchetStep(chainKey []byte) (messageKey, nextChainKey [32]byte) {
	mk := hmac.New(sha256.New, chainKey)
	mk.Write(chainLabelMessageKey)
	copy(messageKey[:], mk.Sum(nil))

	ck := hmac.New(sha256.New, chainKey)
	ck.Write(chainLabelNextChain)
	copy(nextChainKey[:], ck.Sum(nil))
	return
}
