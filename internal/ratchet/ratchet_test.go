package ratchet_test

import (
	"testing"

	"qiyashash/internal/domain"
	"qiyashash/internal/errs"
	"qiyashash/internal/primitives"
	"qiyashash/internal/ratchet"
)

func makeIdentity(t *testing.T) (priv primitives.X25519Private, pub primitives.X25519Public) {
	t.Helper()
	p, P, err := primitives.GenerateX25519()
	if err != nil {
		t.Fatalf("GenerateX25519: %v", err)
	}
	return p, P
}

func setupPair(t *testing.T) (a, b *ratchet.Session) {
	t.Helper()
	root := [32]byte{}
	for i := range root {
		root[i] = 0x42
	}
	ad := [64]byte{}

	bPriv, bPub := makeIdentity(t)
	aPriv, aPub := makeIdentity(t)

	a, err := ratchet.InitAsInitiator(root, ad, primitives.AlgoXChaCha20Poly1305, aPriv, aPub, bPub)
	if err != nil {
		t.Fatalf("InitAsInitiator: %v", err)
	}
	b, err = ratchet.InitAsResponder(root, ad, primitives.AlgoXChaCha20Poly1305, bPriv, a.DHPub())
	if err != nil {
		t.Fatalf("InitAsResponder: %v", err)
	}
	return a, b
}

func TestDoubleRatchet_OneRoundTrip(t *testing.T) {
	a, b := setupPair(t)

	header, ct, err := a.Encrypt([]byte("hi"))
	if err != nil {
		t.Fatalf("Encrypt: %v", err)
	}
	pt, err := b.Decrypt(header, ct)
	if err != nil {
		t.Fatalf("Decrypt: %v", err)
	}
	if string(pt) != "hi" {
		t.Fatalf("got %q want %q", pt, "hi")
	}
	if b.State() != ratchet.Established {
		t.Fatalf("expected Established after first successful decrypt, got %v", b.State())
	}
}

func TestDoubleRatchet_BidirectionalConversation(t *testing.T) {
	a, b := setupPair(t)

	h1, c1, err := a.Encrypt([]byte("ping"))
	if err != nil {
		t.Fatalf("a.Encrypt: %v", err)
	}
	pt1, err := b.Decrypt(h1, c1)
	if err != nil || string(pt1) != "ping" {
		t.Fatalf("b.Decrypt: pt=%q err=%v", pt1, err)
	}

	h2, c2, err := b.Encrypt([]byte("pong"))
	if err != nil {
		t.Fatalf("b.Encrypt: %v", err)
	}
	pt2, err := a.Decrypt(h2, c2)
	if err != nil || string(pt2) != "pong" {
		t.Fatalf("a.Decrypt: pt=%q err=%v", pt2, err)
	}
	if a.State() != ratchet.Established {
		t.Fatalf("expected initiator Established after first inbound reply, got %v", a.State())
	}

	for i := 0; i < 5; i++ {
		h, c, err := a.Encrypt([]byte("msg-a"))
		if err != nil {
			t.Fatalf("a.Encrypt iter %d: %v", i, err)
		}
		if _, err := b.Decrypt(h, c); err != nil {
			t.Fatalf("b.Decrypt iter %d: %v", i, err)
		}
		h, c, err = b.Encrypt([]byte("msg-b"))
		if err != nil {
			t.Fatalf("b.Encrypt iter %d: %v", i, err)
		}
		if _, err := a.Decrypt(h, c); err != nil {
			t.Fatalf("a.Decrypt iter %d: %v", i, err)
		}
	}
}

func TestDoubleRatchet_OutOfOrderWithinChain(t *testing.T) {
	a, b := setupPair(t)

	var headers [3]domain.RatchetHeader
	var cts [3][]byte
	for i := 0; i < 3; i++ {
		h, c, err := a.Encrypt([]byte("m"))
		if err != nil {
			t.Fatalf("Encrypt %d: %v", i, err)
		}
		headers[i], cts[i] = h, c
	}

	// Deliver message 2 before message 0 and 1: forces skipped-key caching.
	pt, err := b.Decrypt(headers[2], cts[2])
	if err != nil {
		t.Fatalf("decrypt out of order (idx 2): %v", err)
	}
	if string(pt) != "m" {
		t.Fatalf("unexpected plaintext: %q", pt)
	}
	if b.EvictionCount() != 0 {
		t.Fatalf("expected no evictions yet, got %d", b.EvictionCount())
	}

	pt0, err := b.Decrypt(headers[0], cts[0])
	if err != nil {
		t.Fatalf("decrypt skipped idx 0: %v", err)
	}
	if string(pt0) != "m" {
		t.Fatalf("unexpected plaintext for idx0: %q", pt0)
	}

	pt1, err := b.Decrypt(headers[1], cts[1])
	if err != nil {
		t.Fatalf("decrypt skipped idx 1: %v", err)
	}
	if string(pt1) != "m" {
		t.Fatalf("unexpected plaintext for idx1: %q", pt1)
	}

	// Replaying idx 0 again must fail: the skipped key was consumed, and the
	// index is now behind the receiving chain's expected counter.
	_, err = b.Decrypt(headers[0], cts[0])
	if err == nil {
		t.Fatal("expected failure replaying a consumed skipped key")
	}
	if kind, ok := errs.Of(err); !ok || kind != errs.ChainOrdering {
		t.Fatalf("expected ChainOrdering, got %v", err)
	}
}

func TestDoubleRatchet_TooManySkipped(t *testing.T) {
	a, b := setupPair(t)

	// Prime the receiving chain.
	h, c, err := a.Encrypt([]byte("first"))
	if err != nil {
		t.Fatalf("Encrypt: %v", err)
	}
	if _, err := b.Decrypt(h, c); err != nil {
		t.Fatalf("Decrypt: %v", err)
	}

	// Send far more than MaxSkip messages without delivering them, then
	// deliver the last one: b must refuse to skip that many keys at once.
	var last domain.RatchetHeader
	var lastCT []byte
	for i := 0; i < ratchet.MaxSkip+5; i++ {
		h, c, err := a.Encrypt([]byte("x"))
		if err != nil {
			t.Fatalf("Encrypt %d: %v", i, err)
		}
		last, lastCT = h, c
	}
	_, err = b.Decrypt(last, lastCT)
	if err == nil {
		t.Fatal("expected TooManySkippedKeys error")
	}
	if kind, ok := errs.Of(err); !ok || kind != errs.TooManySkippedKeys {
		t.Fatalf("expected TooManySkippedKeys, got %v", err)
	}
}

func TestDoubleRatchet_TamperedCiphertextFails(t *testing.T) {
	a, b := setupPair(t)
	h, c, err := a.Encrypt([]byte("secret"))
	if err != nil {
		t.Fatalf("Encrypt: %v", err)
	}
	c[len(c)-1] ^= 0xFF
	_, err = b.Decrypt(h, c)
	if err == nil {
		t.Fatal("expected CryptoVerification failure on tampered ciphertext")
	}
	if kind, ok := errs.Of(err); !ok || kind != errs.CryptoVerification {
		t.Fatalf("expected CryptoVerification, got %v", err)
	}
}

func TestDoubleRatchet_ExportImportRoundTrip(t *testing.T) {
	a, b := setupPair(t)

	h1, c1, err := a.Encrypt([]byte("before snapshot"))
	if err != nil {
		t.Fatalf("Encrypt: %v", err)
	}
	if _, err := b.Decrypt(h1, c1); err != nil {
		t.Fatalf("Decrypt: %v", err)
	}

	// Force a skipped key into b's cache so the snapshot has to carry it.
	h2, c2, err := a.Encrypt([]byte("skip me"))
	if err != nil {
		t.Fatalf("Encrypt: %v", err)
	}
	h3, c3, err := a.Encrypt([]byte("deliver first"))
	if err != nil {
		t.Fatalf("Encrypt: %v", err)
	}
	if _, err := b.Decrypt(h3, c3); err != nil {
		t.Fatalf("Decrypt out of order: %v", err)
	}

	restored, err := ratchet.Import(b.Export())
	if err != nil {
		t.Fatalf("Import: %v", err)
	}
	if restored.State() != b.State() {
		t.Fatalf("state mismatch after import: got %v want %v", restored.State(), b.State())
	}
	if restored.EvictionCount() != b.EvictionCount() {
		t.Fatalf("eviction count mismatch after import")
	}

	pt, err := restored.Decrypt(h2, c2)
	if err != nil {
		t.Fatalf("restored.Decrypt of pre-snapshot skipped key: %v", err)
	}
	if string(pt) != "skip me" {
		t.Fatalf("got %q want %q", pt, "skip me")
	}
}

func TestDoubleRatchet_AES256GCMAlgo(t *testing.T) {
	root := [32]byte{}
	ad := [64]byte{}
	bPriv, bPub := makeIdentity(t)
	aPriv, aPub := makeIdentity(t)

	a, err := ratchet.InitAsInitiator(root, ad, primitives.AlgoAES256GCM, aPriv, aPub, bPub)
	if err != nil {
		t.Fatalf("InitAsInitiator: %v", err)
	}
	b, err := ratchet.InitAsResponder(root, ad, primitives.AlgoAES256GCM, bPriv, a.DHPub())
	if err != nil {
		t.Fatalf("InitAsResponder: %v", err)
	}
	h, c, err := a.Encrypt([]byte("aes path"))
	if err != nil {
		t.Fatalf("Encrypt: %v", err)
	}
	pt, err := b.Decrypt(h, c)
	if err != nil {
		t.Fatalf("Decrypt: %v", err)
	}
	if string(pt) != "aes path" {
		t.Fatalf("got %q", pt)
	}
}
