package primitives

import (
	"encoding/hex"
	"testing"
)

// TestX25519RFC7748Vector reproduces RFC 7748 §6.1's Diffie-Hellman test
// vector.
func TestX25519RFC7748Vector(t *testing.T) {
	aliceSK := decodeHex(t, "77076d0a7318a57d3c16c17251b26645df4c2f87ebc0992ab177fba51db92c2a")
	bobSK := decodeHex(t, "5dab087e624a8a4b79e17f8b83800ee66f3bb1292618b6fd1c2f8b27ff88e0eb")
	wantShared := decodeHex(t, "4a5d9d5ba4ce2de1728e3bf480350f25e07e21c947d19e3376f09b3c1e161742")

	var alicePriv, bobPriv X25519Private
	copy(alicePriv[:], aliceSK)
	copy(bobPriv[:], bobSK)

	// The vector's private scalars are unclamped; curve25519.X25519 clamps
	// them internally, as RFC 7748 specifies.
	bobPub, err := DerivePublic(bobPriv)
	if err != nil {
		t.Fatalf("derive bob pub: %v", err)
	}
	shared, err := DH(alicePriv, bobPub)
	if err != nil {
		t.Fatalf("DH: %v", err)
	}
	if hex.EncodeToString(shared[:]) != hex.EncodeToString(wantShared) {
		t.Fatalf("shared secret mismatch: got %x want %x", shared, wantShared)
	}
}

func decodeHex(t *testing.T, s string) []byte {
	t.Helper()
	b, err := hex.DecodeString(s)
	if err != nil {
		t.Fatalf("bad hex fixture: %v", err)
	}
	return b
}

func TestChainRatchetStepIsDeterministicAndDistinctFromMessageKey(t *testing.T) {
	ck := []byte("initial-chain-key-32-bytes-long")
	mk1, ck1 := ChainRatchetStep(ck)
	mk2, ck2 := ChainRatchetStep(ck)
	if mk1 != mk2 || ck1 != ck2 {
		t.Fatal("ChainRatchetStep must be deterministic for a fixed chain key")
	}
	if mk1 == ck1 {
		t.Fatal("message key and next chain key must differ (distinct HMAC labels)")
	}
	_, ck3 := ChainRatchetStep(ck1[:])
	if ck3 == ck1 {
		t.Fatal("stepping again must not reproduce the same chain key")
	}
}

func TestAEADRoundTripBothAlgos(t *testing.T) {
	for _, algo := range []AEADAlgo{AlgoXChaCha20Poly1305, AlgoAES256GCM} {
		aead, err := NewAEAD(algo)
		if err != nil {
			t.Fatalf("%s: NewAEAD: %v", algo, err)
		}
		key := make([]byte, 32)
		nonce, err := RandomNonce(aead.NonceSize())
		if err != nil {
			t.Fatalf("%s: nonce: %v", algo, err)
		}
		ct, err := aead.Seal(key, nonce, []byte("hello"), []byte("ad"))
		if err != nil {
			t.Fatalf("%s: seal: %v", algo, err)
		}
		pt, err := aead.Open(key, nonce, ct, []byte("ad"))
		if err != nil {
			t.Fatalf("%s: open: %v", algo, err)
		}
		if string(pt) != "hello" {
			t.Fatalf("%s: roundtrip mismatch: %q", algo, pt)
		}
		if _, err := aead.Open(key, nonce, ct, []byte("wrong-ad")); err == nil {
			t.Fatalf("%s: expected auth failure on tampered AD", algo)
		}
	}
}
