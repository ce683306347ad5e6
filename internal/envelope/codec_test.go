package envelope_test

import (
	"testing"

	"qiyashash/internal/domain"
	"qiyashash/internal/envelope"
	"qiyashash/internal/primitives"
)

func sampleEnvelope(t *testing.T, withPreKey bool) domain.Envelope {
	t.Helper()
	_, dhPub, err := primitives.GenerateX25519()
	if err != nil {
		t.Fatalf("GenerateX25519: %v", err)
	}
	env := domain.Envelope{
		From:     "alice",
		To:       "bob",
		Header:   domain.RatchetHeader{DHPublic: dhPub, PreviousChainLength: 3, MessageIndex: 7},
		AEADAlgo: primitives.AlgoXChaCha20Poly1305,
		Nonce:    make([]byte, 24),
		Ciphertext: []byte("ciphertext-bytes"),
	}
	commit, _, err := envelope.TimestampCommitment(1234567890)
	if err != nil {
		t.Fatalf("TimestampCommitment: %v", err)
	}
	env.TimestampCommitment = commit
	if withPreKey {
		_, idPub, _ := primitives.GenerateX25519()
		_, ephPub, _ := primitives.GenerateX25519()
		env.PreKey = &domain.PreKeyMessage{
			InitiatorIdentityKey: idPub,
			EphemeralKey:         ephPub,
			SignedPreKeyID:       9,
			HasOneTimePreKey:     true,
			OneTimePreKeyID:      3,
		}
	}
	return env
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	for _, withPreKey := range []bool{false, true} {
		env := sampleEnvelope(t, withPreKey)
		wire, err := envelope.Encode(env)
		if err != nil {
			t.Fatalf("Encode: %v", err)
		}
		got, err := envelope.Decode(wire)
		if err != nil {
			t.Fatalf("Decode: %v", err)
		}
		if got.Header != env.Header {
			t.Fatalf("header mismatch: got %+v want %+v", got.Header, env.Header)
		}
		if got.AEADAlgo != env.AEADAlgo {
			t.Fatalf("algo mismatch")
		}
		if string(got.Ciphertext) != string(env.Ciphertext) {
			t.Fatalf("ciphertext mismatch")
		}
		if (got.PreKey == nil) != (env.PreKey == nil) {
			t.Fatalf("pre-key presence mismatch")
		}
		if got.PreKey != nil && *got.PreKey != *env.PreKey {
			t.Fatalf("pre-key mismatch: got %+v want %+v", got.PreKey, env.PreKey)
		}
	}
}

func TestDecodeRejectsBadMagic(t *testing.T) {
	env := sampleEnvelope(t, false)
	wire, err := envelope.Encode(env)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	wire[0] ^= 0xFF
	if _, err := envelope.Decode(wire); err == nil {
		t.Fatal("expected error for bad magic")
	}
}

func TestDecodeRejectsTrailingBytes(t *testing.T) {
	env := sampleEnvelope(t, false)
	wire, err := envelope.Encode(env)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	wire = append(wire, 0x00)
	if _, err := envelope.Decode(wire); err == nil {
		t.Fatal("expected error for trailing bytes")
	}
}

func TestDecodeRejectsTruncatedCiphertextLength(t *testing.T) {
	env := sampleEnvelope(t, false)
	wire, err := envelope.Encode(env)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	if _, err := envelope.Decode(wire[:len(wire)-40]); err == nil {
		t.Fatal("expected error for truncated buffer")
	}
}
