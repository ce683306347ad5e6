package fragment_test

import (
	"bytes"
	"crypto/sha256"
	"testing"
	"time"

	"qiyashash/internal/errs"
	"qiyashash/internal/fragment"
)

func TestEncodeDecodeAllFragmentsPresent(t *testing.T) {
	data := bytes.Repeat([]byte("the quick brown fox jumps over the lazy dog "), 10)
	p := fragment.DefaultParams()
	tag := sha256.Sum256(data)

	frags, err := fragment.Encode([]byte("msg-1"), data, p, time.Now().Add(fragment.DefaultExpiry))
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	if len(frags) != 5 {
		t.Fatalf("expected 5 fragments, got %d", len(frags))
	}

	got, err := fragment.Decode(frags, p, tag)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if !bytes.Equal(got, data) {
		t.Fatalf("reconstructed data mismatch")
	}
}

func TestReconstructionWithMissingShards(t *testing.T) {
	data := []byte("a message that spans more than one shard boundary for testing")
	p := fragment.DefaultParams()
	tag := sha256.Sum256(data)

	frags, err := fragment.Encode([]byte("msg-2"), data, p, time.Now().Add(fragment.DefaultExpiry))
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}

	// Drop two of five fragments (one data, one parity): still k=3 remain.
	available := []fragment.Fragment{frags[1], frags[2], frags[4]}
	got, err := fragment.Decode(available, p, tag)
	if err != nil {
		t.Fatalf("Decode with missing shards: %v", err)
	}
	if !bytes.Equal(got, data) {
		t.Fatalf("reconstructed data mismatch with missing shards")
	}
}

func TestReconstructionFailsWithTooFewShards(t *testing.T) {
	data := []byte("short message")
	p := fragment.DefaultParams()
	tag := sha256.Sum256(data)

	frags, err := fragment.Encode([]byte("msg-3"), data, p, time.Now().Add(fragment.DefaultExpiry))
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}

	available := frags[:2] // fewer than DataShards=3
	_, err = fragment.Decode(available, p, tag)
	if err == nil {
		t.Fatal("expected FragmentUnreconstructible error")
	}
	if kind, ok := errs.Of(err); !ok || kind != errs.FragmentUnreconstructible {
		t.Fatalf("expected FragmentUnreconstructible, got %v", err)
	}
}

func TestFragmentIDIsDeterministic(t *testing.T) {
	id1 := fragment.FragmentID([]byte("msg"), 3)
	id2 := fragment.FragmentID([]byte("msg"), 3)
	id3 := fragment.FragmentID([]byte("msg"), 4)
	if id1 != id2 {
		t.Fatal("FragmentID must be deterministic")
	}
	if id1 == id3 {
		t.Fatal("FragmentID must depend on index")
	}
}

func TestDecodeDetectsIntegrityTagMismatch(t *testing.T) {
	data := []byte("integrity checked message")
	p := fragment.DefaultParams()
	wrongTag := sha256.Sum256([]byte("not the right data"))

	frags, err := fragment.Encode([]byte("msg-4"), data, p, time.Now().Add(fragment.DefaultExpiry))
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	_, err = fragment.Decode(frags, p, wrongTag)
	if err == nil {
		t.Fatal("expected integrity tag mismatch error")
	}
}
