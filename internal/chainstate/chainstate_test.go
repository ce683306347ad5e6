package chainstate_test

import (
	"crypto/sha256"
	"testing"

	"qiyashash/internal/chainstate"
	"qiyashash/internal/errs"
)

func hashOf(s string) [32]byte { return sha256.Sum256([]byte(s)) }

func TestAppendAndVerifyProof(t *testing.T) {
	genesis := chainstate.Genesis(hashOf("shared-secret-fingerprint"))
	chain := chainstate.New(genesis)

	steps := []chainstate.ProofStep{
		{Type: chainstate.LinkMessage, MessageHash: hashOf("m1"), Timestamp: 100},
		{Type: chainstate.LinkMessage, MessageHash: hashOf("m2"), Timestamp: 150},
		{Type: chainstate.LinkMessage, MessageHash: hashOf("m3"), Timestamp: 150},
	}

	var head chainstate.Link
	for _, step := range steps {
		var err error
		head, err = chain.Append(step.MessageHash, step.Timestamp)
		if err != nil {
			t.Fatalf("Append: %v", err)
		}
	}

	from := chainstate.Link{State: genesis}
	if !chainstate.VerifyProof(from, steps, head.State) {
		t.Fatal("expected proof to verify against terminal state")
	}

	tampered := steps
	tampered[0].MessageHash = hashOf("tampered")
	if chainstate.VerifyProof(from, tampered, head.State) {
		t.Fatal("expected tampered proof to fail verification")
	}
}

func TestAppendRejectsTimestampRegression(t *testing.T) {
	genesis := chainstate.Genesis(hashOf("fp"))
	chain := chainstate.New(genesis)

	if _, err := chain.Append(hashOf("m1"), 200); err != nil {
		t.Fatalf("Append: %v", err)
	}
	_, err := chain.Append(hashOf("m2"), 100)
	if err == nil {
		t.Fatal("expected ChainOrdering error on timestamp regression")
	}
	if kind, ok := errs.Of(err); !ok || kind != errs.ChainOrdering {
		t.Fatalf("expected ChainOrdering, got %v", err)
	}
}

func TestSnapshotExportImportRoundTrip(t *testing.T) {
	genesis := chainstate.Genesis(hashOf("fp"))
	chain := chainstate.New(genesis)
	chain.Append(hashOf("m1"), 10)
	chain.Append(hashOf("m2"), 20)

	restored := chainstate.Import(chain.Export())
	if restored.Head() != chain.Head() {
		t.Fatalf("head mismatch after import: got %+v want %+v", restored.Head(), chain.Head())
	}

	link, err := restored.Append(hashOf("m3"), 30)
	if err != nil {
		t.Fatalf("Append after import: %v", err)
	}
	if link.Sequence != 3 {
		t.Fatalf("expected sequence 3 continuing from imported chain, got %d", link.Sequence)
	}
}

func TestExportProofRoundTrip(t *testing.T) {
	genesis := chainstate.Genesis(hashOf("fp"))
	chain := chainstate.New(genesis)
	chain.Append(hashOf("m1"), 10)
	chain.Append(hashOf("m2"), 20)

	proof := chain.ExportProof()
	if len(proof) != 2*41 {
		t.Fatalf("expected 82 bytes of exported proof, got %d", len(proof))
	}
}
