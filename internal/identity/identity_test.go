package identity_test

import (
	"strings"
	"testing"
	"time"

	"qiyashash/internal/errs"
	"qiyashash/internal/identity"
)

const strongPass = "Correct-Horse-9-Battery"

func TestWrapUnwrapRoundTrip(t *testing.T) {
	id, err := identity.Generate()
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}

	wrapped, err := identity.Wrap(id, strongPass)
	if err != nil {
		t.Fatalf("Wrap: %v", err)
	}

	got, err := identity.Unwrap(wrapped, strongPass)
	if err != nil {
		t.Fatalf("Unwrap: %v", err)
	}
	if got.EdPub != id.EdPub || got.XPub != id.XPub {
		t.Fatal("unwrapped identity does not match original")
	}
}

func TestWrapRejectsWeakPassphrase(t *testing.T) {
	id, err := identity.Generate()
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	_, err = identity.Wrap(id, "short")
	if err != identity.ErrWeakPassphrase {
		t.Fatalf("expected ErrWeakPassphrase, got %v", err)
	}
}

func TestUnwrapWithWrongPassphraseFails(t *testing.T) {
	id, err := identity.Generate()
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	wrapped, err := identity.Wrap(id, strongPass)
	if err != nil {
		t.Fatalf("Wrap: %v", err)
	}
	_, err = identity.Unwrap(wrapped, "Different-Horse-9-Battery")
	if err == nil {
		t.Fatal("expected unwrap with wrong passphrase to fail")
	}
	if kind, ok := errs.Of(err); !ok || kind != errs.CryptoVerification {
		t.Fatalf("expected CryptoVerification, got %v", err)
	}
}

func TestRotateAndVerify(t *testing.T) {
	old, err := identity.Generate()
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	now := time.Unix(1_700_000_000, 0)

	next, proof, err := identity.Rotate(old, now)
	if err != nil {
		t.Fatalf("Rotate: %v", err)
	}
	if next.EdPub == old.EdPub {
		t.Fatal("rotation must produce a new key")
	}

	if err := identity.VerifyRotation(proof, now); err != nil {
		t.Fatalf("VerifyRotation: %v", err)
	}
}

func TestVerifyRotationRejectsClockSkewOutsideWindow(t *testing.T) {
	old, err := identity.Generate()
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	now := time.Unix(1_700_000_000, 0)
	_, proof, err := identity.Rotate(old, now)
	if err != nil {
		t.Fatalf("Rotate: %v", err)
	}

	tooLate := now.Add(identity.ClockSkewWindow + time.Minute)
	if err := identity.VerifyRotation(proof, tooLate); err == nil {
		t.Fatal("expected clock-skew rejection")
	}
}

func TestVerifyRotationRejectsTamperedProof(t *testing.T) {
	old, err := identity.Generate()
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	now := time.Unix(1_700_000_000, 0)
	_, proof, err := identity.Rotate(old, now)
	if err != nil {
		t.Fatalf("Rotate: %v", err)
	}

	proof.NewSig[0] ^= 0xFF
	if err := identity.VerifyRotation(proof, now); err == nil {
		t.Fatal("expected tampered signature to fail verification")
	}
}

func TestFingerprintIsUntruncated64HexChars(t *testing.T) {
	id, err := identity.Generate()
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	fp := id.Fingerprint()
	if len(fp) != 64 {
		t.Fatalf("expected a 64 hex-char (full SHA-256) fingerprint, got %d chars: %q", len(fp), fp)
	}
	for _, r := range fp {
		if !strings.ContainsRune("0123456789abcdef", r) {
			t.Fatalf("expected lowercase hex fingerprint, got %q", fp)
		}
	}
}

func TestSafetyNumberIsOrderIndependent(t *testing.T) {
	a, err := identity.Generate()
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	b, err := identity.Generate()
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}

	fpA := [32]byte(a.EdPub)
	fpB := [32]byte(b.EdPub)

	n1, err := identity.SafetyNumber(fpA, fpB)
	if err != nil {
		t.Fatalf("SafetyNumber: %v", err)
	}
	n2, err := identity.SafetyNumber(fpB, fpA)
	if err != nil {
		t.Fatalf("SafetyNumber: %v", err)
	}
	if n1 != n2 {
		t.Fatalf("safety number must be order independent: %q vs %q", n1, n2)
	}

	groups := strings.Split(n1, " ")
	if len(groups) != 12 {
		t.Fatalf("expected 12 groups, got %d", len(groups))
	}
	for _, g := range groups {
		if len(g) != 5 {
			t.Fatalf("expected 5-digit group, got %q", g)
		}
	}
}

func TestSafetyNumberDiffersForDifferentPairs(t *testing.T) {
	a, _ := identity.Generate()
	b, _ := identity.Generate()
	c, _ := identity.Generate()

	fpA := [32]byte(a.EdPub)
	fpB := [32]byte(b.EdPub)
	fpC := [32]byte(c.EdPub)

	n1, err := identity.SafetyNumber(fpA, fpB)
	if err != nil {
		t.Fatalf("SafetyNumber: %v", err)
	}
	n2, err := identity.SafetyNumber(fpA, fpC)
	if err != nil {
		t.Fatalf("SafetyNumber: %v", err)
	}
	if n1 == n2 {
		t.Fatal("expected different pairs to produce different safety numbers")
	}
}

// TestSafetyNumberTrailingGroupsCarryRealEntropy guards against the
// original bug where groups 9-12 were a fixed zero-padded suffix regardless
// of input: it fails if the last group is constant across several distinct
// identity pairs.
func TestSafetyNumberTrailingGroupsCarryRealEntropy(t *testing.T) {
	var lastGroups []string
	for i := 0; i < 5; i++ {
		a, _ := identity.Generate()
		b, _ := identity.Generate()
		fpA := [32]byte(a.EdPub)
		fpB := [32]byte(b.EdPub)

		n, err := identity.SafetyNumber(fpA, fpB)
		if err != nil {
			t.Fatalf("SafetyNumber: %v", err)
		}
		groups := strings.Split(n, " ")
		if len(groups) != 12 {
			t.Fatalf("expected 12 groups, got %d", len(groups))
		}
		lastGroups = append(lastGroups, groups[11])
	}

	allSame := true
	for _, g := range lastGroups {
		if g != lastGroups[0] {
			allSame = false
			break
		}
	}
	if allSame {
		t.Fatalf("expected the trailing safety-number group to vary across distinct identity pairs, got constant %q", lastGroups[0])
	}
}
