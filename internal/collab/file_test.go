package collab_test

import (
	"context"
	"testing"

	"qiyashash/internal/collab"
)

func TestFilePersistenceSaveLoadDelete(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	p, err := collab.NewFilePersistence(dir)
	if err != nil {
		t.Fatalf("NewFilePersistence: %v", err)
	}

	if err := p.SaveBlob(ctx, "peer/alice/signed", []byte("payload")); err != nil {
		t.Fatalf("SaveBlob: %v", err)
	}

	data, ok, err := p.LoadBlob(ctx, "peer/alice/signed")
	if err != nil || !ok {
		t.Fatalf("LoadBlob: ok=%v err=%v", ok, err)
	}
	if string(data) != "payload" {
		t.Fatalf("unexpected blob: %q", data)
	}

	// A second FilePersistence rooted at the same dir must see the same data.
	p2, err := collab.NewFilePersistence(dir)
	if err != nil {
		t.Fatalf("NewFilePersistence: %v", err)
	}
	data2, ok2, err := p2.LoadBlob(ctx, "peer/alice/signed")
	if err != nil || !ok2 || string(data2) != "payload" {
		t.Fatalf("expected persistence to survive across instances: ok=%v err=%v data=%q", ok2, err, data2)
	}

	if err := p.DeleteBlob(ctx, "peer/alice/signed"); err != nil {
		t.Fatalf("DeleteBlob: %v", err)
	}
	_, ok3, err := p.LoadBlob(ctx, "peer/alice/signed")
	if err != nil {
		t.Fatalf("LoadBlob after delete: %v", err)
	}
	if ok3 {
		t.Fatal("expected blob to be gone after delete")
	}
}

func TestFilePersistenceLoadMissingKeyIsNotError(t *testing.T) {
	p, err := collab.NewFilePersistence(t.TempDir())
	if err != nil {
		t.Fatalf("NewFilePersistence: %v", err)
	}
	_, ok, err := p.LoadBlob(context.Background(), "never-written")
	if err != nil {
		t.Fatalf("LoadBlob: %v", err)
	}
	if ok {
		t.Fatal("expected ok=false for a missing key")
	}
}
