package collab

import (
	"context"
	"sync"

	"qiyashash/internal/domain"
	"qiyashash/internal/errs"
)

// MemoryTransport is an in-process mailbox transport: Put appends to the
// recipient's queue, Get drains it. It is useful for demos and tests that
// never touch a real relay or DHT, mirroring how the teacher's file stores
// stood in for a real backend behind the same interface.
type MemoryTransport struct {
	mu      sync.Mutex
	mailbox map[domain.PeerID][][]byte
}

// NewMemoryTransport returns an empty MemoryTransport.
func NewMemoryTransport() *MemoryTransport {
	return &MemoryTransport{mailbox: make(map[domain.PeerID][][]byte)}
}

func (t *MemoryTransport) Put(_ context.Context, to domain.PeerID, envelope []byte) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	buf := append([]byte(nil), envelope...)
	t.mailbox[to] = append(t.mailbox[to], buf)
	return nil
}

func (t *MemoryTransport) Get(_ context.Context, to domain.PeerID) ([][]byte, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := t.mailbox[to]
	delete(t.mailbox, to)
	return out, nil
}

// MemoryDirectory is an in-process bundle registry.
type MemoryDirectory struct {
	mu      sync.Mutex
	bundles map[domain.PeerID]domain.PreKeyBundle
}

// NewMemoryDirectory returns an empty MemoryDirectory.
func NewMemoryDirectory() *MemoryDirectory {
	return &MemoryDirectory{bundles: make(map[domain.PeerID]domain.PreKeyBundle)}
}

func (d *MemoryDirectory) PublishBundle(_ context.Context, bundle domain.PreKeyBundle) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.bundles[bundle.Peer] = bundle
	return nil
}

func (d *MemoryDirectory) FetchBundle(_ context.Context, peer domain.PeerID) (domain.PreKeyBundle, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	b, ok := d.bundles[peer]
	if !ok {
		return domain.PreKeyBundle{}, errs.New(errs.InvalidBundle, "no bundle published for peer")
	}
	return b, nil
}

// MemoryPersistence is an in-process Persistence backed by a map, standing
// in for the teacher's on-disk JSON stores when no real database is wired
// up. Writes are copied in and out so callers cannot mutate stored state
// through an aliased slice.
type MemoryPersistence struct {
	mu   sync.Mutex
	blob map[string][]byte
}

// NewMemoryPersistence returns an empty MemoryPersistence.
func NewMemoryPersistence() *MemoryPersistence {
	return &MemoryPersistence{blob: make(map[string][]byte)}
}

func (p *MemoryPersistence) SaveBlob(_ context.Context, key string, data []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.blob[key] = append([]byte(nil), data...)
	return nil
}

func (p *MemoryPersistence) LoadBlob(_ context.Context, key string) ([]byte, bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	data, ok := p.blob[key]
	if !ok {
		return nil, false, nil
	}
	return append([]byte(nil), data...), true, nil
}

func (p *MemoryPersistence) DeleteBlob(_ context.Context, key string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.blob, key)
	return nil
}

var (
	_ Transport   = (*MemoryTransport)(nil)
	_ Directory   = (*MemoryDirectory)(nil)
	_ Persistence = (*MemoryPersistence)(nil)
	_ Clock       = SystemClock{}
)
