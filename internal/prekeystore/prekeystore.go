// Package prekeystore manages a peer's signed pre-key and one-time pre-key
// pool: generation, bundle assembly, and single-use, durable-before-reported
// consumption. Grounded on the teacher's internal/services/prekey.Service,
// generalized from its single fixed on-disk store to any collab.Persistence
// backend and from string-timestamp IDs to the monotonically increasing
// 32-bit IDs SPEC_FULL.md §9 resolves the identifier scheme to.
package prekeystore

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"sync"
	"time"

	"qiyashash/internal/collab"
	"qiyashash/internal/domain"
	"qiyashash/internal/errs"
	"qiyashash/internal/primitives"
)

const (
	signedPreKeysKey       = "prekeystore/signed"
	currentSignedPreKeyKey = "prekeystore/signed/current"
	oneTimePoolKey         = "prekeystore/onetime"
	nextIDCounterKey       = "prekeystore/next_id"
)

// RotationInterval is the operator-policy upper bound on how long a signed
// pre-key stays current, per spec.md §3 ("rotated on operator policy,
// <=7 days").
const RotationInterval = 7 * 24 * time.Hour

// SignedPreKeyGracePeriod is how long a superseded signed pre-key is kept
// around after rotation so a handshake already in flight against it can
// still be answered, per spec.md §4.2: "The previous signed pre-key is
// retained for a grace period (2x rotation interval) to decrypt late
// messages."
const SignedPreKeyGracePeriod = 2 * RotationInterval

// Store owns one peer's pre-key material against a durable Persistence
// backend, serializing generation and consumption so two concurrent callers
// can never hand out the same one-time pre-key.
type Store struct {
	mu   sync.Mutex
	db   collab.Persistence
	peer domain.PeerID
}

// New returns a Store for peer backed by db.
func New(db collab.Persistence, peer domain.PeerID) *Store {
	return &Store{db: db, peer: peer}
}

type signedPreKeyRecord struct {
	ID          domain.SignedPreKeyID
	Priv        primitives.X25519Private
	Pub         primitives.X25519Public
	Signature   []byte
	GeneratedAt time.Time
}

type oneTimePreKeyRecord struct {
	ID   domain.OneTimePreKeyID
	Priv primitives.X25519Private
	Pub  primitives.X25519Public
}

// nextID allocates the next 32-bit identifier from a monotonic counter,
// failing rather than wrapping back to a previously issued ID.
func (s *Store) nextID(ctx context.Context) (uint32, error) {
	raw, ok, err := s.db.LoadBlob(ctx, nextIDCounterKey)
	if err != nil {
		return 0, err
	}
	var current uint32
	if ok {
		if len(raw) != 4 {
			return 0, errs.New(errs.InvalidEncoding, "corrupt pre-key id counter")
		}
		current = binary.BigEndian.Uint32(raw)
	}
	if current == 0xFFFFFFFF {
		return 0, errs.New(errs.InternalInvariant, "pre-key id counter would wrap")
	}
	next := current + 1
	var buf [4]byte
	binary.BigEndian.PutUint32(buf[:], next)
	if err := s.db.SaveBlob(ctx, nextIDCounterKey, buf[:]); err != nil {
		return 0, err
	}
	return next, nil
}

// GenerateSignedPreKey creates a fresh signed pre-key, signs it with the
// identity's Ed25519 key, and records it as the current signed pre-key. The
// previously current generation, if any, is retained rather than discarded
// so a handshake already in flight against it can still be answered; any
// generation older than SignedPreKeyGracePeriod is pruned at this point.
func (s *Store) GenerateSignedPreKey(ctx context.Context, edPriv primitives.Ed25519Private, now time.Time) (domain.SignedPreKeyID, primitives.X25519Public, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	priv, pub, err := primitives.GenerateX25519()
	if err != nil {
		return 0, primitives.X25519Public{}, err
	}
	id, err := s.nextID(ctx)
	if err != nil {
		return 0, primitives.X25519Public{}, err
	}
	sig := primitives.SignEd25519(edPriv, pub[:])
	rec := signedPreKeyRecord{ID: domain.SignedPreKeyID(id), Priv: priv, Pub: pub, Signature: sig, GeneratedAt: now}

	records, err := s.loadSignedPreKeys(ctx)
	if err != nil {
		return 0, primitives.X25519Public{}, err
	}
	kept := records[:0]
	for _, r := range records {
		if now.Sub(r.GeneratedAt) <= SignedPreKeyGracePeriod {
			kept = append(kept, r)
		}
	}
	kept = append(kept, rec)
	if err := s.saveSignedPreKeys(ctx, kept); err != nil {
		return 0, primitives.X25519Public{}, err
	}
	if err := s.setCurrentSignedPreKeyID(ctx, rec.ID); err != nil {
		return 0, primitives.X25519Public{}, err
	}
	return rec.ID, rec.Pub, nil
}

// SignedPreKeyPrivate loads the ID and private half of the current signed
// pre-key, for publishing this identity's own bundle.
func (s *Store) SignedPreKeyPrivate(ctx context.Context) (domain.SignedPreKeyID, primitives.X25519Private, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id, ok, err := s.currentSignedPreKeyIDLocked(ctx)
	if err != nil {
		return 0, primitives.X25519Private{}, err
	}
	if !ok {
		return 0, primitives.X25519Private{}, errs.New(errs.InvalidBundle, "no signed pre-key generated")
	}
	return s.signedPreKeyByIDLocked(ctx, id)
}

// SignedPreKeyPrivateForHandshake resolves the private half of the signed
// pre-key an incoming pre-key message references by ID. If that exact
// generation has already been pruned (older than SignedPreKeyGracePeriod),
// it falls back to the current signed pre-key rather than failing outright,
// mirroring spec.md §7's guidance that a CryptoVerification-adjacent
// failure may be retried against a different candidate signed pre-key.
func (s *Store) SignedPreKeyPrivateForHandshake(ctx context.Context, id domain.SignedPreKeyID) (primitives.X25519Private, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, priv, err := s.signedPreKeyByIDLocked(ctx, id); err == nil {
		return priv, nil
	}
	currentID, ok, err := s.currentSignedPreKeyIDLocked(ctx)
	if err != nil {
		return primitives.X25519Private{}, err
	}
	if !ok {
		return primitives.X25519Private{}, errs.New(errs.InvalidBundle, "no signed pre-key generated")
	}
	_, priv, err := s.signedPreKeyByIDLocked(ctx, currentID)
	return priv, err
}

func (s *Store) signedPreKeyByIDLocked(ctx context.Context, id domain.SignedPreKeyID) (domain.SignedPreKeyID, primitives.X25519Private, error) {
	records, err := s.loadSignedPreKeys(ctx)
	if err != nil {
		return 0, primitives.X25519Private{}, err
	}
	for _, r := range records {
		if r.ID == id {
			return r.ID, r.Priv, nil
		}
	}
	return 0, primitives.X25519Private{}, errs.New(errs.InvalidBundle, "signed pre-key id not found or past its retention grace period")
}

func (s *Store) currentSignedPreKeyIDLocked(ctx context.Context) (domain.SignedPreKeyID, bool, error) {
	raw, ok, err := s.db.LoadBlob(ctx, currentSignedPreKeyKey)
	if err != nil || !ok {
		return 0, false, err
	}
	if len(raw) != 4 {
		return 0, false, errs.New(errs.InvalidEncoding, "corrupt current signed pre-key pointer")
	}
	return domain.SignedPreKeyID(binary.BigEndian.Uint32(raw)), true, nil
}

func (s *Store) setCurrentSignedPreKeyID(ctx context.Context, id domain.SignedPreKeyID) error {
	var buf [4]byte
	binary.BigEndian.PutUint32(buf[:], uint32(id))
	return s.db.SaveBlob(ctx, currentSignedPreKeyKey, buf[:])
}

func (s *Store) loadSignedPreKeys(ctx context.Context) ([]signedPreKeyRecord, error) {
	raw, ok, err := s.db.LoadBlob(ctx, signedPreKeysKey)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, nil
	}
	var records []signedPreKeyRecord
	if err := json.Unmarshal(raw, &records); err != nil {
		return nil, errs.Wrap(errs.InvalidEncoding, "decode signed pre-key generations", err)
	}
	return records, nil
}

func (s *Store) saveSignedPreKeys(ctx context.Context, records []signedPreKeyRecord) error {
	data, err := json.Marshal(records)
	if err != nil {
		return err
	}
	return s.db.SaveBlob(ctx, signedPreKeysKey, data)
}

// GenerateOneTimePreKeys creates n fresh one-time pre-keys and adds them to
// the pool, returning their public halves for bundle publication.
func (s *Store) GenerateOneTimePreKeys(ctx context.Context, n int) ([]domain.OneTimePreKeyPublic, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	pool, err := s.loadPool(ctx)
	if err != nil {
		return nil, err
	}

	publics := make([]domain.OneTimePreKeyPublic, 0, n)
	for i := 0; i < n; i++ {
		priv, pub, err := primitives.GenerateX25519()
		if err != nil {
			return nil, err
		}
		id, err := s.nextID(ctx)
		if err != nil {
			return nil, err
		}
		rec := oneTimePreKeyRecord{ID: domain.OneTimePreKeyID(id), Priv: priv, Pub: pub}
		pool = append(pool, rec)
		publics = append(publics, domain.OneTimePreKeyPublic{ID: rec.ID, Pub: rec.Pub})
	}

	if err := s.savePool(ctx, pool); err != nil {
		return nil, err
	}
	return publics, nil
}

// ConsumeOneTimePreKey atomically removes and returns the private half of
// the one-time pre-key with the given ID. The removal is persisted before
// the private key is returned to the caller, so a crash between consumption
// and use of the key cannot leave it available for replay.
func (s *Store) ConsumeOneTimePreKey(ctx context.Context, id domain.OneTimePreKeyID) (primitives.X25519Private, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	pool, err := s.loadPool(ctx)
	if err != nil {
		return primitives.X25519Private{}, err
	}

	for i, rec := range pool {
		if rec.ID == id {
			remaining := append(pool[:i:i], pool[i+1:]...)
			if err := s.savePool(ctx, remaining); err != nil {
				return primitives.X25519Private{}, err
			}
			return rec.Priv, nil
		}
	}
	return primitives.X25519Private{}, errs.New(errs.ReplayedOneTimeKey, "one-time pre-key not found or already consumed")
}

// BuildBundle assembles the currently published pre-key bundle for peer,
// using identity for the long-term signing and identity keys.
func (s *Store) BuildBundle(ctx context.Context, edPub primitives.Ed25519Public, xPub primitives.X25519Public) (domain.PreKeyBundle, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	currentID, ok, err := s.currentSignedPreKeyIDLocked(ctx)
	if err != nil {
		return domain.PreKeyBundle{}, err
	}
	if !ok {
		return domain.PreKeyBundle{}, errs.New(errs.InvalidBundle, "no signed pre-key generated")
	}
	records, err := s.loadSignedPreKeys(ctx)
	if err != nil {
		return domain.PreKeyBundle{}, err
	}
	var spk signedPreKeyRecord
	found := false
	for _, r := range records {
		if r.ID == currentID {
			spk, found = r, true
			break
		}
	}
	if !found {
		return domain.PreKeyBundle{}, errs.New(errs.InvalidBundle, "current signed pre-key generation missing")
	}

	pool, err := s.loadPool(ctx)
	if err != nil {
		return domain.PreKeyBundle{}, err
	}
	oneTime := make([]domain.OneTimePreKeyPublic, len(pool))
	for i, rec := range pool {
		oneTime[i] = domain.OneTimePreKeyPublic{ID: rec.ID, Pub: rec.Pub}
	}

	return domain.PreKeyBundle{
		Peer:                  s.peer,
		IdentityKey:           xPub,
		SigningKey:            edPub,
		SignedPreKeyID:        spk.ID,
		SignedPreKey:          spk.Pub,
		SignedPreKeySignature: spk.Signature,
		OneTimePreKeys:        oneTime,
	}, nil
}

func (s *Store) loadPool(ctx context.Context) ([]oneTimePreKeyRecord, error) {
	raw, ok, err := s.db.LoadBlob(ctx, oneTimePoolKey)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, nil
	}
	var pool []oneTimePreKeyRecord
	if err := json.Unmarshal(raw, &pool); err != nil {
		return nil, errs.Wrap(errs.InvalidEncoding, "decode one-time pre-key pool", err)
	}
	return pool, nil
}

func (s *Store) savePool(ctx context.Context, pool []oneTimePreKeyRecord) error {
	data, err := json.Marshal(pool)
	if err != nil {
		return err
	}
	return s.db.SaveBlob(ctx, oneTimePoolKey, data)
}
