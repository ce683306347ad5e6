// Package ratchet implements the Double Ratchet session: a per-message DH
// ratchet layered over two symmetric chain ratchets (send/receive), with
// bounded skipped-message-key caching for out-of-order delivery.
//
// Concurrent Encrypt and Decrypt calls on the same Session serialize on a
// mutex the Session owns (see SPEC_FULL.md §5), so callers need no lock of
// their own.
package ratchet

import (
	"container/list"
	"encoding/binary"
	"sync"

	"qiyashash/internal/domain"
	"qiyashash/internal/errs"
	"qiyashash/internal/primitives"
)

// MaxSkip bounds the number of message keys a session will cache for
// out-of-order delivery, per SPEC_FULL.md §4.4/§4.9.
const MaxSkip = 1000

var rootInfo = []byte("QiyasHash_v1_RootKey")

// State is the machine described in SPEC_FULL.md §4.4. An inbound DH ratchet
// is allowed in InitiatorOnly (the initiator receiving its first reply) and
// in Established; Uninitialized and Terminated refuse it.
type State int

const (
	Uninitialized State = iota
	InitiatorOnly
	Established
	Terminated
)

func (s State) String() string {
	switch s {
	case Uninitialized:
		return "uninitialized"
	case InitiatorOnly:
		return "initiator-only"
	case Established:
		return "established"
	case Terminated:
		return "terminated"
	default:
		return "unknown"
	}
}

type skippedEntry struct {
	peer primitives.X25519Public
	n    uint32
	key  [32]byte
}

// Session is a live Double Ratchet session for one peer.
type Session struct {
	mu sync.Mutex

	state    State
	aead     primitives.AEAD
	ad       [64]byte
	rootKey  [32]byte
	dhPriv   primitives.X25519Private
	dhPub    primitives.X25519Public
	peerPub  primitives.X25519Public
	sendCK   *[32]byte
	recvCK   *[32]byte
	ns, nr   uint32
	pn       uint32

	skipped    map[skippedKey]*list.Element
	skipOrder  *list.List // of *skippedEntry, oldest first
	evictions  uint64
}

type skippedKey struct {
	peer primitives.X25519Public
	n    uint32
}

func newSession(algo primitives.AEADAlgo, ad [64]byte) (*Session, error) {
	aead, err := primitives.NewAEAD(algo)
	if err != nil {
		return nil, errs.Wrap(errs.InternalInvariant, "unsupported AEAD", err)
	}
	return &Session{
		aead:      aead,
		ad:        ad,
		skipped:   make(map[skippedKey]*list.Element),
		skipOrder: list.New(),
	}, nil
}

// InitAsInitiator seeds the sending chain immediately after X3DH and
// DH-ratchets against the responder's signed pre-key (used here as the
// peer's initial ratchet public). ourRatchetPriv/Pub is the initiator's
// X3DH ephemeral keypair, reused as the first Double Ratchet sending key so
// the wire protocol never needs to carry a separate ratchet key alongside
// the pre-key message.
func InitAsInitiator(root [32]byte, ad [64]byte, algo primitives.AEADAlgo, ourRatchetPriv primitives.X25519Private, ourRatchetPub primitives.X25519Public, peerInitialRatchetPub primitives.X25519Public) (*Session, error) {
	s, err := newSession(algo, ad)
	if err != nil {
		return nil, err
	}

	priv, pub := ourRatchetPriv, ourRatchetPub

	dh, err := primitives.DH(priv, peerInitialRatchetPub)
	if err != nil {
		return nil, err
	}
	newRK, sendCK, err := rootRatchet(root, dh[:])
	primitives.Wipe(dh[:])
	if err != nil {
		return nil, err
	}

	s.rootKey = newRK
	s.dhPriv, s.dhPub = priv, pub
	s.peerPub = peerInitialRatchetPub
	s.sendCK = &sendCK
	s.state = InitiatorOnly
	return s, nil
}

// InitAsResponder seeds the receiving chain from the root key, using ourDHPriv
// (the secret of the public the initiator ratcheted against: the signed
// pre-key in X3DH) DH'd against the initiator's ephemeral ratchet public —
// mirroring the teacher's InitAsResponder. The session starts Established.
func InitAsResponder(root [32]byte, ad [64]byte, algo primitives.AEADAlgo, ourDHPriv primitives.X25519Private, senderRatchetPub primitives.X25519Public) (*Session, error) {
	s, err := newSession(algo, ad)
	if err != nil {
		return nil, err
	}

	priv, pub, err := primitives.GenerateX25519()
	if err != nil {
		return nil, err
	}

	dh, err := primitives.DH(ourDHPriv, senderRatchetPub)
	if err != nil {
		return nil, err
	}
	newRK, recvCK, err := rootRatchet(root, dh[:])
	primitives.Wipe(dh[:])
	if err != nil {
		return nil, err
	}

	s.rootKey = newRK
	s.dhPriv, s.dhPub = priv, pub
	s.peerPub = senderRatchetPub
	s.recvCK = &recvCK
	s.state = Established
	return s, nil
}

// DHPub returns the session's current ratchet public key, for a caller that
// needs to bootstrap a peer session out of band (tests, or a responder that
// hasn't yet received an envelope to read the header from).
func (s *Session) DHPub() primitives.X25519Public {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dhPub
}

// State reports the session's current lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// EvictionCount reports how many skipped-message keys have been evicted
// under MaxSkip pressure, per the observability requirement in
// SPEC_FULL.md §4.4.
func (s *Session) EvictionCount() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.evictions
}

// Terminate transitions the session to Terminated. No further Encrypt or
// Decrypt calls succeed afterward.
func (s *Session) Terminate() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = Terminated
	primitives.Wipe(s.rootKey[:])
	if s.sendCK != nil {
		primitives.Wipe(s.sendCK[:])
	}
	if s.recvCK != nil {
		primitives.Wipe(s.recvCK[:])
	}
}

// Encrypt seals plaintext under the current sending chain, DH-ratcheting
// first if this is the responder's first send.
func (s *Session) Encrypt(plaintext []byte) (domain.RatchetHeader, []byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == Terminated {
		return domain.RatchetHeader{}, nil, errs.New(errs.InternalInvariant, "session terminated")
	}

	if s.sendCK == nil {
		priv, pub, err := primitives.GenerateX25519()
		if err != nil {
			return domain.RatchetHeader{}, nil, err
		}
		dh, err := primitives.DH(priv, s.peerPub)
		if err != nil {
			return domain.RatchetHeader{}, nil, err
		}
		newRK, sendCK, err := rootRatchet(s.rootKey, dh[:])
		primitives.Wipe(dh[:])
		if err != nil {
			return domain.RatchetHeader{}, nil, err
		}
		s.pn = s.ns
		s.ns = 0
		s.rootKey = newRK
		s.dhPriv, s.dhPub = priv, pub
		s.sendCK = &sendCK
	}

	mk, nextCK := primitives.ChainRatchetStep(s.sendCK[:])
	primitives.Wipe(s.sendCK[:])
	*s.sendCK = nextCK

	header := domain.RatchetHeader{DHPublic: s.dhPub, PreviousChainLength: s.pn, MessageIndex: s.ns}

	nonce, err := primitives.RandomNonce(s.aead.NonceSize())
	if err != nil {
		return domain.RatchetHeader{}, nil, err
	}
	ct, err := s.aead.Seal(mk[:], nonce, plaintext, s.headerAD(header))
	primitives.Wipe(mk[:])
	if err != nil {
		return domain.RatchetHeader{}, nil, err
	}
	// Prepend nonce so Decrypt has everything it needs from one blob; the
	// envelope codec is responsible for the canonical wire layout, this is
	// just what this package hands back.
	out := make([]byte, 0, len(nonce)+len(ct))
	out = append(out, nonce...)
	out = append(out, ct...)

	s.ns++
	// Sending never changes the state: the initiator leaves InitiatorOnly for
	// Established only by successfully decrypting an inbound message, per
	// SPEC_FULL.md §4.4.
	return header, out, nil
}

// Decrypt opens an incoming envelope, performing the DH ratchet or a
// skipped-key lookup as needed. On any failure — including AEAD tag
// failure — the session is left exactly as it was: every derived key past
// the skipped-cache lookup is staged in locals and only written back to s
// once the final AEAD open below succeeds.
func (s *Session) Decrypt(header domain.RatchetHeader, sealed []byte) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == Terminated {
		return nil, errs.New(errs.InternalInvariant, "session terminated")
	}
	nonceSize := s.aead.NonceSize()
	if len(sealed) < nonceSize {
		return nil, errs.New(errs.InvalidEncoding, "ciphertext shorter than nonce")
	}
	nonce, ciphertext := sealed[:nonceSize], sealed[nonceSize:]

	// The skipped-key cache is keyed by whatever ratchet public was current
	// when each key was cached, which can be stale relative to s.peerPub
	// after a later DH ratchet: this lookup must run first and
	// unconditionally, never gated on the session's current peer key.
	// The cached key is removed only after the open succeeds, so a tampered
	// envelope cannot destroy the key its genuine counterpart still needs.
	if elem, ok := s.skipped[skippedKey{peer: header.DHPublic, n: header.MessageIndex}]; ok {
		mk := elem.Value.(*skippedEntry).key
		pt, err := s.aead.Open(mk[:], nonce, ciphertext, s.headerAD(header))
		primitives.Wipe(mk[:])
		if err != nil {
			return nil, errs.Wrap(errs.CryptoVerification, "AEAD open failed", err)
		}
		used, _ := s.takeSkipped(header.DHPublic, header.MessageIndex)
		primitives.Wipe(used[:])
		return pt, nil
	}

	// Same chain, index already passed and not found above: it was either
	// already consumed or is a replay, never a legitimate gap to skip
	// forward through.
	if header.DHPublic == s.peerPub && header.MessageIndex < s.nr {
		return nil, errs.New(errs.ChainOrdering, "replayed or stale message index")
	}

	rootKey := s.rootKey
	dhPriv, dhPub := s.dhPriv, s.dhPub
	peerPub := s.peerPub
	sendCK := copyChainKey(s.sendCK)
	recvCK := copyChainKey(s.recvCK)
	ns, nr, pn := s.ns, s.nr, s.pn
	var pending []skippedEntry

	if header.DHPublic != peerPub {
		if s.state != Established && s.state != InitiatorOnly {
			return nil, errs.New(errs.InternalInvariant, "inbound DH ratchet requires an initialized session")
		}
		entries, newRecvCK, newNr, err := skipRange(recvCK, peerPub, nr, header.PreviousChainLength)
		if err != nil {
			return nil, err
		}
		pending = append(pending, entries...)
		recvCK, nr = newRecvCK, newNr

		dh, err := primitives.DH(dhPriv, header.DHPublic)
		if err != nil {
			return nil, err
		}
		rk2, recvChainKey, err := rootRatchet(rootKey, dh[:])
		primitives.Wipe(dh[:])
		if err != nil {
			return nil, err
		}

		newPriv, newPub, err := primitives.GenerateX25519()
		if err != nil {
			return nil, err
		}
		dh2, err := primitives.DH(newPriv, header.DHPublic)
		if err != nil {
			return nil, err
		}
		rk3, sendChainKey, err := rootRatchet(rk2, dh2[:])
		primitives.Wipe(dh2[:])
		if err != nil {
			return nil, err
		}

		pn = ns
		ns, nr = 0, 0
		rootKey = rk3
		dhPriv, dhPub = newPriv, newPub
		peerPub = header.DHPublic
		sendCK, recvCK = &sendChainKey, &recvChainKey
	}

	if header.MessageIndex > nr {
		entries, newRecvCK, newNr, err := skipRange(recvCK, peerPub, nr, header.MessageIndex)
		if err != nil {
			return nil, err
		}
		pending = append(pending, entries...)
		recvCK, nr = newRecvCK, newNr
	}
	if recvCK == nil {
		return nil, errs.New(errs.InternalInvariant, "receiving chain uninitialized")
	}

	mk, nextCK := primitives.ChainRatchetStep(recvCK[:])
	pt, err := s.aead.Open(mk[:], nonce, ciphertext, s.headerAD(header))
	primitives.Wipe(mk[:])
	if err != nil {
		for i := range pending {
			primitives.Wipe(pending[i].key[:])
		}
		return nil, errs.Wrap(errs.CryptoVerification, "AEAD open failed", err)
	}

	// Open succeeded: commit the staged state.
	s.rootKey = rootKey
	s.dhPriv, s.dhPub = dhPriv, dhPub
	s.peerPub = peerPub
	s.sendCK = sendCK
	s.ns, s.pn = ns, pn
	for _, e := range pending {
		s.storeSkipped(e.peer, e.n, e.key)
	}
	*recvCK = nextCK
	s.recvCK = recvCK
	s.nr = header.MessageIndex + 1
	s.state = Established
	return pt, nil
}

func copyChainKey(ck *[32]byte) *[32]byte {
	if ck == nil {
		return nil
	}
	v := *ck
	return &v
}

// skipRange derives message keys for chain indices [from, target) without
// touching any session state, so a caller that ultimately fails to open the
// triggering message can discard them instead of caching keys for messages
// that were never actually authenticated.
func skipRange(chain *[32]byte, peer primitives.X25519Public, from, target uint32) ([]skippedEntry, *[32]byte, uint32, error) {
	if chain == nil {
		return nil, nil, from, nil
	}
	if uint64(target-from) > MaxSkip {
		return nil, nil, from, errs.New(errs.TooManySkippedKeys, "gap exceeds MaxSkip")
	}
	ck := *chain
	var entries []skippedEntry
	for from < target {
		mk, nextCK := primitives.ChainRatchetStep(ck[:])
		entries = append(entries, skippedEntry{peer: peer, n: from, key: mk})
		ck = nextCK
		from++
	}
	return entries, &ck, from, nil
}

func (s *Session) storeSkipped(peer primitives.X25519Public, n uint32, key [32]byte) {
	if uint64(len(s.skipped)) >= MaxSkip {
		s.evictOldest()
	}
	entry := &skippedEntry{peer: peer, n: n, key: key}
	elem := s.skipOrder.PushBack(entry)
	s.skipped[skippedKey{peer: peer, n: n}] = elem
}

func (s *Session) evictOldest() {
	front := s.skipOrder.Front()
	if front == nil {
		return
	}
	entry := front.Value.(*skippedEntry)
	primitives.Wipe(entry.key[:])
	delete(s.skipped, skippedKey{peer: entry.peer, n: entry.n})
	s.skipOrder.Remove(front)
	s.evictions++
}

func (s *Session) takeSkipped(peer primitives.X25519Public, n uint32) ([32]byte, bool) {
	elem, ok := s.skipped[skippedKey{peer: peer, n: n}]
	if !ok {
		return [32]byte{}, false
	}
	entry := elem.Value.(*skippedEntry)
	key := entry.key
	delete(s.skipped, skippedKey{peer: peer, n: n})
	s.skipOrder.Remove(elem)
	return key, true
}

// Snapshot is the exported, serializable form of a Session, for a caller
// that needs to persist ratchet state across process restarts the way the
// teacher's RatchetFileStore persists a whole domain.Conversation.
type Snapshot struct {
	State     State
	Algo      primitives.AEADAlgo
	AD        [64]byte
	RootKey   [32]byte
	DHPriv    primitives.X25519Private
	DHPub     primitives.X25519Public
	PeerPub   primitives.X25519Public
	SendCK    *[32]byte
	RecvCK    *[32]byte
	Ns, Nr    uint32
	Pn        uint32
	Skipped   []SkippedEntry
	Evictions uint64
}

// SkippedEntry is the exported form of a cached skipped-message key.
type SkippedEntry struct {
	Peer primitives.X25519Public
	N    uint32
	Key  [32]byte
}

// Export snapshots the session's full state for persistence.
func (s *Session) Export() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	skipped := make([]SkippedEntry, 0, s.skipOrder.Len())
	for e := s.skipOrder.Front(); e != nil; e = e.Next() {
		entry := e.Value.(*skippedEntry)
		skipped = append(skipped, SkippedEntry{Peer: entry.peer, N: entry.n, Key: entry.key})
	}
	return Snapshot{
		State: s.state, Algo: s.aead.Algo(), AD: s.ad, RootKey: s.rootKey,
		DHPriv: s.dhPriv, DHPub: s.dhPub, PeerPub: s.peerPub,
		SendCK: s.sendCK, RecvCK: s.recvCK,
		Ns: s.ns, Nr: s.nr, Pn: s.pn,
		Skipped: skipped, Evictions: s.evictions,
	}
}

// Import restores a session previously produced by Export.
func Import(snap Snapshot) (*Session, error) {
	s, err := newSession(snap.Algo, snap.AD)
	if err != nil {
		return nil, err
	}
	s.state = snap.State
	s.rootKey = snap.RootKey
	s.dhPriv, s.dhPub = snap.DHPriv, snap.DHPub
	s.peerPub = snap.PeerPub
	s.sendCK, s.recvCK = snap.SendCK, snap.RecvCK
	s.ns, s.nr, s.pn = snap.Ns, snap.Nr, snap.Pn
	s.evictions = snap.Evictions
	for _, entry := range snap.Skipped {
		e := &skippedEntry{peer: entry.Peer, n: entry.N, key: entry.Key}
		elem := s.skipOrder.PushBack(e)
		s.skipped[skippedKey{peer: e.peer, n: e.n}] = elem
	}
	return s, nil
}

func (s *Session) headerAD(h domain.RatchetHeader) []byte {
	out := make([]byte, 0, len(s.ad)+40)
	out = append(out, s.ad[:]...)
	out = append(out, h.DHPublic[:]...)
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], h.PreviousChainLength)
	out = append(out, b[:]...)
	binary.BigEndian.PutUint32(b[:], h.MessageIndex)
	out = append(out, b[:]...)
	return out
}

// rootRatchet performs the root ratchet: HKDF-SHA512(salt=rootKey,
// ikm=dhOutput, info="QiyasHash_v1_RootKey", len=64), split 32|32 into
// (new root key, new chain key), per SPEC_FULL.md §4.4.
func rootRatchet(rootKey [32]byte, dh []byte) (newRoot [32]byte, chainKey [32]byte, err error) {
	out, err := primitives.HKDFSHA512(rootKey[:], dh, rootInfo, 64)
	if err != nil {
		return newRoot, chainKey, err
	}
	copy(newRoot[:], out[:32])
	copy(chainKey[:], out[32:])
	primitives.Wipe(out)
	return newRoot, chainKey, nil
}
