// Package chainstate implements the append-only per-session hash chain that
// lets two parties agree on the ordering and completeness of the messages
// they've exchanged, without a trusted third party. Each link recomputes a
// running hash over the previous link's state, the new message's hash, and
// a strictly non-decreasing timestamp — the same "recompute the running
// hash from the previous entry" shape as mutecomm-mute's hashchain package,
// adapted to the field layout SPEC_FULL.md §3/§4.6 specifies.
package chainstate

import (
	"crypto/sha256"
	"encoding/binary"
	"sync"

	"qiyashash/internal/errs"
)

var genesisDomainSeparator = []byte("QiyasHash_v1_ChainGenesis")

// LinkType classifies what produced a chain link, mirroring the kinds
// original_source's qiyashash-crypto chain.rs distinguishes (its
// ChainLinkType enum): an ordinary message advances the chain differently
// than an identity rotation or a deletion record does, even though both are
// links in the same append-only sequence.
type LinkType byte

const (
	LinkInit LinkType = iota
	LinkMessage
	LinkDeletion
	LinkIdentityRotation
	LinkReKey
)

func (t LinkType) String() string {
	switch t {
	case LinkInit:
		return "init"
	case LinkMessage:
		return "message"
	case LinkDeletion:
		return "deletion"
	case LinkIdentityRotation:
		return "identity-rotation"
	case LinkReKey:
		return "rekey"
	default:
		return "unknown"
	}
}

// Link is one entry in the chain.
type Link struct {
	State       [32]byte
	Type        LinkType
	MessageHash [32]byte
	Timestamp   int64
	Sequence    uint64
}

// Chain is a single session's append-only hash chain.
type Chain struct {
	mu    sync.Mutex
	links []Link
}

// Genesis derives state_0 from a fixed domain-separation string and the
// X3DH shared-secret fingerprint, per SPEC_FULL.md §3.
func Genesis(sharedSecretFingerprint [32]byte) [32]byte {
	h := sha256.New()
	h.Write(genesisDomainSeparator)
	h.Write(sharedSecretFingerprint[:])
	var out [32]byte
	copy(out[:], h.Sum(nil))
	return out
}

// New starts a chain at the given genesis state.
func New(genesis [32]byte) *Chain {
	return &Chain{links: []Link{{State: genesis, Type: LinkInit, Sequence: 0}}}
}

// Head returns the most recent link.
func (c *Chain) Head() Link {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.links[len(c.links)-1]
}

// Append records an ordinary message link. It is equivalent to calling
// AppendTyped(LinkMessage, messageHash, timestamp).
func (c *Chain) Append(messageHash [32]byte, timestamp int64) (Link, error) {
	return c.AppendTyped(LinkMessage, messageHash, timestamp)
}

// AppendTyped computes state_n = SHA256(state_{n-1} || link_type_n ||
// message_hash_n || be64(timestamp_n) || be64(sequence_n)) and appends the
// new link atomically. Timestamps must be non-decreasing; a regression is a
// protocol violation, not a network glitch, so it returns ChainOrdering
// rather than silently reordering.
func (c *Chain) AppendTyped(linkType LinkType, messageHash [32]byte, timestamp int64) (Link, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	prev := c.links[len(c.links)-1]
	if timestamp < prev.Timestamp {
		return Link{}, errs.New(errs.ChainOrdering, "timestamp regression")
	}

	seq := prev.Sequence + 1
	state := deriveState(prev.State, linkType, messageHash, timestamp, seq)
	link := Link{State: state, Type: linkType, MessageHash: messageHash, Timestamp: timestamp, Sequence: seq}
	c.links = append(c.links, link)
	return link, nil
}

func deriveState(prevState [32]byte, linkType LinkType, messageHash [32]byte, timestamp int64, sequence uint64) [32]byte {
	h := sha256.New()
	h.Write(prevState[:])
	h.Write([]byte{byte(linkType)})
	h.Write(messageHash[:])
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], uint64(timestamp))
	h.Write(b[:])
	binary.BigEndian.PutUint64(b[:], sequence)
	h.Write(b[:])
	var out [32]byte
	copy(out[:], h.Sum(nil))
	return out
}

// ProofStep is one (type, message hash, timestamp) tuple a verifier replays
// against a starting link to recompute a claimed terminal chain state.
type ProofStep struct {
	Type        LinkType
	MessageHash [32]byte
	Timestamp   int64
}

// VerifyProof recomputes the chain from a starting link through a claimed
// sequence of steps and compares the terminal state byte-for-byte against
// want.
func VerifyProof(from Link, steps []ProofStep, want [32]byte) bool {
	state := from.State
	seq := from.Sequence
	lastTS := from.Timestamp
	for _, step := range steps {
		if step.Timestamp < lastTS {
			return false
		}
		seq++
		state = deriveState(state, step.Type, step.MessageHash, step.Timestamp, seq)
		lastTS = step.Timestamp
	}
	return state == want
}

// Snapshot is the exported, serializable form of a Chain, for a caller that
// needs to persist the chain across process restarts.
type Snapshot struct {
	Links []Link
}

// Export snapshots the chain's full link history for persistence.
func (c *Chain) Export() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Snapshot{Links: append([]Link(nil), c.links...)}
}

// Import restores a chain previously produced by Export.
func Import(snap Snapshot) *Chain {
	return &Chain{links: append([]Link(nil), snap.Links...)}
}

// ExportProof serializes the full chain as a flat byte string a peer can
// independently re-verify with VerifyProof: for each link past genesis,
// type || message_hash || be64(timestamp).
func (c *Chain) ExportProof() []byte {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([]byte, 0, (len(c.links)-1)*41)
	for _, link := range c.links[1:] {
		out = append(out, byte(link.Type))
		out = append(out, link.MessageHash[:]...)
		var b [8]byte
		binary.BigEndian.PutUint64(b[:], uint64(link.Timestamp))
		out = append(out, b[:]...)
	}
	return out
}
