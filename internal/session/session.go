// Package session composes X3DH, the Double Ratchet, the envelope codec,
// and the chain-state proof into the full message send/receive flow a
// caller actually wants: run the handshake once, then encrypt and decrypt
// ordinary messages against a peer without touching the lower-level
// protocol packages directly.
//
// Grounded on the teacher's internal/services/session.Service (handshake
// orchestration against a relay and a session store) and internal/app.App
// (dependency wiring), generalized from a fixed relay/file-store pair to
// the collab.Directory/Persistence interfaces.
package session

import (
	"context"
	"encoding/binary"
	"encoding/json"

	"qiyashash/internal/chainstate"
	"qiyashash/internal/collab"
	"qiyashash/internal/domain"
	"qiyashash/internal/envelope"
	"qiyashash/internal/errs"
	"qiyashash/internal/prekeystore"
	"qiyashash/internal/primitives"
	"qiyashash/internal/ratchet"
	"qiyashash/internal/x3dh"
)

// Session is an established conversation with one peer: a Double Ratchet
// session plus the hash-chain proof over everything sent and received.
type Session struct {
	Peer  domain.PeerID
	Algo  primitives.AEADAlgo
	Chain *chainstate.Chain

	ratchet *ratchet.Session
}

// StartInitiator runs X3DH against peer's published bundle, verifying the
// bundle's signature and using the bundle's first one-time pre-key if it
// offers one, then establishes the Double Ratchet session and its chain-state
// genesis. It returns the session and the pre-key message the peer needs to
// respond, which the caller attaches to its first outgoing envelope.
func StartInitiator(
	ctx context.Context,
	ourEdPub primitives.Ed25519Public,
	ourXPriv primitives.X25519Private,
	ourXPub primitives.X25519Public,
	algo primitives.AEADAlgo,
	dir collab.Directory,
	peer domain.PeerID,
) (*Session, domain.PreKeyMessage, error) {
	bundle, err := dir.FetchBundle(ctx, peer)
	if err != nil {
		return nil, domain.PreKeyMessage{}, err
	}

	result, ephPriv, preKeyMsg, err := x3dh.InitiatorRoot(ourEdPub, ourXPriv, ourXPub, bundle)
	if err != nil {
		return nil, domain.PreKeyMessage{}, err
	}

	rs, err := ratchet.InitAsInitiator(result.RootKey, result.AD, algo, ephPriv, preKeyMsg.EphemeralKey, bundle.SignedPreKey)
	if err != nil {
		return nil, domain.PreKeyMessage{}, err
	}

	fingerprint := primitives.FullFingerprint(append(append([]byte{}, ourXPub[:]...), bundle.IdentityKey[:]...))
	chain := chainstate.New(chainstate.Genesis(fingerprint))

	return &Session{Peer: peer, Algo: algo, Chain: chain, ratchet: rs}, preKeyMsg, nil
}

// StartResponder consumes the pre-key message attached to an initiator's
// first envelope, deriving the same root key via X3DH and establishing the
// receiving half of the Double Ratchet session.
func StartResponder(
	ourEdPub primitives.Ed25519Public,
	ourXPriv primitives.X25519Private,
	signedPreKeyPriv primitives.X25519Private,
	prekeys *prekeystore.Store,
	algo primitives.AEADAlgo,
	peer domain.PeerID,
	initiatorSigningKey primitives.Ed25519Public,
	msg domain.PreKeyMessage,
) (*Session, error) {
	var otkPriv *primitives.X25519Private
	if msg.HasOneTimePreKey {
		priv, err := prekeys.ConsumeOneTimePreKey(context.Background(), msg.OneTimePreKeyID)
		if err != nil {
			return nil, err
		}
		otkPriv = &priv
	}

	result, err := x3dh.ResponderRoot(ourEdPub, ourXPriv, signedPreKeyPriv, otkPriv, msg, initiatorSigningKey)
	if err != nil {
		return nil, err
	}

	rs, err := ratchet.InitAsResponder(result.RootKey, result.AD, algo, signedPreKeyPriv, msg.EphemeralKey)
	if err != nil {
		return nil, err
	}

	ourXPub, err := primitives.DerivePublic(ourXPriv)
	if err != nil {
		return nil, err
	}
	fingerprint := primitives.FullFingerprint(append(append([]byte{}, msg.InitiatorIdentityKey[:]...), ourXPub[:]...))
	chain := chainstate.New(chainstate.Genesis(fingerprint))

	return &Session{Peer: peer, Algo: algo, Chain: chain, ratchet: rs}, nil
}

// Encrypt seals plaintext under the ratchet, extends the chain-state proof
// over it, and returns a fully encoded on-wire envelope ready for a
// Transport. preKey should be non-nil only for an initiator's first send.
//
// timestamp is prepended to plaintext before ratchet sealing rather than
// carried in the envelope's cleartext: the wire format only exposes
// TimestampCommitment (see envelope.TimestampCommitment) to avoid leaking
// wall-clock time to anyone but the session's other party, so the receiver
// must recover the same timestamp from the authenticated plaintext to keep
// both directions' chain-state links in sync.
func (s *Session) Encrypt(from domain.PeerID, preKey *domain.PreKeyMessage, plaintext []byte, timestamp int64) ([]byte, error) {
	payload := make([]byte, 8+len(plaintext))
	binary.BigEndian.PutUint64(payload[:8], uint64(timestamp))
	copy(payload[8:], plaintext)

	header, ciphertext, err := s.ratchet.Encrypt(payload)
	if err != nil {
		return nil, err
	}

	link, err := s.Chain.Append(hashMessage(ciphertext), timestamp)
	if err != nil {
		return nil, err
	}

	commitment, _, err := envelope.TimestampCommitment(timestamp)
	if err != nil {
		return nil, err
	}

	nonceSize, _ := aeadNonceSize(s.Algo)
	nonce := ciphertext[:nonceSize]
	sealed := ciphertext[nonceSize:]

	env := domain.Envelope{
		From:                from,
		To:                  s.Peer,
		PreKey:              preKey,
		Header:              header,
		AEADAlgo:            s.Algo,
		Nonce:               nonce,
		Ciphertext:          sealed,
		ChainAnchor:         link.State,
		TimestampCommitment: commitment,
		Timestamp:           timestamp,
	}
	return envelope.Encode(env)
}

// Decrypt decodes a wire envelope, opens it under the ratchet, and extends
// the receiver's own chain-state proof to match. The returned sender is the
// session's Peer, since the wire format carries no sender identity. The timestamp used for the
// chain-state link is recovered from the ratchet-authenticated payload (see
// Encrypt), not from the envelope's cleartext, which never carries it.
func (s *Session) Decrypt(wire []byte) (domain.PeerID, []byte, error) {
	env, err := envelope.Decode(wire)
	if err != nil {
		return "", nil, err
	}

	sealed := append(append([]byte(nil), env.Nonce...), env.Ciphertext...)
	payload, err := s.ratchet.Decrypt(env.Header, sealed)
	if err != nil {
		return "", nil, err
	}
	if len(payload) < 8 {
		return "", nil, errs.New(errs.InvalidEncoding, "decrypted payload missing embedded timestamp")
	}
	timestamp := int64(binary.BigEndian.Uint64(payload[:8]))
	plaintext := payload[8:]

	if _, err := s.Chain.Append(hashMessage(sealed), timestamp); err != nil {
		return "", nil, err
	}

	return s.Peer, plaintext, nil
}

func hashMessage(ciphertext []byte) [32]byte {
	return primitives.FullFingerprint(ciphertext)
}

func aeadNonceSize(algo primitives.AEADAlgo) (int, error) {
	aead, err := primitives.NewAEAD(algo)
	if err != nil {
		return 0, err
	}
	return aead.NonceSize(), nil
}

// MarshalBundle is a convenience for CLI wiring: it JSON-encodes a bundle
// the way the demonstration commands persist it locally.
func MarshalBundle(b domain.PreKeyBundle) ([]byte, error) { return json.Marshal(b) }

// record is the on-disk form of a Session, mirroring the teacher's
// domain.Conversation (peer plus ratchet state) so a session survives
// across separate CLI invocations.
type record struct {
	Peer  domain.PeerID
	Algo  primitives.AEADAlgo
	Chain chainstate.Snapshot
	Ratch ratchet.Snapshot
}

// Save persists the session under key in db, for a caller (the CLI) that
// runs one command per process and needs the session to outlive it.
func (s *Session) Save(ctx context.Context, db collab.Persistence, key string) error {
	rec := record{Peer: s.Peer, Algo: s.Algo, Chain: s.Chain.Export(), Ratch: s.ratchet.Export()}
	data, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	return db.SaveBlob(ctx, key, data)
}

// Load restores a session previously written by Save. ok is false if no
// session is stored under key.
func Load(ctx context.Context, db collab.Persistence, key string) (*Session, bool, error) {
	data, ok, err := db.LoadBlob(ctx, key)
	if err != nil || !ok {
		return nil, ok, err
	}
	var rec record
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, false, err
	}
	rs, err := ratchet.Import(rec.Ratch)
	if err != nil {
		return nil, false, err
	}
	chain := chainstate.Import(rec.Chain)
	return &Session{Peer: rec.Peer, Algo: rec.Algo, Chain: chain, ratchet: rs}, true, nil
}
