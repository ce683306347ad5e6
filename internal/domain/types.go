// Package domain holds the shared value types passed between this module's
// protocol packages: identifiers, pre-key bundles, ratchet headers,
// envelopes, and the chain-state link. It has no behavior of its own; the
// protocol packages (x3dh, ratchet, envelope, chainstate, fragment,
// identity) own the operations that act on these types.
package domain

import (
	"encoding/base64"
	"encoding/json"

	"qiyashash/internal/primitives"
)

// SignedPreKeyID and OneTimePreKeyID are 32-bit, monotonically increasing,
// and never wrap (see SPEC_FULL.md §9 resolution 3).
type SignedPreKeyID uint32
type OneTimePreKeyID uint32

// PeerID names a session's remote party. This module does not care what a
// caller uses for it (username, node ID, DHT key) as long as it is a stable
// string.
type PeerID string

// OneTimePreKeyPair is a locally held one-time pre-key.
type OneTimePreKeyPair struct {
	ID   OneTimePreKeyID
	Priv primitives.X25519Private
	Pub  primitives.X25519Public
}

// OneTimePreKeyPublic is the public half published in a bundle.
type OneTimePreKeyPublic struct {
	ID  OneTimePreKeyID
	Pub primitives.X25519Public
}

// PreKeyBundle is the set of public material a peer publishes so others can
// run X3DH against them asynchronously.
type PreKeyBundle struct {
	Peer                  PeerID
	IdentityKey           primitives.X25519Public
	SigningKey            primitives.Ed25519Public
	SignedPreKeyID        SignedPreKeyID
	SignedPreKey          primitives.X25519Public
	SignedPreKeySignature []byte
	OneTimePreKeys        []OneTimePreKeyPublic
}

type preKeyBundleJSON struct {
	Peer                  PeerID                `json:"peer"`
	IdentityKey           [32]byte              `json:"identity_key"`
	SigningKey            [32]byte              `json:"signing_key"`
	SignedPreKeyID        SignedPreKeyID        `json:"signed_pre_key_id"`
	SignedPreKey          [32]byte              `json:"signed_pre_key"`
	SignedPreKeySignature string                `json:"signed_pre_key_signature"`
	OneTimePreKeys        []OneTimePreKeyPublic `json:"one_time_pre_keys,omitempty"`
}

// MarshalJSON base64-encodes the signature, matching the teacher's
// PrekeyBundle marshaling convention for fixed-size byte arrays and
// variable-length signature blobs.
func (b PreKeyBundle) MarshalJSON() ([]byte, error) {
	return json.Marshal(preKeyBundleJSON{
		Peer:                  b.Peer,
		IdentityKey:           b.IdentityKey,
		SigningKey:            b.SigningKey,
		SignedPreKeyID:        b.SignedPreKeyID,
		SignedPreKey:          b.SignedPreKey,
		SignedPreKeySignature: base64.StdEncoding.EncodeToString(b.SignedPreKeySignature),
		OneTimePreKeys:        b.OneTimePreKeys,
	})
}

func (b *PreKeyBundle) UnmarshalJSON(data []byte) error {
	var raw preKeyBundleJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	sig, err := base64.StdEncoding.DecodeString(raw.SignedPreKeySignature)
	if err != nil {
		return err
	}
	b.Peer = raw.Peer
	b.IdentityKey = raw.IdentityKey
	b.SigningKey = raw.SigningKey
	b.SignedPreKeyID = raw.SignedPreKeyID
	b.SignedPreKey = raw.SignedPreKey
	b.SignedPreKeySignature = sig
	b.OneTimePreKeys = raw.OneTimePreKeys
	return nil
}

// PreKeyMessage carries the X3DH handshake parameters attached to an
// initiator's first envelope.
type PreKeyMessage struct {
	InitiatorIdentityKey primitives.X25519Public
	EphemeralKey         primitives.X25519Public
	SignedPreKeyID       SignedPreKeyID
	OneTimePreKeyID      OneTimePreKeyID
	HasOneTimePreKey     bool
	TranscriptSHA256     [32]byte
}

// RatchetHeader is the cleartext associated-data header carried on every
// ratcheted message.
type RatchetHeader struct {
	DHPublic            primitives.X25519Public
	PreviousChainLength uint32
	MessageIndex        uint32
}

// Envelope is a complete on-wire message: an optional pre-key message (only
// present on an initiator's first send), the ratchet header, the negotiated
// AEAD algorithm, nonce, ciphertext, and the sender's chain-state anchor.
type Envelope struct {
	From                PeerID
	To                  PeerID
	PreKey              *PreKeyMessage
	Header              RatchetHeader
	AEADAlgo            primitives.AEADAlgo
	Nonce               []byte
	Ciphertext          []byte
	ChainAnchor         [32]byte
	TimestampCommitment [32]byte
	Timestamp           int64
}
