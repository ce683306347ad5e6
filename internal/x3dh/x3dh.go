// Package x3dh implements the Extended Triple Diffie-Hellman handshake:
// deriving a shared root key from an initiator's ephemeral key and a
// responder's published pre-key bundle, asynchronously and without either
// party needing to be online at the same time.
package x3dh

import (
	"crypto/sha256"
	"encoding/binary"

	"qiyashash/internal/domain"
	"qiyashash/internal/errs"
	"qiyashash/internal/primitives"
)

var (
	hkdfSalt = bytesOf(0xFF, 32)
	rootInfo = []byte("QiyasHash_v1_RootKey")
)

func bytesOf(b byte, n int) []byte {
	out := make([]byte, n)
	for i := range out {
		out[i] = b
	}
	return out
}

// Result is the outcome of a successful handshake on either side: the
// derived root key and the associated-data prefix for the ratchet.
// InitiatorRoot returns the initiator's ephemeral private key separately,
// for the caller to pass into ratchet.InitAsInitiator.
type Result struct {
	RootKey [32]byte
	AD      [64]byte
}

// InitiatorRoot runs the initiator side of X3DH against a responder's
// published bundle. ourIdentity is the initiator's own long-term identity.
// It returns the derived root key/AD along with the ephemeral private key
// (its public half is the message's EphemeralKey) and the PreKeyMessage to
// attach to the first envelope.
func InitiatorRoot(
	ourEdIdentity primitives.Ed25519Public,
	ourXIdentityPriv primitives.X25519Private,
	ourXIdentityPub primitives.X25519Public,
	bundle domain.PreKeyBundle,
) (Result, primitives.X25519Private, domain.PreKeyMessage, error) {
	var zero Result

	if !primitives.VerifyEd25519(bundle.SigningKey, bundle.SignedPreKey.Slice(), bundle.SignedPreKeySignature) {
		return zero, primitives.X25519Private{}, domain.PreKeyMessage{},
			errs.New(errs.InvalidBundle, "signed pre-key signature does not verify")
	}

	ephPriv, ephPub, err := primitives.GenerateX25519()
	if err != nil {
		return zero, primitives.X25519Private{}, domain.PreKeyMessage{}, errs.Wrap(errs.InternalInvariant, "generate ephemeral key", err)
	}

	dh1, err := primitives.DH(ourXIdentityPriv, bundle.SignedPreKey)
	if err != nil {
		return zero, primitives.X25519Private{}, domain.PreKeyMessage{}, errs.Wrap(errs.InternalInvariant, "DH1", err)
	}
	dh2, err := primitives.DH(ephPriv, bundle.IdentityKey)
	if err != nil {
		return zero, primitives.X25519Private{}, domain.PreKeyMessage{}, errs.Wrap(errs.InternalInvariant, "DH2", err)
	}
	dh3, err := primitives.DH(ephPriv, bundle.SignedPreKey)
	if err != nil {
		return zero, primitives.X25519Private{}, domain.PreKeyMessage{}, errs.Wrap(errs.InternalInvariant, "DH3", err)
	}

	msg := domain.PreKeyMessage{
		InitiatorIdentityKey: ourXIdentityPub,
		EphemeralKey:         ephPub,
		SignedPreKeyID:       bundle.SignedPreKeyID,
	}

	dhConcat := make([]byte, 0, 32*4)
	dhConcat = append(dhConcat, dh1[:]...)
	dhConcat = append(dhConcat, dh2[:]...)
	dhConcat = append(dhConcat, dh3[:]...)

	if len(bundle.OneTimePreKeys) > 0 {
		otk := bundle.OneTimePreKeys[0]
		dh4, err := primitives.DH(ephPriv, otk.Pub)
		if err != nil {
			return zero, primitives.X25519Private{}, domain.PreKeyMessage{}, errs.Wrap(errs.InternalInvariant, "DH4", err)
		}
		dhConcat = append(dhConcat, dh4[:]...)
		msg.OneTimePreKeyID = otk.ID
		msg.HasOneTimePreKey = true
	}
	defer primitives.Wipe(dhConcat)

	root, err := primitives.HKDFSHA512(hkdfSalt, dhConcat, rootInfo, 32)
	if err != nil {
		return zero, primitives.X25519Private{}, domain.PreKeyMessage{}, errs.Wrap(errs.InternalInvariant, "HKDF", err)
	}

	msg.TranscriptSHA256 = transcriptHash(ourXIdentityPub, ephPub, bundle)

	res := Result{AD: buildAD(ourEdIdentity, bundle.SigningKey)}
	copy(res.RootKey[:], root)
	primitives.Wipe(root)

	return res, ephPriv, msg, nil
}

// ResponderRoot runs the responder side of X3DH. signedPreKeyPriv and
// oneTimePreKeyPriv (nil if the message asserted none) are the secrets the
// pre-key store looked up and, for the one-time key, atomically consumed
// before this call — consumption must happen before this call returns
// success up the stack, per the durable-before-reported rule in
// SPEC_FULL.md §4.2.
func ResponderRoot(
	ourEdIdentity primitives.Ed25519Public,
	ourXIdentityPriv primitives.X25519Private,
	signedPreKeyPriv primitives.X25519Private,
	oneTimePreKeyPriv *primitives.X25519Private,
	msg domain.PreKeyMessage,
	initiatorSigningKey primitives.Ed25519Public,
) (Result, error) {
	var zero Result

	dh1, err := primitives.DH(signedPreKeyPriv, msg.InitiatorIdentityKey)
	if err != nil {
		return zero, errs.Wrap(errs.InternalInvariant, "DH1", err)
	}
	dh2, err := primitives.DH(ourXIdentityPriv, msg.EphemeralKey)
	if err != nil {
		return zero, errs.Wrap(errs.InternalInvariant, "DH2", err)
	}
	dh3, err := primitives.DH(signedPreKeyPriv, msg.EphemeralKey)
	if err != nil {
		return zero, errs.Wrap(errs.InternalInvariant, "DH3", err)
	}

	dhConcat := make([]byte, 0, 32*4)
	dhConcat = append(dhConcat, dh1[:]...)
	dhConcat = append(dhConcat, dh2[:]...)
	dhConcat = append(dhConcat, dh3[:]...)

	if msg.HasOneTimePreKey {
		if oneTimePreKeyPriv == nil {
			return zero, errs.New(errs.ReplayedOneTimeKey, "initiator asserted a one-time pre-key that is no longer available")
		}
		dh4, err := primitives.DH(*oneTimePreKeyPriv, msg.EphemeralKey)
		if err != nil {
			return zero, errs.Wrap(errs.InternalInvariant, "DH4", err)
		}
		dhConcat = append(dhConcat, dh4[:]...)
	}
	defer primitives.Wipe(dhConcat)

	root, err := primitives.HKDFSHA512(hkdfSalt, dhConcat, rootInfo, 32)
	if err != nil {
		return zero, errs.Wrap(errs.InternalInvariant, "HKDF", err)
	}

	res := Result{AD: buildAD(initiatorSigningKey, ourEdIdentity)}
	copy(res.RootKey[:], root)
	primitives.Wipe(root)
	return res, nil
}

func buildAD(initiatorEd, responderEd primitives.Ed25519Public) (ad [64]byte) {
	copy(ad[:32], initiatorEd[:])
	copy(ad[32:], responderEd[:])
	return
}

func transcriptHash(initiatorX primitives.X25519Public, eph primitives.X25519Public, bundle domain.PreKeyBundle) [32]byte {
	h := sha256.New()
	h.Write(initiatorX[:])
	h.Write(eph[:])
	h.Write(bundle.IdentityKey[:])
	h.Write(bundle.SignedPreKey[:])
	var idBuf [4]byte
	binary.BigEndian.PutUint32(idBuf[:], uint32(bundle.SignedPreKeyID))
	h.Write(idBuf[:])
	var out [32]byte
	copy(out[:], h.Sum(nil))
	return out
}
