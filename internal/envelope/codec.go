// Package envelope implements the canonical, length-prefixed binary wire
// format for QiyasHash envelopes: an optional pre-key message, the ratchet
// header, the negotiated AEAD algorithm, nonce, ciphertext, chain proof, and
// timestamp commitment, exactly as SPEC_FULL.md §6 lays the fields out.
package envelope

import (
	"bytes"
	"crypto/rand"
	"crypto/sha256"
	"encoding/binary"

	"qiyashash/internal/domain"
	"qiyashash/internal/errs"
	"qiyashash/internal/primitives"
)

// Magic identifies this module's wire format; Version is bumped on any
// incompatible format change.
var Magic = [4]byte{'Q', 'H', 'S', 'H'}

const Version byte = 0x01

const noOneTimePreKey uint32 = 0xFFFFFFFF

// TimestampCommitment computes SHA256("QiyasHash_Timestamp_v1" ||
// be64(timestamp) || random_16), per SPEC_FULL.md §4.6, to avoid leaking the
// exact wall-clock value on the wire while still letting a recipient bind
// the envelope to an approximate time window it's told out of band.
func TimestampCommitment(timestamp int64) ([32]byte, [16]byte, error) {
	var random16 [16]byte
	if _, err := rand.Read(random16[:]); err != nil {
		return [32]byte{}, random16, err
	}
	h := sha256.New()
	h.Write([]byte("QiyasHash_Timestamp_v1"))
	var ts [8]byte
	binary.BigEndian.PutUint64(ts[:], uint64(timestamp))
	h.Write(ts[:])
	h.Write(random16[:])
	var out [32]byte
	copy(out[:], h.Sum(nil))
	return out, random16, nil
}

// Encode serializes env into the canonical binary wire format.
func Encode(env domain.Envelope) ([]byte, error) {
	var buf bytes.Buffer
	buf.Write(Magic[:])
	buf.WriteByte(Version)

	if env.PreKey != nil {
		buf.WriteByte(1)
		buf.Write(env.PreKey.InitiatorIdentityKey[:])
		buf.Write(env.PreKey.EphemeralKey[:])
		var idBuf [4]byte
		binary.BigEndian.PutUint32(idBuf[:], uint32(env.PreKey.SignedPreKeyID))
		buf.Write(idBuf[:])
		otkID := noOneTimePreKey
		if env.PreKey.HasOneTimePreKey {
			otkID = uint32(env.PreKey.OneTimePreKeyID)
		}
		binary.BigEndian.PutUint32(idBuf[:], otkID)
		buf.Write(idBuf[:])
	} else {
		buf.WriteByte(0)
	}

	buf.Write(HeaderBytes(env.Header))

	buf.WriteByte(byte(env.AEADAlgo))
	buf.Write(env.Nonce)

	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(env.Ciphertext)))
	buf.Write(lenBuf[:])
	buf.Write(env.Ciphertext)

	buf.Write(env.ChainAnchor[:])
	buf.Write(env.TimestampCommitment[:])

	return buf.Bytes(), nil
}

// HeaderBytes returns the canonical 40-byte encoding of a ratchet header:
// 32 (dh_public) + 4 (PN) + 4 (N), with PN written before N (not N before
// PN). The ratchet's AEAD associated data uses the same byte layout, so any
// bit flip here fails decryption.
func HeaderBytes(h domain.RatchetHeader) []byte {
	out := make([]byte, 0, 40)
	out = append(out, h.DHPublic[:]...)
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], h.PreviousChainLength)
	out = append(out, b[:]...)
	binary.BigEndian.PutUint32(b[:], h.MessageIndex)
	out = append(out, b[:]...)
	return out
}

// Decode parses the canonical binary wire format, rejecting unknown
// versions, trailing bytes, or length fields inconsistent with the buffer.
func Decode(data []byte) (domain.Envelope, error) {
	var env domain.Envelope
	r := bytes.NewReader(data)

	var magic [4]byte
	if _, err := readFull(r, magic[:]); err != nil {
		return env, errs.Wrap(errs.InvalidEncoding, "short magic", err)
	}
	if magic != Magic {
		return env, errs.New(errs.InvalidEncoding, "bad magic")
	}
	version, err := r.ReadByte()
	if err != nil {
		return env, errs.Wrap(errs.InvalidEncoding, "missing version", err)
	}
	if version != Version {
		return env, errs.New(errs.InvalidEncoding, "unsupported version")
	}

	hasPreKey, err := r.ReadByte()
	if err != nil {
		return env, errs.Wrap(errs.InvalidEncoding, "missing pre-key flag", err)
	}
	if hasPreKey == 1 {
		pm := &domain.PreKeyMessage{}
		if _, err := readFull(r, pm.InitiatorIdentityKey[:]); err != nil {
			return env, errs.Wrap(errs.InvalidEncoding, "pre-key identity", err)
		}
		if _, err := readFull(r, pm.EphemeralKey[:]); err != nil {
			return env, errs.Wrap(errs.InvalidEncoding, "pre-key ephemeral", err)
		}
		var idBuf [4]byte
		if _, err := readFull(r, idBuf[:]); err != nil {
			return env, errs.Wrap(errs.InvalidEncoding, "signed pre-key id", err)
		}
		pm.SignedPreKeyID = domain.SignedPreKeyID(binary.BigEndian.Uint32(idBuf[:]))
		if _, err := readFull(r, idBuf[:]); err != nil {
			return env, errs.Wrap(errs.InvalidEncoding, "one-time pre-key id", err)
		}
		otk := binary.BigEndian.Uint32(idBuf[:])
		if otk != noOneTimePreKey {
			pm.HasOneTimePreKey = true
			pm.OneTimePreKeyID = domain.OneTimePreKeyID(otk)
		}
		env.PreKey = pm
	} else if hasPreKey != 0 {
		return env, errs.New(errs.InvalidEncoding, "invalid pre-key flag")
	}

	if _, err := readFull(r, env.Header.DHPublic[:]); err != nil {
		return env, errs.Wrap(errs.InvalidEncoding, "header dh_public", err)
	}
	var u32 [4]byte
	if _, err := readFull(r, u32[:]); err != nil {
		return env, errs.Wrap(errs.InvalidEncoding, "header PN", err)
	}
	env.Header.PreviousChainLength = binary.BigEndian.Uint32(u32[:])
	if _, err := readFull(r, u32[:]); err != nil {
		return env, errs.Wrap(errs.InvalidEncoding, "header N", err)
	}
	env.Header.MessageIndex = binary.BigEndian.Uint32(u32[:])

	algoByte, err := r.ReadByte()
	if err != nil {
		return env, errs.Wrap(errs.InvalidEncoding, "aead algo", err)
	}
	env.AEADAlgo = primitives.AEADAlgo(algoByte)
	aead, err := primitives.NewAEAD(env.AEADAlgo)
	if err != nil {
		return env, errs.Wrap(errs.InvalidEncoding, "unknown aead algo", err)
	}
	nonce := make([]byte, aead.NonceSize())
	if _, err := readFull(r, nonce); err != nil {
		return env, errs.Wrap(errs.InvalidEncoding, "nonce", err)
	}
	env.Nonce = nonce

	var ctLen [4]byte
	if _, err := readFull(r, ctLen[:]); err != nil {
		return env, errs.Wrap(errs.InvalidEncoding, "ciphertext length", err)
	}
	n := binary.BigEndian.Uint32(ctLen[:])
	ct := make([]byte, n)
	if _, err := readFull(r, ct); err != nil {
		return env, errs.Wrap(errs.InvalidEncoding, "ciphertext length inconsistent with buffer", err)
	}
	env.Ciphertext = ct

	if _, err := readFull(r, env.ChainAnchor[:]); err != nil {
		return env, errs.Wrap(errs.InvalidEncoding, "chain anchor", err)
	}
	if _, err := readFull(r, env.TimestampCommitment[:]); err != nil {
		return env, errs.Wrap(errs.InvalidEncoding, "timestamp commitment", err)
	}

	if r.Len() != 0 {
		return env, errs.New(errs.InvalidEncoding, "trailing bytes after envelope")
	}

	return env, nil
}

func readFull(r *bytes.Reader, buf []byte) (int, error) {
	n := 0
	for n < len(buf) {
		m, err := r.Read(buf[n:])
		n += m
		if err != nil {
			return n, err
		}
	}
	return n, nil
}
