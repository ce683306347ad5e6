package primitives

import (
	"crypto/ed25519"
	"crypto/rand"
	"crypto/sha512"

	"golang.org/x/crypto/curve25519"
)

// X25519Private is a clamped Curve25519 scalar.
type X25519Private [32]byte

// X25519Public is a Curve25519 point.
type X25519Public [32]byte

// Ed25519Private is a full Ed25519 signing key (seed || public key, as
// crypto/ed25519 represents it).
type Ed25519Private [64]byte

// Ed25519Public is an Ed25519 verification key.
type Ed25519Public [32]byte

func (k X25519Private) Slice() []byte { return k[:] }
func (k X25519Public) Slice() []byte  { return k[:] }
func (k Ed25519Private) Slice() []byte { return k[:] }
func (k Ed25519Public) Slice() []byte  { return k[:] }

// GenerateX25519 returns a fresh Curve25519 key pair, clamped per RFC 7748.
func GenerateX25519() (priv X25519Private, pub X25519Public, err error) {
	if _, err = rand.Read(priv[:]); err != nil {
		return
	}
	clamp(&priv)
	pb, err := curve25519.X25519(priv.Slice(), curve25519.Basepoint)
	if err != nil {
		return
	}
	copy(pub[:], pb)
	return
}

// DerivePublic computes the Curve25519 public key for an existing private
// scalar without modifying the stored scalar (curve25519.X25519 applies RFC
// 7748 clamping internally). Used for scalars that already exist (an
// unwrapped identity, imported test vectors), unlike GenerateX25519 which
// clamps freshly generated randomness before storing it.
func DerivePublic(priv X25519Private) (X25519Public, error) {
	pb, err := curve25519.X25519(priv.Slice(), curve25519.Basepoint)
	if err != nil {
		return X25519Public{}, err
	}
	var pub X25519Public
	copy(pub[:], pb)
	return pub, nil
}

// DH computes the X25519 shared secret between priv and pub. curve25519.X25519
// allocates its own return slice; that copy of the shared secret is wiped
// once it has been copied into the caller's [32]byte, rather than left for
// the GC to collect on its own schedule.
func DH(priv X25519Private, pub X25519Public) ([32]byte, error) {
	var out [32]byte
	secret, err := curve25519.X25519(priv.Slice(), pub.Slice())
	if err != nil {
		return out, err
	}
	copy(out[:], secret)
	Wipe(secret)
	return out, nil
}

func clamp(k *X25519Private) {
	kb := k[:]
	kb[0] &= 248
	kb[31] &= 127
	kb[31] |= 64
}

// GenerateEd25519 returns a new Ed25519 signing key pair. crypto/ed25519
// hands back its own freshly-allocated private-key slice; once its bytes are
// copied into priv, that duplicate is wiped so only the caller's copy of the
// signing key remains live.
func GenerateEd25519() (priv Ed25519Private, pub Ed25519Public, err error) {
	pk, sk, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return priv, pub, err
	}
	copy(priv[:], sk)
	copy(pub[:], pk)
	Wipe(sk)
	return priv, pub, nil
}

// SignEd25519 signs msg with priv.
func SignEd25519(priv Ed25519Private, msg []byte) []byte {
	return ed25519.Sign(ed25519.PrivateKey(priv[:]), msg)
}

// VerifyEd25519 verifies sig over msg with pub.
func VerifyEd25519(pub Ed25519Public, msg, sig []byte) bool {
	return ed25519.Verify(ed25519.PublicKey(pub[:]), msg, sig)
}

// EdToX converts an Ed25519 key pair to its Curve25519 equivalent, per the
// standard birational map (RFC 8032 §5.1.4-style edwards-to-montgomery
// conversion, applied here via clamped hash of the seed as the teacher's
// crypto package assumed callers would do at the identity layer). Only the
// private half needs the map; the public half is derived by scalar mult, as
// with any X25519 key.
func EdToX(priv Ed25519Private) (X25519Private, X25519Public, error) {
	seed := priv[:32]
	h := sha512.Sum512(seed)
	var xpriv X25519Private
	copy(xpriv[:], h[:32])
	clamp(&xpriv)
	Wipe(h[:])
	pub, err := curve25519.X25519(xpriv.Slice(), curve25519.Basepoint)
	if err != nil {
		return xpriv, X25519Public{}, err
	}
	var xpub X25519Public
	copy(xpub[:], pub)
	return xpriv, xpub, nil
}
