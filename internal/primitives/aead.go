package primitives

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"

	"golang.org/x/crypto/chacha20poly1305"
)

// AEADAlgo identifies which negotiable AEAD cipher an envelope or ratchet
// session uses. The values match the wire algo byte.
type AEADAlgo byte

const (
	AlgoXChaCha20Poly1305 AEADAlgo = 0x01
	AlgoAES256GCM         AEADAlgo = 0x02
)

func (a AEADAlgo) String() string {
	switch a {
	case AlgoXChaCha20Poly1305:
		return "xchacha20poly1305"
	case AlgoAES256GCM:
		return "aes256gcm"
	default:
		return "unknown"
	}
}

// AEAD is the sealed-box interface every ratchet message key uses,
// regardless of the underlying algorithm.
type AEAD interface {
	Algo() AEADAlgo
	NonceSize() int
	Seal(key, nonce, plaintext, ad []byte) ([]byte, error)
	Open(key, nonce, ciphertext, ad []byte) ([]byte, error)
}

// NewAEAD returns the AEAD implementation for algo.
func NewAEAD(algo AEADAlgo) (AEAD, error) {
	switch algo {
	case AlgoXChaCha20Poly1305:
		return xchachaAEAD{}, nil
	case AlgoAES256GCM:
		return aesGCMAEAD{}, nil
	default:
		return nil, errUnknownAlgo
	}
}

// RandomNonce returns n cryptographically random bytes.
func RandomNonce(n int) ([]byte, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return nil, err
	}
	return b, nil
}

type xchachaAEAD struct{}

func (xchachaAEAD) Algo() AEADAlgo { return AlgoXChaCha20Poly1305 }
func (xchachaAEAD) NonceSize() int { return chacha20poly1305.NonceSizeX }

func (xchachaAEAD) Seal(key, nonce, plaintext, ad []byte) ([]byte, error) {
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, err
	}
	return aead.Seal(nil, nonce, plaintext, ad), nil
}

func (xchachaAEAD) Open(key, nonce, ciphertext, ad []byte) ([]byte, error) {
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, err
	}
	return aead.Open(nil, nonce, ciphertext, ad)
}

type aesGCMAEAD struct{}

func (aesGCMAEAD) Algo() AEADAlgo { return AlgoAES256GCM }
func (aesGCMAEAD) NonceSize() int { return 12 }

func (aesGCMAEAD) Seal(key, nonce, plaintext, ad []byte) ([]byte, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}
	return gcm.Seal(nil, nonce, plaintext, ad), nil
}

func (aesGCMAEAD) Open(key, nonce, ciphertext, ad []byte) ([]byte, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}
	return gcm.Open(nil, nonce, ciphertext, ad)
}
