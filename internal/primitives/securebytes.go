package primitives

import "runtime"

// SecureBytes is a fixed-purpose secret buffer that always gets zeroed,
// either explicitly via Zero or, failing that, best-effort when the value is
// garbage collected. It generalizes the teacher's freestanding Wipe helper
// into a type so key material can't be forgotten by a caller that never
// calls the helper.
type SecureBytes struct {
	b []byte
}

// NewSecureBytes takes ownership of b (it is not copied) and arranges for it
// to be wiped.
func NewSecureBytes(b []byte) *SecureBytes {
	s := &SecureBytes{b: b}
	runtime.SetFinalizer(s, func(s *SecureBytes) { s.Zero() })
	return s
}

func (s *SecureBytes) Bytes() []byte { return s.b }

// Zero overwrites the buffer with zeroes. Safe to call more than once.
//
//go:noinline
func (s *SecureBytes) Zero() {
	if s == nil {
		return
	}
	for i := range s.b {
		s.b[i] = 0
	}
	runtime.KeepAlive(s.b)
}

// Wipe zeroes b in place. Kept as a free function for the common case of
// zeroing a stack- or map-owned buffer that never needed a SecureBytes
// wrapper.
//
//go:noinline
func Wipe(b []byte) {
	for i := range b {
		b[i] = 0
	}
	runtime.KeepAlive(&b)
}
