// Package errs defines the closed error taxonomy shared by every protocol
// package in this module. Callers distinguish failure classes with
// errors.As against Kind rather than sentinel identity, since a single
// operation (e.g. ratchet.Decrypt) can fail for more than one Kind and the
// teacher's plain sentinel-error idiom has no way to express that closed
// set.
package errs

import "fmt"

// Kind is a closed taxonomy of failure classes. New values are never added
// silently: every Kind here corresponds to a named failure mode.
type Kind string

const (
	InvalidBundle             Kind = "invalid_bundle"
	ReplayedOneTimeKey        Kind = "replayed_one_time_key"
	CryptoVerification        Kind = "crypto_verification"
	TooManySkippedKeys        Kind = "too_many_skipped_keys"
	ChainOrdering             Kind = "chain_ordering"
	FragmentUnreconstructible Kind = "fragment_unreconstructible"
	InvalidEncoding           Kind = "invalid_encoding"
	InternalInvariant         Kind = "internal_invariant"
)

// Error wraps a Kind with a secret-free message and an optional cause.
// Error() never includes key material, plaintext, or passphrases; callers
// that need more context should inspect Kind, not the string.
type Error struct {
	Kind    Kind
	Message string
	Cause   error
}

func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

func Wrap(kind Kind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, Cause: cause}
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

// Is reports whether target is an *Error with the same Kind, so
// errors.Is(err, errs.New(errs.ChainOrdering, "")) works for call sites that
// only care about the class of failure.
func (e *Error) Is(target error) bool {
	other, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Kind == other.Kind
}

// Of extracts the Kind from err, returning ok=false if err is nil or not one
// of ours.
func Of(err error) (Kind, bool) {
	var e *Error
	if err == nil {
		return "", false
	}
	if ae, ok := err.(*Error); ok {
		e = ae
	} else {
		return "", false
	}
	return e.Kind, true
}
