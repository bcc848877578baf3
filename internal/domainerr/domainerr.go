// Package domainerr names the error kinds from the system's error taxonomy
// as sentinel, wrappable errors rather than as ad-hoc strings, so callers
// can branch on kind with errors.Is/errors.As instead of string matching.
package domainerr

import "errors"

// Kind is one entry in the error taxonomy. Only kinds that are ever
// surfaced to a caller (rather than absorbed locally) need a sentinel;
// NoData and ValidationReject, for instance, never escape their
// producing component and are represented as plain booleans/zero values
// instead.
type Kind int

const (
	KindUnknown Kind = iota
	KindNoPriceAvailable
	KindConfigMissing
	KindTransientChainError
	KindTerminalChainError
	KindIdempotencyConflict
)

// Error wraps an underlying cause with its taxonomy Kind.
type Error struct {
	Kind  Kind
	Cause error
}

func (e *Error) Error() string {
	if e.Cause == nil {
		return e.Kind.String()
	}
	return e.Kind.String() + ": " + e.Cause.Error()
}

func (e *Error) Unwrap() error { return e.Cause }

func (k Kind) String() string {
	switch k {
	case KindNoPriceAvailable:
		return "no_price_available"
	case KindConfigMissing:
		return "config_missing"
	case KindTransientChainError:
		return "transient_chain_error"
	case KindTerminalChainError:
		return "terminal_chain_error"
	case KindIdempotencyConflict:
		return "idempotency_conflict"
	default:
		return "unknown"
	}
}

// New constructs a taxonomy error.
func New(kind Kind, cause error) *Error {
	return &Error{Kind: kind, Cause: cause}
}

// Is reports whether err carries the given Kind.
func Is(err error, kind Kind) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind == kind
	}
	return false
}

// NoPriceAvailable, ConfigMissing, TransientChainError, TerminalChainError
// and IdempotencyConflict are convenience constructors for the kinds that
// are actually surfaced across a package boundary (spec §7).
func NoPriceAvailable(cause error) error    { return New(KindNoPriceAvailable, cause) }
func ConfigMissing(cause error) error       { return New(KindConfigMissing, cause) }
func TransientChainError(cause error) error { return New(KindTransientChainError, cause) }
func TerminalChainError(cause error) error  { return New(KindTerminalChainError, cause) }
func IdempotencyConflict(cause error) error { return New(KindIdempotencyConflict, cause) }
