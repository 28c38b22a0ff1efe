// Package walleterr implements the wallet's error taxonomy: a closed set of
// kinds, typed errors carrying one, and Classify to map any error into the
// set. cmd/walletd's HTTP handlers do not call Classify; they report
// err.Error() as the response's error string.
package walleterr

import (
	"errors"
	"fmt"
)

// Kind is the closed error-category enum.
type Kind string

const (
	Api          Kind = "api"
	NotFound     Kind = "not_found"
	Unauthorized Kind = "unauthorized"
	Wallet       Kind = "wallet"
	Internal     Kind = "internal"
)

// Error is a typed, user-facing error: Kind decides how the RPC boundary
// presents it as a canonical error payload.
type Error struct {
	Kind   Kind
	Reason string
	Cause  error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Reason, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Reason)
}

func (e *Error) Unwrap() error { return e.Cause }

func New(kind Kind, reason string) *Error {
	return &Error{Kind: kind, Reason: reason}
}

func Wrap(kind Kind, reason string, cause error) *Error {
	return &Error{Kind: kind, Reason: reason, Cause: cause}
}

// Classify extracts the Kind of err if it (or something it wraps) is an
// *Error, defaulting to Internal: untyped failures (store, transport, TLS,
// crypto, OS) surface as Internal.
func Classify(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return Internal
}

var (
	ErrInsufficientFunds       = New(Wallet, "insufficient funds")
	ErrUnknownPublicKey        = New(Wallet, "unknown public key for required signature")
	ErrInvalidTradePrice       = New(Wallet, "invalid trade price")
	ErrDuplicateNftPayment     = New(Wallet, "duplicate requested payment for nft")
	ErrInvalidRequestedPayment = New(Wallet, "invalid requested payment")
)

// MissingAsset reports that an action referenced an asset hash the store
// has no row for.
func MissingAsset(hash string) *Error {
	return New(Wallet, fmt.Sprintf("missing asset %s", hash))
}

// MissingCoin reports that an action referenced a coin id the store has no
// row for.
func MissingCoin(id string) *Error {
	return New(Wallet, fmt.Sprintf("missing coin %s", id))
}
