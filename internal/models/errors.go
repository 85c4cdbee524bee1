package models

import "errors"

// Domain error kinds. All are user-facing and recoverable; anything that
// does not match one of these is an infrastructure failure.
var (
	ErrInvalidInput       = errors.New("invalid input")
	ErrUnknownSymbol      = errors.New("unknown symbol")
	ErrInsufficientFunds  = errors.New("insufficient funds")
	ErrInsufficientShares = errors.New("insufficient shares")
	ErrUsernameTaken      = errors.New("username taken")
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrUserNotFound       = errors.New("user not found")

	// ErrQuoteUnavailable marks a read that needed a price for a held symbol
	// and could not get one. It outranks the cause's kind.
	ErrQuoteUnavailable = errors.New("quote unavailable")
)

var errorKinds = []struct {
	err  error
	kind string
}{
	{ErrQuoteUnavailable, "quote_unavailable"},
	{ErrInvalidInput, "invalid_input"},
	{ErrUnknownSymbol, "unknown_symbol"},
	{ErrInsufficientFunds, "insufficient_funds"},
	{ErrInsufficientShares, "insufficient_shares"},
	{ErrUsernameTaken, "username_taken"},
	{ErrInvalidCredentials, "invalid_credentials"},
	{ErrUserNotFound, "user_not_found"},
}

// ErrorKind returns the snake_case kind name for a domain error, or
// "internal" for anything else.
func ErrorKind(err error) string {
	if err == nil {
		return ""
	}
	for _, k := range errorKinds {
		if errors.Is(err, k.err) {
			return k.kind
		}
	}
	return "internal"
}

// IsDomainError reports whether err wraps one of the domain kinds.
func IsDomainError(err error) bool {
	k := ErrorKind(err)
	return k != "" && k != "internal"
}
