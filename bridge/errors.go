package bridge

import "errors"

var (
	// ErrUnsupportedRoute is returned for pairs outside of the configured
	// whitelist of 1:1 wrapped tokens.
	ErrUnsupportedRoute = errors.New("unsupported bridge route")
	ErrInvalidAmount    = errors.New("transfer amount must be positive")
	ErrInvalidAddress   = errors.New("malformed address")
	// ErrNotCancellable is returned on cancel attempts for transfers that
	// have already been committed to the source ledger.
	ErrNotCancellable = errors.New("transaction can no longer be cancelled")
)
