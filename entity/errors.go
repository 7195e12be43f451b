package entity

import "errors"

// ErrTerminalStatus is returned on attempts to modify a transaction that has
// already reached a terminal status.
var ErrTerminalStatus = errors.New("transaction status is terminal")
