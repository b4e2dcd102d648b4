package ledger

import "errors"

// Per-order outcomes; none of these are process-fatal.
var (
	ErrInsufficientFunds    = errors.New("insufficient funds")
	ErrBalanceLockingFailed = errors.New("balance locking failed")
	ErrUserNotFound         = errors.New("user not found")
	ErrBalanceNotFound      = errors.New("balance not found")
	ErrInvalidSymbol        = errors.New("invalid symbol")
)

// ErrAccountsFull rejects a registration once the preallocated account
// table is exhausted; the table is a hard operational limit.
var ErrAccountsFull = errors.New("account table at capacity")

// ErrReservationUnderflow marks a settlement that would drive a reserved
// balance negative. It indicates an upstream invariant violation and is
// reported, never clamped.
var ErrReservationUnderflow = errors.New("reservation underflow")
