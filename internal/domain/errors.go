package domain

import "errors"

// Transfer engine failures. Each maps to a distinct HTTP response category
// so clients can decide whether a retry makes sense.
var (
	ErrSenderNotFound      = errors.New("sender not found")
	ErrReceiverNotFound    = errors.New("receiver not found")
	ErrInsufficientBalance = errors.New("insufficient balance")
	ErrInvalidAmount       = errors.New("invalid amount")
	ErrSameAccount         = errors.New("cannot transfer to own account")

	// ErrDuplicateKey means the ledger's uniqueness constraint rejected an
	// insert: another request with the same idempotency key (or reference)
	// already holds the row.
	ErrDuplicateKey = errors.New("duplicate idempotency key")

	// ErrLockTimeout and ErrStoreUnavailable are transient; the caller may
	// retry with the same idempotency key.
	ErrLockTimeout      = errors.New("lock acquisition timed out")
	ErrStoreUnavailable = errors.New("store unavailable")
)

// Store-level lookups and user plumbing.
var (
	ErrAccountNotFound    = errors.New("account not found")
	ErrUserNotFound       = errors.New("user not found")
	ErrEmailTaken         = errors.New("email already registered")
	ErrAccountNumberTaken = errors.New("account number already in use")
)
