package biddingerrors

import "errors"

// Repository-level errors
var (
	ErrAuctionNotFound = errors.New("auction not found")
	ErrNoBids          = errors.New("no bids found for auction")
	ErrItemNotFound    = errors.New("search item not found")
)

// business logic errors
var (
	ErrInvalidAuction   = errors.New("invalid auction")
	ErrAuctionFinalized = errors.New("auction already finalized")
	ErrAuctionClosed    = errors.New("auction is not accepting bids")
	ErrNotSeller        = errors.New("caller is not the seller")
	ErrInvalidBid       = errors.New("invalid bid")
)

// Delivery and consistency failures. Every error produced while handling a
// lifecycle event falls into one of these classes.
var (
	// ErrUnprocessable marks a message that can never be applied. It is parked, not retried.
	ErrUnprocessable = errors.New("unprocessable message")
	// ErrTransient marks store or bus unavailability; the unit of work is retried.
	ErrTransient = errors.New("transient infrastructure failure")
	// ErrConflict marks a lost compare-and-swap. Callers skip the unit of work.
	ErrConflict = errors.New("conflicting write")
	// ErrInvariant marks data that breaks a domain invariant but has a deterministic fallback.
	ErrInvariant = errors.New("logic invariant violation")
)

// IsRetryable reports whether redelivering the failed unit of work can succeed.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	return !errors.Is(err, ErrUnprocessable)
}
