package market

import "errors"

var (
	// ErrUnauthorized is returned when the caller is not the role required
	// for the operation on this purchase.
	ErrUnauthorized = errors.New("market: unauthorized caller")
	// ErrInvalidState is returned when the purchase is not in a state the
	// operation is valid from.
	ErrInvalidState = errors.New("market: operation not allowed in current state")
	// ErrValueMismatch is returned when the attached payment does not exactly
	// equal the required price or stake.
	ErrValueMismatch = errors.New("market: attached value does not match required amount")
	// ErrTimeoutNotElapsed is returned when a timeout operation is invoked
	// before the configured duration has strictly passed.
	ErrTimeoutNotElapsed = errors.New("market: timeout not yet elapsed")
	// ErrCommitmentMismatch is returned when a revealed bit/nonce pair does
	// not hash to the stored commitment.
	ErrCommitmentMismatch = errors.New("market: revealed value does not match commitment")
	// ErrPurchaseNotFound is returned when no purchase exists for the
	// identifier.
	ErrPurchaseNotFound = errors.New("market: purchase not found")
	// ErrListingNotFound is returned when no catalog entry exists for the
	// item identifier.
	ErrListingNotFound = errors.New("market: listing not found")
	// ErrPurchaseExists is returned when a derived purchase identifier
	// collides with an existing record. Identifiers are derived from the
	// request timestamp and buyer, so two requests by the same buyer within
	// the same timestamp granularity collide; the collision is surfaced
	// instead of silently overwriting the earlier purchase.
	ErrPurchaseExists = errors.New("market: purchase identifier already exists")
	// ErrInsufficientBalance is returned when the paying account cannot
	// cover the attached value.
	ErrInsufficientBalance = errors.New("market: insufficient balance")
	// ErrNoCommitment is returned when a reveal arrives for a purchase that
	// never stored a commitment.
	ErrNoCommitment = errors.New("market: no commitment stored")

	errNilState = errors.New("market engine: state not configured")
)
