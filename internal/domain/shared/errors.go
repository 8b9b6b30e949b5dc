package shared

import "errors"

// Error categories. Every domain error below belongs to exactly one of them,
// so callers can branch with errors.Is(err, shared.ErrStateConflict).
var (
	ErrValidation        = errors.New("validation error")
	ErrStateConflict     = errors.New("state conflict")
	ErrTransient         = errors.New("transient infrastructure error")
	ErrFinancialMismatch = errors.New("irrecoverable financial mismatch")
)

// DomainError is a sentinel error tagged with its category.
type DomainError struct {
	Kind error
	Msg  string
}

func (e *DomainError) Error() string {
	return e.Msg
}

// Is reports whether target is this error's category.
func (e *DomainError) Is(target error) bool {
	return target == e.Kind
}

func newError(kind error, msg string) error {
	return &DomainError{Kind: kind, Msg: msg}
}

// Domain-specific errors
var (
	// Auction errors
	ErrAuctionNotFound      = newError(ErrValidation, "auction not found")
	ErrAuctionNotActive     = newError(ErrValidation, "auction is not accepting bids")
	ErrAuctionClosed        = newError(ErrValidation, "auction end time has passed")
	ErrAuctionNotEditable   = newError(ErrValidation, "only draft auctions can be changed")
	ErrInvalidStartTime     = newError(ErrValidation, "start time must be in the future")
	ErrInvalidEndTime       = newError(ErrValidation, "end time must be after start time")
	ErrInvalidStartingPrice = newError(ErrValidation, "starting price must be greater than 0")
	ErrInvalidBidIncrement  = newError(ErrValidation, "bid increment must be greater than 0")
	ErrInvalidReservePrice  = newError(ErrValidation, "reserve price cannot be below the starting price")
	ErrInvalidExtension     = newError(ErrValidation, "new end time must be later than the current end time")

	// Bid errors
	ErrBidAmountInvalid   = newError(ErrValidation, "bid amount must be greater than 0")
	ErrAmountPrecision    = newError(ErrValidation, "amounts cannot have more than 2 decimal places")
	ErrBidBelowMinimum    = newError(ErrValidation, "bid amount is below the minimum next bid")
	ErrSellerCannotBid    = newError(ErrValidation, "sellers cannot bid on their own auction")
	ErrPaymentHoldFailed  = newError(ErrValidation, "payment hold could not be created")
	ErrBidConflict        = newError(ErrStateConflict, "auction changed while the bid was being placed, retry")
	ErrNoBidsFound        = errors.New("no bids found")
	ErrHoldNotFound       = errors.New("payment hold not found")
	ErrHoldAlreadyExists  = newError(ErrStateConflict, "bidder already holds a payment hold for this auction")
	ErrHoldStatusConflict = newError(ErrStateConflict, "payment hold changed concurrently")

	// Lifecycle errors
	ErrInvalidTransition  = newError(ErrStateConflict, "auction is not in a state that allows this transition")
	ErrTransitionConflict = newError(ErrStateConflict, "auction changed concurrently during a transition")
	ErrStartNotReached    = newError(ErrStateConflict, "auction start date has not been reached")
	ErrEndDateExtended    = newError(ErrStateConflict, "auction end date is later than the current time")

	// Scheduler errors
	ErrNoHandler         = errors.New("no handler registered for job type")
	ErrJobTargetRequired = newError(ErrValidation, "job requires a target auction")

	// Payment errors
	ErrGatewayUnavailable = newError(ErrTransient, "payment gateway unavailable")
	ErrGatewayDeclined    = errors.New("payment gateway declined the request")
	ErrHoldMissing        = newError(ErrFinancialMismatch, "winner has no capturable payment hold")
	ErrCaptureFailed      = newError(ErrFinancialMismatch, "payment capture failed after the winner was declared")
	ErrCaptureUnconfirmed = newError(ErrFinancialMismatch, "a previous capture of the winner's hold has no recorded outcome")

	// Database errors
	ErrDatabaseConnection  = newError(ErrTransient, "database connection failed")
	ErrDatabaseTransaction = newError(ErrTransient, "database transaction failed")

	// WebSocket message validation errors
	ErrMessageTypeRequired        = newError(ErrValidation, "message type is required")
	ErrAuctionIDRequired          = newError(ErrValidation, "auction_id is required")
	ErrInvalidAmount              = newError(ErrValidation, "valid amount is required")
	ErrUnknownMessageType         = newError(ErrValidation, "unknown message type")
	ErrClientEventChannelNotFound = errors.New("client event channel not found")
)

// IsValidation reports whether err should be surfaced to the caller as-is.
func IsValidation(err error) bool {
	return errors.Is(err, ErrValidation)
}

// IsStateConflict reports whether err is a benign stale-state signal.
func IsStateConflict(err error) bool {
	return errors.Is(err, ErrStateConflict)
}
