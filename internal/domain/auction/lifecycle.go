package auction

import (
	"time"

	"troffee-auction-engine/internal/domain/bid"
	"troffee-auction-engine/internal/domain/shared"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Outcome is the decision of a lifecycle transition. It is computed without
// side effects; Apply writes it onto an auction.
type Outcome struct {
	From       Status
	To         Status
	WinnerID   *uuid.UUID
	FinalPrice decimal.NullDecimal
	WinningBid *bid.Bid
}

// Changed reports whether the outcome moves the auction to another status.
func (o Outcome) Changed() bool {
	return o.From != o.To
}

// Apply writes the outcome onto a. Sold auctions enter the pending payment state.
func (o Outcome) Apply(a *Auction, now time.Time) {
	if !o.Changed() {
		return
	}
	a.Status = o.To
	a.WinnerID = o.WinnerID
	a.FinalPrice = o.FinalPrice
	if o.To == StatusSold {
		a.PaymentStatus = PaymentStatusPending
	}
	a.UpdatedAt = now
}

// Activate decides the approved -> active transition.
//
// Activating an auction that is already active or terminal is a no-op. A draft
// auction yields ErrInvalidTransition and an early call yields
// ErrStartNotReached so the caller can reschedule.
func Activate(a *Auction, now time.Time) (Outcome, error) {
	noop := Outcome{From: a.Status, To: a.Status}

	switch {
	case a.Status == StatusActive || a.IsTerminal():
		return noop, nil
	case a.Status != StatusApproved:
		return noop, shared.ErrInvalidTransition
	case now.Before(a.StartDate):
		return noop, shared.ErrStartNotReached
	}

	return Outcome{From: StatusApproved, To: StatusActive}, nil
}

// Conclude decides how an auction ends given every bid it received.
//
// The highest bid wins, ties going to the earliest timestamp. Without bids the
// auction ends unsold; with a reserve that the highest bid does not reach it
// closes as reserve_not_met. Invoking Conclude on sold, ended or cancelled
// auctions is a no-op. If the end date moved past now the call returns
// ErrEndDateExtended and the end must be rescheduled.
func Conclude(a *Auction, bids []*bid.Bid, now time.Time) (Outcome, error) {
	noop := Outcome{From: a.Status, To: a.Status}

	switch a.Status {
	case StatusSold, StatusEnded, StatusCancelled:
		return noop, nil
	case StatusActive, StatusReserveNotMet:
	default:
		return noop, shared.ErrInvalidTransition
	}

	if now.Before(a.EndDate) {
		return noop, shared.ErrEndDateExtended
	}

	outcome := Outcome{From: a.Status}

	highest := bid.Highest(bids)
	switch {
	case highest == nil:
		outcome.To = StatusEnded
	case a.HasReserve() && highest.Amount.LessThan(a.ReservePrice.Decimal):
		outcome.To = StatusReserveNotMet
		outcome.WinningBid = highest
	default:
		winner := highest.BidderID
		outcome.To = StatusSold
		outcome.WinnerID = &winner
		outcome.FinalPrice = decimal.NewNullDecimal(highest.Amount)
		outcome.WinningBid = highest
	}

	return outcome, nil
}
