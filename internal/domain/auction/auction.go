package auction

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Status represents the current lifecycle status of an auction
type Status string

const (
	StatusDraft         Status = "draft"
	StatusApproved      Status = "approved"
	StatusActive        Status = "active"
	StatusReserveNotMet Status = "reserve_not_met"
	StatusEnded         Status = "ended"
	StatusSold          Status = "sold"
	StatusCancelled     Status = "cancelled"
)

// IsTerminal reports whether no further lifecycle transition is expected.
func (s Status) IsTerminal() bool {
	switch s {
	case StatusSold, StatusEnded, StatusCancelled, StatusReserveNotMet:
		return true
	}
	return false
}

// PaymentStatus tracks settlement of the winning bidder's hold.
type PaymentStatus string

const (
	PaymentStatusNone    PaymentStatus = "none"
	PaymentStatusPending PaymentStatus = "pending"
	PaymentStatusPaid    PaymentStatus = "paid"
	PaymentStatusFailed  PaymentStatus = "failed"
)

// IsSettled reports whether settlement already reached a final answer.
func (p PaymentStatus) IsSettled() bool {
	return p == PaymentStatusPaid || p == PaymentStatusFailed
}

// Attribute is a free-text name/value pair describing the listed item.
type Attribute struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// Specifications holds the typed item metadata of a listing.
type Specifications struct {
	Condition  string      `json:"condition,omitempty"`
	Brand      string      `json:"brand,omitempty"`
	Model      string      `json:"model,omitempty"`
	Year       int         `json:"year,omitempty"`
	Attributes []Attribute `json:"attributes,omitempty"`
}

// Auction represents a timed ascending auction for a single listing
type Auction struct {
	ID                 uuid.UUID           `json:"id"`
	SellerID           uuid.UUID           `json:"seller_id"`
	Title              string              `json:"title"`
	Category           string              `json:"category"`
	Specifications     Specifications      `json:"specifications"`
	StartPrice         decimal.Decimal     `json:"start_price"`
	BidIncrement       decimal.Decimal     `json:"bid_increment"`
	ReservePrice       decimal.NullDecimal `json:"reserve_price"`
	StartDate          time.Time           `json:"start_date"`
	EndDate            time.Time           `json:"end_date"`
	CurrentPrice       decimal.Decimal     `json:"current_price"`
	CurrentBidderID    *uuid.UUID          `json:"current_bidder_id,omitempty"`
	BidCount           int                 `json:"bid_count"`
	Status             Status              `json:"status"`
	WinnerID           *uuid.UUID          `json:"winner_id,omitempty"`
	FinalPrice         decimal.NullDecimal `json:"final_price"`
	PaymentStatus      PaymentStatus       `json:"payment_status"`
	EndingSoonNotified bool                `json:"ending_soon_notified"`
	CreatedAt          time.Time           `json:"created_at"`
	UpdatedAt          time.Time           `json:"updated_at"`
}

// IsActive returns true if the auction is currently active
func (a *Auction) IsActive() bool {
	return a.Status == StatusActive
}

// IsTerminal returns true if the auction reached a final status
func (a *Auction) IsTerminal() bool {
	return a.Status.IsTerminal()
}

// IsEditable returns true while the listing may still be changed by its seller
func (a *Auction) IsEditable() bool {
	return a.Status == StatusDraft
}

// CanBid returns true if a bid placed at now may be accepted
func (a *Auction) CanBid(now time.Time) bool {
	return a.Status == StatusActive && now.Before(a.EndDate)
}

// HasReserve returns true if the seller set a reserve price
func (a *Auction) HasReserve() bool {
	return a.ReservePrice.Valid
}

// MinimumNextBid returns the lowest amount the next bid may carry.
func (a *Auction) MinimumNextBid() decimal.Decimal {
	if a.BidCount == 0 {
		return a.StartPrice
	}
	return a.CurrentPrice.Add(a.BidIncrement)
}

// Clone returns a deep copy that shares no pointers with a.
func (a *Auction) Clone() *Auction {
	if a == nil {
		return nil
	}
	c := *a
	if a.CurrentBidderID != nil {
		id := *a.CurrentBidderID
		c.CurrentBidderID = &id
	}
	if a.WinnerID != nil {
		id := *a.WinnerID
		c.WinnerID = &id
	}
	if a.Specifications.Attributes != nil {
		c.Specifications.Attributes = append([]Attribute(nil), a.Specifications.Attributes...)
	}
	return &c
}
