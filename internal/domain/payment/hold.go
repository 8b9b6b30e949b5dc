package payment

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// HoldStatus represents the state of a payment hold at the processor
type HoldStatus string

const (
	HoldStatusCreated    HoldStatus = "created"
	HoldStatusAuthorized HoldStatus = "authorized"
	HoldStatusCaptured   HoldStatus = "captured"
	HoldStatusCanceled   HoldStatus = "canceled"
	HoldStatusFailed     HoldStatus = "failed"
)

// Hold is a provisional charge reservation for a fixed commission, taken the
// first time a bidder bids on an auction.
type Hold struct {
	ID                  uuid.UUID       `json:"id"`
	AuctionID           uuid.UUID       `json:"auction_id"`
	BidderID            uuid.UUID       `json:"bidder_id"`
	Amount              decimal.Decimal `json:"amount"`
	Currency            string          `json:"currency"`
	ExternalReferenceID string          `json:"external_reference_id"`
	Status              HoldStatus      `json:"status"`
	ChargeAttempted     bool            `json:"charge_attempted"`
	ChargeSucceeded     bool            `json:"charge_succeeded"`
	CreatedAt           time.Time       `json:"created_at"`
	UpdatedAt           time.Time       `json:"updated_at"`
}

// IsCapturable returns true if the hold can still be turned into a charge
func (h *Hold) IsCapturable() bool {
	return h.Status == HoldStatusCreated || h.Status == HoldStatusAuthorized
}

// IsLive returns true while the hold occupies the bidder's slot on the auction
func (h *Hold) IsLive() bool {
	return h.IsCapturable() || h.Status == HoldStatusCaptured
}

// IsCaptured returns true once the commission was charged
func (h *Hold) IsCaptured() bool {
	return h.Status == HoldStatusCaptured
}

// MarkCaptureStarted records that a capture is about to be sent. It is stored
// before the gateway call.
func (h *Hold) MarkCaptureStarted(now time.Time) {
	h.ChargeAttempted = true
	h.UpdatedAt = now
}

// MarkCaptured records a successful capture
func (h *Hold) MarkCaptured(now time.Time) {
	h.Status = HoldStatusCaptured
	h.ChargeAttempted = true
	h.ChargeSucceeded = true
	h.UpdatedAt = now
}

// MarkCaptureFailed records a failed capture attempt, leaving the status as is
func (h *Hold) MarkCaptureFailed(now time.Time) {
	h.ChargeAttempted = true
	h.ChargeSucceeded = false
	h.UpdatedAt = now
}

// MarkCanceled records that the hold was released at the processor
func (h *Hold) MarkCanceled(now time.Time) {
	h.Status = HoldStatusCanceled
	h.UpdatedAt = now
}
