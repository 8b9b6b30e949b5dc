package bid

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Bid represents an accepted bid on an auction. Bids are append-only.
type Bid struct {
	ID        uuid.UUID       `json:"id"`
	AuctionID uuid.UUID       `json:"auction_id"`
	BidderID  uuid.UUID       `json:"bidder_id"`
	Amount    decimal.Decimal `json:"amount"`
	Timestamp time.Time       `json:"timestamp"`
}

// IsValid returns true if the bid amount is valid (greater than 0)
func (b *Bid) IsValid() bool {
	return b.Amount.IsPositive()
}

// Outbids reports whether b ranks above other: a higher amount wins, and on
// equal amounts the earlier bid wins.
func (b *Bid) Outbids(other *Bid) bool {
	if other == nil {
		return true
	}
	if cmp := b.Amount.Cmp(other.Amount); cmp != 0 {
		return cmp > 0
	}
	return b.Timestamp.Before(other.Timestamp)
}

// Highest returns the winning bid of the given set, or nil when it is empty.
func Highest(bids []*Bid) *Bid {
	var highest *Bid
	for _, b := range bids {
		if b == nil {
			continue
		}
		if b.Outbids(highest) {
			highest = b
		}
	}
	return highest
}
