package shared

import (
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// ConcludeResult describes what a conclude invocation did to an auction.
type ConcludeResult struct {
	AuctionID   uuid.UUID
	Status      string
	WinnerID    *uuid.UUID
	FinalPrice  *decimal.Decimal
	Changed     bool
	Rescheduled bool
}

// SettlementResult describes the outcome of a settlement attempt.
type SettlementResult struct {
	AuctionID     uuid.UUID
	PaymentStatus string
	Captured      bool
	GatewayCalled bool
	Err           error
}
