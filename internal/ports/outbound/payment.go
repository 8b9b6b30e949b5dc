package outbound

import (
	"context"

	"github.com/shopspring/decimal"
)

// PaymentGateway is the adapter to the external payment processor.
// Implementations must honour ctx deadlines.
type PaymentGateway interface {
	// CreateHold authorizes amount against the bidder's payment method and
	// returns the processor's reference for the hold
	CreateHold(ctx context.Context, bidderRef string, amount decimal.Decimal) (string, error)

	// Capture charges a previously authorized hold
	Capture(ctx context.Context, holdRef string) error

	// Cancel releases a hold without charging it
	Cancel(ctx context.Context, holdRef string) error
}
