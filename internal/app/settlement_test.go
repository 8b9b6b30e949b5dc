package app

import (
	"context"
	"errors"
	"testing"
	"time"

	"troffee-auction-engine/internal/domain/auction"
	"troffee-auction-engine/internal/domain/payment"
	"troffee-auction-engine/internal/domain/shared"
	"troffee-auction-engine/internal/ports/outbound"

	"github.com/google/uuid"
	"github.com/peterldowns/testy/assert"
	"github.com/peterldowns/testy/check"
	"github.com/shopspring/decimal"
)

// soldAuction stores a sold auction won by winner, optionally with a hold
func soldAuction(t *testing.T, e *engine, winner uuid.UUID, holdStatus payment.HoldStatus) *auction.Auction {
	t.Helper()
	ctx := context.Background()

	a := e.activeAuction(t, decimal.NullDecimal{})
	a.Status = auction.StatusSold
	a.WinnerID = &winner
	a.FinalPrice = decimal.NewNullDecimal(decimal.NewFromInt(1500))
	a.PaymentStatus = auction.PaymentStatusPending
	assert.NoError(t, e.store.GetAuctionRepository().Create(ctx, a))

	if holdStatus != "" {
		ref, err := e.gateway.CreateHold(ctx, winner.String(), commission)
		assert.NoError(t, err)
		assert.NoError(t, e.store.GetPaymentHoldRepository().Create(ctx, &payment.Hold{
			ID:                  uuid.New(),
			AuctionID:           a.ID,
			BidderID:            winner,
			Amount:              commission,
			ExternalReferenceID: ref,
			Status:              holdStatus,
			CreatedAt:           t0,
		}))
	}
	return a
}

func TestSettle_CapturesOnce(t *testing.T) {
	ctx := context.Background()
	e := newEngine(t)
	winner := uuid.New()
	a := soldAuction(t, e, winner, payment.HoldStatusAuthorized)

	result, err := e.settlement.Settle(ctx, a.ID)
	assert.NoError(t, err)
	check.True(t, result.Captured)
	check.True(t, result.GatewayCalled)
	check.Equal(t, string(auction.PaymentStatusPaid), result.PaymentStatus)

	again, err := e.settlement.Settle(ctx, a.ID)
	assert.NoError(t, err)
	check.False(t, again.GatewayCalled)
	check.Equal(t, 1, e.gateway.Calls("capture"))

	hold, err := e.store.GetPaymentHoldRepository().GetLive(ctx, a.ID, winner)
	assert.NoError(t, err)
	check.Equal(t, payment.HoldStatusCaptured, hold.Status)
	check.True(t, hold.ChargeAttempted)
	check.True(t, hold.ChargeSucceeded)
}

func TestSettle_CapturedHoldSkipsGateway(t *testing.T) {
	ctx := context.Background()
	e := newEngine(t)
	a := soldAuction(t, e, uuid.New(), payment.HoldStatusCaptured)

	result, err := e.settlement.Settle(ctx, a.ID)
	assert.NoError(t, err)
	check.False(t, result.GatewayCalled)
	check.Equal(t, 0, e.gateway.Calls("capture"))
	check.Equal(t, auction.PaymentStatusPaid, e.get(t, a.ID).PaymentStatus)
}

func TestSettle_MissingHoldFails(t *testing.T) {
	tests := []struct {
		name   string
		status payment.HoldStatus
	}{
		{"no hold", ""},
		{"canceled hold", payment.HoldStatusCanceled},
		{"failed hold", payment.HoldStatusFailed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			e := newEngine(t)
			a := soldAuction(t, e, uuid.New(), tt.status)

			result, err := e.settlement.Settle(ctx, a.ID)
			check.True(t, errors.Is(err, shared.ErrHoldMissing))
			check.True(t, errors.Is(err, shared.ErrFinancialMismatch))
			check.Equal(t, string(auction.PaymentStatusFailed), result.PaymentStatus)
			check.Equal(t, 0, e.gateway.Calls("capture"))

			stored := e.get(t, a.ID)
			check.Equal(t, auction.StatusSold, stored.Status)
			check.Equal(t, auction.PaymentStatusFailed, stored.PaymentStatus)
		})
	}
}

func TestSettle_CaptureFailureLeavesAuditTrail(t *testing.T) {
	ctx := context.Background()
	e := newEngine(t)
	winner := uuid.New()
	a := soldAuction(t, e, winner, payment.HoldStatusAuthorized)
	e.gateway.SetFailures(nil, shared.ErrGatewayUnavailable, nil)

	result, err := e.settlement.Settle(ctx, a.ID)
	check.True(t, errors.Is(err, shared.ErrCaptureFailed))
	check.True(t, result.GatewayCalled)

	stored := e.get(t, a.ID)
	check.Equal(t, auction.StatusSold, stored.Status)
	check.Equal(t, auction.PaymentStatusFailed, stored.PaymentStatus)

	hold, err := e.store.GetPaymentHoldRepository().GetLive(ctx, a.ID, winner)
	assert.NoError(t, err)
	check.Equal(t, payment.HoldStatusAuthorized, hold.Status)
	check.True(t, hold.ChargeAttempted)
	check.False(t, hold.ChargeSucceeded)

	check.Equal(t, []outbound.NotificationKind{outbound.NotificationPaymentFailed}, e.notifier.For(winner))
	check.Equal(t, []outbound.EventType{outbound.EventTypePaymentFailed}, e.publisher.Types())

	// no capture retry once the failure is recorded
	_, err = e.settlement.Settle(ctx, a.ID)
	assert.NoError(t, err)
	check.Equal(t, 1, e.gateway.Calls("capture"))
}

type slowGateway struct {
	outbound.PaymentGateway
}

func (g slowGateway) Capture(ctx context.Context, holdRef string) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(time.Second):
		return nil
	}
}

func TestSettle_CaptureTimeoutIsFailure(t *testing.T) {
	ctx := context.Background()
	e := newEngine(t)
	a := soldAuction(t, e, uuid.New(), payment.HoldStatusAuthorized)
	e.settlement.gateway = slowGateway{PaymentGateway: e.gateway}

	_, err := e.settlement.Settle(ctx, a.ID)
	check.True(t, errors.Is(err, shared.ErrCaptureFailed))
	check.Equal(t, auction.PaymentStatusFailed, e.get(t, a.ID).PaymentStatus)
}

// lostCaptureRecordRepo fails the first write of a captured hold
type lostCaptureRecordRepo struct {
	outbound.PaymentHoldRepository
	lost bool
}

func (r *lostCaptureRecordRepo) Update(ctx context.Context, h *payment.Hold) error {
	if h.IsCaptured() && !r.lost {
		r.lost = true
		return errors.New("connection reset by peer")
	}
	return r.PaymentHoldRepository.Update(ctx, h)
}

func TestSettle_UnrecordedCaptureIsNotRepeated(t *testing.T) {
	ctx := context.Background()
	e := newEngine(t)
	winner := uuid.New()
	a := soldAuction(t, e, winner, payment.HoldStatusAuthorized)
	e.settlement.holdRepo = &lostCaptureRecordRepo{PaymentHoldRepository: e.store.GetPaymentHoldRepository()}

	_, err := e.settlement.Settle(ctx, a.ID)
	check.Error(t, err)
	check.Equal(t, auction.PaymentStatusPending, e.get(t, a.ID).PaymentStatus)

	result, err := e.settlement.Settle(ctx, a.ID)
	check.True(t, errors.Is(err, shared.ErrCaptureUnconfirmed))
	check.True(t, errors.Is(err, shared.ErrFinancialMismatch))
	check.False(t, result.GatewayCalled)
	check.Equal(t, 1, e.gateway.Calls("capture"))
	check.Equal(t, auction.PaymentStatusFailed, e.get(t, a.ID).PaymentStatus)
	check.Equal(t, []outbound.EventType{outbound.EventTypePaymentFailed}, e.publisher.Types())
}

func TestSettle_OnlySoldAuctions(t *testing.T) {
	e := newEngine(t)
	a := e.activeAuction(t, decimal.NullDecimal{})

	_, err := e.settlement.Settle(context.Background(), a.ID)
	check.True(t, shared.IsStateConflict(err))
}
