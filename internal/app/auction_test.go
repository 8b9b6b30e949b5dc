package app

import (
	"context"
	"errors"
	"testing"
	"time"

	"troffee-auction-engine/internal/domain/auction"
	"troffee-auction-engine/internal/domain/job"
	"troffee-auction-engine/internal/domain/shared"
	"troffee-auction-engine/internal/ports/inbound"
	"troffee-auction-engine/internal/ports/outbound"

	"github.com/google/uuid"
	"github.com/peterldowns/testy/assert"
	"github.com/peterldowns/testy/check"
	"github.com/shopspring/decimal"
)

func listing() inbound.CreateAuctionRequest {
	return inbound.CreateAuctionRequest{
		SellerID:     uuid.New(),
		Title:        "Gibson Les Paul Custom 1974",
		Category:     "instruments",
		StartPrice:   decimal.NewFromInt(1000),
		BidIncrement: decimal.NewFromInt(50),
		ReservePrice: decimal.NewNullDecimal(decimal.NewFromInt(1500)),
		StartDate:    t0.Add(-time.Hour),
		EndDate:      t0,
	}
}

// pendingJobs returns the due time of every pending job of auctionID by type
func (e *engine) pendingJobs(auctionID uuid.UUID) map[job.Type]time.Time {
	due := make(map[job.Type]time.Time)
	for _, j := range e.store.GetJobRepository().Jobs() {
		if j.Status == job.StatusPending && j.AuctionID != nil && *j.AuctionID == auctionID {
			due[j.Type] = j.DueAt
		}
	}
	return due
}

func TestCreateAuction_StoresDraftAndSchedulesJobs(t *testing.T) {
	e := newEngine(t)
	req := listing()

	a, err := e.auctions.CreateAuction(context.Background(), req)
	assert.NoError(t, err)
	check.Equal(t, auction.StatusDraft, a.Status)
	check.Equal(t, auction.PaymentStatusNone, a.PaymentStatus)
	check.True(t, a.CurrentPrice.Equal(req.StartPrice))
	check.Equal(t, 0, a.BidCount)

	check.Equal(t, map[job.Type]time.Time{
		job.TypeActivate: req.StartDate,
		job.TypeEnd:      req.EndDate,
	}, e.pendingJobs(a.ID))
}

func TestCreateAuction_Validation(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(r *inbound.CreateAuctionRequest)
		wantErr error
	}{
		{"start in the past", func(r *inbound.CreateAuctionRequest) { r.StartDate = t0.Add(-3 * time.Hour) }, shared.ErrInvalidStartTime},
		{"end before start", func(r *inbound.CreateAuctionRequest) { r.EndDate = r.StartDate }, shared.ErrInvalidEndTime},
		{"zero start price", func(r *inbound.CreateAuctionRequest) { r.StartPrice = decimal.Zero }, shared.ErrInvalidStartingPrice},
		{"negative increment", func(r *inbound.CreateAuctionRequest) { r.BidIncrement = decimal.NewFromInt(-1) }, shared.ErrInvalidBidIncrement},
		{"reserve below start", func(r *inbound.CreateAuctionRequest) {
			r.ReservePrice = decimal.NewNullDecimal(decimal.NewFromInt(999))
		}, shared.ErrInvalidReservePrice},
		{"sub-cent increment", func(r *inbound.CreateAuctionRequest) {
			r.BidIncrement = decimal.RequireFromString("0.001")
		}, shared.ErrAmountPrecision},
		{"sub-cent start price", func(r *inbound.CreateAuctionRequest) {
			r.StartPrice = decimal.RequireFromString("1000.005")
		}, shared.ErrAmountPrecision},
		{"sub-cent reserve", func(r *inbound.CreateAuctionRequest) {
			r.ReservePrice = decimal.NewNullDecimal(decimal.RequireFromString("1500.999"))
		}, shared.ErrAmountPrecision},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := newEngine(t)
			req := listing()
			tt.mutate(&req)

			a, err := e.auctions.CreateAuction(context.Background(), req)
			check.Nil(t, a)
			check.True(t, errors.Is(err, tt.wantErr))
			check.True(t, shared.IsValidation(err))
			check.Equal(t, 0, len(e.store.GetJobRepository().Jobs()))
		})
	}
}

func TestApproveAuction_ActivatesOnSchedule(t *testing.T) {
	ctx := context.Background()
	e := newEngine(t)
	a, err := e.auctions.CreateAuction(ctx, listing())
	assert.NoError(t, err)

	approved, err := e.auctions.ApproveAuction(ctx, a.ID)
	assert.NoError(t, err)
	check.Equal(t, auction.StatusApproved, approved.Status)

	_, err = e.auctions.ApproveAuction(ctx, a.ID)
	check.True(t, errors.Is(err, shared.ErrInvalidTransition))

	e.clock.Set(a.StartDate)
	n, err := e.scheduler.RunDueJobs(ctx, a.StartDate)
	assert.NoError(t, err)
	check.Equal(t, 1, n)
	check.Equal(t, auction.StatusActive, e.get(t, a.ID).Status)
}

func TestUpdateDraft_ReschedulesJobs(t *testing.T) {
	ctx := context.Background()
	e := newEngine(t)
	a, err := e.auctions.CreateAuction(ctx, listing())
	assert.NoError(t, err)

	req := listing()
	req.SellerID = a.SellerID
	req.StartPrice = decimal.NewFromInt(1200)
	req.ReservePrice = decimal.NullDecimal{}
	req.StartDate = t0
	req.EndDate = t0.Add(24 * time.Hour)

	updated, err := e.auctions.UpdateDraft(ctx, inbound.UpdateDraftRequest{AuctionID: a.ID, CreateAuctionRequest: req})
	assert.NoError(t, err)
	check.True(t, updated.CurrentPrice.Equal(decimal.NewFromInt(1200)))
	check.False(t, updated.HasReserve())

	check.Equal(t, map[job.Type]time.Time{
		job.TypeActivate: t0,
		job.TypeEnd:      t0.Add(24 * time.Hour),
	}, e.pendingJobs(a.ID))

	_, err = e.auctions.ApproveAuction(ctx, a.ID)
	assert.NoError(t, err)
	_, err = e.auctions.UpdateDraft(ctx, inbound.UpdateDraftRequest{AuctionID: a.ID, CreateAuctionRequest: req})
	check.True(t, errors.Is(err, shared.ErrAuctionNotEditable))
}

func TestCancelAuction_RemovesJobs(t *testing.T) {
	ctx := context.Background()
	e := newEngine(t)
	a, err := e.auctions.CreateAuction(ctx, listing())
	assert.NoError(t, err)

	cancelled, err := e.auctions.CancelAuction(ctx, a.ID)
	assert.NoError(t, err)
	check.Equal(t, auction.StatusCancelled, cancelled.Status)
	check.Equal(t, 0, len(e.pendingJobs(a.ID)))

	_, err = e.auctions.CancelAuction(ctx, a.ID)
	check.True(t, shared.IsStateConflict(err))
}

func TestDeleteAuction_OnlyDrafts(t *testing.T) {
	ctx := context.Background()
	e := newEngine(t)

	draft, err := e.auctions.CreateAuction(ctx, listing())
	assert.NoError(t, err)
	assert.NoError(t, e.auctions.DeleteAuction(ctx, draft.ID))
	check.Equal(t, 0, len(e.pendingJobs(draft.ID)))

	_, err = e.auctions.GetAuctionState(ctx, draft.ID)
	check.True(t, errors.Is(err, shared.ErrAuctionNotFound))

	active := e.activeAuction(t, decimal.NullDecimal{})
	err = e.auctions.DeleteAuction(ctx, active.ID)
	check.True(t, errors.Is(err, shared.ErrAuctionNotEditable))
}

func TestExtendEndDate(t *testing.T) {
	ctx := context.Background()
	e := newEngine(t)
	a := e.activeAuction(t, decimal.NullDecimal{})

	_, err := e.auctions.ExtendEndDate(ctx, a.ID, t0.Add(-time.Minute))
	check.True(t, errors.Is(err, shared.ErrInvalidExtension))

	extended, err := e.auctions.ExtendEndDate(ctx, a.ID, t0.Add(30*time.Minute))
	assert.NoError(t, err)
	check.Equal(t, t0.Add(30*time.Minute), extended.EndDate)
	check.Equal(t, t0.Add(30*time.Minute), e.get(t, a.ID).EndDate)
	check.Equal(t, t0.Add(30*time.Minute), e.pendingJobs(a.ID)[job.TypeEnd])
	check.Equal(t, []outbound.EventType{outbound.EventTypeAuctionEndDateChanged}, e.publisher.Types())

	ended := e.get(t, a.ID)
	ended.Status = auction.StatusEnded
	assert.NoError(t, e.store.GetAuctionRepository().Transition(ctx, ended, auction.StatusActive, 0))
	_, err = e.auctions.ExtendEndDate(ctx, a.ID, t0.Add(time.Hour))
	check.True(t, errors.Is(err, shared.ErrInvalidTransition))
}

func TestGetAuctionState(t *testing.T) {
	ctx := context.Background()
	e := newEngine(t)
	a := e.activeAuction(t, decimal.NullDecimal{})

	state, err := e.auctions.GetAuctionState(ctx, a.ID)
	assert.NoError(t, err)
	check.True(t, state.AcceptingBids)
	check.True(t, state.MinimumNextBid.Equal(decimal.NewFromInt(1000)))

	assert.NoError(t, placeAt(t, e, t0.Add(-time.Minute), a.ID, uuid.New(), 1100))
	state, err = e.auctions.GetAuctionState(ctx, a.ID)
	assert.NoError(t, err)
	check.True(t, state.MinimumNextBid.Equal(decimal.NewFromInt(1200)))
	check.Equal(t, 1, state.Auction.BidCount)

	e.clock.Set(t0)
	state, err = e.auctions.GetAuctionState(ctx, a.ID)
	assert.NoError(t, err)
	check.False(t, state.AcceptingBids)

	_, err = e.auctions.GetAuctionState(ctx, uuid.New())
	check.True(t, errors.Is(err, shared.ErrAuctionNotFound))
}

func TestListAuctions_FiltersByStatus(t *testing.T) {
	ctx := context.Background()
	e := newEngine(t)
	e.activeAuction(t, decimal.NullDecimal{})
	_, err := e.auctions.CreateAuction(ctx, listing())
	assert.NoError(t, err)

	active := auction.StatusActive
	list, err := e.auctions.ListAuctions(ctx, inbound.ListAuctionsRequest{Status: &active})
	assert.NoError(t, err)
	check.Equal(t, 1, len(list))

	all, err := e.auctions.ListAuctions(ctx, inbound.ListAuctionsRequest{})
	assert.NoError(t, err)
	check.Equal(t, 2, len(all))
}
