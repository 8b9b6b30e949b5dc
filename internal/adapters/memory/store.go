package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"troffee-auction-engine/internal/domain/auction"
	"troffee-auction-engine/internal/domain/bid"
	"troffee-auction-engine/internal/domain/job"
	"troffee-auction-engine/internal/domain/payment"
	"troffee-auction-engine/internal/domain/shared"
	"troffee-auction-engine/internal/ports/outbound"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Store is an in-process ledger store. A single mutex linearizes every
// conditional write, which gives the same guarantees as the row-level
// conditions of the Postgres store.
type Store struct {
	mu       sync.Mutex
	auctions map[uuid.UUID]*auction.Auction
	bids     map[uuid.UUID][]*bid.Bid
	holds    map[uuid.UUID]*payment.Hold
	jobs     map[uuid.UUID]*job.ScheduledJob
}

// NewStore creates an empty store
func NewStore() *Store {
	return &Store{
		auctions: make(map[uuid.UUID]*auction.Auction),
		bids:     make(map[uuid.UUID][]*bid.Bid),
		holds:    make(map[uuid.UUID]*payment.Hold),
		jobs:     make(map[uuid.UUID]*job.ScheduledJob),
	}
}

// GetAuctionRepository returns the auction repository
func (s *Store) GetAuctionRepository() *AuctionRepository {
	return &AuctionRepository{store: s}
}

// GetBidRepository returns the bid repository
func (s *Store) GetBidRepository() *BidRepository {
	return &BidRepository{store: s}
}

// GetPaymentHoldRepository returns the payment hold repository
func (s *Store) GetPaymentHoldRepository() *PaymentHoldRepository {
	return &PaymentHoldRepository{store: s}
}

// GetJobRepository returns the scheduled job repository
func (s *Store) GetJobRepository() *JobRepository {
	return &JobRepository{store: s}
}

var (
	_ outbound.AuctionRepository     = (*AuctionRepository)(nil)
	_ outbound.BidRepository         = (*BidRepository)(nil)
	_ outbound.PaymentHoldRepository = (*PaymentHoldRepository)(nil)
	_ outbound.JobRepository         = (*JobRepository)(nil)
)

// AuctionRepository implements the auction repository interface in memory
type AuctionRepository struct {
	store *Store
}

func (r *AuctionRepository) Create(ctx context.Context, a *auction.Auction) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	r.store.auctions[a.ID] = a.Clone()
	return nil
}

func (r *AuctionRepository) GetByID(ctx context.Context, id uuid.UUID) (*auction.Auction, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	a, ok := r.store.auctions[id]
	if !ok {
		return nil, shared.ErrAuctionNotFound
	}
	return a.Clone(), nil
}

func (r *AuctionRepository) List(ctx context.Context, status *auction.Status, page, pageSize int) ([]*auction.Auction, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	var auctions []*auction.Auction
	for _, a := range r.store.auctions {
		if status != nil && a.Status != *status {
			continue
		}
		auctions = append(auctions, a.Clone())
	}
	sort.Slice(auctions, func(i, j int) bool {
		return auctions[i].CreatedAt.After(auctions[j].CreatedAt)
	})

	start := (page - 1) * pageSize
	if start >= len(auctions) {
		return nil, nil
	}
	end := start + pageSize
	if end > len(auctions) {
		end = len(auctions)
	}
	return auctions[start:end], nil
}

func (r *AuctionRepository) UpdateDraft(ctx context.Context, a *auction.Auction) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	stored, ok := r.store.auctions[a.ID]
	if !ok {
		return shared.ErrAuctionNotFound
	}
	if !stored.IsEditable() {
		return shared.ErrAuctionNotEditable
	}
	updated := a.Clone()
	updated.Status = stored.Status
	updated.CreatedAt = stored.CreatedAt
	r.store.auctions[a.ID] = updated
	return nil
}

func (r *AuctionRepository) Delete(ctx context.Context, id uuid.UUID) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	stored, ok := r.store.auctions[id]
	if !ok {
		return shared.ErrAuctionNotFound
	}
	if !stored.IsEditable() {
		return shared.ErrAuctionNotEditable
	}
	delete(r.store.auctions, id)
	return nil
}

func (r *AuctionRepository) ApplyBid(ctx context.Context, b *bid.Bid, expectedPrice decimal.Decimal, expectedBidCount int) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	a, ok := r.store.auctions[b.AuctionID]
	if !ok {
		return shared.ErrAuctionNotFound
	}
	if !a.CanBid(b.Timestamp) || !a.CurrentPrice.Equal(expectedPrice) || a.BidCount != expectedBidCount {
		return shared.ErrBidConflict
	}

	bidderID := b.BidderID
	a.CurrentPrice = b.Amount
	a.CurrentBidderID = &bidderID
	a.BidCount++
	a.UpdatedAt = b.Timestamp

	stored := *b
	r.store.bids[b.AuctionID] = append(r.store.bids[b.AuctionID], &stored)
	return nil
}

func (r *AuctionRepository) Transition(ctx context.Context, a *auction.Auction, from auction.Status, expectedBidCount int) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	stored, ok := r.store.auctions[a.ID]
	if !ok {
		return shared.ErrAuctionNotFound
	}
	if stored.Status != from || stored.BidCount != expectedBidCount || !stored.EndDate.Equal(a.EndDate) {
		return shared.ErrTransitionConflict
	}

	updated := a.Clone()
	stored.Status = updated.Status
	stored.WinnerID = updated.WinnerID
	stored.FinalPrice = updated.FinalPrice
	stored.PaymentStatus = updated.PaymentStatus
	stored.UpdatedAt = updated.UpdatedAt
	return nil
}

func (r *AuctionRepository) UpdateEndDate(ctx context.Context, id uuid.UUID, endDate time.Time, updatedAt time.Time) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	stored, ok := r.store.auctions[id]
	if !ok {
		return shared.ErrAuctionNotFound
	}
	if stored.Status != auction.StatusActive && stored.Status != auction.StatusApproved {
		return shared.ErrInvalidTransition
	}
	stored.EndDate = endDate
	stored.EndingSoonNotified = false
	stored.UpdatedAt = updatedAt
	return nil
}

func (r *AuctionRepository) SetPaymentStatus(ctx context.Context, id uuid.UUID, status auction.PaymentStatus, updatedAt time.Time) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	stored, ok := r.store.auctions[id]
	if !ok {
		return shared.ErrAuctionNotFound
	}
	stored.PaymentStatus = status
	stored.UpdatedAt = updatedAt
	return nil
}

func (r *AuctionRepository) ListEndingBetween(ctx context.Context, from, to time.Time) ([]*auction.Auction, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	var auctions []*auction.Auction
	for _, a := range r.store.auctions {
		if a.Status != auction.StatusActive || a.EndingSoonNotified {
			continue
		}
		if a.EndDate.After(from) && !a.EndDate.After(to) {
			auctions = append(auctions, a.Clone())
		}
	}
	sort.Slice(auctions, func(i, j int) bool {
		return auctions[i].EndDate.Before(auctions[j].EndDate)
	})
	return auctions, nil
}

func (r *AuctionRepository) MarkEndingSoonNotified(ctx context.Context, id uuid.UUID) (bool, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	stored, ok := r.store.auctions[id]
	if !ok {
		return false, shared.ErrAuctionNotFound
	}
	if stored.EndingSoonNotified {
		return false, nil
	}
	stored.EndingSoonNotified = true
	return true, nil
}

// BidRepository implements the bid repository interface in memory
type BidRepository struct {
	store *Store
}

func (r *BidRepository) GetByAuctionID(ctx context.Context, auctionID uuid.UUID) ([]*bid.Bid, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	stored := r.store.bids[auctionID]
	bids := make([]*bid.Bid, 0, len(stored))
	for _, b := range stored {
		c := *b
		bids = append(bids, &c)
	}
	sort.SliceStable(bids, func(i, j int) bool {
		return bids[i].Timestamp.Before(bids[j].Timestamp)
	})
	return bids, nil
}

func (r *BidRepository) GetHighestBid(ctx context.Context, auctionID uuid.UUID) (*bid.Bid, error) {
	bids, err := r.GetByAuctionID(ctx, auctionID)
	if err != nil {
		return nil, err
	}
	highest := bid.Highest(bids)
	if highest == nil {
		return nil, shared.ErrNoBidsFound
	}
	return highest, nil
}

// PaymentHoldRepository implements the payment hold repository interface in memory
type PaymentHoldRepository struct {
	store *Store
}

func (r *PaymentHoldRepository) Create(ctx context.Context, h *payment.Hold) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	for _, existing := range r.store.holds {
		if existing.AuctionID == h.AuctionID && existing.BidderID == h.BidderID && existing.IsLive() {
			return shared.ErrHoldAlreadyExists
		}
	}
	stored := *h
	r.store.holds[h.ID] = &stored
	return nil
}

func (r *PaymentHoldRepository) GetLive(ctx context.Context, auctionID, bidderID uuid.UUID) (*payment.Hold, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	for _, h := range r.store.holds {
		if h.AuctionID == auctionID && h.BidderID == bidderID && h.IsLive() {
			c := *h
			return &c, nil
		}
	}
	return nil, shared.ErrHoldNotFound
}

func (r *PaymentHoldRepository) ListByAuction(ctx context.Context, auctionID uuid.UUID) ([]*payment.Hold, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	var holds []*payment.Hold
	for _, h := range r.store.holds {
		if h.AuctionID == auctionID {
			c := *h
			holds = append(holds, &c)
		}
	}
	sort.Slice(holds, func(i, j int) bool {
		return holds[i].CreatedAt.Before(holds[j].CreatedAt)
	})
	return holds, nil
}

func (r *PaymentHoldRepository) Update(ctx context.Context, h *payment.Hold) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	stored, ok := r.store.holds[h.ID]
	if !ok {
		return shared.ErrHoldNotFound
	}
	if stored.IsCaptured() && !h.IsCaptured() {
		return shared.ErrHoldStatusConflict
	}
	stored.Status = h.Status
	stored.ChargeAttempted = h.ChargeAttempted
	stored.ChargeSucceeded = h.ChargeSucceeded
	stored.UpdatedAt = h.UpdatedAt
	return nil
}

// JobRepository implements the scheduled job repository interface in memory
type JobRepository struct {
	store *Store
}

func (r *JobRepository) Upsert(ctx context.Context, j *job.ScheduledJob) (*job.ScheduledJob, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	for _, existing := range r.store.jobs {
		if existing.Status != job.StatusPending || existing.Type != j.Type {
			continue
		}
		if existing.AuctionID == nil || j.AuctionID == nil || *existing.AuctionID != *j.AuctionID {
			continue
		}
		existing.DueAt = j.DueAt
		existing.Attempts = 0
		existing.LastError = ""
		existing.Revision++
		existing.LockedUntil = nil
		existing.UpdatedAt = j.UpdatedAt
		return existing.Clone(), nil
	}

	stored := j.Clone()
	stored.Status = job.StatusPending
	stored.Revision = 1
	r.store.jobs[stored.ID] = stored
	return stored.Clone(), nil
}

func (r *JobRepository) CancelByAuction(ctx context.Context, auctionID uuid.UUID) (int, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	removed := 0
	for id, j := range r.store.jobs {
		if j.Status == job.StatusPending && j.AuctionID != nil && *j.AuctionID == auctionID {
			delete(r.store.jobs, id)
			removed++
		}
	}
	return removed, nil
}

func (r *JobRepository) ClaimDue(ctx context.Context, now time.Time, lease time.Duration, limit int) ([]*job.ScheduledJob, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	var due []*job.ScheduledJob
	for _, j := range r.store.jobs {
		if j.IsDue(now) {
			due = append(due, j)
		}
	}
	sort.Slice(due, func(i, k int) bool {
		return due[i].DueAt.Before(due[k].DueAt)
	})
	if limit > 0 && len(due) > limit {
		due = due[:limit]
	}

	until := now.Add(lease)
	claimed := make([]*job.ScheduledJob, 0, len(due))
	for _, j := range due {
		lockedUntil := until
		j.LockedUntil = &lockedUntil
		j.UpdatedAt = now
		claimed = append(claimed, j.Clone())
	}
	return claimed, nil
}

func (r *JobRepository) Finish(ctx context.Context, j *job.ScheduledJob) (bool, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	stored, ok := r.store.jobs[j.ID]
	if !ok {
		// cancelled while running
		return false, nil
	}
	if stored.Revision != j.Revision || stored.Status != job.StatusPending {
		stored.LockedUntil = nil
		return false, nil
	}

	stored.Status = j.Status
	stored.Attempts = j.Attempts
	stored.LastError = j.LastError
	stored.DueAt = j.DueAt
	stored.LockedUntil = nil
	stored.UpdatedAt = j.UpdatedAt
	return true, nil
}

// Jobs returns a snapshot of every stored job, ordered by due time
func (r *JobRepository) Jobs() []*job.ScheduledJob {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	jobs := make([]*job.ScheduledJob, 0, len(r.store.jobs))
	for _, j := range r.store.jobs {
		jobs = append(jobs, j.Clone())
	}
	sort.Slice(jobs, func(i, k int) bool {
		return jobs[i].DueAt.Before(jobs[k].DueAt)
	})
	return jobs
}
