package app

import (
	"context"
	"sync"
	"testing"
	"time"

	"troffee-auction-engine/internal/adapters/memory"
	"troffee-auction-engine/internal/adapters/metrics"
	"troffee-auction-engine/internal/adapters/payment"
	"troffee-auction-engine/internal/adapters/scheduler"
	"troffee-auction-engine/internal/config"
	"troffee-auction-engine/internal/domain/auction"
	"troffee-auction-engine/internal/domain/job"
	"troffee-auction-engine/internal/ports/outbound"

	"github.com/google/uuid"
	"github.com/peterldowns/testy/assert"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

var t0 = time.Date(2026, 6, 1, 20, 0, 0, 0, time.UTC)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Set(now time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = now
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []outbound.Event
}

func (p *recordingPublisher) Publish(ctx context.Context, auctionID uuid.UUID, event outbound.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
	return nil
}

func (p *recordingPublisher) Types() []outbound.EventType {
	p.mu.Lock()
	defer p.mu.Unlock()
	var types []outbound.EventType
	for _, e := range p.events {
		types = append(types, e.Type)
	}
	return types
}

type recordingNotifier struct {
	mu            sync.Mutex
	notifications []outbound.Notification
	err           error
}

func (n *recordingNotifier) Notify(ctx context.Context, notification outbound.Notification) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.notifications = append(n.notifications, notification)
	return n.err
}

func (n *recordingNotifier) For(recipient uuid.UUID) []outbound.NotificationKind {
	n.mu.Lock()
	defer n.mu.Unlock()
	var kinds []outbound.NotificationKind
	for _, notification := range n.notifications {
		if notification.Recipient == recipient {
			kinds = append(kinds, notification.Kind)
		}
	}
	return kinds
}

// engine wires every service over the in-memory store and the sandbox gateway
type engine struct {
	clock      *fakeClock
	store      *memory.Store
	gateway    *payment.Sandbox
	publisher  *recordingPublisher
	notifier   *recordingNotifier
	scheduler  *scheduler.Scheduler
	auctions   *AuctionService
	bids       *BidService
	lifecycle  *LifecycleService
	settlement *SettlementService
}

var commission = decimal.RequireFromString("25.00")

func newEngine(t *testing.T) *engine {
	t.Helper()

	e := &engine{
		clock:     &fakeClock{now: t0.Add(-2 * time.Hour)},
		store:     memory.NewStore(),
		gateway:   payment.NewSandbox(zerolog.Nop()),
		publisher: &recordingPublisher{},
		notifier:  &recordingNotifier{},
	}
	collector := metrics.NewCollector(prometheus.NewRegistry())
	logger := zerolog.Nop()

	e.scheduler = scheduler.NewScheduler(scheduler.SchedulerParams{
		Jobs: e.store.GetJobRepository(),
		Config: config.SchedulerConfig{
			PollInterval: time.Second,
			Workers:      4,
			BatchSize:    20,
			Lease:        time.Minute,
			JobTimeout:   5 * time.Second,
			MaxAttempts:  3,
			BackoffBase:  time.Second,
			BackoffMax:   time.Minute,
		},
		Metrics: collector,
		Clock:   e.clock.Now,
		Logger:  logger,
	})
	t.Cleanup(e.scheduler.Stop)

	e.auctions = NewAuctionService(AuctionServiceParams{
		AuctionRepo: e.store.GetAuctionRepository(),
		Scheduler:   e.scheduler,
		Publisher:   e.publisher,
		Clock:       e.clock.Now,
		Logger:      logger,
	})
	e.bids = NewBidService(BidServiceParams{
		AuctionRepo: e.store.GetAuctionRepository(),
		BidRepo:     e.store.GetBidRepository(),
		HoldRepo:    e.store.GetPaymentHoldRepository(),
		Gateway:     e.gateway,
		Publisher:   e.publisher,
		Metrics:     collector,
		MaxRetries:  2,
		Commission:  commission,
		Currency:    "EUR",
		Clock:       e.clock.Now,
		Logger:      logger,
	})
	e.settlement = NewSettlementService(SettlementServiceParams{
		AuctionRepo:    e.store.GetAuctionRepository(),
		HoldRepo:       e.store.GetPaymentHoldRepository(),
		Gateway:        e.gateway,
		Publisher:      e.publisher,
		Notifier:       e.notifier,
		Metrics:        collector,
		CaptureTimeout: 50 * time.Millisecond,
		Clock:          e.clock.Now,
		Logger:         logger,
	})
	e.lifecycle = NewLifecycleService(LifecycleServiceParams{
		AuctionRepo:      e.store.GetAuctionRepository(),
		BidRepo:          e.store.GetBidRepository(),
		Scheduler:        e.scheduler,
		Settlement:       e.settlement,
		Publisher:        e.publisher,
		Notifier:         e.notifier,
		Metrics:          collector,
		MaxRetries:       2,
		EndingSoonWindow: 15 * time.Minute,
		Clock:            e.clock.Now,
		Logger:           logger,
	})

	e.scheduler.Handle(job.TypeActivate, e.lifecycle.HandleActivate)
	e.scheduler.Handle(job.TypeEnd, e.lifecycle.HandleEnd)

	return e
}

// activeAuction stores an auction that is open for bids until t0
func (e *engine) activeAuction(t *testing.T, reserve decimal.NullDecimal) *auction.Auction {
	t.Helper()
	a := &auction.Auction{
		ID:            uuid.New(),
		SellerID:      uuid.New(),
		Title:         "Fender Stratocaster 1978",
		Category:      "instruments",
		StartPrice:    decimal.NewFromInt(1000),
		BidIncrement:  decimal.NewFromInt(100),
		ReservePrice:  reserve,
		StartDate:     t0.Add(-24 * time.Hour),
		EndDate:       t0,
		CurrentPrice:  decimal.NewFromInt(1000),
		Status:        auction.StatusActive,
		PaymentStatus: auction.PaymentStatusNone,
		CreatedAt:     t0.Add(-48 * time.Hour),
	}
	assert.NoError(t, e.store.GetAuctionRepository().Create(context.Background(), a))
	return a
}

func (e *engine) get(t *testing.T, id uuid.UUID) *auction.Auction {
	t.Helper()
	a, err := e.store.GetAuctionRepository().GetByID(context.Background(), id)
	assert.NoError(t, err)
	return a
}
