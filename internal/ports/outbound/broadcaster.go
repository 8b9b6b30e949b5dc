package outbound

import (
	"context"
	"time"

	"troffee-auction-engine/internal/domain/auction"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// EventType represents the type of event being broadcasted
type EventType string

const (
	EventTypeBidPlaced             EventType = "bid.placed"
	EventTypeAuctionActivated      EventType = "auction.activated"
	EventTypeAuctionEndingSoon     EventType = "auction.ending_soon"
	EventTypeAuctionEnded          EventType = "auction.ended"
	EventTypeAuctionSold           EventType = "auction.sold"
	EventTypeAuctionReserveNotMet  EventType = "auction.reserve_not_met"
	EventTypeAuctionEndDateChanged EventType = "auction.end_date_changed"
	EventTypePaymentCaptured       EventType = "payment.captured"
	EventTypePaymentFailed         EventType = "payment.failed"
	EventTypeError                 EventType = "error"
)

// LifecycleEventType maps a terminal or active status to its event type
func LifecycleEventType(status auction.Status) EventType {
	switch status {
	case auction.StatusActive:
		return EventTypeAuctionActivated
	case auction.StatusSold:
		return EventTypeAuctionSold
	case auction.StatusReserveNotMet:
		return EventTypeAuctionReserveNotMet
	default:
		return EventTypeAuctionEnded
	}
}

// Event represents a broadcast event
type Event struct {
	Type      EventType              `json:"type"`
	AuctionID uuid.UUID              `json:"auction_id"`
	Data      map[string]interface{} `json:"data"`
	Timestamp int64                  `json:"timestamp"`
}

// EventPublisher publishes auction events to downstream consumers
type EventPublisher interface {
	// Publish publishes an event for an auction
	Publish(ctx context.Context, auctionID uuid.UUID, event Event) error
}

// Broadcaster defines the interface for broadcasting events to live clients
type Broadcaster interface {
	EventPublisher

	// Subscribe subscribes a client to events for a specific auction
	// When a client subscribes to multiple auctions, all events are delivered to the same channel
	Subscribe(ctx context.Context, auctionID uuid.UUID, clientID string, eventChan chan Event) error

	// Unsubscribe unsubscribes a client from events for a specific auction
	Unsubscribe(ctx context.Context, auctionID uuid.UUID, clientID string) error

	// GetSubscribers returns the list of client IDs subscribed to an auction
	GetSubscribers(ctx context.Context, auctionID uuid.UUID) ([]string, error)

	// IsSubscribed checks if a client is subscribed to an auction
	IsSubscribed(ctx context.Context, auctionID uuid.UUID, clientID string) bool
}

// NotificationKind names the reason a participant is notified
type NotificationKind string

const (
	NotificationAuctionActivated NotificationKind = "auction_activated"
	NotificationEndingSoon       NotificationKind = "auction_ending_soon"
	NotificationAuctionWon       NotificationKind = "auction_won"
	NotificationAuctionSold      NotificationKind = "auction_sold"
	NotificationAuctionUnsold    NotificationKind = "auction_unsold"
	NotificationReserveNotMet    NotificationKind = "reserve_not_met"
	NotificationPaymentFailed    NotificationKind = "payment_failed"
)

// AuctionSnapshot is the read-only view of an auction sent with notifications
type AuctionSnapshot struct {
	AuctionID     uuid.UUID        `json:"auction_id"`
	Title         string           `json:"title"`
	Status        auction.Status   `json:"status"`
	CurrentPrice  decimal.Decimal  `json:"current_price"`
	FinalPrice    *decimal.Decimal `json:"final_price,omitempty"`
	EndDate       time.Time        `json:"end_date"`
	PaymentStatus string           `json:"payment_status"`
}

// NewAuctionSnapshot builds a snapshot of a
func NewAuctionSnapshot(a *auction.Auction) AuctionSnapshot {
	snapshot := AuctionSnapshot{
		AuctionID:     a.ID,
		Title:         a.Title,
		Status:        a.Status,
		CurrentPrice:  a.CurrentPrice,
		EndDate:       a.EndDate,
		PaymentStatus: string(a.PaymentStatus),
	}
	if a.FinalPrice.Valid {
		price := a.FinalPrice.Decimal
		snapshot.FinalPrice = &price
	}
	return snapshot
}

// Notification is handed to the notification dispatch collaborator
type Notification struct {
	Recipient uuid.UUID        `json:"recipient"`
	Kind      NotificationKind `json:"kind"`
	Auction   AuctionSnapshot  `json:"auction"`
	CreatedAt time.Time        `json:"created_at"`
}

// Notifier dispatches notifications to auction participants
type Notifier interface {
	Notify(ctx context.Context, notification Notification) error
}
