package app

import (
	"context"
	"time"

	"troffee-auction-engine/internal/domain/auction"
	"troffee-auction-engine/internal/ports/outbound"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

func systemClock() time.Time {
	return time.Now().UTC()
}

// announcer publishes events and dispatches notifications. Failures are
// logged and never undo the state change that triggered them.
type announcer struct {
	publisher outbound.EventPublisher
	notifier  outbound.Notifier
	logger    zerolog.Logger
}

func (n announcer) publish(ctx context.Context, auctionID uuid.UUID, eventType outbound.EventType, data map[string]interface{}, now time.Time) {
	if n.publisher == nil {
		return
	}

	event := outbound.Event{
		Type:      eventType,
		AuctionID: auctionID,
		Data:      data,
		Timestamp: now.UnixMilli(),
	}
	if err := n.publisher.Publish(ctx, auctionID, event); err != nil {
		n.logger.Error().Err(err).
			Str("auction_id", auctionID.String()).
			Str("event_type", string(eventType)).
			Msg("Failed to publish event")
	}
}

func (n announcer) notify(ctx context.Context, recipient *uuid.UUID, kind outbound.NotificationKind, a *auction.Auction, now time.Time) {
	if n.notifier == nil || recipient == nil {
		return
	}

	err := n.notifier.Notify(ctx, outbound.Notification{
		Recipient: *recipient,
		Kind:      kind,
		Auction:   outbound.NewAuctionSnapshot(a),
		CreatedAt: now,
	})
	if err != nil {
		n.logger.Error().Err(err).
			Str("auction_id", a.ID.String()).
			Str("recipient", recipient.String()).
			Str("kind", string(kind)).
			Msg("Failed to dispatch notification")
	}
}

func auctionEventData(a *auction.Auction) map[string]interface{} {
	data := map[string]interface{}{
		"status":        string(a.Status),
		"current_price": a.CurrentPrice.String(),
		"bid_count":     a.BidCount,
		"end_date":      a.EndDate.Format(time.RFC3339),
	}
	if a.WinnerID != nil {
		data["winner_id"] = a.WinnerID.String()
	}
	if a.FinalPrice.Valid {
		data["final_price"] = a.FinalPrice.Decimal.String()
	}
	return data
}
