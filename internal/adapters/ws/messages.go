package ws

import (
	"encoding/json"
	"fmt"
	"time"

	"troffee-auction-engine/internal/domain/auction"
	"troffee-auction-engine/internal/domain/shared"
	"troffee-auction-engine/internal/ports/outbound"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type MessageType string

const (
	// Client to Server message types
	MessageTypeSubscribe    MessageType = "subscribe"
	MessageTypeUnsubscribe  MessageType = "unsubscribe"
	MessageTypePlaceBid     MessageType = "place_bid"
	MessageTypeGetAuction   MessageType = "get_auction"
	MessageTypeListAuctions MessageType = "list_auctions"
	MessageTypePing         MessageType = "ping"

	// Server to Client message types
	MessageTypeSubscribed   MessageType = "subscribed"
	MessageTypeUnsubscribed MessageType = "unsubscribed"
	MessageTypeBidAccepted  MessageType = "bid_accepted"
	MessageTypeAuctionState MessageType = "auction_state"
	MessageTypeAuctionList  MessageType = "auction_list"
	MessageTypeEvent        MessageType = "event"
	MessageTypeError        MessageType = "error"
	MessageTypePong         MessageType = "pong"
)

type ClientMessage struct {
	Type      MessageType         `json:"type"`
	AuctionID *uuid.UUID          `json:"auction_id,omitempty"`
	Amount    decimal.NullDecimal `json:"amount"`
	Status    *auction.Status     `json:"status,omitempty"`
	Page      int                 `json:"page,omitempty"`
	PageSize  int                 `json:"page_size,omitempty"`
	Timestamp int64               `json:"timestamp"`
}

// ServerMessage represents a message sent from server to client
type ServerMessage struct {
	Type      MessageType            `json:"type"`
	AuctionID *uuid.UUID             `json:"auction_id,omitempty"`
	Event     outbound.EventType     `json:"event,omitempty"`
	Data      map[string]interface{} `json:"data,omitempty"`
	Error     *string                `json:"error,omitempty"`
	Code      string                 `json:"code,omitempty"`
	Timestamp int64                  `json:"timestamp"`
}

func NewServerMessage(msgType MessageType) *ServerMessage {
	return &ServerMessage{
		Type:      msgType,
		Data:      make(map[string]interface{}),
		Timestamp: time.Now().UnixMilli(),
	}
}

// NewErrorMessage carries the error text and its category so clients can tell
// a rejected bid from a stale view
func NewErrorMessage(err error, auctionID *uuid.UUID) *ServerMessage {
	text := err.Error()
	return &ServerMessage{
		Type:      MessageTypeError,
		AuctionID: auctionID,
		Error:     &text,
		Code:      errorCode(err),
		Timestamp: time.Now().UnixMilli(),
	}
}

func errorCode(err error) string {
	switch {
	case shared.IsValidation(err):
		return "validation"
	case shared.IsStateConflict(err):
		return "state_conflict"
	default:
		return "internal"
	}
}

// NewEventMessage forwards a broadcast event to a subscribed client
func NewEventMessage(event outbound.Event) *ServerMessage {
	auctionID := event.AuctionID
	return &ServerMessage{
		Type:      MessageTypeEvent,
		AuctionID: &auctionID,
		Event:     event.Type,
		Data:      event.Data,
		Timestamp: event.Timestamp,
	}
}

func (m *ClientMessage) validateAuctionID() error {
	if m.AuctionID == nil || *m.AuctionID == uuid.Nil {
		return shared.ErrAuctionIDRequired
	}
	return nil
}

// ParseClientMessage parses a JSON message from client
func ParseClientMessage(data []byte) (*ClientMessage, error) {
	var msg ClientMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, fmt.Errorf("failed to parse client message: %w", err)
	}

	if msg.Type == "" {
		return nil, shared.ErrMessageTypeRequired
	}

	return &msg, nil
}

// Validate validates a client message
func (m *ClientMessage) Validate() error {
	switch m.Type {
	case MessageTypeSubscribe, MessageTypeUnsubscribe, MessageTypeGetAuction:
		return m.validateAuctionID()
	case MessageTypePlaceBid:
		if err := m.validateAuctionID(); err != nil {
			return err
		}
		if !m.Amount.Valid || !m.Amount.Decimal.IsPositive() {
			return shared.ErrInvalidAmount
		}
	case MessageTypeListAuctions, MessageTypePing:
	default:
		return shared.ErrUnknownMessageType
	}

	return nil
}
