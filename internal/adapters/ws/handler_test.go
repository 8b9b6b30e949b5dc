package ws

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"troffee-auction-engine/internal/domain/auction"
	"troffee-auction-engine/internal/domain/bid"
	"troffee-auction-engine/internal/domain/shared"
	"troffee-auction-engine/internal/ports/inbound"
	"troffee-auction-engine/internal/ports/outbound"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/peterldowns/testy/assert"
	"github.com/peterldowns/testy/check"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// localBroadcaster delivers published events straight to subscribed channels
type localBroadcaster struct {
	mu   sync.Mutex
	subs map[uuid.UUID]map[string]chan outbound.Event
}

func newLocalBroadcaster() *localBroadcaster {
	return &localBroadcaster{subs: make(map[uuid.UUID]map[string]chan outbound.Event)}
}

func (b *localBroadcaster) Publish(ctx context.Context, auctionID uuid.UUID, event outbound.Event) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	event.AuctionID = auctionID
	for _, ch := range b.subs[auctionID] {
		ch <- event
	}
	return nil
}

func (b *localBroadcaster) Subscribe(ctx context.Context, auctionID uuid.UUID, clientID string, eventChan chan outbound.Event) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.subs[auctionID] == nil {
		b.subs[auctionID] = make(map[string]chan outbound.Event)
	}
	b.subs[auctionID][clientID] = eventChan
	return nil
}

func (b *localBroadcaster) Unsubscribe(ctx context.Context, auctionID uuid.UUID, clientID string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.subs[auctionID], clientID)
	return nil
}

func (b *localBroadcaster) GetSubscribers(ctx context.Context, auctionID uuid.UUID) ([]string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	var ids []string
	for id := range b.subs[auctionID] {
		ids = append(ids, id)
	}
	return ids, nil
}

func (b *localBroadcaster) IsSubscribed(ctx context.Context, auctionID uuid.UUID, clientID string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	_, ok := b.subs[auctionID][clientID]
	return ok
}

type stubBidService struct {
	inbound.BidService
	minimum decimal.Decimal
}

func (s *stubBidService) PlaceBid(ctx context.Context, req inbound.PlaceBidRequest) (*bid.Bid, error) {
	if req.Amount.LessThan(s.minimum) {
		return nil, shared.ErrBidBelowMinimum
	}
	return &bid.Bid{ID: uuid.New(), AuctionID: req.AuctionID, BidderID: req.BidderID, Amount: req.Amount}, nil
}

type stubAuctionService struct {
	inbound.AuctionService
	auction *auction.Auction
}

func (s *stubAuctionService) GetAuctionState(ctx context.Context, auctionID uuid.UUID) (*inbound.AuctionState, error) {
	if auctionID != s.auction.ID {
		return nil, shared.ErrAuctionNotFound
	}
	return &inbound.AuctionState{Auction: s.auction, MinimumNextBid: s.auction.MinimumNextBid(), AcceptingBids: true}, nil
}

func dial(t *testing.T, handler *WsHandler) *websocket.Conn {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(handler.HandleWebSocket))
	t.Cleanup(server.Close)

	url := "ws" + strings.TrimPrefix(server.URL, "http") + "?user_id=" + uuid.NewString()
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	assert.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func roundTrip(t *testing.T, conn *websocket.Conn, request map[string]interface{}) ServerMessage {
	t.Helper()
	assert.NoError(t, conn.WriteJSON(request))
	return read(t, conn)
}

func read(t *testing.T, conn *websocket.Conn) ServerMessage {
	t.Helper()
	var msg ServerMessage
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	assert.NoError(t, conn.ReadJSON(&msg))
	return msg
}

func TestHandler_SubscribeBidAndReceiveEvents(t *testing.T) {
	a := &auction.Auction{
		ID:           uuid.New(),
		StartPrice:   decimal.NewFromInt(1000),
		BidIncrement: decimal.NewFromInt(100),
		CurrentPrice: decimal.NewFromInt(1000),
		Status:       auction.StatusActive,
	}
	broadcaster := newLocalBroadcaster()
	handler := NewHandler(WsHandlerParams{
		AuctionService: &stubAuctionService{auction: a},
		BidService:     &stubBidService{minimum: decimal.NewFromInt(1000)},
		Broadcaster:    broadcaster,
		Logger:         zerolog.Nop(),
	})
	conn := dial(t, handler)

	msg := roundTrip(t, conn, map[string]interface{}{"type": "ping"})
	check.Equal(t, MessageTypePong, msg.Type)

	msg = roundTrip(t, conn, map[string]interface{}{"type": "subscribe", "auction_id": a.ID})
	check.Equal(t, MessageTypeSubscribed, msg.Type)

	msg = roundTrip(t, conn, map[string]interface{}{"type": "get_auction", "auction_id": a.ID})
	check.Equal(t, MessageTypeAuctionState, msg.Type)
	check.Equal(t, "1000", msg.Data["minimum_next_bid"])

	msg = roundTrip(t, conn, map[string]interface{}{"type": "place_bid", "auction_id": a.ID, "amount": "900"})
	check.Equal(t, MessageTypeError, msg.Type)
	check.Equal(t, "validation", msg.Code)

	msg = roundTrip(t, conn, map[string]interface{}{"type": "place_bid", "auction_id": a.ID, "amount": "1100"})
	check.Equal(t, MessageTypeBidAccepted, msg.Type)
	check.Equal(t, "1100", msg.Data["amount"])

	assert.NoError(t, broadcaster.Publish(context.Background(), a.ID, outbound.Event{
		Type:      outbound.EventTypeBidPlaced,
		Data:      map[string]interface{}{"amount": "1100"},
		Timestamp: 1,
	}))
	msg = read(t, conn)
	check.Equal(t, MessageTypeEvent, msg.Type)
	check.Equal(t, outbound.EventTypeBidPlaced, msg.Event)
	check.Equal(t, a.ID, *msg.AuctionID)

	msg = roundTrip(t, conn, map[string]interface{}{"type": "get_auction", "auction_id": uuid.New()})
	check.Equal(t, MessageTypeError, msg.Type)
}

func TestHandler_RejectsMissingUser(t *testing.T) {
	handler := NewHandler(WsHandlerParams{Broadcaster: newLocalBroadcaster(), Logger: zerolog.Nop()})
	server := httptest.NewServer(http.HandlerFunc(handler.HandleWebSocket))
	defer server.Close()

	resp, err := http.Get(server.URL)
	assert.NoError(t, err)
	defer resp.Body.Close()
	check.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestHandler_DisconnectDropsSubscriptions(t *testing.T) {
	auctionID := uuid.New()
	broadcaster := newLocalBroadcaster()
	handler := NewHandler(WsHandlerParams{Broadcaster: broadcaster, Logger: zerolog.Nop()})
	conn := dial(t, handler)

	msg := roundTrip(t, conn, map[string]interface{}{"type": "subscribe", "auction_id": auctionID})
	assert.Equal(t, MessageTypeSubscribed, msg.Type)
	subscribers, err := broadcaster.GetSubscribers(context.Background(), auctionID)
	assert.NoError(t, err)
	check.Equal(t, 1, len(subscribers))

	conn.Close()
	deadline := time.Now().Add(2 * time.Second)
	for handler.GetConnectedClients() > 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	check.Equal(t, 0, handler.GetConnectedClients())

	// subscriptions are dropped right after the client leaves the registry
	for time.Now().Before(deadline) {
		if subscribers, _ = broadcaster.GetSubscribers(context.Background(), auctionID); len(subscribers) == 0 {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	check.Equal(t, 0, len(subscribers))
}
