package ws

import (
	"context"
	"net/http"
	"sync"

	"troffee-auction-engine/internal/domain/shared"
	"troffee-auction-engine/internal/ports/inbound"
	"troffee-auction-engine/internal/ports/outbound"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

// WsHandler manages WebSocket connections and message routing
type WsHandler struct {
	clients        map[string]*WsClient // clientID -> Client
	clientsMu      sync.RWMutex
	eventChannels  map[string]chan outbound.Event // clientID -> local event channel
	subscriptions  map[string]map[uuid.UUID]bool  // clientID -> subscribed auctions
	channelsMu     sync.RWMutex
	upgrader       websocket.Upgrader
	auctionService inbound.AuctionService
	bidService     inbound.BidService
	broadcaster    outbound.Broadcaster
	logger         zerolog.Logger
}

type WsHandlerParams struct {
	Upgrader       websocket.Upgrader
	AuctionService inbound.AuctionService
	BidService     inbound.BidService
	Broadcaster    outbound.Broadcaster
	Logger         zerolog.Logger
}

// NewHandler creates a new WebSocket handler
func NewHandler(params WsHandlerParams) *WsHandler {
	return &WsHandler{
		clients:        make(map[string]*WsClient),
		eventChannels:  make(map[string]chan outbound.Event),
		subscriptions:  make(map[string]map[uuid.UUID]bool),
		upgrader:       params.Upgrader,
		auctionService: params.AuctionService,
		bidService:     params.BidService,
		broadcaster:    params.Broadcaster,
		logger:         params.Logger.With().Str("component", "ws_handler").Logger(),
	}
}

// HandleWebSocket handles WebSocket connection upgrades. The caller's
// identity comes from the user_id query parameter set by the gateway in front.
func (handler *WsHandler) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	userIDStr := r.URL.Query().Get("user_id")
	if userIDStr == "" {
		http.Error(w, "user_id is required", http.StatusBadRequest)
		return
	}

	userID, err := uuid.Parse(userIDStr)
	if err != nil {
		http.Error(w, "invalid user_id format", http.StatusBadRequest)
		return
	}

	conn, err := handler.upgrader.Upgrade(w, r, nil)
	if err != nil {
		handler.logger.Error().Err(err).Msg("Failed to upgrade WebSocket connection")
		return
	}

	client := NewClient(WsClientParams{
		UserID:  userID,
		Conn:    conn,
		Handler: handler,
		Logger:  handler.logger,
	})

	handler.registerClient(client)
	handler.createEventChannel(client.id)

	client.Start()
	go handler.listenForClientEvents(client)

	go func() {
		<-client.ctx.Done()
		handler.unregisterClient(client)
	}()

	handler.logger.Info().Str("client_id", client.id).Str("user_id", client.userID.String()).Msg("WebSocket client connected")
}

func (handler *WsHandler) createEventChannel(clientID string) chan outbound.Event {
	handler.channelsMu.Lock()
	defer handler.channelsMu.Unlock()

	if eventChan, exists := handler.eventChannels[clientID]; exists {
		return eventChan
	}

	eventChan := make(chan outbound.Event, 100)
	handler.eventChannels[clientID] = eventChan
	handler.subscriptions[clientID] = make(map[uuid.UUID]bool)
	return eventChan
}

func (handler *WsHandler) getEventChannel(clientID string) chan outbound.Event {
	handler.channelsMu.RLock()
	defer handler.channelsMu.RUnlock()

	return handler.eventChannels[clientID]
}

func (handler *WsHandler) trackSubscription(clientID string, auctionID uuid.UUID, subscribed bool) {
	handler.channelsMu.Lock()
	defer handler.channelsMu.Unlock()

	if subs, ok := handler.subscriptions[clientID]; ok {
		if subscribed {
			subs[auctionID] = true
		} else {
			delete(subs, auctionID)
		}
	}
}

// removeEventChannel drops every broadcaster subscription of the client
// before closing its channel
func (handler *WsHandler) removeEventChannel(clientID string) {
	handler.channelsMu.Lock()
	defer handler.channelsMu.Unlock()

	for auctionID := range handler.subscriptions[clientID] {
		if err := handler.broadcaster.Unsubscribe(context.Background(), auctionID, clientID); err != nil {
			handler.logger.Warn().Err(err).Str("client_id", clientID).Str("auction_id", auctionID.String()).Msg("Failed to unsubscribe disconnected client")
		}
	}
	delete(handler.subscriptions, clientID)

	if eventChan, exists := handler.eventChannels[clientID]; exists {
		close(eventChan)
		delete(handler.eventChannels, clientID)
	}
}

func (handler *WsHandler) registerClient(client *WsClient) {
	handler.clientsMu.Lock()
	defer handler.clientsMu.Unlock()
	handler.clients[client.id] = client
	handler.logger.Debug().Str("client_id", client.id).Int("total_clients", len(handler.clients)).Msg("Client registered")
}

func (handler *WsHandler) unregisterClient(client *WsClient) {
	handler.clientsMu.Lock()
	delete(handler.clients, client.id)
	total := len(handler.clients)
	handler.clientsMu.Unlock()

	client.Stop()
	handler.removeEventChannel(client.id)

	handler.logger.Info().Str("client_id", client.id).Str("user_id", client.userID.String()).Int("total_clients", total).Msg("WebSocket client disconnected")
}

// listenForClientEvents forwards broadcast events to the client
func (handler *WsHandler) listenForClientEvents(client *WsClient) {
	eventChan := handler.getEventChannel(client.id)
	if eventChan == nil {
		handler.logger.Error().Str("client_id", client.id).Msg("No event channel found for client")
		return
	}

	for {
		select {
		case event, ok := <-eventChan:
			if !ok {
				return
			}
			if err := client.Send(NewEventMessage(event)); err != nil {
				handler.logger.Warn().Err(err).Str("client_id", client.id).Str("event_type", string(event.Type)).Msg("Failed to send event to WebSocket client")
			}
		case <-client.ctx.Done():
			return
		}
	}
}

func (handler *WsHandler) HandleClientMessage(ctx context.Context, client *WsClient, msg *ClientMessage) error {
	switch msg.Type {
	case MessageTypeSubscribe:
		return handler.handleSubscribe(ctx, client, msg)
	case MessageTypeUnsubscribe:
		return handler.handleUnsubscribe(ctx, client, msg)
	case MessageTypePlaceBid:
		return handler.handlePlaceBid(ctx, client, msg)
	case MessageTypeGetAuction:
		return handler.handleGetAuction(ctx, client, msg)
	case MessageTypeListAuctions:
		return handler.handleListAuctions(ctx, client, msg)
	default:
		handler.logger.Warn().Str("client_id", client.id).Str("message_type", string(msg.Type)).Msg("Unknown message type from client")
		return shared.ErrUnknownMessageType
	}
}

// GetConnectedClients returns the number of connected clients
func (handler *WsHandler) GetConnectedClients() int {
	handler.clientsMu.RLock()
	defer handler.clientsMu.RUnlock()
	return len(handler.clients)
}

func (handler *WsHandler) handleSubscribe(ctx context.Context, client *WsClient, msg *ClientMessage) error {
	eventChan := handler.getEventChannel(client.id)
	if eventChan == nil {
		return shared.ErrClientEventChannelNotFound
	}

	if err := handler.broadcaster.Subscribe(ctx, *msg.AuctionID, client.id, eventChan); err != nil {
		handler.logger.Error().Err(err).Str("client_id", client.id).Str("auction_id", msg.AuctionID.String()).Msg("Failed to subscribe to auction")
		return err
	}
	handler.trackSubscription(client.id, *msg.AuctionID, true)

	response := NewServerMessage(MessageTypeSubscribed)
	response.AuctionID = msg.AuctionID
	return client.Send(response)
}

func (handler *WsHandler) handleUnsubscribe(ctx context.Context, client *WsClient, msg *ClientMessage) error {
	if err := handler.broadcaster.Unsubscribe(ctx, *msg.AuctionID, client.id); err != nil {
		return err
	}
	handler.trackSubscription(client.id, *msg.AuctionID, false)

	response := NewServerMessage(MessageTypeUnsubscribed)
	response.AuctionID = msg.AuctionID
	return client.Send(response)
}

// handlePlaceBid places a bid on behalf of the connected user. Rejections go
// back to the bidder only; acceptance reaches every subscriber as bid.placed.
func (handler *WsHandler) handlePlaceBid(ctx context.Context, client *WsClient, msg *ClientMessage) error {
	placed, err := handler.bidService.PlaceBid(ctx, inbound.PlaceBidRequest{
		AuctionID: *msg.AuctionID,
		BidderID:  client.userID,
		Amount:    msg.Amount.Decimal,
	})
	if err != nil {
		return client.Send(NewErrorMessage(err, msg.AuctionID))
	}

	response := NewServerMessage(MessageTypeBidAccepted)
	response.AuctionID = msg.AuctionID
	response.Data["bid_id"] = placed.ID.String()
	response.Data["amount"] = placed.Amount.String()
	return client.Send(response)
}

func (handler *WsHandler) handleGetAuction(ctx context.Context, client *WsClient, msg *ClientMessage) error {
	state, err := handler.auctionService.GetAuctionState(ctx, *msg.AuctionID)
	if err != nil {
		return client.Send(NewErrorMessage(err, msg.AuctionID))
	}

	response := NewServerMessage(MessageTypeAuctionState)
	response.AuctionID = msg.AuctionID
	response.Data["auction"] = state.Auction
	response.Data["minimum_next_bid"] = state.MinimumNextBid.String()
	response.Data["accepting_bids"] = state.AcceptingBids
	return client.Send(response)
}

func (handler *WsHandler) handleListAuctions(ctx context.Context, client *WsClient, msg *ClientMessage) error {
	auctions, err := handler.auctionService.ListAuctions(ctx, inbound.ListAuctionsRequest{
		Status:   msg.Status,
		Page:     msg.Page,
		PageSize: msg.PageSize,
	})
	if err != nil {
		return client.Send(NewErrorMessage(err, nil))
	}

	response := NewServerMessage(MessageTypeAuctionList)
	response.Data["auctions"] = auctions
	response.Data["count"] = len(auctions)
	return client.Send(response)
}
