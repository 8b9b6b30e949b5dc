package broadcaster

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"troffee-auction-engine/internal/ports/outbound"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

const channelPrefix = "auction:events:"

func channelName(auctionID uuid.UUID) string {
	return channelPrefix + auctionID.String()
}

// RedisBroadcaster fans auction events out to live clients through Redis
// pub/sub, so every service instance sees every event. One pubsub connection
// is shared by all local clients and messages are routed by channel.
type RedisBroadcaster struct {
	client   *redis.Client
	pubsub   *redis.PubSub
	clients  map[string]chan outbound.Event // clientID -> local channel
	auctions map[uuid.UUID]map[string]bool  // auctionID -> subscribed clientIDs
	mu       sync.RWMutex
	ctx      context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	logger   zerolog.Logger
}

type RedisBroadcasterParams struct {
	RedisClient *redis.Client
	Logger      zerolog.Logger
}

var _ outbound.Broadcaster = (*RedisBroadcaster)(nil)

func NewBroadcaster(params RedisBroadcasterParams) *RedisBroadcaster {
	ctx, cancel := context.WithCancel(context.Background())

	b := &RedisBroadcaster{
		client:   params.RedisClient,
		pubsub:   params.RedisClient.Subscribe(ctx),
		clients:  make(map[string]chan outbound.Event),
		auctions: make(map[uuid.UUID]map[string]bool),
		ctx:      ctx,
		cancel:   cancel,
		logger:   params.Logger.With().Str("component", "redis_broadcaster").Logger(),
	}

	b.wg.Add(1)
	go b.route()

	return b
}

// Subscribe subscribes a client to events for a specific auction
func (r *RedisBroadcaster) Subscribe(ctx context.Context, auctionID uuid.UUID, clientID string, eventChan chan outbound.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	subscribers := r.auctions[auctionID]
	if subscribers[clientID] {
		r.logger.Debug().Str("client_id", clientID).Str("auction_id", auctionID.String()).Msg("Client already subscribed to auction")
		return nil
	}

	// first local subscriber joins the Redis channel
	if len(subscribers) == 0 {
		if err := r.pubsub.Subscribe(ctx, channelName(auctionID)); err != nil {
			r.logger.Error().Err(err).Str("auction_id", auctionID.String()).Msg("Failed to subscribe to Redis channel")
			return fmt.Errorf("failed to subscribe to auction events: %w", err)
		}
		subscribers = make(map[string]bool)
		r.auctions[auctionID] = subscribers
	}

	subscribers[clientID] = true
	if _, exists := r.clients[clientID]; !exists {
		r.clients[clientID] = eventChan
	}

	r.logger.Info().Str("client_id", clientID).Str("auction_id", auctionID.String()).Msg("Client subscribed to auction")
	return nil
}

// Unsubscribe unsubscribes a client from events for a specific auction. The
// client's channel is forgotten once it has no subscription left; closing it
// stays with the caller.
func (r *RedisBroadcaster) Unsubscribe(ctx context.Context, auctionID uuid.UUID, clientID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	subscribers, exists := r.auctions[auctionID]
	if !exists || !subscribers[clientID] {
		return nil
	}

	delete(subscribers, clientID)
	if len(subscribers) == 0 {
		delete(r.auctions, auctionID)
		if err := r.pubsub.Unsubscribe(ctx, channelName(auctionID)); err != nil {
			r.logger.Error().Err(err).Str("auction_id", auctionID.String()).Msg("Error unsubscribing from Redis channel")
		}
	}

	if !r.hasSubscriptions(clientID) {
		delete(r.clients, clientID)
	}

	r.logger.Info().Str("client_id", clientID).Str("auction_id", auctionID.String()).Msg("Client unsubscribed from auction")
	return nil
}

func (r *RedisBroadcaster) hasSubscriptions(clientID string) bool {
	for _, subscribers := range r.auctions {
		if subscribers[clientID] {
			return true
		}
	}
	return false
}

// Publish publishes an event to all subscribers of an auction via Redis
func (r *RedisBroadcaster) Publish(ctx context.Context, auctionID uuid.UUID, event outbound.Event) error {
	if event.Timestamp == 0 {
		event.Timestamp = time.Now().UnixMilli()
	}
	event.AuctionID = auctionID

	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	receivers, err := r.client.Publish(ctx, channelName(auctionID), payload).Result()
	if err != nil {
		r.logger.Error().Err(err).Str("auction_id", auctionID.String()).Msg("Failed to publish to Redis")
		return fmt.Errorf("failed to publish to Redis: %w", err)
	}

	r.logger.Debug().
		Str("event_type", string(event.Type)).
		Str("auction_id", auctionID.String()).
		Int64("receivers", receivers).
		Msg("Published event to auction")

	return nil
}

// GetSubscribers returns the local clients subscribed to an auction
func (r *RedisBroadcaster) GetSubscribers(ctx context.Context, auctionID uuid.UUID) ([]string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	subscribers := make([]string, 0, len(r.auctions[auctionID]))
	for clientID := range r.auctions[auctionID] {
		subscribers = append(subscribers, clientID)
	}

	return subscribers, nil
}

// IsSubscribed checks if a client is subscribed to an auction
func (r *RedisBroadcaster) IsSubscribed(ctx context.Context, auctionID uuid.UUID, clientID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return r.auctions[auctionID][clientID]
}

// route forwards Redis messages to the local clients of the message's auction
func (r *RedisBroadcaster) route() {
	defer r.wg.Done()
	defer func() {
		if err := recover(); err != nil {
			r.logger.Error().Interface("panic", err).Msg("Redis message router panic")
		}
	}()

	ch := r.pubsub.Channel()
	for {
		select {
		case msg, ok := <-ch:
			if !ok {
				return
			}
			r.deliver(msg)
		case <-r.ctx.Done():
			return
		}
	}
}

func (r *RedisBroadcaster) deliver(msg *redis.Message) {
	auctionID, err := uuid.Parse(strings.TrimPrefix(msg.Channel, channelPrefix))
	if err != nil {
		r.logger.Warn().Str("channel", msg.Channel).Msg("Message on unexpected channel")
		return
	}

	var event outbound.Event
	if err := json.Unmarshal([]byte(msg.Payload), &event); err != nil {
		r.logger.Error().Err(err).Str("auction_id", auctionID.String()).Msg("Failed to unmarshal Redis message")
		return
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	for clientID := range r.auctions[auctionID] {
		select {
		case r.clients[clientID] <- event:
		default:
			r.logger.Warn().Str("client_id", clientID).Msg("Local channel full for client, dropping event")
		}
	}
}

// Close stops routing and drops every subscription
func (r *RedisBroadcaster) Close() error {
	r.cancel()
	err := r.pubsub.Close()
	r.wg.Wait()

	r.mu.Lock()
	defer r.mu.Unlock()

	r.clients = make(map[string]chan outbound.Event)
	r.auctions = make(map[uuid.UUID]map[string]bool)

	return err
}
