package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"troffee-auction-engine/internal/adapters/broadcaster"
	"troffee-auction-engine/internal/adapters/db"
	"troffee-auction-engine/internal/adapters/kafka"
	"troffee-auction-engine/internal/adapters/memory"
	"troffee-auction-engine/internal/adapters/metrics"
	"troffee-auction-engine/internal/adapters/payment"
	"troffee-auction-engine/internal/adapters/redis"
	"troffee-auction-engine/internal/adapters/scheduler"
	"troffee-auction-engine/internal/adapters/ws"
	"troffee-auction-engine/internal/app"
	"troffee-auction-engine/internal/config"
	"troffee-auction-engine/internal/domain/job"
	"troffee-auction-engine/internal/ports/outbound"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var serveMigrate bool

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the bidding engine, scheduler and WebSocket server",
	Args:  cobra.NoArgs,
	RunE:  runServe,
}

func init() {
	serveCmd.Flags().BoolVar(&serveMigrate, "migrate", false, "apply the database schema before serving")
}

// repositories is the ledger store the services run on
type repositories struct {
	auctions outbound.AuctionRepository
	bids     outbound.BidRepository
	holds    outbound.PaymentHoldRepository
	jobs     outbound.JobRepository
	close    func() error
}

func openStore(ctx context.Context, cfg *config.Config) (*repositories, error) {
	if cfg.Store.Driver == config.StoreDriverMemory {
		log.Warn().Msg("Using the in-memory store, state is lost on restart")
		store := memory.NewStore()
		return &repositories{
			auctions: store.GetAuctionRepository(),
			bids:     store.GetBidRepository(),
			holds:    store.GetPaymentHoldRepository(),
			jobs:     store.GetJobRepository(),
			close:    func() error { return nil },
		}, nil
	}

	conn, err := db.NewConnection(cfg)
	if err != nil {
		return nil, err
	}
	if serveMigrate {
		if err := conn.Migrate(ctx); err != nil {
			conn.Close()
			return nil, err
		}
		log.Info().Msg("Database schema applied")
	}

	factory := db.NewRepositoryFactory(conn)
	return &repositories{
		auctions: factory.GetAuctionRepository(),
		bids:     factory.GetBidRepository(),
		holds:    factory.GetPaymentHoldRepository(),
		jobs:     factory.GetJobRepository(),
		close:    conn.Close,
	}, nil
}

func newGateway(cfg *config.Config, collector *metrics.Collector) outbound.PaymentGateway {
	if cfg.Payment.Mode == config.GatewayModeHTTP {
		return payment.NewHTTPGateway(payment.HTTPGatewayParams{
			BaseURL:  cfg.Payment.URL,
			APIKey:   cfg.Payment.APIKey,
			Currency: cfg.Payment.Currency,
			Metrics:  collector,
			Logger:   log.Logger,
		})
	}

	log.Warn().Msg("Using the sandbox payment gateway")
	return payment.NewSandbox(log.Logger)
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	log.Info().Str("version", Version).Msg("Starting auction engine...")

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	store, err := openStore(ctx, cfg)
	if err != nil {
		return fmt.Errorf("failed to open store: %w", err)
	}
	defer store.close()
	log.Info().Str("driver", cfg.Store.Driver).Msg("Store initialized")

	redisClient := redis.NewClient(cfg.Redis)
	if err := redis.Ping(ctx, redisClient); err != nil {
		return fmt.Errorf("failed to connect to Redis: %w", err)
	}
	defer redisClient.Close()

	redisBroadcaster := broadcaster.NewBroadcaster(broadcaster.RedisBroadcasterParams{
		RedisClient: redisClient,
		Logger:      log.Logger,
	})
	defer redisBroadcaster.Close()

	publishers := []outbound.EventPublisher{redisBroadcaster}
	var notifier outbound.Notifier
	if cfg.Kafka.Enabled() {
		// bid.placed is published inline with PlaceBid
		lifecycleWriter := kafka.NewAsyncWriter(cfg.Kafka.Brokers, cfg.Kafka.LifecycleTopic, log.Logger)
		notificationWriter := kafka.NewWriter(cfg.Kafka.Brokers, cfg.Kafka.NotificationsTopic)

		eventPublisher := kafka.NewEventPublisher(lifecycleWriter, log.Logger)
		defer eventPublisher.Close()
		dispatcher := kafka.NewNotificationDispatcher(notificationWriter, log.Logger)
		defer dispatcher.Close()

		publishers = append(publishers, eventPublisher)
		notifier = dispatcher
		log.Info().Strs("brokers", cfg.Kafka.Brokers).Msg("Kafka producers initialized")
	} else {
		log.Warn().Msg("Kafka brokers not configured, notifications are disabled")
	}
	publisher := broadcaster.NewFanout(publishers...)

	collector := metrics.NewCollector(prometheus.DefaultRegisterer)
	gateway := newGateway(cfg, collector)

	jobScheduler := scheduler.NewScheduler(scheduler.SchedulerParams{
		Jobs:    store.jobs,
		Config:  cfg.Scheduler,
		Metrics: collector,
		Logger:  log.Logger,
	})

	auctionService := app.NewAuctionService(app.AuctionServiceParams{
		AuctionRepo: store.auctions,
		Scheduler:   jobScheduler,
		Publisher:   publisher,
		Logger:      log.Logger,
	})
	bidService := app.NewBidService(app.BidServiceParams{
		AuctionRepo: store.auctions,
		BidRepo:     store.bids,
		HoldRepo:    store.holds,
		Gateway:     gateway,
		Publisher:   publisher,
		Metrics:     collector,
		MaxRetries:  cfg.Bidding.MaxRetries,
		Commission:  cfg.Payment.Commission,
		Currency:    cfg.Payment.Currency,
		Logger:      log.Logger,
	})
	settlementService := app.NewSettlementService(app.SettlementServiceParams{
		AuctionRepo:    store.auctions,
		HoldRepo:       store.holds,
		Gateway:        gateway,
		Publisher:      publisher,
		Notifier:       notifier,
		Metrics:        collector,
		CaptureTimeout: cfg.Payment.CaptureTimeout,
		Logger:         log.Logger,
	})
	lifecycleService := app.NewLifecycleService(app.LifecycleServiceParams{
		AuctionRepo:      store.auctions,
		BidRepo:          store.bids,
		Scheduler:        jobScheduler,
		Settlement:       settlementService,
		Publisher:        publisher,
		Notifier:         notifier,
		Metrics:          collector,
		MaxRetries:       cfg.Bidding.MaxRetries,
		EndingSoonWindow: cfg.Scheduler.EndingSoonWindow,
		Logger:           log.Logger,
	})
	log.Info().Msg("Business services initialized")

	jobScheduler.Handle(job.TypeActivate, lifecycleService.HandleActivate)
	jobScheduler.Handle(job.TypeEnd, lifecycleService.HandleEnd)
	jobScheduler.Every(job.TypeNotifyEndingSoon, cfg.Scheduler.SweepInterval, lifecycleService.SweepEndingSoon)
	jobScheduler.Start()
	log.Info().Msg("Scheduler started")

	wsServer := ws.NewServer(ws.ServerParams{
		Config:         cfg,
		AuctionService: auctionService,
		BidService:     bidService,
		Broadcaster:    redisBroadcaster,
		Logger:         log.Logger,
	})

	go func() {
		if err := wsServer.Start(); err != nil {
			log.Error().Err(err).Msg("Failed to start WebSocket server")
			cancel()
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigChan:
		log.Info().Str("signal", sig.String()).Msg("Received shutdown signal")
	case <-ctx.Done():
		log.Info().Msg("Context cancelled")
	}

	log.Info().Msg("Starting graceful shutdown...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := wsServer.Stop(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Error stopping WebSocket server")
	}

	// in-flight jobs finish; unfinished ones are reclaimed after their lease
	jobScheduler.Stop()
	log.Info().Msg("Scheduler stopped")

	log.Info().Msg("Graceful shutdown completed")
	return nil
}
