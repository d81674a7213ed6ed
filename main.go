package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/pocketbase/pocketbase"
	"github.com/pocketbase/pocketbase/core"
	"github.com/pocketbase/pocketbase/plugins/migratecmd"

	"tickethub/config"
	"tickethub/handlers"
	"tickethub/internal/gateway"
	"tickethub/internal/gateway/cardnet"
	"tickethub/internal/gateway/hubpay"
	"tickethub/internal/kv"
	"tickethub/internal/notify"
	"tickethub/internal/store"
	_ "tickethub/migrations"
	"tickethub/monitoring"
	"tickethub/services"
	"tickethub/utils"
)

func main() {
	app := pocketbase.New()

	cfg := config.LoadConfig()
	if err := cfg.Validate(); err != nil {
		log.Fatal(err)
	}

	redisClient, err := utils.NewRedisClient(cfg.RedisURL, cfg.RedisPassword, cfg.RedisDB)
	if err != nil {
		log.Fatal(err)
	}
	defer redisClient.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	redisStore := kv.NewRedisStore(redisClient)
	eventLock := kv.NewEventLock(redisStore, cfg.LockTTL, cfg.LockWaitTimeout)
	pbStore := store.NewPBStore(app)
	monitor := monitoring.NewMonitor()

	registry := gateway.NewRegistry()
	hubpayAdapter := registerProviders(ctx, cfg, registry)
	defer registry.Close(ctx)

	var notifier notify.Notifier
	if cfg.PubNubPublishKey != "" && cfg.PubNubSubscribeKey != "" {
		notifier = notify.NewPubNubNotifier(cfg.PubNubPublishKey, cfg.PubNubSubscribeKey, cfg.PubNubUUID)
	} else {
		notifier = notify.NewLogNotifier()
	}

	capacityService := services.NewCapacityService(pbStore, eventLock, monitor)
	ticketService := services.NewTicketService(pbStore, capacityService, notifier, monitor, cfg.ScanSecret)
	reconcileService := services.NewReconcileService(
		pbStore, redisStore, capacityService, ticketService, registry, monitor,
		cfg.PaymentSessionWindow, cfg.PollInterval, cfg.PollResultTTL,
	)
	orderService := services.NewOrderService(
		pbStore, redisStore, capacityService, ticketService, reconcileService,
		registry, monitor, cfg.IdempotencyTTL,
	)

	// Push notifications from HubPay's feed flow into the same reconciler
	// as webhooks.
	if hubpayAdapter != nil {
		hubpayAdapter.SetNotificationChannel(reconcileService.NotificationChannel())
	}

	purchaseHandler := handlers.NewPurchaseHandler(orderService)
	webhookHandler := handlers.NewWebhookHandler(reconcileService)
	orderHandler := handlers.NewOrderHandler(orderService)
	adminHandler := handlers.NewAdminHandler(pbStore, reconcileService, cfg.SettlementTokenHash)

	migratecmd.MustRegister(app, app.RootCmd, migratecmd.Config{
		Automigrate: cfg.Environment == "development",
	})

	reconcileService.Start(ctx, cfg.IssuanceWorkers)
	go handleShutdown(cancel, reconcileService)

	if cfg.EnableMetrics {
		go monitoring.ServeMetrics(cfg.MetricsPort)
	}

	app.OnServe().BindFunc(func(e *core.ServeEvent) error {
		// Purchase endpoints
		e.Router.POST("/api/purchase", purchaseHandler.CreatePurchase)
		e.Router.GET("/api/orders/{id}", orderHandler.GetOrder)

		// Payment webhooks
		e.Router.POST("/api/payments/{provider}/webhook", webhookHandler.HandleWebhook)

		// Admin endpoints
		e.Router.POST("/api/admin/orders/{id}/settle", adminHandler.ConfirmSettlement)
		e.Router.GET("/api/admin/events/{id}/capacity", adminHandler.GetCapacity)

		// Health check
		e.Router.GET("/health", func(e *core.RequestEvent) error {
			if err := utils.RedisHealthCheck(redisClient); err != nil {
				return e.JSON(503, map[string]string{
					"status": "unhealthy",
					"error":  err.Error(),
				})
			}
			return e.JSON(200, map[string]string{"status": "healthy"})
		})

		log.Println("Server routes registered")

		return e.Next()
	})

	if err := app.Start(); err != nil {
		log.Fatal(err)
	}
}

// registerProviders builds the adapters for every gateway with a configured
// base URL. Returns the hubpay adapter when registered so its push feed can
// be wired up.
func registerProviders(ctx context.Context, cfg *config.Config, registry *gateway.Registry) *gateway.HubPayAdapter {
	var hubpayAdapter *gateway.HubPayAdapter

	if cfg.HubPayBaseURL != "" {
		adapter, err := gateway.NewHubPayAdapter(ctx, &hubpay.Config{
			BaseURL:     cfg.HubPayBaseURL,
			MerchantID:  cfg.HubPayMerchant,
			ClientID:    cfg.HubPayClientID,
			ClientKey:   cfg.HubPayClientKey,
			HMACKey:     cfg.HubPayHMACKey,
			PNSubKey:    cfg.HubPaySubKey,
			PNSubSecret: cfg.HubPaySubSecret,
			PNUUID:      cfg.HubPayUUID,
		}, cfg.WebhookSecret)
		if err != nil {
			log.Fatalf("hubpay: %v", err)
		}
		registry.Register(adapter)
		hubpayAdapter = adapter
	}

	if cfg.CardNetBaseURL != "" {
		adapter, err := gateway.NewCardNetAdapter(ctx, &cardnet.Config{
			BaseURL:   cfg.CardNetBaseURL,
			ClientID:  cfg.CardNetClientID,
			ClientKey: cfg.CardNetClientKey,
		}, cfg.WebhookSecret)
		if err != nil {
			log.Fatalf("cardnet: %v", err)
		}
		registry.Register(adapter)
	}

	return hubpayAdapter
}

// handleShutdown waits for an interrupt, then stops the background workers
// before the process exits.
func handleShutdown(cancel context.CancelFunc, reconciler *services.ReconcileService) {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	<-sigChan
	log.Println("Shutdown signal received, cleaning up...")
	reconciler.Shutdown()
	cancel()
}
