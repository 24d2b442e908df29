package cmd

import (
	"log"
	"log/slog"
	"net/http"

	"github.com/pocketbase/pocketbase"
	"github.com/pocketbase/pocketbase/apis"
	"github.com/pocketbase/pocketbase/core"
	"github.com/pocketbase/pocketbase/plugins/migratecmd"
	pubnub "github.com/pubnub/go"

	"ticket-admission/config"
	"ticket-admission/handlers"
	"ticket-admission/internal/clock"
	_ "ticket-admission/migrations"
	"ticket-admission/monitoring"
	"ticket-admission/security"
	"ticket-admission/services"
	"ticket-admission/utils"
)

// Start wires the admission engine into a runnable PocketBase service
// with a Redis-backed waiting list and an ops sidecar.
func Start() error {
	app := pocketbase.New()
	cfg := config.LoadConfig()

	redisClient, err := utils.NewRedisClient(cfg.RedisURL, cfg.RedisPassword, cfg.RedisDB)
	if err != nil {
		return err
	}
	defer redisClient.Close()

	var notifier services.Notifier = services.NoopNotifier{}
	if cfg.PubNubPublishKey != "" && cfg.PubNubSubscribeKey != "" {
		pnConfig := pubnub.NewConfig()
		pnConfig.PublishKey = cfg.PubNubPublishKey
		pnConfig.SubscribeKey = cfg.PubNubSubscribeKey
		pnConfig.SecretKey = cfg.PubNubSecretKey

		notifier = services.NewPubNubNotifier(pubnub.NewPubNub(pnConfig))
	} else {
		slog.Warn("PubNub keys not configured, user notifications disabled")
	}

	clk := clock.NewSystem()
	monitor := monitoring.NewMonitor(redisClient)
	locks := services.NewEventLocks()

	store := services.NewRedisWaitingListStore(redisClient, cfg.AuditTTL)
	tickets := services.NewPocketBaseTicketStore(app)
	events := services.NewPocketBaseEventProvider(app)
	ledger := services.NewLedger(store, tickets, clk)

	scheduler := services.NewOfferScheduler(
		store, ledger, events, notifier, monitor, locks, clk,
		cfg.OfferTTL, cfg.SweepInterval, cfg.PositionUpdateInterval,
	)

	limiter := security.NewRedisJoinLimiter(redisClient, cfg.MaxJoinAttempts, cfg.JoinWindow)

	admission := services.NewAdmissionService(
		store, tickets, events, ledger, scheduler,
		limiter, notifier, monitor, locks, clk,
	)

	admissionHandler := handlers.NewAdmissionHandler(admission)
	opsHandler := handlers.NewOpsHandler(redisClient, store, scheduler)

	migratecmd.MustRegister(app, app.RootCmd, migratecmd.Config{
		Automigrate: true,
	})

	app.OnServe().BindFunc(func(se *core.ServeEvent) error {
		se.Router.POST("/api/admission/join", admissionHandler.Join).Bind(apis.RequireAuth())
		se.Router.POST("/api/admission/release", admissionHandler.Release).Bind(apis.RequireAuth())
		se.Router.POST("/api/admission/purchase", admissionHandler.Purchase).Bind(apis.RequireAuth())
		se.Router.GET("/api/admission/position", admissionHandler.Position).Bind(apis.RequireAuth())
		se.Router.GET("/api/admission/availability", admissionHandler.Availability)

		scheduler.Start()

		if cfg.EnableMetrics {
			opsServer := handlers.NewOpsServer(opsHandler, cfg.AdminAPIKeyHash)
			go func() {
				srv := &http.Server{Addr: cfg.MetricsPort, Handler: opsServer}
				slog.Info("Ops server listening", "addr", cfg.MetricsPort)
				if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
					log.Printf("Ops server stopped: %v", err)
				}
			}()
		}

		log.Println("Admission routes registered")
		return se.Next()
	})

	app.OnTerminate().BindFunc(func(te *core.TerminateEvent) error {
		scheduler.Shutdown()
		monitor.Stop()
		return te.Next()
	})

	return app.Start()
}
