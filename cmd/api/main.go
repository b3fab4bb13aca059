package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"escaperoom/internal/clock"
	"escaperoom/internal/config"
	"escaperoom/internal/database"
	"escaperoom/internal/logger"
	"escaperoom/internal/middleware"
	"escaperoom/internal/modules/alert"
	"escaperoom/internal/modules/announce"
	"escaperoom/internal/modules/dispatch"
	"escaperoom/internal/modules/hold"
	"escaperoom/internal/modules/ledger"
	"escaperoom/internal/modules/notify"
	"escaperoom/internal/modules/payment"
	"escaperoom/internal/modules/payment/nets"
	"escaperoom/internal/modules/payment/swish"
	"escaperoom/internal/modules/sweeper"
	jwtsvc "escaperoom/internal/pkg/jwt"
	"escaperoom/internal/repository"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logrus.WithError(err).Fatal("invalid configuration")
	}
	log := logger.New(cfg.LogLevel, cfg.LogFormat)
	loc := cfg.Location()
	clk := clock.NewSystem()

	if cfg.AppEnv == "prod" || cfg.AppEnv == "production" || cfg.AppEnv == "release" {
		gin.SetMode(gin.ReleaseMode)
	}

	db, err := database.Connect(cfg.DatabaseURL, log)
	if err != nil {
		log.WithError(err).Fatal("database connect failed")
	}
	if err := database.Migrate(db); err != nil {
		log.WithError(err).Fatal("database migration failed")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	disp := dispatch.New(dispatch.Config{
		Workers:     cfg.DispatchWorkers,
		MaxAttempts: cfg.DispatchMaxAttempts,
		Backoff:     cfg.DispatchBackoff,
	}, log)
	disp.Start(ctx)

	hub := announce.NewHub()
	var publisher announce.Publisher = hub
	if cfg.RedisAddr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		defer rdb.Close()
		if err := rdb.Ping(ctx).Err(); err != nil {
			log.WithError(err).Warn("redis unreachable, announcements stay local")
		} else {
			publisher = announce.NewRedisPublisher(rdb, cfg.AnnounceChannel)
			go announce.Relay(ctx, rdb, cfg.AnnounceChannel, hub, log)
		}
	}

	mailer := notify.NewSMTPMailer(notify.SMTPConfig{
		Host:     cfg.SMTPHost,
		Port:     cfg.SMTPPort,
		User:     cfg.SMTPUser,
		Password: cfg.SMTPPassword,
		From:     cfg.EmailFrom,
	})
	var notifier notify.Notifier
	if cfg.RabbitMQURL != "" {
		notifier = notify.NewPublisher(cfg.RabbitMQURL, log)
		go notify.NewConsumer(cfg.RabbitMQURL, mailer, log).Run(ctx)
	} else {
		notifier = notify.NewDirect(mailer, log)
	}

	alerts := alert.NewService(repository.NewAlertRepository(db), mailer, alert.Config{
		AdminEmail:      cfg.AdminEmail,
		SlackWebhookURL: cfg.SlackWebhook,
	}, clk, log)

	var providers []payment.Provider
	netsClient := nets.New(nets.Config{
		BaseURL:     cfg.NetsBaseURL,
		SecretKey:   cfg.NetsSecretKey,
		WebhookAuth: cfg.NetsWebhookAuth,
		WebhookURL:  cfg.NetsWebhookURL,
		CheckoutURL: cfg.NetsCheckoutURL,
		TermsURL:    cfg.NetsTermsURL,
		Timeout:     cfg.ProviderTimeout,
	})
	if cfg.NetsSecretKey != "" {
		providers = append(providers, netsClient)
	} else {
		log.Warn("NETS_SECRET_KEY not set, nets payments disabled")
	}
	if cfg.SwishPayeeAlias != "" {
		swishClient, err := swish.New(swish.Config{
			BaseURL:     cfg.SwishBaseURL,
			PayeeAlias:  cfg.SwishPayeeAlias,
			CallbackURL: cfg.SwishCallbackURL,
			CertFile:    cfg.SwishCertFile,
			KeyFile:     cfg.SwishKeyFile,
			CAFile:      cfg.SwishCAFile,
			Timeout:     cfg.ProviderTimeout,
		})
		if err != nil {
			log.WithError(err).Fatal("swish client setup failed")
		}
		providers = append(providers, swishClient)
	} else {
		log.Warn("SWISH_PAYEE_ALIAS not set, swish payments disabled")
	}
	registry := payment.NewRegistry(providers...)

	slotRepo := repository.NewSlotRepository(db)
	backupRepo := repository.NewBackupRepository(db)
	ledgerService := ledger.NewService(db, log, clk)

	holdService := hold.NewService(hold.Dependencies{
		Slots:      slotRepo,
		Backups:    backupRepo,
		Discounts:  ledgerService,
		Canceller:  registry,
		Dispatcher: disp,
		Announcer:  publisher,
		Clock:      clk,
		Location:   loc,
		Logger:     log,
	})

	reconciler := payment.NewReconciler(payment.ReconcilerDeps{
		Slots:      slotRepo,
		Backups:    backupRepo,
		Holds:      holdService,
		Ledger:     ledgerService,
		Providers:  registry,
		Notifier:   notifier,
		Alerts:     alerts,
		Dispatcher: disp,
		Announcer:  publisher,
		Clock:      clk,
		Location:   loc,
		Logger:     log,
	})
	paymentService := payment.NewService(payment.ServiceDeps{
		Slots:      slotRepo,
		Holds:      holdService,
		Ledger:     ledgerService,
		Providers:  registry,
		Reconciler: reconciler,
		Dispatcher: disp,
		Nets:       netsClient,
		Logger:     log,
	})

	sweep := sweeper.New(sweeper.Config{
		Interval:   cfg.SweepInterval,
		StaleAfter: cfg.HoldStaleAfter,
	}, sweeper.Dependencies{
		Holds:      holdService,
		Slots:      slotRepo,
		Backups:    backupRepo,
		Providers:  registry,
		Discounts:  ledgerService,
		Alerts:     alerts,
		Dispatcher: disp,
		Announcer:  publisher,
		Clock:      clk,
		Logger:     log,
	})
	// holds do not survive a restart; whatever they left held is released here
	if report, err := sweep.RecoverOrphans(ctx); err != nil {
		log.WithError(err).Error("orphan recovery incomplete")
	} else if len(report.Released) > 0 {
		log.WithField("released", report.Released).Warn("released slots left over from previous run")
	}
	sweep.Start(ctx)

	jwt := jwtsvc.New(cfg.JWTSecret, cfg.JWTTTL)

	r := gin.New()
	r.Use(middleware.ErrorLogger(log), middleware.Metrics(), middleware.CORS(cfg.CORSOrigins))

	r.GET("/healthz", func(c *gin.Context) {
		sqlDB, err := db.DB()
		if err == nil {
			err = sqlDB.PingContext(c.Request.Context())
		}
		if err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "degraded", "error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok", "holds": len(holdService.List())})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	holdHandler := hold.NewHandler(holdService, log)
	paymentHandler := payment.NewHandler(paymentService, reconciler, registry, log)

	v1 := r.Group("/api/v1")
	{
		holdHandler.RegisterRoutes(v1)
		paymentHandler.RegisterRoutes(v1)
		paymentHandler.RegisterWebhookRoutes(v1)
		announce.NewHandler(hub, log).RegisterRoutes(v1)

		admin := v1.Group("/admin")
		admin.Use(middleware.JWTAuth(jwt), middleware.AdminOnly())
		{
			holdHandler.RegisterAdminRoutes(admin)
			sweeper.NewHandler(sweep, log).RegisterAdminRoutes(admin)
			alert.NewHandler(alerts, log).RegisterAdminRoutes(admin)
		}
	}

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		log.WithField("port", cfg.Port).Info("server started")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.WithError(err).Fatal("server failed")
		}
	}()

	<-ctx.Done()
	log.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Error("server shutdown failed")
	}
	sweep.Stop()
	disp.Stop()
}
