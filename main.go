package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"campusconnect/activity"
	"campusconnect/auth"
	"campusconnect/blinddate"
	"campusconnect/chat"
	"campusconnect/cleanup"
	"campusconnect/config"
	"campusconnect/database"
	"campusconnect/handlers"
	"campusconnect/ledger"
	"campusconnect/likes"
	"campusconnect/matchmaking"
	"campusconnect/middleware"
	"campusconnect/notify"
	"campusconnect/payments"
	"campusconnect/profile"
	"campusconnect/recommend"
	"campusconnect/rewards"
	"campusconnect/routes"
	"campusconnect/store/mongostore"
	"campusconnect/ttlcache"
	"campusconnect/websocket"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logrus.WithError(err).Fatal("invalid configuration")
	}
	cfg.ConfigureLogger()
	logrus.Info("Starting CampusConnect backend")

	if err := database.ConnectMongoWithRetry(cfg.MongoURI, cfg.MongoDatabase, 3, 2*time.Second); err != nil {
		logrus.WithError(err).Fatal("failed to connect to MongoDB")
	}
	defer database.DisconnectMongo()

	if err := database.ConnectRedis(cfg.RedisURL); err != nil {
		logrus.WithError(err).Fatal("failed to connect to Redis")
	}
	defer database.DisconnectRedis()

	store := mongostore.New(database.DB)
	indexCtx, cancelIndex := context.WithTimeout(context.Background(), 30*time.Second)
	if err := store.EnsureIndexes(indexCtx); err != nil {
		cancelIndex()
		logrus.WithError(err).Fatal("failed to create indexes")
	}
	cancelIndex()
	cache := ttlcache.New(database.Redis, "campusconnect")

	if cfg.Release() {
		gin.SetMode(gin.ReleaseMode)
	}

	// ===== SERVICES =====
	tokens := auth.NewTokens(cfg.JWTSecret, cfg.JWTExpiry)
	wsManager := websocket.NewManager(tokens)

	var pusher notify.Pusher
	if cfg.VAPIDPublicKey != "" && cfg.VAPIDPrivateKey != "" {
		pusher = &notify.WebPusher{
			PublicKey:  cfg.VAPIDPublicKey,
			PrivateKey: cfg.VAPIDPrivateKey,
			Subscriber: cfg.VAPIDSubscriber,
		}
	} else {
		logrus.Warn("VAPID keys not set, web push disabled (generate them with cmd/vapidkeys)")
	}
	notifier := notify.NewService(store, wsManager, pusher, cfg.VAPIDPublicKey)

	logger := activity.NewStoreLogger(store)
	ledgerSvc := ledger.NewService(store, logger)
	rewardSvc := rewards.NewService(store, logger)
	likeSvc := likes.NewService(store, ledgerSvc, notifier, logger)
	recommendSvc := recommend.NewService(store, likeSvc, cache)
	likeSvc.WithInvalidator(recommendSvc)

	h := &handlers.Handlers{
		Auth: auth.NewService(store, cache, auth.LogSender{}, tokens, logger).
			WithReferrer(rewardSvc).
			WithEcho(cfg.OTPEcho),
		Ledger:      ledgerSvc,
		Likes:       likeSvc,
		Matchmaking: matchmaking.NewService(store, notifier),
		Blind: blinddate.NewService(store, ledgerSvc, notifier, logger).
			WithChoiceGrace(cfg.ChoiceGrace),
		Chat:          chat.NewService(store, notifier, likeSvc, logger).WithRewarder(rewardSvc),
		Rewards:       rewardSvc,
		Payments:      payments.NewService(store, ledgerSvc, payments.DevGateway{}, cfg.PaymentKeySecret, logger),
		Profiles:      profile.NewService(store, rewardSvc, recommendSvc),
		Recommend:     recommendSvc,
		Notifications: notifier,
	}

	// ===== BACKGROUND WORK =====
	bgCtx, stopBackground := context.WithCancel(context.Background())
	go wsManager.Start(bgCtx)

	limiter := middleware.NewRateLimiter(float64(cfg.RateLimitPerSec), cfg.RateLimitBurst)
	limiter.StartCleanup(time.Minute, bgCtx.Done())

	sweeper := cleanup.New(store, notifier)
	if err := sweeper.Start(cfg.SweepSchedule); err != nil {
		logrus.WithError(err).Fatal("failed to start cleanup sweeper")
	}

	// ===== SERVER =====
	router := routes.SetupRouter(routes.Deps{
		Handlers:    h,
		Tokens:      tokens,
		Limiter:     limiter,
		WS:          wsManager,
		CORSOrigins: cfg.CORSOrigin,
	})

	server := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logrus.WithField("port", cfg.Port).Info("Server listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logrus.WithError(err).Fatal("server error")
		}
	}()

	// ===== GRACEFUL SHUTDOWN =====
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logrus.Info("Shutting down server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logrus.WithError(err).Warn("forced shutdown")
	}
	sweeper.Stop(shutdownCtx)
	stopBackground()
	notifier.Wait()

	logrus.Info("Server stopped gracefully")
}
