package routes

import (
	"net/http"
	"strings"
	"time"

	"campusconnect/auth"
	"campusconnect/handlers"
	"campusconnect/metrics"
	"campusconnect/middleware"
	"campusconnect/websocket"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
)

// Deps is everything the router needs besides the handlers.
type Deps struct {
	Handlers    *handlers.Handlers
	Tokens      *auth.Tokens
	Limiter     *middleware.RateLimiter
	WS          *websocket.Manager
	CORSOrigins []string
}

func SetupRouter(d Deps) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery(), middleware.RequestLogger(), metrics.Middleware())

	router.Use(cors.New(cors.Config{
		AllowOrigins:     d.CORSOrigins,
		AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "OPTIONS", "PATCH"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Authorization", "Accept", "X-Requested-With", middleware.RequestIDHeader},
		ExposeHeaders:    []string{"Content-Length", "Content-Type", middleware.RequestIDHeader},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}))

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "time": time.Now().Unix()})
	})
	router.GET("/metrics", gin.WrapH(metrics.Handler()))
	if d.WS != nil {
		router.GET("/ws", d.WS.Handler())
	}

	h := d.Handlers

	// Public routes (no auth required)
	public := router.Group("/api", d.Limiter.Middleware())
	public.POST("/auth/send-otp", h.SendOTP)
	public.POST("/auth/verify-otp", h.VerifyOTP)
	public.GET("/payment/packs", h.PaymentPacks)
	public.GET("/notifications/vapid-public-key", h.GetVapidPublicKey)

	protected := router.Group("/api", middleware.JWTAuth(d.Tokens), d.Limiter.Middleware())

	blind := protected.Group("/blind")
	blind.POST("/join", h.JoinBlindQueue)
	blind.POST("/leave", h.LeaveBlindQueue)
	blind.GET("/status", h.BlindStatus)
	blind.POST("/session/:id/message", h.SendBlindMessage)
	blind.GET("/session/:id/messages", h.BlindMessages)
	blind.POST("/session/:id/choice", h.BlindChoice)
	blind.POST("/session/:id/connect", h.BlindConnect)
	blind.POST("/session/:id/end", h.EndBlindSession)

	dating := protected.Group("/dating")
	dating.POST("/like/:userId", h.SendLike)
	dating.POST("/pass/:userId", h.PassUser)
	dating.GET("/likes", h.ReceivedLikes)
	dating.POST("/reveal/:likeId", h.RevealLike)
	dating.POST("/start-chat/:likeId", h.StartChat)
	dating.POST("/direct-chat/:likeId", h.DirectChat)
	dating.POST("/decline/:likeId", h.DeclineLike)
	dating.POST("/unmatch/:likeId", h.Unmatch)
	dating.GET("/active-chats", h.ActiveChats)
	dating.POST("/buy-likes", h.BuyLikes)
	dating.POST("/buy-chat-slot", h.BuyChatSlot)
	dating.GET("/recommendations", h.Recommendations)
	dating.GET("/my-status", h.MyStatus)
	dating.GET("/profile", h.GetProfile)
	dating.PUT("/profile", h.UpdateProfile)

	chat := protected.Group("/chat")
	chat.POST("/send", h.SendChatMessage)
	chat.GET("/:userId", h.ChatMessages)
	chat.PUT("/read/:userId", h.MarkChatRead)
	chat.DELETE("/:userId", h.DeleteConversation)

	rewards := protected.Group("/rewards")
	rewards.POST("/daily", h.ClaimDailyReward)
	rewards.GET("/status", h.RewardStatus)

	payment := protected.Group("/payment")
	payment.POST("/create-order", h.CreateOrder)
	payment.POST("/verify-payment", h.VerifyPayment)
	payment.GET("/history", h.PaymentHistory)

	notifications := protected.Group("/notifications")
	notifications.GET("", h.ListNotifications)
	notifications.PUT("/:id/read", h.MarkNotificationRead)
	notifications.PUT("/read-all", h.MarkAllNotificationsRead)
	notifications.POST("/subscribe", h.SubscribePush)

	router.NoRoute(func(c *gin.Context) {
		if strings.HasPrefix(c.Request.URL.Path, "/api") {
			c.JSON(http.StatusNotFound, gin.H{
				"error":   "NOT_FOUND",
				"message": "Endpoint not found",
				"path":    c.Request.URL.Path,
			})
			return
		}
		c.Status(http.StatusNotFound)
	})

	return router
}
