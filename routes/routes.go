package routes

import (
	"time"

	"branch-orders-api/handlers"
	"branch-orders-api/logger"
	"branch-orders-api/middleware"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
)

// NewRouter builds the engine with the shared middleware stack and all routes.
func NewRouter(corsOrigins []string) *gin.Engine {
	if err := handlers.RegisterValidators(); err != nil {
		logger.For("routes").WithError(err).Fatal("failed to register validators")
	}

	r := gin.New()
	r.Use(gin.Recovery(), middleware.RequestLogger())
	r.Use(cors.New(corsConfig(corsOrigins)))

	r.GET("/health", handlers.Health)
	SetupRoutes(r)
	return r
}

func corsConfig(origins []string) cors.Config {
	cfg := cors.Config{
		AllowMethods:  []string{"GET", "POST", "PATCH", "DELETE", "OPTIONS"},
		AllowHeaders:  []string{"Origin", "Content-Type", "Authorization", "X-API-Key", handlers.IdempotencyHeader},
		ExposeHeaders: []string{"Content-Length"},
		MaxAge:        12 * time.Hour,
	}
	if len(origins) == 0 || (len(origins) == 1 && origins[0] == "*") {
		cfg.AllowAllOrigins = true
	} else {
		cfg.AllowOrigins = origins
	}
	return cfg
}

func SetupRoutes(r *gin.Engine) {
	// ── Public routes ──────────────────────────────────────────────
	public := r.Group("/api")
	public.Use(middleware.APIKeyRequired())
	{
		// Auth
		public.POST("/auth/branch-login", handlers.BranchLogin)

		// Menu (read-only)
		public.GET("/menu/categories", handlers.ListCategories)
		public.GET("/menu/items", handlers.ListMenuItems)

		// State machine info
		public.GET("/state-machine", handlers.GetStateMachineInfo)
	}

	// ── Session routes ─────────────────────────────────────────────
	auth := r.Group("/api/auth")
	auth.Use(middleware.APIKeyRequired(), middleware.AuthRequired())
	{
		auth.GET("/session", handlers.GetSession)
		auth.POST("/refresh", handlers.RefreshSession)
		auth.POST("/logout", handlers.Logout)
		auth.GET("/branch", handlers.GetBranch)
	}

	// ── Branch order routes ────────────────────────────────────────
	orders := r.Group("/api/orders")
	orders.Use(middleware.APIKeyRequired(), middleware.AuthRequired(), middleware.BranchRequired())
	{
		orders.GET("", handlers.ListOrders)
		orders.POST("", handlers.PlaceOrder)
		orders.GET("/feed", handlers.OrderFeed)
		orders.GET("/:id", handlers.GetOrder)
		orders.GET("/:id/history", handlers.GetOrderHistory)
		orders.PATCH("/:id/status", handlers.UpdateOrderStatus)
		orders.DELETE("/:id", handlers.DeleteOrder)
	}
}
