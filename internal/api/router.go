package api

import (
	"net/http"

	"github.com/evetabi/predex/internal/api/handler"
	"github.com/evetabi/predex/internal/api/middleware"
	"github.com/evetabi/predex/internal/config"
	"github.com/evetabi/predex/internal/metrics"
	"github.com/evetabi/predex/internal/service"
	"github.com/evetabi/predex/internal/ws"
	"github.com/gin-gonic/gin"
)

// RouterDeps bundles every dependency needed to build the router.
// Populated once in main() and passed to SetupRouter.
type RouterDeps struct {
	AuthSvc       *service.AuthService
	MarketSvc     *service.MarketService
	TradeSvc      *service.TradeService
	OrderSvc      *service.OrderService
	LiquiditySvc  *service.LiquidityService
	ClaimSvc      *service.ClaimService
	ResolutionSvc *service.ResolutionService
	DepositSvc    *service.DepositService
	AccountSvc    *service.AccountService
	Metrics       *metrics.Metrics // nil = /metrics answers 404
	Hub           *ws.Hub          // nil = no /ws endpoint
	Cfg           *config.Config
}

// SetupRouter creates and configures the main Gin engine with all routes,
// middleware, CORS, and rate limiting rules.
func SetupRouter(deps RouterDeps) *gin.Engine {
	if deps.Cfg.IsProd() {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(gin.Logger())
	r.Use(gin.Recovery())

	// ── CORS ─────────────────────────────────────────────────────────────────
	r.Use(corsMiddleware(deps.Cfg))

	// ── Health check / metrics ───────────────────────────────────────────────
	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(deps.Metrics.Handler()))

	// ── Handlers ─────────────────────────────────────────────────────────────
	userH := handler.NewUserHandler(deps.AuthSvc, deps.AccountSvc, deps.DepositSvc)
	marketH := handler.NewMarketHandler(deps.MarketSvc, deps.TradeSvc, deps.OrderSvc)
	tradeH := handler.NewTradeHandler(deps.TradeSvc, deps.OrderSvc, deps.LiquiditySvc, deps.ClaimSvc)
	resolutionH := handler.NewResolutionHandler(deps.ResolutionSvc)

	// ── JWT middleware (shared) ───────────────────────────────────────────────
	jwtMW := middleware.JWTMiddleware(deps.AuthSvc)

	// ── Rate limiters ─────────────────────────────────────────────────────────
	authRL := middleware.RateLimitMiddleware(10) // 10 req/s per IP for auth endpoints
	tradeRL := middleware.RateLimitMiddleware(deps.Cfg.Server.RateLimitRPS)

	api := r.Group("/api")
	{
		// ── Auth (public, strict rate limit) ─────────────────────────────────
		auth := api.Group("/auth")
		auth.Use(authRL)
		{
			auth.GET("/message", userH.LoginMessage)
			auth.POST("/login", userH.Login)
			auth.POST("/refresh", userH.Refresh)
		}

		// ── Markets (public) ─────────────────────────────────────────────────
		markets := api.Group("/markets")
		{
			markets.GET("", marketH.ListMarkets)
			markets.GET("/:id", marketH.GetByID)
			markets.GET("/:id/orderbook", marketH.OrderBook)
			markets.GET("/:id/quote", marketH.Quote)
		}
		api.GET("/proposals/:id", resolutionH.Get)

		// ── Authenticated routes ──────────────────────────────────────────────
		authed := api.Group("")
		authed.Use(jwtMW, tradeRL)
		{
			// Profile
			authed.GET("/me/balance", userH.Balance)
			authed.GET("/me/positions", userH.Positions)
			authed.POST("/deposits", userH.Deposit)

			// Markets
			authed.POST("/markets", marketH.Create)
			authed.POST("/markets/:id/buy", tradeH.Buy)
			authed.POST("/markets/:id/sell", tradeH.Sell)
			authed.POST("/markets/:id/liquidity", tradeH.AddLiquidity)
			authed.DELETE("/markets/:id/liquidity", tradeH.RemoveLiquidity)
			authed.POST("/markets/:id/claim", tradeH.Claim)

			// Orders
			authed.POST("/orders", tradeH.PlaceOrder)
			authed.DELETE("/orders/:id", tradeH.CancelOrder)

			// Resolution
			authed.POST("/proposals", resolutionH.Propose)
			authed.POST("/proposals/:id/challenge", resolutionH.Challenge)
			authed.POST("/proposals/:id/finalize", resolutionH.Finalize)
		}
	}

	// ── WebSocket ─────────────────────────────────────────────────────────────
	if deps.Hub != nil {
		r.GET("/ws", func(c *gin.Context) {
			deps.Hub.ServeWs(c.Writer, c.Request)
		})
	}

	return r
}

// ── CORS helper ───────────────────────────────────────────────────────────────

// corsMiddleware returns a gin middleware that sets appropriate CORS headers.
// Outside production all origins are allowed; in production only the
// configured origins.
func corsMiddleware(cfg *config.Config) gin.HandlerFunc {
	allowed := make(map[string]bool, len(cfg.Server.AllowedOrigins))
	for _, o := range cfg.Server.AllowedOrigins {
		allowed[o] = true
	}
	return func(c *gin.Context) {
		origin := c.Request.Header.Get("Origin")

		if !cfg.IsProd() || allowed["*"] {
			c.Header("Access-Control-Allow-Origin", "*")
		} else if origin != "" && allowed[origin] {
			c.Header("Access-Control-Allow-Origin", origin)
			c.Header("Vary", "Origin")
		}

		c.Header("Access-Control-Allow-Methods", "GET, POST, PUT, PATCH, DELETE, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Authorization, Content-Type, X-Request-ID")
		c.Header("Access-Control-Max-Age", "86400")

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}
