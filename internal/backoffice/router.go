package backoffice

import (
	"net/http"
	"strings"

	"github.com/evetabi/predex/internal/api/middleware"
	"github.com/evetabi/predex/internal/backoffice/handler"
	"github.com/evetabi/predex/internal/config"
	"github.com/evetabi/predex/internal/service"
	"github.com/evetabi/predex/internal/ws"
	"github.com/gin-gonic/gin"
)

// BackofficeDeps bundles every dependency needed for the admin router.
type BackofficeDeps struct {
	AuthSvc       *service.AuthService
	MarketSvc     *service.MarketService
	ResolutionSvc *service.ResolutionService
	SettlementSvc *service.SettlementService
	AuditSvc      *service.AuditService
	ArchiveSvc    *service.ArchiveService
	AccountSvc    *service.AccountService
	DepositSvc    *service.DepositService
	PriceSvc      *service.PriceService // nil = no oracle views
	Hub           *ws.Hub               // nil = no live connection count
	Cfg           *config.Config
}

// SetupBackofficeRouter creates the admin Gin engine served on the
// backoffice port.
func SetupBackofficeRouter(deps BackofficeDeps) *gin.Engine {
	if deps.Cfg.IsProd() {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(gin.Logger())
	r.Use(gin.Recovery())
	r.Use(ipWhitelistMiddleware(deps.Cfg.Server.BackofficeAllowedIPs))

	dashH := handler.NewDashboardHandler(deps.MarketSvc, deps.ArchiveSvc, deps.PriceSvc, deps.Hub, deps.Cfg)
	marketH := handler.NewMarketAdminHandler(deps.MarketSvc, deps.ResolutionSvc, deps.SettlementSvc, deps.AuditSvc, deps.ArchiveSvc, deps.AccountSvc)
	proposalH := handler.NewProposalAdminHandler(deps.ResolutionSvc)
	userH := handler.NewUserAdminHandler(deps.AccountSvc, deps.DepositSvc)
	riskH := handler.NewRiskHandler(deps.PriceSvc, deps.MarketSvc)
	financeH := handler.NewFinanceHandler(deps.MarketSvc, deps.AuditSvc, deps.AccountSvc)

	admin := r.Group("/admin")
	admin.Use(middleware.JWTMiddleware(deps.AuthSvc), middleware.AdminMiddleware())
	{
		admin.GET("/dashboard", dashH.Dashboard)

		// Markets
		m := admin.Group("/markets")
		{
			m.GET("", marketH.List)
			m.POST("", marketH.Create)
			m.GET("/:id", marketH.Detail)
			m.POST("/:id/cancel", marketH.Cancel)
			m.POST("/:id/settle", marketH.Settle)
			m.GET("/:id/audit", marketH.Audit)
			m.POST("/:id/oracle", marketH.ResolveByOracle)
			m.POST("/:id/archive", marketH.Archive)
		}

		// Proposals
		p := admin.Group("/proposals")
		{
			p.POST("", proposalH.Propose)
			p.POST("/:id/finalize", proposalH.Finalize)
		}

		// Users
		u := admin.Group("/users")
		{
			u.GET("/:address", userH.Detail)
			u.POST("/:address/deposits", userH.Deposit)
		}

		// Risk
		risk := admin.Group("/risk")
		{
			risk.GET("/exposure", riskH.Exposure)
			risk.GET("/price/:symbol", riskH.Price)
			risk.GET("/exchange-status", riskH.ExchangeStatus)
		}

		// Finance
		fin := admin.Group("/finance")
		{
			fin.GET("/report", financeH.Report)
			fin.GET("/ledger/:id", financeH.Ledger)
		}
	}

	return r
}

// ── IP whitelist middleware ───────────────────────────────────────────────────

// ipWhitelistMiddleware blocks requests from IPs not in the allowlist.
// allowedIPs is a comma-separated string; empty means allow all.
func ipWhitelistMiddleware(allowedIPs string) gin.HandlerFunc {
	if allowedIPs == "" {
		return func(c *gin.Context) { c.Next() } // dev mode: no restriction
	}

	allowed := make(map[string]bool)
	for _, ip := range strings.Split(allowedIPs, ",") {
		ip = strings.TrimSpace(ip)
		if ip != "" {
			allowed[ip] = true
		}
	}

	return func(c *gin.Context) {
		if !allowed[c.ClientIP()] {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{
				"success": false,
				"error":   "access denied: your IP is not whitelisted",
				"code":    "ERR_IP_DENIED",
			})
			return
		}
		c.Next()
	}
}
