// README: HTTP router registration.
package http

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"dispatch/internal/http/handlers"
	"dispatch/internal/http/middleware"
	"dispatch/internal/infra"
	"dispatch/internal/logger"
	"dispatch/internal/metrics"
	"dispatch/internal/modules/account"
	"dispatch/internal/modules/dashboard"
	"dispatch/internal/modules/ledger"
	"dispatch/internal/modules/location"
	"dispatch/internal/modules/order"
	"dispatch/internal/modules/tracking"
	"dispatch/internal/types"
)

type RouterDeps struct {
	Orders    *order.Service
	Ledger    *ledger.Service
	Locations *location.Service
	Accounts  *account.Service
	Dashboard dashboard.Deps
	Tracking  tracking.Deps

	Verifier    infra.TokenVerifier
	Logger      *logger.Logger
	Metrics     *metrics.Dispatch
	Gatherer    prometheus.Gatherer
	CORSOrigins []string
}

func NewRouter(d RouterDeps) *gin.Engine {
	log := d.Logger
	if log == nil {
		log = logger.Nop()
	}

	r := gin.New()
	r.Use(middleware.Recovery(log), middleware.Logging(log, d.Metrics))
	r.Use(cors.New(corsConfig(d.CORSOrigins)))

	r.GET("/health", func(c *gin.Context) {
		c.String(http.StatusOK, "OK")
	})
	if d.Gatherer != nil {
		r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(d.Gatherer, promhttp.HandlerOpts{})))
	}

	var lookup middleware.RoleLookup
	if d.Accounts != nil {
		lookup = func(ctx context.Context, uid string) (string, error) {
			u, err := d.Accounts.Get(ctx, types.ID(uid))
			if err != nil {
				return "", err
			}
			return string(u.Role), nil
		}
	}
	auth := middleware.Auth(d.Verifier, lookup)
	riderOnly := middleware.RequireRole(string(account.RoleRider))
	customerOnly := middleware.RequireRole(string(account.RoleCustomer))

	orderHandler := handlers.NewOrderHandler(d.Orders, d.Ledger)
	riderHandler := handlers.NewRiderHandler(d.Orders, d.Ledger)
	locationHandler := handlers.NewLocationHandler(d.Locations)
	accountHandler := handlers.NewAccountHandler(d.Accounts, d.Locations)
	liveHandler := handlers.NewLiveHandler(d.Dashboard, d.Tracking, d.Ledger, d.CORSOrigins, log)

	api := r.Group("/api", auth)
	api.POST("/users/register", accountHandler.Register)
	api.POST("/logout", accountHandler.Logout)

	api.GET("/orders/:id", orderHandler.Get)
	customer := api.Group("", customerOnly)
	customer.POST("/orders", orderHandler.Create)
	customer.POST("/orders/:id/claim", orderHandler.Claim)
	customer.POST("/orders/:id/cancel", orderHandler.Cancel)
	customer.POST("/orders/:id/reopen", orderHandler.Reopen)
	customer.POST("/orders/:id/rate", orderHandler.Rate)
	customer.GET("/riders/nearby", locationHandler.Nearby)

	rider := api.Group("/rider", riderOnly)
	rider.POST("/orders/:id/accept", riderHandler.Accept)
	rider.POST("/orders/:id/reject", riderHandler.Reject)
	rider.POST("/orders/:id/status", riderHandler.ChangeStatus)
	rider.POST("/orders/:id/dismiss", riderHandler.Dismiss)
	rider.POST("/orders/:id/dismiss-tomorrow", riderHandler.DismissTomorrow)
	rider.POST("/orders/:id/start", riderHandler.StartScheduled)
	rider.POST("/orders/:id/withdraw", riderHandler.WithdrawScheduled)
	rider.GET("/history/:id", riderHandler.HistoryDetails)
	rider.DELETE("/history/:id", riderHandler.DeleteHistory)
	rider.GET("/wallet", riderHandler.Wallet)
	rider.PUT("/location", locationHandler.Update)
	rider.DELETE("/location", locationHandler.Remove)

	ws := r.Group("/ws", auth)
	ws.GET("/rider/dashboard", riderOnly, liveHandler.RiderDashboard)
	ws.GET("/orders/:id/track", customerOnly, liveHandler.TrackOrder)

	return r
}

func corsConfig(origins []string) cors.Config {
	cfg := cors.Config{
		AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Authorization", middleware.RequestIDHeader},
		ExposeHeaders:    []string{"Content-Length", middleware.RequestIDHeader},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}
	if len(origins) == 0 || (len(origins) == 1 && origins[0] == "*") {
		cfg.AllowAllOrigins = true
		cfg.AllowCredentials = false
	} else {
		cfg.AllowOrigins = origins
	}
	return cfg
}
