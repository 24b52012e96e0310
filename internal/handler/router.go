package handler

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"biliticket/referralhub/internal/config"
	"biliticket/referralhub/internal/handler/middleware"
	jwtpkg "biliticket/referralhub/pkg/jwt"
)

func SetupRouter(
	cfg *config.Config,
	logger *zap.Logger,
	jwtManager *jwtpkg.Manager,
	referralHandler *ReferralHandler,
	adminHandler *AdminHandler,
) *gin.Engine {
	if cfg.Server.Mode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()

	// Global middleware
	r.Use(middleware.Recovery(logger))
	r.Use(middleware.RequestLogger(logger))
	r.Use(middleware.CORS(cfg.CORS))

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// Public referral routes
	public := r.Group("/api/v1/referrals")
	{
		public.GET("/codes/:code/validate", referralHandler.ValidateCode)
	}

	limiter := middleware.NewRateLimiter(cfg.RateLimit.RegisterPerSecond, cfg.RateLimit.RegisterBurst)

	protected := r.Group("/api/v1/referrals")
	protected.Use(middleware.JWTAuth(jwtManager))
	{
		protected.POST("/register", limiter.Middleware(), referralHandler.Register)
		protected.GET("/code", referralHandler.MyCode)
		protected.GET("/direct", referralHandler.DirectReferrals)
		protected.GET("/network", referralHandler.Network)
		protected.GET("/stats", referralHandler.Stats)
	}

	// Admin routes (JWT + admin check)
	if adminHandler != nil {
		admin := r.Group("/api/v1/admin")
		admin.Use(middleware.JWTAuth(jwtManager))
		admin.Use(middleware.AdminAuth(cfg.Admin.UserIDs))
		{
			admin.POST("/referrals/users/:owner/code/deactivate", adminHandler.DeactivateCode)
			admin.POST("/referrals/users/:owner/code/rotate", adminHandler.RotateCode)
			admin.GET("/referrals/users/:owner/codes", adminHandler.ListCodes)
			admin.PUT("/referrals/codes/:code/max-uses", adminHandler.SetMaxUses)
			admin.POST("/referrals/:referred/revoke", adminHandler.RevokeReferral)

			admin.POST("/network/:user/recompute", adminHandler.Recompute)
			admin.POST("/network/rebuild", adminHandler.Rebuild)
		}
	}

	return r
}
