package server

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/InsereNomen/AlderSync/internal/server/handlers/admin"
	"github.com/InsereNomen/AlderSync/internal/server/handlers/files"
	"github.com/InsereNomen/AlderSync/internal/server/handlers/tx"
	"github.com/InsereNomen/AlderSync/internal/server/middlewares"
	"github.com/InsereNomen/AlderSync/internal/version"
)

func SetupRoutes(svc *Services, config *Config) (http.Handler, error) {
	r := gin.New()
	r.MaxMultipartMemory = 8 << 20 // 8 MiB

	txH := tx.New(svc.Orchestrator, svc.Staging)
	filesH := files.New(svc.Store, svc.Orchestrator, svc.Ignore)
	adminH := admin.New(svc.Orchestrator, svc.Locks, svc.Audit, svc.Clock)

	r.Use(middlewares.Logger(config.accessLogOptions()))
	r.Use(gin.Recovery())
	r.Use(middlewares.GZIP())
	r.Use(middlewares.CORS())
	if opts, ok := config.secureOptions(); ok {
		r.Use(middlewares.Secure(opts))
	}

	r.GET("/", IndexHandler)
	r.GET("/healthz", HealthHandler)

	v1 := r.Group("/api/v1")
	if config.HTTP.RateLimit != "" {
		limiter, err := middlewares.RateLimiter(config.HTTP.RateLimit)
		if err != nil {
			return nil, err
		}
		v1.Use(limiter)
	}
	v1.Use(middlewares.JWTAuth(svc.Auth))
	{
		v1.GET("/status", adminH.Status)

		// transactions
		v1.POST("/tx/begin", txH.Begin)
		v1.GET("/tx/:id/plan", txH.Plan)
		v1.PUT("/tx/:id/files", txH.Upload)
		v1.POST("/tx/:id/apply", txH.Apply)
		v1.POST("/tx/:id/rollback", txH.Rollback)

		// files
		v1.GET("/files/:service", filesH.List)
		v1.GET("/files/:service/content", filesH.Content)
		v1.GET("/files/:service/history", filesH.History)
		v1.POST("/files/:service/restore", filesH.Restore)
	}

	adminGroup := v1.Group("/admin")
	adminGroup.Use(middlewares.AdminOnly(svc.Auth))
	{
		adminGroup.GET("/transactions", adminH.Transactions)
		adminGroup.POST("/transactions/:id/cancel", adminH.Cancel)
		adminGroup.GET("/operations", adminH.Operations)
		adminGroup.GET("/changelists", adminH.Changelists)
	}

	r.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, gin.H{
			"error": "not found",
		})
	})

	r.NoMethod(func(c *gin.Context) {
		c.JSON(http.StatusMethodNotAllowed, gin.H{
			"error": "method not allowed",
		})
	})

	return r.Handler(), nil
}

func IndexHandler(ctx *gin.Context) {
	ctx.String(http.StatusOK, version.DetailedWithApp())
}

func HealthHandler(ctx *gin.Context) {
	ctx.PureJSON(http.StatusOK, gin.H{
		"status": "ok",
	})
}

func init() {
	gin.SetMode(gin.ReleaseMode)
}
