package apiroutes

import (
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/mediashield/go-secure-media-server/api"
	restinterceptors "github.com/mediashield/go-secure-media-server/api/interceptors"
	apiutil "github.com/mediashield/go-secure-media-server/api/util"
	"github.com/mediashield/go-secure-media-server/global"
	"github.com/mediashield/go-secure-media-server/metrics"
	"github.com/mediashield/go-secure-media-server/queue"
	"github.com/mediashield/go-secure-media-server/repository"
	"github.com/mediashield/go-secure-media-server/services"
	"github.com/mediashield/go-secure-media-server/types"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Services are the wired dependencies the handlers are built from
type Services struct {
	Tokens      *services.TokenService
	Assets      repository.AssetCatalog
	Revocations *services.RevocationService
	Rotation    *services.RotationService
	Risk        *services.RiskService
	BlockList   *services.BlockList
	Validator   *services.EdgeValidator
	Tasks       queue.TaskEnqueuer
	Viewers     *apiutil.ViewerResolver
}

// REST API routes
func ConfigRoutes(router *gin.Engine, svc *Services) *gin.Engine {
	if err := svc.Viewers.TrustProxies(router); err != nil {
		panic(err)
	}

	// init metrics
	if global.Conf.Prometheus.Enabled {

		metrics.InitMetrics()

		authorized := router.Group("/metrics", gin.BasicAuth(gin.Accounts{
			global.Conf.Prometheus.Username: global.Conf.Prometheus.Password,
		}))

		authorized.GET("", gin.WrapH(promhttp.Handler()))
	}

	if len(global.Conf.Cors.AllowOrigins) > 0 {
		router.Use(cors.New(cors.Config{
			AllowOrigins:  global.Conf.Cors.AllowOrigins,
			AllowMethods:  []string{"GET", "POST", "PUT"},
			AllowHeaders:  []string{"Origin", "Content-Type", "Authorization"},
			ExposeHeaders: []string{"X-RateLimit-Limit", "X-RateLimit-Remaining", "X-RateLimit-Reset"},
			MaxAge:        12 * time.Hour,
		}))
	}

	// API definitions
	healthApi := api.NewHealthCheckAPI()
	tokenApi := api.NewTokenApi(svc.Tokens, svc.Assets, svc.Viewers)
	sessionApi := api.NewSessionApi(svc.Revocations)
	assetApi := api.NewAssetApi(svc.Assets)
	adminApi := api.NewAdminApi(svc.Tasks, svc.Rotation, svc.Risk, svc.BlockList)

	router.GET("/healthz", healthApi.HealthCheck)

	// PUBLIC API
	publicApi := router.Group("/api", metrics.MetricsMiddleware(), restinterceptors.RateLimitMiddleware(svc.Viewers))
	{
		publicApi.GET("/v1/token", tokenApi.GenerateToken)
		publicApi.POST("/v1/session/revoke", sessionApi.Revoke)
	}

	// ADMIN API with basic authentication (disabled without credentials)
	if global.Conf.Admin.Username != "" {
		adminGroup := router.Group("/api/v1", metrics.MetricsMiddleware(), gin.BasicAuth(gin.Accounts{
			global.Conf.Admin.Username: global.Conf.Admin.Password,
		}))
		adminGroup.PUT("/assets/:id/policy", assetApi.UpdatePolicy)
		adminGroup.POST("/admin/rotate", adminApi.Enqueue(types.QueueTypeRotateSecrets))
		adminGroup.POST("/admin/initialize", adminApi.Enqueue(types.QueueTypeInitSecrets))
		adminGroup.POST("/admin/autorevoke", adminApi.Enqueue(types.QueueTypeAutoRevocation))
		adminGroup.POST("/admin/rulegroup", adminApi.Enqueue(types.QueueTypeRuleGroupRebuild))
		adminGroup.GET("/admin/rotation", adminApi.RotationStatus)
		adminGroup.GET("/admin/query", adminApi.RiskQuery)
		adminGroup.GET("/admin/blocklist", adminApi.BlockList)
	}

	return router
}

// Edge routes: every request must carry a valid token in its first path segment
func ConfigEdgeRoutes(router *gin.Engine, svc *Services) (*gin.Engine, error) {
	proxy, err := api.NewEdgeProxy(global.Conf.Edge.Origin)
	if err != nil {
		return nil, err
	}
	if err := svc.Viewers.TrustProxies(router); err != nil {
		return nil, err
	}
	router.Use(
		restinterceptors.BlockListMiddleware(svc.BlockList),
		restinterceptors.EdgeTokenMiddleware(svc.Validator, svc.Viewers),
	)
	router.NoRoute(proxy.Serve)
	return router, nil
}
