package api

import (
	"github.com/gin-contrib/gzip"
	"github.com/gin-gonic/gin"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"github.com/d60-Lab/ghostreply/config"
	_ "github.com/d60-Lab/ghostreply/docs"
	"github.com/d60-Lab/ghostreply/internal/api/handler"
	"github.com/d60-Lab/ghostreply/internal/api/middleware"
	"github.com/d60-Lab/ghostreply/internal/metrics"
)

// NewRouter 组装控制接口
func NewRouter(cfg *config.Config, h *handler.Handler, m *metrics.Metrics) *gin.Engine {
	gin.SetMode(cfg.Server.Mode)

	r := gin.New()
	r.Use(middleware.RequestID())
	r.Use(middleware.Logger())
	r.Use(gin.Recovery())
	r.Use(otelgin.Middleware(cfg.Tracing.ServiceName))
	r.Use(gzip.Gzip(gzip.DefaultCompression))
	if m != nil {
		r.Use(m.Middleware())
		r.GET("/metrics", m.Handler())
	}

	r.GET("/health", h.Health)
	if cfg.Server.Mode != gin.ReleaseMode {
		r.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	v1 := r.Group("/api/v1")
	if cfg.AuthEnabled() {
		v1.POST("/auth/token", h.IssueToken)
	}

	protected := v1.Group("")
	if cfg.AuthEnabled() {
		protected.Use(middleware.JWTAuth([]byte(cfg.Auth.JWTSecret)))
	}
	{
		control := protected.Group("/control")
		control.POST("/start", h.Start)
		control.POST("/stop", h.Stop)
		control.GET("/status", h.Status)

		drafts := protected.Group("/drafts")
		drafts.GET("", h.ListDrafts)
		drafts.GET("/:id", h.GetDraft)
		drafts.POST("/:id/approve", h.ApproveDraft)
		drafts.POST("/:id/reject", h.RejectDraft)
		drafts.POST("/:id/post", h.PostDraft)

		protected.GET("/tweets", h.ListTweets)
		protected.GET("/tweets/:id", h.GetTweet)
		protected.GET("/stats", h.Stats)
	}
	return r
}
