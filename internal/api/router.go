package api

import (
	"net/http"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/aiwuxian/codelove/internal/models"
)

// NewRouter 组装路由和中间件
func NewRouter(h *Handler, cfg models.ServerConfig, log *zap.Logger) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), RequestLogger(log.Named("http")))

	if len(cfg.CORSOrigins) > 0 {
		corsCfg := cors.DefaultConfig()
		corsCfg.AllowOrigins = cfg.CORSOrigins
		corsCfg.AddAllowHeaders("Authorization", PlayerHeader)
		r.Use(cors.New(corsCfg))
	}

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	apiGroup := r.Group("/api", TokenAuth(cfg.APIToken))
	{
		// 故事
		apiGroup.GET("/stories", h.ListStories)
		apiGroup.GET("/stories/:id", h.GetStory)
		apiGroup.GET("/stories/:id/script", h.GetScript)

		// 选项、评测、结局
		apiGroup.POST("/choices/select", h.SelectChoice)
		apiGroup.POST("/problems/:storyId/submit-code", h.SubmitCode)
		apiGroup.POST("/endings/resolve", h.ResolveEnding)

		// 玩家
		apiGroup.GET("/affinities", h.ListAffinities)
		apiGroup.GET("/submissions", h.ListSubmissions)

		// 存档
		apiGroup.GET("/progress/saves", h.ListSaves)
		apiGroup.PUT("/progress/save", h.SaveGame)
		apiGroup.GET("/progress/save", h.LoadGame)
		apiGroup.DELETE("/progress/save", h.DeleteSave)
	}

	return r
}
