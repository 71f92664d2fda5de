package api

import (
	"net/http"
	"slices"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"github.com/comigor/shapeschat/internal/config"
	"github.com/comigor/shapeschat/internal/logger"
)

// NewRouter mounts the UI-facing API on a gin engine.
func NewRouter(h *Handler, cfg config.ServerConfig) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), requestLogger())

	headers := cors.DefaultConfig()
	if len(cfg.AllowedOrigins) == 0 || slices.Contains(cfg.AllowedOrigins, "*") {
		headers.AllowAllOrigins = true
	} else {
		headers.AllowOrigins = cfg.AllowedOrigins
	}
	headers.AllowMethods = []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"}
	headers.AllowHeaders = []string{"Origin", "Content-Type", "Accept"}
	r.Use(cors.New(headers))

	r.GET("/", h.Landing)

	channel := r.Group("/server/:persona/:channel")
	{
		channel.GET("", h.GetSession)
		channel.POST("/messages", h.SendMessage)
		channel.PATCH("/messages/:id", h.EditMessage)
		channel.POST("/messages/:id/edit", h.ToggleEdit)
		channel.DELETE("/messages/:id", h.DeleteMessage)
		channel.POST("/messages/:id/regenerate", h.Regenerate)
		channel.POST("/clear", h.Clear)
		channel.DELETE("/clear", h.CancelClear)
		channel.DELETE("/error", h.DismissError)
	}

	api := r.Group("/api")
	{
		api.GET("/personas", h.ListPersonas)
		api.POST("/personas", h.RegisterPersona)
		api.GET("/personas/:id", h.GetPersona)
		api.POST("/personas/:id/avatar", h.RefreshAvatar)

		api.GET("/credential", h.GetCredential)
		api.PUT("/credential", h.SetCredential)
		api.DELETE("/credential", h.ClearCredential)
	}

	r.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
	})
	return r
}

func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		logger.L.Debug("http request",
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", c.Writer.Status(),
			"duration", time.Since(start),
		)
	}
}
