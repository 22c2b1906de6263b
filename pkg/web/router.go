package web

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/bytedance/sonic"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/LingByte/LingCall/internal/models"
	"github.com/LingByte/LingCall/pkg/callbot"
	"github.com/LingByte/LingCall/pkg/config"
	"github.com/LingByte/LingCall/pkg/logger"
	"github.com/LingByte/LingCall/pkg/utils"
)

// NewRouter builds the read-only monitoring API.
func NewRouter(cfg *config.Config, db *gorm.DB, orch *callbot.Orchestrator) *gin.Engine {
	if cfg.Server.Mode == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.New()
	r.Use(gin.Recovery(), requestLogger())

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	api := r.Group(cfg.Server.APIPrefix)
	{
		api.GET("/status", func(c *gin.Context) {
			c.JSON(http.StatusOK, gin.H{
				"server":       cfg.Server.Name,
				"registration": orch.RegistrationStatus(),
				"activeCalls":  len(orch.ActiveCalls()),
			})
		})

		api.GET("/active_calls", func(c *gin.Context) {
			// snapshots change every tick of a call, serialize with sonic
			data, err := sonic.Marshal(orch.ActiveCalls())
			if err != nil {
				c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
				return
			}
			c.Data(http.StatusOK, "application/json", data)
		})

		api.GET("/calls", func(c *gin.Context) {
			page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
			perPage, _ := strconv.Atoi(c.DefaultQuery("per_page", "20"))
			search := c.Query("search")

			calls, total, err := models.ListCalls(db, search, page, perPage)
			if err != nil {
				c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
				return
			}
			c.JSON(http.StatusOK, gin.H{
				"calls": calls,
				"total": total,
				"page":  page,
			})
		})

		api.GET("/calls/:id", func(c *gin.Context) {
			id, err := strconv.ParseUint(c.Param("id"), 10, 64)
			if err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": "invalid call id"})
				return
			}
			call, err := models.GetCallByID(db, uint(id))
			if err != nil {
				c.JSON(http.StatusNotFound, gin.H{"error": "call not found"})
				return
			}
			c.JSON(http.StatusOK, gin.H{
				"call":     call,
				"duration": call.DurationFormatted(),
			})
		})

		api.GET("/test_ollama", func(c *gin.Context) {
			client := orch.LLM().Ollama()
			if client == nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": "LLM provider is not ollama"})
				return
			}

			if cached, ok := utils.CacheGet("ollama:test"); ok {
				c.JSON(http.StatusOK, cached)
				return
			}

			ctx, cancel := context.WithTimeout(c.Request.Context(), 10*time.Second)
			defer cancel()
			version, modelCount, err := client.TestConnection(ctx)
			if err != nil {
				c.JSON(http.StatusBadGateway, gin.H{"connected": false, "error": err.Error()})
				return
			}
			result := gin.H{"connected": true, "version": version, "models": modelCount}
			utils.CacheSet("ollama:test", result)
			c.JSON(http.StatusOK, result)
		})

		api.GET("/settings", func(c *gin.Context) {
			settings, err := models.GetSettings(db)
			if err != nil {
				c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
				return
			}
			// never echo the SIP password
			out := *settings
			out.SIPPassword = ""
			c.JSON(http.StatusOK, out)
		})

		api.PUT("/settings", func(c *gin.Context) {
			current, err := models.GetSettings(db)
			if err != nil {
				c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
				return
			}

			var updated models.Settings
			if err := c.ShouldBindJSON(&updated); err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
				return
			}
			updated.ID = current.ID
			if updated.SIPPassword == "" {
				updated.SIPPassword = current.SIPPassword
			}

			if err := models.UpdateSettings(db, &updated); err != nil {
				c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
				return
			}

			// LLM and TTS fields take effect immediately; only SIP
			// changes need the re-registration pass below
			orch.ApplyServiceSettings(&updated)

			if updated.SIPChanged(current) {
				ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
				defer cancel()
				if err := orch.ApplySettings(ctx, &updated); err != nil {
					c.JSON(http.StatusOK, gin.H{
						"saved":        true,
						"reregistered": false,
						"error":        err.Error(),
					})
					return
				}
				c.JSON(http.StatusOK, gin.H{"saved": true, "reregistered": true})
				return
			}
			c.JSON(http.StatusOK, gin.H{"saved": true, "reregistered": false})
		})
	}

	return r
}

// requestLogger logs each request with the shared zap logger.
func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		logger.Debug("http request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)))
	}
}
