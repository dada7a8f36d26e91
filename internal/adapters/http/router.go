package http

import (
	"context"
	"net/http"

	"github.com/gin-contrib/sessions"
	"github.com/gin-contrib/sessions/cookie"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"

	"github.com/mattias800/miscord/internal/adapters/signal"
	"github.com/mattias800/miscord/internal/app/orch"
	"github.com/mattias800/miscord/internal/config"
	"github.com/mattias800/miscord/internal/domain"
)

func genClientToken() string {
	idStr := uuid.NewString()
	return idStr
}

func ClientTokenMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		token, _ := c.Cookie("ct")
		if token == "" {
			token = genClientToken()
			c.SetCookie("ct", token, 3600*24*7, "/", "", false, true)
		}
		c.Set("client_token", token)
		c.Next()
	}
}

func SetupRouter(ctx context.Context, cfg *config.Config, o *orch.Orchestrator, ctl *signal.SignalWSController) *gin.Engine {
	if cfg.Mode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	if cfg.Mode == "debug" {
		r.Use(gin.Logger())
	}
	r.Use(gin.Recovery())

	store := cookie.NewStore([]byte(cfg.Secret))
	r.Use(sessions.Sessions("MiscordSessions", store))
	r.Use(ClientTokenMiddleware())

	r.Static("/static", cfg.StaticPath)
	r.GET("/", func(c *gin.Context) {
		c.File(cfg.StaticPath + "/index.html")
	})

	log.Info().Str("module", "adapters.http").Str("static", cfg.StaticPath).Msg("router setup")

	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	api := r.Group("/api")

	api.GET("/channels", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"channels": o.Channels.List()})
	})

	api.POST("/channels", func(c *gin.Context) {
		var req struct {
			Name string `json:"name"`
			Kind string `json:"kind"`
		}
		if err := c.BindJSON(&req); err != nil || req.Name == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid name"})
			return
		}
		kind := domain.ChannelText
		if req.Kind == "voice" {
			kind = domain.ChannelVoice
		}
		roster := o.Channels.Create(domain.ChannelName(req.Name), kind)
		c.JSON(http.StatusOK, gin.H{
			"id":   roster.Channel().ID,
			"name": roster.Channel().Name,
		})
	})

	api.GET("/channels/:id", func(c *gin.Context) {
		id := domain.ChannelID(c.Param("id"))
		roster, ok := o.Channels.Get(id)
		if !ok {
			c.JSON(http.StatusNotFound, gin.H{"error": "channel not found"})
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"id":          roster.Channel().ID,
			"name":        roster.Channel().Name,
			"memberCount": roster.MemberCount(),
		})
	})

	api.DELETE("/channels/:id", func(c *gin.Context) {
		id := domain.ChannelID(c.Param("id"))
		o.EvictChannel(id)
		c.Status(http.StatusNoContent)
	})

	api.GET("/channels/:id/members", func(c *gin.Context) {
		id := domain.ChannelID(c.Param("id"))
		roster, ok := o.Channels.Get(id)
		if !ok {
			c.JSON(http.StatusNotFound, gin.H{"error": "channel not found"})
			return
		}
		c.JSON(http.StatusOK, roster.MembersSnapshot())
	})

	api.GET("/ws/signal", func(c *gin.Context) {
		log.Info().Str("module", "adapters.http").Str("sid", c.GetString("client_token")).Msg("ws signal endpoint hit")
		ctl.HandleSignal(ctx, c)
	})

	return r
}
