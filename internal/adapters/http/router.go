package http

import (
	"context"
	"path/filepath"

	"github.com/gin-contrib/sessions"
	"github.com/gin-contrib/sessions/cookie"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/securecookie"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/tabletop/internal/adapters/signal"
	"github.com/dkeye/tabletop/internal/config"
	"github.com/dkeye/tabletop/internal/metrics"
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

// sessionSecret falls back to a per-process random key, so sessions do not
// survive a restart when no secret is configured.
func sessionSecret(configured string) []byte {
	if configured != "" {
		return []byte(configured)
	}
	log.Warn().Str("module", "adapters.http").Msg("no session secret configured, using a random per-process key")
	return securecookie.GenerateRandomKey(32)
}

// Services are the collaborators behind the HTTP routes.
type Services struct {
	Signal  *signal.SignalWSController
	Status  StatusSource
	Uploads Uploader
	GIFs    GIFSearcher
	Voice   VoiceIssuer
	ICE     webrtc.Configuration
	Limiter *ClientRateLimiter
}

func SetupRouter(ctx context.Context, cfg *config.Config, svc Services) *gin.Engine {
	if cfg.Mode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	if cfg.Mode == "debug" {
		r.Use(gin.Logger())
	}
	r.Use(gin.Recovery())
	r.Use(metrics.Middleware())

	store := cookie.NewStore(sessionSecret(cfg.Secret))
	store.Options(sessions.Options{Path: "/", MaxAge: 3600 * 24 * 7, HttpOnly: true})
	r.Use(sessions.Sessions("TabletopSessions", store))
	r.Use(ClientTokenMiddleware())

	if cfg.StaticPath != "" {
		r.Static("/static", cfg.StaticPath)
		r.GET("/", func(c *gin.Context) {
			c.File(filepath.Join(cfg.StaticPath, "index.html"))
		})
	}

	r.GET("/healthz", handleHealth(svc.Status))
	r.GET("/metrics", gin.WrapH(metrics.Handler()))

	log.Info().Str("module", "adapters.http").Str("static", cfg.StaticPath).Msg("router setup")

	api := r.Group("/api")

	api.GET("/ws", func(c *gin.Context) {
		svc.Signal.HandleSignal(ctx, c)
	})
	api.POST("/nickname", handleNickname)
	api.GET("/voice/ice", handleICE(svc.ICE))

	relays := api.Group("")
	if svc.Limiter != nil {
		relays.Use(svc.Limiter.Middleware())
	}
	relays.POST("/upload", handleUpload(svc.Uploads))
	relays.GET("/gifs/search", handleGIFSearch(svc.GIFs))
	relays.POST("/voice/token", handleVoiceToken(svc.Voice))

	return r
}
