package http

import (
	"context"
	"crypto/rand"
	"net/http"

	"github.com/dkeye/podcast/internal/adapters/signal"
	"github.com/dkeye/podcast/internal/app/orch"
	"github.com/dkeye/podcast/internal/auth"
	"github.com/dkeye/podcast/internal/config"
	"github.com/gin-contrib/sessions"
	"github.com/gin-contrib/sessions/cookie"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
)

const sessionCookie = "PodcastSessions"

func cookieSecret(cfg *config.Config) []byte {
	if cfg.Secret != "" {
		return []byte(cfg.Secret)
	}
	log.Warn().Str("module", "adapters.http").Msg("no cookie secret configured, using a random one")
	return []byte(rand.Text())
}

func SetupRouter(ctx context.Context, cfg *config.Config, o *orch.Orchestrator, creds *auth.Store, gatherer prometheus.Gatherer) *gin.Engine {
	if cfg.Mode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	if cfg.Mode == "debug" {
		r.Use(gin.Logger())
	}
	r.Use(gin.Recovery())

	store := cookie.NewStore(cookieSecret(cfg))
	store.Options(sessions.Options{
		Path:     "/",
		MaxAge:   7 * 24 * 3600,
		HttpOnly: true,
		SameSite: http.SameSiteStrictMode,
	})
	r.Use(sessions.Sessions(sessionCookie, store))

	r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))

	h := &handlers{
		orch: o,
		signal: signal.NewSignalWSController(o, signal.Options{
			ReadLimit:    cfg.ReadLimit,
			PingPeriod:   cfg.PingPeriod,
			RateLimit:    cfg.Signal.RateLimit,
			RateInterval: cfg.Signal.RateInterval,

			AllowedOrigins: cfg.Signal.AllowedOrigins,
		}),
	}

	api := r.Group("/api")
	api.Use(AuthMiddleware(creds))

	api.POST("/podcasts", h.createPodcast)
	api.GET("/podcasts", h.listPodcasts)
	api.GET("/podcasts/:id", h.getPodcast)
	api.GET("/ws/signal", func(c *gin.Context) {
		h.openSignal(ctx, c)
	})

	log.Info().Str("module", "adapters.http").Str("mode", cfg.Mode).Msg("router setup")
	return r
}
