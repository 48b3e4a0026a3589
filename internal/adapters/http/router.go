package http

import (
	"context"
	"crypto/rand"
	"net/http"
	"strings"

	"github.com/dkeye/Dialtone/internal/adapters/auth"
	"github.com/dkeye/Dialtone/internal/adapters/signal"
	"github.com/dkeye/Dialtone/internal/app/orch"
	"github.com/dkeye/Dialtone/internal/config"
	"github.com/gin-contrib/sessions"
	"github.com/gin-contrib/sessions/cookie"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
)

const (
	sessionName = "DialtoneSession"
	tokenKey    = "token"
)

// bearerToken picks the token from the Authorization header, the
// access_token query parameter or the cookie session, in that order.
func bearerToken(c *gin.Context) string {
	if h := c.GetHeader("Authorization"); strings.HasPrefix(h, "Bearer ") {
		return strings.TrimSpace(strings.TrimPrefix(h, "Bearer "))
	}
	if q := c.Query("access_token"); q != "" {
		return q
	}
	if v, ok := sessions.Default(c).Get(tokenKey).(string); ok {
		return v
	}
	return ""
}

func AuthMiddleware(idp auth.IdentityProvider) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, err := idp.Identify(bearerToken(c))
		if err != nil {
			log.Debug().Err(err).Str("module", "adapters.http").Str("path", c.FullPath()).Msg("unauthenticated request")
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthenticated"})
			return
		}
		auth.SetIdentity(c, id)
		c.Next()
	}
}

func cookieSecret(cfg *config.Config) []byte {
	if cfg.Secret != "" {
		return []byte(cfg.Secret)
	}
	b := make([]byte, 32)
	_, _ = rand.Read(b)
	log.Warn().Str("module", "adapters.http").Msg("no cookie secret configured, sessions will not survive restart")
	return b
}

func SetupRouter(ctx context.Context, cfg *config.Config, o *orch.Orchestrator, idp auth.IdentityProvider) *gin.Engine {
	if cfg.Mode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	if cfg.Mode == "debug" {
		r.Use(gin.Logger())
	}
	r.Use(gin.Recovery())

	store := cookie.NewStore(cookieSecret(cfg))
	store.Options(sessions.Options{Path: "/", MaxAge: 3600 * 24 * 7, HttpOnly: true, SameSite: http.SameSiteLaxMode})
	r.Use(sessions.Sessions(sessionName, store))

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	api := r.Group("/api")
	api.POST("/session", func(c *gin.Context) { createSession(c, idp) })
	api.DELETE("/session", deleteSession)

	ctrl := signal.NewSignalWSController(o, signal.Options{
		ReadLimit:    cfg.ReadLimit,
		PingPeriod:   cfg.PingPeriod,
		WriteTimeout: cfg.WriteTimeout,
		SendBuffer:   cfg.SendBuffer,
	})

	authed := api.Group("", AuthMiddleware(idp))
	authed.GET("/presence", func(c *gin.Context) { getPresence(c, o) })
	authed.GET("/calls", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"active": o.Calls.Active()})
	})
	authed.GET("/ws/signal", func(c *gin.Context) {
		log.Debug().Str("module", "adapters.http").Msg("ws signal endpoint hit")
		ctrl.HandleSignal(ctx, c)
	})

	log.Info().Str("module", "adapters.http").Msg("router setup")
	return r
}
