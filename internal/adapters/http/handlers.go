package http

import (
	"net/http"

	"github.com/dkeye/Dialtone/internal/adapters/auth"
	"github.com/dkeye/Dialtone/internal/app/orch"
	"github.com/gin-contrib/sessions"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
)

type sessionRequest struct {
	Token string `json:"token" binding:"required"`
}

// createSession verifies a token and keeps it in the session cookie so
// browser clients can open the signaling socket without a header.
func createSession(c *gin.Context, idp auth.IdentityProvider) {
	var req sessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "bad_payload"})
		return
	}
	id, err := idp.Identify(req.Token)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthenticated"})
		return
	}
	s := sessions.Default(c)
	s.Set(tokenKey, req.Token)
	if err := s.Save(); err != nil {
		log.Error().Err(err).Str("module", "adapters.http").Msg("save session")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"userName": id.Name, "name": id.DisplayName})
}

func deleteSession(c *gin.Context) {
	s := sessions.Default(c)
	s.Clear()
	s.Options(sessions.Options{Path: "/", MaxAge: -1})
	if err := s.Save(); err != nil {
		log.Error().Err(err).Str("module", "adapters.http").Msg("clear session")
	}
	c.Status(http.StatusNoContent)
}

func getPresence(c *gin.Context, o *orch.Orchestrator) {
	c.JSON(http.StatusOK, orch.PresenceEvent(o.Registry.Snapshot()))
}
