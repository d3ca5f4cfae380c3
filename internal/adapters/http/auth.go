package http

import (
	"net/http"

	"github.com/dkeye/podcast/internal/auth"
	"github.com/dkeye/podcast/internal/domain"
	"github.com/gin-contrib/sessions"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
)

const (
	headerClientID     = "client_id"
	headerClientSecret = "client_secret"

	participantKey = "participant"
)

// AuthMiddleware authenticates by the client_id/client_secret headers. A
// successful header login is remembered in the session cookie, which lets a
// browser WebSocket, unable to send custom headers, authenticate as well.
func AuthMiddleware(store *auth.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, secret := c.GetHeader(headerClientID), c.GetHeader(headerClientSecret)
		sess := sessions.Default(c)

		if id == "" && secret == "" {
			if p, ok := cookieParticipant(sess, store); ok {
				c.Set(participantKey, p)
				c.Next()
				return
			}
		}

		p, err := store.Verify(id, secret)
		if err != nil {
			log.Warn().Err(err).Str("module", "adapters.http").Str("path", c.FullPath()).Msg("unauthorized")
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": err.Error()})
			return
		}
		if sess.Get(participantKey) != p.String() {
			sess.Set(participantKey, p.String())
			if err := sess.Save(); err != nil {
				log.Error().Err(err).Str("module", "adapters.http").Msg("save session cookie")
			}
		}
		c.Set(participantKey, p)
		c.Next()
	}
}

func cookieParticipant(sess sessions.Session, store *auth.Store) (domain.ParticipantID, bool) {
	raw, ok := sess.Get(participantKey).(string)
	if !ok {
		return 0, false
	}
	p, err := domain.ParseParticipantID(raw)
	if err != nil || !store.Known(p) {
		return 0, false
	}
	return p, true
}

func participant(c *gin.Context) domain.ParticipantID {
	return c.MustGet(participantKey).(domain.ParticipantID)
}
