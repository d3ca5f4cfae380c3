package http

import (
	"context"
	"errors"
	"net/http"
	"net/netip"

	"github.com/dkeye/podcast/internal/adapters/signal"
	"github.com/dkeye/podcast/internal/app/orch"
	"github.com/dkeye/podcast/internal/app/relay"
	"github.com/dkeye/podcast/internal/domain"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
)

type handlers struct {
	orch   *orch.Orchestrator
	signal *signal.SignalWSController
}

// PodcastResponse is the wire form of a podcast. ActiveSince is Unix
// milliseconds, null until the host announces its address.
type PodcastResponse struct {
	ID          domain.SessionID     `json:"id"`
	ActiveSince *int64               `json:"active_since"`
	Host        domain.ParticipantID `json:"host"`
}

type PodcastListResponse struct {
	Podcasts []PodcastResponse `json:"podcasts"`
}

func toResponse(d domain.SessionData) PodcastResponse {
	resp := PodcastResponse{ID: d.ID, Host: d.Host}
	if d.ActiveSince != nil {
		ms := d.ActiveSince.UnixMilli()
		resp.ActiveSince = &ms
	}
	return resp
}

func (h *handlers) createPodcast(c *gin.Context) {
	p := participant(c)
	data, err := h.orch.CreateSession(p)
	if err != nil {
		if errors.Is(err, relay.ErrNoFreePort) {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "no free relay port"})
			return
		}
		log.Error().Err(err).Str("module", "adapters.http").Str("participant", p.String()).Msg("create podcast")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}
	c.JSON(http.StatusCreated, toResponse(data))
}

func (h *handlers) listPodcasts(c *gin.Context) {
	all := h.orch.Sessions()
	out := PodcastListResponse{Podcasts: make([]PodcastResponse, 0, len(all))}
	for _, d := range all {
		out.Podcasts = append(out.Podcasts, toResponse(d))
	}
	c.JSON(http.StatusOK, out)
}

func (h *handlers) getPodcast(c *gin.Context) {
	data, err := h.orch.Session(domain.SessionID(c.Param("id")))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "podcast not found"})
		return
	}
	c.JSON(http.StatusOK, toResponse(data))
}

func (h *handlers) openSignal(ctx context.Context, c *gin.Context) {
	if _, err := netip.ParseAddrPort(c.Request.RemoteAddr); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "peer address unavailable"})
		return
	}
	id := domain.SessionID(c.Query("id"))
	if id == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing podcast id"})
		return
	}
	if _, err := h.orch.Session(id); err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "podcast not found"})
		return
	}
	h.signal.HandleSignal(ctx, c, id, participant(c))
}
