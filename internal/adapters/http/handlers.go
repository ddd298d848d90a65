package http

import (
	"errors"
	"net/http"

	"github.com/dkeye/Meet/internal/app"
	"github.com/dkeye/Meet/internal/domain"
	"github.com/dkeye/Meet/internal/meeting"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
)

type SessionsResponse struct {
	Sessions []app.SessionSummary `json:"sessions"`
}

// HistoryResponse mirrors a session's presence log and transcript. Live is
// false when the record comes from the archive of an ended session.
type HistoryResponse struct {
	SessionID    domain.SessionID          `json:"sessionId"`
	Live         bool                      `json:"live"`
	Reason       string                    `json:"reason,omitempty"`
	Participants []domain.Participant      `json:"participants"`
	Presence     []domain.PresenceLogEntry `json:"presence"`
	Chat         []domain.ChatMessage      `json:"chat"`
}

type handlers struct {
	sessions *app.SessionRegistry
	archives meeting.ArchiveReader
}

func (h *handlers) listSessions(c *gin.Context) {
	c.JSON(http.StatusOK, SessionsResponse{Sessions: h.sessions.List(c.Request.Context())})
}

func (h *handlers) sessionHistory(c *gin.Context) {
	ctx := c.Request.Context()
	id := domain.SessionID(c.Param("id"))

	info, err := h.sessions.History(ctx, id)
	if err == nil {
		c.JSON(http.StatusOK, HistoryResponse{
			SessionID:    info.ID,
			Live:         true,
			Participants: info.Participants,
			Presence:     info.Presence,
			Chat:         info.Chat,
		})
		return
	}
	if !errors.Is(err, domain.ErrSessionUnavailable) {
		log.Error().Err(err).Str("module", "adapters.http").Str("sid", string(id)).Msg("history")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}

	if h.archives != nil {
		archive, ok, err := h.archives.Archive(ctx, id)
		if err != nil {
			log.Error().Err(err).Str("module", "adapters.http").Str("sid", string(id)).Msg("archive lookup")
			c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
			return
		}
		if ok {
			c.JSON(http.StatusOK, HistoryResponse{
				SessionID:    archive.SessionID,
				Reason:       archive.Reason,
				Participants: []domain.Participant{},
				Presence:     archive.Presence,
				Chat:         archive.Chat,
			})
			return
		}
	}
	c.JSON(http.StatusNotFound, gin.H{"error": "meeting not found"})
}

func healthz(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}
