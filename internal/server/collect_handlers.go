package server

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/beacond-dev/beacond/internal/models"
)

// collect stores a pageview or custom event for the session resolved by
// the pipeline. CORS, session resolution and payload validation have all
// run by the time this executes.
func (s *Server) collect(c *gin.Context) {
	session, ok := GetSession(c)
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Session not found."})
		return
	}

	req, ok := GetCollectRequest(c)
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid payload"})
		return
	}

	event := &models.Event{
		WebsiteID: session.WebsiteID,
		SessionID: session.ID,
		URL:       req.URL,
		Referrer:  req.Referrer,
		EventName: req.EventName,
	}

	if err := s.db.WithContext(c.Request.Context()).Create(event).Error; err != nil {
		s.logger.Error().Err(err).Msg("Failed to store event")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to store event"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"ok": true})
}
