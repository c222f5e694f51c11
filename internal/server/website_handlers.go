package server

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/hibiken/asynq"
	"gorm.io/gorm"

	"github.com/beacond-dev/beacond/internal/auth"
	"github.com/beacond-dev/beacond/internal/models"
	"github.com/beacond-dev/beacond/internal/tasks"
)

// CreateWebsiteRequest represents a request to register a tracked site
type CreateWebsiteRequest struct {
	Name        string `json:"name" binding:"required"`
	Domain      string `json:"domain" binding:"required"`
	EnableShare bool   `json:"enable_share"`
}

// StatsResponse carries the rolled-up counters for a website
type StatsResponse struct {
	WebsiteID string                `json:"website_id"`
	Days      []models.WebsiteStats `json:"days"`
	Totals    StatsTotals           `json:"totals"`
}

// StatsTotals sums the per-day counters
type StatsTotals struct {
	Pageviews int64 `json:"pageviews"`
	Sessions  int64 `json:"sessions"`
	Events    int64 `json:"events"`
}

// canAccessWebsite checks read access: admins and owners always, share
// tokens only for the website they were minted for
func canAccessWebsite(identity *auth.Identity, website *models.Website) bool {
	if identity.User != nil {
		return identity.User.IsAdmin || identity.User.ID == website.UserID
	}
	return identity.ShareToken != nil && identity.ShareToken.WebsiteID == website.ID
}

// canManageWebsite checks write access: share tokens never qualify
func canManageWebsite(identity *auth.Identity, website *models.Website) bool {
	return identity.User != nil && (identity.User.IsAdmin || identity.User.ID == website.UserID)
}

func (s *Server) findWebsite(c *gin.Context) (*models.Website, bool) {
	var website models.Website
	err := models.FindByID(s.db.WithContext(c.Request.Context()), c.Param("id"), &website)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "Website not found"})
		return nil, false
	}
	if err != nil {
		s.logger.Error().Err(err).Msg("Failed to find website")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
		return nil, false
	}
	return &website, true
}

func (s *Server) listWebsites(c *gin.Context) {
	identity, _ := GetAuth(c)

	query := s.db.WithContext(c.Request.Context()).Order("created_at DESC")
	switch {
	case identity.User != nil && identity.User.IsAdmin:
		// admins see everything
	case identity.User != nil:
		query = query.Where("user_id = ?", identity.User.ID)
	default:
		query = query.Where("id = ?", identity.ShareToken.WebsiteID)
	}

	var websites []models.Website
	if err := query.Find(&websites).Error; err != nil {
		s.logger.Error().Err(err).Msg("Failed to list websites")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
		return
	}

	c.JSON(http.StatusOK, websites)
}

func (s *Server) createWebsite(c *gin.Context) {
	identity, _ := GetAuth(c)
	if identity.User == nil {
		c.JSON(http.StatusForbidden, gin.H{"error": "A user account is required"})
		return
	}

	var req CreateWebsiteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	website := &models.Website{
		Name:   req.Name,
		Domain: req.Domain,
		UserID: identity.User.ID,
	}

	if req.EnableShare {
		shareID, err := generateShareID()
		if err != nil {
			s.logger.Error().Err(err).Msg("Failed to generate share ID")
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to create website"})
			return
		}
		website.ShareID = shareID
	}

	if err := s.db.WithContext(c.Request.Context()).Create(website).Error; err != nil {
		s.logger.Error().Err(err).Msg("Failed to create website")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to create website"})
		return
	}

	s.logger.Info().
		Str("website_id", website.ID).
		Str("domain", website.Domain).
		Str("user_id", identity.User.ID).
		Msg("Website created")

	c.JSON(http.StatusCreated, website)
}

func (s *Server) getWebsite(c *gin.Context) {
	identity, _ := GetAuth(c)

	website, ok := s.findWebsite(c)
	if !ok {
		return
	}

	if !canAccessWebsite(identity, website) {
		c.JSON(http.StatusForbidden, gin.H{"error": "Access denied"})
		return
	}

	c.JSON(http.StatusOK, website)
}

func (s *Server) deleteWebsite(c *gin.Context) {
	identity, _ := GetAuth(c)

	website, ok := s.findWebsite(c)
	if !ok {
		return
	}

	if !canManageWebsite(identity, website) {
		c.JSON(http.StatusForbidden, gin.H{"error": "Access denied"})
		return
	}

	if err := s.db.WithContext(c.Request.Context()).Delete(website).Error; err != nil {
		s.logger.Error().Err(err).Msg("Failed to delete website")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to delete website"})
		return
	}

	s.logger.Info().Str("website_id", website.ID).Msg("Website deleted")

	c.Status(http.StatusNoContent)
}

func (s *Server) getWebsiteStats(c *gin.Context) {
	identity, _ := GetAuth(c)

	website, ok := s.findWebsite(c)
	if !ok {
		return
	}

	if !canAccessWebsite(identity, website) {
		c.JSON(http.StatusForbidden, gin.H{"error": "Access denied"})
		return
	}

	var days []models.WebsiteStats
	err := s.db.WithContext(c.Request.Context()).
		Where("website_id = ?", website.ID).
		Order("day ASC").
		Find(&days).Error
	if err != nil {
		s.logger.Error().Err(err).Msg("Failed to load stats")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
		return
	}

	var totals StatsTotals
	for _, day := range days {
		totals.Pageviews += day.Pageviews
		totals.Sessions += day.Sessions
		totals.Events += day.Events
	}

	c.JSON(http.StatusOK, StatsResponse{
		WebsiteID: website.ID,
		Days:      days,
		Totals:    totals,
	})
}

// triggerRollup enqueues an immediate stats rollup instead of waiting for
// the nightly schedule
func (s *Server) triggerRollup(c *gin.Context) {
	identity, _ := GetAuth(c)

	website, ok := s.findWebsite(c)
	if !ok {
		return
	}

	if !canManageWebsite(identity, website) {
		c.JSON(http.StatusForbidden, gin.H{"error": "Access denied"})
		return
	}

	day := c.Query("day")
	if day == "" {
		day = time.Now().UTC().Format("2006-01-02")
	}
	if _, err := time.Parse("2006-01-02", day); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "day must be YYYY-MM-DD"})
		return
	}

	task, err := tasks.NewStatsRollupTask(website.ID, day)
	if err != nil {
		s.logger.Error().Err(err).Msg("Failed to build rollup task")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to enqueue rollup"})
		return
	}

	info, err := s.asynqClient.Enqueue(task, asynq.Queue("default"))
	if err != nil {
		s.logger.Error().Err(err).Msg("Failed to enqueue rollup task")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to enqueue rollup"})
		return
	}

	s.logger.Info().
		Str("website_id", website.ID).
		Str("day", day).
		Str("task_id", info.ID).
		Msg("Rollup enqueued")

	c.JSON(http.StatusAccepted, gin.H{"task_id": info.ID, "day": day})
}

// generateShareID returns a short URL-safe public identifier
func generateShareID() (string, error) {
	buf := make([]byte, 8)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}
