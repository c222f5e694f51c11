package server

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/beacond-dev/beacond/internal/auth"
	"github.com/beacond-dev/beacond/internal/models"
)

// LoginRequest represents a login request
type LoginRequest struct {
	Username string `json:"username" binding:"required"`
	Password string `json:"password" binding:"required"`
}

// LoginResponse represents a login response
type LoginResponse struct {
	Token string      `json:"token"`
	User  *UserDetail `json:"user"`
}

// UserDetail represents user information returned in responses
type UserDetail struct {
	ID        string    `json:"id"`
	Username  string    `json:"username"`
	Role      string    `json:"role"`
	IsAdmin   bool      `json:"is_admin"`
	CreatedAt time.Time `json:"created_at"`
}

// ShareTokenResponse carries the signed token for a share link
type ShareTokenResponse struct {
	ShareID   string `json:"share_id"`
	WebsiteID string `json:"website_id"`
	Token     string `json:"token"`
}

func userDetail(user *models.User) *UserDetail {
	return &UserDetail{
		ID:        user.ID,
		Username:  user.Username,
		Role:      user.Role,
		IsAdmin:   user.IsAdmin,
		CreatedAt: user.CreatedAt,
	}
}

func (s *Server) login(c *gin.Context) {
	var req LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	user, err := s.users.GetUserByUsername(c.Request.Context(), req.Username)
	if err != nil {
		s.logger.Error().Err(err).Msg("Failed to find user")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
		return
	}
	if user == nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid username or password"})
		return
	}

	if err := auth.VerifyPassword(req.Password, user.PasswordHash); err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid username or password"})
		return
	}

	token, err := auth.GenerateToken(auth.TokenClaims{UserID: user.ID})
	if err != nil {
		s.logger.Error().Err(err).Msg("Failed to generate token")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to generate token"})
		return
	}

	user.IsAdmin = user.Role == models.RoleAdmin

	s.logger.Info().Str("user_id", user.ID).Str("username", user.Username).Msg("User logged in")

	c.JSON(http.StatusOK, LoginResponse{
		Token: token,
		User:  userDetail(user),
	})
}

func (s *Server) getCurrentUser(c *gin.Context) {
	identity, exists := GetAuth(c)
	if !exists || identity.User == nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized"})
		return
	}

	c.JSON(http.StatusOK, userDetail(identity.User))
}

// getShareToken exchanges a website's public share ID for a signed share
// token. The route sits behind the allowlist CORS stage, not the auth
// stage: share links work without any login.
func (s *Server) getShareToken(c *gin.Context) {
	shareID := c.Param("shareId")

	var website models.Website
	err := s.db.WithContext(c.Request.Context()).
		Where("share_id = ? AND share_id <> ''", shareID).
		First(&website).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "Share not found"})
		return
	}
	if err != nil {
		s.logger.Error().Err(err).Msg("Failed to look up share")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
		return
	}

	token, err := auth.GenerateShareToken(shareID, website.ID)
	if err != nil {
		s.logger.Error().Err(err).Msg("Failed to generate share token")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to generate share token"})
		return
	}

	c.JSON(http.StatusOK, ShareTokenResponse{
		ShareID:   shareID,
		WebsiteID: website.ID,
		Token:     token,
	})
}
