// Package sessions resolves visitor sessions for the collect pipeline.
// A session is keyed by a salted digest of the visitor's attributes, so
// repeat pageviews from the same browser land in the same session without
// the raw IP or user agent ever being stored.
package sessions

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/beacond-dev/beacond/internal/models"
)

// ErrSessionNotFound is returned when the request carries no resolvable
// session payload. The message text is part of the API contract.
var ErrSessionNotFound = errors.New("Session not found.")

// websiteNotFoundPrefix starts every website-lookup failure; the session
// middleware maps this prefix to a 404.
const websiteNotFoundPrefix = "Website not found"

// IsWebsiteNotFound reports whether err is a website-lookup failure
func IsWebsiteNotFound(err error) bool {
	return err != nil && strings.HasPrefix(err.Error(), websiteNotFoundPrefix)
}

// ResolveInput carries the visitor attributes a session is derived from
type ResolveInput struct {
	WebsiteID string
	Hostname  string
	Screen    string
	Language  string
	IP        string
	UserAgent string
}

// Service derives and persists visitor sessions
type Service struct {
	db   *gorm.DB
	salt string
	log  zerolog.Logger
}

// NewService creates a session resolver. salt keys the session digest and
// must stay stable across restarts or every visitor gets a new session.
func NewService(db *gorm.DB, salt string, log zerolog.Logger) *Service {
	return &Service{db: db, salt: salt, log: log}
}

// Resolve validates the website and finds or creates the visitor session.
// Failure messages are contractual: "Website not found: <id>" for unknown
// websites, "Session not found." when the payload is unusable.
func (s *Service) Resolve(ctx context.Context, in ResolveInput) (*models.Session, error) {
	if in.WebsiteID == "" {
		return nil, ErrSessionNotFound
	}

	var website models.Website
	err := s.db.WithContext(ctx).Where("id = ?", in.WebsiteID).First(&website).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("%s: %s", websiteNotFoundPrefix, in.WebsiteID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to look up website: %w", err)
	}

	sessionID := s.sessionID(in)

	var session models.Session
	err = s.db.WithContext(ctx).Where("id = ?", sessionID).First(&session).Error
	if err == nil {
		return &session, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("failed to look up session: %w", err)
	}

	session = models.Session{
		ID:        sessionID,
		WebsiteID: website.ID,
		Hostname:  in.Hostname,
		Browser:   detectBrowser(in.UserAgent),
		OS:        detectOS(in.UserAgent),
		Device:    detectDevice(in.UserAgent, in.Screen),
		Screen:    in.Screen,
		Language:  in.Language,
	}

	if err := s.db.WithContext(ctx).Create(&session).Error; err != nil {
		return nil, fmt.Errorf("failed to create session: %w", err)
	}

	s.log.Debug().
		Str("session_id", sessionID).
		Str("website_id", website.ID).
		Msg("Session created")

	return &session, nil
}

// sessionID derives the deterministic visitor session key
func (s *Service) sessionID(in ResolveInput) string {
	h := sha256.New()
	h.Write([]byte(s.salt))
	h.Write([]byte(in.WebsiteID))
	h.Write([]byte(in.Hostname))
	h.Write([]byte(in.IP))
	h.Write([]byte(in.UserAgent))
	return hex.EncodeToString(h.Sum(nil))
}

func detectBrowser(ua string) string {
	ua = strings.ToLower(ua)
	switch {
	case strings.Contains(ua, "edg/"):
		return "edge"
	case strings.Contains(ua, "opr/"), strings.Contains(ua, "opera"):
		return "opera"
	case strings.Contains(ua, "chrome"):
		return "chrome"
	case strings.Contains(ua, "safari"):
		return "safari"
	case strings.Contains(ua, "firefox"):
		return "firefox"
	default:
		return "unknown"
	}
}

func detectOS(ua string) string {
	ua = strings.ToLower(ua)
	switch {
	case strings.Contains(ua, "windows"):
		return "windows"
	case strings.Contains(ua, "android"):
		return "android"
	case strings.Contains(ua, "iphone"), strings.Contains(ua, "ipad"):
		return "ios"
	case strings.Contains(ua, "mac os"):
		return "macos"
	case strings.Contains(ua, "linux"):
		return "linux"
	default:
		return "unknown"
	}
}

func detectDevice(ua, screen string) string {
	lower := strings.ToLower(ua)
	if strings.Contains(lower, "mobile") || strings.Contains(lower, "iphone") || strings.Contains(lower, "android") {
		return "mobile"
	}
	if strings.Contains(lower, "ipad") || strings.Contains(lower, "tablet") {
		return "tablet"
	}
	if screen == "" && ua == "" {
		return "unknown"
	}
	return "desktop"
}
