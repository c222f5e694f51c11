package models

import (
	"time"

	"github.com/oklog/ulid/v2"
	"gorm.io/gorm"
)

// Role constants for User.Role
const (
	RoleAdmin = "admin"
	RoleUser  = "user"
)

// BaseModel provides common fields and auto-generated ULID for all models
type BaseModel struct {
	ID        string    `json:"id" gorm:"primaryKey;type:varchar(26)"`
	CreatedAt time.Time `json:"created_at" gorm:"autoCreateTime"`
}

// BeforeCreate generates a ULID for the ID field if it's empty
func (b *BaseModel) BeforeCreate(tx *gorm.DB) error {
	if b.ID == "" {
		b.ID = ulid.Make().String()
	}
	return nil
}

// User represents an account that owns websites
type User struct {
	BaseModel
	Username     string    `json:"username" gorm:"unique;not null"`
	PasswordHash string    `json:"-" gorm:"not null"`
	Role         string    `json:"role" gorm:"not null;default:user"`
	UpdatedAt    time.Time `json:"updated_at" gorm:"autoUpdateTime"`

	// Computed at resolution time, never persisted
	IsAdmin bool `json:"is_admin" gorm:"-"`
}

// Website represents a tracked site
type Website struct {
	BaseModel
	Name   string `json:"name" gorm:"not null"`
	Domain string `json:"domain" gorm:"not null"`
	UserID string `json:"user_id" gorm:"not null;index"`

	// ShareID enables public share links; empty means sharing is off
	ShareID string `json:"share_id" gorm:"index"`

	// Relationships
	User *User `json:"user,omitempty" gorm:"foreignKey:UserID;references:ID;constraint:OnDelete:CASCADE"`
}

// Session represents a visitor session on a website. The ID is a salted
// digest of (website, hostname, ip, user agent), so the same visitor maps
// to the same session without storing the raw inputs.
type Session struct {
	ID        string    `json:"id" gorm:"primaryKey;type:varchar(64)"`
	WebsiteID string    `json:"website_id" gorm:"not null;index"`
	Hostname  string    `json:"hostname"`
	Browser   string    `json:"browser"`
	OS        string    `json:"os"`
	Device    string    `json:"device"`
	Screen    string    `json:"screen"`
	Language  string    `json:"language"`
	CreatedAt time.Time `json:"created_at" gorm:"autoCreateTime;index"`
}

// Event represents a pageview or custom event within a session.
// EventName is empty for plain pageviews.
type Event struct {
	BaseModel
	WebsiteID string `json:"website_id" gorm:"not null;index"`
	SessionID string `json:"session_id" gorm:"not null;index"`
	URL       string `json:"url" gorm:"not null"`
	Referrer  string `json:"referrer"`
	EventName string `json:"event_name"`
}

// WebsiteStats holds per-day aggregated counters produced by the rollup worker
type WebsiteStats struct {
	BaseModel
	WebsiteID string `json:"website_id" gorm:"not null;uniqueIndex:idx_website_day"`
	Day       string `json:"day" gorm:"not null;uniqueIndex:idx_website_day"` // YYYY-MM-DD (UTC)
	Pageviews int64  `json:"pageviews" gorm:"not null;default:0"`
	Sessions  int64  `json:"sessions" gorm:"not null;default:0"`
	Events    int64  `json:"events" gorm:"not null;default:0"`
}

// AutoMigrate runs database migrations for all models
func AutoMigrate(db *gorm.DB) error {
	models := []interface{}{
		&User{}, &Website{}, &Session{}, &Event{}, &WebsiteStats{},
	}

	return db.AutoMigrate(models...)
}

// FindByID safely finds a record by string ID
func FindByID[T any](db *gorm.DB, id string, model *T) error {
	return db.Where("id = ?", id).First(model).Error
}
