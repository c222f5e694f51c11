package server

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/glebarez/sqlite"
	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/beacond-dev/beacond/internal/auth"
	"github.com/beacond-dev/beacond/internal/cache"
	"github.com/beacond-dev/beacond/internal/config"
	"github.com/beacond-dev/beacond/internal/models"
	"github.com/beacond-dev/beacond/internal/sessions"
	"github.com/beacond-dev/beacond/internal/users"
)

// newTestServer wires a server against an in-memory database, skipping
// the parts of New that need external infrastructure
func newTestServer(t *testing.T) *Server {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, models.AutoMigrate(db))

	cfg := &config.Config{
		Env:       config.EnvProduction,
		AppSecret: "test-secret",
		CORS: config.CORSConfig{
			AllowedOrigins: []string{"https://beacond.dev"},
			MaxAge:         config.DefaultCORSMaxAge,
		},
	}

	auth.InitSecret(cfg.AppSecret)

	cacheClient := cache.New("", false)
	usersService := users.NewService(db, zerolog.Nop())
	sessionsService := sessions.NewService(db, cfg.AppSecret, zerolog.Nop())

	s := &Server{
		db:       db,
		config:   cfg,
		logger:   zerolog.Nop(),
		validate: validator.New(),
		cache:    cacheClient,
		users:    usersService,
		sessions: sessionsService,
		resolver: auth.NewResolver(usersService, cacheClient),
		version:  "test",
	}
	s.setupRouter()

	return s
}

func createAccount(t *testing.T, s *Server, username, password, role string) *models.User {
	t.Helper()

	hash, err := auth.HashPassword(password)
	require.NoError(t, err)

	user := &models.User{Username: username, PasswordHash: hash, Role: role}
	require.NoError(t, s.db.Create(user).Error)

	return user
}

func tokenFor(t *testing.T, user *models.User) string {
	t.Helper()

	token, err := auth.GenerateToken(auth.TokenClaims{UserID: user.ID})
	require.NoError(t, err)

	return token
}

func doJSON(s *Server, method, path, token string, payload interface{}) *httptest.ResponseRecorder {
	var body *bytes.Reader
	if payload != nil {
		data, _ := json.Marshal(payload)
		body = bytes.NewReader(data)
	} else {
		body = bytes.NewReader(nil)
	}

	w := httptest.NewRecorder()
	req := httptest.NewRequest(method, path, body)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	s.Router().ServeHTTP(w, req)
	return w
}

func TestLogin(t *testing.T) {
	s := newTestServer(t)
	createAccount(t, s, "alice", "hunter2", models.RoleAdmin)

	t.Run("valid credentials", func(t *testing.T) {
		w := doJSON(s, http.MethodPost, "/api/auth/login", "", map[string]string{
			"username": "alice", "password": "hunter2",
		})

		require.Equal(t, http.StatusOK, w.Code)
		var resp LoginResponse
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		assert.NotEmpty(t, resp.Token)
		assert.Equal(t, "alice", resp.User.Username)
		assert.True(t, resp.User.IsAdmin)
	})

	t.Run("wrong password", func(t *testing.T) {
		w := doJSON(s, http.MethodPost, "/api/auth/login", "", map[string]string{
			"username": "alice", "password": "wrong",
		})

		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})

	t.Run("unknown user", func(t *testing.T) {
		w := doJSON(s, http.MethodPost, "/api/auth/login", "", map[string]string{
			"username": "nobody", "password": "hunter2",
		})

		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})

	t.Run("missing fields rejected by validation", func(t *testing.T) {
		w := doJSON(s, http.MethodPost, "/api/auth/login", "", map[string]string{
			"username": "alice",
		})

		assert.Equal(t, http.StatusBadRequest, w.Code)
	})
}

func TestCurrentUser(t *testing.T) {
	s := newTestServer(t)
	user := createAccount(t, s, "bob", "pw", models.RoleUser)

	t.Run("with token", func(t *testing.T) {
		w := doJSON(s, http.MethodGet, "/api/auth/me", tokenFor(t, user), nil)

		require.Equal(t, http.StatusOK, w.Code)
		var detail UserDetail
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &detail))
		assert.Equal(t, user.ID, detail.ID)
		assert.False(t, detail.IsAdmin)
	})

	t.Run("without token", func(t *testing.T) {
		w := doJSON(s, http.MethodGet, "/api/auth/me", "", nil)

		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})
}

func TestWebsiteLifecycle(t *testing.T) {
	s := newTestServer(t)
	owner := createAccount(t, s, "owner", "pw", models.RoleUser)
	stranger := createAccount(t, s, "stranger", "pw", models.RoleUser)
	admin := createAccount(t, s, "root", "pw", models.RoleAdmin)

	w := doJSON(s, http.MethodPost, "/api/websites", tokenFor(t, owner), map[string]interface{}{
		"name": "Example", "domain": "example.com", "enable_share": true,
	})
	require.Equal(t, http.StatusCreated, w.Code)

	var website models.Website
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &website))
	require.NotEmpty(t, website.ID)
	require.NotEmpty(t, website.ShareID)

	t.Run("owner reads own website", func(t *testing.T) {
		w := doJSON(s, http.MethodGet, "/api/websites/"+website.ID, tokenFor(t, owner), nil)
		assert.Equal(t, http.StatusOK, w.Code)
	})

	t.Run("stranger denied", func(t *testing.T) {
		w := doJSON(s, http.MethodGet, "/api/websites/"+website.ID, tokenFor(t, stranger), nil)
		assert.Equal(t, http.StatusForbidden, w.Code)
	})

	t.Run("admin allowed", func(t *testing.T) {
		w := doJSON(s, http.MethodGet, "/api/websites/"+website.ID, tokenFor(t, admin), nil)
		assert.Equal(t, http.StatusOK, w.Code)
	})

	t.Run("list scoped to owner", func(t *testing.T) {
		w := doJSON(s, http.MethodGet, "/api/websites", tokenFor(t, stranger), nil)
		require.Equal(t, http.StatusOK, w.Code)

		var list []models.Website
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &list))
		assert.Empty(t, list)
	})

	t.Run("unknown website 404", func(t *testing.T) {
		w := doJSON(s, http.MethodGet, "/api/websites/missing", tokenFor(t, owner), nil)
		assert.Equal(t, http.StatusNotFound, w.Code)
	})

	t.Run("stranger cannot delete", func(t *testing.T) {
		w := doJSON(s, http.MethodDelete, "/api/websites/"+website.ID, tokenFor(t, stranger), nil)
		assert.Equal(t, http.StatusForbidden, w.Code)
	})
}

func TestShareTokenFlow(t *testing.T) {
	s := newTestServer(t)
	owner := createAccount(t, s, "owner", "pw", models.RoleUser)

	website := &models.Website{Name: "Shared", Domain: "shared.example", UserID: owner.ID, ShareID: "pub123"}
	require.NoError(t, s.db.Create(website).Error)

	// Exchange the public share ID for a token, no auth required
	w := doJSON(s, http.MethodGet, "/api/share/pub123", "", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var resp ShareTokenResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, website.ID, resp.WebsiteID)
	require.NotEmpty(t, resp.Token)

	t.Run("share token reads shared website stats", func(t *testing.T) {
		rec := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/api/websites/"+website.ID+"/stats", nil)
		req.Header.Set(auth.ShareTokenHeader, resp.Token)
		s.Router().ServeHTTP(rec, req)

		assert.Equal(t, http.StatusOK, rec.Code)
	})

	t.Run("share token denied for other websites", func(t *testing.T) {
		other := &models.Website{Name: "Other", Domain: "other.example", UserID: owner.ID}
		require.NoError(t, s.db.Create(other).Error)

		rec := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/api/websites/"+other.ID+"/stats", nil)
		req.Header.Set(auth.ShareTokenHeader, resp.Token)
		s.Router().ServeHTTP(rec, req)

		assert.Equal(t, http.StatusForbidden, rec.Code)
	})

	t.Run("share token cannot create websites", func(t *testing.T) {
		rec := httptest.NewRecorder()
		data, _ := json.Marshal(map[string]string{"name": "X", "domain": "x.example"})
		req := httptest.NewRequest(http.MethodPost, "/api/websites", bytes.NewReader(data))
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set(auth.ShareTokenHeader, resp.Token)
		s.Router().ServeHTTP(rec, req)

		assert.Equal(t, http.StatusForbidden, rec.Code)
	})

	t.Run("unknown share id 404", func(t *testing.T) {
		w := doJSON(s, http.MethodGet, "/api/share/nope", "", nil)
		assert.Equal(t, http.StatusNotFound, w.Code)
	})
}

func TestDashboardCORS(t *testing.T) {
	s := newTestServer(t)
	user := createAccount(t, s, "alice", "pw", models.RoleUser)

	t.Run("preflight answered without a registered OPTIONS route", func(t *testing.T) {
		rec := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodOptions, "/api/websites", nil)
		req.Header.Set("Origin", "http://localhost:3000")
		req.Header.Set("Access-Control-Request-Method", http.MethodGet)
		req.Header.Set("Access-Control-Request-Headers", "Authorization")
		s.Router().ServeHTTP(rec, req)

		assert.Equal(t, http.StatusNoContent, rec.Code)
		assert.Equal(t, "http://localhost:3000", rec.Header().Get("Access-Control-Allow-Origin"))
	})

	t.Run("cross-origin request carries allow-origin header", func(t *testing.T) {
		rec := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/api/auth/me", nil)
		req.Header.Set("Origin", "http://localhost:3000")
		req.Header.Set("Authorization", "Bearer "+tokenFor(t, user))
		s.Router().ServeHTTP(rec, req)

		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "http://localhost:3000", rec.Header().Get("Access-Control-Allow-Origin"))
	})

	t.Run("collect path keeps its own allowlist", func(t *testing.T) {
		rec := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodOptions, "/api/send", nil)
		req.Header.Set("Origin", "https://beacond.dev")
		req.Header.Set("Access-Control-Request-Method", http.MethodPost)
		s.Router().ServeHTTP(rec, req)

		assert.Equal(t, http.StatusNoContent, rec.Code)
		assert.Equal(t, "https://beacond.dev", rec.Header().Get("Access-Control-Allow-Origin"))
	})
}

func TestCollectEndpoint(t *testing.T) {
	s := newTestServer(t)
	owner := createAccount(t, s, "owner", "pw", models.RoleUser)

	website := &models.Website{Name: "Example", Domain: "example.com", UserID: owner.ID}
	require.NoError(t, s.db.Create(website).Error)

	t.Run("stores pageview", func(t *testing.T) {
		w := doJSON(s, http.MethodPost, "/api/send", "", map[string]string{
			"website":  website.ID,
			"hostname": "example.com",
			"url":      "/pricing",
		})

		require.Equal(t, http.StatusOK, w.Code)

		var event models.Event
		require.NoError(t, s.db.First(&event).Error)
		assert.Equal(t, website.ID, event.WebsiteID)
		assert.Equal(t, "/pricing", event.URL)
		assert.Empty(t, event.EventName)
		assert.NotEmpty(t, event.SessionID)
	})

	t.Run("rejects unknown website with 404", func(t *testing.T) {
		w := doJSON(s, http.MethodPost, "/api/send", "", map[string]string{
			"website": "ghost", "url": "/",
		})

		assert.Equal(t, http.StatusNotFound, w.Code)
		assert.Equal(t, "Website not found: ghost", errorBody(t, w))
	})

	t.Run("missing url fails validation", func(t *testing.T) {
		w := doJSON(s, http.MethodPost, "/api/send", "", map[string]string{
			"website": website.ID, "hostname": "example.com",
		})

		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("disallowed origin blocked before session resolution", func(t *testing.T) {
		rec := httptest.NewRecorder()
		data, _ := json.Marshal(map[string]string{"website": website.ID, "url": "/"})
		req := httptest.NewRequest(http.MethodPost, "/api/send", bytes.NewReader(data))
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Origin", "https://evil.example")
		s.Router().ServeHTTP(rec, req)

		assert.Equal(t, http.StatusForbidden, rec.Code)
	})
}
