package server

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"sort"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"

	"github.com/beacond-dev/beacond/internal/auth"
	"github.com/beacond-dev/beacond/internal/models"
	"github.com/beacond-dev/beacond/internal/sessions"
)

const (
	sessionContextKey = "session"
	authContextKey    = "auth"
	collectContextKey = "collect"
)

var (
	ErrOriginNotAllowed = errors.New("origin not allowed")
	ErrUnauthorized     = errors.New("unauthorized")
)

func setSession(c *gin.Context, session *models.Session) {
	c.Set(sessionContextKey, session)
}

// GetSession returns the visitor session attached by SessionMiddleware
func GetSession(c *gin.Context) (*models.Session, bool) {
	value, exists := c.Get(sessionContextKey)
	if !exists {
		return nil, false
	}

	session, ok := value.(*models.Session)
	return session, ok
}

func setAuth(c *gin.Context, identity *auth.Identity) {
	c.Set(authContextKey, identity)
}

// GetAuth returns the identity attached by AuthMiddleware
func GetAuth(c *gin.Context) (*auth.Identity, bool) {
	value, exists := c.Get(authContextKey)
	if !exists {
		return nil, false
	}

	identity, ok := value.(*auth.Identity)
	return identity, ok
}

func setCollectRequest(c *gin.Context, req *CollectRequest) {
	c.Set(collectContextKey, req)
}

// GetCollectRequest returns the tracker payload parsed by SessionMiddleware
func GetCollectRequest(c *gin.Context) (*CollectRequest, bool) {
	value, exists := c.Get(collectContextKey)
	if !exists {
		return nil, false
	}

	req, ok := value.(*CollectRequest)
	return req, ok
}

func respondWithError(c *gin.Context, log zerolog.Logger, statusCode int, err error, message string) {
	log.Warn().Err(err).Msg(message)
	c.JSON(statusCode, gin.H{"error": message})
	c.Abort()
}

// CORSMiddleware enforces the collect-endpoint origin allowlist. Requests
// without an Origin header are trusted: non-browser callers (server-side
// trackers, curl) never send one, and the allowlist only exists to stop
// third-party browser pages. Origins are matched exactly, no patterns.
func CORSMiddleware(allowedOrigins []string, maxAge int, log zerolog.Logger) gin.HandlerFunc {
	allowlist := make(map[string]struct{}, len(allowedOrigins))
	for _, origin := range allowedOrigins {
		allowlist[origin] = struct{}{}
	}
	maxAgeValue := strconv.Itoa(maxAge)

	return func(c *gin.Context) {
		origin := c.GetHeader("Origin")

		// Diagnostic, not a security control: logged on rejections too
		log.Info().Str("origin", origin).Str("path", c.Request.URL.Path).Msg("CORS origin check")

		if origin != "" {
			if _, ok := allowlist[origin]; !ok {
				respondWithError(c, log, http.StatusForbidden, ErrOriginNotAllowed,
					origin+" is not allowed by CORS allowlist")
				return
			}

			c.Header("Access-Control-Allow-Origin", origin)
			c.Header("Vary", "Origin")
			c.Header("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
			c.Header("Access-Control-Allow-Headers", "Content-Type, Authorization, "+auth.ShareTokenHeader)
			c.Header("Access-Control-Max-Age", maxAgeValue)
		}

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}

// CollectRequest is the tracker payload sent by the client script
type CollectRequest struct {
	WebsiteID string `json:"website"`
	Hostname  string `json:"hostname"`
	Screen    string `json:"screen"`
	Language  string `json:"language"`
	URL       string `json:"url"`
	Referrer  string `json:"referrer"`
	EventName string `json:"event_name"`
}

// SessionMiddleware resolves the visitor session for collect requests and
// attaches it, plus the parsed payload, to the request context. Website
// lookup failures map to 404, everything else to 400, with the resolver's
// message passed through.
func SessionMiddleware(resolver *sessions.Service, log zerolog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		req := parseCollectRequest(c)

		session, err := resolver.Resolve(c.Request.Context(), sessions.ResolveInput{
			WebsiteID: req.WebsiteID,
			Hostname:  req.Hostname,
			Screen:    req.Screen,
			Language:  req.Language,
			IP:        c.ClientIP(),
			UserAgent: c.Request.UserAgent(),
		})
		if err != nil {
			if sessions.IsWebsiteNotFound(err) {
				respondWithError(c, log, http.StatusNotFound, err, err.Error())
				return
			}
			respondWithError(c, log, http.StatusBadRequest, err, err.Error())
			return
		}

		setCollectRequest(c, req)
		setSession(c, session)

		c.Next()
	}
}

// parseCollectRequest decodes the tracker payload without consuming the
// body for later stages. An unreadable payload yields the zero value; the
// session resolver turns that into its "Session not found." failure.
func parseCollectRequest(c *gin.Context) *CollectRequest {
	req := &CollectRequest{}

	body, err := readBody(c)
	if err != nil || len(body) == 0 {
		return req
	}

	// Decode errors are tolerated here for the same reason
	_ = json.Unmarshal(body, req)

	return req
}

// AuthMiddleware resolves the request identity and attaches it. The token
// is extracted and decoded leniently (an undecodable token is an anonymous
// request, not an error); the share token is parsed independently. Only
// when neither yields an identity is the request rejected, with a
// deliberately generic 401.
func AuthMiddleware(resolver *auth.Resolver, devMode bool, log zerolog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := auth.ExtractToken(c.Request)

		claims, err := auth.DecodeToken(token)
		if err != nil {
			claims = nil
		}

		shareToken := auth.ParseShareToken(c.Request)

		identity, err := resolver.Resolve(c.Request.Context(), token, claims, shareToken)
		if err != nil {
			// Collaborator failure; don't leak the cause to the caller
			log.Error().Err(err).Msg("Identity resolution failed")
			respondWithError(c, log, http.StatusUnauthorized, ErrUnauthorized, "Unauthorized")
			return
		}

		if devMode {
			// Exposes raw tokens; config.Load never enables this in production
			log.Debug().
				Str("token", token).
				Interface("claims", claims).
				Interface("share_token", shareToken).
				Interface("user", identity.User).
				Str("grant", identity.Grant).
				Msg("Auth resolved")
		}

		if identity.Kind == auth.IdentityUnauthenticated {
			log.Info().Msg("User not authorized")
			respondWithError(c, log, http.StatusUnauthorized, ErrUnauthorized, "Unauthorized")
			return
		}

		setAuth(c, identity)

		c.Next()
	}
}

// Rules maps parameter names to validator tags
type Rules map[string]string

// Schema maps HTTP methods to their rule sets. Methods without rules pass
// through unchanged; validation is opt-in per method.
type Schema map[string]Rules

// ValidateMiddleware checks the merged query and body parameters against
// the rule set for the request's method. Body values win over query values
// on duplicate keys.
func ValidateMiddleware(validate *validator.Validate, schema Schema, log zerolog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		rules, ok := schema[c.Request.Method]
		if !ok {
			c.Next()
			return
		}

		merged, err := mergedParams(c)
		if err != nil {
			respondWithError(c, log, http.StatusBadRequest, err, err.Error())
			return
		}

		// Deterministic order so the first failure is stable
		fields := make([]string, 0, len(rules))
		for field := range rules {
			fields = append(fields, field)
		}
		sort.Strings(fields)

		for _, field := range fields {
			if err := validate.Var(merged[field], rules[field]); err != nil {
				respondWithError(c, log, http.StatusBadRequest, err,
					field+": "+validationMessage(err, rules[field]))
				return
			}
		}

		c.Next()
	}
}

// validationMessage extracts the rule engine's message for the failed tag
func validationMessage(err error, tag string) string {
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) && len(verrs) > 0 {
		return "failed on the '" + verrs[0].Tag() + "' rule"
	}
	return "failed on the '" + tag + "' rule"
}

// mergedParams flattens query parameters and the JSON body into one map,
// body last so it takes precedence on key collisions
func mergedParams(c *gin.Context) (map[string]interface{}, error) {
	merged := make(map[string]interface{})

	for key, values := range c.Request.URL.Query() {
		if len(values) > 0 {
			merged[key] = values[0]
		}
	}

	body, err := readBody(c)
	if err != nil {
		return nil, errors.New("failed to read request body")
	}
	if len(body) > 0 {
		var parsed map[string]interface{}
		if err := json.Unmarshal(body, &parsed); err != nil {
			return nil, errors.New("invalid request body")
		}
		for key, value := range parsed {
			merged[key] = value
		}
	}

	return merged, nil
}

// readBody reads the request body and resets it so later stages and the
// handler can read it again
func readBody(c *gin.Context) ([]byte, error) {
	if c.Request.Body == nil || c.Request.Body == http.NoBody {
		return nil, nil
	}

	data, err := io.ReadAll(c.Request.Body)
	if err != nil {
		return nil, err
	}
	c.Request.Body = io.NopCloser(bytes.NewReader(data))

	return data, nil
}
