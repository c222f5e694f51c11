package auth

import (
	"context"

	"github.com/beacond-dev/beacond/internal/models"
)

// IdentityKind tags how a request's identity was resolved
type IdentityKind int

const (
	// IdentityUnauthenticated means no user and no share token; reject.
	IdentityUnauthenticated IdentityKind = iota
	// IdentityDirect means the token itself named a user.
	IdentityDirect
	// IdentityCached means the user came from an auth-key cache entry.
	IdentityCached
	// IdentityShareOnly means only a share token was presented.
	IdentityShareOnly
)

// UserDirectory resolves user IDs to full user records. A missing user is
// (nil, nil); errors are reserved for infrastructure failures.
type UserDirectory interface {
	GetUser(ctx context.Context, id string) (*models.User, error)
}

// KeyCache resolves opaque auth keys to cached identity references
type KeyCache interface {
	// Enabled reports whether cache lookups may be attempted at all
	Enabled() bool
	// GetKey returns the cached entry for an auth key, nil when absent
	GetKey(ctx context.Context, key string) (*KeyEntry, error)
}

// KeyEntry is the identity reference stored under an auth key
type KeyEntry struct {
	UserID string `json:"userId"`
}

// Identity is the authorization result attached to a request
type Identity struct {
	Kind       IdentityKind
	User       *models.User
	Grant      string
	Token      string
	ShareToken *ShareToken
	AuthKey    string
}

// Resolver turns decoded token payloads into request identities
type Resolver struct {
	users UserDirectory
	cache KeyCache
}

// NewResolver creates an identity resolver
func NewResolver(users UserDirectory, cache KeyCache) *Resolver {
	return &Resolver{users: users, cache: cache}
}

// Resolve derives the request identity from a decoded token payload and an
// optional share token. Precedence is exhaustive: a direct userId always
// wins over a cached auth key, so a stale cache entry can never shadow a
// first-party credential; a share token only matters when neither path
// produced a user.
//
// claims may be nil (undecodable or absent token). The returned identity is
// never nil on a nil error; IdentityUnauthenticated tells the caller to
// reject.
func (r *Resolver) Resolve(ctx context.Context, token string, claims *TokenClaims, shareToken *ShareToken) (*Identity, error) {
	identity := &Identity{
		Kind:       IdentityUnauthenticated,
		Token:      token,
		ShareToken: shareToken,
	}

	if claims != nil {
		identity.Grant = claims.Grant
		identity.AuthKey = claims.AuthKey
	}

	switch {
	case claims != nil && claims.UserID != "":
		user, err := r.users.GetUser(ctx, claims.UserID)
		if err != nil {
			return nil, err
		}
		if user != nil {
			identity.Kind = IdentityDirect
			identity.User = user
		}

	case claims != nil && claims.AuthKey != "" && r.cache != nil && r.cache.Enabled():
		entry, err := r.cache.GetKey(ctx, claims.AuthKey)
		if err != nil {
			return nil, err
		}
		if entry != nil && entry.UserID != "" {
			user, err := r.users.GetUser(ctx, entry.UserID)
			if err != nil {
				return nil, err
			}
			if user != nil {
				identity.Kind = IdentityCached
				identity.User = user
			}
		}
	}

	if identity.User == nil && shareToken != nil {
		identity.Kind = IdentityShareOnly
	}

	if identity.User != nil {
		identity.User.IsAdmin = identity.User.Role == models.RoleAdmin
	}

	return identity, nil
}
