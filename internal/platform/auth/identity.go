// Package auth authenticates API callers against Firebase ID tokens and
// exposes the resulting identity to downstream handlers via the request
// context.
package auth

import (
	"context"
	"errors"
	"strings"
	"sync"

	firebaseauth "firebase.google.com/go/v4/auth"
)

// Marketplace roles carried in the Firebase custom claims.
const (
	RoleBuyer  = "buyer"
	RoleSeller = "seller"
	RoleAdmin  = "admin"
)

// ErrNoUserLoader is returned by Identity.User when the authenticator was
// built without a user getter.
var ErrNoUserLoader = errors.New("auth: no user loader configured")

// Identity is the authenticated principal for one request.
type Identity struct {
	UID   string
	Email string
	Roles []string

	token *firebaseauth.Token

	loadUser func(context.Context) (*firebaseauth.UserRecord, error)
	loadOnce sync.Once
	user     *firebaseauth.UserRecord
	userErr  error
}

// Token returns the verified Firebase ID token, or nil for identities built
// directly in tests.
func (i *Identity) Token() *firebaseauth.Token {
	if i == nil {
		return nil
	}
	return i.token
}

// HasRole reports whether the identity carries the role, ignoring case.
func (i *Identity) HasRole(role string) bool {
	if i == nil {
		return false
	}
	role = canonicalRole(role)
	if role == "" {
		return false
	}
	for _, have := range i.Roles {
		if canonicalRole(have) == role {
			return true
		}
	}
	return false
}

// User fetches the full Firebase user record behind this identity. The
// lookup runs once and is cached for the lifetime of the request.
func (i *Identity) User(ctx context.Context) (*firebaseauth.UserRecord, error) {
	if i == nil || i.loadUser == nil {
		return nil, ErrNoUserLoader
	}
	i.loadOnce.Do(func() {
		i.user, i.userErr = i.loadUser(ctx)
	})
	return i.user, i.userErr
}

func canonicalRole(role string) string {
	return strings.ToLower(strings.TrimSpace(role))
}

type identityKey struct{}

// WithIdentity attaches the identity to the context.
func WithIdentity(ctx context.Context, identity *Identity) context.Context {
	return context.WithValue(ctx, identityKey{}, identity)
}

// IdentityFromContext returns the identity set by the middleware, if any.
func IdentityFromContext(ctx context.Context) (*Identity, bool) {
	identity, ok := ctx.Value(identityKey{}).(*Identity)
	if !ok || identity == nil {
		return nil, false
	}
	return identity, true
}
