package auth

import (
	"context"
	"net/http"
	"strings"
	"time"

	firebaseauth "firebase.google.com/go/v4/auth"

	"github.com/vesoko/marketplace-api/internal/platform/httpx"
)

const (
	defaultRolesClaim  = "roles"
	defaultVerifyLimit = 5 * time.Second
)

// TokenVerifier checks a Firebase ID token and returns its decoded form.
type TokenVerifier interface {
	VerifyIDToken(ctx context.Context, idToken string) (*firebaseauth.Token, error)
}

// UserGetter loads the full Firebase user record for a UID.
type UserGetter interface {
	GetUser(ctx context.Context, uid string) (*firebaseauth.UserRecord, error)
}

// Authenticator turns bearer-token verification into chi-compatible
// middleware.
type Authenticator struct {
	verifier TokenVerifier
	users    UserGetter

	rolesClaim   string
	fallbackRole string
	timeout      time.Duration
}

// Option adjusts Authenticator construction.
type Option func(*Authenticator)

// WithUserGetter lets handlers lazily resolve the caller's Firebase profile
// through Identity.User.
func WithUserGetter(users UserGetter) Option {
	return func(a *Authenticator) {
		a.users = users
	}
}

// WithRolesClaim overrides the custom claim the roles are read from.
func WithRolesClaim(claim string) Option {
	return func(a *Authenticator) {
		if claim = strings.TrimSpace(claim); claim != "" {
			a.rolesClaim = claim
		}
	}
}

// WithFallbackRole sets the role assumed when the token carries none.
func WithFallbackRole(role string) Option {
	return func(a *Authenticator) {
		if role = canonicalRole(role); role != "" {
			a.fallbackRole = role
		}
	}
}

// WithVerifyTimeout bounds token verification per request.
func WithVerifyTimeout(d time.Duration) Option {
	return func(a *Authenticator) {
		if d > 0 {
			a.timeout = d
		}
	}
}

// NewAuthenticator builds an Authenticator around the given verifier.
func NewAuthenticator(verifier TokenVerifier, opts ...Option) *Authenticator {
	a := &Authenticator{
		verifier:     verifier,
		rolesClaim:   defaultRolesClaim,
		fallbackRole: RoleBuyer,
		timeout:      defaultVerifyLimit,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(a)
		}
	}
	return a
}

// RequireFirebaseAuth verifies the Authorization bearer token and, when roles
// are given, ensures the caller holds at least one of them. On success the
// identity is available through IdentityFromContext.
func (a *Authenticator) RequireFirebaseAuth(roles ...string) func(http.Handler) http.Handler {
	required := make([]string, 0, len(roles))
	for _, role := range roles {
		if role = canonicalRole(role); role != "" {
			required = append(required, role)
		}
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw, ok := bearerToken(r.Header.Get("Authorization"))
			if !ok {
				deny(w, r, "unauthenticated", "missing or malformed authorization header")
				return
			}
			if a == nil || a.verifier == nil {
				deny(w, r, "unauthenticated", "token verification unavailable")
				return
			}

			verifyCtx, cancel := context.WithTimeout(r.Context(), a.verifyTimeout())
			token, err := a.verifier.VerifyIDToken(verifyCtx, raw)
			cancel()
			if err != nil {
				deny(w, r, verificationCode(err), "token verification failed")
				return
			}

			identity := a.identityFromToken(token)
			if len(required) > 0 && !holdsAny(identity, required) {
				deny(w, r, "insufficient_role", "caller lacks a required role")
				return
			}

			next.ServeHTTP(w, r.WithContext(WithIdentity(r.Context(), identity)))
		})
	}
}

func (a *Authenticator) identityFromToken(token *firebaseauth.Token) *Identity {
	identity := &Identity{
		UID:   token.UID,
		Email: stringClaim(token.Claims, "email"),
		Roles: roleClaims(token.Claims, a.rolesClaim),
		token: token,
	}
	if len(identity.Roles) == 0 && a.fallbackRole != "" {
		identity.Roles = []string{a.fallbackRole}
	}
	if a.users != nil {
		uid := identity.UID
		identity.loadUser = func(ctx context.Context) (*firebaseauth.UserRecord, error) {
			ctx, cancel := context.WithTimeout(ctx, a.verifyTimeout())
			defer cancel()
			return a.users.GetUser(ctx, uid)
		}
	}
	return identity
}

func (a *Authenticator) verifyTimeout() time.Duration {
	if a == nil || a.timeout <= 0 {
		return defaultVerifyLimit
	}
	return a.timeout
}

func holdsAny(identity *Identity, roles []string) bool {
	for _, role := range roles {
		if identity.HasRole(role) {
			return true
		}
	}
	return false
}

// roleClaims accepts either a single role string or a list, which is how
// Firebase custom claims round-trip through JSON.
func roleClaims(claims map[string]any, key string) []string {
	switch v := claims[key].(type) {
	case string:
		if role := canonicalRole(v); role != "" {
			return []string{role}
		}
	case []any:
		var roles []string
		seen := make(map[string]struct{}, len(v))
		for _, item := range v {
			s, ok := item.(string)
			if !ok {
				continue
			}
			role := canonicalRole(s)
			if role == "" {
				continue
			}
			if _, dup := seen[role]; dup {
				continue
			}
			seen[role] = struct{}{}
			roles = append(roles, role)
		}
		return roles
	}
	return nil
}

func stringClaim(claims map[string]any, key string) string {
	s, _ := claims[key].(string)
	return strings.TrimSpace(s)
}

func bearerToken(header string) (string, bool) {
	scheme, token, found := strings.Cut(strings.TrimSpace(header), " ")
	if !found || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}

func verificationCode(err error) string {
	if firebaseauth.IsIDTokenExpired(err) {
		return "token_expired"
	}
	return "invalid_token"
}

func deny(w http.ResponseWriter, r *http.Request, code, message string) {
	httpx.WriteError(r.Context(), w, httpx.NewError(code, message, http.StatusUnauthorized))
}
