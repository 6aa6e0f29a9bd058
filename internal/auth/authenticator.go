package auth

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"campuswire/pkg/types"
)

// CookieName is the cookie browsers carry the token in
const CookieName = "session-token"

// Config configures token signing and verification
type Config struct {
	Secret   string        `mapstructure:"jwt_secret"`
	Issuer   string        `mapstructure:"issuer"`
	TokenTTL time.Duration `mapstructure:"token_ttl"`
}

// Claims carries the identity inside a token. The subject is the user id.
type Claims struct {
	Username string `json:"username,omitempty"`
	Role     string `json:"role,omitempty"`
	jwt.RegisteredClaims
}

// Authenticator issues and verifies HS256 identity tokens
type Authenticator struct {
	secret []byte
	issuer string
	ttl    time.Duration
	now    func() time.Time
}

// NewAuthenticator creates an authenticator from cfg
func NewAuthenticator(cfg Config) (*Authenticator, error) {
	if cfg.Secret == "" {
		return nil, ErrMissingSecret
	}
	if cfg.TokenTTL <= 0 {
		cfg.TokenTTL = 24 * time.Hour
	}
	return &Authenticator{
		secret: []byte(cfg.Secret),
		issuer: cfg.Issuer,
		ttl:    cfg.TokenTTL,
		now:    time.Now,
	}, nil
}

// Issue signs a token for identity
func (a *Authenticator) Issue(identity types.Identity) (string, error) {
	if !types.IsValidUserID(identity.ID) {
		return "", types.ErrInvalidUserID
	}
	if identity.Role != "" && !types.IsValidRole(identity.Role) {
		return "", fmt.Errorf("unknown role %q", identity.Role)
	}

	now := a.now()
	claims := Claims{
		Username: identity.Username,
		Role:     identity.Role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   identity.ID,
			Issuer:    a.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(a.ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(a.secret)
}

// Parse verifies tokenString and returns the identity it carries
func (a *Authenticator) Parse(tokenString string) (types.Identity, error) {
	if tokenString == "" {
		return types.Identity{}, ErrMissingToken
	}

	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(a.now),
	}
	if a.issuer != "" {
		opts = append(opts, jwt.WithIssuer(a.issuer))
	}

	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, jwt.ErrSignatureInvalid
		}
		return a.secret, nil
	}, opts...)
	if err != nil || !token.Valid {
		return types.Identity{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || claims.Subject == "" {
		return types.Identity{}, ErrMissingClaim
	}
	if !types.IsValidUserID(claims.Subject) {
		return types.Identity{}, fmt.Errorf("%w: %v", ErrInvalidToken, types.ErrInvalidUserID)
	}

	role := claims.Role
	if role == "" {
		role = types.RoleStudent
	}
	return types.Identity{
		ID:            claims.Subject,
		Username:      claims.Username,
		Role:          role,
		Authenticated: true,
	}, nil
}

// Authenticate reads the token from the request and verifies it
func (a *Authenticator) Authenticate(r *http.Request) (types.Identity, error) {
	return a.Parse(TokenFromRequest(r))
}

// TokenFromRequest looks for a token in the token query parameter, a
// Bearer Authorization header, then the session cookie
func TokenFromRequest(r *http.Request) string {
	if token := r.URL.Query().Get("token"); token != "" {
		return token
	}
	if header := r.Header.Get("Authorization"); header != "" {
		if scheme, token, ok := strings.Cut(header, " "); ok && strings.EqualFold(scheme, "Bearer") {
			return strings.TrimSpace(token)
		}
	}
	if cookie, err := r.Cookie(CookieName); err == nil {
		return cookie.Value
	}
	return ""
}
