package transport

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Authenticator defines the interface for authentication providers
type Authenticator interface {
	// Authenticate verifies the authentication credentials in the request
	// and returns a new request with authentication context added
	Authenticate(ctx context.Context, r *http.Request) (*http.Request, error)
}

// AuthenticatorFunc adapts a function to the Authenticator interface
type AuthenticatorFunc func(ctx context.Context, r *http.Request) (*http.Request, error)

func (f AuthenticatorFunc) Authenticate(ctx context.Context, r *http.Request) (*http.Request, error) {
	return f(ctx, r)
}

// AuthError represents an authentication error
type AuthError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Scheme  string `json:"scheme,omitempty"`
}

func (e *AuthError) Error() string {
	if e.Scheme != "" {
		return fmt.Sprintf("authentication failed [%s:%s]: %s", e.Scheme, e.Code, e.Message)
	}
	return fmt.Sprintf("authentication failed [%s]: %s", e.Code, e.Message)
}

// Common auth error codes
const (
	AuthErrorCodeMissingCredentials = "missing_credentials"
	AuthErrorCodeInvalidCredentials = "invalid_credentials"
	AuthErrorCodeExpiredCredentials = "expired_credentials"
)

// NewAuthError creates a new authentication error
func NewAuthError(code, message string) *AuthError {
	return &AuthError{
		Code:    code,
		Message: message,
	}
}

// NewAuthErrorWithScheme creates a new authentication error with scheme information
func NewAuthErrorWithScheme(code, message, scheme string) *AuthError {
	return &AuthError{
		Code:    code,
		Message: message,
		Scheme:  scheme,
	}
}

// Context keys for JWT authentication
type jwtContextKey struct{}
type jwtTokenContextKey struct{}

// GetJWTClaims retrieves JWT claims from the request context
func GetJWTClaims(ctx context.Context) (jwt.MapClaims, bool) {
	claims, ok := ctx.Value(jwtContextKey{}).(jwt.MapClaims)
	return claims, ok
}

// GetJWTToken retrieves the raw JWT token string from the request context
func GetJWTToken(ctx context.Context) (string, bool) {
	token, ok := ctx.Value(jwtTokenContextKey{}).(string)
	return token, ok
}

// GetJWTSubject retrieves the subject (sub) claim from JWT
func GetJWTSubject(ctx context.Context) (string, bool) {
	claims, ok := GetJWTClaims(ctx)
	if !ok {
		return "", false
	}
	sub, ok := claims["sub"].(string)
	return sub, ok
}

// StaticAPIKeyAuthenticator checks a fixed API key sent in a request header
type StaticAPIKeyAuthenticator struct {
	APIKey     string // The expected API key value
	HeaderName string // The header name to check (default: X-API-Key)
}

// Authenticate implements the Authenticator interface
func (s StaticAPIKeyAuthenticator) Authenticate(ctx context.Context, r *http.Request) (*http.Request, error) {
	headerName := s.HeaderName
	if headerName == "" {
		headerName = "X-API-Key"
	}

	apiKey := r.Header.Get(headerName)
	if apiKey == "" {
		return nil, NewAuthErrorWithScheme(
			AuthErrorCodeMissingCredentials,
			fmt.Sprintf("missing %s header", headerName),
			"apiKey",
		)
	}
	if apiKey != s.APIKey {
		return nil, NewAuthErrorWithScheme(
			AuthErrorCodeInvalidCredentials,
			"invalid API key",
			"apiKey",
		)
	}
	return r, nil
}

// JWTAuthenticator implements JWT (JSON Web Token) based authentication
type JWTAuthenticator struct {
	// SecretKey is used for HMAC signing methods (HS256, HS384, HS512)
	SecretKey []byte

	// SigningMethod specifies the JWT signing method (default: HS256)
	SigningMethod jwt.SigningMethod

	// Audience specifies the expected audience (aud) claim
	// If empty, audience validation is skipped
	Audience string

	// ValidateFunc allows custom validation of JWT claims
	ValidateFunc func(claims jwt.MapClaims) error
}

// NewJWTAuthenticator creates a new JWT authenticator with HMAC-SHA256
func NewJWTAuthenticator(secretKey []byte) *JWTAuthenticator {
	return &JWTAuthenticator{
		SecretKey:     secretKey,
		SigningMethod: jwt.SigningMethodHS256,
	}
}

// WithValidateFunc sets a custom validation function for JWT claims
func (j *JWTAuthenticator) WithValidateFunc(fn func(claims jwt.MapClaims) error) *JWTAuthenticator {
	j.ValidateFunc = fn
	return j
}

// WithSigningMethod sets the JWT signing method
func (j *JWTAuthenticator) WithSigningMethod(method jwt.SigningMethod) *JWTAuthenticator {
	j.SigningMethod = method
	return j
}

// WithAudience sets the expected audience for JWT validation
func (j *JWTAuthenticator) WithAudience(audience string) *JWTAuthenticator {
	j.Audience = audience
	return j
}

func bearerError(code, message string) error {
	return NewAuthErrorWithScheme(code, message, "bearer")
}

// Authenticate implements the Authenticator interface
func (j *JWTAuthenticator) Authenticate(ctx context.Context, r *http.Request) (*http.Request, error) {
	authHeader := r.Header.Get("Authorization")
	if authHeader == "" {
		return nil, bearerError(AuthErrorCodeMissingCredentials, "missing Authorization header")
	}
	tokenString, ok := strings.CutPrefix(authHeader, "Bearer ")
	if !ok {
		return nil, bearerError(AuthErrorCodeInvalidCredentials, "invalid Authorization header format")
	}

	method := j.SigningMethod
	if method == nil {
		method = jwt.SigningMethodHS256
	}
	token, err := jwt.ParseWithClaims(tokenString, jwt.MapClaims{}, func(token *jwt.Token) (any, error) {
		if token.Method != method {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return j.SecretKey, nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, bearerError(AuthErrorCodeExpiredCredentials, "JWT token has expired")
		}
		return nil, bearerError(AuthErrorCodeInvalidCredentials, fmt.Sprintf("invalid JWT: %v", err))
	}
	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok || !token.Valid {
		return nil, bearerError(AuthErrorCodeInvalidCredentials, "invalid JWT claims")
	}
	if expTime, err := claims.GetExpirationTime(); err == nil && expTime != nil && expTime.Before(time.Now()) {
		return nil, bearerError(AuthErrorCodeExpiredCredentials, "JWT token has expired")
	}

	if j.Audience != "" {
		aud, err := claims.GetAudience()
		if err != nil || len(aud) == 0 {
			return nil, bearerError(AuthErrorCodeInvalidCredentials, "missing audience claim")
		}
		valid := false
		for _, a := range aud {
			if a == j.Audience {
				valid = true
				break
			}
		}
		if !valid {
			return nil, bearerError(AuthErrorCodeInvalidCredentials, "invalid audience")
		}
	}

	if j.ValidateFunc != nil {
		if err := j.ValidateFunc(claims); err != nil {
			return nil, bearerError(AuthErrorCodeInvalidCredentials, fmt.Sprintf("JWT validation failed: %v", err))
		}
	}

	newCtx := context.WithValue(r.Context(), jwtContextKey{}, claims)
	newCtx = context.WithValue(newCtx, jwtTokenContextKey{}, tokenString)
	return r.WithContext(newCtx), nil
}

var (
	_ Authenticator = StaticAPIKeyAuthenticator{}
	_ Authenticator = (*JWTAuthenticator)(nil)
)
