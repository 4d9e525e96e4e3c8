package middleware

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v4"
)

const (
	UserContextKey = "userID"
	RoleContextKey = "role"

	RoleAdmin = "admin"
)

var ErrMissingIdentity = errors.New("user ID not found in context")

// Identity is the authenticated principal behind a request.
type Identity struct {
	UserID string
	Role   string
}

// Authenticator resolves the caller of a request.
type Authenticator interface {
	Authenticate(r *http.Request) (Identity, error)
}

// JWTAuthenticator validates HS256 bearer tokens issued by the auth service.
// When TrustGatewayHeaders is set, a request without a bearer token may
// identify itself with the X-User-ID and X-User-Role headers set by the
// API gateway.
type JWTAuthenticator struct {
	Secret              []byte
	TrustGatewayHeaders bool
}

func NewJWTAuthenticator(secret string, trustGatewayHeaders bool) *JWTAuthenticator {
	return &JWTAuthenticator{Secret: []byte(secret), TrustGatewayHeaders: trustGatewayHeaders}
}

func (a *JWTAuthenticator) Authenticate(r *http.Request) (Identity, error) {
	header := r.Header.Get("Authorization")
	if header == "" {
		if a.TrustGatewayHeaders {
			if userID := r.Header.Get("X-User-ID"); userID != "" {
				return Identity{UserID: userID, Role: r.Header.Get("X-User-Role")}, nil
			}
		}
		return Identity{}, errors.New("token is required")
	}

	if !strings.HasPrefix(header, "Bearer ") {
		return Identity{}, errors.New("invalid token format")
	}
	if len(a.Secret) == 0 {
		return Identity{}, errors.New("token validation is not configured")
	}

	claims, err := parseToken(strings.TrimPrefix(header, "Bearer "), a.Secret)
	if err != nil {
		return Identity{}, err
	}

	userID := claimString(claims, "user_id")
	if userID == "" {
		userID = claimString(claims, "sub")
	}
	if userID == "" {
		return Identity{}, errors.New("token has no subject")
	}
	return Identity{UserID: userID, Role: claimString(claims, "role")}, nil
}

func parseToken(tokenString string, secret []byte) (jwt.MapClaims, error) {
	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return secret, nil
	})
	if err != nil || !token.Valid {
		return nil, errors.New("invalid or expired token")
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return nil, errors.New("invalid token claims")
	}
	if typ, ok := claims["typ"].(string); ok && typ != "" && typ != "access" {
		return nil, errors.New("invalid token type")
	}
	return claims, nil
}

func claimString(claims jwt.MapClaims, key string) string {
	if v, ok := claims[key].(string); ok {
		return v
	}
	return ""
}

// AuthMiddleware rejects unauthenticated requests and stores the caller's
// identity on the gin context.
func AuthMiddleware(auth Authenticator) gin.HandlerFunc {
	return func(c *gin.Context) {
		identity, err := auth.Authenticate(c.Request)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized"})
			return
		}
		c.Set(UserContextKey, identity.UserID)
		c.Set(RoleContextKey, identity.Role)
		c.Next()
	}
}

// AdminOnly must run after AuthMiddleware.
func AdminOnly() gin.HandlerFunc {
	return func(c *gin.Context) {
		if GetRole(c) != RoleAdmin {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "Admin role required"})
			return
		}
		c.Next()
	}
}

func GetUserID(c *gin.Context) (string, error) {
	if val, ok := c.Get(UserContextKey); ok {
		if id, ok := val.(string); ok && id != "" {
			return id, nil
		}
	}
	return "", ErrMissingIdentity
}

func GetRole(c *gin.Context) string {
	return c.GetString(RoleContextKey)
}
