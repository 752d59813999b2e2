package middleware

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/befundwerk/ingest-api/internal/handler"
	"github.com/befundwerk/ingest-api/internal/model"
)

// ContextActor is the gin context key holding the authenticated actor.
const ContextActor = "actor"

// Claims is the token shape issued by the external auth system. This
// service only verifies; it never issues or refreshes tokens.
type Claims struct {
	jwt.RegisteredClaims
	Role        string   `json:"role"`
	LANR        string   `json:"lanr,omitempty"`
	PracticeIDs []string `json:"practice_ids,omitempty"`
}

type AuthMiddleware struct {
	secret []byte
}

func NewAuthMiddleware(secret string) *AuthMiddleware {
	return &AuthMiddleware{secret: []byte(secret)}
}

// Authenticate verifies the bearer token and sets the actor in context.
func (m *AuthMiddleware) Authenticate() gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			c.JSON(http.StatusUnauthorized, handler.NewErrorResponse("missing authorization header"))
			c.Abort()
			return
		}

		parts := strings.Split(authHeader, " ")
		if len(parts) != 2 || parts[0] != "Bearer" {
			c.JSON(http.StatusUnauthorized, handler.NewErrorResponse("invalid authorization format"))
			c.Abort()
			return
		}

		claims := &Claims{}
		token, err := jwt.ParseWithClaims(parts[1], claims, func(t *jwt.Token) (interface{}, error) {
			if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
			}
			return m.secret, nil
		})
		if err != nil || !token.Valid {
			c.JSON(http.StatusUnauthorized, handler.NewErrorResponse("invalid token"))
			c.Abort()
			return
		}

		actor := model.Actor{
			ID:   claims.Subject,
			Type: model.ActorTypeUser,
			Role: model.UserRole(claims.Role),
		}
		if claims.LANR != "" {
			lanr := claims.LANR
			actor.LANR = &lanr
		}
		for _, raw := range claims.PracticeIDs {
			if id, err := uuid.Parse(raw); err == nil {
				actor.PracticeIDs = append(actor.PracticeIDs, id)
			}
		}

		c.Set(ContextActor, actor)
		c.Next()
	}
}

// RequireRole rejects actors whose role is not in the allowed set.
func (m *AuthMiddleware) RequireRole(roles ...model.UserRole) gin.HandlerFunc {
	return func(c *gin.Context) {
		actor, ok := ActorFrom(c)
		if !ok {
			c.JSON(http.StatusUnauthorized, handler.NewErrorResponse("not authenticated"))
			c.Abort()
			return
		}
		for _, role := range roles {
			if actor.Role == role {
				c.Next()
				return
			}
		}
		c.JSON(http.StatusForbidden, handler.NewErrorResponse("insufficient role"))
		c.Abort()
	}
}

// ActorFrom reads the authenticated actor out of the gin context.
func ActorFrom(c *gin.Context) (model.Actor, bool) {
	v, ok := c.Get(ContextActor)
	if !ok {
		return model.Actor{}, false
	}
	actor, ok := v.(model.Actor)
	return actor, ok
}
