package middleware

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/Dhoini/Loyalty-microservice/pkg/logger"
	"github.com/Dhoini/Loyalty-microservice/pkg/res"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
)

// ContextKey тип для ключей контекста во избежание коллизий
type ContextKey string

const (
	// ContextActorKey ключ субъекта токена в контексте запроса.
	// Субъект записывается в транзакции корректировок как actor.
	ContextActorKey ContextKey = "actor"

	authHeaderPrefix = "Bearer "

	// ScopeAdmin область доступа для ручных корректировок баланса
	ScopeAdmin = "loyalty:admin"
)

// TokenValidator интерфейс проверки токенов
type TokenValidator interface {
	Validate(tokenString string) (*TokenClaims, error)
}

// TokenClaims полезная нагрузка токена доступа
type TokenClaims struct {
	Email string `json:"email"`
	Scope string `json:"scope"`
	jwt.RegisteredClaims
}

// JWTMiddleware проверяет токены на защищенных маршрутах
type JWTMiddleware struct {
	log       *logger.Logger
	validator TokenValidator
}

// NewJWTMiddleware создает middleware аутентификации
func NewJWTMiddleware(validator TokenValidator, log *logger.Logger) *JWTMiddleware {
	return &JWTMiddleware{
		log:       log,
		validator: validator,
	}
}

// RequireAuth требует валидный токен с одной из перечисленных областей доступа
func (m *JWTMiddleware) RequireAuth(requiredScopes ...string) gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			m.handleAuthError(c, "Missing authorization token")
			return
		}

		tokenString := strings.TrimPrefix(authHeader, authHeaderPrefix)
		claims, err := m.validator.Validate(tokenString)
		if err != nil {
			m.handleAuthError(c, fmt.Sprintf("Token validation failed: %v", err))
			return
		}

		if len(requiredScopes) > 0 && !hasRequiredScope(claims.Scope, requiredScopes) {
			m.handleAuthError(c, "Insufficient token permissions")
			return
		}

		actor := claims.Subject
		if actor == "" {
			m.handleAuthError(c, "Subject (sub) missing in token")
			return
		}

		c.Set(string(ContextActorKey), actor)
		m.log.Debugw("Request authenticated", "actor", actor, "path", c.Request.URL.Path)
		c.Next()
	}
}

func hasRequiredScope(tokenScope string, requiredScopes []string) bool {
	for _, scope := range requiredScopes {
		if tokenScope == scope {
			return true
		}
	}
	return false
}

func (m *JWTMiddleware) handleAuthError(c *gin.Context, message string) {
	m.log.Warnw("Authentication failed", "path", c.Request.URL.Path, "reason", message)
	res.JsonResponse(c.Writer, res.ErrorResponse{
		Error: message,
		Code:  "unauthorized",
	}, http.StatusUnauthorized)
	c.Abort()
}

// DefaultTokenValidator реализация валидатора по умолчанию (HMAC)
type DefaultTokenValidator struct {
	Secret []byte
}

// Validate разбирает и проверяет подпись токена
func (v *DefaultTokenValidator) Validate(tokenString string) (*TokenClaims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &TokenClaims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return v.Secret, nil
	})

	if err != nil {
		switch {
		case errors.Is(err, jwt.ErrTokenMalformed):
			return nil, errors.New("malformed token")
		case errors.Is(err, jwt.ErrTokenSignatureInvalid):
			return nil, errors.New("invalid token signature")
		case errors.Is(err, jwt.ErrTokenExpired), errors.Is(err, jwt.ErrTokenNotValidYet):
			return nil, errors.New("token expired")
		default:
			return nil, fmt.Errorf("invalid token: %w", err)
		}
	}

	if claims, ok := token.Claims.(*TokenClaims); ok && token.Valid {
		return claims, nil
	}

	return nil, errors.New("invalid token claims")
}
