package server

import (
	"context"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/kapu/guest-research-go/pkg/errors"
	"go.uber.org/zap"
)

const userIDKey = "userID"

// StaticAuthenticator serves a fixed token map, used when Postgres is off.
type StaticAuthenticator map[string]string

func (a StaticAuthenticator) Authenticate(_ context.Context, token string) (string, error) {
	if userID, ok := a[strings.TrimSpace(token)]; ok && token != "" {
		return userID, nil
	}
	return "", errors.NewAuthError("invalid token")
}

// authMiddleware rejects the request before the handler runs unless it
// carries a valid bearer token. Browsers cannot set headers on websocket
// handshakes, so upgrades may pass the token as access_token instead.
func (s *Server) authMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		token := bearerToken(c.GetHeader("Authorization"))
		if token == "" && websocket.IsWebSocketUpgrade(c.Request) {
			token = c.Query("access_token")
		}
		if token == "" {
			abortError(c, errors.NewAuthError("missing bearer token"))
			return
		}
		if s.opts.Auth == nil {
			abortError(c, errors.NewAuthError("authentication is not configured"))
			return
		}

		userID, err := s.opts.Auth.Authenticate(c.Request.Context(), token)
		if err != nil {
			if !errors.IsAuth(err) {
				s.logger.Error("Authentication lookup failed", zap.Error(err))
				c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "authentication unavailable"})
				return
			}
			abortError(c, err)
			return
		}

		c.Set(userIDKey, userID)
		c.Next()
	}
}

func bearerToken(header string) string {
	scheme, token, ok := strings.Cut(strings.TrimSpace(header), " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return ""
	}
	return strings.TrimSpace(token)
}

func userID(c *gin.Context) string {
	return c.GetString(userIDKey)
}

func errorBody(err error) gin.H {
	return gin.H{"error": errors.UserMessage(err), "code": errors.CodeOf(err)}
}

func abortError(c *gin.Context, err error) {
	c.AbortWithStatusJSON(errors.StatusCodeOf(err), errorBody(err))
}
