package api

import (
	"net/http"

	"github.com/danmuck/swiftgate/internal/auth"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
)

// requireKey rejects requests without a valid API key. With no keys
// configured every request passes.
func (s *Server) requireKey() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !s.keys.Enabled() {
			c.Next()
			return
		}
		token := auth.TokenFromHeaders(c.GetHeader("X-API-Key"), c.GetHeader("Authorization"))
		if err := s.keys.Validate(token); err != nil {
			log.Warn().Str("path", c.FullPath()).Str("client", c.ClientIP()).Msg("api: unauthorized")
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid or missing API key"})
			return
		}
		c.Next()
	}
}

func (s *Server) rateLimit() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !s.limiter.Allow() {
			c.Header("Retry-After", "1")
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": "rate limit exceeded"})
			return
		}
		c.Next()
	}
}
