package middleware

import (
	"fmt"

	"github.com/gin-gonic/gin"
	"github.com/makkenzo/license-engine/internal/ierr"
	"github.com/makkenzo/license-engine/internal/util"
	"go.uber.org/zap"
)

const (
	apiKeyHeader = "X-API-Key"
)

// APIKeyAuthMiddleware admits requests carrying the key whose bcrypt hash is
// keyHash. An empty keyHash rejects every request.
func APIKeyAuthMiddleware(keyHash string, logger *zap.Logger) gin.HandlerFunc {
	log := logger.Named("APIKeyAuthMiddleware")
	return func(c *gin.Context) {
		apiKeyFromHeader := c.GetHeader(apiKeyHeader)
		if apiKeyFromHeader == "" {
			log.Debug("API Key header is missing", zap.String("header", apiKeyHeader))
			_ = c.Error(fmt.Errorf("%w: api key required", ierr.ErrUnauthorized))
			c.Abort()
			return
		}

		if !util.WellFormedAPIKey(apiKeyFromHeader) {
			log.Warn("Invalid API key format received")
			_ = c.Error(fmt.Errorf("%w: invalid api key format", ierr.ErrUnauthorized))
			c.Abort()
			return
		}

		if keyHash == "" || !util.CheckAPIKey(keyHash, apiKeyFromHeader) {
			log.Warn("API key rejected", zap.String("client_ip", c.ClientIP()))
			_ = c.Error(ierr.ErrInvalidAPIKey)
			c.Abort()
			return
		}

		log.Debug("API key validated successfully")
		c.Next()
	}
}
