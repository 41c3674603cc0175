package handler

import (
	"github.com/gin-gonic/gin"

	"github.com/makerere-aits/aits-api/internal/middleware"
	"github.com/makerere-aits/aits-api/internal/models"
)

// currentUser extracts the authenticated principal set by the JWT middleware.
func currentUser(c *gin.Context) *models.JWTClaims {
	value, exists := c.Get(middleware.ContextUserKey)
	if !exists {
		return nil
	}
	claims, ok := value.(*models.JWTClaims)
	if !ok {
		return nil
	}
	return claims
}
