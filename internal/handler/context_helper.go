package handler

import (
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/mentor-scoring-api/internal/middleware"
	appErrors "github.com/noah-isme/mentor-scoring-api/pkg/errors"
	"github.com/noah-isme/mentor-scoring-api/pkg/response"
)

func projectIDParam(c *gin.Context) (string, bool) {
	projectID := strings.TrimSpace(c.Param("projectId"))
	if projectID == "" {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "projectId is required"))
		return "", false
	}
	return projectID, true
}

func actorID(c *gin.Context) string {
	claims, ok := middleware.Claims(c)
	if !ok {
		return ""
	}
	return claims.UserID
}

func respondWithMeta(c *gin.Context, data interface{}) {
	response.OK(c, data, middleware.ExtractMeta(c))
}
