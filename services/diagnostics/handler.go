package diagnostics

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"stockplane/pkg/errutil"
)

// GetRecentErrorsHandler serves GET /v1/diagnostics/errors.
func (s *Service) GetRecentErrorsHandler(c *gin.Context) {
	hours, _ := strconv.Atoi(c.DefaultQuery("hours", "24"))

	category := Category(c.Query("category"))
	if category != "" && category.String() == "" {
		c.Error(errutil.BadRequest("unknown diagnostic category", nil))
		return
	}

	summaries, err := s.GetRecentErrors(c.Request.Context(), hours, category)
	if err != nil {
		c.Error(errutil.Internal("failed to query recent errors", err))
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"window_hours": hours,
		"errors":       summaries,
	})
}

// GetErrorCountHandler serves GET /v1/diagnostics/errors/count.
func (s *Service) GetErrorCountHandler(c *gin.Context) {
	hours, _ := strconv.Atoi(c.DefaultQuery("hours", "24"))

	count, err := s.GetErrorCount(c.Request.Context(), hours)
	if err != nil {
		c.Error(errutil.Internal("failed to count recent errors", err))
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"window_hours": hours,
		"count":        count,
	})
}

// GetErrorDetailsHandler serves GET /v1/diagnostics/errors/:category.
func (s *Service) GetErrorDetailsHandler(c *gin.Context) {
	category := Category(c.Param("category"))
	if category.String() == "" {
		c.Error(errutil.BadRequest("unknown diagnostic category", nil))
		return
	}

	hours, _ := strconv.Atoi(c.DefaultQuery("hours", "24"))
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "100"))

	rows, err := s.GetErrorDetails(c.Request.Context(), category, hours, limit)
	if err != nil {
		c.Error(errutil.Internal("failed to query error details", err))
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"category":     category,
		"window_hours": hours,
		"errors":       rows,
	})
}
