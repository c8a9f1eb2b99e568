package importer

import (
	"net/http"
	"path/filepath"
	"strconv"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"

	"stockplane/pkg/errutil"
)

// SubmitImportHandler serves POST /v1/imports.
func (s *Service) SubmitImportHandler(c *gin.Context) {
	fileHeader, err := c.FormFile("file")
	if err != nil {
		c.Error(errutil.BadRequest("file is required", err))
		return
	}

	file, err := fileHeader.Open()
	if err != nil {
		c.Error(errutil.BadRequest("failed to open uploaded file", err))
		return
	}
	defer file.Close()

	in := SubmitInput{
		ClientCode:  c.PostForm("client_id"),
		ImportType:  ImportType(c.PostForm("import_type")),
		ImportedBy:  c.PostForm("imported_by"),
		Filename:    filepath.Base(fileHeader.Filename),
		ContentType: fileHeader.Header.Get("Content-Type"),
		File:        file,
		FileSize:    fileHeader.Size,
	}

	if mappingHeader, err := c.FormFile("mapping"); err == nil {
		mapping, err := mappingHeader.Open()
		if err != nil {
			c.Error(errutil.BadRequest("failed to open mapping file", err))
			return
		}
		defer mapping.Close()
		in.Mapping = mapping
	}

	batch, err := s.SubmitImport(c.Request.Context(), in)
	if err != nil {
		c.Error(err)
		return
	}

	c.JSON(http.StatusAccepted, gin.H{"batch": batch})
}

// ListImportsHandler serves GET /v1/imports.
func (s *Service) ListImportsHandler(c *gin.Context) {
	var q ListQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		c.Error(errutil.BadRequest("invalid query parameters", err))
		return
	}

	batches, pageInfo, err := s.ListImports(c.Request.Context(), q)
	if err != nil {
		c.Error(err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"batches": batches,
		"page":    pageInfo,
	})
}

// ListFailuresHandler serves GET /v1/imports/failures.
func (s *Service) ListFailuresHandler(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))

	batches, err := s.ListFailures(c.Request.Context(), limit)
	if err != nil {
		c.Error(err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"batches": batches})
}

// GetImportHandler serves GET /v1/imports/:id.
func (s *Service) GetImportHandler(c *gin.Context) {
	id, err := snowflake.ParseString(c.Param("id"))
	if err != nil {
		c.Error(errutil.BadRequest("invalid batch id", err))
		return
	}

	detail, err := s.GetImport(c.Request.Context(), id)
	if err != nil {
		c.Error(err)
		return
	}

	c.JSON(http.StatusOK, detail)
}

// CancelImportHandler serves DELETE /v1/imports/:id.
func (s *Service) CancelImportHandler(c *gin.Context) {
	id, err := snowflake.ParseString(c.Param("id"))
	if err != nil {
		c.Error(errutil.BadRequest("invalid batch id", err))
		return
	}

	cancelled, state, err := s.CancelImport(c.Request.Context(), id)
	if err != nil {
		c.Error(err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"cancelled": cancelled,
		"state":     state,
	})
}

// QueueMetricsHandler serves GET /v1/queue/metrics.
func (s *Service) QueueMetricsHandler(c *gin.Context) {
	metrics, err := s.queue.Metrics(c.Request.Context())
	if err != nil {
		c.Error(errutil.Internal("failed to read queue metrics", err))
		return
	}

	c.JSON(http.StatusOK, metrics)
}

// StatsHandler serves GET /v1/stats.
func (s *Service) StatsHandler(c *gin.Context) {
	stats, err := s.GetStats(c.Request.Context())
	if err != nil {
		c.Error(err)
		return
	}

	c.JSON(http.StatusOK, stats)
}
