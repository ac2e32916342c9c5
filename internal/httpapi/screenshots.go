package httpapi

import (
	"net/http"
	"path/filepath"

	"github.com/gin-gonic/gin"
)

// getScreenshot serves GET /screenshots/{filename} with Content-Type:
// image/png per §6. filepath.Base strips any path components a caller might
// smuggle into the filename param, confining reads to the pipeline's
// configured directory.
func (s *Server) getScreenshot(c *gin.Context) {
	filename := filepath.Base(c.Param("filename"))
	c.Header("Content-Type", "image/png")
	c.File(filepath.Join(s.pipeline.Dir(), filename))
}
