package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/webpeel/webpeel/models"
	"github.com/webpeel/webpeel/peel"
)

// maxBatchURLs bounds one batch request. Bigger jobs should crawl.
const maxBatchURLs = 50

// BatchRequest is the POST /v1/batch body: URLs, a concurrency knob, and
// the shared option surface.
type BatchRequest struct {
	URLs        []string `json:"urls"`
	Concurrency int      `json:"concurrency"`
	models.PeelOptions
}

// BatchResponse wraps the index-aligned per-URL results.
type BatchResponse struct {
	Success bool                 `json:"success"`
	Results []*models.PeelResult `json:"results,omitempty"`
	Error   *models.ErrorDetail  `json:"error,omitempty"`
}

// Batch returns the handler for POST /v1/batch.
func Batch(core *peel.Core) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req BatchRequest
		if !decodeStrict(c, &req) {
			return
		}
		if len(req.URLs) == 0 {
			respondError(c, models.NewValidationError(models.ErrCodeInvalidURL, "urls is required"))
			return
		}
		if len(req.URLs) > maxBatchURLs {
			respondError(c, models.NewValidationError(models.ErrCodeInvalidOpt, "too many urls in one batch"))
			return
		}

		req.ApplyAutoBudget()

		results := core.FetchMany(c.Request.Context(), req.URLs, &req.PeelOptions, req.Concurrency)
		c.JSON(http.StatusOK, BatchResponse{Success: true, Results: results})
	}
}
