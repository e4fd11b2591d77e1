// Package handler holds the HTTP endpoint implementations. Handlers are
// thin: they decode a request, call the core, and shape the response —
// every pipeline decision lives in the peel package.
package handler

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/webpeel/webpeel/api/middleware"
	"github.com/webpeel/webpeel/models"
	"github.com/webpeel/webpeel/peel"
)

// maxRequestBytes caps request bodies; option payloads are small.
const maxRequestBytes = 1 << 20

// PeelRequest is the POST /v1/peel body: a URL plus the full option
// surface, flattened. Unknown keys are rejected.
type PeelRequest struct {
	URL string `json:"url"`
	models.PeelOptions
}

// PeelResponse is the success/error envelope every endpoint shares.
type PeelResponse struct {
	Success bool                `json:"success"`
	Result  *models.PeelResult  `json:"result,omitempty"`
	Error   *models.ErrorDetail `json:"error,omitempty"`
}

// Peel returns the handler for POST /v1/peel.
func Peel(core *peel.Core) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req PeelRequest
		if !decodeStrict(c, &req) {
			return
		}
		if req.URL == "" {
			respondError(c, models.NewValidationError(models.ErrCodeInvalidURL, "url is required"))
			return
		}

		// The API path applies the automatic token budget; library users
		// opt in explicitly.
		req.ApplyAutoBudget()

		result, err := core.Fetch(c.Request.Context(), req.URL, &req.PeelOptions)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, PeelResponse{Success: true, Result: result})
	}
}

// decodeStrict parses the JSON body rejecting unknown fields, so typos
// in option names fail loudly instead of being silently ignored.
func decodeStrict(c *gin.Context, out any) bool {
	body := http.MaxBytesReader(c.Writer, c.Request.Body, maxRequestBytes)
	dec := json.NewDecoder(body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(out); err != nil {
		msg := "invalid JSON body"
		switch {
		case errors.Is(err, io.EOF):
			msg = "empty request body"
		default:
			msg = err.Error()
		}
		respondError(c, models.NewValidationError(models.ErrCodeInvalidOpt, msg))
		return false
	}
	return true
}

// respondError maps the error taxonomy onto HTTP statuses and writes the
// sanitized detail payload.
func respondError(c *gin.Context, err error) {
	c.JSON(statusFor(err), PeelResponse{
		Success: false,
		Error:   models.DetailFor(err, c.GetString(middleware.RequestIDKey)),
	})
}

func statusFor(err error) int {
	switch models.KindOf(err) {
	case models.KindValidation:
		return http.StatusBadRequest
	case models.KindTimeout:
		return http.StatusGatewayTimeout
	case models.KindBlocked:
		return http.StatusForbidden
	default:
		return http.StatusBadGateway
	}
}
