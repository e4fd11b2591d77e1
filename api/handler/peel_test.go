package handler

import (
	"net/http"
	"testing"

	"github.com/webpeel/webpeel/models"
)

func TestStatusFor(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want int
	}{
		{"validation", models.NewValidationError(models.ErrCodeInvalidURL, "bad url"), http.StatusBadRequest},
		{"timeout", models.NewTimeoutError("deadline expired", nil), http.StatusGatewayTimeout},
		{"blocked", models.NewBlockedError("challenge page detected"), http.StatusForbidden},
		{"network", models.NewNetworkError("connection refused", nil), http.StatusBadGateway},
	}
	for _, tc := range cases {
		if got := statusFor(tc.err); got != tc.want {
			t.Errorf("%s: status = %d, want %d", tc.name, got, tc.want)
		}
	}
}
