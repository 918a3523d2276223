// Package middleware provides the gin adapters for the admission controller
// and the upload integrity pipeline: key extraction, rate-limit headers, and
// translation of rejections into the structured 4xx error envelopes.
package middleware

import (
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/deskgate/deskgate/upload"
)

// rateLimitEnvelope is the 429 response body.
type rateLimitEnvelope struct {
	Error rateLimitError `json:"error"`
}

type rateLimitError struct {
	Code       string `json:"code"`
	Message    string `json:"message"`
	Limit      int64  `json:"limit"`
	WindowMs   int64  `json:"windowMs"`
	RetryAfter int64  `json:"retryAfter"`
}

// uploadEnvelope is the 400 response body for rejected uploads.
type uploadEnvelope struct {
	Error uploadError `json:"error"`
}

type uploadError struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	Timestamp string `json:"timestamp"`
	RequestID string `json:"requestId"`
}

func writeUploadRejection(c *gin.Context, code upload.ReasonCode, message string) {
	c.AbortWithStatusJSON(http.StatusBadRequest, uploadEnvelope{
		Error: uploadError{
			Code:      string(code),
			Message:   message,
			Timestamp: time.Now().UTC().Format(time.RFC3339),
			RequestID: uuid.NewString(),
		},
	})
}

// ClientIP extracts the originating client address, preferring the first
// X-Forwarded-For entry, then X-Real-IP, then the connection's remote
// address.
func ClientIP(r *http.Request) string {
	if xff := strings.TrimSpace(r.Header.Get("X-Forwarded-For")); xff != "" {
		parts := strings.Split(xff, ",")
		if ip := strings.TrimSpace(parts[0]); ip != "" {
			return ip
		}
	}

	if realIP := strings.TrimSpace(r.Header.Get("X-Real-IP")); realIP != "" {
		return realIP
	}

	host, _, err := net.SplitHostPort(strings.TrimSpace(r.RemoteAddr))
	if err != nil {
		return strings.TrimSpace(r.RemoteAddr)
	}
	return host
}
