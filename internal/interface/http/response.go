package http

import (
	"time"

	"github.com/gin-gonic/gin"
)

// Error codes returned in APIError.Code.
const (
	CodeBadRequest  = "BAD_REQUEST"
	CodeNotFound    = "NOT_FOUND"
	CodeInternal    = "INTERNAL_ERROR"
	CodeUnavailable = "SERVICE_UNAVAILABLE"
)

// Response is the JSON envelope of every API response.
type Response struct {
	Success   bool          `json:"success"`
	Data      any           `json:"data,omitempty"`
	Error     *APIError     `json:"error,omitempty"`
	Meta      *ResponseMeta `json:"meta,omitempty"`
	RequestID string        `json:"request_id,omitempty"`
}

// APIError describes a failed request.
type APIError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// ResponseMeta carries dataset context.
type ResponseMeta struct {
	Timestamp time.Time `json:"timestamp"`
	Group     string    `json:"group,omitempty"`
	Count     int       `json:"count,omitempty"`
}

func writeData(c *gin.Context, status int, data any, meta *ResponseMeta) {
	if meta == nil {
		meta = &ResponseMeta{}
	}
	meta.Timestamp = time.Now().UTC()
	c.JSON(status, Response{
		Success:   true,
		Data:      data,
		Meta:      meta,
		RequestID: c.GetString(ctxRequestID),
	})
}

func writeError(c *gin.Context, status int, code, message string) {
	c.JSON(status, Response{
		Success:   false,
		Error:     &APIError{Code: code, Message: message},
		Meta:      &ResponseMeta{Timestamp: time.Now().UTC()},
		RequestID: c.GetString(ctxRequestID),
	})
}
