package server

import (
	"errors"

	"github.com/gin-gonic/gin"

	"github.com/planmeet/planmeet/internal/apperr"
)

const retryAfter = "1"

// ErrorBody returns the status code and JSON body for err:
// {"error": ..., "details": ...}.
func ErrorBody(err error) (int, gin.H) {
	kind := apperr.KindOf(err)
	body := gin.H{}

	var e *apperr.Error
	if errors.As(err, &e) {
		body["error"] = e.Message()
		if e.Err != nil {
			body["details"] = e.Err.Error()
		}
	} else {
		body["error"] = apperr.KindInternal.String()
		body["details"] = err.Error()
	}
	return apperr.HTTPStatus(kind), body
}

// WriteError aborts the request with the response for err. Failures of a
// backing service carry Retry-After.
func WriteError(c *gin.Context, err error) {
	_ = c.Error(err)
	status, body := ErrorBody(err)
	if apperr.KindOf(err).Retryable() {
		c.Header("Retry-After", retryAfter)
	}
	if errors.Is(err, apperr.ErrUnauthenticated) {
		if c.GetHeader("Authorization") == "" {
			c.Header("WWW-Authenticate", `Bearer realm="planmeet"`)
		} else {
			c.Header("WWW-Authenticate", `Bearer realm="planmeet", error="invalid_token"`)
		}
	}
	c.AbortWithStatusJSON(status, body)
}
