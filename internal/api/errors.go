package api

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"delivery-platform/internal/apperr"

	"github.com/gin-gonic/gin"
)

// renderError maps the error taxonomy onto HTTP statuses. Untyped errors are
// internal failures; their details stay out of the response body.
func renderError(c *gin.Context, err error) {
	var e *apperr.Error
	if !errors.As(err, &e) {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "internal error",
			"code":  "INTERNAL",
		})
		return
	}

	status := http.StatusInternalServerError
	switch e.Code {
	case apperr.CodeInvalid:
		status = http.StatusBadRequest
	case apperr.CodeNotFound:
		status = http.StatusNotFound
	case apperr.CodeConflict:
		status = http.StatusConflict
	case apperr.CodeUpstream:
		status = http.StatusBadGateway
	}

	body := gin.H{
		"error": e.Message,
		"code":  string(e.Code),
	}
	if e.Err != nil {
		body["details"] = e.Err.Error()
	}
	c.JSON(status, body)
}

// bindError rejects a request whose body failed binding
func bindError(c *gin.Context, err error) {
	c.JSON(http.StatusBadRequest, gin.H{
		"error":   "invalid request body",
		"code":    string(apperr.CodeInvalid),
		"details": err.Error(),
	})
}

// pathID parses a positive integer path parameter, rejecting the request on
// failure. The second return reports whether the handler should continue.
func pathID(c *gin.Context, name string) (int64, bool) {
	id, err := strconv.ParseInt(c.Param(name), 10, 64)
	if err != nil || id <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": fmt.Sprintf("invalid %s", name),
			"code":  string(apperr.CodeInvalid),
		})
		return 0, false
	}
	return id, true
}

// timeQuery parses an optional RFC3339 query parameter.
func timeQuery(c *gin.Context, name string) (*time.Time, bool) {
	raw := c.Query(name)
	if raw == "" {
		return nil, true
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": fmt.Sprintf("invalid %s, want RFC3339", name),
			"code":  string(apperr.CodeInvalid),
		})
		return nil, false
	}
	return &t, true
}
