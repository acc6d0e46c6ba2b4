// Package response maps apperr-tagged errors to HTTP status codes in
// one place, so handlers pick a response kind once, at the repository
// boundary, rather than a status code per call site. Success payloads
// are written directly by handlers with c.JSON, since each of this
// API's success shapes is bespoke and documented (see spec §6) rather
// than a generic envelope.
package response

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/mtchat/mtchat/internal/apperr"
)

// ErrorBody is the JSON shape of every error response.
type ErrorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

var statusByKind = map[apperr.Kind]int{
	apperr.KindValidation:   http.StatusBadRequest,
	apperr.KindUnauthorized: http.StatusUnauthorized,
	apperr.KindForbidden:    http.StatusForbidden,
	apperr.KindNotFound:     http.StatusNotFound,
	apperr.KindConflict:     http.StatusConflict,
	apperr.KindInternal:     http.StatusInternalServerError,
}

var codeByKind = map[apperr.Kind]string{
	apperr.KindValidation:   "validation_error",
	apperr.KindUnauthorized: "unauthorized",
	apperr.KindForbidden:    "forbidden",
	apperr.KindNotFound:     "not_found",
	apperr.KindConflict:     "conflict",
	apperr.KindInternal:     "internal_error",
}

// Error writes the appropriate status and body for err, which is
// expected to be (or wrap) an *apperr.Error. An error outside that
// taxonomy maps to a 500 with a generic message — no internal detail
// is ever sent to the client.
func Error(c *gin.Context, err error) {
	kind := apperr.KindOf(err)
	status, ok := statusByKind[kind]
	if !ok {
		status = http.StatusInternalServerError
	}
	c.JSON(status, ErrorBody{
		Code:    codeByKind[kind],
		Message: apperr.MessageOf(err),
	})
}

// AbortError is Error plus c.Abort(), for use in middleware that must
// stop the handler chain.
func AbortError(c *gin.Context, err error) {
	Error(c, err)
	c.Abort()
}
