// Package responses renders every API reply in the {success, data | error} envelope.
// Numbers are canonicalized so identical results always serialize to identical bytes.
package responses

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/Aidin1998/perpstats/pkg/errors"
	"github.com/Aidin1998/perpstats/pkg/fixed"
)

// RequestIDKey is the gin context key holding the request id.
const RequestIDKey = "request_id"

// Envelope is the body of every API response.
type Envelope struct {
	Success   bool                `json:"success"`
	Data      any                 `json:"data,omitempty"`
	Error     string              `json:"error,omitempty"`
	Fields    []errors.FieldError `json:"fields,omitempty"`
	RequestID string              `json:"request_id,omitempty"`
}

// Success sends a 200 response carrying data.
func Success(c *gin.Context, data any) {
	render(c, http.StatusOK, Envelope{Success: true, Data: data, RequestID: c.GetString(RequestIDKey)})
}

// Error maps err to its HTTP status and sends the error envelope. Typed errors report
// their own message, which already names any cause worth showing; untyped errors are
// reported as internal with the first line of their message.
func Error(c *gin.Context, err error) {
	status := errors.StatusOf(err)
	env := Envelope{RequestID: c.GetString(RequestIDKey)}
	var e *errors.Error
	if errors.As(err, &e) {
		env.Error = e.Kind
		if e.Message != "" {
			env.Error += ": " + e.Message
		}
		env.Fields = e.Fields
	} else {
		env.Error = http.StatusText(status) + ": " + errors.Brief(err)
	}
	if status >= http.StatusInternalServerError {
		_ = c.Error(err)
	}
	render(c, status, env)
}

// Abort sends the error envelope and stops the handler chain.
func Abort(c *gin.Context, err error) {
	Error(c, err)
	c.Abort()
}

func render(c *gin.Context, status int, env Envelope) {
	body, err := fixed.Marshal(env)
	if err != nil {
		_ = c.Error(err)
		status = http.StatusInternalServerError
		body, _ = fixed.Marshal(Envelope{Error: http.StatusText(status), RequestID: env.RequestID})
	}
	c.Data(status, "application/json; charset=utf-8", body)
}
