package wordpress

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// Sentinels matched by errors.Is against *Error by HTTP status class.
var (
	ErrBadRequest   = errors.New("wordpress: bad request")
	ErrUnauthorized = errors.New("wordpress: unauthorized")
	ErrForbidden    = errors.New("wordpress: forbidden")
	ErrNotFound     = errors.New("wordpress: not found")
	ErrServer       = errors.New("wordpress: server error")
	ErrUnavailable  = errors.New("wordpress: unavailable")
)

// Error is a failure reported by, or while reaching, the WordPress REST API.
// Status is zero when no response was received.
type Error struct {
	Status  int
	Code    string
	Message string

	err error
}

func (e *Error) Error() string {
	if e.Status == 0 {
		return fmt.Sprintf("wordpress: %s: %v", e.Code, e.err)
	}
	return fmt.Sprintf("wordpress: %d %s: %s", e.Status, e.Code, e.Message)
}

// PublicMessage is the backend's human-readable reason, without request
// details.
func (e *Error) PublicMessage() string {
	return e.Message
}

func (e *Error) Unwrap() error { return e.err }

func (e *Error) Is(target error) bool {
	switch target {
	case ErrBadRequest:
		return e.Status == http.StatusBadRequest
	case ErrUnauthorized:
		return e.Status == http.StatusUnauthorized
	case ErrForbidden:
		return e.Status == http.StatusForbidden
	case ErrNotFound:
		return e.Status == http.StatusNotFound || e.Status == http.StatusGone
	case ErrServer:
		return e.Status >= 500
	case ErrUnavailable:
		return e.Status == 0
	}
	return false
}

// IsNotFound reports whether err is a WordPress not-found failure.
func IsNotFound(err error) bool { return errors.Is(err, ErrNotFound) }

type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Data    struct {
		Status int `json:"status"`
	} `json:"data"`
}

// parseError builds an *Error from a non-2xx response body. Bodies that are
// not in the REST error shape fall back to the HTTP status text.
func parseError(status int, body []byte) *Error {
	e := &Error{Status: status}
	var eb errorBody
	if err := json.Unmarshal(body, &eb); err == nil && (eb.Code != "" || eb.Message != "") {
		e.Code = eb.Code
		e.Message = stripTags(eb.Message)
		if eb.Data.Status != 0 {
			e.Status = eb.Data.Status
		}
	}
	if e.Code == "" {
		e.Code = "http_" + strings.ReplaceAll(strings.ToLower(http.StatusText(status)), " ", "_")
	}
	if e.Message == "" {
		e.Message = fmt.Sprintf("WordPress returned %d %s", status, http.StatusText(status))
	}
	return e
}

// transportError wraps a failure to obtain a response.
func transportError(err error) *Error {
	e := &Error{Code: "http_request_failed", err: err}
	switch {
	case errors.Is(err, context.Canceled):
		e.Message = "WordPress request was cancelled"
	case errors.Is(err, context.DeadlineExceeded) || isTimeout(err):
		e.Message = "WordPress request timed out"
	default:
		e.Message = "WordPress is unreachable"
	}
	return e
}

func isTimeout(err error) bool {
	var te interface{ Timeout() bool }
	return errors.As(err, &te) && te.Timeout()
}

// stripTags removes simple HTML markup WordPress embeds in some messages.
func stripTags(s string) string {
	if !strings.Contains(s, "<") {
		return s
	}
	var b strings.Builder
	in := false
	for _, r := range s {
		switch {
		case r == '<':
			in = true
		case r == '>' && in:
			in = false
		case !in:
			b.WriteRune(r)
		}
	}
	return strings.TrimSpace(b.String())
}
