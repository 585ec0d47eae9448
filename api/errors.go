package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
)

var (
	ErrAuthRequired    = errors.New("authentication token required")
	ErrAuthExpired     = errors.New("authentication token rejected")
	ErrForbidden       = errors.New("access forbidden")
	ErrRateLimited     = errors.New("rate limited")
	ErrServer          = errors.New("server error")
	ErrNetwork         = errors.New("network error")
	ErrInvalidResponse = errors.New("invalid response body")
)

// HTTPError is returned for every non-2xx response. Known status codes
// unwrap to one of the sentinel errors above.
type HTTPError struct {
	StatusCode int
	Status     string
	Message    string
	kind       error
}

func (e *HTTPError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("HTTP %d: %s", e.StatusCode, e.Message)
	}
	return fmt.Sprintf("HTTP %d: %s", e.StatusCode, e.Status)
}

func (e *HTTPError) Unwrap() error {
	return e.kind
}

// CheckResponse translates a non-2xx response into an *HTTPError. The body
// is read (but not closed) only when the status is an error.
func CheckResponse(resp *http.Response) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}

	httpErr := &HTTPError{
		StatusCode: resp.StatusCode,
		Status:     statusText(resp),
		Message:    errorMessage(resp.Body),
	}

	switch resp.StatusCode {
	case http.StatusUnauthorized:
		httpErr.kind = ErrAuthExpired
	case http.StatusForbidden:
		httpErr.kind = ErrForbidden
	case http.StatusTooManyRequests:
		httpErr.kind = ErrRateLimited
	case http.StatusInternalServerError:
		httpErr.kind = ErrServer
	}

	return httpErr
}

// StatusCode extracts the HTTP status carried by err, or 0.
func StatusCode(err error) int {
	var httpErr *HTTPError
	if errors.As(err, &httpErr) {
		return httpErr.StatusCode
	}
	return 0
}

func statusText(resp *http.Response) string {
	// resp.Status is "404 Not Found"
	if _, text, ok := strings.Cut(resp.Status, " "); ok && text != "" {
		return text
	}
	return http.StatusText(resp.StatusCode)
}

// errorMessage pulls {"message": "..."} or {"error": "..."} out of an error
// body when the server sent one.
func errorMessage(body io.Reader) string {
	if body == nil {
		return ""
	}

	data, err := io.ReadAll(io.LimitReader(body, 64<<10))
	if err != nil || len(data) == 0 {
		return ""
	}

	var payload struct {
		Message string `json:"message"`
		Error   string `json:"error"`
	}
	if err := json.Unmarshal(data, &payload); err != nil {
		return ""
	}
	if payload.Message != "" {
		return payload.Message
	}
	return payload.Error
}
