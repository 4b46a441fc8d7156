package panel

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
)

var (
	ErrConflict        = errors.New("already exists")
	ErrForbidden       = errors.New("admin key rejected")
	ErrNotFound        = errors.New("not found")
	ErrInvalidCode     = errors.New("invalid code")
	ErrCodeExpired     = errors.New("code expired")
	ErrInvalidPassword = errors.New("invalid two-factor password")
	ErrBadRequest      = errors.New("bad request")
	ErrServer          = errors.New("server error")
)

// CodeExpired is the structured error code the backend sends for an
// expired or never issued verification code.
const CodeExpired = "CODE_EXPIRED"

// Backends without structured codes only describe expiry in the detail text.
var legacyExpiryMarkers = []string{"expired", "отсутствует код авторизации"}

// APIError is a non-2xx answer from the backend. It unwraps to one of the
// Err* kinds above.
type APIError struct {
	Op         string
	StatusCode int
	Code       string
	Detail     string
	kind       error
}

func (e *APIError) Error() string {
	if e.Detail == "" {
		return fmt.Sprintf("%s: %v (HTTP %d)", e.Op, e.kind, e.StatusCode)
	}
	return fmt.Sprintf("%s: %v (HTTP %d): %s", e.Op, e.kind, e.StatusCode, e.Detail)
}

func (e *APIError) Unwrap() error { return e.kind }

// NetworkError means the request never produced an HTTP response.
type NetworkError struct {
	Op  string
	Err error
}

func (e *NetworkError) Error() string { return fmt.Sprintf("%s: %v", e.Op, e.Err) }
func (e *NetworkError) Unwrap() error { return e.Err }

// Detail returns the backend's human readable message for err, or err's text.
func Detail(err error) string {
	var apiErr *APIError
	if errors.As(err, &apiErr) && apiErr.Detail != "" {
		return apiErr.Detail
	}
	return err.Error()
}

type errorBody struct {
	Detail json.RawMessage `json:"detail"`
	Code   string          `json:"code"`
	Error  string          `json:"error"`
}

type structuredDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// parseError extracts code and detail from a FastAPI style error body.
// detail may be a string, an object with code/message, or a validation list.
func parseError(body []byte) (code, detail string) {
	var eb errorBody
	if err := json.Unmarshal(body, &eb); err != nil {
		return "", strings.TrimSpace(string(body))
	}
	code = eb.Code
	if len(eb.Detail) > 0 {
		var s string
		var sd structuredDetail
		switch {
		case json.Unmarshal(eb.Detail, &s) == nil:
			detail = s
		case json.Unmarshal(eb.Detail, &sd) == nil && (sd.Code != "" || sd.Message != ""):
			detail = sd.Message
			if code == "" {
				code = sd.Code
			}
		default:
			detail = string(eb.Detail)
		}
	}
	if detail == "" {
		detail = eb.Error
	}
	return code, detail
}

func kindForStatus(status int) error {
	switch {
	case status == http.StatusConflict:
		return ErrConflict
	case status == http.StatusUnauthorized, status == http.StatusForbidden:
		return ErrForbidden
	case status == http.StatusNotFound:
		return ErrNotFound
	case status >= 500:
		return ErrServer
	case status >= 400:
		return ErrBadRequest
	default:
		return ErrServer
	}
}

// isExpiry prefers the structured code; the detail text is only consulted
// when the backend sent none.
func isExpiry(code, detail string) bool {
	if code != "" {
		return code == CodeExpired
	}
	d := strings.ToLower(detail)
	for _, m := range legacyExpiryMarkers {
		if strings.Contains(d, m) {
			return true
		}
	}
	return false
}

func isCredentialRejection(status int) bool {
	return status == http.StatusBadRequest || status == http.StatusUnauthorized ||
		status == http.StatusUnprocessableEntity
}

func newAPIError(op string, r *response, kind func(status int, code, detail string) error) *APIError {
	code, detail := parseError(r.body)
	k := kindForStatus(r.status)
	if kind != nil {
		if override := kind(r.status, code, detail); override != nil {
			k = override
		}
	}
	return &APIError{Op: op, StatusCode: r.status, Code: code, Detail: detail, kind: k}
}
