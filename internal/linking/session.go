package linking

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"tglinkbot/internal/panel"
)

// State is the controller's position in the linking flow.
type State int

const (
	StateIdle State = iota
	StateAwaitingInitialSubmit
	StateAwaitingCode
	StateAwaitingTwoFactor
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateAwaitingInitialSubmit:
		return "awaiting_initial_submit"
	case StateAwaitingCode:
		return "awaiting_code"
	case StateAwaitingTwoFactor:
		return "awaiting_2fa"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Stage is the backend step the session is waiting on.
type Stage string

const (
	StageNone         Stage = "none"
	StageAwaitingCode Stage = "awaiting_code"
	StageAwaiting2FA  Stage = "awaiting_2fa"
)

func stageFor(s State) Stage {
	switch s {
	case StateAwaitingCode:
		return StageAwaitingCode
	case StateAwaitingTwoFactor:
		return StageAwaiting2FA
	default:
		return StageNone
	}
}

// Session is the transient record of one linking attempt.
type Session struct {
	UserID        string
	AccountID     string
	Phone         string
	PhoneCodeHash string
	Stage         Stage
	// Status is the last informational message for the operator.
	Status string
	// Locked means phone and credentials can no longer be edited.
	Locked bool
}

// Credentials are the fields of the "add account" form.
type Credentials struct {
	Phone   string
	APIID   string
	APIHash string
	Proxy   string
}

var proxySchemes = map[string]bool{"http": true, "https": true, "socks5": true, "socks5h": true}

func (c Credentials) normalized() Credentials {
	return Credentials{
		Phone:   strings.TrimSpace(c.Phone),
		APIID:   strings.TrimSpace(c.APIID),
		APIHash: strings.TrimSpace(c.APIHash),
		Proxy:   strings.TrimSpace(c.Proxy),
	}
}

// Validate checks the form locally. It never touches the network.
func (c Credentials) Validate() error {
	c = c.normalized()
	if c.Phone == "" {
		return &ValidationError{Field: "phone", Reason: "required"}
	}
	digits := strings.TrimPrefix(c.Phone, "+")
	if digits == "" || strings.Trim(digits, "0123456789") != "" {
		return &ValidationError{Field: "phone", Reason: "must be digits with an optional leading +"}
	}
	if c.APIID == "" {
		return &ValidationError{Field: "api_id", Reason: "required"}
	}
	if n, err := strconv.Atoi(c.APIID); err != nil || n <= 0 {
		return &ValidationError{Field: "api_id", Reason: "must be a positive integer"}
	}
	if c.APIHash == "" {
		return &ValidationError{Field: "api_hash", Reason: "required"}
	}
	if c.Proxy != "" {
		u, err := url.Parse(c.Proxy)
		if err != nil || !proxySchemes[u.Scheme] || u.Hostname() == "" || u.Port() == "" {
			return &ValidationError{Field: "proxy", Reason: "must look like socks5://host:port or http://host:port"}
		}
	}
	return nil
}

func (c Credentials) form() panel.AccountForm {
	return panel.AccountForm{Phone: c.Phone, APIID: c.APIID, APIHash: c.APIHash, Proxy: c.Proxy}
}
