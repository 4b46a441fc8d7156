package panel

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"mime/multipart"
	"net/http"
	"net/url"
	"strings"

	"github.com/google/uuid"

	"tglinkbot/internal/config"
)

const maxResponseBytes = 1 << 20

type authScheme int

const (
	// /admin/* routes read the key from X-Admin-Key.
	authAdminHeader authScheme = iota
	// /api/telegram/* routes read it as a bearer token.
	authBearer
)

type Client struct {
	base               string
	adminKey           string
	perAccountCodePath bool
	cli                *http.Client
}

func NewClient(cfg *config.Config, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.HTTPTimeout()}
	}
	return &Client{
		base:               strings.TrimRight(cfg.PanelAPIBase, "/"),
		adminKey:           cfg.PanelAdminKey,
		perAccountCodePath: cfg.PerAccountCodePath,
		cli:                httpClient,
	}
}

// WithAdminKey returns a copy of c that authenticates with key.
func (c *Client) WithAdminKey(key string) *Client {
	cp := *c
	cp.adminKey = key
	return &cp
}

func (c *Client) HasAdminKey() bool { return c.adminKey != "" }

func (c *Client) ValidateAdminKey(ctx context.Context) error {
	const op = "validate admin key"
	r, err := c.doJSON(ctx, op, http.MethodPost, "/admin/validate", authAdminHeader, struct{}{})
	if err != nil {
		return err
	}
	if !r.ok() {
		return newAPIError(op, r, nil)
	}
	return nil
}

func (c *Client) Users(ctx context.Context) ([]User, error) {
	const op = "list users"
	r, err := c.doJSON(ctx, op, http.MethodGet, "/admin/users", authAdminHeader, nil)
	if err != nil {
		return nil, err
	}
	if !r.ok() {
		return nil, newAPIError(op, r, nil)
	}
	var users []User
	if err := r.decode(op, &users); err != nil {
		return nil, err
	}
	return users, nil
}

// User finds one user in the admin listing.
func (c *Client) User(ctx context.Context, userID string) (*User, error) {
	users, err := c.Users(ctx)
	if err != nil {
		return nil, err
	}
	for i := range users {
		if users[i].ID == userID {
			return &users[i], nil
		}
	}
	return nil, &APIError{Op: "find user", StatusCode: http.StatusNotFound, Detail: "user " + userID, kind: ErrNotFound}
}

// Account finds a Telegram account by id across all users.
func (c *Client) Account(ctx context.Context, accountID string) (*User, *Account, error) {
	users, err := c.Users(ctx)
	if err != nil {
		return nil, nil, err
	}
	for i := range users {
		for j := range users[i].TelegramAccounts {
			if users[i].TelegramAccounts[j].ID == accountID {
				return &users[i], &users[i].TelegramAccounts[j], nil
			}
		}
	}
	return nil, nil, &APIError{Op: "find account", StatusCode: http.StatusNotFound, Detail: "account " + accountID, kind: ErrNotFound}
}

func (c *Client) CreateAccount(ctx context.Context, userID string, form AccountForm) (*CreateResult, error) {
	const op = "create account"

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fields := [][2]string{
		{"phone", form.Phone},
		{"api_id", form.APIID},
		{"api_hash", form.APIHash},
		{"userId", userID},
	}
	if form.Proxy != "" {
		fields = append(fields, [2]string{"proxy", form.Proxy})
	}
	for _, f := range fields {
		if err := mw.WriteField(f[0], f[1]); err != nil {
			return nil, err
		}
	}
	if err := mw.Close(); err != nil {
		return nil, err
	}

	req, err := c.newRequest(ctx, http.MethodPost, "/api/telegram/accounts", authBearer, &buf)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set("X-User-Id", userID)

	r, err := c.send(op, req)
	if err != nil {
		return nil, err
	}
	if !r.ok() {
		return nil, newAPIError(op, r, nil)
	}
	var res CreateResult
	if err := r.decode(op, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

// RequestCode asks the backend to send a fresh login code to the account's phone.
func (c *Client) RequestCode(ctx context.Context, accountID string) (*CodeResult, error) {
	const op = "request code"
	path := "/api/telegram/send-code"
	if c.perAccountCodePath {
		path = "/api/telegram/accounts/" + url.PathEscape(accountID) + "/request-code"
	}
	r, err := c.doJSON(ctx, op, http.MethodPost, path, authBearer, accountReq{AccountID: accountID})
	if err != nil {
		return nil, err
	}
	if !r.ok() {
		return nil, newAPIError(op, r, nil)
	}
	var res CodeResult
	if err := r.decode(op, &res); err != nil {
		return nil, err
	}
	if !res.Success && res.Status != StatusPendingCode && res.Status != StatusPending {
		detail := res.Error
		if detail == "" {
			detail = "code was not sent"
		}
		return nil, &APIError{Op: op, StatusCode: r.status, Detail: detail, kind: ErrBadRequest}
	}
	return &res, nil
}

func (c *Client) VerifyCode(ctx context.Context, accountID, code, phoneCodeHash string) (*VerifyResult, error) {
	const op = "verify code"
	body := verifyCodeReq{AccountID: accountID, Code: code, PhoneCodeHash: phoneCodeHash}
	r, err := c.doJSON(ctx, op, http.MethodPost, "/api/telegram/verify-code", authBearer, body)
	if err != nil {
		return nil, err
	}

	// The backend answers 401 {"status":"pending_2fa"} when a password is required.
	var res VerifyResult
	if r.status == http.StatusUnauthorized && json.Unmarshal(r.body, &res) == nil && res.NeedsPassword() {
		return &res, nil
	}
	if !r.ok() {
		return nil, newAPIError(op, r, func(status int, code, detail string) error {
			if isExpiry(code, detail) {
				return ErrCodeExpired
			}
			if isCredentialRejection(status) {
				return ErrInvalidCode
			}
			return nil
		})
	}
	if err := r.decode(op, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

func (c *Client) VerifyPassword(ctx context.Context, accountID, password string) (*VerifyResult, error) {
	const op = "verify password"
	body := verifyPasswordReq{AccountID: accountID, Password: password}
	r, err := c.doJSON(ctx, op, http.MethodPost, "/api/telegram/verify-2fa", authBearer, body)
	if err != nil {
		return nil, err
	}
	if !r.ok() {
		return nil, newAPIError(op, r, func(status int, _, _ string) error {
			if isCredentialRejection(status) {
				return ErrInvalidPassword
			}
			return nil
		})
	}
	var res VerifyResult
	if err := r.decode(op, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

func (c *Client) CheckConnection(ctx context.Context, accountID string) (*ConnectionResult, error) {
	const op = "check connection"
	r, err := c.doJSON(ctx, op, http.MethodPost, "/api/telegram/check-connection", authBearer, accountReq{AccountID: accountID})
	if err != nil {
		return nil, err
	}
	if !r.ok() {
		return nil, newAPIError(op, r, nil)
	}
	var res ConnectionResult
	if err := r.decode(op, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

func (c *Client) DeleteAccount(ctx context.Context, phone string) error {
	const op = "delete account"
	r, err := c.doJSON(ctx, op, http.MethodDelete, "/api/telegram/accounts/"+url.PathEscape(phone), authBearer, nil)
	if err != nil {
		return err
	}
	if !r.ok() {
		return newAPIError(op, r, nil)
	}
	return nil
}

// === HTTP helpers ===

type response struct {
	status    int
	body      []byte
	requestID string
}

func (r *response) ok() bool { return r.status >= 200 && r.status < 300 }

func (r *response) decode(op string, v any) error {
	if err := json.Unmarshal(r.body, v); err != nil {
		return fmt.Errorf("%s: decode response (request %s): %w", op, r.requestID, err)
	}
	return nil
}

func (c *Client) newRequest(ctx context.Context, method, path string, auth authScheme, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.base+path, body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	switch auth {
	case authAdminHeader:
		req.Header.Set("X-Admin-Key", c.adminKey)
	case authBearer:
		req.Header.Set("Authorization", "Bearer "+c.adminKey)
	}
	return req, nil
}

func (c *Client) doJSON(ctx context.Context, op, method, path string, auth authScheme, payload any) (*response, error) {
	var body io.Reader
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			return nil, err
		}
		body = bytes.NewReader(b)
	}
	req, err := c.newRequest(ctx, method, path, auth, body)
	if err != nil {
		return nil, err
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return c.send(op, req)
}

func (c *Client) send(op string, req *http.Request) (*response, error) {
	reqID := uuid.NewString()
	req.Header.Set("X-Request-ID", reqID)

	resp, err := c.cli.Do(req)
	if err != nil {
		log.Printf("[ERROR] panel %s (request %s): %v", op, reqID, err)
		return nil, &NetworkError{Op: op, Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, &NetworkError{Op: op, Err: err}
	}
	log.Printf("[DEBUG] panel %s %s -> %s (request %s)", req.Method, req.URL.Path, resp.Status, reqID)
	return &response{status: resp.StatusCode, body: body, requestID: reqID}, nil
}
