package panel

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"tglinkbot/internal/config"
)

const testKey = "admin-secret"

func newTestClient(t *testing.T, h http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	cfg := &config.Config{PanelAPIBase: srv.URL + "/", PanelAdminKey: testKey, HTTPTimeoutSeconds: 5}
	return NewClient(cfg, nil)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func TestValidateAdminKey(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/admin/validate" {
			t.Errorf("unexpected %s %s", r.Method, r.URL.Path)
		}
		if r.Header.Get("X-Request-ID") == "" {
			t.Error("missing X-Request-ID")
		}
		if r.Header.Get("X-Admin-Key") != testKey {
			writeJSON(w, http.StatusForbidden, map[string]string{"detail": "Неверный админ-ключ"})
			return
		}
		writeJSON(w, http.StatusOK, map[string]bool{"valid": true})
	})

	if err := c.ValidateAdminKey(context.Background()); err != nil {
		t.Fatalf("valid key: %v", err)
	}
	err := c.WithAdminKey("wrong").ValidateAdminKey(context.Background())
	if !errors.Is(err, ErrForbidden) {
		t.Fatalf("wrong key: got %v, want ErrForbidden", err)
	}
	if Detail(err) != "Неверный админ-ключ" {
		t.Fatalf("Detail = %q", Detail(err))
	}
}

func TestCreateAccountMultipart(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/telegram/accounts" {
			t.Errorf("path = %s", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer "+testKey {
			t.Errorf("Authorization = %q", got)
		}
		if got := r.Header.Get("X-User-Id"); got != "u1" {
			t.Errorf("X-User-Id = %q", got)
		}
		if err := r.ParseMultipartForm(1 << 16); err != nil {
			t.Fatalf("ParseMultipartForm: %v", err)
		}
		want := map[string]string{
			"phone": "+1555000111", "api_id": "1", "api_hash": "abc",
			"userId": "u1", "proxy": "socks5://p:1080",
		}
		for k, v := range want {
			if got := r.FormValue(k); got != v {
				t.Errorf("field %s = %q, want %q", k, got, v)
			}
		}
		writeJSON(w, http.StatusCreated, map[string]any{"status": "pending", "account_id": "acc1", "requires_auth": true})
	})

	res, err := c.CreateAccount(context.Background(), "u1", AccountForm{
		Phone: "+1555000111", APIID: "1", APIHash: "abc", Proxy: "socks5://p:1080",
	})
	if err != nil {
		t.Fatalf("CreateAccount: %v", err)
	}
	if res.Status != StatusPending || res.AccountID != "acc1" || !res.RequiresAuth {
		t.Fatalf("result = %+v", res)
	}
}

func TestCreateAccountConflict(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusConflict, map[string]string{"detail": "account exists"})
	})

	_, err := c.CreateAccount(context.Background(), "u1", AccountForm{Phone: "+1", APIID: "1", APIHash: "h"})
	if !errors.Is(err, ErrConflict) {
		t.Fatalf("got %v, want ErrConflict", err)
	}
	var apiErr *APIError
	if !errors.As(err, &apiErr) || apiErr.StatusCode != http.StatusConflict || apiErr.Detail != "account exists" {
		t.Fatalf("APIError = %+v", apiErr)
	}
}

func TestRequestCodePaths(t *testing.T) {
	var gotPath string
	var gotBody accountReq
	h := func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		_ = json.NewDecoder(r.Body).Decode(&gotBody)
		writeJSON(w, http.StatusOK, map[string]any{"success": true, "phone_code_hash": "h1"})
	}

	c := newTestClient(t, h)
	res, err := c.RequestCode(context.Background(), "acc1")
	if err != nil {
		t.Fatalf("RequestCode: %v", err)
	}
	if gotPath != "/api/telegram/send-code" || gotBody.AccountID != "acc1" || res.PhoneCodeHash != "h1" {
		t.Fatalf("path=%s body=%+v res=%+v", gotPath, gotBody, res)
	}

	c.perAccountCodePath = true
	if _, err := c.RequestCode(context.Background(), "acc 2"); err != nil {
		t.Fatalf("RequestCode: %v", err)
	}
	if gotPath != "/api/telegram/accounts/acc 2/request-code" {
		t.Fatalf("per-account path = %s", gotPath)
	}
}

func TestRequestCodeStatusOnlyAndFailure(t *testing.T) {
	payload := map[string]any{"status": "pending_code"}
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, payload)
	})

	if _, err := c.RequestCode(context.Background(), "acc1"); err != nil {
		t.Fatalf("pending_code: %v", err)
	}

	payload = map[string]any{"success": false, "error": "flood wait"}
	_, err := c.RequestCode(context.Background(), "acc1")
	if !errors.Is(err, ErrBadRequest) || Detail(err) != "flood wait" {
		t.Fatalf("got %v", err)
	}
}

func TestVerifyCodeOutcomes(t *testing.T) {
	cases := []struct {
		name      string
		status    int
		body      string
		wantErr   error
		wantTwoFA bool
	}{
		{"active", 200, `{"status":"active"}`, nil, false},
		{"requires_2fa flag", 200, `{"requires_2fa":true}`, nil, true},
		{"401 pending_2fa", 401, `{"status":"pending_2fa"}`, nil, true},
		{"expired text", 400, `{"detail":"code expired"}`, ErrCodeExpired, false},
		{"legacy marker", 400, `{"detail":"Отсутствует код авторизации"}`, ErrCodeExpired, false},
		{"structured detail", 400, `{"detail":{"code":"CODE_EXPIRED","message":"try again"}}`, ErrCodeExpired, false},
		{"structured code wins", 400, `{"code":"PHONE_CODE_INVALID","detail":"code expired or invalid"}`, ErrInvalidCode, false},
		{"wrong code", 400, `{"detail":"Неверный код"}`, ErrInvalidCode, false},
		{"401 without 2fa", 401, `{"detail":"bad code"}`, ErrInvalidCode, false},
		{"server", 500, `boom`, ErrServer, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				var req verifyCodeReq
				_ = json.NewDecoder(r.Body).Decode(&req)
				if req.AccountID != "acc1" || req.Code != "12345" || req.PhoneCodeHash != "h1" {
					t.Errorf("request = %+v", req)
				}
				w.WriteHeader(tc.status)
				_, _ = w.Write([]byte(tc.body))
			})

			res, err := c.VerifyCode(context.Background(), "acc1", "12345", "h1")
			if tc.wantErr != nil {
				if !errors.Is(err, tc.wantErr) {
					t.Fatalf("got %v, want %v", err, tc.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("VerifyCode: %v", err)
			}
			if res.NeedsPassword() != tc.wantTwoFA {
				t.Fatalf("NeedsPassword = %v", res.NeedsPassword())
			}
		})
	}
}

func TestVerifyCodeOmitsEmptyHash(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		var raw map[string]any
		_ = json.NewDecoder(r.Body).Decode(&raw)
		if _, ok := raw["phone_code_hash"]; ok {
			t.Error("phone_code_hash sent without a value")
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "active"})
	})
	if _, err := c.VerifyCode(context.Background(), "acc1", "1", ""); err != nil {
		t.Fatal(err)
	}
}

func TestVerifyPassword(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		var req verifyPasswordReq
		_ = json.NewDecoder(r.Body).Decode(&req)
		if req.Password != "hunter2" {
			writeJSON(w, http.StatusBadRequest, map[string]string{"detail": "Неверный пароль 2FA"})
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "active"})
	})

	res, err := c.VerifyPassword(context.Background(), "acc1", "hunter2")
	if err != nil || res.Status != StatusActive {
		t.Fatalf("res=%+v err=%v", res, err)
	}
	_, err = c.VerifyPassword(context.Background(), "acc1", "nope")
	if !errors.Is(err, ErrInvalidPassword) {
		t.Fatalf("got %v, want ErrInvalidPassword", err)
	}
}

func TestUserAndAccountLookup(t *testing.T) {
	users := []User{
		{ID: "u1", Username: "alice", TelegramAccounts: []Account{{ID: "acc1", Phone: "+1", Status: StatusActive}}},
		{ID: "u2", Username: "bob", TelegramAccounts: []Account{{ID: "acc2", Phone: "+2", Status: StatusPendingCode}}},
	}
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("X-Admin-Key") != testKey {
			t.Error("missing admin key header")
		}
		writeJSON(w, http.StatusOK, users)
	})

	u, err := c.User(context.Background(), "u2")
	if err != nil || u.Username != "bob" {
		t.Fatalf("User: %+v %v", u, err)
	}
	owner, acc, err := c.Account(context.Background(), "acc2")
	if err != nil || owner.ID != "u2" || acc.Phone != "+2" {
		t.Fatalf("Account: %+v %+v %v", owner, acc, err)
	}
	if _, err := c.User(context.Background(), "missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("missing user: %v", err)
	}
}

func TestCheckConnectionAndDelete(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.URL.Path == "/api/telegram/check-connection":
			writeJSON(w, http.StatusOK, map[string]any{
				"is_connected": true, "is_authorized": true,
				"details": map[string]any{"id": 7, "username": "alice"},
			})
		case r.Method == http.MethodDelete && r.URL.Path == "/api/telegram/accounts/+1555":
			writeJSON(w, http.StatusOK, map[string]string{"message": "deleted"})
		default:
			writeJSON(w, http.StatusNotFound, map[string]string{"detail": "no route"})
		}
	})

	res, err := c.CheckConnection(context.Background(), "acc1")
	if err != nil || !res.IsAuthorized || res.Details.Username != "alice" {
		t.Fatalf("CheckConnection: %+v %v", res, err)
	}
	if err := c.DeleteAccount(context.Background(), "+1555"); err != nil {
		t.Fatalf("DeleteAccount: %v", err)
	}
	if err := c.DeleteAccount(context.Background(), "+999"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("DeleteAccount missing: %v", err)
	}
}

func TestNetworkError(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	srv.Close()
	c := NewClient(&config.Config{PanelAPIBase: srv.URL, HTTPTimeoutSeconds: 1}, nil)

	_, err := c.RequestCode(context.Background(), "acc1")
	var netErr *NetworkError
	if !errors.As(err, &netErr) {
		t.Fatalf("got %T %v, want *NetworkError", err, err)
	}
}

func TestNewHTTPClient(t *testing.T) {
	for _, p := range []string{"", "http://127.0.0.1:3128", "socks5://127.0.0.1:1080"} {
		hc, err := NewHTTPClient(time.Second, p)
		if err != nil {
			t.Fatalf("%q: %v", p, err)
		}
		if hc.Timeout != time.Second {
			t.Fatalf("%q: timeout = %v", p, hc.Timeout)
		}
	}
	if _, err := NewHTTPClient(time.Second, "ftp://127.0.0.1:21"); err == nil {
		t.Fatal("expected error for unsupported scheme")
	}
}
