// Package linking drives an operator through linking a Telegram account to a
// panel user: credentials, login code, and an optional two-factor password.
// The backend does the protocol work; the controller tracks which step the
// operator is on and what to show.
package linking

import (
	"context"
	"errors"
	"log"
	"slices"
	"strings"
	"sync"

	"tglinkbot/internal/panel"
)

// API is the part of the panel backend the flow needs.
type API interface {
	CreateAccount(ctx context.Context, userID string, form panel.AccountForm) (*panel.CreateResult, error)
	RequestCode(ctx context.Context, accountID string) (*panel.CodeResult, error)
	VerifyCode(ctx context.Context, accountID, code, phoneCodeHash string) (*panel.VerifyResult, error)
	VerifyPassword(ctx context.Context, accountID, password string) (*panel.VerifyResult, error)
}

// Presenter receives the effects that leave the controller.
type Presenter interface {
	// Status shows an informational message while a call is running.
	Status(text string)
	// Closed is called once whenever an open session ends.
	Closed(reason CloseReason)
	// Refresh re-fetches the user's account listing after a successful link.
	Refresh(ctx context.Context, userID string)
}

// CloseReason says why a session ended.
type CloseReason int

const (
	ClosedByOperator CloseReason = iota
	ClosedLinked
)

// Controller owns at most one Session. All methods are safe for concurrent
// use; a second call while one is in flight fails with ErrInFlight.
type Controller struct {
	api API
	out Presenter

	mu    sync.Mutex
	state State
	sess  Session
	busy  bool
	gen   uint64 // bumped on open and close so stale answers can be dropped
}

func NewController(api API, out Presenter) *Controller {
	return &Controller{api: api, out: out, sess: Session{Stage: StageNone}}
}

func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Controller) Session() Session {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sess
}

func (c *Controller) View() View {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Render(c.state, c.sess, c.busy)
}

// OpenAdd starts linking a new account for userID.
func (c *Controller) OpenAdd(userID string) error {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return &ValidationError{Field: "user", Reason: "required"}
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != StateIdle {
		return ErrSessionActive
	}
	c.gen++
	c.state = StateAwaitingInitialSubmit
	c.sess = Session{UserID: userID, Stage: StageNone}
	return nil
}

// OpenReauth starts re-authorizing an existing account and immediately asks
// the backend for a code. The session stays open if that request fails so
// the operator can retry with RequestCode.
func (c *Controller) OpenReauth(ctx context.Context, userID, accountID, phone string) error {
	userID, accountID = strings.TrimSpace(userID), strings.TrimSpace(accountID)
	if userID == "" {
		return &ValidationError{Field: "user", Reason: "required"}
	}
	if accountID == "" {
		return &ValidationError{Field: "account", Reason: "required"}
	}
	c.mu.Lock()
	if c.state != StateIdle {
		c.mu.Unlock()
		return ErrSessionActive
	}
	c.gen++
	c.state = StateAwaitingCode
	c.sess = Session{
		UserID:    userID,
		AccountID: accountID,
		Phone:     phone,
		Stage:     StageAwaitingCode,
		Locked:    true,
		Status:    "Requesting a login code for " + phone,
	}
	c.mu.Unlock()

	c.out.Status("Requesting a login code for " + phone + "…")
	return c.RequestCode(ctx)
}

// Submit sends the add-account form.
func (c *Controller) Submit(ctx context.Context, cr Credentials) error {
	sess, gen, err := c.begin(StateAwaitingInitialSubmit)
	if err != nil {
		return err
	}
	cr = cr.normalized()
	if err := cr.Validate(); err != nil {
		c.settle(gen, nil)
		return err
	}

	res, err := c.api.CreateAccount(ctx, sess.UserID, cr.form())
	if err != nil {
		if !c.settle(gen, nil) {
			return ErrClosed
		}
		return err
	}
	log.Printf("[INFO] account %s for user %s created with status %q", res.AccountID, sess.UserID, res.Status)

	switch {
	case res.Status == panel.StatusPending2FA:
		return c.advance(gen, func(s *Session) State {
			s.AccountID, s.Phone, s.Locked = res.AccountID, cr.Phone, true
			s.Status = "Two-factor password required for " + cr.Phone
			return StateAwaitingTwoFactor
		})
	case res.RequiresAuth || res.Status == panel.StatusPending || res.Status == panel.StatusPendingCode:
		return c.advance(gen, func(s *Session) State {
			s.AccountID, s.Phone, s.Locked = res.AccountID, cr.Phone, true
			s.PhoneCodeHash = res.PhoneCodeHash
			s.Status = "Code sent to " + cr.Phone
			return StateAwaitingCode
		})
	case res.Status == panel.StatusActive || res.Status == "":
		return c.succeed(ctx, gen)
	default:
		if !c.settle(gen, nil) {
			return ErrClosed
		}
		return &StatusError{Op: "create account", Status: res.Status}
	}
}

// RequestCode asks the backend to send a new login code.
func (c *Controller) RequestCode(ctx context.Context) error {
	sess, gen, err := c.begin(StateAwaitingCode)
	if err != nil {
		return err
	}
	res, err := c.api.RequestCode(ctx, sess.AccountID)
	if err != nil {
		if !c.settle(gen, nil) {
			return ErrClosed
		}
		return err
	}
	if !c.settle(gen, func(s *Session) { c.codeSent(s, res) }) {
		return ErrClosed
	}
	return nil
}

// SubmitCode verifies a login code. An expired code is replaced by a fresh
// one without surfacing an error.
func (c *Controller) SubmitCode(ctx context.Context, code string) error {
	code = strings.TrimSpace(code)
	sess, gen, err := c.begin(StateAwaitingCode)
	if err != nil {
		return err
	}
	if code == "" {
		c.settle(gen, nil)
		return &ValidationError{Field: "code", Reason: "required"}
	}

	res, err := c.api.VerifyCode(ctx, sess.AccountID, code, sess.PhoneCodeHash)
	switch {
	case errors.Is(err, panel.ErrCodeExpired):
		return c.resendExpired(ctx, gen, sess)
	case err != nil:
		if !c.settle(gen, nil) {
			return ErrClosed
		}
		return err
	case res.NeedsPassword():
		return c.advance(gen, func(s *Session) State {
			s.Status = "Two-factor password required"
			return StateAwaitingTwoFactor
		})
	case res.Status == panel.StatusActive || res.Status == "":
		return c.succeed(ctx, gen)
	default:
		if !c.settle(gen, nil) {
			return ErrClosed
		}
		return &StatusError{Op: "verify code", Status: res.Status}
	}
}

// SubmitPassword verifies the two-factor password. A wrong password keeps
// the session at this step.
func (c *Controller) SubmitPassword(ctx context.Context, password string) error {
	sess, gen, err := c.begin(StateAwaitingTwoFactor)
	if err != nil {
		return err
	}
	if password == "" {
		c.settle(gen, nil)
		return &ValidationError{Field: "password", Reason: "required"}
	}

	res, err := c.api.VerifyPassword(ctx, sess.AccountID, password)
	if err != nil {
		if !c.settle(gen, nil) {
			return ErrClosed
		}
		return err
	}
	if res.Status != panel.StatusActive && res.Status != "" {
		if !c.settle(gen, nil) {
			return ErrClosed
		}
		return &StatusError{Op: "verify password", Status: res.Status}
	}
	return c.succeed(ctx, gen)
}

// Close abandons the session. A call still in flight is not aborted, but
// its answer will be ignored.
func (c *Controller) Close() {
	c.mu.Lock()
	if c.state == StateIdle {
		c.mu.Unlock()
		return
	}
	c.reset()
	c.mu.Unlock()
	c.out.Closed(ClosedByOperator)
}

// === transitions ===

func (c *Controller) reset() {
	c.gen++
	c.state = StateIdle
	c.busy = false
	c.sess = Session{Stage: StageNone}
}

// begin claims the session for one backend call.
func (c *Controller) begin(allowed ...State) (Session, uint64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == StateIdle {
		return Session{}, 0, ErrNoSession
	}
	if c.busy {
		return Session{}, 0, ErrInFlight
	}
	if !slices.Contains(allowed, c.state) {
		return Session{}, 0, ErrWrongState
	}
	c.busy = true
	return c.sess, c.gen, nil
}

// settle releases the session claimed by begin and applies fn to it. It
// reports false when the session was closed in the meantime.
func (c *Controller) settle(gen uint64, fn func(*Session)) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if gen != c.gen {
		return false
	}
	c.busy = false
	if fn != nil {
		fn(&c.sess)
	}
	return true
}

func (c *Controller) advance(gen uint64, fn func(*Session) State) error {
	ok := c.settle(gen, func(s *Session) {
		c.state = fn(s)
		s.Stage = stageFor(c.state)
	})
	if !ok {
		return ErrClosed
	}
	return nil
}

func (c *Controller) succeed(ctx context.Context, gen uint64) error {
	c.mu.Lock()
	if gen != c.gen {
		c.mu.Unlock()
		return ErrClosed
	}
	userID, accountID := c.sess.UserID, c.sess.AccountID
	c.reset()
	c.mu.Unlock()

	log.Printf("[INFO] account %s linked for user %s", accountID, userID)
	c.out.Closed(ClosedLinked)
	c.out.Refresh(ctx, userID)
	return nil
}

func (c *Controller) codeSent(s *Session, res *panel.CodeResult) {
	if res.PhoneCodeHash != "" {
		s.PhoneCodeHash = res.PhoneCodeHash
	}
	s.Status = "Code sent to " + s.Phone
}

// resendExpired requests a replacement code while the session is still
// claimed by the failed verification.
func (c *Controller) resendExpired(ctx context.Context, gen uint64, sess Session) error {
	log.Printf("[DEBUG] code for account %s expired, requesting a new one", sess.AccountID)
	c.out.Status("Code expired or was never requested. Requesting a new one…")

	res, err := c.api.RequestCode(ctx, sess.AccountID)
	if err != nil {
		if !c.settle(gen, nil) {
			return ErrClosed
		}
		return err
	}
	ok := c.settle(gen, func(s *Session) {
		c.codeSent(s, res)
		s.Status = "New code sent to " + s.Phone
	})
	if !ok {
		return ErrClosed
	}
	return nil
}
