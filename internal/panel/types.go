package panel

// AccountStatus is the backend's view of a linked Telegram account.
type AccountStatus string

const (
	StatusActive             AccountStatus = "active"
	StatusPending            AccountStatus = "pending"
	StatusPendingCode        AccountStatus = "pending_code"
	StatusPending2FA         AccountStatus = "pending_2fa"
	StatusError              AccountStatus = "error"
	StatusInactive           AccountStatus = "inactive"
	StatusBanned             AccountStatus = "banned"
	StatusRateLimited        AccountStatus = "rate_limited"
	StatusValidationRequired AccountStatus = "validation_required"
)

// Account
type Account struct {
	ID            string        `json:"id"`
	Phone         string        `json:"phone"`
	Status        AccountStatus `json:"status"`
	IsActive      bool          `json:"is_active"`
	Proxy         string        `json:"proxy,omitempty"`
	Error         string        `json:"error,omitempty"`
	RequestsCount int           `json:"requests_count"`
}

// User
type User struct {
	ID               string    `json:"id"`
	Username         string    `json:"username"`
	APIKey           string    `json:"api_key"`
	TelegramAccounts []Account `json:"telegram_accounts"`
}

// AccountForm is the multipart body of account creation.
type AccountForm struct {
	Phone   string
	APIID   string
	APIHash string
	Proxy   string
}

type CreateResult struct {
	Status        AccountStatus `json:"status"`
	AccountID     string        `json:"account_id"`
	RequiresAuth  bool          `json:"requires_auth"`
	PhoneCodeHash string        `json:"phone_code_hash"`
}

// Send code
type accountReq struct {
	AccountID string `json:"account_id"`
}
type CodeResult struct {
	Success       bool          `json:"success"`
	PhoneCodeHash string        `json:"phone_code_hash"`
	Status        AccountStatus `json:"status"`
	Error         string        `json:"error"`
}

// Verify
type verifyCodeReq struct {
	AccountID     string `json:"account_id"`
	Code          string `json:"code"`
	PhoneCodeHash string `json:"phone_code_hash,omitempty"`
}
type verifyPasswordReq struct {
	AccountID string `json:"account_id"`
	Password  string `json:"password"`
}
type VerifyResult struct {
	Status      AccountStatus `json:"status"`
	Requires2FA bool          `json:"requires_2fa"`
}

// NeedsPassword reports whether the backend asked for the two-factor password.
func (r VerifyResult) NeedsPassword() bool {
	return r.Requires2FA || r.Status == StatusPending2FA
}

// Check connection
type ConnectionDetails struct {
	ID        int64  `json:"id"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	Username  string `json:"username"`
}
type ConnectionResult struct {
	IsConnected  bool              `json:"is_connected"`
	IsAuthorized bool              `json:"is_authorized"`
	Error        string            `json:"error"`
	Details      ConnectionDetails `json:"details"`
}
