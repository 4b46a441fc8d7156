package config

import (
	"errors"
	"fmt"
	"log"
	"net/url"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

type Config struct {
	TelegramBotToken string `env:"TELEGRAM_BOT_TOKEN,required,notEmpty"`
	BotDebug         bool   `env:"BOT_DEBUG"`

	// PanelAPIBase is the admin backend root, e.g. http://localhost:3030.
	PanelAPIBase string `env:"PANEL_API_BASE" envDefault:"http://localhost:3030"`
	// PanelAdminKey is used for chats that never sent their own key.
	PanelAdminKey      string `env:"PANEL_ADMIN_KEY"`
	PerAccountCodePath bool   `env:"PANEL_PER_ACCOUNT_CODE_PATH"`

	// OperatorChatIDs restricts the bot to these chats. Empty allows every chat.
	OperatorChatIDs []int64 `env:"OPERATOR_CHAT_IDS" envSeparator:","`

	StorePath          string  `env:"STORE_PATH" envDefault:"tglinkbot.db"`
	HTTPTimeoutSeconds int     `env:"HTTP_TIMEOUT_SECONDS" envDefault:"30"`
	OutboundProxy      string  `env:"OUTBOUND_PROXY"`
	SendRatePerSecond  float64 `env:"SEND_RATE_PER_SECOND" envDefault:"20"`
}

// Load reads .env when present and then the process environment.
// Variables already set in the environment win over .env values.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		log.Println("⚠️ .env file not found, using process environment")
	}

	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	u, err := url.Parse(c.PanelAPIBase)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("PANEL_API_BASE must be an absolute URL, got %q", c.PanelAPIBase)
	}
	if c.OutboundProxy != "" {
		p, err := url.Parse(c.OutboundProxy)
		if err != nil || p.Host == "" {
			return fmt.Errorf("OUTBOUND_PROXY must be a URL, got %q", c.OutboundProxy)
		}
	}
	// The default key logs every allowed chat in, so it needs an allowlist.
	if c.PanelAdminKey != "" && len(c.OperatorChatIDs) == 0 {
		return errors.New("PANEL_ADMIN_KEY requires OPERATOR_CHAT_IDS")
	}
	if c.HTTPTimeoutSeconds <= 0 {
		log.Printf("⚠️ Warning: HTTP_TIMEOUT_SECONDS must be positive, using default 30")
		c.HTTPTimeoutSeconds = 30
	}
	if c.SendRatePerSecond <= 0 {
		return errors.New("SEND_RATE_PER_SECOND must be positive")
	}
	return nil
}

func (c *Config) HTTPTimeout() time.Duration {
	return time.Duration(c.HTTPTimeoutSeconds) * time.Second
}

// IsOperator reports whether chatID may use the bot.
func (c *Config) IsOperator(chatID int64) bool {
	if len(c.OperatorChatIDs) == 0 {
		return true
	}
	for _, id := range c.OperatorChatIDs {
		if id == chatID {
			return true
		}
	}
	return false
}
