package config

import (
	"testing"
	"time"
)

func setRequired(t *testing.T) {
	t.Helper()
	t.Setenv("TELEGRAM_BOT_TOKEN", "123:abc")
}

func TestLoadDefaults(t *testing.T) {
	setRequired(t)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.PanelAPIBase != "http://localhost:3030" {
		t.Fatalf("PanelAPIBase = %q", cfg.PanelAPIBase)
	}
	if cfg.StorePath != "tglinkbot.db" {
		t.Fatalf("StorePath = %q", cfg.StorePath)
	}
	if cfg.HTTPTimeout() != 30*time.Second {
		t.Fatalf("HTTPTimeout = %v", cfg.HTTPTimeout())
	}
	if cfg.SendRatePerSecond != 20 {
		t.Fatalf("SendRatePerSecond = %v", cfg.SendRatePerSecond)
	}
	if !cfg.IsOperator(42) {
		t.Fatal("empty allowlist should allow every chat")
	}
}

func TestLoadOverrides(t *testing.T) {
	setRequired(t)
	t.Setenv("PANEL_API_BASE", "https://panel.example.com/")
	t.Setenv("OPERATOR_CHAT_IDS", "10,20")
	t.Setenv("HTTP_TIMEOUT_SECONDS", "5")
	t.Setenv("PANEL_PER_ACCOUNT_CODE_PATH", "true")
	t.Setenv("OUTBOUND_PROXY", "socks5://127.0.0.1:1080")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.HTTPTimeout() != 5*time.Second {
		t.Fatalf("HTTPTimeout = %v", cfg.HTTPTimeout())
	}
	if !cfg.PerAccountCodePath {
		t.Fatal("PerAccountCodePath not set")
	}
	if !cfg.IsOperator(20) || cfg.IsOperator(30) {
		t.Fatalf("allowlist = %v", cfg.OperatorChatIDs)
	}
}

func TestLoadErrors(t *testing.T) {
	cases := map[string]map[string]string{
		"missing token":                {"TELEGRAM_BOT_TOKEN": ""},
		"relative base":                {"TELEGRAM_BOT_TOKEN": "x", "PANEL_API_BASE": "panel"},
		"bad proxy":                    {"TELEGRAM_BOT_TOKEN": "x", "OUTBOUND_PROXY": "::"},
		"zero send rate":               {"TELEGRAM_BOT_TOKEN": "x", "SEND_RATE_PER_SECOND": "0"},
		"bad chat id":                  {"TELEGRAM_BOT_TOKEN": "x", "OPERATOR_CHAT_IDS": "a,b"},
		"shared key without allowlist": {"TELEGRAM_BOT_TOKEN": "x", "PANEL_ADMIN_KEY": "k", "OPERATOR_CHAT_IDS": ""},
	}
	for name, vars := range cases {
		t.Run(name, func(t *testing.T) {
			for k, v := range vars {
				t.Setenv(k, v)
			}
			if _, err := Load(); err == nil {
				t.Fatal("expected error")
			}
		})
	}
}

func TestSharedKeyWithAllowlist(t *testing.T) {
	setRequired(t)
	t.Setenv("PANEL_ADMIN_KEY", "k")
	t.Setenv("OPERATOR_CHAT_IDS", "7")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.PanelAdminKey != "k" || cfg.IsOperator(8) {
		t.Fatalf("cfg = %+v", cfg)
	}
}
