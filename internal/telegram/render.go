package telegram

import (
	"context"
	"fmt"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"tglinkbot/internal/linking"
	"tglinkbot/internal/panel"
)

var (
	codeKeyboard = tgbotapi.NewReplyKeyboard(tgbotapi.NewKeyboardButtonRow(
		tgbotapi.NewKeyboardButton("/resend"),
		tgbotapi.NewKeyboardButton("/cancel"),
	))
	cancelKeyboard = tgbotapi.NewReplyKeyboard(tgbotapi.NewKeyboardButtonRow(
		tgbotapi.NewKeyboardButton("/cancel"),
	))
)

// render shows the input block the view makes visible.
func (b *Bot) render(chatID int64, v linking.View) {
	if !v.Open {
		return
	}
	var text string
	var kb tgbotapi.ReplyKeyboardMarkup
	switch {
	case v.Form:
		text = "📱 Send the account details on one line:\n<phone> <api_id> <api_hash> [proxy]\n\nProxy is optional, e.g. socks5://host:1080"
		kb = cancelKeyboard
	case v.Code:
		text = "🔑 Send the login code. /resend for a new code."
		kb = codeKeyboard
	case v.Password:
		text = "🔒 Send the two-factor password. The message will be deleted."
		kb = cancelKeyboard
	}
	if v.Status != "" {
		text = v.Status + "\n" + text
	}
	msg := tgbotapi.NewMessage(chatID, text)
	msg.ReplyMarkup = kb
	b.send(msg)
}

var statusLabels = map[panel.AccountStatus]string{
	panel.StatusActive:             "✅ active",
	panel.StatusPending:            "⏳ awaiting authorization",
	panel.StatusPendingCode:        "⏳ awaiting code",
	panel.StatusPending2FA:         "🔒 awaiting 2FA password",
	panel.StatusError:              "❌ error",
	panel.StatusInactive:           "⏸ inactive",
	panel.StatusBanned:             "⛔ banned",
	panel.StatusRateLimited:        "🐢 rate limited",
	panel.StatusValidationRequired: "⚠️ validation required",
}

func statusLabel(s panel.AccountStatus) string {
	if l, ok := statusLabels[s]; ok {
		return l
	}
	return "❔ " + string(s)
}

func formatUser(u *panel.User) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "👤 %s (id %s)\n", u.Username, u.ID)
	if len(u.TelegramAccounts) == 0 {
		sb.WriteString("No Telegram accounts. /add " + u.ID)
		return sb.String()
	}
	for _, a := range u.TelegramAccounts {
		phone := a.Phone
		if phone == "" {
			phone = "unknown"
		}
		fmt.Fprintf(&sb, "• %s: %s [%s]", phone, statusLabel(a.Status), a.ID)
		if !a.IsActive && a.Status == panel.StatusActive {
			sb.WriteString(" (disabled in pool)")
		}
		if a.Error != "" {
			sb.WriteString(" (" + a.Error + ")")
		}
		if a.Status != panel.StatusActive {
			sb.WriteString(" /relink " + a.ID)
		}
		sb.WriteString("\n")
	}
	return strings.TrimRight(sb.String(), "\n")
}

// chatPresenter is the linking.Presenter of one operator chat.
type chatPresenter struct {
	bot    *Bot
	chatID int64
	client *panel.Client
}

func (p *chatPresenter) Status(text string) {
	p.bot.reply(p.chatID, "⏳ "+text)
}

func (p *chatPresenter) Closed(reason linking.CloseReason) {
	text := "Linking session closed."
	if reason == linking.ClosedLinked {
		text = "✅ Telegram account authorized."
	}
	msg := tgbotapi.NewMessage(p.chatID, text)
	msg.ReplyMarkup = tgbotapi.NewRemoveKeyboard(false)
	p.bot.send(msg)
}

func (p *chatPresenter) Refresh(ctx context.Context, userID string) {
	u, err := p.client.User(ctx, userID)
	if err != nil {
		p.bot.reply(p.chatID, "⚠️ Could not refresh the account list: "+panel.Detail(err))
		return
	}
	p.bot.reply(p.chatID, formatUser(u))
}
