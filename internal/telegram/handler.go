package telegram

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"tglinkbot/internal/linking"
	"tglinkbot/internal/panel"
)

const helpText = "Commands:\n" +
	"/users - list panel users\n" +
	"/accounts <user_id> - Telegram accounts of a user\n" +
	"/add <user_id> - link a new Telegram account\n" +
	"/relink <account_id> - re-authorize an existing account\n" +
	"/resend - request a new login code\n" +
	"/check <account_id> - check an account's connection\n" +
	"/delete <phone> - delete an account\n" +
	"/cancel - close the current linking session\n" +
	"/logout - forget the admin key"

func (b *Bot) HandleMessage(ctx context.Context, msg *tgbotapi.Message) {
	if msg.Chat == nil {
		return
	}
	chatID := msg.Chat.ID
	if !b.cfg.IsOperator(chatID) {
		log.Printf("[INFO] ignoring message from chat %d", chatID)
		return
	}
	s := b.getSession(chatID)
	b.restore(ctx, s)
	text := strings.TrimSpace(msg.Text)

	if cmd, args, ok := parseCommand(text); ok {
		b.handleCommand(ctx, s, cmd, args)
		return
	}

	state, _, _ := s.snapshot()
	switch state {
	case stateAwaitAdminKey:
		b.handleAdminKey(ctx, s, msg)
	case stateReady:
		b.handleInput(ctx, s, msg)
	default:
		b.handleStart(s)
	}
}

// parseCommand splits "/cmd@bot args" into "cmd" and "args".
func parseCommand(text string) (cmd, args string, ok bool) {
	if !strings.HasPrefix(text, "/") {
		return "", "", false
	}
	head, rest, _ := strings.Cut(text[1:], " ")
	head, _, _ = strings.Cut(head, "@")
	return strings.ToLower(head), strings.TrimSpace(rest), head != ""
}

func (b *Bot) handleStart(s *session) {
	if state, _, _ := s.snapshot(); state == stateReady {
		b.reply(s.chatID, "👋 You are logged in to the panel.\n\n"+helpText)
		return
	}
	b.reply(s.chatID, "👋 Send the panel admin key to log in:")
	s.setState(stateAwaitAdminKey)
}

func (b *Bot) handleAdminKey(ctx context.Context, s *session, msg *tgbotapi.Message) {
	key := strings.TrimSpace(msg.Text)
	// Keys must not stay in the chat history.
	b.request(tgbotapi.NewDeleteMessage(s.chatID, msg.MessageID))
	if key == "" {
		b.reply(s.chatID, "Send the admin key as a text message:")
		return
	}

	client := b.panel.WithAdminKey(key)
	if err := client.ValidateAdminKey(ctx); err != nil {
		log.Printf("[INFO] chat %d: admin key rejected: %v", s.chatID, err)
		b.reply(s.chatID, errorText(err)+"\nSend the admin key again or /start over.")
		return
	}
	if err := b.keys.SaveAdminKey(ctx, s.chatID, key); err != nil {
		log.Printf("[ERROR] %v", err)
	}
	b.login(s, client)
	b.reply(s.chatID, "✅ Logged in.\n\n"+helpText)
}

func (b *Bot) handleCommand(ctx context.Context, s *session, cmd, args string) {
	switch cmd {
	case "start", "help":
		b.handleStart(s)
		return
	case "logout":
		if err := b.keys.DeleteAdminKey(ctx, s.chatID); err != nil {
			log.Printf("[ERROR] %v", err)
		}
		b.logout(s)
		b.reply(s.chatID, "👋 Logged out. /start to log in again.")
		return
	}

	state, client, ctrl := s.snapshot()
	if state != stateReady {
		b.reply(s.chatID, "Log in first: /start")
		return
	}

	switch cmd {
	case "users":
		b.handleUsers(ctx, s.chatID, client)
	case "accounts":
		if args == "" {
			b.reply(s.chatID, "Usage: /accounts <user_id>")
			return
		}
		u, err := client.User(ctx, args)
		if err != nil {
			b.reply(s.chatID, errorText(err))
			return
		}
		b.reply(s.chatID, formatUser(u))
	case "add":
		if err := ctrl.OpenAdd(args); err != nil {
			b.reply(s.chatID, errorText(err))
			return
		}
		b.render(s.chatID, ctrl.View())
	case "relink":
		b.handleRelink(ctx, s.chatID, client, ctrl, args)
	case "resend":
		b.run(s.chatID, ctrl, func() error { return ctrl.RequestCode(ctx) })
	case "check":
		b.handleCheck(ctx, s.chatID, client, args)
	case "delete":
		b.handleDelete(ctx, s.chatID, client, args)
	case "cancel":
		if !ctrl.View().Open {
			b.reply(s.chatID, "Nothing to cancel.")
			return
		}
		ctrl.Close()
	default:
		b.reply(s.chatID, "Unknown command.\n\n"+helpText)
	}
}

// handleInput routes plain text to the field the controller is waiting for.
func (b *Bot) handleInput(ctx context.Context, s *session, msg *tgbotapi.Message) {
	_, _, ctrl := s.snapshot()
	switch ctrl.State() {
	case linking.StateAwaitingInitialSubmit:
		creds, ok := parseCredentials(msg.Text)
		if !ok {
			b.reply(s.chatID, "⚠️ Send: <phone> <api_id> <api_hash> [proxy]")
			return
		}
		b.run(s.chatID, ctrl, func() error { return ctrl.Submit(ctx, creds) })
	case linking.StateAwaitingCode:
		b.run(s.chatID, ctrl, func() error { return ctrl.SubmitCode(ctx, msg.Text) })
	case linking.StateAwaitingTwoFactor:
		b.request(tgbotapi.NewDeleteMessage(s.chatID, msg.MessageID))
		b.run(s.chatID, ctrl, func() error { return ctrl.SubmitPassword(ctx, msg.Text) })
	default:
		b.reply(s.chatID, "Use /add <user_id> or /relink <account_id> to start.\n\n"+helpText)
	}
}

func parseCredentials(text string) (linking.Credentials, bool) {
	f := strings.Fields(text)
	if len(f) < 3 || len(f) > 4 {
		return linking.Credentials{}, false
	}
	c := linking.Credentials{Phone: f[0], APIID: f[1], APIHash: f[2]}
	if len(f) == 4 {
		c.Proxy = f[3]
	}
	return c, true
}

// run performs one controller call with the chat showing "typing" and then
// renders whatever step the controller ended up on.
func (b *Bot) run(chatID int64, ctrl *linking.Controller, op func() error) {
	b.request(tgbotapi.NewChatAction(chatID, tgbotapi.ChatTyping))

	err := op()
	switch {
	case errors.Is(err, linking.ErrInFlight):
		b.reply(chatID, "⏳ Operation in progress, wait for the answer.")
		return
	case errors.Is(err, linking.ErrClosed):
		log.Printf("[DEBUG] chat %d: answer for a closed session dropped", chatID)
		return
	case err != nil:
		b.reply(chatID, errorText(err))
	}

	// A session that closed on success was announced by the presenter.
	b.render(chatID, ctrl.View())
}

func (b *Bot) handleRelink(ctx context.Context, chatID int64, client *panel.Client, ctrl *linking.Controller, accountID string) {
	if accountID == "" {
		b.reply(chatID, "Usage: /relink <account_id>")
		return
	}
	if ctrl.View().Open {
		b.reply(chatID, errorText(linking.ErrSessionActive))
		return
	}
	owner, acc, err := client.Account(ctx, accountID)
	if err != nil {
		b.reply(chatID, errorText(err))
		return
	}
	if acc.Status == panel.StatusActive {
		b.reply(chatID, "Account "+acc.Phone+" is already active. Use /check "+acc.ID+" to test it.")
		return
	}
	b.run(chatID, ctrl, func() error { return ctrl.OpenReauth(ctx, owner.ID, acc.ID, acc.Phone) })
}

func (b *Bot) handleUsers(ctx context.Context, chatID int64, client *panel.Client) {
	users, err := client.Users(ctx)
	if err != nil {
		b.reply(chatID, errorText(err))
		return
	}
	if len(users) == 0 {
		b.reply(chatID, "No users.")
		return
	}
	var sb strings.Builder
	for _, u := range users {
		fmt.Fprintf(&sb, "👤 %s (id %s): %d Telegram account(s)\n", u.Username, u.ID, len(u.TelegramAccounts))
	}
	sb.WriteString("\n/accounts <user_id> for details")
	b.reply(chatID, sb.String())
}

func (b *Bot) handleCheck(ctx context.Context, chatID int64, client *panel.Client, accountID string) {
	if accountID == "" {
		b.reply(chatID, "Usage: /check <account_id>")
		return
	}
	b.request(tgbotapi.NewChatAction(chatID, tgbotapi.ChatTyping))
	res, err := client.CheckConnection(ctx, accountID)
	if err != nil {
		b.reply(chatID, errorText(err))
		return
	}
	switch {
	case res.IsConnected && res.IsAuthorized:
		d := res.Details
		name := strings.TrimSpace(d.FirstName + " " + d.LastName)
		username := d.Username
		if username == "" {
			username = "none"
		}
		b.reply(chatID, fmt.Sprintf("✅ Connected.\nName: %s\nUsername: %s\nID: %d", name, username, d.ID))
	case res.IsConnected:
		b.reply(chatID, "⚠️ Connected, but authorization is required: /relink "+accountID)
	default:
		reason := res.Error
		if reason == "" {
			reason = "unknown error"
		}
		b.reply(chatID, "❌ Connection failed: "+reason)
	}
}

func (b *Bot) handleDelete(ctx context.Context, chatID int64, client *panel.Client, phone string) {
	if phone == "" {
		b.reply(chatID, "Usage: /delete <phone>")
		return
	}
	if err := client.DeleteAccount(ctx, phone); err != nil {
		b.reply(chatID, errorText(err))
		return
	}
	b.reply(chatID, "🗑 Account "+phone+" deleted.")
}

func errorText(err error) string {
	var verr *linking.ValidationError
	var serr *linking.StatusError
	var nerr *panel.NetworkError
	switch {
	case errors.As(err, &verr):
		return "⚠️ Invalid " + verr.Field + ": " + verr.Reason
	case errors.Is(err, linking.ErrSessionActive):
		return "⚠️ A linking session is already open. Finish it or /cancel first."
	case errors.Is(err, linking.ErrNoSession):
		return "⚠️ No linking session is open. Use /add or /relink."
	case errors.Is(err, linking.ErrWrongState):
		return "⚠️ That action is not available at this step."
	case errors.As(err, &serr):
		return "❌ The panel reported account status " + string(serr.Status) + "."
	case errors.As(err, &nerr):
		return "❌ Panel unreachable: " + nerr.Err.Error()
	case errors.Is(err, panel.ErrConflict):
		return "❌ Already exists: " + panel.Detail(err)
	case errors.Is(err, panel.ErrInvalidCode):
		return "❌ Wrong code: " + panel.Detail(err) + "\nSend the code again."
	case errors.Is(err, panel.ErrInvalidPassword):
		return "❌ Wrong password: " + panel.Detail(err) + "\nSend the password again."
	case errors.Is(err, panel.ErrForbidden):
		return "❌ The panel rejected the admin key: " + panel.Detail(err)
	case errors.Is(err, panel.ErrNotFound):
		return "❌ Not found: " + panel.Detail(err)
	default:
		return "❌ Error: " + panel.Detail(err)
	}
}
