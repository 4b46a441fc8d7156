package telegram

import (
	"context"
	"errors"
	"log"
	"strings"
	"sync"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"golang.org/x/time/rate"

	"tglinkbot/internal/config"
	"tglinkbot/internal/panel"
)

const pollTimeoutSeconds = 60

// sender is the part of *tgbotapi.BotAPI used to talk back to operators.
type sender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error)
}

type keyStore interface {
	AdminKey(ctx context.Context, chatID int64) (string, bool, error)
	SaveAdminKey(ctx context.Context, chatID int64, key string) error
	DeleteAdminKey(ctx context.Context, chatID int64) error
}

type Bot struct {
	cfg     *config.Config
	api     *tgbotapi.BotAPI
	out     sender
	keys    keyStore
	panel   *panel.Client
	limiter *rate.Limiter

	smux sync.RWMutex
	sess map[int64]*session // by Telegram chat ID

	wg sync.WaitGroup
}

func NewBot(cfg *config.Config, keys keyStore, pc *panel.Client) (*Bot, error) {
	// Long polling holds the request open for pollTimeoutSeconds.
	hc, err := panel.NewHTTPClient(pollTimeoutSeconds*time.Second+cfg.HTTPTimeout(), cfg.OutboundProxy)
	if err != nil {
		return nil, err
	}
	api, err := tgbotapi.NewBotAPIWithClient(cfg.TelegramBotToken, tgbotapi.APIEndpoint, hc)
	if err != nil {
		return nil, err
	}
	api.Debug = cfg.BotDebug
	log.Printf("🤖 Bot started: @%s", api.Self.UserName)

	b := newBot(cfg, api, keys, pc)
	b.api = api
	return b, nil
}

func newBot(cfg *config.Config, out sender, keys keyStore, pc *panel.Client) *Bot {
	limit, burst := rate.Inf, 1
	if cfg.SendRatePerSecond > 0 {
		limit = rate.Limit(cfg.SendRatePerSecond)
		burst = max(1, int(cfg.SendRatePerSecond))
	}
	return &Bot{
		cfg:     cfg,
		out:     out,
		keys:    keys,
		panel:   pc,
		limiter: rate.NewLimiter(limit, burst),
		sess:    make(map[int64]*session),
	}
}

// Run polls for updates until ctx is done. Chats are served in parallel,
// messages of one chat in the order they arrived.
func (b *Bot) Run(ctx context.Context) error {
	updCfg := tgbotapi.NewUpdate(0)
	updCfg.Timeout = pollTimeoutSeconds
	updates := b.api.GetUpdatesChan(updCfg)
	defer b.api.StopReceivingUpdates()

	for {
		select {
		case <-ctx.Done():
			b.wg.Wait()
			return ctx.Err()
		case u, ok := <-updates:
			if !ok {
				b.wg.Wait()
				return errors.New("update channel closed")
			}
			if u.Message == nil || u.Message.Chat == nil { // ignore non-message updates
				continue
			}
			b.dispatch(ctx, u.Message)
		}
	}
}

// dispatch queues msg on its chat. One drain goroutine per busy chat keeps
// the order; /cancel skips the queue so it can close a session whose call is
// still running.
func (b *Bot) dispatch(ctx context.Context, msg *tgbotapi.Message) {
	if !b.cfg.IsOperator(msg.Chat.ID) {
		log.Printf("[INFO] ignoring message from chat %d", msg.Chat.ID)
		return
	}
	s := b.getSession(msg.Chat.ID)

	s.qmu.Lock()
	if cmd, _, _ := parseCommand(strings.TrimSpace(msg.Text)); cmd == "cancel" && s.draining {
		s.qmu.Unlock()
		b.wg.Add(1)
		go func() {
			defer b.wg.Done()
			b.HandleMessage(ctx, msg)
		}()
		return
	}
	s.queue = append(s.queue, msg)
	if s.draining {
		s.qmu.Unlock()
		return
	}
	s.draining = true
	s.qmu.Unlock()

	b.wg.Add(1)
	go b.drain(ctx, s)
}

func (b *Bot) drain(ctx context.Context, s *session) {
	defer b.wg.Done()
	for {
		s.qmu.Lock()
		if len(s.queue) == 0 {
			s.draining = false
			s.qmu.Unlock()
			return
		}
		msg := s.queue[0]
		s.queue = s.queue[1:]
		s.qmu.Unlock()

		b.HandleMessage(ctx, msg)
	}
}

func (b *Bot) getSession(chatID int64) *session {
	b.smux.RLock()
	s, ok := b.sess[chatID]
	b.smux.RUnlock()
	if ok {
		return s
	}

	b.smux.Lock()
	defer b.smux.Unlock()
	if s, ok := b.sess[chatID]; ok {
		return s
	}
	s = &session{chatID: chatID, state: stateIdle}
	b.sess[chatID] = s
	return s
}

// restore logs a chat in with its saved key, or the shared key, the first
// time the chat is seen. Only callers for the same chat wait on it.
func (b *Bot) restore(ctx context.Context, s *session) {
	s.restoreOnce.Do(func() {
		key, found, err := b.keys.AdminKey(ctx, s.chatID)
		switch {
		case err != nil:
			log.Printf("[ERROR] %v", err)
		case found:
			b.login(s, b.panel.WithAdminKey(key))
		case b.panel.HasAdminKey():
			b.login(s, b.panel)
		}
	})
}

func (b *Bot) send(c tgbotapi.Chattable) {
	if err := b.limiter.Wait(context.Background()); err != nil {
		log.Printf("[ERROR] send limiter: %v", err)
		return
	}
	if _, err := b.out.Send(c); err != nil {
		log.Printf("[ERROR] telegram send error: %v", err)
	}
}

// request is for API methods whose answer is not a Message.
func (b *Bot) request(c tgbotapi.Chattable) {
	if err := b.limiter.Wait(context.Background()); err != nil {
		log.Printf("[ERROR] send limiter: %v", err)
		return
	}
	if _, err := b.out.Request(c); err != nil {
		log.Printf("[ERROR] telegram request error: %v", err)
	}
}

func (b *Bot) reply(chatID int64, text string) {
	b.send(tgbotapi.NewMessage(chatID, text))
}
