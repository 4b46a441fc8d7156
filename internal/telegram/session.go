package telegram

import (
	"sync"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"tglinkbot/internal/linking"
	"tglinkbot/internal/panel"
)

type userState int

const (
	stateIdle userState = iota
	stateAwaitAdminKey
	stateReady
)

// session is one operator chat. Its controller plays the role of the
// "link account" dialog: at most one linking attempt per chat.
type session struct {
	mu     sync.Mutex
	chatID int64
	state  userState
	client *panel.Client
	ctrl   *linking.Controller

	restoreOnce sync.Once

	qmu      sync.Mutex
	queue    []*tgbotapi.Message
	draining bool
}

func (s *session) snapshot() (userState, *panel.Client, *linking.Controller) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state, s.client, s.ctrl
}

func (s *session) setState(st userState) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = st
}

func (b *Bot) login(s *session, client *panel.Client) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.client = client
	s.ctrl = linking.NewController(client, &chatPresenter{bot: b, chatID: s.chatID, client: client})
	s.state = stateReady
}

// logout drops the chat's credentials and closes any open linking attempt.
func (b *Bot) logout(s *session) {
	s.mu.Lock()
	ctrl := s.ctrl
	s.client, s.ctrl = nil, nil
	s.state = stateIdle
	s.mu.Unlock()
	if ctrl != nil {
		ctrl.Close()
	}
}
