// Package telegram connects a session to a Telegram bot account through the
// Bot API long-polling interface.
package telegram

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/dwizi/listing-intake/internal/connectors"
)

const pollTimeoutSeconds = 30

var errStopped = errors.New("transport stopped")

type Options struct {
	// APIEndpoint is a format string taking the token and the method name.
	APIEndpoint string
	HTTPClient  *http.Client
}

func Factory(opts Options) connectors.Factory {
	return func(identity connectors.Identity, logger *slog.Logger) (connectors.Transport, error) {
		return New(opts, logger), nil
	}
}

type Transport struct {
	endpoint   string
	httpClient *http.Client
	logger     *slog.Logger

	mu       sync.Mutex
	bot      *tgbotapi.BotAPI
	stopOnce sync.Once
	stopped  chan struct{}
}

func New(opts Options, logger *slog.Logger) *Transport {
	endpoint := strings.TrimSpace(opts.APIEndpoint)
	if endpoint == "" {
		endpoint = tgbotapi.APIEndpoint
	}
	client := opts.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: (pollTimeoutSeconds + 15) * time.Second}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Transport{
		endpoint:   endpoint,
		httpClient: client,
		logger:     logger,
		stopped:    make(chan struct{}),
	}
}

func (t *Transport) Name() string {
	return "telegram"
}

func (t *Transport) Connect(ctx context.Context, identity connectors.Identity) error {
	if err := ctx.Err(); err != nil {
		return connectors.TransportError("telegram.connect", err)
	}
	bot, err := tgbotapi.NewBotAPIWithClient(strings.TrimSpace(identity.Credentials), t.endpoint, t.httpClient)
	if err != nil {
		var apiErr *tgbotapi.Error
		if errors.As(err, &apiErr) && (apiErr.Code == http.StatusUnauthorized || apiErr.Code == http.StatusNotFound) {
			return connectors.InvalidIdentity("telegram.connect", err)
		}
		return connectors.TransportError("telegram.connect", err)
	}
	// StopListening may have run while the bot was being created; it saw no
	// bot then, so the handle must not be installed now.
	t.mu.Lock()
	if t.isStopped() {
		t.mu.Unlock()
		return connectors.TransportError("telegram.connect", errStopped)
	}
	t.bot = bot
	t.mu.Unlock()
	t.logger.Info("telegram bot connected", "username", bot.Self.UserName, "bot_id", bot.Self.ID)
	return nil
}

func (t *Transport) Listen(ctx context.Context, handler connectors.Handler) error {
	bot, err := t.connected("telegram.listen")
	if err != nil {
		return err
	}
	if t.isStopped() {
		return nil
	}
	config := tgbotapi.NewUpdate(0)
	config.Timeout = pollTimeoutSeconds
	updates := bot.GetUpdatesChan(config)
	defer t.StopListening()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-t.stopped:
			return nil
		case update, ok := <-updates:
			if !ok {
				return nil
			}
			event, ok := eventFromUpdate(update)
			if !ok {
				continue
			}
			handler(ctx, event)
		}
	}
}

// StopListening ends long polling. The underlying library panics on a second
// shutdown, hence the once guard.
func (t *Transport) StopListening() {
	t.stopOnce.Do(func() {
		close(t.stopped)
		t.mu.Lock()
		bot := t.bot
		t.mu.Unlock()
		if bot != nil {
			bot.StopReceivingUpdates()
		}
	})
}

func (t *Transport) Send(ctx context.Context, recipient string, threadType connectors.ThreadType, content string) error {
	bot, err := t.connected("telegram.send")
	if err != nil {
		return err
	}
	chatID, err := strconv.ParseInt(strings.TrimSpace(recipient), 10, 64)
	if err != nil {
		return connectors.TransportError("telegram.send", fmt.Errorf("parse chat id: %w", err))
	}
	if _, err := bot.Send(tgbotapi.NewMessage(chatID, content)); err != nil {
		return connectors.TransportError("telegram.send", err)
	}
	return nil
}

func (t *Transport) LookupUserName(ctx context.Context, userID string) (string, error) {
	bot, err := t.connected("telegram.lookup_user")
	if err != nil {
		return "", err
	}
	id, err := strconv.ParseInt(strings.TrimSpace(userID), 10, 64)
	if err != nil {
		return "", fmt.Errorf("parse user id: %w", err)
	}
	chat, err := bot.GetChat(tgbotapi.ChatInfoConfig{ChatConfig: tgbotapi.ChatConfig{ChatID: id}})
	if err != nil {
		return "", connectors.TransportError("telegram.lookup_user", err)
	}
	return displayName(chat.FirstName, chat.LastName, chat.UserName), nil
}

func (t *Transport) isStopped() bool {
	select {
	case <-t.stopped:
		return true
	default:
		return false
	}
}

func (t *Transport) connected(op string) (*tgbotapi.BotAPI, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.bot == nil {
		return nil, connectors.TransportError(op, errors.New("not connected"))
	}
	return t.bot, nil
}

func eventFromUpdate(update tgbotapi.Update) (connectors.Event, bool) {
	message := update.Message
	if message == nil || message.From == nil || message.Chat == nil {
		return connectors.Event{}, false
	}
	content := strings.TrimSpace(message.Text)
	if content == "" {
		content = strings.TrimSpace(message.Caption)
	}
	if content == "" {
		return connectors.Event{}, false
	}
	threadType := connectors.ThreadGroup
	if message.Chat.IsPrivate() {
		threadType = connectors.ThreadUser
	}
	return connectors.Event{
		SenderID:   strconv.FormatInt(message.From.ID, 10),
		SenderName: displayName(message.From.FirstName, message.From.LastName, message.From.UserName),
		Content:    content,
		ThreadID:   strconv.FormatInt(message.Chat.ID, 10),
		ThreadType: threadType,
		ReceivedAt: message.Time().UTC(),
	}, true
}

func displayName(first, last, username string) string {
	name := strings.TrimSpace(strings.TrimSpace(first) + " " + strings.TrimSpace(last))
	if name != "" {
		return name
	}
	return strings.TrimSpace(username)
}
