// Package connectors defines the chat transport contract shared by every
// provider and the registry the session manager builds transports from.
package connectors

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/dwizi/listing-intake/internal/apperr"
)

type ThreadType string

const (
	ThreadUser  ThreadType = "user"
	ThreadGroup ThreadType = "group"
)

func ParseThreadType(raw string) (ThreadType, error) {
	switch ThreadType(strings.ToLower(strings.TrimSpace(raw))) {
	case "", ThreadUser:
		return ThreadUser, nil
	case ThreadGroup:
		return ThreadGroup, nil
	default:
		return "", apperr.New(apperr.KindValidation, "connectors.thread_type", fmt.Sprintf("unknown thread type %q", raw))
	}
}

// Identity is everything a transport needs to log in as one session.
type Identity struct {
	SessionID   string
	Provider    string
	Credentials string
	DeviceID    string
	Settings    map[string]string
}

func (i Identity) Setting(key, fallback string) string {
	if value := strings.TrimSpace(i.Settings[key]); value != "" {
		return value
	}
	return fallback
}

// Event is one inbound chat message.
type Event struct {
	SenderID   string
	SenderName string
	Content    string
	ThreadID   string
	ThreadType ThreadType
	ReceivedAt time.Time
}

type Handler func(ctx context.Context, event Event)

// Transport is one logged-in chat account. Listen blocks until ctx ends,
// StopListening is called or the connection fails; StopListening must be
// safe to call more than once and from another goroutine.
type Transport interface {
	Name() string
	Connect(ctx context.Context, identity Identity) error
	Listen(ctx context.Context, handler Handler) error
	Send(ctx context.Context, recipient string, threadType ThreadType, content string) error
	LookupUserName(ctx context.Context, userID string) (string, error)
	StopListening()
}

type Factory func(identity Identity, logger *slog.Logger) (Transport, error)

type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
}

func NewRegistry() *Registry {
	return &Registry{factories: map[string]Factory{}}
}

func (r *Registry) Register(provider string, factory Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[strings.ToLower(strings.TrimSpace(provider))] = factory
}

func (r *Registry) Providers() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	providers := make([]string, 0, len(r.factories))
	for provider := range r.factories {
		providers = append(providers, provider)
	}
	sort.Strings(providers)
	return providers
}

// Build validates the identity and constructs a transport for its provider.
func (r *Registry) Build(identity Identity, logger *slog.Logger) (Transport, error) {
	provider := strings.ToLower(strings.TrimSpace(identity.Provider))
	if strings.TrimSpace(identity.Credentials) == "" {
		return nil, &apperr.Error{Kind: apperr.KindConfig, Op: "connectors.build", Message: "credentials are required", Err: apperr.ErrInvalidIdentity}
	}
	r.mu.RLock()
	factory, ok := r.factories[provider]
	r.mu.RUnlock()
	if !ok {
		return nil, &apperr.Error{Kind: apperr.KindConfig, Op: "connectors.build", Message: fmt.Sprintf("provider %q", provider), Err: apperr.ErrUnknownProvider}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return factory(identity, logger.With("provider", provider, "session_id", identity.SessionID))
}

// InvalidIdentity reports a credentials problem that retrying cannot fix.
func InvalidIdentity(op string, err error) error {
	return &apperr.Error{Kind: apperr.KindConfig, Op: op, Message: apperr.ErrInvalidIdentity.Error(), Err: err}
}

func TransportError(op string, err error) error {
	return apperr.Wrap(apperr.KindTransport, op, err)
}
