// Package gateway connects a session to a chat gateway speaking a small JSON
// protocol over a websocket: hello, identify, ready, then message events.
package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/dwizi/listing-intake/internal/connectors"
)

const lookupTimeout = 5 * time.Second

type Options struct {
	// URL is the default gateway address; a session's "url" setting wins.
	URL    string
	Dialer *websocket.Dialer
}

func Factory(opts Options) connectors.Factory {
	return func(identity connectors.Identity, logger *slog.Logger) (connectors.Transport, error) {
		if identity.Setting("url", opts.URL) == "" {
			return nil, connectors.InvalidIdentity("gateway.build", errors.New("gateway url is required"))
		}
		return New(opts, logger), nil
	}
}

type Transport struct {
	defaultURL string
	dialer     *websocket.Dialer
	logger     *slog.Logger

	mu        sync.Mutex
	conn      *websocket.Conn
	heartbeat time.Duration
	pending   map[string]chan userPayload

	writeMu  sync.Mutex
	stopOnce sync.Once
	stopped  chan struct{}
}

func New(opts Options, logger *slog.Logger) *Transport {
	dialer := opts.Dialer
	if dialer == nil {
		dialer = websocket.DefaultDialer
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Transport{
		defaultURL: strings.TrimSpace(opts.URL),
		dialer:     dialer,
		logger:     logger,
		pending:    map[string]chan userPayload{},
		stopped:    make(chan struct{}),
	}
}

func (t *Transport) Name() string {
	return "gateway"
}

func (t *Transport) Connect(ctx context.Context, identity connectors.Identity) error {
	url := identity.Setting("url", t.defaultURL)
	conn, _, err := t.dialer.DialContext(ctx, url, nil)
	if err != nil {
		return connectors.TransportError("gateway.connect", fmt.Errorf("dial gateway: %w", err))
	}
	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetReadDeadline(deadline)
	}

	heartbeat, err := readHello(conn)
	if err != nil {
		conn.Close()
		return connectors.TransportError("gateway.connect", err)
	}
	identify := identifyPayload{
		Token:     strings.TrimSpace(identity.Credentials),
		DeviceID:  strings.TrimSpace(identity.DeviceID),
		SessionID: identity.SessionID,
	}
	if err := writeEnvelope(conn, &t.writeMu, opIdentify, "", identify); err != nil {
		conn.Close()
		return connectors.TransportError("gateway.connect", err)
	}
	ready, err := readReady(conn)
	if err != nil {
		conn.Close()
		return err
	}
	_ = conn.SetReadDeadline(time.Time{})

	// A StopListening that ran during the handshake found no conn to close.
	t.mu.Lock()
	if t.isStopped() {
		t.mu.Unlock()
		_ = conn.Close()
		return connectors.TransportError("gateway.connect", errors.New("transport stopped"))
	}
	t.conn = conn
	t.heartbeat = heartbeat
	t.mu.Unlock()
	t.logger.Info("gateway session established", "url", url, "user_id", ready.User.ID, "heartbeat", heartbeat.String())
	return nil
}

func readHello(conn *websocket.Conn) (time.Duration, error) {
	for {
		var message envelope
		if err := conn.ReadJSON(&message); err != nil {
			return 0, fmt.Errorf("read hello: %w", err)
		}
		if message.Op != opHello {
			continue
		}
		var hello helloPayload
		if err := json.Unmarshal(message.D, &hello); err != nil {
			return 0, fmt.Errorf("decode hello: %w", err)
		}
		return time.Duration(hello.HeartbeatIntervalMS) * time.Millisecond, nil
	}
}

func readReady(conn *websocket.Conn) (readyPayload, error) {
	for {
		var message envelope
		if err := conn.ReadJSON(&message); err != nil {
			return readyPayload{}, connectors.TransportError("gateway.connect", fmt.Errorf("read ready: %w", err))
		}
		switch message.Op {
		case opReady:
			var ready readyPayload
			_ = json.Unmarshal(message.D, &ready)
			return ready, nil
		case opInvalidSession:
			var invalid invalidSessionPayload
			_ = json.Unmarshal(message.D, &invalid)
			reason := strings.TrimSpace(invalid.Reason)
			if reason == "" {
				reason = "gateway rejected identify"
			}
			return readyPayload{}, connectors.InvalidIdentity("gateway.connect", errors.New(reason))
		}
	}
}

func (t *Transport) Listen(ctx context.Context, handler connectors.Handler) error {
	conn, heartbeat, err := t.connection("gateway.listen")
	if err != nil {
		return err
	}
	defer t.StopListening()

	listenCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-listenCtx.Done():
			t.StopListening()
		case <-t.stopped:
		}
	}()
	go t.heartbeatLoop(listenCtx, conn, heartbeat)

	// Reading runs apart from dispatch so a handler may call LookupUserName,
	// whose reply arrives on the read side.
	events := make(chan connectors.Event, 64)
	readDone := make(chan error, 1)
	go func() { readDone <- t.readLoop(ctx, conn, events) }()
	for {
		select {
		case event := <-events:
			handler(ctx, event)
		case <-t.stopped:
			return nil
		case err := <-readDone:
			for {
				select {
				case event := <-events:
					handler(ctx, event)
				default:
					return err
				}
			}
		}
	}
}

func (t *Transport) readLoop(ctx context.Context, conn *websocket.Conn, events chan<- connectors.Event) error {
	for {
		var message envelope
		if err := conn.ReadJSON(&message); err != nil {
			if t.isStopped() || ctx.Err() != nil {
				return nil
			}
			return connectors.TransportError("gateway.listen", fmt.Errorf("read gateway message: %w", err))
		}
		switch message.Op {
		case opEvent:
			if message.T != eventMessage {
				continue
			}
			var payload messagePayload
			if err := json.Unmarshal(message.D, &payload); err != nil {
				t.logger.Warn("decode gateway message failed", "error", err)
				continue
			}
			event, ok := eventFromPayload(payload)
			if !ok {
				continue
			}
			select {
			case events <- event:
			case <-t.stopped:
				return nil
			}
		case opUser:
			var user userPayload
			if err := json.Unmarshal(message.D, &user); err == nil {
				t.resolveLookup(message.Nonce, user)
			}
		case opHeartbeat:
			if err := writeEnvelope(conn, &t.writeMu, opHeartbeatAck, "", nil); err != nil {
				return connectors.TransportError("gateway.listen", err)
			}
		case opInvalidSession:
			return connectors.InvalidIdentity("gateway.listen", errors.New("session invalidated by gateway"))
		}
	}
}

func (t *Transport) heartbeatLoop(ctx context.Context, conn *websocket.Conn, interval time.Duration) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := writeEnvelope(conn, &t.writeMu, opHeartbeat, "", nil); err != nil {
				if !t.isStopped() {
					t.logger.Warn("gateway heartbeat failed", "error", err)
				}
				return
			}
		}
	}
}

func (t *Transport) StopListening() {
	t.stopOnce.Do(func() {
		close(t.stopped)
		t.mu.Lock()
		conn := t.conn
		t.mu.Unlock()
		if conn == nil {
			return
		}
		_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
		_ = conn.Close()
	})
}

func (t *Transport) Send(ctx context.Context, recipient string, threadType connectors.ThreadType, content string) error {
	conn, _, err := t.connection("gateway.send")
	if err != nil {
		return err
	}
	payload := sendPayload{Recipient: strings.TrimSpace(recipient), ThreadType: string(threadType), Content: content}
	if err := writeEnvelope(conn, &t.writeMu, opSend, "", payload); err != nil {
		return connectors.TransportError("gateway.send", err)
	}
	return nil
}

// LookupUserName asks the gateway for a display name. The answer arrives on
// the listen loop, so it only resolves while Listen is running.
func (t *Transport) LookupUserName(ctx context.Context, userID string) (string, error) {
	conn, _, err := t.connection("gateway.lookup_user")
	if err != nil {
		return "", err
	}
	nonce := uuid.NewString()
	reply := make(chan userPayload, 1)
	t.mu.Lock()
	t.pending[nonce] = reply
	t.mu.Unlock()
	defer func() {
		t.mu.Lock()
		delete(t.pending, nonce)
		t.mu.Unlock()
	}()

	if err := writeEnvelope(conn, &t.writeMu, opLookupUser, nonce, userPayload{UserID: strings.TrimSpace(userID)}); err != nil {
		return "", connectors.TransportError("gateway.lookup_user", err)
	}
	timer := time.NewTimer(lookupTimeout)
	defer timer.Stop()
	select {
	case user := <-reply:
		return strings.TrimSpace(user.Name), nil
	case <-ctx.Done():
		return "", ctx.Err()
	case <-t.stopped:
		return "", connectors.TransportError("gateway.lookup_user", errors.New("transport stopped"))
	case <-timer.C:
		return "", connectors.TransportError("gateway.lookup_user", errors.New("lookup timed out"))
	}
}

func (t *Transport) resolveLookup(nonce string, user userPayload) {
	t.mu.Lock()
	reply, ok := t.pending[nonce]
	t.mu.Unlock()
	if ok {
		reply <- user
	}
}

func (t *Transport) connection(op string) (*websocket.Conn, time.Duration, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.conn == nil {
		return nil, 0, connectors.TransportError(op, errors.New("not connected"))
	}
	return t.conn, t.heartbeat, nil
}

func (t *Transport) isStopped() bool {
	select {
	case <-t.stopped:
		return true
	default:
		return false
	}
}

func writeEnvelope(conn *websocket.Conn, writeMu *sync.Mutex, op, nonce string, payload any) error {
	message := envelope{Op: op, Nonce: nonce}
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("encode %s: %w", op, err)
		}
		message.D = data
	}
	writeMu.Lock()
	defer writeMu.Unlock()
	if err := conn.WriteJSON(message); err != nil {
		return fmt.Errorf("write %s: %w", op, err)
	}
	return nil
}

func eventFromPayload(payload messagePayload) (connectors.Event, bool) {
	content := strings.TrimSpace(payload.Content)
	senderID := strings.TrimSpace(payload.SenderID)
	if content == "" || senderID == "" {
		return connectors.Event{}, false
	}
	threadType := connectors.ThreadUser
	if strings.EqualFold(strings.TrimSpace(payload.ThreadType), string(connectors.ThreadGroup)) {
		threadType = connectors.ThreadGroup
	}
	receivedAt := time.Now().UTC()
	if payload.TimestampMS > 0 {
		receivedAt = time.UnixMilli(payload.TimestampMS).UTC()
	}
	return connectors.Event{
		SenderID:   senderID,
		SenderName: strings.TrimSpace(payload.SenderName),
		Content:    content,
		ThreadID:   strings.TrimSpace(payload.ThreadID),
		ThreadType: threadType,
		ReceivedAt: receivedAt,
	}, true
}
