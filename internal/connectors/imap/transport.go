// Package imap turns an IMAP mailbox into a receive-only chat transport:
// every unread mail becomes one inbound message.
package imap

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/base64"
	"errors"
	"fmt"
	"html"
	"io"
	"log/slog"
	"mime"
	"mime/multipart"
	"mime/quotedprintable"
	"net/mail"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/emersion/go-imap"
	"github.com/emersion/go-imap/client"

	"github.com/dwizi/listing-intake/internal/apperr"
	"github.com/dwizi/listing-intake/internal/connectors"
)

const maxBodyBytes = 2 << 20

type Options struct {
	PollInterval  time.Duration
	TLSSkipVerify bool
}

func Factory(opts Options) connectors.Factory {
	return func(identity connectors.Identity, logger *slog.Logger) (connectors.Transport, error) {
		if identity.Setting("host", "") == "" || identity.Setting("username", "") == "" {
			return nil, connectors.InvalidIdentity("imap.build", errors.New("host and username settings are required"))
		}
		return New(opts, logger), nil
	}
}

type Message struct {
	UID       uint32
	MessageID string
	FromAddr  string
	FromName  string
	Subject   string
	Date      time.Time
	Body      string
}

type Transport struct {
	pollInterval  time.Duration
	tlsSkipVerify bool
	logger        *slog.Logger

	mu       sync.Mutex
	host     string
	port     int
	username string
	password string
	mailbox  string
	names    map[string]string

	stopOnce sync.Once
	stopped  chan struct{}

	login       func(ctx context.Context) error
	fetchUnread func(ctx context.Context) ([]Message, error)
	markSeen    func(ctx context.Context, uids []uint32) error
}

func New(opts Options, logger *slog.Logger) *Transport {
	pollInterval := opts.PollInterval
	if pollInterval < time.Second {
		pollInterval = 60 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	t := &Transport{
		pollInterval:  pollInterval,
		tlsSkipVerify: opts.TLSSkipVerify,
		logger:        logger,
		names:         map[string]string{},
		stopped:       make(chan struct{}),
	}
	t.login = t.checkLogin
	t.fetchUnread = t.fetchUnreadFromIMAP
	t.markSeen = t.markSeenInIMAP
	return t
}

func (t *Transport) Name() string {
	return "imap"
}

func (t *Transport) Connect(ctx context.Context, identity connectors.Identity) error {
	port := 993
	if raw := identity.Setting("port", ""); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 1 {
			return connectors.InvalidIdentity("imap.connect", fmt.Errorf("invalid port %q", raw))
		}
		port = parsed
	}
	t.mu.Lock()
	t.host = identity.Setting("host", "")
	t.port = port
	t.username = identity.Setting("username", "")
	t.password = identity.Credentials
	t.mailbox = identity.Setting("mailbox", "INBOX")
	t.mu.Unlock()
	if err := t.login(ctx); err != nil {
		return err
	}
	t.logger.Info("imap mailbox connected", "host", t.host, "mailbox", t.mailbox)
	return nil
}

func (t *Transport) Listen(ctx context.Context, handler connectors.Handler) error {
	defer t.StopListening()
	for {
		if err := t.pollOnce(ctx, handler); err != nil && ctx.Err() == nil && !t.isStopped() {
			t.logger.Error("imap poll failed", "error", err)
		}
		timer := time.NewTimer(t.pollInterval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil
		case <-t.stopped:
			timer.Stop()
			return nil
		case <-timer.C:
		}
	}
}

func (t *Transport) pollOnce(ctx context.Context, handler connectors.Handler) error {
	incoming, err := t.fetchUnread(ctx)
	if err != nil {
		return err
	}
	seen := make([]uint32, 0, len(incoming))
	for _, item := range incoming {
		if t.isStopped() || ctx.Err() != nil {
			break
		}
		if item.UID > 0 {
			seen = append(seen, item.UID)
		}
		event, ok := t.eventFromMessage(item)
		if !ok {
			continue
		}
		handler(ctx, event)
	}
	if len(seen) > 0 {
		if err := t.markSeen(ctx, seen); err != nil {
			return fmt.Errorf("mark seen: %w", err)
		}
	}
	return nil
}

func (t *Transport) eventFromMessage(item Message) (connectors.Event, bool) {
	body := strings.TrimSpace(item.Body)
	subject := strings.TrimSpace(item.Subject)
	content := body
	if subject != "" && body != "" {
		content = subject + "\n\n" + body
	} else if subject != "" {
		content = subject
	}
	sender := strings.ToLower(strings.TrimSpace(item.FromAddr))
	if content == "" || sender == "" {
		return connectors.Event{}, false
	}
	receivedAt := item.Date.UTC()
	if item.Date.IsZero() {
		receivedAt = time.Now().UTC()
	}
	t.mu.Lock()
	if name := strings.TrimSpace(item.FromName); name != "" {
		t.names[sender] = name
	}
	mailbox := t.mailbox
	t.mu.Unlock()
	return connectors.Event{
		SenderID:   sender,
		SenderName: strings.TrimSpace(item.FromName),
		Content:    content,
		ThreadID:   mailbox,
		ThreadType: connectors.ThreadUser,
		ReceivedAt: receivedAt,
	}, true
}

func (t *Transport) StopListening() {
	t.stopOnce.Do(func() { close(t.stopped) })
}

func (t *Transport) Send(ctx context.Context, recipient string, threadType connectors.ThreadType, content string) error {
	return apperr.Wrap(apperr.KindTransport, "imap.send", apperr.ErrSendUnsupported)
}

// LookupUserName answers from the display names seen in earlier mail.
func (t *Transport) LookupUserName(ctx context.Context, userID string) (string, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.names[strings.ToLower(strings.TrimSpace(userID))], nil
}

func (t *Transport) isStopped() bool {
	select {
	case <-t.stopped:
		return true
	default:
		return false
	}
}

func (t *Transport) checkLogin(ctx context.Context) error {
	clientInstance, err := t.openClient(ctx)
	if err != nil {
		return err
	}
	defer clientInstance.Logout()
	if _, err := clientInstance.Select(t.mailbox, true); err != nil {
		return connectors.InvalidIdentity("imap.connect", fmt.Errorf("select mailbox %s: %w", t.mailbox, err))
	}
	return nil
}

func (t *Transport) openClient(ctx context.Context) (*client.Client, error) {
	t.mu.Lock()
	host, port, username, password := t.host, t.port, t.username, t.password
	t.mu.Unlock()
	tlsConfig := &tls.Config{
		ServerName:         host,
		InsecureSkipVerify: t.tlsSkipVerify,
		MinVersion:         tls.VersionTLS12,
	}
	clientInstance, err := client.DialTLS(host+":"+strconv.Itoa(port), tlsConfig)
	if err != nil {
		return nil, connectors.TransportError("imap.dial", err)
	}
	if ctx.Err() != nil {
		clientInstance.Logout()
		return nil, ctx.Err()
	}
	if err := clientInstance.Login(username, password); err != nil {
		clientInstance.Logout()
		return nil, connectors.InvalidIdentity("imap.login", err)
	}
	return clientInstance, nil
}

func (t *Transport) fetchUnreadFromIMAP(ctx context.Context) ([]Message, error) {
	clientInstance, err := t.openClient(ctx)
	if err != nil {
		return nil, err
	}
	defer clientInstance.Logout()

	if _, err := clientInstance.Select(t.mailbox, false); err != nil {
		return nil, fmt.Errorf("imap select mailbox: %w", err)
	}
	criteria := imap.NewSearchCriteria()
	criteria.WithoutFlags = []string{imap.SeenFlag}
	uids, err := clientInstance.UidSearch(criteria)
	if err != nil {
		return nil, fmt.Errorf("imap search unread: %w", err)
	}
	if len(uids) == 0 {
		return nil, nil
	}

	set := new(imap.SeqSet)
	set.AddNum(uids...)
	section := &imap.BodySectionName{Peek: true}
	items := []imap.FetchItem{imap.FetchUid, imap.FetchEnvelope, section.FetchItem()}
	fetched := make(chan *imap.Message, len(uids))
	done := make(chan error, 1)
	go func() {
		done <- clientInstance.UidFetch(set, items, fetched)
	}()

	results := make([]Message, 0, len(uids))
	for message := range fetched {
		item := Message{UID: message.Uid}
		if reader := message.GetBody(section); reader != nil {
			if raw, err := readAllLimited(reader, maxBodyBytes); err == nil {
				item.Body = decodeMessageBody(raw)
			}
		}
		if message.Envelope != nil {
			item.Subject = strings.TrimSpace(message.Envelope.Subject)
			item.Date = message.Envelope.Date
			item.MessageID = strings.TrimSpace(message.Envelope.MessageId)
			if len(message.Envelope.From) > 0 && message.Envelope.From[0] != nil {
				from := message.Envelope.From[0]
				item.FromAddr = strings.TrimSpace(from.MailboxName + "@" + from.HostName)
				item.FromName = strings.TrimSpace(from.PersonalName)
			}
		}
		results = append(results, item)
	}
	if err := <-done; err != nil {
		return nil, fmt.Errorf("imap fetch unread: %w", err)
	}
	return results, nil
}

func (t *Transport) markSeenInIMAP(ctx context.Context, uids []uint32) error {
	clientInstance, err := t.openClient(ctx)
	if err != nil {
		return err
	}
	defer clientInstance.Logout()

	if _, err := clientInstance.Select(t.mailbox, false); err != nil {
		return fmt.Errorf("imap select mailbox: %w", err)
	}
	set := new(imap.SeqSet)
	set.AddNum(uids...)
	item := imap.FormatFlagsOp(imap.AddFlags, true)
	if err := clientInstance.UidStore(set, item, []interface{}{imap.SeenFlag}, nil); err != nil {
		return fmt.Errorf("imap mark seen: %w", err)
	}
	return nil
}

func decodeMessageBody(raw []byte) string {
	parsed, err := mail.ReadMessage(bytes.NewReader(raw))
	if err != nil {
		return strings.TrimSpace(string(raw))
	}
	mediaType, params, _ := mime.ParseMediaType(parsed.Header.Get("Content-Type"))
	body, err := readAllLimited(parsed.Body, maxBodyBytes)
	if err != nil {
		return ""
	}
	if strings.HasPrefix(strings.ToLower(mediaType), "multipart/") {
		return parseMultipartBody(body, params["boundary"])
	}
	if decoded, err := decodeTransferEncoding(bytes.NewReader(body), parsed.Header.Get("Content-Transfer-Encoding")); err == nil {
		body = decoded
	}
	if strings.EqualFold(mediaType, "text/html") {
		return stripHTML(string(body))
	}
	return strings.TrimSpace(string(body))
}

// parseMultipartBody prefers text/plain parts and falls back to stripped HTML.
func parseMultipartBody(raw []byte, boundary string) string {
	if strings.TrimSpace(boundary) == "" {
		return strings.TrimSpace(string(raw))
	}
	reader := multipart.NewReader(bytes.NewReader(raw), boundary)
	var plainParts, htmlParts []string
	for {
		part, err := reader.NextPart()
		if err != nil {
			break
		}
		data, err := readAllLimited(part, maxBodyBytes)
		if err != nil {
			continue
		}
		if decoded, err := decodeTransferEncoding(bytes.NewReader(data), part.Header.Get("Content-Transfer-Encoding")); err == nil {
			data = decoded
		}
		disposition, _, _ := mime.ParseMediaType(part.Header.Get("Content-Disposition"))
		if strings.EqualFold(disposition, "attachment") {
			continue
		}
		mediaType, _, _ := mime.ParseMediaType(part.Header.Get("Content-Type"))
		text := strings.TrimSpace(string(data))
		if text == "" {
			continue
		}
		switch strings.ToLower(mediaType) {
		case "text/plain":
			plainParts = append(plainParts, text)
		case "text/html":
			htmlParts = append(htmlParts, text)
		}
	}
	if len(plainParts) > 0 {
		return strings.Join(plainParts, "\n\n")
	}
	if len(htmlParts) > 0 {
		return stripHTML(strings.Join(htmlParts, "\n\n"))
	}
	return ""
}

func decodeTransferEncoding(reader io.Reader, encoding string) ([]byte, error) {
	switch strings.ToLower(strings.TrimSpace(encoding)) {
	case "base64":
		return readAllLimited(base64.NewDecoder(base64.StdEncoding, reader), maxBodyBytes)
	case "quoted-printable":
		return readAllLimited(quotedprintable.NewReader(reader), maxBodyBytes)
	default:
		return readAllLimited(reader, maxBodyBytes)
	}
}

func readAllLimited(reader io.Reader, maxBytes int64) ([]byte, error) {
	limited := &io.LimitedReader{R: reader, N: maxBytes + 1}
	data, err := io.ReadAll(limited)
	if err != nil {
		return nil, err
	}
	if int64(len(data)) > maxBytes {
		return nil, fmt.Errorf("content exceeds max size")
	}
	return data, nil
}

var htmlTagPattern = regexp.MustCompile(`(?s)<[^>]*>`)

func stripHTML(input string) string {
	text := htmlTagPattern.ReplaceAllString(input, " ")
	text = html.UnescapeString(text)
	return strings.Join(strings.Fields(text), " ")
}
