package gateway

import "encoding/json"

const (
	opHello          = "hello"
	opIdentify       = "identify"
	opReady          = "ready"
	opInvalidSession = "invalid_session"
	opHeartbeat      = "heartbeat"
	opHeartbeatAck   = "heartbeat_ack"
	opEvent          = "event"
	opSend           = "send"
	opLookupUser     = "lookup_user"
	opUser           = "user"

	eventMessage = "message"
)

type envelope struct {
	Op    string          `json:"op"`
	T     string          `json:"t,omitempty"`
	Nonce string          `json:"nonce,omitempty"`
	D     json.RawMessage `json:"d,omitempty"`
}

type helloPayload struct {
	HeartbeatIntervalMS int64 `json:"heartbeat_interval_ms"`
}

type identifyPayload struct {
	Token     string `json:"token"`
	DeviceID  string `json:"device_id,omitempty"`
	SessionID string `json:"session_id,omitempty"`
}

type readyPayload struct {
	User struct {
		ID   string `json:"id"`
		Name string `json:"name"`
	} `json:"user"`
}

type invalidSessionPayload struct {
	Reason string `json:"reason"`
}

type messagePayload struct {
	ID          string `json:"id"`
	SenderID    string `json:"sender_id"`
	SenderName  string `json:"sender_name"`
	Content     string `json:"content"`
	ThreadID    string `json:"thread_id"`
	ThreadType  string `json:"thread_type"`
	TimestampMS int64  `json:"timestamp_ms"`
}

type sendPayload struct {
	Recipient  string `json:"recipient"`
	ThreadType string `json:"thread_type"`
	Content    string `json:"content"`
}

type userPayload struct {
	UserID string `json:"user_id"`
	Name   string `json:"name,omitempty"`
}
