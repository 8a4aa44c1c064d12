package wire

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// MessageType identifies a wire message.
type MessageType string

// Client → server message types.
const (
	TypeConnect          MessageType = "connect"
	TypeChatSend         MessageType = "chat.send"
	TypeChatStop         MessageType = "chat.stop"
	TypeSkillListRequest MessageType = "skill.list.request"
	TypeSkillToggle      MessageType = "skill.toggle"
)

// Server → client message types.
const (
	TypeConnected         MessageType = "connected"
	TypeChatChunk         MessageType = "chat.chunk"
	TypeChatDone          MessageType = "chat.done"
	TypeSkillStart        MessageType = "skill.start"
	TypeSkillResult       MessageType = "skill.result"
	TypePushMessage       MessageType = "push.message"
	TypeSkillListResponse MessageType = "skill.list.response"
	TypeError             MessageType = "error"
)

// Bidirectional message types.
const (
	TypePing MessageType = "ping"
	TypePong MessageType = "pong"
)

var clientTypes = map[MessageType]bool{
	TypeConnect:          true,
	TypeChatSend:         true,
	TypeChatStop:         true,
	TypeSkillListRequest: true,
	TypeSkillToggle:      true,
	TypePing:             true,
	TypePong:             true,
}

// ErrorCode classifies wire-level errors.
type ErrorCode string

const (
	ErrInvalidMessage      ErrorCode = "invalid-message"
	ErrAuthFailed          ErrorCode = "auth-failed"
	ErrRateLimited         ErrorCode = "rate-limited"
	ErrProvider            ErrorCode = "provider-error"
	ErrSkill               ErrorCode = "skill-error"
	ErrUpstreamDisconnect  ErrorCode = "upstream-disconnected"
	ErrHostedQuotaExceeded ErrorCode = "hosted-quota-exceeded"
	ErrInternal            ErrorCode = "internal-error"
)

// Envelope is the bidirectional wire frame: one JSON object per message.
type Envelope struct {
	ID        string          `json:"id"`
	Type      MessageType     `json:"type"`
	Timestamp int64           `json:"timestamp"`
	Payload   json.RawMessage `json:"payload,omitempty"`
}

// NewEnvelope builds an envelope with a fresh id and current timestamp.
func NewEnvelope(t MessageType, payload interface{}) (Envelope, error) {
	env := Envelope{
		ID:        uuid.NewString(),
		Type:      t,
		Timestamp: time.Now().UnixMilli(),
	}

	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return Envelope{}, fmt.Errorf("failed to marshal payload: %w", err)
		}
		env.Payload = data
	}

	return env, nil
}

// MustEnvelope is NewEnvelope for payloads that cannot fail to marshal.
func MustEnvelope(t MessageType, payload interface{}) Envelope {
	env, err := NewEnvelope(t, payload)
	if err != nil {
		panic(err)
	}
	return env
}

// DecodeClient parses a raw client frame and validates its type.
func DecodeClient(data []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return Envelope{}, fmt.Errorf("malformed envelope: %w", err)
	}
	if env.Type == "" {
		return Envelope{}, fmt.Errorf("envelope missing type")
	}
	if !clientTypes[env.Type] {
		return Envelope{}, fmt.Errorf("unknown message type: %s", env.Type)
	}
	return env, nil
}

// DecodePayload unmarshals an envelope payload into dst.
func DecodePayload(env Envelope, dst interface{}) error {
	if len(env.Payload) == 0 {
		return fmt.Errorf("envelope %s has no payload", env.Type)
	}
	if err := json.Unmarshal(env.Payload, dst); err != nil {
		return fmt.Errorf("failed to parse %s payload: %w", env.Type, err)
	}
	return nil
}
