package wire

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewEnvelope(t *testing.T) {
	env, err := NewEnvelope(TypeChatChunk, ChatChunkPayload{
		ConversationID: "conv-1",
		Delta:          "hello",
	})
	require.NoError(t, err)

	assert.NotEmpty(t, env.ID)
	assert.Equal(t, TypeChatChunk, env.Type)
	assert.Greater(t, env.Timestamp, int64(0))

	var payload ChatChunkPayload
	require.NoError(t, json.Unmarshal(env.Payload, &payload))
	assert.Equal(t, "hello", payload.Delta)
}

func TestNewEnvelope_NoPayload(t *testing.T) {
	env, err := NewEnvelope(TypePong, nil)
	require.NoError(t, err)
	assert.Empty(t, env.Payload)
}

func TestDecodeClient(t *testing.T) {
	env := MustEnvelope(TypeChatSend, ChatSendPayload{ConversationID: "c1", Content: "hi"})
	data, err := json.Marshal(env)
	require.NoError(t, err)

	decoded, err := DecodeClient(data)
	require.NoError(t, err)
	assert.Equal(t, TypeChatSend, decoded.Type)
	assert.Equal(t, env.ID, decoded.ID)
}

func TestDecodeClient_Malformed(t *testing.T) {
	_, err := DecodeClient([]byte("{not json"))
	assert.ErrorContains(t, err, "malformed envelope")
}

func TestDecodeClient_MissingType(t *testing.T) {
	_, err := DecodeClient([]byte(`{"id":"x","timestamp":1}`))
	assert.ErrorContains(t, err, "missing type")
}

func TestDecodeClient_ServerOnlyType(t *testing.T) {
	env := MustEnvelope(TypeChatChunk, ChatChunkPayload{Delta: "x"})
	data, err := json.Marshal(env)
	require.NoError(t, err)

	_, err = DecodeClient(data)
	assert.ErrorContains(t, err, "unknown message type")
}

func TestDecodePayload(t *testing.T) {
	env := MustEnvelope(TypeConnect, ConnectPayload{Mode: "byok", Provider: "openai", APIKey: "k"})

	var payload ConnectPayload
	require.NoError(t, DecodePayload(env, &payload))
	assert.Equal(t, "byok", payload.Mode)
	assert.Equal(t, "openai", payload.Provider)
}

func TestDecodePayload_Empty(t *testing.T) {
	env := MustEnvelope(TypePing, nil)

	var payload ConnectPayload
	err := DecodePayload(env, &payload)
	assert.ErrorContains(t, err, "no payload")
}

func TestEnvelope_CamelCaseFields(t *testing.T) {
	env := MustEnvelope(TypeChatDone, ChatDonePayload{
		ConversationID: "c1",
		FullContent:    "done",
		SkillsInvoked:  []SkillInvocation{{Name: "calculate", Skill: "calculator"}},
	})
	data, err := json.Marshal(env)
	require.NoError(t, err)

	text := string(data)
	assert.Contains(t, text, `"conversationId"`)
	assert.Contains(t, text, `"fullContent"`)
	assert.Contains(t, text, `"skillsInvoked"`)
	assert.Contains(t, text, `"timestamp"`)
}
