package wire

// Message is a single conversation turn as carried on the wire.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ConnectPayload configures a new session.
type ConnectPayload struct {
	Mode          string `json:"mode"`
	Provider      string `json:"provider,omitempty"`
	APIKey        string `json:"apiKey,omitempty"`
	EndpointURL   string `json:"endpointUrl,omitempty"`
	EndpointToken string `json:"endpointToken,omitempty"`
	Hosted        bool   `json:"hostedFlag,omitempty"`
	DeviceID      string `json:"deviceId,omitempty"`
	AuthToken     string `json:"authToken,omitempty"`
	Model         string `json:"model,omitempty"`
}

// ChatSendPayload starts a chat turn.
type ChatSendPayload struct {
	ConversationID string    `json:"conversationId"`
	Content        string    `json:"content"`
	History        []Message `json:"history,omitempty"`
}

// ChatStopPayload aborts the in-flight chat turn.
type ChatStopPayload struct {
	ConversationID string `json:"conversationId"`
}

// SkillTogglePayload enables or disables a registered skill.
type SkillTogglePayload struct {
	SkillName string `json:"skillName"`
	Enabled   bool   `json:"enabled"`
}

// HostedQuota reports hosted-mode usage.
type HostedQuota struct {
	Used  int `json:"used"`
	Total int `json:"total"`
}

// ConnectedPayload acknowledges a successful connect.
type ConnectedPayload struct {
	SessionID   string       `json:"sessionId"`
	Mode        string       `json:"mode"`
	Skills      []string     `json:"skills"`
	HostedQuota *HostedQuota `json:"hostedQuota,omitempty"`
}

// ChatChunkPayload carries one streamed text delta.
type ChatChunkPayload struct {
	ConversationID string `json:"conversationId"`
	Delta          string `json:"delta"`
}

// SkillInvocation summarizes one executed skill call.
type SkillInvocation struct {
	Name  string `json:"name"`
	Skill string `json:"skill,omitempty"`
}

// ChatDonePayload terminates a chat turn.
type ChatDonePayload struct {
	ConversationID string            `json:"conversationId"`
	FullContent    string            `json:"fullContent"`
	SkillsInvoked  []SkillInvocation `json:"skillsInvoked,omitempty"`
}

// SkillStartPayload announces a skill execution.
type SkillStartPayload struct {
	ConversationID string `json:"conversationId"`
	SkillName      string `json:"skillName"`
	Description    string `json:"description,omitempty"`
}

// SkillResultPayload reports the outcome of a skill execution.
type SkillResultPayload struct {
	ConversationID string      `json:"conversationId"`
	SkillName      string      `json:"skillName"`
	Success        bool        `json:"success"`
	Data           interface{} `json:"data,omitempty"`
	Error          string      `json:"error,omitempty"`
}

// PushMessagePayload carries an unsolicited server-initiated event.
type PushMessagePayload struct {
	Content string `json:"content"`
	Source  string `json:"source,omitempty"`
}

// SkillInfo describes one skill in a skill.list.response.
type SkillInfo struct {
	Name        string `json:"name"`
	Version     string `json:"version,omitempty"`
	Description string `json:"description,omitempty"`
	Enabled     bool   `json:"enabled"`
	Functions   int    `json:"functions"`
}

// SkillListResponsePayload lists skills visible to the session.
type SkillListResponsePayload struct {
	Skills []SkillInfo `json:"skills"`
}

// ErrorPayload reports a typed error to the client.
type ErrorPayload struct {
	Code           ErrorCode `json:"code"`
	Message        string    `json:"message"`
	ConversationID string    `json:"conversationId,omitempty"`
}
