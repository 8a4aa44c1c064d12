package session

import (
	"context"
	"sync"

	"github.com/rs/zerolog"

	"github.com/harun/kawan/pkg/adapter"
	"github.com/harun/kawan/pkg/auth"
	"github.com/harun/kawan/pkg/provider"
	"github.com/harun/kawan/pkg/wire"
)

// Session is one connected client bound to one upstream. A session runs at
// most one chat turn at a time; a new chat.send cancels the in-flight turn
// and replaces it.
type Session struct {
	ID       string
	Mode     Mode
	DeviceID string
	User     *auth.User
	Hosted   bool

	conn     ClientConn
	upstream upstream
	manager  *Manager
	logger   zerolog.Logger

	mu     sync.Mutex
	cancel context.CancelFunc
	closed bool
}

// identity is the rate-limit and memory key for this session.
func (s *Session) identity() string {
	if s.User != nil {
		return s.User.UserID
	}
	if s.DeviceID != "" {
		return s.DeviceID
	}
	return s.ID
}

// skillNames lists the skill names for the connected ack. Adapter sessions
// execute tools remotely, so locally there is only the agent itself.
func (s *Session) skillNames() []string {
	if s.upstream.isAdapter() {
		return []string{"agent"}
	}
	manifests := s.manager.registry.ListForUser(s.User)
	names := make([]string, 0, len(manifests))
	for _, m := range manifests {
		if s.manager.registry.Enabled(m.Name) {
			names = append(names, m.Name)
		}
	}
	return names
}

// Chat starts a chat turn. The turn runs on its own goroutine so the caller's
// read loop keeps servicing stop and ping frames; any in-flight turn is
// cancelled first and the new turn takes its place.
func (s *Session) Chat(payload wire.ChatSendPayload) {
	decision := s.manager.limiter.Check(s.identity(), string(s.Mode), s.User != nil)
	if !decision.Allowed {
		s.sendError(wire.ErrRateLimited, "rate limit exceeded", payload.ConversationID)
		return
	}

	if s.Hosted && s.User != nil {
		quota := s.manager.quota.Check(s.User.UserID)
		if !quota.Allowed {
			s.sendError(wire.ErrHostedQuotaExceeded, "hosted quota exceeded", payload.ConversationID)
			return
		}
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	if s.cancel != nil {
		s.cancel()
	}
	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.mu.Unlock()

	go func() {
		defer cancel()
		s.runTurn(ctx, payload)
	}()
}

// Stop cancels the in-flight chat turn, if any.
func (s *Session) Stop(payload wire.ChatStopPayload) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
		s.logger.Debug().Str("conversation_id", payload.ConversationID).Msg("Chat turn stopped")
	}
}

// Close tears the session down: the in-flight turn is cancelled, the adapter
// released, and the relay registration dropped. Idempotent.
func (s *Session) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
	s.mu.Unlock()

	if s.upstream.isAdapter() {
		s.upstream.adapter.Cleanup()
	}
	if s.Mode == ModeRelay && s.User != nil {
		s.manager.relays.Unregister(*s.User, s)
	}
	s.logger.Info().Msg("Session closed")
}

// SendCommand implements auth.RelayTarget: a device command addressed to this
// session's user is forwarded as a skill.start frame for the device to
// execute locally.
func (s *Session) SendCommand(functionName string, args map[string]interface{}) error {
	env, err := wire.NewEnvelope(wire.TypeSkillStart, wire.SkillStartPayload{
		SkillName:   functionName,
		Description: "relayed device command",
	})
	if err != nil {
		return err
	}
	return s.conn.Send(env)
}

// runTurn executes one chat turn end to end.
func (s *Session) runTurn(ctx context.Context, payload wire.ChatSendPayload) {
	messages := s.buildMessages(payload)

	var result turnResult
	var err error
	if s.upstream.isAdapter() {
		result, err = s.adapterTurn(ctx, payload, messages)
	} else {
		result, err = s.providerTurn(ctx, payload, messages)
	}

	if err != nil {
		if ctx.Err() != nil {
			return
		}
		code := wire.ErrProvider
		if s.upstream.isAdapter() {
			code = wire.ErrUpstreamDisconnect
		}
		s.logger.Error().Err(err).Str("conversation_id", payload.ConversationID).Msg("Chat turn failed")
		s.sendError(code, err.Error(), payload.ConversationID)
		return
	}

	done := wire.MustEnvelope(wire.TypeChatDone, wire.ChatDonePayload{
		ConversationID: payload.ConversationID,
		FullContent:    result.content,
		SkillsInvoked:  result.invoked,
	})
	if sendErr := s.conn.Send(done); sendErr != nil {
		s.logger.Warn().Err(sendErr).Msg("Failed to send chat.done")
		return
	}

	if result.content != "" {
		turn := []wire.Message{
			{Role: "user", Content: payload.Content},
			{Role: "assistant", Content: result.content},
		}
		go s.manager.memory.ExtractAndUpdate(context.Background(), s.identity(), turn)
	}
}

type turnResult struct {
	content string
	invoked []wire.SkillInvocation
}

// buildMessages assembles the provider history: remembered facts first, then
// the client-supplied history, then the new user turn.
func (s *Session) buildMessages(payload wire.ChatSendPayload) []provider.Message {
	var messages []provider.Message

	if mem := s.manager.memory.Get(s.identity()); mem != "" {
		messages = append(messages, provider.Message{
			Role:    "system",
			Content: "Things to remember about this user:\n" + mem,
		})
	}

	for _, m := range payload.History {
		messages = append(messages, provider.Message{Role: m.Role, Content: m.Content})
	}

	return append(messages, provider.Message{Role: "user", Content: payload.Content})
}

// providerTurn routes a turn through the function-calling loop when the
// provider supports tools and any are enabled, and plain streaming otherwise.
func (s *Session) providerTurn(ctx context.Context, payload wire.ChatSendPayload, messages []provider.Message) (turnResult, error) {
	caller, hasTools := s.upstream.provider.(provider.ToolCaller)
	if hasTools && len(s.manager.registry.ToFunctionCallingTools(s.User)) > 0 {
		sink := &wireSink{session: s, conversationID: payload.ConversationID, ctx: ctx}
		result, err := s.manager.loop.Run(ctx, caller, messages, s.User, sink)
		if err != nil {
			return turnResult{}, err
		}
		invoked := make([]wire.SkillInvocation, 0, len(result.Invoked))
		for _, inv := range result.Invoked {
			invoked = append(invoked, wire.SkillInvocation{Name: inv.Function, Skill: inv.Skill})
		}
		return turnResult{content: result.Content, invoked: invoked}, nil
	}

	stream, err := s.upstream.provider.Chat(ctx, messages)
	if err != nil {
		return turnResult{}, err
	}
	content, err := s.forwardStream(ctx, stream, payload.ConversationID)
	return turnResult{content: content}, err
}

// adapterTurn routes a turn through the adapter, translating tool lifecycle
// hooks into skill frames and push events into the push queue.
func (s *Session) adapterTurn(ctx context.Context, payload wire.ChatSendPayload, messages []provider.Message) (turnResult, error) {
	hooks := adapter.Hooks{
		OnToolEvent: func(ev adapter.ToolEvent) {
			s.forwardToolEvent(ev, payload.ConversationID)
		},
		OnPush: func(content string) {
			s.manager.push.Deliver(content, "agent")
		},
	}

	stream, err := s.upstream.adapter.Chat(ctx, messages, hooks)
	if err != nil {
		return turnResult{}, err
	}
	content, err := s.forwardStream(ctx, stream, payload.ConversationID)
	return turnResult{content: content}, err
}

// forwardStream relays deltas to the client as chat.chunk frames, checking
// cancellation before every send so a stopped turn emits nothing further.
func (s *Session) forwardStream(ctx context.Context, stream *provider.Stream, conversationID string) (string, error) {
	var content []byte
	for delta := range stream.Deltas() {
		if ctx.Err() != nil {
			return string(content), nil
		}
		content = append(content, delta...)
		chunk := wire.MustEnvelope(wire.TypeChatChunk, wire.ChatChunkPayload{
			ConversationID: conversationID,
			Delta:          delta,
		})
		if err := s.conn.Send(chunk); err != nil {
			return string(content), err
		}
	}
	if err := stream.Err(); err != nil && ctx.Err() == nil {
		return string(content), err
	}
	return string(content), nil
}

func (s *Session) forwardToolEvent(ev adapter.ToolEvent, conversationID string) {
	switch ev.Phase {
	case adapter.ToolPhaseStart:
		s.send(wire.TypeSkillStart, wire.SkillStartPayload{
			ConversationID: conversationID,
			SkillName:      ev.Name,
		})
	case adapter.ToolPhaseResult:
		s.send(wire.TypeSkillResult, wire.SkillResultPayload{
			ConversationID: conversationID,
			SkillName:      ev.Name,
			Success:        true,
			Data:           ev.Result,
		})
	case adapter.ToolPhaseError:
		s.send(wire.TypeSkillResult, wire.SkillResultPayload{
			ConversationID: conversationID,
			SkillName:      ev.Name,
			Success:        false,
			Error:          ev.Err,
		})
	}
}

// wireSink adapts the session connection to the orchestrator's event sink.
type wireSink struct {
	session        *Session
	conversationID string
	ctx            context.Context
}

func (w *wireSink) Chunk(delta string) error {
	if w.ctx.Err() != nil {
		return nil
	}
	return w.session.conn.Send(wire.MustEnvelope(wire.TypeChatChunk, wire.ChatChunkPayload{
		ConversationID: w.conversationID,
		Delta:          delta,
	}))
}

func (w *wireSink) SkillStart(skillName, description string) {
	w.session.send(wire.TypeSkillStart, wire.SkillStartPayload{
		ConversationID: w.conversationID,
		SkillName:      skillName,
		Description:    description,
	})
}

func (w *wireSink) SkillResult(skillName string, success bool, data interface{}, errMsg string) {
	w.session.send(wire.TypeSkillResult, wire.SkillResultPayload{
		ConversationID: w.conversationID,
		SkillName:      skillName,
		Success:        success,
		Data:           data,
		Error:          errMsg,
	})
}

func (s *Session) send(t wire.MessageType, payload interface{}) {
	env, err := wire.NewEnvelope(t, payload)
	if err != nil {
		s.logger.Error().Err(err).Str("type", string(t)).Msg("Failed to build envelope")
		return
	}
	if err := s.conn.Send(env); err != nil {
		s.logger.Debug().Err(err).Str("type", string(t)).Msg("Failed to send frame")
	}
}

func (s *Session) sendError(code wire.ErrorCode, message, conversationID string) {
	s.send(wire.TypeError, wire.ErrorPayload{
		Code:           code,
		Message:        message,
		ConversationID: conversationID,
	})
}
