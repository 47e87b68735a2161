package conversation

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"agent_server/core/agent"
	"agent_server/core/agent/llm"
	"agent_server/core/agent/tools"
	"agent_server/core/domain"
	"agent_server/core/port/in"
	"agent_server/core/port/out"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeAgents struct {
	agents map[uuid.UUID]*domain.Agent
	err    error
}

func (f *fakeAgents) GetAgent(_ context.Context, id uuid.UUID) (*domain.Agent, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.agents[id], nil
}

type fakeConversations struct {
	mu       sync.Mutex
	conv     *domain.Conversation
	history  []*domain.ConversationMessage
	appended []*domain.ConversationMessage
	limit    int
}

func (f *fakeConversations) GetOrCreate(_ context.Context, ag *domain.Agent, phone, remoteJID string) (*domain.Conversation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.conv == nil {
		f.conv = &domain.Conversation{
			ID:           uuid.New(),
			AgentID:      ag.ID,
			ClientID:     ag.ClientID,
			ContactPhone: phone,
			RemoteJID:    remoteJID,
			Status:       domain.ConversationStatusActive,
		}
	}
	return f.conv, nil
}

func (f *fakeConversations) ListRecentMessages(_ context.Context, _ uuid.UUID, limit int) ([]*domain.ConversationMessage, error) {
	f.limit = limit
	if limit < len(f.history) {
		return f.history[len(f.history)-limit:], nil
	}
	return f.history, nil
}

func (f *fakeConversations) AppendMessages(_ context.Context, msgs ...*domain.ConversationMessage) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.appended = append(f.appended, msgs...)
	return nil
}

type fakeModel struct {
	resp *llm.ChatResponse
	err  error
	reqs []*llm.ChatRequest
}

func (f *fakeModel) Chat(_ context.Context, req *llm.ChatRequest) (*llm.ChatResponse, error) {
	f.reqs = append(f.reqs, req)
	if f.err != nil {
		return nil, f.err
	}
	return f.resp, nil
}

type fakeRunner struct {
	result *agent.RunResult
	err    error
	req    *agent.RunRequest
}

func (f *fakeRunner) Run(_ context.Context, req *agent.RunRequest) (*agent.RunResult, error) {
	f.req = req
	if f.err != nil {
		return nil, f.err
	}
	return f.result, nil
}

type fakeSender struct {
	sent   []string
	target *out.DeliveryTarget
	err    error
}

func (f *fakeSender) Send(_ context.Context, target *out.DeliveryTarget, text string) error {
	f.target = target
	if f.err != nil {
		return f.err
	}
	f.sent = append(f.sent, text)
	return nil
}

type fakeDedupe struct {
	seen map[string]bool
	err  error
}

func (f *fakeDedupe) First(_ context.Context, key string, _ time.Duration) (bool, error) {
	if f.err != nil {
		return false, f.err
	}
	if f.seen[key] {
		return false, nil
	}
	f.seen[key] = true
	return true, nil
}

type noopTool struct{}

func (noopTool) Name() string                      { return "verificar_disponibilidade" }
func (noopTool) Description() string               { return "" }
func (noopTool) Category() tools.ToolCategory      { return tools.CategoryBooking }
func (noopTool) Parameters() []tools.ParameterSpec { return nil }
func (noopTool) Execute(context.Context, *tools.ExecContext, map[string]any) (*tools.ToolResult, error) {
	return &tools.ToolResult{Success: true}, nil
}

type fixture struct {
	agent  *domain.Agent
	agents *fakeAgents
	convs  *fakeConversations
	model  *fakeModel
	runner *fakeRunner
	sender *fakeSender
	dedupe *fakeDedupe
	svc    *Service
}

// 2025-03-10 13:00 UTC is Monday 10:00 in Sao Paulo.
var fixedNow = time.Date(2025, 3, 10, 13, 0, 0, 0, time.UTC)

func newFixture(t *testing.T, enabled ...string) *fixture {
	t.Helper()
	ag := &domain.Agent{
		ID:           uuid.New(),
		ClientID:     uuid.New(),
		Name:         "Clara",
		SystemPrompt: "Você é a Clara, assistente da clínica.",
		Timezone:     "America/Sao_Paulo",
		IsActive:     true,
		ToolsConfig:  domain.ToolsConfig{EnabledTools: enabled},
	}
	registry := tools.NewRegistry()
	registry.Register(noopTool{})

	f := &fixture{
		agent:  ag,
		agents: &fakeAgents{agents: map[uuid.UUID]*domain.Agent{ag.ID: ag}},
		convs:  &fakeConversations{},
		model: &fakeModel{resp: &llm.ChatResponse{
			Content: "Olá! Como posso ajudar?",
			Usage:   llm.Usage{PromptTokens: 120, CompletionTokens: 15},
		}},
		runner: &fakeRunner{result: &agent.RunResult{
			FinalResponse: "Seu horário está confirmado.",
			Iterations:    2,
			ToolsExecuted: 1,
			Usage:         llm.Usage{PromptTokens: 400, CompletionTokens: 60},
		}},
		sender: &fakeSender{},
		dedupe: &fakeDedupe{seen: map[string]bool{}},
	}
	f.svc = NewService(Deps{
		Agents:        f.agents,
		Conversations: f.convs,
		Model:         f.model,
		Runner:        f.runner,
		Registry:      registry,
		Sender:        f.sender,
		Dedupe:        f.dedupe,
		Logger:        zerolog.Nop(),
	}, Config{HistoryLimit: 20, MaxTokens: 512, Temperature: 0.3}).WithClock(func() time.Time { return fixedNow })
	return f
}

func (f *fixture) message(text string) *in.InboundMessage {
	return &in.InboundMessage{
		AgentID:      f.agent.ID,
		ContactPhone: "+55 (11) 98888-7777",
		MessageText:  text,
		RemoteJID:    "5511988887777@s.whatsapp.net",
		InstanceData: map[string]any{"instance": "clinica"},
	}
}

func TestHandleInbound_SingleShotWithoutTools(t *testing.T) {
	f := newFixture(t)

	res := f.svc.HandleInbound(context.Background(), f.message("oi"))

	require.True(t, res.Success, res.Error)
	assert.Equal(t, "Olá! Como posso ajudar?", res.Response)
	assert.Equal(t, in.TokenUsage{Input: 120, Output: 15}, res.Tokens)
	assert.Equal(t, 1, res.Iterations)
	assert.Greater(t, res.Cost, 0.0)
	assert.True(t, res.Delivered)
	assert.Nil(t, f.runner.req, "runner must not be used when no tool is enabled")

	require.Len(t, f.model.reqs, 1)
	req := f.model.reqs[0]
	assert.Empty(t, req.Tools)
	assert.Equal(t, llm.DefaultModel, req.Model)
	assert.Equal(t, 512, req.MaxTokens)

	require.Len(t, f.convs.appended, 2)
	assert.Equal(t, domain.RoleUser, f.convs.appended[0].Role)
	assert.Equal(t, domain.RoleAssistant, f.convs.appended[1].Role)
	assert.Equal(t, 120, f.convs.appended[1].InputTokens)
	assert.Equal(t, "5511988887777", f.convs.conv.ContactPhone)

	assert.Equal(t, []string{"Olá! Como posso ajudar?"}, f.sender.sent)
	assert.Equal(t, "clinica", f.sender.target.InstanceData["instance"])
}

func TestHandleInbound_ToolsEnabledUsesRunner(t *testing.T) {
	f := newFixture(t, string(tools.CategoryBooking))

	res := f.svc.HandleInbound(context.Background(), f.message("quero marcar amanhã"))

	require.True(t, res.Success, res.Error)
	assert.Equal(t, "Seu horário está confirmado.", res.Response)
	assert.Equal(t, 2, res.Iterations)
	assert.Equal(t, 1, res.ToolsExecuted)
	assert.Equal(t, in.TokenUsage{Input: 400, Output: 60}, res.Tokens)
	assert.Empty(t, f.model.reqs)

	req := f.runner.req
	require.NotNil(t, req)
	assert.True(t, req.Toolset.HasEnabledTools())
	assert.Equal(t, f.agent.ClientID, req.ExecContext.ClientID)
	assert.Equal(t, "5511988887777", req.ExecContext.ContactPhone)
	require.NotNil(t, req.ExecContext.ConversationID)
	assert.Equal(t, f.convs.conv.ID, *req.ExecContext.ConversationID)
}

func TestHandleInbound_PromptCarriesLocalTimeAndHistory(t *testing.T) {
	f := newFixture(t)
	for i := 0; i < 30; i++ {
		role := domain.RoleUser
		if i%2 == 1 {
			role = domain.RoleAssistant
		}
		f.convs.history = append(f.convs.history, &domain.ConversationMessage{Role: role, Content: "m"})
	}

	f.svc.HandleInbound(context.Background(), f.message("que dia é hoje?"))

	require.Len(t, f.model.reqs, 1)
	msgs := f.model.reqs[0].Messages
	assert.Equal(t, 20, f.convs.limit)
	require.Len(t, msgs, 22, "system + 20 history + new user message")
	assert.Equal(t, llm.RoleSystem, msgs[0].Role)
	assert.True(t, strings.HasPrefix(msgs[0].Content, f.agent.SystemPrompt))
	assert.Contains(t, msgs[0].Content, "segunda-feira, 10/03/2025 às 10:00")
	assert.Contains(t, msgs[0].Content, "2025-03-10")
	assert.Equal(t, llm.RoleUser, msgs[21].Role)
	assert.Equal(t, "que dia é hoje?", msgs[21].Content)
}

func TestHandleInbound_AgentOverrides(t *testing.T) {
	f := newFixture(t)
	temp := 0.9
	maxTokens := 2048
	f.agent.Model = "gpt-4o"
	f.agent.Temperature = &temp
	f.agent.MaxTokens = &maxTokens

	f.svc.HandleInbound(context.Background(), f.message("oi"))

	require.Len(t, f.model.reqs, 1)
	req := f.model.reqs[0]
	assert.Equal(t, "gpt-4o", req.Model)
	assert.Equal(t, 2048, req.MaxTokens)
	require.NotNil(t, req.Temperature)
	assert.Equal(t, 0.9, *req.Temperature)
}

func TestHandleInbound_Validation(t *testing.T) {
	f := newFixture(t)
	cases := map[string]*in.InboundMessage{
		"nil":        nil,
		"no agent":   {ContactPhone: "55", MessageText: "oi"},
		"no phone":   {AgentID: f.agent.ID, MessageText: "oi"},
		"blank text": {AgentID: f.agent.ID, ContactPhone: "55", MessageText: "   "},
	}
	for name, msg := range cases {
		t.Run(name, func(t *testing.T) {
			res := f.svc.HandleInbound(context.Background(), msg)
			assert.False(t, res.Success)
			assert.NotEmpty(t, res.Error)
		})
	}
	assert.Empty(t, f.sender.sent)
}

func TestHandleInbound_UnknownAndInactiveAgent(t *testing.T) {
	f := newFixture(t)

	msg := f.message("oi")
	msg.AgentID = uuid.New()
	res := f.svc.HandleInbound(context.Background(), msg)
	assert.False(t, res.Success)
	assert.Contains(t, res.Error, "agent")

	f.agent.IsActive = false
	res = f.svc.HandleInbound(context.Background(), f.message("oi"))
	assert.False(t, res.Success)
	assert.Contains(t, res.Error, "AGENT_INACTIVE")

	assert.Empty(t, f.model.reqs)
	assert.Empty(t, f.sender.sent)
}

func TestHandleInbound_PausedConversation(t *testing.T) {
	f := newFixture(t, string(tools.CategoryBooking))
	f.convs.conv = &domain.Conversation{ID: uuid.New(), Status: domain.ConversationStatusPaused}

	res := f.svc.HandleInbound(context.Background(), f.message("oi, ainda aí?"))

	assert.True(t, res.Success)
	assert.True(t, res.Paused)
	assert.Nil(t, f.runner.req)
	assert.Empty(t, f.model.reqs)
	assert.Empty(t, f.sender.sent)
	require.Len(t, f.convs.appended, 1)
	assert.Equal(t, "oi, ainda aí?", f.convs.appended[0].Content)
}

func TestHandleInbound_RunFailureDeliversApology(t *testing.T) {
	f := newFixture(t, string(tools.CategoryBooking))
	f.runner.err = errors.New("upstream timeout")

	res := f.svc.HandleInbound(context.Background(), f.message("oi"))

	assert.False(t, res.Success)
	assert.Contains(t, res.Error, "upstream timeout")
	assert.True(t, res.Delivered)
	assert.Equal(t, []string{GenericApology}, f.sender.sent)
	require.Len(t, f.convs.appended, 1, "only the user message is stored")
	assert.Equal(t, domain.RoleUser, f.convs.appended[0].Role)
}

func TestHandleInbound_DeliveryFailureKeepsSuccess(t *testing.T) {
	f := newFixture(t)
	f.sender.err = errors.New("provider down")

	res := f.svc.HandleInbound(context.Background(), f.message("oi"))

	assert.True(t, res.Success)
	assert.False(t, res.Delivered)
	assert.Equal(t, "Olá! Como posso ajudar?", res.Response)
}

func TestHandleInbound_Duplicate(t *testing.T) {
	f := newFixture(t)
	msg := f.message("oi")
	msg.MessageID = "wamid.123"

	first := f.svc.HandleInbound(context.Background(), msg)
	second := f.svc.HandleInbound(context.Background(), msg)

	assert.True(t, first.Success)
	assert.False(t, first.Duplicate)
	assert.True(t, second.Success)
	assert.True(t, second.Duplicate)
	assert.Len(t, f.model.reqs, 1)
	assert.Len(t, f.sender.sent, 1)
}

func TestHandleInbound_DedupeErrorStillProcesses(t *testing.T) {
	f := newFixture(t)
	f.dedupe.err = errors.New("redis unavailable")
	msg := f.message("oi")
	msg.MessageID = "wamid.456"

	res := f.svc.HandleInbound(context.Background(), msg)

	assert.True(t, res.Success)
	assert.False(t, res.Duplicate)
	assert.Len(t, f.model.reqs, 1)
}
