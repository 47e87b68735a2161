package conversation

import (
	"context"
	"fmt"
	"strings"
	"time"

	"agent_server/core/agent"
	"agent_server/core/agent/llm"
	"agent_server/core/agent/tools"
	"agent_server/core/domain"
	"agent_server/core/port/in"
	"agent_server/core/port/out"
	"agent_server/core/service/booking"
	"agent_server/pkg/apperr"
	"agent_server/pkg/timezone"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// GenericApology is the only text an end user sees when a run fails.
const GenericApology = "Desculpe, ocorreu um erro ao processar sua mensagem. Tente novamente mais tarde."

var (
	ErrInvalidMessage = apperr.ValidationFailed("agent_id, contact_phone and message_text are required")
	ErrAgentNotFound  = apperr.NotFound("agent")
	ErrAgentInactive  = apperr.Rejected("AGENT_INACTIVE", "agent is inactive")
)

// Runner is the tool-calling loop.
type Runner interface {
	Run(ctx context.Context, req *agent.RunRequest) (*agent.RunResult, error)
}

type Config struct {
	HistoryLimit    int
	DefaultTimezone string
	DefaultModel    string
	MaxTokens       int
	Temperature     float64
	DedupeTTL       time.Duration
}

type Deps struct {
	Agents        out.AgentRepository
	Conversations out.ConversationRepository
	Model         agent.ChatModel
	Runner        Runner
	Registry      *tools.Registry
	Sender        out.MessageSender
	Dedupe        out.Deduplicator // optional
	Costs         *llm.CostTracker // optional
	Logger        zerolog.Logger
}

// Service implements in.InboundService.
type Service struct {
	agents        out.AgentRepository
	conversations out.ConversationRepository
	model         agent.ChatModel
	runner        Runner
	registry      *tools.Registry
	sender        out.MessageSender
	dedupe        out.Deduplicator
	costs         *llm.CostTracker
	cfg           Config
	log           zerolog.Logger
	now           func() time.Time
}

var _ in.InboundService = (*Service)(nil)

func NewService(deps Deps, cfg Config) *Service {
	if cfg.HistoryLimit < 0 {
		cfg.HistoryLimit = 0
	}
	if cfg.DefaultModel == "" {
		cfg.DefaultModel = llm.DefaultModel
	}
	if cfg.DefaultTimezone == "" {
		cfg.DefaultTimezone = "America/Sao_Paulo"
	}
	if cfg.DedupeTTL <= 0 {
		cfg.DedupeTTL = 10 * time.Minute
	}
	costs := deps.Costs
	if costs == nil {
		costs = llm.NewCostTracker()
	}
	return &Service{
		agents:        deps.Agents,
		conversations: deps.Conversations,
		model:         deps.Model,
		runner:        deps.Runner,
		registry:      deps.Registry,
		sender:        deps.Sender,
		dedupe:        deps.Dedupe,
		costs:         costs,
		cfg:           cfg,
		log:           deps.Logger.With().Str("component", "conversation").Logger(),
		now:           time.Now,
	}
}

// WithClock overrides the clock used for prompt context.
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// outcome is what one model run produced.
type outcome struct {
	text          string
	model         string
	usage         llm.Usage
	iterations    int
	toolsExecuted int
}

func (s *Service) HandleInbound(ctx context.Context, msg *in.InboundMessage) *in.InboundResult {
	started := time.Now()
	res := &in.InboundResult{}
	defer func() {
		res.ResponseTimeMS = time.Since(started).Milliseconds()
	}()

	if msg == nil || msg.AgentID == uuid.Nil || strings.TrimSpace(msg.ContactPhone) == "" || strings.TrimSpace(msg.MessageText) == "" {
		res.Error = ErrInvalidMessage.Error()
		return res
	}
	phone := domain.NormalizePhone(msg.ContactPhone)
	log := s.log.With().Str("agent_id", msg.AgentID.String()).Str("phone", phone).Logger()

	if s.isDuplicate(ctx, msg, log) {
		res.Success = true
		res.Duplicate = true
		return res
	}

	ag, err := s.loadAgent(ctx, msg.AgentID)
	if err != nil {
		log.Warn().Err(err).Msg("inbound rejected")
		res.Error = err.Error()
		return res
	}

	conv, err := s.conversations.GetOrCreate(ctx, ag, phone, msg.RemoteJID)
	if err != nil {
		log.Error().Err(err).Msg("failed to load conversation")
		res.Error = fmt.Sprintf("load conversation: %v", err)
		return res
	}
	log = log.With().Str("conversation_id", conv.ID.String()).Logger()

	userMsg := &domain.ConversationMessage{
		ID:             uuid.New(),
		ConversationID: conv.ID,
		Role:           domain.RoleUser,
		Content:        msg.MessageText,
		CreatedAt:      s.now().UTC(),
	}

	if conv.IsPaused() {
		if err := s.conversations.AppendMessages(ctx, userMsg); err != nil {
			log.Error().Err(err).Msg("failed to store message for paused conversation")
			res.Error = fmt.Sprintf("store message: %v", err)
			return res
		}
		log.Debug().Msg("conversation paused, skipping agent")
		res.Success = true
		res.Paused = true
		return res
	}

	target := &out.DeliveryTarget{RemoteJID: msg.RemoteJID, InstanceData: msg.InstanceData}

	result, err := s.run(ctx, ag, conv, phone, msg.MessageText)
	if err != nil {
		log.Error().Err(err).Msg("agent run failed")
		if perr := s.conversations.AppendMessages(ctx, userMsg); perr != nil {
			log.Warn().Err(perr).Msg("failed to store user message after run failure")
		}
		res.Delivered = s.deliver(ctx, target, GenericApology, log)
		res.Error = err.Error()
		return res
	}

	assistantMsg := &domain.ConversationMessage{
		ID:             uuid.New(),
		ConversationID: conv.ID,
		Role:           domain.RoleAssistant,
		Content:        result.text,
		InputTokens:    result.usage.PromptTokens,
		OutputTokens:   result.usage.CompletionTokens,
		CreatedAt:      userMsg.CreatedAt.Add(time.Millisecond),
	}
	if err := s.conversations.AppendMessages(ctx, userMsg, assistantMsg); err != nil {
		log.Error().Err(err).Msg("failed to store conversation turn")
		res.Error = fmt.Sprintf("store messages: %v", err)
		return res
	}

	res.Success = true
	res.Response = result.text
	res.Tokens = in.TokenUsage{Input: result.usage.PromptTokens, Output: result.usage.CompletionTokens}
	res.Cost = s.costs.Track(result.model, result.usage.PromptTokens, result.usage.CompletionTokens)
	res.Iterations = result.iterations
	res.ToolsExecuted = result.toolsExecuted
	res.Delivered = s.deliver(ctx, target, result.text, log)

	log.Info().
		Int("iterations", res.Iterations).
		Int("tools_executed", res.ToolsExecuted).
		Int("input_tokens", res.Tokens.Input).
		Int("output_tokens", res.Tokens.Output).
		Bool("delivered", res.Delivered).
		Msg("inbound handled")
	return res
}

func (s *Service) isDuplicate(ctx context.Context, msg *in.InboundMessage, log zerolog.Logger) bool {
	if s.dedupe == nil || msg.MessageID == "" {
		return false
	}
	first, err := s.dedupe.First(ctx, "inbound:"+msg.AgentID.String()+":"+msg.MessageID, s.cfg.DedupeTTL)
	if err != nil {
		// Processing twice beats dropping a message.
		log.Warn().Err(err).Msg("dedupe check failed")
		return false
	}
	return !first
}

func (s *Service) loadAgent(ctx context.Context, id uuid.UUID) (*domain.Agent, error) {
	ag, err := s.agents.GetAgent(ctx, id)
	if err != nil {
		return nil, apperr.DatabaseError("load agent", err)
	}
	if ag == nil {
		return nil, ErrAgentNotFound
	}
	if !ag.IsActive {
		return nil, ErrAgentInactive
	}
	return ag, nil
}

func (s *Service) run(ctx context.Context, ag *domain.Agent, conv *domain.Conversation, phone, text string) (*outcome, error) {
	history, err := s.conversations.ListRecentMessages(ctx, conv.ID, s.cfg.HistoryLimit)
	if err != nil {
		return nil, fmt.Errorf("load history: %w", err)
	}

	messages := make([]llm.Message, 0, len(history)+2)
	messages = append(messages, llm.Message{Role: llm.RoleSystem, Content: s.systemPrompt(ag)})
	for _, h := range history {
		if h.Role != domain.RoleUser && h.Role != domain.RoleAssistant {
			continue
		}
		messages = append(messages, llm.Message{Role: string(h.Role), Content: h.Content})
	}
	messages = append(messages, llm.Message{Role: llm.RoleUser, Content: text})

	model := ag.Model
	if model == "" {
		model = s.cfg.DefaultModel
	}
	temperature := s.cfg.Temperature
	if ag.Temperature != nil {
		temperature = *ag.Temperature
	}
	maxTokens := s.cfg.MaxTokens
	if ag.MaxTokens != nil {
		maxTokens = *ag.MaxTokens
	}

	toolset := s.registry.ForAgent(ag.ToolsConfig)
	if !toolset.HasEnabledTools() {
		resp, err := s.model.Chat(ctx, &llm.ChatRequest{
			Model:       model,
			Messages:    messages,
			Temperature: &temperature,
			MaxTokens:   maxTokens,
		})
		if err != nil {
			return nil, fmt.Errorf("llm chat: %w", err)
		}
		reply := strings.TrimSpace(resp.Content)
		if reply == "" {
			reply = agent.FallbackMessage
		}
		return &outcome{text: reply, model: model, usage: resp.Usage, iterations: 1}, nil
	}

	convID := conv.ID
	run, err := s.runner.Run(ctx, &agent.RunRequest{
		Messages: messages,
		Toolset:  toolset,
		ExecContext: &tools.ExecContext{
			ClientID:       ag.ClientID,
			AgentID:        ag.ID,
			ConversationID: &convID,
			ContactPhone:   phone,
			Config:         ag.ToolsConfig,
		},
		Model:       model,
		Temperature: &temperature,
		MaxTokens:   maxTokens,
	})
	if err != nil {
		return nil, err
	}
	return &outcome{
		text:          run.FinalResponse,
		model:         model,
		usage:         run.Usage,
		iterations:    run.Iterations,
		toolsExecuted: run.ToolsExecuted,
	}, nil
}

// systemPrompt appends the current local date and time so relative dates resolve correctly.
func (s *Service) systemPrompt(ag *domain.Agent) string {
	zone := ag.Timezone
	if zone == "" {
		zone = s.cfg.DefaultTimezone
	}
	loc, err := timezone.LoadLocation(zone)
	if err != nil {
		zone = "UTC"
		loc = time.UTC
	}
	now := s.now().In(loc)

	var b strings.Builder
	b.WriteString(strings.TrimSpace(ag.SystemPrompt))
	fmt.Fprintf(&b, "\n\nData e hora atual: %s, %s às %s (fuso horário %s).",
		booking.WeekdayName(now.Weekday()), now.Format("02/01/2006"), now.Format("15:04"), zone)
	fmt.Fprintf(&b, " Ao usar ferramentas, informe datas no formato AAAA-MM-DD (hoje é %s) e horários no formato HH:MM.",
		now.Format(timezone.DateLayout))
	return b.String()
}

func (s *Service) deliver(ctx context.Context, target *out.DeliveryTarget, text string, log zerolog.Logger) bool {
	if s.sender == nil || target.RemoteJID == "" {
		return false
	}
	if err := s.sender.Send(ctx, target, text); err != nil {
		log.Warn().Err(err).Msg("delivery failed")
		return false
	}
	return true
}
