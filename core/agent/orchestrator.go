package agent

import (
	"context"
	"fmt"
	"strings"

	"agent_server/core/agent/llm"
	"agent_server/core/agent/tools"

	"github.com/rs/zerolog"
)

const DefaultMaxIterations = 5

// FallbackMessage is returned when the model keeps requesting tools past the iteration cap.
const FallbackMessage = "Desculpe, não consegui concluir sua solicitação agora. Pode tentar novamente em instantes?"

// ChatModel is the LLM gateway as seen by the orchestrator.
type ChatModel interface {
	Chat(ctx context.Context, req *llm.ChatRequest) (*llm.ChatResponse, error)
}

// ToolRunner executes one turn of tool calls and returns results in call order.
type ToolRunner interface {
	ExecuteToolCalls(ctx context.Context, ts *tools.Toolset, ec *tools.ExecContext, calls []tools.ToolCall) []tools.ToolMessage
}

// Orchestrator drives the bounded model <-> tool loop.
type Orchestrator struct {
	model         ChatModel
	runner        ToolRunner
	maxIterations int
	log           zerolog.Logger
}

func NewOrchestrator(model ChatModel, runner ToolRunner, maxIterations int, log zerolog.Logger) *Orchestrator {
	if maxIterations <= 0 {
		maxIterations = DefaultMaxIterations
	}
	return &Orchestrator{
		model:         model,
		runner:        runner,
		maxIterations: maxIterations,
		log:           log.With().Str("component", "orchestrator").Logger(),
	}
}

type RunRequest struct {
	Messages    []llm.Message
	Toolset     *tools.Toolset
	ExecContext *tools.ExecContext
	Model       string
	Temperature *float64
	MaxTokens   int
}

type RunResult struct {
	FinalResponse     string
	Iterations        int
	ToolsExecuted     int
	Usage             llm.Usage
	HitIterationLimit bool
}

// Run calls the model at most maxIterations times. Each response without tool
// calls ends the loop. Model errors abort the run; tool errors never do.
func (o *Orchestrator) Run(ctx context.Context, req *RunRequest) (*RunResult, error) {
	history := append([]llm.Message(nil), req.Messages...)
	defs := req.Toolset.EnabledDefinitions()
	result := &RunResult{}

	for result.Iterations < o.maxIterations {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		result.Iterations++

		resp, err := o.model.Chat(ctx, &llm.ChatRequest{
			Model:       req.Model,
			Messages:    history,
			Tools:       defs,
			Temperature: req.Temperature,
			MaxTokens:   req.MaxTokens,
		})
		if err != nil {
			return nil, fmt.Errorf("orchestrator iteration %d: %w", result.Iterations, err)
		}
		result.Usage.Add(resp.Usage)

		o.log.Debug().
			Int("iteration", result.Iterations).
			Int("tool_calls", len(resp.ToolCalls)).
			Int("prompt_tokens", resp.Usage.PromptTokens).
			Int("completion_tokens", resp.Usage.CompletionTokens).
			Msg("model turn")

		if len(resp.ToolCalls) == 0 {
			content := strings.TrimSpace(resp.Content)
			if content == "" {
				content = FallbackMessage
			}
			result.FinalResponse = content
			return result, nil
		}

		history = append(history, llm.Message{
			Role:      llm.RoleAssistant,
			Content:   resp.Content,
			ToolCalls: resp.ToolCalls,
		})

		for _, msg := range o.runner.ExecuteToolCalls(ctx, req.Toolset, req.ExecContext, resp.ToolCalls) {
			history = append(history, llm.Message{
				Role:       llm.RoleTool,
				ToolCallID: msg.ToolCallID,
				Name:       msg.Name,
				Content:    msg.Content,
			})
		}
		result.ToolsExecuted += len(resp.ToolCalls)
	}

	o.log.Warn().
		Int("iterations", result.Iterations).
		Int("tools_executed", result.ToolsExecuted).
		Msg("iteration limit reached, returning fallback")

	result.HitIterationLimit = true
	result.FinalResponse = FallbackMessage
	return result, nil
}
