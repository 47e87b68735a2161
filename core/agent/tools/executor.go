package tools

import (
	"context"
	"fmt"
	"strings"
	"time"

	"agent_server/core/domain"
	"agent_server/core/port/out"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

// Executor runs the tool calls of one model turn concurrently and audits each of them.
type Executor struct {
	audit out.ToolAuditRepository
	log   zerolog.Logger
}

// NewExecutor creates a new tool executor. audit may be nil.
func NewExecutor(audit out.ToolAuditRepository, log zerolog.Logger) *Executor {
	return &Executor{
		audit: audit,
		log:   log.With().Str("component", "tool_executor").Logger(),
	}
}

// ExecuteToolCalls runs every call in its own goroutine and returns one message per call,
// in call order. Failures of any kind are isolated into that call's message.
func (e *Executor) ExecuteToolCalls(ctx context.Context, ts *Toolset, ec *ExecContext, calls []ToolCall) []ToolMessage {
	if ec == nil {
		ec = &ExecContext{}
	}
	results := make([]ToolMessage, len(calls))

	var g errgroup.Group
	for i, call := range calls {
		g.Go(func() error {
			results[i] = e.executeOne(ctx, ts, ec, call)
			return nil
		})
	}
	_ = g.Wait()

	return results
}

func (e *Executor) executeOne(ctx context.Context, ts *Toolset, ec *ExecContext, call ToolCall) (msg ToolMessage) {
	started := time.Now()
	var res *ToolResult

	defer func() {
		if r := recover(); r != nil {
			e.log.Error().Str("tool", call.Name).Interface("panic", r).Msg("tool panicked")
			res = failure(CodeExecutionError, fmt.Sprintf("tool panicked: %v", r))
		}
		msg = e.finish(ctx, ec, call, res, time.Since(started))
	}()

	res = e.run(ctx, ts, ec, call)
	return msg
}

func (e *Executor) run(ctx context.Context, ts *Toolset, ec *ExecContext, call ToolCall) *ToolResult {
	tool, ok := ts.Lookup(call.Name)
	if !ok {
		return failure(CodeUnknownTool, fmt.Sprintf("unknown or disabled tool: %s", call.Name))
	}

	args := map[string]any{}
	if raw := strings.TrimSpace(call.Arguments); raw != "" {
		if err := json.Unmarshal([]byte(raw), &args); err != nil {
			return failure(CodeInvalidArguments, fmt.Sprintf("invalid JSON arguments: %v", err))
		}
		if args == nil {
			args = map[string]any{}
		}
	}

	// Validate required parameters
	for _, param := range tool.Parameters() {
		if !param.Required {
			continue
		}
		if v, ok := args[param.Name]; !ok || v == nil {
			return failure(CodeInvalidArguments, fmt.Sprintf("missing required parameter: %s", param.Name))
		}
	}

	result, err := tool.Execute(ctx, ec, args)
	if err != nil {
		e.log.Error().Err(err).Str("tool", call.Name).Msg("tool execution failed")
		return failure(CodeExecutionError, err.Error())
	}
	if result == nil {
		return failure(CodeExecutionError, "tool returned no result")
	}
	return result
}

func (e *Executor) finish(ctx context.Context, ec *ExecContext, call ToolCall, res *ToolResult, took time.Duration) ToolMessage {
	if res == nil {
		res = failure(CodeExecutionError, "tool returned no result")
	}
	content, err := json.Marshal(res)
	if err != nil {
		content = []byte(fmt.Sprintf(`{"success":false,"code":%q,"error":"failed to encode tool result"}`, CodeExecutionError))
	}

	e.log.Debug().
		Str("tool", call.Name).
		Str("tool_call_id", call.ID).
		Bool("success", res.Success).
		Str("code", res.Code).
		Dur("took", took).
		Msg("tool executed")

	if e.audit != nil {
		errMsg := res.Error
		if errMsg == "" && !res.Success {
			errMsg = res.Message
		}
		inv := &domain.ToolInvocation{
			ID:             uuid.New(),
			ClientID:       ec.ClientID,
			AgentID:        ec.AgentID,
			ConversationID: ec.ConversationID,
			ToolCallID:     call.ID,
			FunctionName:   call.Name,
			Arguments:      domain.Truncate(call.Arguments, domain.MaxAuditArgumentsLen),
			Result:         domain.Truncate(string(content), domain.MaxAuditResultLen),
			Success:        res.Success,
			ErrorMessage:   errMsg,
			DurationMS:     took.Milliseconds(),
			CreatedAt:      time.Now().UTC(),
		}
		// The audit row is written even if the request was cancelled meanwhile.
		if err := e.audit.SaveInvocation(context.WithoutCancel(ctx), inv); err != nil {
			e.log.Warn().Err(err).Str("tool", call.Name).Msg("failed to record tool invocation")
		}
	}

	return ToolMessage{
		ToolCallID: call.ID,
		Name:       call.Name,
		Content:    string(content),
		Success:    res.Success,
	}
}
