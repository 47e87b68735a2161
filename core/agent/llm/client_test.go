package llm

import (
	"context"
	"io"
	"math"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"agent_server/core/agent/tools"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewClientWithConfig(ClientConfig{
		APIKey:     "test",
		BaseURL:    srv.URL + "/v1",
		HTTPClient: srv.Client(),
		Logger:     zerolog.Nop(),
	})
}

func TestChat_ParsesToolCalls(t *testing.T) {
	var captured map[string]any
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/chat/completions") {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		body, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(body, &captured)

		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{
			"id": "chatcmpl-1",
			"object": "chat.completion",
			"model": "gpt-4o-mini",
			"choices": [{
				"index": 0,
				"finish_reason": "tool_calls",
				"message": {
					"role": "assistant",
					"content": "",
					"tool_calls": [
						{"id": "call_a", "type": "function", "function": {"name": "verificar_disponibilidade", "arguments": "{\"date\":\"2025-03-10\"}"}},
						{"id": "call_b", "type": "function", "function": {"name": "consultar_agendamentos", "arguments": "{\"phone_number\":\"5511\"}"}}
					]
				}
			}],
			"usage": {"prompt_tokens": 120, "completion_tokens": 30, "total_tokens": 150}
		}`)
	})

	resp, err := client.Chat(context.Background(), &ChatRequest{
		Messages: []Message{
			{Role: RoleSystem, Content: "sys"},
			{Role: RoleUser, Content: "tem horário segunda?"},
		},
		Tools: []tools.ToolDefinition{{
			Name:        "verificar_disponibilidade",
			Description: "d",
			Parameters:  tools.ToolParameters{Type: "object", Properties: map[string]tools.ParameterProperty{"date": {Type: "string"}}, Required: []string{"date"}},
		}},
	})
	if err != nil {
		t.Fatalf("chat: %v", err)
	}

	if len(resp.ToolCalls) != 2 {
		t.Fatalf("expected 2 tool calls, got %d", len(resp.ToolCalls))
	}
	if resp.ToolCalls[0].ID != "call_a" || resp.ToolCalls[0].Name != "verificar_disponibilidade" || resp.ToolCalls[0].Arguments != `{"date":"2025-03-10"}` {
		t.Errorf("unexpected first call: %+v", resp.ToolCalls[0])
	}
	if resp.Usage.PromptTokens != 120 || resp.Usage.CompletionTokens != 30 {
		t.Errorf("unexpected usage: %+v", resp.Usage)
	}
	if resp.FinishReason != "tool_calls" {
		t.Errorf("unexpected finish reason %s", resp.FinishReason)
	}

	if captured["model"] != DefaultModel {
		t.Errorf("default model not applied: %v", captured["model"])
	}
	toolsSent, _ := captured["tools"].([]any)
	if len(toolsSent) != 1 {
		t.Errorf("expected 1 tool declaration, got %v", captured["tools"])
	}
}

func TestChat_NoChoicesIsError(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"id":"x","object":"chat.completion","choices":[],"usage":{}}`)
	})

	if _, err := client.Chat(context.Background(), &ChatRequest{Messages: []Message{{Role: RoleUser, Content: "oi"}}}); err == nil {
		t.Fatal("expected error for empty choices")
	}
}

func TestChat_ClientErrorsDoNotTripBreaker(t *testing.T) {
	var calls int32
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		_, _ = io.WriteString(w, `{"error":{"message":"bad tool schema","type":"invalid_request_error"}}`)
	})

	for i := 0; i < 10; i++ {
		_, err := client.Chat(context.Background(), &ChatRequest{Messages: []Message{{Role: RoleUser, Content: "oi"}}})
		if err == nil {
			t.Fatal("expected error")
		}
	}
	if got := atomic.LoadInt32(&calls); got != 10 {
		t.Errorf("every request should reach upstream, got %d", got)
	}
}

func TestToOpenAIMessages_ToolRoundTrip(t *testing.T) {
	msgs := toOpenAIMessages([]Message{
		{Role: RoleAssistant, ToolCalls: []tools.ToolCall{{ID: "c1", Name: "f", Arguments: "{}"}}},
		{Role: RoleTool, ToolCallID: "c1", Name: "f", Content: `{"success":true}`},
	})

	if len(msgs[0].ToolCalls) != 1 || msgs[0].ToolCalls[0].Function.Name != "f" {
		t.Errorf("assistant tool calls not converted: %+v", msgs[0])
	}
	if msgs[1].ToolCallID != "c1" || msgs[1].Role != RoleTool {
		t.Errorf("tool message not converted: %+v", msgs[1])
	}
}

func TestCalculateCost(t *testing.T) {
	got := CalculateCost("gpt-4o-mini", 1_000_000, 1_000_000)
	if math.Abs(got-0.75) > 1e-9 {
		t.Errorf("expected 0.75, got %f", got)
	}
	if CalculateCost("unknown-model", 1000, 1000) != 0 {
		t.Error("unknown models cost 0")
	}
}

func TestCostTracker(t *testing.T) {
	tr := NewCostTracker()
	tr.Track("gpt-4o-mini", 1000, 500)
	tr.Track("gpt-4o-mini", 1000, 500)

	stats := tr.GetStats()
	if stats.RequestCount != 2 || stats.TotalTokens != 3000 {
		t.Errorf("unexpected stats: %+v", stats)
	}
	if stats.AvgCostPerRequest <= 0 {
		t.Error("expected positive average cost")
	}
}
