package http

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"agent_server/core/port/in"
	"agent_server/infra/middleware"
	"agent_server/pkg/metrics"

	"github.com/goccy/go-json"
	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeService struct {
	mu     sync.Mutex
	got    []*in.InboundMessage
	result *in.InboundResult
}

func (f *fakeService) HandleInbound(_ context.Context, msg *in.InboundMessage) *in.InboundResult {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.got = append(f.got, msg)
	return f.result
}

type fakePublisher struct {
	payloads [][]byte
	err      error
}

func (f *fakePublisher) PublishInbound(_ context.Context, payload []byte) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	f.payloads = append(f.payloads, payload)
	return "1700000000000-0", nil
}

func newTestApp(h *MessageHandler) *fiber.App {
	app := fiber.New(fiber.Config{
		ErrorHandler: middleware.ErrorHandler(),
		JSONEncoder:  json.Marshal,
		JSONDecoder:  json.Unmarshal,
	})
	app.Use(middleware.RequestID())
	h.Register(app.Group("/api/v1"))
	return app
}

func post(t *testing.T, app *fiber.App, target, body string) (*http.Response, map[string]any) {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, target, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	resp, err := app.Test(req)
	require.NoError(t, err)
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	out := map[string]any{}
	require.NoError(t, json.Unmarshal(raw, &out))
	return resp, out
}

var agentID = uuid.MustParse("7d0f5b2e-3a1c-4d8e-9f6a-1b2c3d4e5f60")

func validBody() string {
	return `{"agent_id":"` + agentID.String() + `","contact_phone":"5511999990000",` +
		`"message_text":"Quero marcar amanhã","remote_jid":"5511999990000@s.whatsapp.net",` +
		`"instance_data":{"instance":"clinic"},"message_id":"wamid-1"}`
}

func TestInbound_Sync(t *testing.T) {
	svc := &fakeService{result: &in.InboundResult{
		Success:        true,
		Response:       "Claro! Qual horário?",
		Tokens:         in.TokenUsage{Input: 120, Output: 30},
		ResponseTimeMS: 42,
		Delivered:      true,
	}}
	latencies := metrics.NewRegistry(10)
	app := newTestApp(NewMessageHandler(svc, nil, latencies))

	resp, body := post(t, app, "/api/v1/messages/inbound", validBody())
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, true, body["success"])
	assert.Equal(t, "Claro! Qual horário?", body["response"])
	assert.Equal(t, map[string]any{"input": 120.0, "output": 30.0}, body["tokens"])

	require.Len(t, svc.got, 1)
	msg := svc.got[0]
	assert.Equal(t, agentID, msg.AgentID)
	assert.Equal(t, "wamid-1", msg.MessageID)
	assert.Equal(t, "clinic", msg.InstanceData["instance"])

	assert.Equal(t, int64(1), latencies.Snapshot()[metrics.OpInboundSync].Count)
}

func TestInbound_SyncFailure(t *testing.T) {
	svc := &fakeService{result: &in.InboundResult{Success: false, Error: "agent not found"}}
	app := newTestApp(NewMessageHandler(svc, nil, nil))

	resp, body := post(t, app, "/api/v1/messages/inbound", validBody())
	assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)
	assert.Equal(t, false, body["success"])
	assert.Equal(t, "agent not found", body["error"])
}

func TestInbound_Validation(t *testing.T) {
	svc := &fakeService{}
	app := newTestApp(NewMessageHandler(svc, nil, nil))

	tests := []struct {
		name string
		body string
		code string
	}{
		{"bad json", `{"agent_id":`, "BAD_REQUEST"},
		{"bad agent id", `{"agent_id":"nope","contact_phone":"1","message_text":"oi","remote_jid":"1"}`, "INVALID_INPUT"},
		{"missing phone", `{"agent_id":"` + agentID.String() + `","message_text":"oi","remote_jid":"1"}`, "MISSING_FIELD"},
		{"blank text", `{"agent_id":"` + agentID.String() + `","contact_phone":"1","message_text":"  ","remote_jid":"1"}`, "MISSING_FIELD"},
		{"missing jid", `{"agent_id":"` + agentID.String() + `","contact_phone":"1","message_text":"oi"}`, "MISSING_FIELD"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, body := post(t, app, "/api/v1/messages/inbound", tt.body)
			assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
			errBody, _ := body["error"].(map[string]any)
			assert.Equal(t, tt.code, errBody["code"])
		})
	}
	assert.Empty(t, svc.got)
}

func TestInbound_Async(t *testing.T) {
	svc := &fakeService{}
	pub := &fakePublisher{}
	app := newTestApp(NewMessageHandler(svc, pub, nil))

	resp, body := post(t, app, "/api/v1/messages/inbound?async=true", validBody())
	assert.Equal(t, http.StatusAccepted, resp.StatusCode)
	data, _ := body["data"].(map[string]any)
	assert.Equal(t, "1700000000000-0", data["stream_id"])
	assert.Empty(t, svc.got)

	require.Len(t, pub.payloads, 1)
	var queued in.InboundMessage
	require.NoError(t, json.Unmarshal(pub.payloads[0], &queued))
	assert.Equal(t, agentID, queued.AgentID)
	assert.Equal(t, "Quero marcar amanhã", queued.MessageText)
}

func TestInbound_AsyncErrors(t *testing.T) {
	app := newTestApp(NewMessageHandler(&fakeService{}, nil, nil))
	resp, _ := post(t, app, "/api/v1/messages/inbound?async=true", validBody())
	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)

	app = newTestApp(NewMessageHandler(&fakeService{}, &fakePublisher{err: errors.New("redis down")}, nil))
	resp, body := post(t, app, "/api/v1/messages/inbound?async=true", validBody())
	assert.Equal(t, http.StatusBadGateway, resp.StatusCode)
	errBody, _ := body["error"].(map[string]any)
	assert.Equal(t, "EXTERNAL_ERROR", errBody["code"])
}
