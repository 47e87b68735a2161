package http

import (
	"strings"
	"time"

	"agent_server/core/port/in"
	"agent_server/core/port/out"
	"agent_server/pkg/apperr"
	"agent_server/pkg/logger"
	"agent_server/pkg/metrics"

	"github.com/goccy/go-json"
	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
)

type inboundRequest struct {
	AgentID      string         `json:"agent_id"`
	ContactPhone string         `json:"contact_phone"`
	MessageText  string         `json:"message_text"`
	RemoteJID    string         `json:"remote_jid"`
	InstanceData map[string]any `json:"instance_data"`
	MessageID    string         `json:"message_id"`
}

func (r *inboundRequest) toMessage() (*in.InboundMessage, error) {
	agentID, err := uuid.Parse(strings.TrimSpace(r.AgentID))
	if err != nil {
		return nil, apperr.InvalidInput("agent_id", "must be a UUID")
	}
	msg := &in.InboundMessage{
		AgentID:      agentID,
		ContactPhone: strings.TrimSpace(r.ContactPhone),
		MessageText:  r.MessageText,
		RemoteJID:    strings.TrimSpace(r.RemoteJID),
		InstanceData: r.InstanceData,
		MessageID:    strings.TrimSpace(r.MessageID),
	}
	switch {
	case msg.ContactPhone == "":
		return nil, apperr.MissingField("contact_phone")
	case strings.TrimSpace(msg.MessageText) == "":
		return nil, apperr.MissingField("message_text")
	case msg.RemoteJID == "":
		return nil, apperr.MissingField("remote_jid")
	}
	return msg, nil
}

// MessageHandler exposes the inbound message endpoint.
type MessageHandler struct {
	service   in.InboundService
	publisher out.InboundPublisher
	latencies *metrics.Registry
}

// NewMessageHandler creates the handler. publisher may be nil, which disables ?async=true.
func NewMessageHandler(service in.InboundService, publisher out.InboundPublisher, latencies *metrics.Registry) *MessageHandler {
	return &MessageHandler{
		service:   service,
		publisher: publisher,
		latencies: latencies,
	}
}

func (h *MessageHandler) Register(router fiber.Router) {
	router.Post("/messages/inbound", h.Inbound)
}

// Inbound runs the agent for one message and returns its result. With
// ?async=true the message is queued for the worker instead.
func (h *MessageHandler) Inbound(c *fiber.Ctx) error {
	var req inboundRequest
	if err := bindJSON(c, &req); err != nil {
		return err
	}
	msg, err := req.toMessage()
	if err != nil {
		return err
	}

	if c.QueryBool("async", false) {
		return h.enqueue(c, msg)
	}

	start := time.Now()
	res := h.service.HandleInbound(c.UserContext(), msg)
	h.observe(metrics.OpInboundSync, start, res.Success)

	status := fiber.StatusOK
	if !res.Success {
		status = fiber.StatusInternalServerError
	}
	return c.Status(status).JSON(res)
}

func (h *MessageHandler) enqueue(c *fiber.Ctx, msg *in.InboundMessage) error {
	if h.publisher == nil {
		return apperr.NotConfigured("async processing")
	}
	start := time.Now()

	payload, err := json.Marshal(msg)
	if err != nil {
		return apperr.InternalWithError(err)
	}
	id, err := h.publisher.PublishInbound(c.UserContext(), payload)
	h.observe(metrics.OpInboundAsync, start, err == nil)
	if err != nil {
		logger.WithError(err).WithField("agent_id", msg.AgentID.String()).Error("[MessageHandler.Inbound] enqueue failed")
		return apperr.ExternalError("queue", err)
	}

	return SuccessResponse(c, fiber.StatusAccepted, fiber.Map{
		"queued":    true,
		"stream_id": id,
	})
}

func (h *MessageHandler) observe(op string, start time.Time, ok bool) {
	if h.latencies != nil {
		h.latencies.Observe(op, time.Since(start), ok)
	}
}
