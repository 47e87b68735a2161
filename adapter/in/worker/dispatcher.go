package worker

import (
	"context"
	"errors"
	"fmt"

	"agent_server/adapter/out/messaging"
	"agent_server/core/port/in"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
)

// Dispatcher decodes stream entries and hands them to the pool.
type Dispatcher struct {
	pool *Pool
}

func NewDispatcher(pool *Pool) *Dispatcher {
	return &Dispatcher{pool: pool}
}

var _ messaging.Handler = (*Dispatcher)(nil)

func (d *Dispatcher) Handle(_ context.Context, delivery *messaging.Delivery) error {
	msg, err := DecodeInbound(delivery.Data)
	if err != nil {
		return err
	}
	// A stopped pool leaves the entry pending for the reclaim loop.
	d.pool.Submit(&Job{Delivery: delivery, Message: msg})
	return nil
}

// DecodeInbound parses a queued inbound event. Entries without an agent id are unprocessable.
func DecodeInbound(data []byte) (*in.InboundMessage, error) {
	var msg in.InboundMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, fmt.Errorf("decode inbound message: %w", err)
	}
	if msg.AgentID == uuid.Nil {
		return nil, fmt.Errorf("decode inbound message: %w", errMissingAgent)
	}
	return &msg, nil
}

var errMissingAgent = errors.New("agent_id is required")
