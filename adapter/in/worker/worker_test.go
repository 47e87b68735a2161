package worker

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"agent_server/adapter/out/messaging"
	"agent_server/core/port/in"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingService struct {
	mu   sync.Mutex
	seen []*in.InboundMessage
	fail bool
}

func (s *recordingService) HandleInbound(_ context.Context, msg *in.InboundMessage) *in.InboundResult {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seen = append(s.seen, msg)
	if s.fail {
		return &in.InboundResult{Error: "boom"}
	}
	return &in.InboundResult{Success: true}
}

func (s *recordingService) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.seen)
}

func TestDecodeInbound(t *testing.T) {
	agentID := uuid.New()
	msg, err := DecodeInbound([]byte(`{"agent_id":"` + agentID.String() + `","contact_phone":"5511999990000","message_text":"oi","remote_jid":"x@s.whatsapp.net","instance_data":{"instance":"a"}}`))
	require.NoError(t, err)
	assert.Equal(t, agentID, msg.AgentID)
	assert.Equal(t, "oi", msg.MessageText)
	assert.Equal(t, "a", msg.InstanceData["instance"])

	_, err = DecodeInbound([]byte(`{"contact_phone":"1"}`))
	assert.Error(t, err)

	_, err = DecodeInbound([]byte(`not json`))
	assert.Error(t, err)
}

func TestPool_ProcessesAndAcks(t *testing.T) {
	svc := &recordingService{}
	p := NewPool(svc, &PoolConfig{Workers: 2, WorkerChanSize: 4, JobTimeout: time.Second}, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, p.Start(ctx))

	var mu sync.Mutex
	acked := map[string]bool{}
	d := NewDispatcher(p)

	for i := 0; i < 5; i++ {
		id := uuid.NewString()
		delivery := messaging.NewDelivery("agent:inbound", id,
			[]byte(`{"agent_id":"`+uuid.NewString()+`","contact_phone":"55","message_text":"oi"}`),
			func(context.Context) error {
				mu.Lock()
				acked[id] = true
				mu.Unlock()
				return nil
			})
		require.NoError(t, d.Handle(ctx, delivery))
	}

	p.Stop(5 * time.Second)

	assert.Equal(t, 5, svc.count())
	mu.Lock()
	assert.Len(t, acked, 5)
	mu.Unlock()
	assert.Equal(t, int64(5), p.GetMetrics().JobsProcessed)
}

func TestPool_FailedRunIsStillAcked(t *testing.T) {
	svc := &recordingService{fail: true}
	p := NewPool(svc, &PoolConfig{Workers: 1, WorkerChanSize: 1, JobTimeout: time.Second}, zerolog.Nop())
	require.NoError(t, p.Start(context.Background()))

	acked := make(chan struct{}, 1)
	delivery := messaging.NewDelivery("agent:inbound", "1-0",
		[]byte(`{"agent_id":"`+uuid.NewString()+`","contact_phone":"55","message_text":"oi"}`),
		func(context.Context) error { acked <- struct{}{}; return nil })
	require.NoError(t, NewDispatcher(p).Handle(context.Background(), delivery))

	select {
	case <-acked:
	case <-time.After(2 * time.Second):
		t.Fatal("failed job was not acknowledged")
	}
	p.Stop(time.Second)
	assert.Equal(t, int64(1), p.GetMetrics().JobsFailed)
}

func TestPool_SubmitRacingStop(t *testing.T) {
	svc := &recordingService{}
	p := NewPool(svc, &PoolConfig{Workers: 2, WorkerChanSize: 2, JobTimeout: time.Second}, zerolog.Nop())

	job := func() *Job {
		return &Job{
			Delivery: messaging.NewDelivery("agent:inbound", uuid.NewString(), nil, func(context.Context) error { return nil }),
			Message:  &in.InboundMessage{AgentID: uuid.New()},
		}
	}
	assert.False(t, p.Submit(job()), "submit before start")

	require.NoError(t, p.Start(context.Background()))

	var accepted atomic.Int64
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				if p.Submit(job()) {
					accepted.Add(1)
				}
			}
		}()
	}
	time.Sleep(time.Millisecond)
	p.Stop(5 * time.Second)
	wg.Wait()

	assert.False(t, p.Submit(job()), "submit after stop")
	assert.Equal(t, int(accepted.Load()), svc.count())
}

func TestDispatcher_RejectsMalformed(t *testing.T) {
	p := NewPool(&recordingService{}, nil, zerolog.Nop())
	err := NewDispatcher(p).Handle(context.Background(), messaging.NewDelivery("s", "1-0", []byte(`{}`), nil))
	assert.Error(t, err)
}
