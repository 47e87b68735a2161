package persistence

import (
	"context"
	"testing"
	"time"

	"agent_server/core/domain"
	"agent_server/pkg/cache"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingAgents struct {
	calls int
	agent *domain.Agent
}

func (c *countingAgents) GetAgent(_ context.Context, id uuid.UUID) (*domain.Agent, error) {
	c.calls++
	if c.agent == nil || c.agent.ID != id {
		return nil, nil
	}
	cp := *c.agent
	return &cp, nil
}

func TestCachedAgentRepository(t *testing.T) {
	local, err := cache.NewLocalCache(1 << 20)
	require.NoError(t, err)
	defer local.Close()

	calID := uuid.New()
	ag := &domain.Agent{
		ID:       uuid.New(),
		ClientID: uuid.New(),
		Name:     "Clara",
		IsActive: true,
		ToolsConfig: domain.ToolsConfig{
			EnabledTools: []string{"booking"},
			Booking:      &domain.BookingToolConfig{CalendarID: &calID},
		},
	}
	src := &countingAgents{agent: ag}
	repo := NewCachedAgentRepository(src, local, time.Minute)

	got, err := repo.GetAgent(context.Background(), ag.ID)
	require.NoError(t, err)
	require.NotNil(t, got)
	local.Wait()

	got, err = repo.GetAgent(context.Background(), ag.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, src.calls, "second read is served from cache")
	assert.Equal(t, "Clara", got.Name)
	require.NotNil(t, got.ToolsConfig.BookingCalendarID())
	assert.Equal(t, calID, *got.ToolsConfig.BookingCalendarID())

	repo.Invalidate(ag.ID)
	_, err = repo.GetAgent(context.Background(), ag.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, src.calls)
}

func TestCachedAgentRepository_MissIsNotCached(t *testing.T) {
	local, err := cache.NewLocalCache(1 << 20)
	require.NoError(t, err)
	defer local.Close()

	src := &countingAgents{}
	repo := NewCachedAgentRepository(src, local, time.Minute)

	for i := 0; i < 2; i++ {
		got, err := repo.GetAgent(context.Background(), uuid.New())
		require.NoError(t, err)
		assert.Nil(t, got)
	}
	assert.Equal(t, 2, src.calls)
}
