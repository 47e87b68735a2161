package persistence

import (
	"context"
	"time"

	"agent_server/core/domain"
	"agent_server/core/port/out"
	"agent_server/pkg/cache"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
)

// CachedAgentRepository keeps recently loaded agents in the in-process cache.
// Edits to an agent become visible after ttl.
type CachedAgentRepository struct {
	next  out.AgentRepository
	local *cache.LocalCache
	ttl   time.Duration
}

func NewCachedAgentRepository(next out.AgentRepository, local *cache.LocalCache, ttl time.Duration) *CachedAgentRepository {
	if ttl <= 0 {
		ttl = time.Minute
	}
	return &CachedAgentRepository{next: next, local: local, ttl: ttl}
}

var _ out.AgentRepository = (*CachedAgentRepository)(nil)

func agentCacheKey(id uuid.UUID) string {
	return "agent:" + id.String()
}

func (r *CachedAgentRepository) GetAgent(ctx context.Context, id uuid.UUID) (*domain.Agent, error) {
	key := agentCacheKey(id)
	if data, ok := r.local.Get(key); ok {
		var ag domain.Agent
		if err := json.Unmarshal(data, &ag); err == nil {
			return &ag, nil
		}
		r.local.Delete(key)
	}

	ag, err := r.next.GetAgent(ctx, id)
	if err != nil || ag == nil {
		return ag, err
	}

	if data, err := json.Marshal(ag); err == nil {
		r.local.Set(key, data, r.ttl)
	}
	return ag, nil
}

// Invalidate drops a cached agent.
func (r *CachedAgentRepository) Invalidate(id uuid.UUID) {
	r.local.Delete(agentCacheKey(id))
}
