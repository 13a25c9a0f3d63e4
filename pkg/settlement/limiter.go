package settlement

import (
	"sync"

	"golang.org/x/time/rate"
)

// AgentLimiter applies per-agent token-bucket backpressure in front of
// the pipeline. A throttled request is rejected before any state is
// touched, so it produces no ledger entry.
type AgentLimiter struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	rps      rate.Limit
	burst    int
}

// NewAgentLimiter allows rps requests per second with the given burst
// per agent.
func NewAgentLimiter(rps float64, burst int) *AgentLimiter {
	return &AgentLimiter{
		limiters: make(map[string]*rate.Limiter),
		rps:      rate.Limit(rps),
		burst:    burst,
	}
}

// Allow reports whether the agent may submit a settlement now.
func (l *AgentLimiter) Allow(agentID string) bool {
	l.mu.Lock()
	limiter, ok := l.limiters[agentID]
	if !ok {
		limiter = rate.NewLimiter(l.rps, l.burst)
		l.limiters[agentID] = limiter
	}
	l.mu.Unlock()
	return limiter.Allow()
}
