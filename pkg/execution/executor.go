// Package execution hands approved settlements to a payment rail. The
// rail is behind the Executor interface; the Idempotent wrapper
// guarantees that retrying a settlement never pays twice.
package execution

import (
	"context"
	"sync"

	"github.com/veridianlabs/payguard/pkg/contracts"
)

// Executor submits one approved settlement to the payment rail.
type Executor interface {
	Execute(ctx context.Context, chain *contracts.VerifiedChain) (*contracts.ExecutionResult, error)
}

// ExecutorFunc adapts a function to the Executor interface.
type ExecutorFunc func(ctx context.Context, chain *contracts.VerifiedChain) (*contracts.ExecutionResult, error)

func (f ExecutorFunc) Execute(ctx context.Context, chain *contracts.VerifiedChain) (*contracts.ExecutionResult, error) {
	return f(ctx, chain)
}

// Simulator is an in-process rail for tests and demos. It records every
// settlement it executes and can be told to fail.
type Simulator struct {
	mu       sync.Mutex
	executed []*contracts.VerifiedChain
	fail     bool
}

func NewSimulator() *Simulator {
	return &Simulator{}
}

// SetFail makes subsequent executions fail at the rail.
func (s *Simulator) SetFail(fail bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fail = fail
}

// Executed returns the settlements submitted so far.
func (s *Simulator) Executed() []*contracts.VerifiedChain {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*contracts.VerifiedChain, len(s.executed))
	copy(out, s.executed)
	return out
}

func (s *Simulator) Execute(_ context.Context, chain *contracts.VerifiedChain) (*contracts.ExecutionResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail {
		return &contracts.ExecutionResult{
			Status: contracts.ExecutionFailure,
		}, &contracts.ExecutionError{PaymentID: chain.Chain.Payment.ID, Cause: errRailUnavailable}
	}
	s.executed = append(s.executed, chain)
	return &contracts.ExecutionResult{
		Status:      contracts.ExecutionSuccess,
		Receipt:     []byte(`{"rail":"simulator"}`),
		ExternalRef: "sim-" + chain.Chain.Payment.ID,
	}, nil
}
