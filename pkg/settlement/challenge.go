package settlement

import (
	"context"

	"github.com/veridianlabs/payguard/pkg/contracts"
)

// Resolution is the outcome of resolving a CHALLENGE verdict.
type Resolution struct {
	Approved bool   `json:"approved"`
	Note     string `json:"note,omitempty"`
}

// ChallengeResolver decides CHALLENGE verdicts synchronously, for
// example by asking a human approver or a step-up authentication
// service. Without a resolver a challenge is terminal: the settlement
// is ledgered as CHALLENGE and not executed.
type ChallengeResolver interface {
	Resolve(ctx context.Context, chain *contracts.VerifiedChain, decision *contracts.PolicyDecision) (*Resolution, error)
}

// ResolverFunc adapts a function to the ChallengeResolver interface.
type ResolverFunc func(ctx context.Context, chain *contracts.VerifiedChain, decision *contracts.PolicyDecision) (*Resolution, error)

func (f ResolverFunc) Resolve(ctx context.Context, chain *contracts.VerifiedChain, decision *contracts.PolicyDecision) (*Resolution, error) {
	return f(ctx, chain, decision)
}
