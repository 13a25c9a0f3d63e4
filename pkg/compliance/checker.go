// Package compliance screens approved settlements against external
// compliance providers (sanctions lists, merchant risk services). The
// engine calls it after policy approval and before execution; a
// settlement that cannot be screened is not executed.
package compliance

import (
	"context"

	"github.com/veridianlabs/payguard/pkg/contracts"
)

// Checker screens one approved settlement. A nil error with
// Approved=false is a substantive denial; an error means the provider
// could not give an answer at all.
type Checker interface {
	Check(ctx context.Context, chain *contracts.VerifiedChain, decision *contracts.PolicyDecision) (*contracts.ComplianceResult, error)
}

// Static always answers the same way. Used in tests and in deployments
// that run without an external provider.
type Static struct {
	Approved bool
	Rule     string
}

func (s *Static) Check(_ context.Context, _ *contracts.VerifiedChain, _ *contracts.PolicyDecision) (*contracts.ComplianceResult, error) {
	return &contracts.ComplianceResult{
		Approved: s.Approved,
		Provider: "static",
		Rule:     s.Rule,
	}, nil
}

// CheckerFunc adapts a function to the Checker interface.
type CheckerFunc func(ctx context.Context, chain *contracts.VerifiedChain, decision *contracts.PolicyDecision) (*contracts.ComplianceResult, error)

func (f CheckerFunc) Check(ctx context.Context, chain *contracts.VerifiedChain, decision *contracts.PolicyDecision) (*contracts.ComplianceResult, error) {
	return f(ctx, chain, decision)
}
