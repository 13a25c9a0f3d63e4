package compliance

import (
	"context"
	"log/slog"
	"time"

	"github.com/veridianlabs/payguard/pkg/contracts"
)

// FailClosed wraps a Checker so that provider errors and timeouts
// become denials instead of executions. Screening that cannot complete
// within the budget denies the settlement.
type FailClosed struct {
	inner   Checker
	timeout time.Duration
	logger  *slog.Logger
}

// NewFailClosed decorates a checker with a per-call timeout. A
// non-positive timeout defaults to 5s.
func NewFailClosed(inner Checker, timeout time.Duration) *FailClosed {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &FailClosed{
		inner:   inner,
		timeout: timeout,
		logger:  slog.Default().With("component", "compliance"),
	}
}

func (f *FailClosed) Check(ctx context.Context, chain *contracts.VerifiedChain, decision *contracts.PolicyDecision) (*contracts.ComplianceResult, error) {
	ctx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()

	type outcome struct {
		result *contracts.ComplianceResult
		err    error
	}
	ch := make(chan outcome, 1)
	go func() {
		result, err := f.inner.Check(ctx, chain, decision)
		ch <- outcome{result, err}
	}()

	select {
	case out := <-ch:
		if out.err != nil {
			f.logger.Warn("compliance provider failed, denying",
				"agent_id", chain.AgentID, "error", out.err)
			return &contracts.ComplianceResult{
				Approved: false,
				Provider: "fail_closed",
				Rule:     "provider_unavailable",
			}, &contracts.ComplianceError{Provider: "fail_closed", Cause: out.err}
		}
		return out.result, nil
	case <-ctx.Done():
		f.logger.Warn("compliance check timed out, denying",
			"agent_id", chain.AgentID, "timeout", f.timeout)
		return &contracts.ComplianceResult{
			Approved: false,
			Provider: "fail_closed",
			Rule:     "provider_timeout",
		}, &contracts.ComplianceError{Provider: "fail_closed", Cause: ctx.Err()}
	}
}
