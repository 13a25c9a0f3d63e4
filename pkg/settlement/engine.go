// Package settlement orchestrates the full lifecycle of a mandate
// chain: verification, policy evaluation, challenge resolution,
// compliance screening, execution and ledgering. Every processed chain
// produces exactly one terminal ledger entry, whatever path it takes
// through the pipeline.
package settlement

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/veridianlabs/payguard/pkg/compliance"
	"github.com/veridianlabs/payguard/pkg/contracts"
	"github.com/veridianlabs/payguard/pkg/execution"
	"github.com/veridianlabs/payguard/pkg/ledger"
	"github.com/veridianlabs/payguard/pkg/mandate"
	"github.com/veridianlabs/payguard/pkg/observability"
	"github.com/veridianlabs/payguard/pkg/policy"
)

// ErrThrottled is returned when an agent exceeds its submission rate.
// Throttled requests never enter the pipeline and are not ledgered.
var ErrThrottled = errors.New("settlement: agent submission rate exceeded")

// Engine runs the settlement pipeline. The zero per-stage timeout
// defaults to 10s.
type Engine struct {
	verifier  *mandate.Verifier
	policies  policy.PolicyStore
	evaluator *policy.Evaluator
	checker   compliance.Checker
	executor  execution.Executor
	ledger    ledger.Ledger

	resolver     ChallengeResolver
	limiter      *AgentLimiter
	obs          *observability.Provider
	stageTimeout time.Duration
	clock        func() time.Time
	logger       *slog.Logger
}

// NewEngine wires the pipeline. All six components are required; the
// optional pieces are attached with the With* builders.
func NewEngine(
	verifier *mandate.Verifier,
	policies policy.PolicyStore,
	evaluator *policy.Evaluator,
	checker compliance.Checker,
	executor execution.Executor,
	l ledger.Ledger,
) *Engine {
	return &Engine{
		verifier:     verifier,
		policies:     policies,
		evaluator:    evaluator,
		checker:      checker,
		executor:     executor,
		ledger:       l,
		stageTimeout: 10 * time.Second,
		clock:        time.Now,
		logger:       slog.Default().With("component", "settlement.engine"),
	}
}

// WithResolver attaches a synchronous challenge resolver.
func (e *Engine) WithResolver(r ChallengeResolver) *Engine {
	e.resolver = r
	return e
}

// WithLimiter attaches per-agent backpressure.
func (e *Engine) WithLimiter(l *AgentLimiter) *Engine {
	e.limiter = l
	return e
}

// WithObservability attaches tracing and metrics.
func (e *Engine) WithObservability(p *observability.Provider) *Engine {
	e.obs = p
	return e
}

// WithStageTimeout sets the per-stage timeout.
func (e *Engine) WithStageTimeout(d time.Duration) *Engine {
	e.stageTimeout = d
	return e
}

// WithClock overrides the clock for testing.
func (e *Engine) WithClock(clock func() time.Time) *Engine {
	e.clock = clock
	return e
}

// Process takes a mandate chain from intake to its terminal ledger
// entry. The returned result carries the ledger entry ID; a non-nil
// error means no terminal entry could be written and the caller must
// treat the settlement as unresolved.
func (e *Engine) Process(ctx context.Context, chain *contracts.MandateChain) (*contracts.SettlementResult, error) {
	agentID := submittingAgent(chain)

	if e.limiter != nil && !e.limiter.Allow(agentID) {
		e.logger.WarnContext(ctx, "settlement throttled", "agent_id", agentID)
		return nil, ErrThrottled
	}

	if e.obs != nil {
		var finish func(error)
		ctx, finish = e.obs.TrackSettlement(ctx, attribute.String("agent_id", agentID))
		result, err := e.process(ctx, chain, agentID)
		if err == nil && result != nil {
			e.obs.RecordSettlement(ctx, string(result.Status))
		}
		finish(err)
		return result, err
	}
	return e.process(ctx, chain, agentID)
}

// submittingAgent is the intent issuer as claimed by the chain, before
// verification. Used only for throttling and log attribution.
func submittingAgent(chain *contracts.MandateChain) string {
	if chain == nil || chain.Intent == nil {
		return ""
	}
	return chain.Intent.Issuer
}

func chainID(chain *contracts.MandateChain) string {
	if chain == nil || chain.Payment == nil {
		return ""
	}
	return chain.Payment.ID
}

func (e *Engine) stageCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	timeout := e.stageTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return context.WithTimeout(ctx, timeout)
}

//nolint:gocyclo // the pipeline is one linear state machine; splitting it hides the exit paths
func (e *Engine) process(ctx context.Context, chain *contracts.MandateChain, agentID string) (*contracts.SettlementResult, error) {
	// Stage 1: verification.
	vctx, cancel := e.stageCtx(ctx)
	verified, err := e.verifier.Verify(vctx, chain)
	cancel()
	if err != nil {
		var verr *contracts.VerificationError
		if errors.As(err, &verr) {
			return e.appendTerminal(ctx, contracts.LedgerEntryInput{
				EntryType:  contracts.EntryTypeSettlement,
				AgentID:    agentID,
				ChainID:    chainID(chain),
				Status:     contracts.StatusDeniedVerification,
				ReasonCode: string(verr.Code),
			})
		}
		return e.appendTerminal(ctx, contracts.LedgerEntryInput{
			EntryType: contracts.EntryTypeSettlement,
			AgentID:   agentID,
			ChainID:   chainID(chain),
			Status:    contracts.StatusError,
			Detail:    err.Error(),
		})
	}

	base := contracts.LedgerEntryInput{
		EntryType: contracts.EntryTypeSettlement,
		AgentID:   verified.AgentID,
		ChainID:   chainID(chain),
		Amount:    verified.Payment.Amount,
		Currency:  verified.Payment.Currency,
	}

	// Stage 2: policy.
	pctx, cancel := e.stageCtx(ctx)
	pol, err := e.policies.Get(pctx, verified.AgentID)
	if err != nil {
		cancel()
		base.Status = contracts.StatusError
		base.Detail = fmt.Sprintf("policy lookup: %v", err)
		return e.appendTerminal(ctx, base)
	}
	decision, reservation, err := e.evaluator.Evaluate(pctx, pol, &verified.Payment)
	cancel()
	if err != nil {
		base.Status = contracts.StatusError
		base.Detail = fmt.Sprintf("policy evaluation: %v", err)
		return e.appendTerminal(ctx, base)
	}
	base.Decision = decision

	if decision.Verdict == contracts.VerdictDenied {
		base.Status = contracts.StatusDeniedPolicy
		base.ReasonCode = decision.ReasonCode
		return e.appendTerminal(ctx, base)
	}

	// Stage 3: challenge resolution. An unresolved challenge is
	// terminal; its window reservation is returned because nothing in
	// this call will execute.
	if decision.Verdict == contracts.VerdictChallenge {
		resolution := e.resolve(ctx, verified, decision)
		if resolution == nil || !resolution.Approved {
			reservation.Release()
			base.Status = contracts.StatusChallenge
			base.ReasonCode = decision.ReasonCode
			if resolution != nil {
				base.Detail = resolution.Note
			}
			return e.appendTerminal(ctx, base)
		}
		base.Detail = resolution.Note
	}

	// Stage 4: compliance, fail-closed.
	cctx, cancel := e.stageCtx(ctx)
	compResult, err := e.checker.Check(cctx, verified, decision)
	cancel()
	base.Compliance = compResult
	if err != nil || compResult == nil || !compResult.Approved {
		reservation.Release()
		base.Status = contracts.StatusDeniedCompliance
		if err != nil {
			base.Detail = err.Error()
		}
		return e.appendTerminal(ctx, base)
	}

	// Cancellation is honored only before execution dispatch. Once the
	// rail has been called the outcome must be ledgered.
	if err := ctx.Err(); err != nil {
		reservation.Release()
		base.Status = contracts.StatusCancelled
		base.Detail = err.Error()
		return e.appendTerminal(ctx, base)
	}

	// Stage 5: execution.
	ectx, cancel := e.stageCtx(context.WithoutCancel(ctx))
	execResult, err := e.executor.Execute(ectx, verified)
	cancel()
	base.Execution = execResult
	if err != nil || execResult == nil || execResult.Status != contracts.ExecutionSuccess {
		reservation.Release()
		base.Status = contracts.StatusExecutionFailed
		if err != nil {
			base.Detail = err.Error()
		}
		return e.appendTerminal(ctx, base)
	}

	// The payment went through: the reservation becomes confirmed
	// spend. A confirm failure leaves the capacity held, never frees it.
	if err := reservation.Confirm(context.WithoutCancel(ctx)); err != nil {
		e.logger.ErrorContext(ctx, "spend confirmation failed after execution",
			"agent_id", verified.AgentID, "chain_id", base.ChainID, "error", err)
	}

	base.Status = contracts.StatusExecuted
	return e.appendTerminal(ctx, base)
}

func (e *Engine) resolve(ctx context.Context, verified *contracts.VerifiedChain, decision *contracts.PolicyDecision) *Resolution {
	if e.resolver == nil {
		return nil
	}
	rctx, cancel := e.stageCtx(ctx)
	defer cancel()
	resolution, err := e.resolver.Resolve(rctx, verified, decision)
	if err != nil {
		e.logger.WarnContext(ctx, "challenge resolver failed, leaving challenge unresolved",
			"agent_id", verified.AgentID, "error", err)
		return &Resolution{Approved: false, Note: "resolver_error"}
	}
	return resolution
}

// appendTerminal writes the single terminal ledger entry for this
// Process call. If the append fails there is no entry and the caller
// gets an error instead of a result; an executed payment that cannot be
// ledgered is reported as an error, never as success.
func (e *Engine) appendTerminal(ctx context.Context, input contracts.LedgerEntryInput) (*contracts.SettlementResult, error) {
	entry, err := e.ledger.Append(context.WithoutCancel(ctx), input)
	if err != nil {
		e.logger.ErrorContext(ctx, "terminal ledger append failed",
			"agent_id", input.AgentID, "chain_id", input.ChainID,
			"status", input.Status, "error", err)
		return nil, fmt.Errorf("settlement %s: %w", input.Status, err)
	}

	e.logger.InfoContext(ctx, "settlement ledgered",
		"agent_id", input.AgentID, "chain_id", input.ChainID,
		"status", entry.Status, "sequence", entry.Sequence)

	result := &contracts.SettlementResult{
		LedgerEntryID: entry.EntryID,
		Sequence:      entry.Sequence,
		Status:        entry.Status,
		ReasonCode:    entry.ReasonCode,
	}
	if entry.Execution != nil {
		result.ExternalRef = entry.Execution.ExternalRef
	}
	return result, nil
}
