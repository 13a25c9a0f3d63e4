package compliance

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/veridianlabs/payguard/pkg/contracts"
)

// Webhook screens settlements against an external HTTP provider. The
// provider receives the payment details and answers with an approval
// verdict; any transport or decode failure surfaces as an error for the
// FailClosed wrapper to turn into a denial.
type Webhook struct {
	url    string
	client *http.Client
}

type webhookRequest struct {
	AgentID  string `json:"agent_id"`
	Domain   string `json:"domain"`
	Amount   int64  `json:"amount"`
	Currency string `json:"currency"`
	Merchant string `json:"merchant"`
	Scope    string `json:"scope"`
}

type webhookResponse struct {
	Approved bool   `json:"approved"`
	Rule     string `json:"rule,omitempty"`
}

func NewWebhook(url string) *Webhook {
	return &Webhook{
		url:    url,
		client: &http.Client{Timeout: 10 * time.Second},
	}
}

func (w *Webhook) Check(ctx context.Context, chain *contracts.VerifiedChain, _ *contracts.PolicyDecision) (*contracts.ComplianceResult, error) {
	body, err := json.Marshal(webhookRequest{
		AgentID:  chain.AgentID,
		Domain:   chain.Domain,
		Amount:   chain.Payment.Amount,
		Currency: chain.Payment.Currency,
		Merchant: chain.Payment.Merchant,
		Scope:    chain.Payment.Scope,
	})
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := w.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("compliance provider returned %d", resp.StatusCode)
	}

	var out webhookResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, err
	}
	return &contracts.ComplianceResult{
		Approved: out.Approved,
		Provider: w.url,
		Rule:     out.Rule,
	}, nil
}
