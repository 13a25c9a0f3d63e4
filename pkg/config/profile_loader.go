package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/veridianlabs/payguard/pkg/contracts"
)

// PolicyProfile is a tiered default spending policy. New agents are
// enrolled with the profile of their tier; per-agent overrides go
// through the ledgered policy update path afterwards.
type PolicyProfile struct {
	Tier            string        `yaml:"tier" json:"tier"`
	Currency        string        `yaml:"currency" json:"currency"`
	LimitPerTx      int64         `yaml:"limit_per_tx" json:"limit_per_tx"`
	ReviewThreshold int64         `yaml:"review_threshold,omitempty" json:"review_threshold,omitempty"`
	DailyLimit      int64         `yaml:"daily_limit,omitempty" json:"daily_limit,omitempty"`
	WeeklyLimit     int64         `yaml:"weekly_limit,omitempty" json:"weekly_limit,omitempty"`
	MonthlyLimit    int64         `yaml:"monthly_limit,omitempty" json:"monthly_limit,omitempty"`
	MerchantMode    string        `yaml:"merchant_mode" json:"merchant_mode"`
	Merchants       []string      `yaml:"merchants" json:"merchants"`
	AllowedScopes   []string      `yaml:"allowed_scopes" json:"allowed_scopes"`
	CustomRule      string        `yaml:"custom_rule,omitempty" json:"custom_rule,omitempty"`
}

// Policy instantiates the profile for one agent at version 1.
func (p *PolicyProfile) Policy(agentID string) *contracts.SpendingPolicy {
	policy := &contracts.SpendingPolicy{
		AgentID:         agentID,
		Version:         1,
		Currency:        p.Currency,
		LimitPerTx:      p.LimitPerTx,
		ReviewThreshold: p.ReviewThreshold,
		MerchantMode:    contracts.MerchantRuleMode(strings.ToUpper(p.MerchantMode)),
		Merchants:       p.Merchants,
		AllowedScopes:   p.AllowedScopes,
		CustomRule:      p.CustomRule,
	}
	for w, limit := range map[contracts.Window]int64{
		contracts.WindowDaily:   p.DailyLimit,
		contracts.WindowWeekly:  p.WeeklyLimit,
		contracts.WindowMonthly: p.MonthlyLimit,
	} {
		if limit > 0 {
			policy.WindowLimits = append(policy.WindowLimits, contracts.WindowLimit{
				Window: w, Cap: limit, Currency: p.Currency,
			})
		}
	}
	return policy
}

// LoadProfile loads profile_<tier>.yaml from the profiles directory.
func LoadProfile(profilesDir, tier string) (*PolicyProfile, error) {
	tier = strings.ToLower(tier)
	path := filepath.Join(profilesDir, fmt.Sprintf("profile_%s.yaml", tier))

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("load profile %q: %w", tier, err)
	}

	var profile PolicyProfile
	if err := yaml.Unmarshal(data, &profile); err != nil {
		return nil, fmt.Errorf("parse profile %q: %w", tier, err)
	}
	if profile.Tier == "" {
		profile.Tier = tier
	}
	if err := validateProfile(&profile); err != nil {
		return nil, fmt.Errorf("profile %q: %w", tier, err)
	}
	return &profile, nil
}

// LoadAllProfiles loads every profile_*.yaml in the directory, keyed by
// tier.
func LoadAllProfiles(profilesDir string) (map[string]*PolicyProfile, error) {
	matches, err := filepath.Glob(filepath.Join(profilesDir, "profile_*.yaml"))
	if err != nil {
		return nil, err
	}

	profiles := make(map[string]*PolicyProfile, len(matches))
	for _, path := range matches {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", path, err)
		}
		var profile PolicyProfile
		if err := yaml.Unmarshal(data, &profile); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
		if profile.Tier == "" {
			base := strings.TrimSuffix(filepath.Base(path), ".yaml")
			profile.Tier = strings.TrimPrefix(base, "profile_")
		}
		if err := validateProfile(&profile); err != nil {
			return nil, fmt.Errorf("%s: %w", path, err)
		}
		profiles[profile.Tier] = &profile
	}
	return profiles, nil
}

func validateProfile(p *PolicyProfile) error {
	if p.Currency == "" {
		return fmt.Errorf("missing currency")
	}
	if p.LimitPerTx <= 0 {
		return fmt.Errorf("limit_per_tx must be positive")
	}
	switch contracts.MerchantRuleMode(strings.ToUpper(p.MerchantMode)) {
	case contracts.MerchantAllowlist, contracts.MerchantDenylist:
	default:
		return fmt.Errorf("merchant_mode must be ALLOWLIST or DENYLIST")
	}
	return nil
}
