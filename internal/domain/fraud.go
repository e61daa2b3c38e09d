package domain

import "time"

// FraudCheck names a check in the battery.
type FraudCheck string

const (
	CheckDuplicateAccount  FraudCheck = "duplicate_account"
	CheckIPVelocity        FraudCheck = "ip_velocity"
	CheckDeviceFingerprint FraudCheck = "device_fingerprint"
	CheckEmailDomain       FraudCheck = "email_domain"
	CheckVPNProxy          FraudCheck = "vpn_proxy"
	CheckDataConsistency   FraudCheck = "data_consistency"
	CheckBotBehavior       FraudCheck = "bot_behavior"
	CheckCustomRules       FraudCheck = "custom_rules"
)

// FraudAction is the decision taken on a submission.
type FraudAction string

const (
	FraudAllow FraudAction = "allow"
	FraudFlag  FraudAction = "flag"
	FraudBlock FraudAction = "block"
)

// CheckResult is the output of a single fraud check.
type CheckResult struct {
	Check    FraudCheck     `json:"check"`
	Flagged  bool           `json:"flagged"`
	Severity float64        `json:"severity"`
	Weight   float64        `json:"weight"`
	Score    float64        `json:"score"`
	Reason   string         `json:"reason,omitempty"`
	Details  map[string]any `json:"details,omitempty"`
}

// FraudContext is the request-side evidence collected for a submission.
type FraudContext struct {
	IP             string            `json:"ip"`
	UserAgent      string            `json:"user_agent"`
	Headers        map[string]string `json:"headers,omitempty"`
	Fingerprint    string            `json:"fingerprint,omitempty"`
	ElapsedSeconds *float64          `json:"elapsed_seconds,omitempty"`
	Honeypot       string            `json:"honeypot,omitempty"`
	MouseMoved     *bool             `json:"mouse_moved,omitempty"`
}

// FraudAnalysis is the aggregate result persisted for every analysis.
type FraudAnalysis struct {
	ID           string        `json:"id"`
	InstanceID   string        `json:"instance_id"`
	SubmissionID string        `json:"submission_id,omitempty"`
	RiskScore    float64       `json:"risk_score"`
	Threshold    float64       `json:"threshold"`
	Passed       bool          `json:"passed"`
	Action       FraudAction   `json:"action"`
	Checks       []CheckResult `json:"checks"`
	IP           string        `json:"ip"`
	MaskedEmail  string        `json:"masked_email,omitempty"`
	MaskedAcct   string        `json:"masked_account,omitempty"`
	CreatedAt    time.Time     `json:"created_at"`
}

// Triggered returns the checks that flagged.
func (a *FraudAnalysis) Triggered() []CheckResult {
	var out []CheckResult
	for _, c := range a.Checks {
		if c.Flagged {
			out = append(out, c)
		}
	}
	return out
}

// CustomFraudRule is an instance-defined CEL expression.
type CustomFraudRule struct {
	ID         string  `json:"id" validate:"required"`
	Name       string  `json:"name"`
	Expression string  `json:"expression" validate:"required"`
	Weight     float64 `json:"weight" validate:"min=0"`
	Enabled    bool    `json:"enabled"`
}
