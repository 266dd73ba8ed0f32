package guardian

import "fmt"

// FinalDecision is the outcome the caller (kernel dispatcher, or a
// prompt-handling UI) acts on.
type FinalDecision string

const (
	FinalAllow   FinalDecision = "allow"
	FinalDeny    FinalDecision = "deny"
	FinalSandbox FinalDecision = "sandbox"
	FinalPrompt  FinalDecision = "prompt"
)

// SandboxLevel refines FinalSandbox.
type SandboxLevel string

const (
	SandboxLight   SandboxLevel = "light"
	SandboxMedium  SandboxLevel = "medium"
	SandboxHeavy   SandboxLevel = "heavy"
	SandboxMaximum SandboxLevel = "maximum"
)

// SecurityDecision bundles the final verdict with every intermediate
// result that fed it, so an audit entry or a prompt UI can explain
// itself fully.
type SecurityDecision struct {
	Decision          FinalDecision
	SandboxLevel      SandboxLevel // only meaningful when Decision == FinalSandbox
	PolicyResult      PolicyResult
	Intent            *AnalyzedIntent
	Pattern           *PatternAnalysis
	Reason            string
	RecommendedAction string
}

// DecisionEngine is the synthesis point: policy first (fast-path
// allow/deny), then intent and pattern analysis feed a precedence chain
// that picks the final verdict.
type DecisionEngine struct {
	policy    *PolicyEngine
	intent    *IntentAnalyzer
	pattern   *PatternLearner
	audit     *AuditLogger

	// Permissive mode downgrades a policy-level deny to allow and a
	// critical-risk deny to maximum sandboxing instead, for a
	// deployment that wants visibility before enforcement.
	permissive bool
}

func NewDecisionEngine(policy *PolicyEngine, intent *IntentAnalyzer, pattern *PatternLearner, audit *AuditLogger, permissive bool) *DecisionEngine {
	return &DecisionEngine{policy: policy, intent: intent, pattern: pattern, audit: audit, permissive: permissive}
}

func (de *DecisionEngine) Evaluate(req CapabilityRequest) SecurityDecision {
	log.WithField("capability", req.Capability).Debug("evaluating request")

	policyResult := de.policy.Evaluate(req)

	if policyResult.Decision == PolicyDecisionAllow {
		return de.makeDecision(FinalAllow, "", policyResult, nil, nil, "Allowed by policy")
	}

	if policyResult.Decision == PolicyDecisionDeny {
		decision := FinalDeny
		if de.permissive {
			decision = FinalAllow
		}
		return de.makeDecision(decision, "", policyResult, nil, nil, "Denied by policy")
	}

	intent := de.intent.Analyze(req)
	pattern := de.pattern.Analyze(req)

	final, level, reason := de.synthesize(policyResult, intent, pattern)
	return de.makeDecision(final, level, policyResult, &intent, &pattern, reason)
}

// synthesize applies a fixed precedence order: critical risk overrides
// everything, then high risk plus an anomalous
// pattern, then suspicious indicators, then a globally anomalous
// pattern, then medium risk against an unseen pattern, and only then
// does the static policy's own secondary verdict (prompt/sandbox) apply.
func (de *DecisionEngine) synthesize(policy PolicyResult, intent AnalyzedIntent, pattern PatternAnalysis) (FinalDecision, SandboxLevel, string) {
	if intent.RiskLevel == RiskCritical {
		if de.permissive {
			return FinalSandbox, SandboxMaximum, "Critical risk - sandboxing (permissive mode)"
		}
		return FinalDeny, "", fmt.Sprintf("Critical risk: %s", intent.Explanation)
	}

	if intent.RiskLevel == RiskHigh {
		known := 0.0
		if pattern.IsKnown {
			known = 1.0
		}
		if pattern.AnomalyScore > known*0.5+0.5 {
			return FinalSandbox, SandboxHeavy, fmt.Sprintf("High risk + anomalous pattern: %s", intent.Explanation)
		}
		return FinalPrompt, "", fmt.Sprintf("High risk operation: %s", intent.Explanation)
	}

	if len(intent.SuspiciousIndicators) > 0 {
		reason := "Suspicious indicators: "
		for i, s := range intent.SuspiciousIndicators {
			if i > 0 {
				reason += ", "
			}
			reason += s
		}
		return FinalPrompt, "", reason
	}

	if pattern.AnomalyScore > de.pattern.Threshold() {
		return FinalPrompt, "", fmt.Sprintf("Unusual behavior: %s", pattern.Explanation)
	}

	if intent.RiskLevel == RiskMedium && !pattern.IsKnown {
		return FinalSandbox, SandboxLight, fmt.Sprintf("Medium risk + new pattern: %s", intent.Explanation)
	}

	switch policy.Decision {
	case PolicyDecisionPrompt:
		return FinalPrompt, "", "Policy requires confirmation"
	case PolicyDecisionSandbox:
		return FinalSandbox, SandboxMedium, "Policy requires sandbox"
	default:
		return FinalAllow, "", "Normal operation"
	}
}

func (de *DecisionEngine) makeDecision(decision FinalDecision, level SandboxLevel, policy PolicyResult, intent *AnalyzedIntent, pattern *PatternAnalysis, reason string) SecurityDecision {
	var action string
	switch decision {
	case FinalDeny:
		action = "Review the application and its permissions"
	case FinalSandbox:
		action = "Application will run with restricted permissions"
	case FinalPrompt:
		action = "Please confirm this action"
	}

	return SecurityDecision{
		Decision:          decision,
		SandboxLevel:      level,
		PolicyResult:      policy,
		Intent:            intent,
		Pattern:           pattern,
		Reason:            reason,
		RecommendedAction: action,
	}
}

// RecordDecision logs the decision to the audit sink and, if the caller
// approved it (or it was allowed outright), folds it into the pattern
// learner so future requests from the same process are judged against
// it.
func (de *DecisionEngine) RecordDecision(req CapabilityRequest, decision SecurityDecision, userApproved bool) {
	de.audit.Log(AuditEvent{
		Kind:         AuditDecision,
		Request:      req,
		Decision:     string(decision.Decision),
		Reason:       decision.Reason,
		UserApproved: userApproved,
	})

	if userApproved || decision.Decision == FinalAllow {
		de.pattern.Learn(req)
	}
}
