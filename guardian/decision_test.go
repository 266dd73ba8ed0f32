package guardian

import (
	"testing"

	"github.com/spf13/afero"
)

func newTestEngine(t *testing.T, permissive bool) *DecisionEngine {
	t.Helper()
	cfg := DefaultConfig()
	policy, err := NewPolicyEngine(cfg.Policies)
	if err != nil {
		t.Fatalf("policy engine: %v", err)
	}
	intent, err := NewIntentAnalyzer(cfg.Intent)
	if err != nil {
		t.Fatalf("intent analyzer: %v", err)
	}
	pattern, err := NewPatternLearner(cfg.Patterns)
	if err != nil {
		t.Fatalf("pattern learner: %v", err)
	}
	cfg.Audit.OutputPath = "/audit.log"
	audit := NewAuditLoggerWithFs(afero.NewMemMapFs(), cfg.Audit)
	return NewDecisionEngine(policy, intent, pattern, audit, permissive)
}

// TestAllowTrustedApp checks that the seeded nyx-init trusted app is
// allowed any capability.
func TestAllowTrustedApp(t *testing.T) {
	engine := newTestEngine(t, false)

	req := CapabilityRequest{
		PID:         1,
		ProcessPath: "/usr/lib/nyx/init",
		User:        "root",
		Capability:  "cap:full",
	}

	decision := engine.Evaluate(req)
	if decision.Decision != FinalAllow {
		t.Fatalf("expected allow, got %v (%s)", decision.Decision, decision.Reason)
	}
}

// TestCriticalRiskDenied: an untrusted process requesting media capture
// from a temp directory scores critical risk and is denied outright in
// enforcing mode.
func TestCriticalRiskDenied(t *testing.T) {
	engine := newTestEngine(t, false)

	cfg := IntentConfig{
		Enabled: true,
		KnownIntents: []IntentPattern{
			{
				Name:               "data_exfiltration",
				Description:        "Capturing sensor data from an unexpected process",
				CapabilityPatterns: []string{"*camera*", "*microphone*"},
				RiskLevel:          RiskCritical,
			},
		},
	}
	analyzer, err := NewIntentAnalyzer(cfg)
	if err != nil {
		t.Fatalf("intent analyzer: %v", err)
	}
	engine.intent = analyzer

	req := CapabilityRequest{
		PID:         4242,
		ProcessPath: "/tmp/.hidden/suspect",
		User:        "guest",
		Capability:  "hardware:camera:capture",
	}

	decision := engine.Evaluate(req)
	if decision.Decision != FinalDeny {
		t.Fatalf("expected deny for critical risk, got %v (%s)", decision.Decision, decision.Reason)
	}
}

// TestCriticalRiskSandboxedWhenPermissive: the same scenario in
// permissive mode downgrades to maximum sandboxing instead of an
// outright denial.
func TestCriticalRiskSandboxedWhenPermissive(t *testing.T) {
	engine := newTestEngine(t, true)
	cfg := IntentConfig{
		Enabled: true,
		KnownIntents: []IntentPattern{
			{Name: "risky", CapabilityPatterns: []string{"*danger*"}, RiskLevel: RiskCritical},
		},
	}
	analyzer, _ := NewIntentAnalyzer(cfg)
	engine.intent = analyzer

	req := CapabilityRequest{ProcessPath: "/opt/app", Capability: "danger:op"}
	decision := engine.Evaluate(req)
	if decision.Decision != FinalSandbox || decision.SandboxLevel != SandboxMaximum {
		t.Fatalf("expected maximum sandbox in permissive mode, got %v/%v", decision.Decision, decision.SandboxLevel)
	}
}

// TestUntrustedDefaultPrompts: an app matching no trusted app and no
// capability rule falls through to the default policy, which prompts.
func TestUntrustedDefaultPrompts(t *testing.T) {
	engine := newTestEngine(t, false)
	req := CapabilityRequest{ProcessPath: "/opt/random/app", Capability: "filesystem:read", Resource: "/home/user/doc.txt"}
	decision := engine.Evaluate(req)
	if decision.Decision != FinalPrompt {
		t.Fatalf("expected prompt by default policy, got %v (%s)", decision.Decision, decision.Reason)
	}
}
