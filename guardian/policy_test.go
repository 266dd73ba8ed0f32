package guardian

import "testing"

// TestTrustedAppGlob checks that a glob path pattern with a wildcard
// capability list allows anything from a matching path.
func TestTrustedAppGlob(t *testing.T) {
	cfg := PolicyConfig{
		DefaultPolicy: PolicyDeny,
		TrustedApps: []TrustedApp{
			{Name: "test", PathPattern: "/usr/bin/test*", Capabilities: []string{"*"}},
		},
	}
	engine, err := NewPolicyEngine(cfg)
	if err != nil {
		t.Fatalf("new policy engine: %v", err)
	}

	result := engine.Evaluate(CapabilityRequest{
		PID:         1234,
		ProcessPath: "/usr/bin/test-app",
		User:        "user",
		Capability:  "cap:filesystem",
	})
	if result.Decision != PolicyDecisionAllow {
		t.Fatalf("expected allow, got %v", result.Decision)
	}
}

func TestCapabilityRuleDenyWithUserCondition(t *testing.T) {
	cfg := PolicyConfig{
		DefaultPolicy: PolicyAllow,
		CapabilityRules: []CapabilityRule{
			{
				Name:       "deny-guest-network",
				Capability: "network:*",
				Conditions: []RuleCondition{{Kind: "user", User: "guest"}},
				Action:     ActionDeny,
			},
		},
	}
	engine, err := NewPolicyEngine(cfg)
	if err != nil {
		t.Fatalf("new policy engine: %v", err)
	}

	denied := engine.Evaluate(CapabilityRequest{ProcessPath: "/opt/app", User: "guest", Capability: "network:connect"})
	if denied.Decision != PolicyDecisionDeny {
		t.Fatalf("expected deny for guest, got %v", denied.Decision)
	}

	allowed := engine.Evaluate(CapabilityRequest{ProcessPath: "/opt/app", User: "alice", Capability: "network:connect"})
	if allowed.Decision != PolicyDecisionAllow {
		t.Fatalf("expected fallthrough to default allow for alice, got %v", allowed.Decision)
	}
}

func TestDefaultPolicyFallback(t *testing.T) {
	engine, err := NewPolicyEngine(PolicyConfig{DefaultPolicy: PolicyDeny})
	if err != nil {
		t.Fatalf("new policy engine: %v", err)
	}
	result := engine.Evaluate(CapabilityRequest{ProcessPath: "/opt/unknown", Capability: "cap:anything"})
	if result.Decision != PolicyDecisionDeny {
		t.Fatalf("expected default deny, got %v", result.Decision)
	}
}
