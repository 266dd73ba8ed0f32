package guardian

import "testing"

func TestPatternLearnerFirstSeenIsNeutral(t *testing.T) {
	pl, err := NewPatternLearner(defaultPatternConfig())
	if err != nil {
		t.Fatalf("new pattern learner: %v", err)
	}
	req := CapabilityRequest{ProcessPath: "/opt/newapp", Capability: "filesystem:read"}
	analysis := pl.Analyze(req)
	if analysis.AnomalyScore <= 0 {
		t.Fatalf("expected nonzero neutral anomaly for unseen app, got %v", analysis.AnomalyScore)
	}
}

// TestPatternLearnerConvergesAfterLearning shows that repeatedly
// learning the same capability for the same app lowers its anomaly
// score on the next identical request.
func TestPatternLearnerConvergesAfterLearning(t *testing.T) {
	pl, err := NewPatternLearner(defaultPatternConfig())
	if err != nil {
		t.Fatalf("new pattern learner: %v", err)
	}
	req := CapabilityRequest{ProcessPath: "/opt/app", Capability: "filesystem:read"}

	for i := 0; i < 50; i++ {
		pl.Learn(req)
	}

	analysis := pl.Analyze(req)
	if !analysis.IsKnown {
		t.Fatalf("expected pattern to be known after repeated learning, got score %v", analysis.AnomalyScore)
	}
}

func TestPatternLearnerFindsSimilarApps(t *testing.T) {
	pl, err := NewPatternLearner(defaultPatternConfig())
	if err != nil {
		t.Fatalf("new pattern learner: %v", err)
	}
	pl.Learn(CapabilityRequest{ProcessPath: "/opt/a", Capability: "network:connect"})
	pl.Learn(CapabilityRequest{ProcessPath: "/opt/b", Capability: "network:connect"})

	analysis := pl.Analyze(CapabilityRequest{ProcessPath: "/opt/c", Capability: "network:connect"})
	found := false
	for _, s := range analysis.SimilarPatterns {
		if s == "/opt/a" || s == "/opt/b" {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected similar patterns to include /opt/a or /opt/b, got %v", analysis.SimilarPatterns)
	}
}

func TestPatternLearnerDisabledIsNoop(t *testing.T) {
	cfg := defaultPatternConfig()
	cfg.Enabled = false
	pl, err := NewPatternLearner(cfg)
	if err != nil {
		t.Fatalf("new pattern learner: %v", err)
	}
	req := CapabilityRequest{ProcessPath: "/opt/app", Capability: "cap:x"}
	pl.Learn(req)
	analysis := pl.Analyze(req)
	if analysis.AnomalyScore != 0 || analysis.IsKnown {
		t.Fatalf("expected disabled learner to be a no-op, got %+v", analysis)
	}
}
