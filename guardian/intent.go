package guardian

import (
	"regexp"
	"strings"
)

// AnalyzedIntent is what the intent analyzer concludes about a request:
// not just which capability was asked for, but what it looks like the
// caller is actually trying to do.
type AnalyzedIntent struct {
	PrimaryIntent         string
	Confidence            float64
	RiskLevel             RiskLevel
	Explanation           string
	SecondaryIntents      []string
	SuspiciousIndicators  []string
}

type intentMatcher struct {
	name                string
	description         string
	capabilityPatterns  []*regexp.Regexp
	riskLevel           RiskLevel
}

// IntentAnalyzer classifies a CapabilityRequest's underlying intent,
// first by matching configured patterns and falling back to heuristic
// substring analysis.
type IntentAnalyzer struct {
	enabled  bool
	patterns []intentMatcher
	model    string
}

func NewIntentAnalyzer(cfg IntentConfig) (*IntentAnalyzer, error) {
	ia := &IntentAnalyzer{enabled: cfg.Enabled, model: cfg.Model}
	for _, p := range cfg.KnownIntents {
		patterns := make([]*regexp.Regexp, 0, len(p.CapabilityPatterns))
		for _, cp := range p.CapabilityPatterns {
			re, err := globToRegex(cp)
			if err != nil {
				continue
			}
			patterns = append(patterns, re)
		}
		ia.patterns = append(ia.patterns, intentMatcher{
			name:               p.Name,
			description:        p.Description,
			capabilityPatterns: patterns,
			riskLevel:          p.RiskLevel,
		})
	}
	return ia, nil
}

func (ia *IntentAnalyzer) Analyze(req CapabilityRequest) AnalyzedIntent {
	if !ia.enabled {
		return AnalyzedIntent{PrimaryIntent: "unknown", RiskLevel: RiskLow, Explanation: "Intent analysis disabled"}
	}

	if matched, ok := ia.matchPatterns(req); ok {
		return matched
	}
	return ia.heuristicAnalysis(req)
}

func (ia *IntentAnalyzer) matchPatterns(req CapabilityRequest) (AnalyzedIntent, bool) {
	for _, pattern := range ia.patterns {
		for _, capPattern := range pattern.capabilityPatterns {
			if capPattern.MatchString(req.Capability) {
				return AnalyzedIntent{
					PrimaryIntent: pattern.name,
					Confidence:    0.9,
					RiskLevel:     pattern.riskLevel,
					Explanation:   pattern.description,
				}, true
			}
		}
	}
	return AnalyzedIntent{}, false
}

// heuristicAnalysis applies a fixed set of substring rules against the
// capability string when no regex pattern already matched.
func (ia *IntentAnalyzer) heuristicAnalysis(req CapabilityRequest) AnalyzedIntent {
	var suspicious []string
	risk := RiskLow
	intent := "general_operation"
	explanation := ""
	cap := req.Capability
	resource := req.Resource

	if strings.Contains(cap, "filesystem") || strings.Contains(cap, "file") {
		switch {
		case resource != "" && strings.Contains(resource, ".."):
			intent = "path_traversal"
			explanation = "Potential path traversal detected"
			suspicious = append(suspicious, "Path contains '..'")
			risk = RiskHigh
		case resource != "" && (strings.Contains(resource, "/etc") || strings.Contains(resource, "/sys")):
			intent = "system_configuration"
			explanation = "Accessing system configuration files"
			risk = RiskMedium
		case resource != "" && (strings.Contains(resource, "/home") || strings.Contains(resource, "~")):
			intent = "user_data_access"
			explanation = "Accessing user home directory"
		case resource != "" && strings.Contains(resource, "/tmp"):
			intent = "temporary_storage"
			explanation = "Using temporary storage"
		}
	}

	if strings.Contains(cap, "network") {
		intent = "network_communication"
		explanation = "Requesting network access"
		risk = RiskMedium

		if resource != "" {
			if strings.Contains(resource, ":22") || strings.Contains(resource, ":23") {
				suspicious = append(suspicious, "SSH/Telnet port access")
			}
			if strings.Contains(resource, "0.0.0.0") || strings.Contains(resource, "*") {
				suspicious = append(suspicious, "Wildcard network binding")
				risk = RiskHigh
			}
		}
	}

	if strings.Contains(cap, "process") || strings.Contains(cap, "exec") {
		intent = "process_execution"
		explanation = "Executing or managing processes"
		risk = RiskMedium

		if strings.Contains(cap, "kill") {
			intent = "process_termination"
			risk = RiskHigh
		}
	}

	if strings.Contains(cap, "gpu") || strings.Contains(cap, "tensor") {
		intent = "ai_computation"
		explanation = "AI/ML workload"
	}

	if strings.Contains(cap, "camera") || strings.Contains(cap, "microphone") {
		intent = "media_capture"
		explanation = "Accessing camera or microphone"
		risk = RiskHigh
		suspicious = append(suspicious, "Sensor access requested")
	}

	if strings.Contains(req.ProcessPath, "/tmp") || strings.Contains(req.ProcessPath, "/var/tmp") || strings.Contains(req.ProcessPath, "/dev/shm") {
		suspicious = append(suspicious, "Process running from temporary directory")
		risk = RiskHigh
	}

	return AnalyzedIntent{
		PrimaryIntent:        intent,
		Confidence:           0.7,
		RiskLevel:            risk,
		Explanation:          explanation,
		SuspiciousIndicators: suspicious,
	}
}

// ShouldUseAI reports whether a heuristic result is weak enough to
// warrant a deeper (model-backed) analysis pass. No model is wired in
// this port; kept so a future inference backend has a clear seam.
func (ia *IntentAnalyzer) ShouldUseAI(result AnalyzedIntent) bool {
	return result.Confidence < 0.5 || result.RiskLevel == RiskHigh || result.RiskLevel == RiskCritical
}

// Common intent category names, for callers building IntentConfig
// patterns without hardcoding strings.
const (
	IntentFileSave           = "file_save"
	IntentFileRead           = "file_read"
	IntentSystemConfig       = "system_configuration"
	IntentNetworkClient      = "network_client"
	IntentNetworkServer      = "network_server"
	IntentProcessSpawn       = "process_spawn"
	IntentAIInference        = "ai_inference"
	IntentMediaCapture       = "media_capture"
	IntentDataExfiltration   = "data_exfiltration"
	IntentPrivilegeEscalation = "privilege_escalation"
)
