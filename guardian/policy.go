package guardian

import (
	"regexp"
	"strings"

	"github.com/sirupsen/logrus"
)

// CapabilityRequest is one capability check presented to the guardian,
// whether it arrived over the wire protocol or from an in-process kernel
// call.
type CapabilityRequest struct {
	PID         uint32
	ProcessPath string
	User        string
	Capability  string
	Resource    string
	Context     map[string]string
}

// PolicyDecision is the outcome of static policy evaluation, before
// intent/pattern analysis gets a say.
type PolicyDecision string

const (
	PolicyDecisionAllow              PolicyDecision = "allow"
	PolicyDecisionDeny               PolicyDecision = "deny"
	PolicyDecisionPrompt             PolicyDecision = "prompt"
	PolicyDecisionNeedIntentAnalysis PolicyDecision = "need_intent_analysis"
	PolicyDecisionSandbox            PolicyDecision = "sandbox"
)

type PolicyResult struct {
	Decision       PolicyDecision
	MatchedRule    string
	Reason         string
	SandboxProfile string
}

type compiledTrustedApp struct {
	name         string
	pathPattern  *regexp.Regexp
	capabilities []*regexp.Regexp
}

type compiledCondition struct {
	kind    string
	pattern *regexp.Regexp
	user    string
	start   string
	end     string
	intent  string
}

type compiledRule struct {
	name               string
	capabilityPattern  *regexp.Regexp
	conditions         []compiledCondition
	action             RuleAction
}

// PolicyEngine evaluates a CapabilityRequest against trusted apps first,
// then explicit capability rules, then the configured default.
type PolicyEngine struct {
	defaultPolicy   DefaultPolicy
	trustedApps     []compiledTrustedApp
	capabilityRules []compiledRule
}

// globToRegex compiles a shell glob into an anchored regexp: '*'
// becomes '.*', '?' becomes '.', everything else is escaped literally.
func globToRegex(pattern string) (*regexp.Regexp, error) {
	escaped := regexp.QuoteMeta(pattern)
	escaped = strings.ReplaceAll(escaped, `\*`, ".*")
	escaped = strings.ReplaceAll(escaped, `\?`, ".")
	return regexp.Compile("^" + escaped + "$")
}

func NewPolicyEngine(cfg PolicyConfig) (*PolicyEngine, error) {
	pe := &PolicyEngine{defaultPolicy: cfg.DefaultPolicy}

	for _, app := range cfg.TrustedApps {
		pathPattern, err := globToRegex(app.PathPattern)
		if err != nil {
			log.WithError(err).WithField("app", app.Name).Warn("skipping trusted app with invalid path pattern")
			continue
		}
		caps := make([]*regexp.Regexp, 0, len(app.Capabilities))
		for _, c := range app.Capabilities {
			re, err := globToRegex(c)
			if err != nil {
				continue
			}
			caps = append(caps, re)
		}
		pe.trustedApps = append(pe.trustedApps, compiledTrustedApp{name: app.Name, pathPattern: pathPattern, capabilities: caps})
	}

	for _, rule := range cfg.CapabilityRules {
		capPattern, err := globToRegex(rule.Capability)
		if err != nil {
			log.WithError(err).WithField("rule", rule.Name).Warn("skipping rule with invalid capability pattern")
			continue
		}
		conditions := make([]compiledCondition, 0, len(rule.Conditions))
		for _, cond := range rule.Conditions {
			cc := compiledCondition{kind: cond.Kind, user: cond.User, start: cond.Start, end: cond.End, intent: cond.Intent}
			switch cond.Kind {
			case "app_path", "resource_path":
				re, err := globToRegex(cond.Pattern)
				if err != nil {
					continue
				}
				cc.pattern = re
			}
			conditions = append(conditions, cc)
		}
		pe.capabilityRules = append(pe.capabilityRules, compiledRule{
			name:              rule.Name,
			capabilityPattern: capPattern,
			conditions:        conditions,
			action:            rule.Action,
		})
	}

	return pe, nil
}

func (pe *PolicyEngine) Evaluate(req CapabilityRequest) PolicyResult {
	log.WithFields(logrus.Fields{"capability": req.Capability, "path": req.ProcessPath}).Debug("evaluating policy")

	if result, ok := pe.checkTrustedApps(req); ok {
		return result
	}
	if result, ok := pe.checkRules(req); ok {
		return result
	}
	return pe.applyDefaultPolicy(req)
}

func (pe *PolicyEngine) checkTrustedApps(req CapabilityRequest) (PolicyResult, bool) {
	for _, app := range pe.trustedApps {
		if !app.pathPattern.MatchString(req.ProcessPath) {
			continue
		}
		for _, capPattern := range app.capabilities {
			if capPattern.MatchString(req.Capability) || capPattern.String() == "^.*$" {
				return PolicyResult{
					Decision:    PolicyDecisionAllow,
					MatchedRule: "trusted_app:" + app.name,
					Reason:      "Trusted application: " + app.name,
				}, true
			}
		}
	}
	return PolicyResult{}, false
}

func conditionMet(cond compiledCondition, req CapabilityRequest) bool {
	switch cond.kind {
	case "app_path":
		return cond.pattern != nil && cond.pattern.MatchString(req.ProcessPath)
	case "user":
		return req.User == cond.user || cond.user == "*"
	case "time_window":
		// TODO: evaluate start/end against wall-clock time once the
		// guardian daemon tracks a configurable clock source.
		return true
	case "resource_path":
		return cond.pattern != nil && req.Resource != "" && cond.pattern.MatchString(req.Resource)
	case "intent":
		return req.Context != nil && req.Context["intent"] == cond.intent
	default:
		return false
	}
}

func (pe *PolicyEngine) checkRules(req CapabilityRequest) (PolicyResult, bool) {
	for _, rule := range pe.capabilityRules {
		if !rule.capabilityPattern.MatchString(req.Capability) {
			continue
		}
		met := true
		for _, cond := range rule.conditions {
			if !conditionMet(cond, req) {
				met = false
				break
			}
		}
		if !met {
			continue
		}

		var decision PolicyDecision
		switch rule.action {
		case ActionAllow:
			decision = PolicyDecisionAllow
		case ActionDeny, ActionDenyWithMessage:
			decision = PolicyDecisionDeny
		case ActionPrompt, ActionAllowOnce:
			decision = PolicyDecisionPrompt
		case ActionSandbox:
			decision = PolicyDecisionSandbox
		default:
			decision = PolicyDecisionDeny
		}

		result := PolicyResult{Decision: decision, MatchedRule: rule.name, Reason: "Matched rule: " + rule.name}
		if decision == PolicyDecisionSandbox {
			result.SandboxProfile = "strict"
		}
		return result, true
	}
	return PolicyResult{}, false
}

func (pe *PolicyEngine) applyDefaultPolicy(req CapabilityRequest) PolicyResult {
	var decision PolicyDecision
	switch pe.defaultPolicy {
	case PolicyAllow, PolicyAllowWithAudit:
		decision = PolicyDecisionAllow
	case PolicyDeny:
		decision = PolicyDecisionDeny
	default:
		decision = PolicyDecisionPrompt
	}
	return PolicyResult{Decision: decision, Reason: "Default policy: " + string(pe.defaultPolicy)}
}
