// Package guardian implements the trust-decision agent (C7): static
// policy, intent analysis, pattern learning, decision synthesis, and the
// audit/IPC boundary the kernel and other processes use to ask "may I".
package guardian

import (
	"os"

	"github.com/BurntSushi/toml"
)

// DefaultPolicy is the fallback decision for a request that matches no
// trusted app and no capability rule.
type DefaultPolicy string

const (
	PolicyAllow          DefaultPolicy = "allow"
	PolicyDeny           DefaultPolicy = "deny"
	PolicyPrompt         DefaultPolicy = "prompt"
	PolicyAllowWithAudit DefaultPolicy = "allow_with_audit"
)

// RiskLevel classifies how dangerous an analyzed intent looks.
type RiskLevel string

const (
	RiskLow      RiskLevel = "low"
	RiskMedium   RiskLevel = "medium"
	RiskHigh     RiskLevel = "high"
	RiskCritical RiskLevel = "critical"
)

// RuleAction is the effect a matched CapabilityRule has.
type RuleAction string

const (
	ActionAllow           RuleAction = "allow"
	ActionDeny            RuleAction = "deny"
	ActionPrompt          RuleAction = "prompt"
	ActionAllowOnce       RuleAction = "allow_once"
	ActionDenyWithMessage RuleAction = "deny_with_message"
	ActionSandbox         RuleAction = "sandbox"
)

// TrustedApp auto-approves a glob-matched path for a set of glob-matched
// capabilities, bypassing rule evaluation entirely.
type TrustedApp struct {
	Name         string   `toml:"name"`
	PathPattern  string   `toml:"path_pattern"`
	Capabilities []string `toml:"capabilities"`
}

// RuleCondition is one guard on a CapabilityRule. Exactly one of the
// fields is populated; Kind says which.
type RuleCondition struct {
	Kind         string `toml:"kind"` // app_path | user | time_window | resource_path | intent
	Pattern      string `toml:"pattern,omitempty"`
	User         string `toml:"user,omitempty"`
	Start        string `toml:"start,omitempty"`
	End          string `toml:"end,omitempty"`
	Intent       string `toml:"intent,omitempty"`
}

type CapabilityRule struct {
	Name       string          `toml:"name"`
	Capability string          `toml:"capability"`
	Conditions []RuleCondition `toml:"conditions"`
	Action     RuleAction      `toml:"action"`
}

type SandboxProfile struct {
	Name          string   `toml:"name"`
	Description   string   `toml:"description"`
	Network       bool     `toml:"network"`
	AllowedPaths  []string `toml:"allowed_paths"`
	ReadonlyPaths []string `toml:"readonly_paths"`
	GPU           bool     `toml:"gpu"`
	Audio         bool     `toml:"audio"`
	Camera        bool     `toml:"camera"`
}

func defaultSandboxes() []SandboxProfile {
	return []SandboxProfile{
		{
			Name:          "strict",
			Description:   "Maximum isolation, no external access",
			AllowedPaths:  []string{"/tmp"},
			ReadonlyPaths: []string{"/usr", "/lib"},
		},
		{
			Name:          "browser",
			Description:   "Web browser sandbox",
			Network:       true,
			AllowedPaths:  []string{"~/Downloads", "~/.cache"},
			ReadonlyPaths: []string{"/usr", "/lib"},
			GPU:           true,
			Audio:         true,
		},
		{
			Name:          "gaming",
			Description:   "Game sandbox",
			Network:       true,
			AllowedPaths:  []string{"~/.local/share/Steam", "~/.steam"},
			ReadonlyPaths: []string{"/usr", "/lib"},
			GPU:           true,
			Audio:         true,
		},
		{
			Name:          "development",
			Description:   "Development environment",
			Network:       true,
			AllowedPaths:  []string{"~/projects", "~/.cargo", "~/.rustup"},
			ReadonlyPaths: []string{"/usr", "/lib"},
			GPU:           true,
		},
	}
}

type PolicyConfig struct {
	DefaultPolicy   DefaultPolicy    `toml:"default_policy"`
	TrustedApps     []TrustedApp     `toml:"trusted_apps"`
	CapabilityRules []CapabilityRule `toml:"capability_rules"`
	Sandboxes       []SandboxProfile `toml:"sandboxes"`
}

func defaultPolicyConfig() PolicyConfig {
	return PolicyConfig{
		DefaultPolicy: PolicyPrompt,
		TrustedApps: []TrustedApp{
			{Name: "nyx-init", PathPattern: "/usr/lib/nyx/init", Capabilities: []string{"*"}},
			{Name: "guardian", PathPattern: "/usr/lib/nyx/guardian", Capabilities: []string{"*"}},
		},
		Sandboxes: defaultSandboxes(),
	}
}

type IntentPattern struct {
	Name                string    `toml:"name"`
	Description         string    `toml:"description"`
	CapabilityPatterns  []string  `toml:"capability_patterns"`
	RiskLevel           RiskLevel `toml:"risk_level"`
}

type IntentConfig struct {
	Enabled      bool            `toml:"enabled"`
	Model        string          `toml:"model"`
	KnownIntents []IntentPattern `toml:"known_intents"`
}

func defaultIntentConfig() IntentConfig {
	return IntentConfig{Enabled: true, Model: "guardian-intent"}
}

type PatternConfig struct {
	Enabled          bool    `toml:"enabled"`
	DatabasePath     string  `toml:"database_path"`
	AnomalyThreshold float64 `toml:"anomaly_threshold"`
	LearningRate     float64 `toml:"learning_rate"`
}

func defaultPatternConfig() PatternConfig {
	return PatternConfig{
		Enabled:          true,
		DatabasePath:     "/var/lib/guardian/patterns.db",
		AnomalyThreshold: 0.8,
		LearningRate:     0.1,
	}
}

type AlertConfig struct {
	Enabled            bool `toml:"enabled"`
	OnDeny             bool `toml:"on_deny"`
	OnAnomaly          bool `toml:"on_anomaly"`
	OnCriticalCapability bool `toml:"on_critical_capability"`
}

func defaultAlertConfig() AlertConfig {
	return AlertConfig{OnAnomaly: true, OnCriticalCapability: true}
}

type AuditConfig struct {
	Enabled            bool        `toml:"enabled"`
	OutputPath         string      `toml:"output_path"`
	RetentionDays      uint32      `toml:"retention_days"`
	RotateSizeMB       uint64      `toml:"rotate_size_mb"`
	LogDecisions       bool        `toml:"log_decisions"`
	LogCapabilityUsage bool        `toml:"log_capability_usage"`
	Alerts             AlertConfig `toml:"alerts"`
}

func defaultAuditConfig() AuditConfig {
	return AuditConfig{
		Enabled:            true,
		OutputPath:         "/var/log/guardian/audit.log",
		RetentionDays:      90,
		RotateSizeMB:       100,
		LogDecisions:       true,
		LogCapabilityUsage: true,
		Alerts:             defaultAlertConfig(),
	}
}

// GuardianConfig is the top-level on-disk configuration, loaded from
// TOML via the same library this codebase already uses for its other
// config files.
type GuardianConfig struct {
	Policies PolicyConfig  `toml:"policies"`
	Intent   IntentConfig  `toml:"intent"`
	Patterns PatternConfig `toml:"patterns"`
	Audit    AuditConfig   `toml:"audit"`
}

func DefaultConfig() GuardianConfig {
	return GuardianConfig{
		Policies: defaultPolicyConfig(),
		Intent:   defaultIntentConfig(),
		Patterns: defaultPatternConfig(),
		Audit:    defaultAuditConfig(),
	}
}

// LoadConfig reads a TOML configuration file, falling back to
// DefaultConfig when path does not exist.
func LoadConfig(path string) (GuardianConfig, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		log.WithField("path", path).Info("no configuration file found, using defaults")
		return DefaultConfig(), nil
	}

	var cfg GuardianConfig
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return GuardianConfig{}, err
	}
	log.WithField("path", path).Info("loaded configuration")
	return cfg, nil
}
