package guardian

import (
	"encoding/json"

	"github.com/google/uuid"
)

// RequestType tags a wireRequest's variant for JSON marshaling.
type RequestType string

const (
	ReqCheckCapability   RequestType = "CheckCapability"
	ReqUserResponse      RequestType = "UserResponse"
	ReqStatus            RequestType = "Status"
	ReqQueryPolicy       RequestType = "QueryPolicy"
	ReqRegisterProcess   RequestType = "RegisterProcess"
	ReqUnregisterProcess RequestType = "UnregisterProcess"
	ReqGetSandboxProfile RequestType = "GetSandboxProfile"
	ReqReloadConfig      RequestType = "ReloadConfig"
	ReqShutdown          RequestType = "Shutdown"
)

type ResponseType string

const (
	RespDecision       ResponseType = "Decision"
	RespPromptRequired ResponseType = "PromptRequired"
	RespStatus         ResponseType = "Status"
	RespPolicyResult   ResponseType = "PolicyResult"
	RespSandboxProfile ResponseType = "SandboxProfile"
	RespOk             ResponseType = "Ok"
	RespError          ResponseType = "Error"
)

// WireRequest is one line-delimited JSON request sent over the
// Guardian's Unix-domain socket.
type WireRequest struct {
	Type RequestType `json:"type"`

	RequestID   uuid.UUID         `json:"request_id,omitempty"`
	Request     *CapabilityRequest `json:"request,omitempty"`
	Approved    bool              `json:"approved,omitempty"`
	Remember    bool              `json:"remember,omitempty"`
	ProcessPath string            `json:"process_path,omitempty"`
	Capability  string            `json:"capability,omitempty"`
	PID         uint32            `json:"pid,omitempty"`
	Path        string            `json:"path,omitempty"`
	User        string            `json:"user,omitempty"`
	Level       string            `json:"level,omitempty"`
}

// WireResponse is the corresponding line-delimited JSON reply.
type WireResponse struct {
	Type ResponseType `json:"type"`

	RequestID         uuid.UUID       `json:"request_id,omitempty"`
	Decision          string          `json:"decision,omitempty"`
	Reason            string          `json:"reason,omitempty"`
	SandboxConfig     json.RawMessage `json:"sandbox_config,omitempty"`
	RecommendedAction string          `json:"recommended_action,omitempty"`

	Message string          `json:"message,omitempty"`
	Details json.RawMessage `json:"details,omitempty"`

	Version           string `json:"version,omitempty"`
	UptimeSecs        uint64 `json:"uptime_secs,omitempty"`
	RequestsProcessed uint64 `json:"requests_processed,omitempty"`
	ActiveProcesses   uint32 `json:"active_processes,omitempty"`

	AppliesTo []string `json:"applies_to,omitempty"`

	Config json.RawMessage `json:"config,omitempty"`

	Code string `json:"code,omitempty"`
}

func decisionString(d FinalDecision, level SandboxLevel) string {
	if d == FinalSandbox && level != "" {
		return "sandbox-" + string(level)
	}
	return string(d)
}
