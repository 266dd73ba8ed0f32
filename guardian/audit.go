package guardian

import (
	"encoding/json"
	"path/filepath"
	"sync"
	"time"

	"github.com/spf13/afero"
)

// AuditEventKind distinguishes the handful of things worth a durable
// audit trail entry.
type AuditEventKind string

const (
	AuditDecision        AuditEventKind = "decision"
	AuditCapabilityUsage AuditEventKind = "capability_usage"
	AuditAlert           AuditEventKind = "alert"
)

// AuditEvent is one append-only audit log line.
type AuditEvent struct {
	Kind         AuditEventKind `json:"kind"`
	Timestamp    time.Time      `json:"timestamp"`
	Request      CapabilityRequest `json:"request"`
	Decision     string         `json:"decision,omitempty"`
	Reason       string         `json:"reason,omitempty"`
	UserApproved bool           `json:"user_approved,omitempty"`
}

// AuditLogger appends AuditEvents as newline-delimited JSON through an
// afero.Fs, so tests can swap in an in-memory filesystem instead of
// touching the real disk the way the teacher's fileMonitor tests avoid
// touching real inotify watches.
type AuditLogger struct {
	fs       afero.Fs
	path     string
	enabled  bool
	decisions bool
	usage    bool

	mu sync.Mutex
}

func NewAuditLogger(cfg AuditConfig) (*AuditLogger, error) {
	fs := afero.NewOsFs()
	if cfg.Enabled {
		if err := fs.MkdirAll(filepath.Dir(cfg.OutputPath), 0o750); err != nil {
			return nil, err
		}
	}
	return &AuditLogger{
		fs:        fs,
		path:      cfg.OutputPath,
		enabled:   cfg.Enabled,
		decisions: cfg.LogDecisions,
		usage:     cfg.LogCapabilityUsage,
	}, nil
}

// NewAuditLoggerWithFs lets tests inject an afero.NewMemMapFs() instead
// of touching the real filesystem.
func NewAuditLoggerWithFs(fs afero.Fs, cfg AuditConfig) *AuditLogger {
	return &AuditLogger{fs: fs, path: cfg.OutputPath, enabled: cfg.Enabled, decisions: cfg.LogDecisions, usage: cfg.LogCapabilityUsage}
}

func (al *AuditLogger) Log(event AuditEvent) {
	if !al.enabled {
		return
	}
	if event.Kind == AuditDecision && !al.decisions {
		return
	}
	if event.Kind == AuditCapabilityUsage && !al.usage {
		return
	}
	event.Timestamp = time.Now()

	line, err := json.Marshal(event)
	if err != nil {
		log.WithError(err).Warn("failed to marshal audit event")
		return
	}
	line = append(line, '\n')

	al.mu.Lock()
	defer al.mu.Unlock()

	f, err := al.fs.OpenFile(al.path, osAppendFlags, 0o640)
	if err != nil {
		log.WithError(err).WithField("path", al.path).Warn("failed to open audit log")
		return
	}
	defer f.Close()
	if _, err := f.Write(line); err != nil {
		log.WithError(err).Warn("failed to write audit event")
	}
}
