package guardian

import (
	"sync/atomic"
	"time"

	"github.com/nyxkernel/corekernel/fileMonitor"
)

// reloadPollInterval: a config file changes far less often than an IRQ
// fires, so sub-second polling is plenty responsive without
// busy-looping.
const reloadPollInterval = 500 * time.Millisecond

// ConfigWatcher polls a Guardian policy file with fileMonitor and swaps
// in a freshly loaded DecisionEngine whenever it changes, the same
// "hot config" role ReqReloadConfig exposes over the wire.
type ConfigWatcher struct {
	path       string
	permissive bool
	engine     atomic.Pointer[DecisionEngine]
	fm         *fileMonitor.FileMon
	audit      *AuditLogger
}

// WatchConfig starts polling path for changes and returns a
// ConfigWatcher whose Engine() always returns the most recently loaded
// DecisionEngine. audit is reused across reloads so the audit trail
// survives a policy swap.
func WatchConfig(path string, audit *AuditLogger, permissive bool) (*ConfigWatcher, error) {
	fm, err := fileMonitor.New(&fileMonitor.Cfg{EventBufSize: 8, PollInterval: reloadPollInterval})
	if err != nil {
		return nil, err
	}
	fm.Add(path)

	cw := &ConfigWatcher{path: path, permissive: permissive, fm: fm, audit: audit}
	if err := cw.reload(); err != nil {
		fm.Close()
		return nil, err
	}

	go cw.run()
	return cw, nil
}

func (cw *ConfigWatcher) run() {
	for evs := range cw.fm.Events() {
		for _, ev := range evs {
			if ev.Filename != cw.path {
				continue
			}
			if ev.Kind == fileMonitor.Changed {
				if err := cw.reload(); err != nil {
					log.WithField("path", cw.path).WithError(err).Warn("config reload failed, keeping previous engine")
				} else {
					log.WithField("path", cw.path).Info("reloaded guardian configuration")
				}
			}
			// Removed is not re-added: a deleted policy file leaves the
			// last-known-good engine in place rather than falling back
			// to defaults underneath a running daemon.
		}
	}
}

func (cw *ConfigWatcher) reload() error {
	cfg, err := LoadConfig(cw.path)
	if err != nil {
		return err
	}

	policy, err := NewPolicyEngine(cfg.Policies)
	if err != nil {
		return err
	}
	intent, err := NewIntentAnalyzer(cfg.Intent)
	if err != nil {
		return err
	}
	pattern, err := NewPatternLearner(cfg.Patterns)
	if err != nil {
		return err
	}

	cw.engine.Store(NewDecisionEngine(policy, intent, pattern, cw.audit, cw.permissive))
	return nil
}

// Engine returns the DecisionEngine built from the most recently loaded
// configuration.
func (cw *ConfigWatcher) Engine() *DecisionEngine {
	return cw.engine.Load()
}

// Close stops the underlying poller.
func (cw *ConfigWatcher) Close() {
	cw.fm.Close()
}
