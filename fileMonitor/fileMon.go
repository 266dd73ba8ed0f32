// Package fileMonitor notifies a caller when a watched file is removed
// or its contents change. It polls with os.Stat rather than using
// inotify, so it needs no platform-specific wiring.
package fileMonitor

import (
	"fmt"
	"os"
	"sync"
	"time"
)

type Cfg struct {
	EventBufSize int
	PollInterval time.Duration
}

// polling config limits
const (
	PollMin = 1 * time.Millisecond
	PollMax = 10000 * time.Millisecond
)

// EventKind distinguishes why a watched file fired.
type EventKind int

const (
	Removed EventKind = iota
	Changed
)

type Event struct {
	Filename string
	Kind     EventKind
	Err      error
}

type watchState struct {
	modTime time.Time
	size    int64
}

// FileMon polls a set of paths at cfg.PollInterval and reports removal
// or modification events on its Events() channel. Guardian's config
// hot-reload keeps one FileMon per running server watching its policy
// file.
type FileMon struct {
	mu      sync.Mutex
	cfg     Cfg
	table   map[string]watchState
	stopCh  chan struct{}
	eventCh chan []Event
	running bool
}

func New(cfg *Cfg) (*FileMon, error) {
	if err := validateCfg(cfg); err != nil {
		return nil, err
	}

	fm := &FileMon{
		cfg:     *cfg,
		table:   make(map[string]watchState),
		stopCh:  make(chan struct{}),
		eventCh: make(chan []Event, cfg.EventBufSize),
		running: true,
	}

	go fileMon(fm)

	return fm, nil
}

// Add begins watching file for removal or content changes. Calling Add
// again on a path already present resets its baseline mtime/size.
func (fm *FileMon) Add(file string) {
	st, _ := statState(file)
	fm.mu.Lock()
	fm.table[file] = st
	fm.mu.Unlock()
}

func (fm *FileMon) Remove(file string) {
	fm.mu.Lock()
	delete(fm.table, file)
	fm.mu.Unlock()
}

func (fm *FileMon) Events() <-chan []Event {
	return fm.eventCh
}

func (fm *FileMon) Close() {
	fm.mu.Lock()
	running := fm.running
	fm.running = false
	fm.mu.Unlock()
	if running {
		close(fm.stopCh)
	}
}

func validateCfg(cfg *Cfg) error {
	if cfg.PollInterval < PollMin || cfg.PollInterval > PollMax {
		return fmt.Errorf("invalid config: poll interval must be in range [%d, %d]; found %d", PollMin, PollMax, cfg.PollInterval)
	}
	return nil
}

func statState(path string) (watchState, error) {
	fi, err := os.Stat(path)
	if err != nil {
		return watchState{}, err
	}
	return watchState{modTime: fi.ModTime(), size: fi.Size()}, nil
}
