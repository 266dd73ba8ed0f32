//
// Copyright 2023 Nestybox, Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//    https://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.
//

package fileMonitor

import (
	"os"
	"time"
)

// fileMon is the background goroutine started by New; it polls every
// watched path on cfg.PollInterval until Close is called.
func fileMon(fm *FileMon) {
	ticker := time.NewTicker(fm.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-fm.stopCh:
			return
		case <-ticker.C:
			checkFiles(fm)
		}
	}
}

func checkFiles(fm *FileMon) {
	var fired []Event

	fm.mu.Lock()
	for filename, prev := range fm.table {
		st, err := statState(filename)
		switch {
		case os.IsNotExist(err):
			fired = append(fired, Event{Filename: filename, Kind: Removed})
			delete(fm.table, filename)
		case err != nil:
			fired = append(fired, Event{Filename: filename, Kind: Removed, Err: err})
		case st != prev:
			fired = append(fired, Event{Filename: filename, Kind: Changed})
			fm.table[filename] = st
		}
	}
	fm.mu.Unlock()

	// release the lock before sending so a blocked event channel
	// doesn't stall new Add/Remove calls.
	if len(fired) > 0 {
		fm.eventCh <- fired
	}
}
