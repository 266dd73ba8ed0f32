//
// Copyright 2023 Nestybox Inc.
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
	"fmt"
	"os"
	"testing"
	"time"
)

func containsName(names []string, name string) bool {
	for _, n := range names {
		if n == name {
			return true
		}
	}
	return false
}

func TestOneRemovalPerInterval(t *testing.T) {
	numFiles := 5

	tmpFiles := []string{}
	for i := 0; i < numFiles; i++ {
		file, err := os.CreateTemp("", "fileMonTest")
		if err != nil {
			t.Fatal(err)
		}
		defer os.Remove(file.Name())
		tmpFiles = append(tmpFiles, file.Name())
	}

	pollInterval := 100 * time.Millisecond
	cfg := Cfg{EventBufSize: 10, PollInterval: pollInterval}
	fm, err := New(&cfg)
	if err != nil {
		t.Fatal(err)
	}

	for _, file := range tmpFiles {
		fm.Add(file)
	}
	fileEvents := fm.Events()

	for _, file := range tmpFiles {
		if err := os.Remove(file); err != nil {
			t.Fatal(err)
		}
		time.Sleep(pollInterval)
		events := <-fileEvents
		if len(events) != 1 {
			t.Fatalf("incorrect events list size: want 1, got %d (%+v)", len(events), events)
		}
		e := events[0]
		if e.Filename != file {
			t.Fatalf("incorrect event file name: want %s, got %s", file, e.Filename)
		}
		if e.Kind != Removed {
			t.Fatalf("expected Removed event, got %v", e.Kind)
		}
		if e.Err != nil {
			t.Fatalf("event has error: %s", e.Err)
		}
	}

	fm.Close()
}

func TestMultiRemovalPerInterval(t *testing.T) {
	numFiles := 5

	tmpFiles := []string{}
	for i := 0; i < numFiles; i++ {
		file, err := os.CreateTemp("", "fileMonTest")
		if err != nil {
			t.Fatal(err)
		}
		defer os.Remove(file.Name())
		tmpFiles = append(tmpFiles, file.Name())
	}

	pollInterval := 100 * time.Millisecond
	cfg := Cfg{EventBufSize: 10, PollInterval: pollInterval}
	fm, err := New(&cfg)
	if err != nil {
		t.Fatal(err)
	}

	for _, file := range tmpFiles {
		fm.Add(file)
	}
	fileEvents := fm.Events()

	time.Sleep(pollInterval)
	for _, file := range tmpFiles {
		if err := os.Remove(file); err != nil {
			t.Fatal(err)
		}
	}

	time.Sleep(2 * pollInterval)

	events := []Event{}
	for {
		events = append(events, <-fileEvents...)
		numEvents := len(events)
		if numEvents == numFiles {
			break
		} else if numEvents > numFiles {
			t.Fatalf("got more file removal events than files (want %d, got %d)", numFiles, numEvents)
		}
	}

	for _, e := range events {
		if !containsName(tmpFiles, e.Filename) {
			t.Fatalf("event %+v does not match a removed file", e)
		}
		if e.Err != nil {
			t.Fatalf("event has error: %s", e.Err)
		}
	}

	fm.Close()
}

func TestSymlinkedFileRemoval(t *testing.T) {
	numFiles := 5
	tmpFiles := []string{}
	symlinks := []string{}

	for i := 0; i < numFiles; i++ {
		file, err := os.CreateTemp("", "fileMonTest")
		if err != nil {
			t.Fatal(err)
		}
		defer os.Remove(file.Name())

		link := fmt.Sprintf("symlink%d", i)
		if err := os.Symlink(file.Name(), link); err != nil {
			t.Fatal(err)
		}
		defer os.Remove(link)

		tmpFiles = append(tmpFiles, file.Name())
		symlinks = append(symlinks, link)
	}

	pollInterval := 100 * time.Millisecond
	cfg := Cfg{EventBufSize: 10, PollInterval: pollInterval}
	fm, err := New(&cfg)
	if err != nil {
		t.Fatal(err)
	}

	for _, file := range symlinks {
		fm.Add(file)
	}
	fileEvents := fm.Events()

	for i := 0; i < numFiles; i++ {
		file := tmpFiles[i]
		link := symlinks[i]

		if err := os.Remove(file); err != nil {
			t.Fatal(err)
		}
		time.Sleep(pollInterval)
		events := <-fileEvents
		if len(events) != 1 {
			t.Fatalf("incorrect events list size: want 1, got %d (%+v)", len(events), events)
		}
		e := events[0]
		if e.Filename != link {
			t.Fatalf("incorrect event file name: want %s, got %s", link, e.Filename)
		}
		if e.Err != nil {
			t.Fatalf("event has error: %s", e.Err)
		}
	}

	fm.Close()
}

func TestEventRemoval(t *testing.T) {
	numFiles := 5

	tmpFiles := []string{}
	for i := 0; i < numFiles; i++ {
		file, err := os.CreateTemp("", "fileMonTest")
		if err != nil {
			t.Fatal(err)
		}
		defer os.Remove(file.Name())
		tmpFiles = append(tmpFiles, file.Name())
	}

	pollInterval := 100 * time.Millisecond
	cfg := Cfg{EventBufSize: 10, PollInterval: pollInterval}
	fm, err := New(&cfg)
	if err != nil {
		t.Fatal(err)
	}

	for _, file := range tmpFiles {
		fm.Add(file)
	}
	fileEvents := fm.Events()

	last := len(tmpFiles) - 1
	lastFile := tmpFiles[last]
	fm.Remove(lastFile)

	for _, file := range tmpFiles {
		if err := os.Remove(file); err != nil {
			t.Fatal(err)
		}
	}

	time.Sleep(2 * pollInterval)

	events := []Event{}
	for {
		events = append(events, <-fileEvents...)
		numEvents := len(events)
		if numEvents == numFiles-1 {
			break
		} else if numEvents > numFiles-1 {
			t.Fatalf("got more file removal events than files (want %d, got %d)", numFiles-1, numEvents)
		}
	}

	for _, e := range events {
		if e.Filename == lastFile {
			t.Fatalf("event %+v should not have been received", e)
		}
	}

	fm.Close()
}

func TestEventOnNonExistentFile(t *testing.T) {
	pollInterval := 100 * time.Millisecond
	cfg := Cfg{EventBufSize: 10, PollInterval: pollInterval}
	fm, err := New(&cfg)
	if err != nil {
		t.Fatal(err)
	}

	file := "/tmp/__doesnotexist__"
	fm.Add(file)

	events := <-fm.Events()

	if len(events) != 1 {
		t.Fatalf("incorrect number of events; want 1, got %d (%+v)", len(events), events)
	}

	e := events[0]
	if e.Filename != file {
		t.Fatalf("incorrect event filename: want %s, got %s", file, e.Filename)
	}
	if e.Kind != Removed {
		t.Fatalf("expected Removed event, got %v", e.Kind)
	}

	fm.Close()
}

func TestContentChangeDetected(t *testing.T) {
	file, err := os.CreateTemp("", "fileMonChangeTest")
	if err != nil {
		t.Fatal(err)
	}
	defer os.Remove(file.Name())
	file.Close()

	pollInterval := 100 * time.Millisecond
	cfg := Cfg{EventBufSize: 10, PollInterval: pollInterval}
	fm, err := New(&cfg)
	if err != nil {
		t.Fatal(err)
	}
	defer fm.Close()

	fm.Add(file.Name())
	fileEvents := fm.Events()

	time.Sleep(pollInterval)
	if err := os.WriteFile(file.Name(), []byte("reloaded policy"), 0o644); err != nil {
		t.Fatal(err)
	}

	events := <-fileEvents
	if len(events) != 1 || events[0].Kind != Changed {
		t.Fatalf("expected one Changed event, got %+v", events)
	}
}
