/**
 * Copyright 2025-present Coinbase Global, Inc.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *  http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package feed

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func appendToFile(t *testing.T, path, content string) {
	t.Helper()
	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		t.Fatalf("open for append: %v", err)
	}
	defer f.Close()
	if _, err := f.WriteString(content); err != nil {
		t.Fatalf("append: %v", err)
	}
}

// startTailer runs a tailer against root with fast tick intervals and returns
// it with a cancel func.
func startTailer(t *testing.T, root string) (*Tailer, *Counters, context.CancelFunc) {
	t.Helper()
	counters := NewCounters()
	tailer := NewTailer(NewLocator(root), TailerConfig{
		PollInterval:   2 * time.Millisecond,
		RescanInterval: 10 * time.Millisecond,
		QueueSize:      64,
	}, counters, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	go func() { _ = tailer.Run(ctx) }()
	return tailer, counters, cancel
}

// receiveLine waits for one line from the tailer or fails.
func receiveLine(t *testing.T, tailer *Tailer) string {
	t.Helper()
	select {
	case line := <-tailer.Lines():
		return line
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for line")
		return ""
	}
}

// expectNoLine asserts nothing arrives within the window.
func expectNoLine(t *testing.T, tailer *Tailer, window time.Duration) {
	t.Helper()
	select {
	case line := <-tailer.Lines():
		t.Fatalf("unexpected line: %q", line)
	case <-time.After(window):
	}
}

// waitForPath polls until the tailer holds the given file.
func waitForPath(t *testing.T, tailer *Tailer, path string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if tailer.Path() == path {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("tailer never acquired %s (holding %s)", path, tailer.Path())
}

// TestTailer_TailsFromEnd verifies content present at acquisition is never
// emitted; only appended lines flow downstream.
func TestTailer_TailsFromEnd(t *testing.T) {
	root := t.TempDir()
	path := writeHourFile(t, root, "20260824", "10")
	appendToFile(t, path, "historical line\n")

	tailer, _, cancel := startTailer(t, root)
	defer cancel()
	waitForPath(t, tailer, path)

	expectNoLine(t, tailer, 50*time.Millisecond)

	appendToFile(t, path, "fresh line\n")
	if got := receiveLine(t, tailer); got != "fresh line" {
		t.Errorf("expected fresh line, got %q", got)
	}
}

// TestTailer_EmitsCompleteLinesOnly verifies a trailing fragment is withheld
// until its newline arrives, then emitted whole.
func TestTailer_EmitsCompleteLinesOnly(t *testing.T) {
	root := t.TempDir()
	path := writeHourFile(t, root, "20260824", "10")

	tailer, _, cancel := startTailer(t, root)
	defer cancel()
	waitForPath(t, tailer, path)

	appendToFile(t, path, "first\nsecond-par")
	if got := receiveLine(t, tailer); got != "first" {
		t.Errorf("expected first, got %q", got)
	}
	expectNoLine(t, tailer, 50*time.Millisecond)

	appendToFile(t, path, "tial\n")
	if got := receiveLine(t, tailer); got != "second-partial" {
		t.Errorf("expected reassembled line, got %q", got)
	}
}

// TestTailer_SkipsEmptyLines verifies blank lines are dropped.
func TestTailer_SkipsEmptyLines(t *testing.T) {
	root := t.TempDir()
	path := writeHourFile(t, root, "20260824", "10")

	tailer, _, cancel := startTailer(t, root)
	defer cancel()
	waitForPath(t, tailer, path)

	appendToFile(t, path, "\n\nvisible\n\n")
	if got := receiveLine(t, tailer); got != "visible" {
		t.Errorf("expected visible, got %q", got)
	}
	expectNoLine(t, tailer, 50*time.Millisecond)
}

// TestTailer_TruncationResetsToEnd verifies a shrunken file resets the cursor
// to the new end, counts the reset, and resumes from there.
func TestTailer_TruncationResetsToEnd(t *testing.T) {
	root := t.TempDir()
	path := writeHourFile(t, root, "20260824", "10")

	tailer, counters, cancel := startTailer(t, root)
	defer cancel()
	waitForPath(t, tailer, path)

	appendToFile(t, path, "before truncation\n")
	receiveLine(t, tailer)

	if err := os.Truncate(path, 0); err != nil {
		t.Fatalf("truncate: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for counters.TruncationResets.Load() == 0 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	if counters.TruncationResets.Load() == 0 {
		t.Fatal("expected a truncation reset")
	}

	appendToFile(t, path, "after truncation\n")
	if got := receiveLine(t, tailer); got != "after truncation" {
		t.Errorf("expected post-truncation line, got %q", got)
	}
}

// TestTailer_RotatesToNewHourFile verifies the cursor hands over when a
// greater hour file appears, and keeps emitting from the new file.
func TestTailer_RotatesToNewHourFile(t *testing.T) {
	root := t.TempDir()
	oldPath := writeHourFile(t, root, "20260824", "10")

	tailer, counters, cancel := startTailer(t, root)
	defer cancel()
	waitForPath(t, tailer, oldPath)

	newPath := writeHourFile(t, root, "20260824", "11")
	waitForPath(t, tailer, newPath)

	if counters.Rotations.Load() == 0 {
		t.Error("expected rotation counter increment")
	}

	appendToFile(t, newPath, "from new file\n")
	if got := receiveLine(t, tailer); got != "from new file" {
		t.Errorf("expected line from rotated file, got %q", got)
	}
}

// TestTailer_AcquiresLateFile verifies the tailer idles without a layout and
// acquires the first file that appears.
func TestTailer_AcquiresLateFile(t *testing.T) {
	root := t.TempDir()

	tailer, _, cancel := startTailer(t, root)
	defer cancel()

	time.Sleep(20 * time.Millisecond) // let it spin on ErrNoActiveFile
	path := writeHourFile(t, root, "20260824", "10")
	waitForPath(t, tailer, path)

	appendToFile(t, path, "first ever\n")
	if got := receiveLine(t, tailer); got != "first ever" {
		t.Errorf("expected first ever, got %q", got)
	}
}

// TestTailer_ClosesStreamOnCancel verifies Lines closes after Run returns.
func TestTailer_ClosesStreamOnCancel(t *testing.T) {
	root := t.TempDir()
	path := writeHourFile(t, root, "20260824", "10")

	tailer, _, cancel := startTailer(t, root)
	waitForPath(t, tailer, path)
	cancel()

	deadline := time.After(2 * time.Second)
	for {
		select {
		case _, ok := <-tailer.Lines():
			if !ok {
				return
			}
		case <-deadline:
			t.Fatal("line channel never closed")
		}
	}
}
