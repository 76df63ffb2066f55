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
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeScanFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "scanfile")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	return path
}

// drainReverse reads every line until EOF.
func drainReverse(t *testing.T, path string, chunkSize int) []string {
	t.Helper()
	scanner, err := NewReverseLineScanner(path, chunkSize)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer scanner.Close()

	var lines []string
	for {
		line, err := scanner.Next()
		if err == io.EOF {
			return lines
		}
		if err != nil {
			t.Fatalf("next: %v", err)
		}
		lines = append(lines, line)
	}
}

// TestReverseLineScanner_NewestFirst verifies lines come back in reverse file
// order regardless of chunk size.
func TestReverseLineScanner_NewestFirst(t *testing.T) {
	path := writeScanFile(t, "one\ntwo\nthree\nfour\n")

	for _, chunkSize := range []int{1, 2, 3, 5, 8, 64, 4096} {
		got := drainReverse(t, path, chunkSize)
		want := []string{"four", "three", "two", "one", ""}
		// The trailing newline yields one empty final segment before the
		// first line; filter empties the way callers do.
		var nonEmpty []string
		for _, l := range got {
			if l != "" {
				nonEmpty = append(nonEmpty, l)
			}
		}
		if len(nonEmpty) != 4 {
			t.Fatalf("chunk %d: expected 4 lines, got %v", chunkSize, got)
		}
		for i, w := range want[:4] {
			if nonEmpty[i] != w {
				t.Errorf("chunk %d position %d: expected %q, got %q", chunkSize, i, w, nonEmpty[i])
			}
		}
	}
}

// TestReverseLineScanner_NoTrailingNewline verifies the final unterminated
// line is still emitted first.
func TestReverseLineScanner_NoTrailingNewline(t *testing.T) {
	path := writeScanFile(t, "alpha\nbeta\ngamma")

	got := drainReverse(t, path, 4)
	if len(got) < 3 {
		t.Fatalf("expected at least 3 lines, got %v", got)
	}
	if got[0] != "gamma" || got[1] != "beta" || got[2] != "alpha" {
		t.Errorf("unexpected order: %v", got)
	}
}

// TestReverseLineScanner_LineLongerThanChunk verifies boundary reassembly
// when a single line spans several chunks.
func TestReverseLineScanner_LineLongerThanChunk(t *testing.T) {
	long := strings.Repeat("x", 100)
	path := writeScanFile(t, "short\n"+long+"\n")

	got := drainReverse(t, path, 8)
	var nonEmpty []string
	for _, l := range got {
		if l != "" {
			nonEmpty = append(nonEmpty, l)
		}
	}
	if len(nonEmpty) != 2 {
		t.Fatalf("expected 2 lines, got %v", nonEmpty)
	}
	if nonEmpty[0] != long {
		t.Errorf("expected the long line first, got %q", nonEmpty[0])
	}
	if nonEmpty[1] != "short" {
		t.Errorf("expected short second, got %q", nonEmpty[1])
	}
}

// TestReverseLineScanner_EmptyFile verifies immediate EOF.
func TestReverseLineScanner_EmptyFile(t *testing.T) {
	path := writeScanFile(t, "")
	scanner, err := NewReverseLineScanner(path, 64)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer scanner.Close()

	if _, err := scanner.Next(); err != io.EOF {
		t.Errorf("expected io.EOF, got %v", err)
	}
}

// TestReverseLineScanner_SingleLine verifies a one-line file without a
// terminator.
func TestReverseLineScanner_SingleLine(t *testing.T) {
	path := writeScanFile(t, "only")

	got := drainReverse(t, path, 64)
	if len(got) != 1 || got[0] != "only" {
		t.Errorf("expected [only], got %v", got)
	}
}
