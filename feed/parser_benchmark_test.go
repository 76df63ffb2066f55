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
	"strconv"
	"testing"

	"github.com/rs/zerolog"
)

// BenchmarkParseLine_Valid measures the full decode path on a well-formed
// order-status line with memoization disabled.
func BenchmarkParseLine_Valid(b *testing.B) {
	p := NewParser(NewCounters(), 0, zerolog.Nop())

	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if out := p.ParseLine(validLine); out.Event == nil {
			b.Fatalf("unexpected skip %q", out.Skip)
		}
	}
}

// BenchmarkParseLine_Cached measures the memoized path on repeated identical
// lines, the common shape during bursts of duplicate writes.
func BenchmarkParseLine_Cached(b *testing.B) {
	p := NewParser(NewCounters(), 1024, zerolog.Nop())
	p.ParseLine(validLine)

	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if out := p.ParseLine(validLine); out.Event == nil {
			b.Fatalf("unexpected skip %q", out.Skip)
		}
	}
}

// BenchmarkParseLine_PreFilterReject measures the cheap rejection path on
// lines that never reach the decoder.
func BenchmarkParseLine_PreFilterReject(b *testing.B) {
	p := NewParser(NewCounters(), 0, zerolog.Nop())
	line := `{"heartbeat":1724495730}`

	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if out := p.ParseLine(line); out.Skip != SkipPreFilter {
			b.Fatalf("unexpected outcome %q", out.Skip)
		}
	}
}

// BenchmarkParseLine_UniqueLines measures throughput when every line is
// distinct, the worst case for the memoization cache.
func BenchmarkParseLine_UniqueLines(b *testing.B) {
	p := NewParser(NewCounters(), 1024, zerolog.Nop())
	lines := make([]string, 4096)
	for i := range lines {
		lines[i] = `{"time":"2026-08-24T10:15:30.1","user":"0xabc","status":"open","order":{"oid":` +
			strconv.Itoa(i+1) + `,"coin":"BTC","side":"B","limitPx":"100","origSz":"1"}}`
	}

	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if out := p.ParseLine(lines[i%len(lines)]); out.Event == nil {
			b.Fatalf("unexpected skip %q", out.Skip)
		}
	}
}
