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

// Tailer holds a read cursor into the active order log file and emits newly
// appended complete lines across rotations.
//
// # Operational Overview
//
// The tailer polls the held file on a fixed cadence, reads the byte range
// between its offset and the file's current size, splits on newlines, and
// keeps the trailing fragment for the next read. Two independent mechanisms
// keep the cursor on the active file: an fsnotify subscription on the hourly
// directory tree, and a periodic fallback re-scan through the Locator for
// kernels and network filesystems that drop notifications.
//
// Cursor model: on every file acquisition the offset initializes to the
// file's end, so historical content is never re-ingested. Truncation below
// the held offset resets the cursor to the new end; the tailer never rewinds.
package feed

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"syscall"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
	"go.uber.org/atomic"
)

// maxReadPerCycle bounds the bytes consumed in one poll so a burst of
// appends cannot balloon a single read buffer.
const maxReadPerCycle = 1 << 20

// TailerConfig carries the tailer's tuning knobs.
type TailerConfig struct {
	PollInterval   time.Duration // cadence between reads of the held file
	RescanInterval time.Duration // fallback locator re-scan cadence
	QueueSize      int           // capacity of the line hand-off channel
}

// Tailer produces a lazy ordered stream of newly appended lines.
type Tailer struct {
	locator  *Locator
	cfg      TailerConfig
	out      chan string
	cleanup  chan struct{}
	counters *Counters
	log      zerolog.Logger

	path     string
	file     *os.File
	offset   *atomic.Int64
	leftover []byte
}

// NewTailer creates a Tailer that resolves files through locator.
func NewTailer(locator *Locator, cfg TailerConfig, counters *Counters, log zerolog.Logger) *Tailer {
	return &Tailer{
		locator:  locator,
		cfg:      cfg,
		out:      make(chan string, cfg.QueueSize),
		cleanup:  make(chan struct{}, 1),
		counters: counters,
		log:      log.With().Str("component", "tailer").Logger(),
		offset:   atomic.NewInt64(0),
	}
}

// Lines is the ordered stream of complete lines. The channel closes when Run
// returns.
func (t *Tailer) Lines() <-chan string {
	return t.out
}

// CleanupRequests signals the housekeeping collaborator when the tailer hits
// "no space left on device". At most one signal is pending at a time.
func (t *Tailer) CleanupRequests() <-chan struct{} {
	return t.cleanup
}

// Offset returns the current byte offset into the held file.
func (t *Tailer) Offset() int64 {
	return t.offset.Load()
}

// Path returns the currently held file path, which may be empty before the
// first acquisition.
func (t *Tailer) Path() string {
	return t.path
}

// Run drives the tail loop until ctx is canceled. The loop never terminates
// itself: every I/O failure is retried with bounded backoff, rotation and
// truncation are handled in place, and absence of an active file is an idle
// state, not an error.
func (t *Tailer) Run(ctx context.Context) error {
	defer close(t.out)
	defer t.closeFile()

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		// Fallback re-scan still covers rotation; degrade, don't fail.
		t.log.Warn().Err(err).Msg("fsnotify unavailable; relying on fallback re-scan")
		watcher = nil
	} else {
		defer watcher.Close()
	}

	if err := t.acquire(ctx, watcher); err != nil {
		return err
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 10 * time.Millisecond
	bo.MaxInterval = 2 * time.Second
	bo.MaxElapsedTime = 0 // retry forever; shutdown is ctx's job

	poll := time.NewTicker(t.cfg.PollInterval)
	defer poll.Stop()
	rescan := time.NewTicker(t.cfg.RescanInterval)
	defer rescan.Stop()

	var events chan fsnotify.Event
	var watchErrs chan error
	if watcher != nil {
		events = watcher.Events
		watchErrs = watcher.Errors
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev := <-events:
			if ev.Op&fsnotify.Create != 0 {
				t.maybeRotate(watcher)
			}
		case err := <-watchErrs:
			t.log.Debug().Err(err).Msg("fsnotify error")
		case <-rescan.C:
			t.maybeRotate(watcher)
		case <-poll.C:
			if err := t.readOnce(ctx, watcher); err != nil {
				if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
					return err
				}
				t.backOff(ctx, err, bo)
			} else {
				bo.Reset()
			}
		}
	}
}

// acquire blocks until the locator resolves an active file or ctx ends.
func (t *Tailer) acquire(ctx context.Context, watcher *fsnotify.Watcher) error {
	for {
		path, err := t.locator.ActiveFile()
		if err == nil {
			if err := t.openAt(path, watcher); err == nil {
				return nil
			}
		} else if !errors.Is(err, ErrNoActiveFile) {
			t.log.Warn().Err(err).Msg("locating active file")
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(t.cfg.PollInterval):
		}
	}
}

// openAt transfers the cursor to path with the offset at end-of-file.
// Startup catch-up is deliberately out of scope: only bytes appended after
// acquisition flow downstream.
func (t *Tailer) openAt(path string, watcher *fsnotify.Watcher) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	st, err := f.Stat()
	if err != nil {
		f.Close()
		return err
	}

	t.closeFile()
	t.file = f
	t.path = path
	t.offset.Store(st.Size())
	t.leftover = nil

	if watcher != nil {
		// Watch both the hourly root (new date dirs) and the current date
		// dir (new hour files). Re-adding an existing watch is harmless.
		_ = watcher.Add(t.locator.HourlyDir())
		_ = watcher.Add(filepath.Dir(path))
	}

	t.log.Info().Str("path", path).Int64("offset", st.Size()).Msg("tailing")
	return nil
}

func (t *Tailer) closeFile() {
	if t.file != nil {
		t.file.Close()
		t.file = nil
	}
}

// maybeRotate re-resolves the active file and performs a handover when it
// differs from the held path. Absence means "awaiting current file": the
// held cursor keeps polling until a new file appears.
func (t *Tailer) maybeRotate(watcher *fsnotify.Watcher) {
	path, err := t.locator.ActiveFile()
	if err != nil {
		if !errors.Is(err, ErrNoActiveFile) {
			t.log.Warn().Err(err).Msg("re-resolving active file")
		}
		return
	}
	if path == t.path {
		return
	}

	t.counters.Rotations.Inc()
	t.log.Info().Str("from", t.path).Str("to", path).Msg("rotation handover")
	if err := t.openAt(path, watcher); err != nil {
		t.log.Warn().Err(err).Str("path", path).Msg("opening rotated file")
	}
}

// readOnce stats the held file, reads newly appended bytes, and emits
// complete lines. A shrunken file resets the cursor to the new end.
func (t *Tailer) readOnce(ctx context.Context, watcher *fsnotify.Watcher) error {
	if t.file == nil {
		return t.acquire(ctx, watcher)
	}

	st, err := os.Stat(t.path)
	if err != nil {
		if os.IsNotExist(err) {
			// The held path vanished: treat as rotation.
			t.maybeRotate(watcher)
			return nil
		}
		return err
	}

	size := st.Size()
	off := t.offset.Load()
	switch {
	case size < off:
		t.counters.TruncationResets.Inc()
		t.log.Warn().Str("path", t.path).Int64("offset", off).Int64("size", size).
			Msg("file truncated below offset; resetting to end")
		t.offset.Store(size)
		t.leftover = nil
		return nil
	case size == off:
		return nil
	}

	n := size - off
	if n > maxReadPerCycle {
		n = maxReadPerCycle
	}
	buf := make([]byte, n)
	read, err := t.file.ReadAt(buf, off)
	if read > 0 {
		if emitErr := t.emitLines(ctx, buf[:read]); emitErr != nil {
			return emitErr
		}
		t.offset.Store(off + int64(read))
	}
	if err != nil && err != io.EOF {
		return err
	}
	return nil
}

// emitLines splits the read buffer, prefixed by any leftover fragment, into
// complete lines and sends them downstream in order. The final fragment
// stays in memory for the next read; the offset still advances over it.
func (t *Tailer) emitLines(ctx context.Context, chunk []byte) error {
	data := chunk
	if len(t.leftover) > 0 {
		data = append(t.leftover, chunk...)
	}

	for {
		i := bytes.IndexByte(data, '\n')
		if i < 0 {
			break
		}
		line := string(data[:i])
		data = data[i+1:]
		if line == "" {
			continue
		}
		select {
		case t.out <- line:
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	// Copy the remainder: data aliases the read buffer.
	if len(data) > 0 {
		t.leftover = append([]byte(nil), data...)
	} else {
		t.leftover = nil
	}
	return nil
}

// backOff sleeps between retries of a failed iteration. Disk exhaustion
// additionally signals the housekeeping collaborator before the retry.
func (t *Tailer) backOff(ctx context.Context, err error, bo backoff.BackOff) {
	if errors.Is(err, syscall.ENOSPC) {
		t.log.Error().Err(err).Msg("disk full; requesting emergency cleanup")
		select {
		case t.cleanup <- struct{}{}:
		default: // a request is already pending
		}
	} else {
		t.log.Warn().Err(err).Msg("transient tail error; backing off")
	}

	wait := bo.NextBackOff()
	if wait == backoff.Stop {
		wait = time.Second
	}
	select {
	case <-ctx.Done():
	case <-time.After(wait):
	}
}
