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
	"bytes"
	"io"
	"os"
)

// ReverseLineScanner reads complete lines physically backward from the end
// of a file in fixed-size chunks, reassembling line boundaries across chunk
// edges. I/O stays bounded regardless of file size: one chunk per refill.
//
// The scanner holds its own file handle and offset; it never interferes with
// the live tailer's cursor into the same file.
type ReverseLineScanner struct {
	f         *os.File
	pos       int64 // next read ends at this offset
	chunkSize int
	carry     []byte   // bytes preceding the earliest boundary seen so far
	pending   []string // complete lines ready to emit, newest first
}

// NewReverseLineScanner opens path for backward scanning from end-of-file.
func NewReverseLineScanner(path string, chunkSize int) (*ReverseLineScanner, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	st, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, err
	}
	return &ReverseLineScanner{
		f:         f,
		pos:       st.Size(),
		chunkSize: chunkSize,
	}, nil
}

// Next returns the next line moving backward through the file (newest line
// first). io.EOF signals the beginning of the file has been passed.
func (r *ReverseLineScanner) Next() (string, error) {
	for len(r.pending) == 0 {
		if r.pos == 0 {
			if r.carry != nil {
				line := string(r.carry)
				r.carry = nil
				return line, nil
			}
			return "", io.EOF
		}

		readSize := int64(r.chunkSize)
		if readSize > r.pos {
			readSize = r.pos
		}
		buf := make([]byte, readSize)
		if _, err := r.f.ReadAt(buf, r.pos-readSize); err != nil {
			return "", err
		}
		r.pos -= readSize

		data := buf
		if len(r.carry) > 0 {
			data = append(buf, r.carry...)
		}

		idx := bytes.IndexByte(data, '\n')
		if idx == -1 {
			// No boundary in this chunk; everything joins the carry.
			r.carry = data
			continue
		}
		r.carry = data[:idx]

		// Everything after the first boundary splits into complete lines.
		// The final segment is complete too: its terminator (or EOF) was
		// handled on an earlier, later-in-file chunk.
		segs := bytes.Split(data[idx+1:], []byte{'\n'})
		for i := len(segs) - 1; i >= 0; i-- {
			r.pending = append(r.pending, string(segs[i]))
		}
	}

	line := r.pending[0]
	r.pending = r.pending[1:]
	return line, nil
}

// Close releases the underlying file handle.
func (r *ReverseLineScanner) Close() error {
	return r.f.Close()
}
