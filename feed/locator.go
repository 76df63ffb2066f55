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
	"errors"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"time"

	"node-order-feed-go/constants"
)

// ErrNoActiveFile reports that no order log file currently exists under the
// configured root. Callers treat it as "try again later", never as fatal.
var ErrNoActiveFile = errors.New("no active order log file")

// Locator resolves the single file the node is currently appending to under
// the <root>/node_order_statuses/hourly/<YYYYMMDD>/<H> layout.
//
// The locator is stateless and safe for concurrent calls. It performs no
// caching: every call is a fresh directory scan so rotation is picked up
// immediately.
type Locator struct {
	root string
}

// NewLocator creates a Locator rooted at the node's data directory.
func NewLocator(root string) *Locator {
	return &Locator{root: root}
}

// HourlyDir returns the directory the hourly date partitions live under.
func (l *Locator) HourlyDir() string {
	return filepath.Join(l.root, constants.OrderStatusDirName, constants.HourlyDirName)
}

// ActiveFile returns the path of the current file: the lexicographically
// greatest valid date directory, then the numerically greatest valid hour
// file within it. Non-matching names are ignored silently; a date directory
// with no valid hour files falls back to the next-earlier date.
func (l *Locator) ActiveFile() (string, error) {
	hourly := l.HourlyDir()
	entries, err := os.ReadDir(hourly)
	if err != nil {
		if os.IsNotExist(err) {
			return "", ErrNoActiveFile
		}
		return "", err
	}

	dates := make([]string, 0, len(entries))
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		if _, err := time.Parse(constants.DateDirLayout, e.Name()); err != nil {
			continue
		}
		dates = append(dates, e.Name())
	}
	sort.Sort(sort.Reverse(sort.StringSlice(dates)))

	for _, date := range dates {
		if path, ok := l.latestHourFile(filepath.Join(hourly, date)); ok {
			return path, nil
		}
	}
	return "", ErrNoActiveFile
}

// latestHourFile returns the file with the numerically greatest hour name in
// [0, 23] within dir, if any.
func (l *Locator) latestHourFile(dir string) (string, bool) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return "", false
	}

	best := -1
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		hour, err := strconv.Atoi(e.Name())
		if err != nil || hour < 0 || hour > constants.MaxHour {
			continue
		}
		// Reject zero-padded names: the node writes "7", never "07".
		if e.Name() != strconv.Itoa(hour) {
			continue
		}
		if hour > best {
			best = hour
		}
	}
	if best < 0 {
		return "", false
	}
	return filepath.Join(dir, strconv.Itoa(best)), true
}
