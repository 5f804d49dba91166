// Copyright 2026 University of Oslo
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package resumable

import (
	"context"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Sweep removes upload directories whose newest chunk is older than
// ttl, across all configured projects. Age is judged by file mtime so
// a restart loses no state.
func (m *Manager) Sweep(ttl time.Duration) (removed int) {
	cutoff := time.Now().Add(-ttl)
	for _, root := range m.roots {
		entries, err := os.ReadDir(root)
		if err != nil {
			continue
		}
		for _, e := range entries {
			if !e.IsDir() {
				continue
			}
			if _, err := uuid.Parse(e.Name()); err != nil {
				continue
			}
			dir := filepath.Join(root, e.Name())
			if newestMtime(dir).After(cutoff) {
				continue
			}
			l := m.lock(e.Name())
			l.Lock()
			err := os.RemoveAll(dir)
			l.Unlock()
			if err == nil {
				removed++
				m.mu.Lock()
				delete(m.locks, e.Name())
				m.mu.Unlock()
			}
		}
	}
	return removed
}

func newestMtime(dir string) time.Time {
	newest := time.Time{}
	if st, err := os.Stat(dir); err == nil {
		newest = st.ModTime()
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return newest
	}
	for _, e := range entries {
		st, err := e.Info()
		if err != nil {
			continue
		}
		if st.ModTime().After(newest) {
			newest = st.ModTime()
		}
	}
	return newest
}

// RunSweeper sweeps on a fixed interval until the context is done.
func (m *Manager) RunSweeper(ctx context.Context, log zerolog.Logger, interval, ttl time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := m.Sweep(ttl); n > 0 {
				log.Info().Int("removed", n).Msg("swept expired resumable uploads")
			}
		}
	}
}
