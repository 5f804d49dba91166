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

// Package resumable manages multi-request uploads. The ledger is
// filesystem-native: each chunk lives at
// <uploads_root[pnum]>/<upload_id>/<filename>.chunk.<n>, so state is
// recoverable after a crash without any database. A per-upload mutex
// serializes ledger mutations; it is never held across network reads.
package resumable

import (
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/unioslo/tsd-file-api/pkg/crypto"
	"github.com/unioslo/tsd-file-api/pkg/errtypes"
	"github.com/unioslo/tsd-file-api/pkg/sink"
)

const (
	chunkInfix    = ".chunk."
	abortedMarker = ".aborted"
	ownerMarker   = ".owner"
)

// Info describes the state of a resumable upload as reported to
// clients. MaxChunk is the highest chunk received as part of a
// contiguous 1..n prefix; chunks stored beyond a gap do not advance it.
type Info struct {
	ID        string `json:"id"`
	Filename  string `json:"filename"`
	MaxChunk  int    `json:"max_chunk"`
	ChunkSize int64  `json:"chunk_size"`
	MD5Sum    string `json:"md5sum"`
	TotalSize int64  `json:"total_size"`
}

// Manager owns the chunk directories and the per-upload locks.
type Manager struct {
	roots map[string]string

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// New returns a Manager over the per-project uploads roots.
func New(roots map[string]string) *Manager {
	return &Manager{roots: roots, locks: map[string]*sync.Mutex{}}
}

func (m *Manager) lock(id string) *sync.Mutex {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.locks[id]
	if !ok {
		l = &sync.Mutex{}
		m.locks[id] = l
	}
	return l
}

func (m *Manager) root(pnum string) (string, error) {
	root, ok := m.roots[pnum]
	if !ok {
		return "", errtypes.InvalidPath(pnum + " has no uploads directory configured")
	}
	return root, nil
}

func (m *Manager) dir(pnum, id string) (string, error) {
	root, err := m.root(pnum)
	if err != nil {
		return "", err
	}
	if _, err := uuid.Parse(id); err != nil {
		return "", errtypes.ResumableNotFound(id + " is not a valid upload id")
	}
	return filepath.Join(root, id), nil
}

// Append stores chunk seq of the named upload, on behalf of user. An
// empty id allocates a new upload owned by user; appending to an
// upload owned by someone else fails as if it did not exist. The chunk
// is streamed to a temp name without holding the upload lock; only the
// rename into the ledger and the ledger scan are serialized.
func (m *Manager) Append(pnum, user, id, filename string, seq int, body io.Reader) (Info, error) {
	if seq < 1 {
		return Info{}, errtypes.InvalidPath("chunk numbers start at 1")
	}
	if id == "" {
		id = uuid.NewString()
		root, err := m.root(pnum)
		if err != nil {
			return Info{}, err
		}
		dir := filepath.Join(root, id)
		if err := os.MkdirAll(dir, 0o2770); err != nil {
			return Info{}, errtypes.IOError(err.Error())
		}
		if err := os.WriteFile(filepath.Join(dir, ownerMarker), []byte(user), 0o640); err != nil {
			return Info{}, errtypes.IOError(err.Error())
		}
	}
	dir, err := m.dir(pnum, id)
	if err != nil {
		return Info{}, err
	}
	if st, err := os.Stat(dir); err != nil || !st.IsDir() {
		return Info{}, errtypes.ResumableNotFound(id)
	}
	if !ownedBy(dir, user) {
		return Info{}, errtypes.ResumableNotFound(id)
	}
	if aborted(dir) {
		return Info{}, errtypes.ResumableNotFound(id + " was aborted")
	}

	chunk := filepath.Join(dir, filename+chunkInfix+strconv.Itoa(seq))
	part := chunk + ".part"
	f, err := os.OpenFile(part, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o640)
	if err != nil {
		return Info{}, errtypes.IOError(err.Error())
	}
	_, copyErr := io.Copy(f, body)
	closeErr := f.Close()
	if copyErr != nil || closeErr != nil {
		// only this chunk is lost; the resumable stays recoverable
		os.Remove(part)
		if copyErr == nil {
			copyErr = closeErr
		}
		return Info{}, errors.Wrap(copyErr, "resumable: chunk write failed")
	}

	l := m.lock(id)
	l.Lock()
	defer l.Unlock()
	if err := os.Rename(part, chunk); err != nil {
		os.Remove(part)
		return Info{}, errtypes.IOError(err.Error())
	}
	return m.scan(dir, id, filename)
}

// Find returns the state of one of user's uploads, matched by id when
// given, otherwise by filename across the project's open uploads.
func (m *Manager) Find(pnum, user, id, filename string) (Info, error) {
	if id != "" {
		dir, err := m.dir(pnum, id)
		if err != nil {
			return Info{}, err
		}
		if _, err := os.Stat(dir); err != nil || !ownedBy(dir, user) || aborted(dir) {
			return Info{}, errtypes.ResumableNotFound(id)
		}
		return m.scan(dir, id, filename)
	}

	uploads, err := m.List(pnum, user)
	if err != nil {
		return Info{}, err
	}
	for _, u := range uploads {
		if filename == "" || u.Filename == filename {
			return u, nil
		}
	}
	return Info{}, errtypes.ResumableNotFound(filename)
}

// List returns user's open uploads in a project, most recent first.
func (m *Manager) List(pnum, user string) ([]Info, error) {
	root, err := m.root(pnum)
	if err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(root)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, errtypes.IOError(err.Error())
	}
	type aged struct {
		info  Info
		mtime int64
	}
	var found []aged
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		if _, err := uuid.Parse(e.Name()); err != nil {
			continue
		}
		dir := filepath.Join(root, e.Name())
		if !ownedBy(dir, user) || aborted(dir) {
			continue
		}
		info, err := m.scan(dir, e.Name(), "")
		if err != nil {
			continue
		}
		st, err := e.Info()
		if err != nil {
			continue
		}
		found = append(found, aged{info: info, mtime: st.ModTime().UnixNano()})
	}
	sort.Slice(found, func(i, j int) bool { return found[i].mtime > found[j].mtime })
	out := make([]Info, 0, len(found))
	for _, f := range found {
		out = append(out, f.info)
	}
	return out, nil
}

// Merge concatenates chunks 1..MaxChunk in order into dest through an
// atomic sink, then destroys the chunk directory. Only user's own
// uploads can be finalized. If contentMD5 is non-empty and does not
// match the merged bytes, nothing is committed, the upload is marked
// aborted and ChecksumMismatch is returned.
func (m *Manager) Merge(pnum, user, id, filename, dest string, owner sink.Owner, contentMD5 string) (Info, error) {
	dir, err := m.dir(pnum, id)
	if err != nil {
		return Info{}, err
	}
	if _, err := os.Stat(dir); err != nil || !ownedBy(dir, user) || aborted(dir) {
		return Info{}, errtypes.ResumableNotFound(id)
	}

	l := m.lock(id)
	l.Lock()
	defer l.Unlock()

	info, err := m.scan(dir, id, filename)
	if err != nil {
		return Info{}, err
	}
	chunks, err := m.chunkPaths(dir, info.Filename)
	if err != nil {
		return Info{}, err
	}
	if len(chunks) != info.MaxChunk {
		return Info{}, errtypes.InvalidPath("chunk sequence has gaps")
	}

	s, err := sink.New(dest, owner)
	if err != nil {
		return Info{}, err
	}
	md5w := crypto.NewMD5Sink(s)
	for seq := 1; seq <= info.MaxChunk; seq++ {
		f, err := os.Open(chunks[seq])
		if err != nil {
			s.Abort()
			return Info{}, errtypes.IOError(err.Error())
		}
		_, err = io.Copy(md5w, f)
		f.Close()
		if err != nil {
			s.Abort()
			return Info{}, errtypes.IOError(err.Error())
		}
	}
	if contentMD5 != "" && md5w.Sum() != contentMD5 {
		s.Abort()
		markAborted(dir)
		return Info{}, errtypes.ChecksumMismatch("merged content does not match Content-MD5")
	}
	if err := s.Commit(); err != nil {
		s.Abort()
		return Info{}, err
	}
	info.TotalSize = s.Size()
	info.MD5Sum = md5w.Sum()

	if err := os.RemoveAll(dir); err != nil {
		return Info{}, errtypes.IOError(err.Error())
	}
	m.mu.Lock()
	delete(m.locks, id)
	m.mu.Unlock()
	return info, nil
}

func (m *Manager) chunkPaths(dir, filename string) (map[int]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, errtypes.IOError(err.Error())
	}
	chunks := map[int]string{}
	for _, e := range entries {
		name, seq, ok := parseChunkName(e.Name())
		if !ok || name != filename {
			continue
		}
		chunks[seq] = filepath.Join(dir, e.Name())
	}
	return chunks, nil
}

// Delete aborts one of user's uploads and removes its chunk directory.
func (m *Manager) Delete(pnum, user, id string) error {
	dir, err := m.dir(pnum, id)
	if err != nil {
		return err
	}
	if _, err := os.Stat(dir); err != nil || !ownedBy(dir, user) {
		return errtypes.ResumableNotFound(id)
	}
	l := m.lock(id)
	l.Lock()
	defer l.Unlock()
	if err := os.RemoveAll(dir); err != nil {
		return errtypes.IOError(err.Error())
	}
	m.mu.Lock()
	delete(m.locks, id)
	m.mu.Unlock()
	return nil
}

// scan derives the ledger state from the chunk files. When filename is
// empty it is inferred from the chunks present.
func (m *Manager) scan(dir, id, filename string) (Info, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return Info{}, errtypes.ResumableNotFound(id)
	}
	info := Info{ID: id, Filename: filename}
	seqs := map[int]string{}
	sizes := map[int]int64{}
	for _, e := range entries {
		name, seq, ok := parseChunkName(e.Name())
		if !ok {
			continue
		}
		if info.Filename == "" {
			info.Filename = name
		}
		if name != info.Filename {
			continue
		}
		seqs[seq] = filepath.Join(dir, e.Name())
		if st, err := e.Info(); err == nil {
			sizes[seq] = st.Size()
		}
	}
	if len(seqs) == 0 {
		return Info{}, errtypes.ResumableNotFound(id)
	}
	for seqs[info.MaxChunk+1] != "" {
		info.MaxChunk++
	}
	// chunks beyond a gap are not resumable from, so they do not count
	for seq := 1; seq <= info.MaxChunk; seq++ {
		info.TotalSize += sizes[seq]
	}
	if p := seqs[info.MaxChunk]; p != "" {
		if st, err := os.Stat(p); err == nil {
			info.ChunkSize = st.Size()
		}
		if sum, err := crypto.MD5File(p); err == nil {
			info.MD5Sum = sum
		}
	}
	return info, nil
}

func parseChunkName(name string) (filename string, seq int, ok bool) {
	if strings.HasSuffix(name, ".part") {
		return "", 0, false
	}
	i := strings.LastIndex(name, chunkInfix)
	if i < 1 {
		return "", 0, false
	}
	seq, err := strconv.Atoi(name[i+len(chunkInfix):])
	if err != nil || seq < 1 {
		return "", 0, false
	}
	return name[:i], seq, true
}

func aborted(dir string) bool {
	_, err := os.Stat(filepath.Join(dir, abortedMarker))
	return err == nil
}

// ownedBy reports whether the upload directory was allocated by user.
// Uploads record their owner when the first chunk arrives; a missing
// or foreign marker hides the upload entirely.
func ownedBy(dir, user string) bool {
	data, err := os.ReadFile(filepath.Join(dir, ownerMarker))
	return err == nil && string(data) == user
}

func markAborted(dir string) {
	_ = os.WriteFile(filepath.Join(dir, abortedMarker), nil, 0o640)
}
