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

// Package sink persists post-transform byte streams. Bytes are written
// to a temporary file in the target directory, fsynced, atomically
// renamed into place and then chowned to the authenticated user. Until
// Commit the temp file belongs to the sink; after the rename the
// filesystem owns the destination.
package sink

import (
	"io"
	"os"
	"os/user"
	"path/filepath"
	"strconv"

	"github.com/google/renameio/v2"
	"github.com/pkg/errors"

	"github.com/unioslo/tsd-file-api/pkg/errtypes"
)

// Owner is the uid/gid the destination receives after the rename,
// derived from the authenticated user claim and the request group. A
// zero Owner disables the chown.
type Owner struct {
	User  string
	Group string
}

// Resolve looks the owner up in the OS user database.
func (o Owner) resolve() (uid, gid int, err error) {
	uid, gid = -1, -1
	if o.User != "" {
		u, err := user.Lookup(o.User)
		if err != nil {
			return -1, -1, errors.Wrap(err, "sink: unknown user")
		}
		uid, _ = strconv.Atoi(u.Uid)
	}
	if o.Group != "" {
		g, err := user.LookupGroup(o.Group)
		if err != nil {
			return -1, -1, errors.Wrap(err, "sink: unknown group")
		}
		gid, _ = strconv.Atoi(g.Gid)
	}
	return uid, gid, nil
}

// FileSink writes one destination file.
type FileSink struct {
	pending *renameio.PendingFile
	path    string
	owner   Owner
	size    int64
}

// New opens a sink for dest, creating the parent directory if needed.
// The temp file lives next to the destination so the final rename
// stays on one filesystem.
func New(dest string, owner Owner) (*FileSink, error) {
	if err := os.MkdirAll(filepath.Dir(dest), 0o2770); err != nil {
		return nil, errtypes.IOError(err.Error())
	}
	pending, err := renameio.NewPendingFile(dest,
		renameio.WithTempDir(filepath.Dir(dest)),
		renameio.WithPermissions(0o640),
	)
	if err != nil {
		return nil, errtypes.IOError(err.Error())
	}
	return &FileSink{pending: pending, path: dest, owner: owner}, nil
}

func (s *FileSink) Write(p []byte) (int, error) {
	n, err := s.pending.Write(p)
	s.size += int64(n)
	if err != nil {
		return n, errtypes.IOError(err.Error())
	}
	return n, nil
}

// Size returns the number of bytes written so far.
func (s *FileSink) Size() int64 {
	return s.size
}

// Commit fsyncs, renames the temp file over the destination and
// applies ownership.
func (s *FileSink) Commit() error {
	if err := s.pending.CloseAtomicallyReplace(); err != nil {
		return errtypes.IOError(err.Error())
	}
	return chown(s.path, s.owner)
}

// Abort discards the temp file. Safe to call after Commit.
func (s *FileSink) Abort() {
	_ = s.pending.Cleanup()
}

func chown(path string, o Owner) error {
	if o == (Owner{}) {
		return nil
	}
	uid, gid, err := o.resolve()
	if err != nil {
		return err
	}
	if err := os.Chown(path, uid, gid); err != nil {
		return errtypes.IOError(err.Error())
	}
	return nil
}

// Store streams r into dest and commits. On any error the partial
// output is removed.
func Store(r io.Reader, dest string, owner Owner) (int64, error) {
	s, err := New(dest, owner)
	if err != nil {
		return 0, err
	}
	if _, err := io.Copy(s, r); err != nil {
		s.Abort()
		return 0, err
	}
	if err := s.Commit(); err != nil {
		s.Abort()
		return 0, err
	}
	return s.Size(), nil
}

// CopyFile duplicates an already-committed file, used for the SNS
// shadow directory.
func CopyFile(src, dest string, owner Owner) error {
	f, err := os.Open(src)
	if err != nil {
		return errtypes.IOError(err.Error())
	}
	defer f.Close()
	_, err = Store(f, dest, owner)
	return err
}
