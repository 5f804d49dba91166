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

package sink

import (
	"archive/tar"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/unioslo/tsd-file-api/pkg/errtypes"
)

// ExtractTar fans a tar stream out into one file per entry under dir.
// Regular files and directories only: symlinks, hardlinks and device
// nodes fail the whole request. When the stream breaks mid-archive,
// every entry already written is removed again, so a failed request
// leaves nothing behind. Entry paths may not escape dir.
func ExtractTar(r io.Reader, dir string, owner Owner) (written int64, err error) {
	var files, dirs []string
	defer func() {
		if err == nil {
			return
		}
		for _, f := range files {
			_ = os.Remove(f)
		}
		// deepest first; only directories this call created, and only
		// when nothing else landed in them meanwhile
		for i := len(dirs) - 1; i >= 0; i-- {
			_ = os.Remove(dirs[i])
		}
	}()

	tr := tar.NewReader(r)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			return written, nil
		}
		if err != nil {
			var ws errtypes.WithStatus
			if errors.As(err, &ws) {
				return written, err
			}
			return written, errtypes.TransformError("malformed tar stream")
		}

		name, err := confineEntry(dir, hdr.Name)
		if err != nil {
			return written, err
		}

		switch hdr.Typeflag {
		case tar.TypeDir:
			created, err := mkdirTracked(name)
			if err != nil {
				return written, errtypes.IOError(err.Error())
			}
			dirs = append(dirs, created...)
		case tar.TypeReg:
			n, err := Store(tr, name, owner)
			if err != nil {
				return written, err
			}
			files = append(files, name)
			written += n
		case tar.TypeXGlobalHeader, tar.TypeXHeader:
			// metadata entries carry no payload
		default:
			return written, errtypes.TransformError("tar entry " + hdr.Name + " is not a regular file")
		}
	}
}

// mkdirTracked creates path like os.MkdirAll and returns the
// directories that did not exist before, parents first.
func mkdirTracked(path string) ([]string, error) {
	var missing []string
	for p := path; ; p = filepath.Dir(p) {
		if _, err := os.Lstat(p); err == nil {
			break
		}
		missing = append(missing, p)
		if p == filepath.Dir(p) {
			break
		}
	}
	if err := os.MkdirAll(path, 0o2770); err != nil {
		return nil, err
	}
	for i, j := 0, len(missing)-1; i < j; i, j = i+1, j-1 {
		missing[i], missing[j] = missing[j], missing[i]
	}
	return missing, nil
}

// confineEntry joins an archive member name under dir, rejecting
// absolute names and parent references.
func confineEntry(dir, name string) (string, error) {
	clean := filepath.Clean(name)
	if filepath.IsAbs(clean) || clean == ".." || strings.HasPrefix(clean, "../") {
		return "", errtypes.InvalidPath("tar entry escapes the destination directory")
	}
	p := filepath.Join(dir, clean)
	if !strings.HasPrefix(p, filepath.Clean(dir)+string(filepath.Separator)) {
		return "", errtypes.InvalidPath("tar entry escapes the destination directory")
	}
	return p, nil
}
