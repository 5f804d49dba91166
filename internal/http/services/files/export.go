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

package files

import (
	"io"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/unioslo/tsd-file-api/pkg/appctx"
	"github.com/unioslo/tsd-file-api/pkg/errtypes"
	"github.com/unioslo/tsd-file-api/pkg/paths"
	"github.com/unioslo/tsd-file-api/pkg/token"
)

type exportEntry struct {
	Name  string `json:"name"`
	Size  int64  `json:"size"`
	Mtime string `json:"mtime"`
}

// exportList returns the immediate children of the project's export
// directory. Subdirectories are not descended into.
func (s *Service) exportList(w http.ResponseWriter, r *http.Request) {
	claims := token.ContextMustGetClaims(r.Context())

	root, err := s.resolver.Export(claims.Pnum, "")
	if err != nil {
		s.fail(w, r, err)
		return
	}
	entries, err := os.ReadDir(root)
	if err != nil {
		if os.IsNotExist(err) {
			s.fail(w, r, errtypes.NotFound("export directory does not exist"))
			return
		}
		s.fail(w, r, errtypes.IOError(err.Error()))
		return
	}

	files := make([]exportEntry, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		st, err := e.Info()
		if err != nil {
			continue
		}
		files = append(files, exportEntry{
			Name:  e.Name(),
			Size:  st.Size(),
			Mtime: st.ModTime().Format(time.RFC3339),
		})
	}

	s.countRequest(r, http.StatusOK)
	writeJSON(w, http.StatusOK, map[string]any{"files": files})
}

// exportDownload streams one export file. Symlinks are followed but
// must resolve inside the export directory.
func (s *Service) exportDownload(w http.ResponseWriter, r *http.Request) {
	claims := token.ContextMustGetClaims(r.Context())

	p, err := s.resolver.Export(claims.Pnum, chi.URLParam(r, "filename"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if _, err := os.Lstat(p); err != nil {
		if os.IsNotExist(err) {
			s.fail(w, r, errtypes.NotFound(chi.URLParam(r, "filename")))
			return
		}
		s.fail(w, r, errtypes.IOError(err.Error()))
		return
	}
	root, err := s.resolver.Export(claims.Pnum, "")
	if err != nil {
		s.fail(w, r, err)
		return
	}
	real, err := paths.ConfinedRealpath(root, p)
	if err != nil {
		s.fail(w, r, err)
		return
	}

	f, err := os.Open(real)
	if err != nil {
		s.fail(w, r, errtypes.IOError(err.Error()))
		return
	}
	defer f.Close()
	st, err := f.Stat()
	if err != nil {
		s.fail(w, r, errtypes.IOError(err.Error()))
		return
	}
	if st.IsDir() {
		s.fail(w, r, errtypes.Forbidden("cannot download a directory"))
		return
	}

	w.Header().Set("Content-Type", "application/octet-stream")
	w.Header().Set("Content-Length", strconv.FormatInt(st.Size(), 10))
	s.countRequest(r, http.StatusOK)
	w.WriteHeader(http.StatusOK)
	if _, err := io.Copy(w, f); err != nil {
		// headers are gone, nothing to send but a log line
		appctx.GetLogger(r.Context()).Warn().Err(err).Msg("export download interrupted")
	}
}
