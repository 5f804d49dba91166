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
	"errors"
	"io"
	"net/http"
	"path/filepath"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/unioslo/tsd-file-api/pkg/errtypes"
	"github.com/unioslo/tsd-file-api/pkg/paths"
	"github.com/unioslo/tsd-file-api/pkg/sink"
	"github.com/unioslo/tsd-file-api/pkg/token"
)

// formUpload stores every file part of a multipart/form-data body in
// the project uploads directory. Parts are streamed one at a time, the
// whole body is never held in memory.
func (s *Service) formUpload(w http.ResponseWriter, r *http.Request) {
	claims := token.ContextMustGetClaims(r.Context())
	pnum := claims.Pnum

	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.MaxBodyBytes)
	mr, err := r.MultipartReader()
	if err != nil {
		s.fail(w, r, errtypes.InvalidPath("request is not multipart/form-data"))
		return
	}

	owner := s.owner(claims, token.MemberGroup(pnum))
	var stored []string
	for {
		part, err := mr.NextPart()
		if err == io.EOF {
			break
		}
		if err != nil {
			s.fail(w, r, mapSizeErr(err))
			return
		}
		if part.FileName() == "" {
			continue
		}
		dest, err := s.resolver.FormUpload(pnum, part.FileName())
		if err != nil {
			s.fail(w, r, err)
			return
		}
		n, err := sink.Store(part, dest.Path(), owner)
		if err != nil {
			s.fail(w, r, mapSizeErr(err))
			return
		}
		s.metrics.UploadBytes.Add(float64(n))
		stored = append(stored, dest.Filename)
	}
	if len(stored) == 0 {
		s.fail(w, r, errtypes.MissingFilename("no file part in request"))
		return
	}

	s.countRequest(r, http.StatusCreated)
	writeJSON(w, http.StatusCreated, map[string]any{
		"message": "data uploaded",
		"files":   stored,
	})
}

// uploadHead lets clients check upload preconditions: 201 only when a
// POST with the same headers would be accepted.
func (s *Service) uploadHead(w http.ResponseWriter, r *http.Request) {
	if !strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/form-data") {
		s.fail(w, r, errtypes.InvalidPath("request is not multipart/form-data"))
		return
	}
	s.countRequest(r, http.StatusCreated)
	w.WriteHeader(http.StatusCreated)
}

// sns stores survey submissions under the per-form directory and
// duplicates each file into the hidden shadow tree for backup
// processing. Zero-byte submissions are rejected.
func (s *Service) sns(w http.ResponseWriter, r *http.Request) {
	claims := token.ContextMustGetClaims(r.Context())
	pnum := claims.Pnum

	dir, shadow, err := s.resolver.SNS(pnum, chi.URLParam(r, "keyID"), chi.URLParam(r, "formID"))
	if err != nil {
		s.fail(w, r, err)
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.MaxBodyBytes)
	mr, err := r.MultipartReader()
	if err != nil {
		s.fail(w, r, errtypes.InvalidPath("request is not multipart/form-data"))
		return
	}

	owner := s.owner(claims, token.MemberGroup(pnum))
	var stored []string
	for {
		part, err := mr.NextPart()
		if err == io.EOF {
			break
		}
		if err != nil {
			s.fail(w, r, mapSizeErr(err))
			return
		}
		if part.FileName() == "" {
			continue
		}
		name, err := paths.SanitizeFilename(part.FileName())
		if err != nil {
			s.fail(w, r, err)
			return
		}
		dest := filepath.Join(dir, name)
		n, err := storeNonEmpty(part, dest, owner)
		if err != nil {
			s.fail(w, r, mapSizeErr(err))
			return
		}
		if err := sink.CopyFile(dest, filepath.Join(shadow, name), owner); err != nil {
			s.fail(w, r, err)
			return
		}
		s.metrics.UploadBytes.Add(float64(n))
		stored = append(stored, name)
	}
	if len(stored) == 0 {
		s.fail(w, r, errtypes.EmptyBody("no file in submission"))
		return
	}

	s.countRequest(r, http.StatusCreated)
	writeJSON(w, http.StatusCreated, map[string]any{
		"message": "data uploaded",
		"files":   stored,
	})
}

// storeNonEmpty streams r into dest, refusing to commit a zero-byte
// file.
func storeNonEmpty(r io.Reader, dest string, owner sink.Owner) (int64, error) {
	sk, err := sink.New(dest, owner)
	if err != nil {
		return 0, err
	}
	if _, err := io.Copy(sk, r); err != nil {
		sk.Abort()
		return 0, err
	}
	if sk.Size() == 0 {
		sk.Abort()
		return 0, errtypes.EmptyBody("zero-byte file")
	}
	if err := sk.Commit(); err != nil {
		sk.Abort()
		return 0, err
	}
	return sk.Size(), nil
}

// mapSizeErr translates the net/http body cap error into the API's
// error taxonomy.
func mapSizeErr(err error) error {
	var mbe *http.MaxBytesError
	if errors.As(err, &mbe) {
		return errtypes.PayloadTooLarge("form body exceeds the configured limit")
	}
	return err
}
