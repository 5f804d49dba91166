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
	"net/http"

	"github.com/unioslo/tsd-file-api/pkg/resumable"
	"github.com/unioslo/tsd-file-api/pkg/token"
)

// listResumables returns all open uploads of the project.
func (s *Service) listResumables(w http.ResponseWriter, r *http.Request) {
	claims := token.ContextMustGetClaims(r.Context())
	uploads, err := s.uploads.List(claims.Pnum, claims.User)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if uploads == nil {
		uploads = []resumable.Info{}
	}
	s.countRequest(r, http.StatusOK)
	writeJSON(w, http.StatusOK, map[string]any{"resumables": uploads})
}

// getResumable reports the state of one upload so a client can decide
// which chunk to send next.
func (s *Service) getResumable(w http.ResponseWriter, r *http.Request) {
	claims := token.ContextMustGetClaims(r.Context())
	filename, err := requestFilename(r)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	info, err := s.uploads.Find(claims.Pnum, claims.User, r.URL.Query().Get("id"), filename)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.countRequest(r, http.StatusOK)
	writeJSON(w, http.StatusOK, info)
}

// deleteResumable aborts an upload and removes its chunks.
func (s *Service) deleteResumable(w http.ResponseWriter, r *http.Request) {
	claims := token.ContextMustGetClaims(r.Context())
	filename, err := requestFilename(r)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	id := r.URL.Query().Get("id")
	if id == "" {
		info, err := s.uploads.Find(claims.Pnum, claims.User, "", filename)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		id = info.ID
	}
	if err := s.uploads.Delete(claims.Pnum, claims.User, id); err != nil {
		s.fail(w, r, err)
		return
	}
	s.countRequest(r, http.StatusOK)
	writeJSON(w, http.StatusOK, map[string]string{"message": "resumable deleted"})
}
