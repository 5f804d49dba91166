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
	"strconv"

	"github.com/unioslo/tsd-file-api/pkg/errtypes"
	"github.com/unioslo/tsd-file-api/pkg/sink"
	"github.com/unioslo/tsd-file-api/pkg/token"
	"github.com/unioslo/tsd-file-api/pkg/transform"
)

// stream handles single-shot and resumable streamed uploads. The body
// is decoded according to Content-Type and written through an atomic
// sink; nothing of a failed request remains visible in the project
// directory.
func (s *Service) stream(w http.ResponseWriter, r *http.Request) {
	claims := token.ContextMustGetClaims(r.Context())
	pnum := claims.Pnum

	filename, err := requestFilename(r)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	group, err := requestGroup(r, claims, pnum)
	if err != nil {
		s.fail(w, r, err)
		return
	}

	if r.URL.Query().Get("chunk") != "" {
		s.streamChunk(w, r, claims, pnum, group, filename)
		return
	}

	pipeline := transform.FromContentType(r.Header.Get("Content-Type"))
	km, err := s.keyMaterial(r, pipeline)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	body, err := s.body(w, r)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	decoded, err := pipeline.Wrap(body, km)
	if err != nil {
		s.fail(w, r, err)
		return
	}

	dest, err := s.resolver.Upload(pnum, group, filename)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	owner := s.owner(claims, group)

	var written int64
	if pipeline.IsTar() {
		written, err = sink.ExtractTar(decoded, dest.Dir, owner)
	} else {
		written, err = sink.Store(decoded, dest.Path(), owner)
	}
	if err != nil {
		s.fail(w, r, err)
		return
	}

	s.metrics.UploadBytes.Add(float64(written))
	s.countRequest(r, http.StatusCreated)
	writeJSON(w, http.StatusCreated, map[string]string{"message": "data streamed"})
}

// streamChunk appends one chunk to a resumable upload, or merges it
// when chunk=end.
func (s *Service) streamChunk(w http.ResponseWriter, r *http.Request, claims *token.Claims, pnum, group, filename string) {
	chunk := r.URL.Query().Get("chunk")
	id := r.URL.Query().Get("id")

	if chunk == "end" {
		dest, err := s.resolver.Upload(pnum, group, filename)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		info, err := s.uploads.Merge(pnum, claims.User, id, filename, dest.Path(), s.owner(claims, group), r.Header.Get("Content-MD5"))
		if err != nil {
			s.fail(w, r, err)
			return
		}
		s.metrics.Merges.Inc()
		s.metrics.UploadBytes.Add(float64(info.TotalSize))
		s.countRequest(r, http.StatusCreated)
		writeJSON(w, http.StatusCreated, map[string]any{
			"filename":  info.Filename,
			"id":        info.ID,
			"max_chunk": "end",
		})
		return
	}

	seq, err := strconv.Atoi(chunk)
	if err != nil {
		s.fail(w, r, errtypes.InvalidPath("chunk must be a number or 'end'"))
		return
	}
	body, err := s.body(w, r)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	info, err := s.uploads.Append(pnum, claims.User, id, filename, seq, body)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.countRequest(r, http.StatusCreated)
	writeJSON(w, http.StatusCreated, info)
}

// streamHead lets clients check upload preconditions: authentication,
// filename and header validation run exactly as for a PUT, no bytes
// move.
func (s *Service) streamHead(w http.ResponseWriter, r *http.Request) {
	if _, err := requestFilename(r); err != nil {
		s.fail(w, r, err)
		return
	}
	pipeline := transform.FromContentType(r.Header.Get("Content-Type"))
	if pipeline.NeedsKey() && r.Header.Get("Aes-Key") == "" {
		s.fail(w, r, errtypes.TransformError("missing Aes-Key header"))
		return
	}
	s.countRequest(r, http.StatusCreated)
	w.WriteHeader(http.StatusCreated)
}

// keyMaterial extracts and decrypts the client's AES key material for
// pipelines that need it.
func (s *Service) keyMaterial(r *http.Request, p transform.Pipeline) (*transform.KeyMaterial, error) {
	if !p.NeedsKey() {
		return nil, nil
	}
	encoded := r.Header.Get("Aes-Key")
	if encoded == "" {
		return nil, errtypes.TransformError("missing Aes-Key header")
	}
	if s.keyring == nil {
		return nil, errtypes.TransformError("encrypted uploads are not configured")
	}
	plain, err := s.keyring.Decrypt(encoded)
	if err != nil {
		return nil, err
	}
	return transform.ParseKeyMaterial(plain, r.Header.Get("Aes-Iv"))
}
