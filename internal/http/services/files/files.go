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

// Package files implements the project-scoped upload and export API.
// All routes live under /{pnum}; authentication happens in the auth
// interceptor before any handler reads the request body, so clients
// using Expect: 100-continue learn their fate before sending payload.
package files

import (
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/unioslo/tsd-file-api/internal/http/httperr"
	"github.com/unioslo/tsd-file-api/internal/http/interceptors/auth"
	"github.com/unioslo/tsd-file-api/internal/http/services/metrics"
	"github.com/unioslo/tsd-file-api/pkg/config"
	"github.com/unioslo/tsd-file-api/pkg/errtypes"
	"github.com/unioslo/tsd-file-api/pkg/paths"
	"github.com/unioslo/tsd-file-api/pkg/pgp"
	"github.com/unioslo/tsd-file-api/pkg/resumable"
	"github.com/unioslo/tsd-file-api/pkg/sink"
	"github.com/unioslo/tsd-file-api/pkg/token"
)

// streamIdleTimeout bounds the gap between two reads of an upload
// body. The deadline is pushed forward on every read, so slow but live
// clients are fine while stalled connections get reaped.
const streamIdleTimeout = 60 * time.Second

// Service handles file uploads, resumables, SNS submissions and
// exports for all configured projects.
type Service struct {
	cfg      *config.Config
	resolver *paths.Resolver
	keyring  *pgp.Keyring
	uploads  *resumable.Manager
	metrics  *metrics.Metrics
}

// New wires a Service. keyring may be nil when no secring is
// configured; encrypted uploads then fail with a client error.
func New(cfg *config.Config, resolver *paths.Resolver, keyring *pgp.Keyring, uploads *resumable.Manager, m *metrics.Metrics) *Service {
	return &Service{cfg: cfg, resolver: resolver, keyring: keyring, uploads: uploads, metrics: m}
}

// Routes returns the project-scoped router.
func (s *Service) Routes(verifier *token.Verifier) chi.Router {
	r := chi.NewRouter()
	r.Route("/{pnum}", func(r chi.Router) {
		r.Group(func(r chi.Router) {
			r.Use(auth.New(verifier, token.RoleAppUser))

			// upload_stream is the historical name of the stream
			// endpoint; both spellings stay routable.
			for _, p := range []string{"/files/stream", "/files/upload_stream"} {
				for _, path := range []string{p, p + "/{filename}"} {
					r.Put(path, s.stream)
					r.Post(path, s.stream)
					r.Patch(path, s.stream)
					r.Head(path, s.streamHead)
				}
			}

			r.Post("/files/upload", s.formUpload)
			r.Put("/files/upload", s.formUpload)
			r.Patch("/files/upload", s.formUpload)
			r.Head("/files/upload", s.uploadHead)

			r.Post("/sns/{keyID}/{formID}", s.sns)
			r.Put("/sns/{keyID}/{formID}", s.sns)
			r.Patch("/sns/{keyID}/{formID}", s.sns)

			r.Get("/files/resumables", s.listResumables)
			r.Get("/files/resumables/{filename}", s.getResumable)
			r.Delete("/files/resumables/{filename}", s.deleteResumable)
		})

		r.Group(func(r chi.Router) {
			r.Use(auth.New(verifier, token.RoleExportUser))
			r.Get("/files/export", s.exportList)
		})
		r.Group(func(r chi.Router) {
			r.Use(auth.New(verifier, token.RoleExportUser, token.RoleAdminUser))
			r.Get("/files/export/{filename}", s.exportDownload)
		})
	})
	return r
}

// owner returns the uid/gid the stored file should receive, or the
// zero Owner when chown is disabled.
func (s *Service) owner(claims *token.Claims, group string) sink.Owner {
	if !s.cfg.ChownUploads {
		return sink.Owner{}
	}
	return sink.Owner{User: claims.User, Group: group}
}

// requestGroup validates the optional ?group= parameter against the
// token's group memberships. Absent, the project member group applies.
func requestGroup(r *http.Request, claims *token.Claims, pnum string) (string, error) {
	group := r.URL.Query().Get("group")
	if group == "" {
		return token.MemberGroup(pnum), nil
	}
	if !paths.ValidGroup(pnum, group) {
		return "", errtypes.NotAMember(group + " is not a group of " + pnum)
	}
	if err := claims.RequireMember(group); err != nil {
		return "", err
	}
	return group, nil
}

// requestFilename takes the filename from the URL, falling back to the
// Filename header for clients of the pre-path API.
func requestFilename(r *http.Request) (string, error) {
	name := chi.URLParam(r, "filename")
	if name == "" {
		name = r.Header.Get("Filename")
	}
	return paths.SanitizeFilename(name)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func (s *Service) countRequest(r *http.Request, status int) {
	s.metrics.Requests.WithLabelValues(r.Method, strconv.Itoa(status)).Inc()
}

func (s *Service) fail(w http.ResponseWriter, r *http.Request, err error) {
	s.countRequest(r, errtypes.Status(err))
	httperr.Write(w, r, err)
}

// idleReader pushes the connection read deadline forward on every
// read.
type idleReader struct {
	r  io.Reader
	rc *http.ResponseController
}

func (i *idleReader) Read(p []byte) (int, error) {
	_ = i.rc.SetReadDeadline(time.Now().Add(streamIdleTimeout))
	return i.r.Read(p)
}

// cappedReader fails the stream once more than max bytes have been
// read, without buffering anything.
type cappedReader struct {
	r    io.Reader
	left int64
}

func (c *cappedReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.left -= int64(n)
	if c.left < 0 {
		return n, errtypes.PayloadTooLarge("stream exceeds the configured limit")
	}
	return n, err
}

// body returns the request body wrapped with the idle deadline and,
// when configured, the stream size cap. A declared Content-Length over
// the cap fails before any byte is read; chunked bodies are counted as
// they arrive.
func (s *Service) body(w http.ResponseWriter, r *http.Request) (io.Reader, error) {
	var body io.Reader = &idleReader{r: r.Body, rc: http.NewResponseController(w)}
	if s.cfg.MaxStreamBytes > 0 {
		if r.ContentLength > s.cfg.MaxStreamBytes {
			return nil, errtypes.PayloadTooLarge("declared length exceeds the configured limit")
		}
		body = &cappedReader{r: body, left: s.cfg.MaxStreamBytes}
	}
	return body, nil
}
