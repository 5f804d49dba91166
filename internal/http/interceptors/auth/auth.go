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

// Package auth authenticates requests before any handler runs. The
// request body is never read here, so clients sending Expect:
// 100-continue get their verdict before transmitting payload bytes.
package auth

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/unioslo/tsd-file-api/internal/http/httperr"
	"github.com/unioslo/tsd-file-api/pkg/token"
)

// New returns a middleware that verifies the bearer token against the
// project in the URL and requires one of the given roles. Verified
// claims are stored in the request context.
func New(verifier *token.Verifier, roles ...string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			pnum := chi.URLParam(r, "pnum")
			claims, err := verifier.Verify(pnum, r.Header.Get("Authorization"))
			if err != nil {
				httperr.Write(w, r, err)
				return
			}
			if err := claims.RequireRole(roles...); err != nil {
				httperr.Write(w, r, err)
				return
			}
			next.ServeHTTP(w, r.WithContext(token.ContextSetClaims(r.Context(), claims)))
		})
	}
}
