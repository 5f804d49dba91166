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

// Package httperr maps errors to JSON error responses. Client errors
// carry their own message; anything mapping to a 5xx is logged in full
// and replaced by a generic message so internals never leak.
package httperr

import (
	"encoding/json"
	"net/http"

	"github.com/unioslo/tsd-file-api/pkg/appctx"
	"github.com/unioslo/tsd-file-api/pkg/errtypes"
)

// Write sends err as a JSON body with the status derived from its kind.
func Write(w http.ResponseWriter, r *http.Request, err error) {
	log := appctx.GetLogger(r.Context())
	status := errtypes.Status(err)
	msg := err.Error()
	if status >= http.StatusInternalServerError {
		log.Error().Err(err).Msg("request failed")
		msg = "internal server error"
	} else {
		log.Debug().Err(err).Int("status", status).Msg("request rejected")
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"message": msg})
}
