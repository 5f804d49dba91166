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

// Package log provides an HTTP middleware that attaches a request
// scoped logger to the context and logs every processed request.
package log

import (
	"net"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/unioslo/tsd-file-api/pkg/appctx"
)

// New returns the logging middleware.
func New(log zerolog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rlog := log.With().
				Str("method", r.Method).
				Str("uri", r.RequestURI).
				Logger()
			r = r.WithContext(appctx.WithLogger(r.Context(), &rlog))

			lw := &responseLogger{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(lw, r)
			writeLog(&rlog, r, start, lw.status, lw.size)
		})
	}
}

func writeLog(log *zerolog.Logger, r *http.Request, start time.Time, status int, size int64) {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}

	var event *zerolog.Event
	switch {
	case status < 400:
		event = log.Info()
	case status < 500:
		event = log.Warn()
	default:
		event = log.Error()
	}
	event.Str("host", host).
		Int("status", status).
		Int64("size", size).
		Dur("duration", time.Since(start)).
		Msg("processed http request")
}

// responseLogger captures the status and byte count of the response.
type responseLogger struct {
	http.ResponseWriter
	status int
	size   int64
	wrote  bool
}

func (l *responseLogger) WriteHeader(status int) {
	if !l.wrote {
		l.status = status
		l.wrote = true
	}
	l.ResponseWriter.WriteHeader(status)
}

func (l *responseLogger) Write(p []byte) (int, error) {
	l.wrote = true
	n, err := l.ResponseWriter.Write(p)
	l.size += int64(n)
	return n, err
}

// Unwrap exposes the underlying writer so http.ResponseController can
// reach deadline and flush support.
func (l *responseLogger) Unwrap() http.ResponseWriter {
	return l.ResponseWriter
}
