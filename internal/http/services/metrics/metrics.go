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

// Package metrics exposes operational counters on /metrics in
// Prometheus exposition format. The registry is private so the handler
// only ever serves what this process registered.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the counters incremented by the file handlers.
type Metrics struct {
	registry *prometheus.Registry

	Requests    *prometheus.CounterVec
	UploadBytes prometheus.Counter
	Merges      prometheus.Counter
}

// New creates and registers all collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		registry: reg,
		Requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "fileapi_requests_total",
			Help: "Requests processed, by method and status.",
		}, []string{"method", "status"}),
		UploadBytes: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "fileapi_upload_bytes_total",
			Help: "Post-transform bytes written to project storage.",
		}),
		Merges: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "fileapi_resumable_merges_total",
			Help: "Resumable uploads finalized.",
		}),
	}
	reg.MustRegister(
		m.Requests,
		m.UploadBytes,
		m.Merges,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Handler serves the registry in exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
