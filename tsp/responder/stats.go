/*
Copyright (c) Facebook, Inc. and its affiliates.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package responder

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"
)

// Stats is a metric collection interface
type Stats interface {
	// Start starts a stat reporter
	// Use this for passive reporters
	Start(monitoringport int)

	// IncRequests atomically add 1 to the counter
	IncRequests()

	// IncResponses atomically add 1 to the counter
	IncResponses()

	// IncInvalidFormat atomically add 1 to the counter
	IncInvalidFormat()

	// IncReadError atomically add 1 to the counter
	IncReadError()

	// IncListeners atomically add 1 to the counter
	IncListeners()
	// DecListeners atomically removes 1 from the counter
	DecListeners()

	// IncWorkers atomically add 1 to the counter
	IncWorkers()
	// DecWorkers atomically removes 1 from the counter
	DecWorkers()
}

// JSONStats implements Stats
// This implementation reports JSON metrics via http interface
// This is a passive implementation. Only "Start" needs to be called
type JSONStats struct {
	invalidFormat atomic.Int64
	requests      atomic.Int64
	responses     atomic.Int64
	readError     atomic.Int64
	listeners     atomic.Int64
	workers       atomic.Int64
}

// toMap converts struct to a map
func (j *JSONStats) toMap() map[string]int64 {
	return map[string]int64{
		"invalidformat": j.invalidFormat.Load(),
		"requests":      j.requests.Load(),
		"responses":     j.responses.Load(),
		"readError":     j.readError.Load(),
		"listeners":     j.listeners.Load(),
		"workers":       j.workers.Load(),
	}
}

// handleRequest is a handler used for all http monitoring requests
func (j *JSONStats) handleRequest(w http.ResponseWriter, _ *http.Request) {
	js, err := json.Marshal(j.toMap())
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	if _, err = w.Write(js); err != nil {
		log.Errorf("Failed to reply: %v", err)
	}
}

// registry exposes counters to prometheus
func (j *JSONStats) registry() *prometheus.Registry {
	r := prometheus.NewRegistry()
	counter := func(name, help string, v *atomic.Int64) prometheus.Collector {
		return prometheus.NewCounterFunc(prometheus.CounterOpts{
			Namespace: "tsp_responder",
			Name:      name,
			Help:      help,
		}, func() float64 { return float64(v.Load()) })
	}
	gauge := func(name, help string, v *atomic.Int64) prometheus.Collector {
		return prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: "tsp_responder",
			Name:      name,
			Help:      help,
		}, func() float64 { return float64(v.Load()) })
	}
	r.MustRegister(
		counter("requests_total", "Pings received", &j.requests),
		counter("responses_total", "Pongs sent", &j.responses),
		counter("invalid_format_total", "Datagrams discarded as invalid pings", &j.invalidFormat),
		counter("read_errors_total", "Socket read errors", &j.readError),
		gauge("listeners", "Running listeners", &j.listeners),
		gauge("workers", "Running workers", &j.workers),
	)
	return r
}

// Handler returns http handler serving counters as JSON on / and prometheus metrics on /metrics
func (j *JSONStats) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/", j.handleRequest)
	mux.Handle("/metrics", promhttp.HandlerFor(j.registry(), promhttp.HandlerOpts{}))
	return mux
}

// Start runs http server serving stats. It blocks.
func (j *JSONStats) Start(port int) {
	addr := fmt.Sprintf(":%d", port)
	log.Debugf("Starting http json server on %s", addr)
	err := http.ListenAndServe(addr, j.Handler())
	if err != nil {
		log.Errorf("Failed to start listener: %v", err)
	}
}

// IncInvalidFormat atomically add 1 to the counter
func (j *JSONStats) IncInvalidFormat() {
	j.invalidFormat.Add(1)
}

// IncRequests atomically add 1 to the counter
func (j *JSONStats) IncRequests() {
	j.requests.Add(1)
}

// IncResponses atomically add 1 to the counter
func (j *JSONStats) IncResponses() {
	j.responses.Add(1)
}

// IncReadError atomically add 1 to the counter
func (j *JSONStats) IncReadError() {
	j.readError.Add(1)
}

// IncListeners atomically add 1 to the counter
func (j *JSONStats) IncListeners() {
	j.listeners.Add(1)
}

// DecListeners atomically removes 1 from the counter
func (j *JSONStats) DecListeners() {
	j.listeners.Add(-1)
}

// IncWorkers atomically add 1 to the counter
func (j *JSONStats) IncWorkers() {
	j.workers.Add(1)
}

// DecWorkers atomically removes 1 from the counter
func (j *JSONStats) DecWorkers() {
	j.workers.Add(-1)
}
