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

package client

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"
)

// MetadataSource provides current synchronization state
type MetadataSource interface {
	GetMetadata() Metadata
}

// JSONStats is what we want to report as stats via http
type JSONStats struct {
	Stats
	sys SysStats
}

// NewJSONStats returns a new JSONStats
func NewJSONStats() *JSONStats {
	return &JSONStats{Stats: *NewStats()}
}

// Start runs http server and aggregates stats every interval. It blocks forever.
func (s *JSONStats) Start(monitoringport int, interval time.Duration, source MetadataSource) {
	// collect stats forever
	go func() {
		for range time.Tick(interval) {
			s.Aggregate()
			if err := s.CollectSysStats(interval); err != nil {
				log.Warningf("failed to get system metrics %s", err)
			}
		}
	}()

	addr := fmt.Sprintf(":%d", monitoringport)
	log.Infof("Starting http json server on %s", addr)
	if err := http.ListenAndServe(addr, s.Handler(source)); err != nil {
		log.Fatalf("Failed to start listener: %v", err)
	}
}

// Handler returns http handler serving metadata, counters and prometheus metrics
func (s *JSONStats) Handler(source MetadataSource) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, source.GetMetadata())
	})
	mux.HandleFunc("/counters", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, s.GetCounters())
	})
	mux.Handle("/metrics", promhttp.HandlerFor(
		newRegistry(source, &s.Stats),
		promhttp.HandlerOpts{},
	))
	return mux
}

// CollectSysStats gathers process stats and stores them as counters
func (s *JSONStats) CollectSysStats(interval time.Duration) error {
	sys, err := s.sys.CollectRuntimeStats(interval)
	if err != nil {
		return err
	}

	for k, v := range sys {
		s.SetCounter(k, int64(v))
	}
	return nil
}

func writeJSON(w http.ResponseWriter, v any) {
	js, err := json.Marshal(v)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	if _, err = w.Write(js); err != nil {
		log.Errorf("Failed to reply: %v", err)
	}
}
