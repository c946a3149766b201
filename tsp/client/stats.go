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
	"sync"

	"github.com/eclesh/welford"
)

// counters reported by the client
const (
	counterPingSent         = "tsp.ping.sent"
	counterPingSendError    = "tsp.ping.send_error"
	counterPingShortWrite   = "tsp.ping.short_write"
	counterPongReceived     = "tsp.pong.received"
	counterPongBadLength    = "tsp.pong.bad_length"
	counterPongBadVersion   = "tsp.pong.bad_version"
	counterPongBadMessageID = "tsp.pong.bad_message_id"
	counterPongMismatch     = "tsp.pong.mismatch"
	counterReadError        = "tsp.read_error"

	counterOffsetMean    = "tsp.offset.raw.mean"
	counterOffsetStddev  = "tsp.offset.raw.stddev"
	counterRTT2Mean      = "tsp.rtt2.mean"
	counterRTT2Stddev    = "tsp.rtt2.stddev"
	counterExchangeCount = "tsp.exchanges"
)

// StatsServer is a stats server interface
type StatsServer interface {
	// Reset atomically sets all the counters to 0
	Reset()
	SetCounter(key string, val int64)
	UpdateCounterBy(key string, count int64)
	// AddExchange records a single accepted exchange
	AddExchange(rawOffset int64, rtt2 uint64)
}

// Stats is an implementation of StatsServer
type Stats struct {
	mux       sync.Mutex
	counters  map[string]int64
	offsets   *welford.Stats
	rtts      *welford.Stats
	exchanges int64
}

// NewStats created new instance of Stats
func NewStats() *Stats {
	return &Stats{
		counters: map[string]int64{},
		offsets:  welford.New(),
		rtts:     welford.New(),
	}
}

// UpdateCounterBy will increment counter
func (s *Stats) UpdateCounterBy(key string, count int64) {
	s.mux.Lock()
	s.counters[key] += count
	s.mux.Unlock()
}

// SetCounter will set a counter to the provided value.
func (s *Stats) SetCounter(key string, val int64) {
	s.mux.Lock()
	s.counters[key] = val
	s.mux.Unlock()
}

// GetCounters returns an map of counters
func (s *Stats) GetCounters() map[string]int64 {
	ret := make(map[string]int64)
	s.mux.Lock()
	for key, val := range s.counters {
		ret[key] = val
	}
	s.mux.Unlock()
	return ret
}

// Reset all the values of counters
func (s *Stats) Reset() {
	s.mux.Lock()
	for k := range s.counters {
		s.counters[k] = 0
	}
	s.offsets = welford.New()
	s.rtts = welford.New()
	s.exchanges = 0
	s.mux.Unlock()
}

// AddExchange feeds raw offset and rtt2 into the current aggregation window
func (s *Stats) AddExchange(rawOffset int64, rtt2 uint64) {
	s.mux.Lock()
	s.offsets.Add(float64(rawOffset))
	s.rtts.Add(float64(rtt2))
	s.exchanges++
	s.mux.Unlock()
}

// Aggregate publishes mean and stddev of the exchanges seen since the last call and starts a new window.
// Counters keep their last values if the window had no exchanges.
func (s *Stats) Aggregate() {
	s.mux.Lock()
	defer s.mux.Unlock()
	s.counters[counterExchangeCount] = s.exchanges
	if s.exchanges == 0 {
		return
	}
	s.counters[counterOffsetMean] = int64(s.offsets.Mean())
	s.counters[counterRTT2Mean] = int64(s.rtts.Mean())
	if s.exchanges > 1 {
		s.counters[counterOffsetStddev] = int64(s.offsets.Stddev())
		s.counters[counterRTT2Stddev] = int64(s.rtts.Stddev())
	}
	s.offsets = welford.New()
	s.rtts = welford.New()
	s.exchanges = 0
}
