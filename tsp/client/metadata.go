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
	"time"
)

// Metadata is a snapshot of the client synchronization state.
// All times are microseconds of the configured local time source.
type Metadata struct {
	// Offset is the filtered estimate of server clock minus local clock
	Offset int64 `json:"offset"`
	// RTT2 is the round trip time of the last accepted exchange
	RTT2 uint64 `json:"rtt2"`
	// PingsSent counts pings fully written to the socket
	PingsSent uint64 `json:"pings_sent"`
	// PongsReceived counts pongs accepted as replies to our pings
	PongsReceived uint64 `json:"pongs_received"`
	// LastPongTime is the local receive time of the last accepted pong
	LastPongTime uint64 `json:"last_pong_time"`
}

// Synced reports whether at least one exchange completed
func (m Metadata) Synced() bool {
	return m.PongsReceived > 0
}

// SinceLastPong returns how long ago the last pong was accepted, now being local time in microseconds.
// Returns 0 if nothing was accepted yet.
func (m Metadata) SinceLastPong(now uint64) time.Duration {
	if !m.Synced() || now < m.LastPongTime {
		return 0
	}
	return time.Duration(now-m.LastPongTime) * time.Microsecond
}

// Loss returns share of pings that went unanswered, in [0, 1]
func (m Metadata) Loss() float64 {
	if m.PingsSent == 0 {
		return 0
	}
	return 1 - float64(m.PongsReceived)/float64(m.PingsSent)
}
