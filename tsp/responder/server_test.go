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
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/facebook/timesync/tsp/client"
	"github.com/facebook/timesync/tsp/protocol"
)

func testServer(t *testing.T, now uint64, extra time.Duration) *Server {
	cfg := DefaultConfig()
	cfg.IPs = MultiIPs{net.ParseIP("127.0.0.1")}
	cfg.Port = 0
	cfg.Workers = 2
	cfg.ExtraOffset = extra
	s, err := New(*cfg, &JSONStats{})
	require.NoError(t, err)
	s.now = func() uint64 { return now }
	return s
}

func TestNewInvalidConfig(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Workers = 0
	_, err := New(*cfg, &JSONStats{})
	require.Error(t, err)
}

func TestNewDefaultIPs(t *testing.T) {
	s, err := New(*DefaultConfig(), &JSONStats{})
	require.NoError(t, err)
	require.Equal(t, DefaultServerIPs, s.Config.IPs)
}

func TestGenerateResponse(t *testing.T) {
	s := testServer(t, 5000, 0)
	ping, err := protocol.NewPing(1000).MarshalBinary()
	require.NoError(t, err)
	pong, err := s.generateResponse(ping)
	require.NoError(t, err)
	require.Equal(t, &protocol.Pong{
		Version:    protocol.Version,
		MessageID:  protocol.MessagePong,
		ClientTime: 1000,
		ServerTime: 5000,
	}, pong)
}

func TestGenerateResponseExtraOffset(t *testing.T) {
	s := testServer(t, 5000, -2*time.Millisecond)
	ping, err := protocol.NewPing(1000).MarshalBinary()
	require.NoError(t, err)
	pong, err := s.generateResponse(ping)
	require.NoError(t, err)
	require.Equal(t, uint64(3000), pong.ServerTime)
}

func TestGenerateResponseInvalid(t *testing.T) {
	s := testServer(t, 5000, 0)
	ping, err := protocol.NewPing(1000).MarshalBinary()
	require.NoError(t, err)

	_, err = s.generateResponse(ping[:protocol.PingSizeBytes-1])
	require.ErrorIs(t, err, protocol.ErrInvalidLength)

	_, err = s.generateResponse(append(ping, 0))
	require.ErrorIs(t, err, protocol.ErrInvalidLength)

	badVersion := append([]byte{}, ping...)
	badVersion[0] = 7
	_, err = s.generateResponse(badVersion)
	require.ErrorIs(t, err, protocol.ErrUnsupportedVersion)

	pongID := append([]byte{}, ping...)
	pongID[1] = byte(protocol.MessagePong)
	_, err = s.generateResponse(pongID)
	require.ErrorIs(t, err, protocol.ErrUnexpectedMessage)
}

func serve(t *testing.T, s *Server) *net.UDPAddr {
	require.NoError(t, s.Listen())
	go func() {
		assert.NoError(t, s.Serve(context.Background()))
	}()
	t.Cleanup(s.Stop)
	stats := s.Stats.(*JSONStats)
	require.Eventually(t, func() bool {
		return stats.workers.Load() == int64(s.Config.Workers) && stats.listeners.Load() == 1
	}, 5*time.Second, 10*time.Millisecond)
	return s.Addrs()[0].(*net.UDPAddr)
}

func TestServeLoopback(t *testing.T) {
	s := testServer(t, 5000, 0)
	addr := serve(t, s)

	conn, err := net.DialUDP("udp", nil, addr)
	require.NoError(t, err)
	defer conn.Close()

	// garbage is dropped
	_, err = conn.Write([]byte{1, 2, 3})
	require.NoError(t, err)

	ping, err := protocol.NewPing(1000).MarshalBinary()
	require.NoError(t, err)
	_, err = conn.Write(ping)
	require.NoError(t, err)

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	buf := make([]byte, 64)
	n, err := conn.Read(buf)
	require.NoError(t, err)
	pong := &protocol.Pong{}
	require.NoError(t, pong.UnmarshalBinary(buf[:n]))
	require.NoError(t, pong.Validate())
	require.Equal(t, uint64(1000), pong.ClientTime)
	require.Equal(t, uint64(5000), pong.ServerTime)

	stats := s.Stats.(*JSONStats)
	require.Eventually(t, func() bool {
		return stats.responses.Load() == 1 && stats.invalidFormat.Load() == 1
	}, 5*time.Second, 10*time.Millisecond)
	require.Equal(t, int64(2), stats.requests.Load())
}

func TestServeNotListening(t *testing.T) {
	s := testServer(t, 0, 0)
	require.Error(t, s.Serve(context.Background()))
}

func TestStopEndsServe(t *testing.T) {
	s := testServer(t, 0, 0)
	require.NoError(t, s.Listen())
	done := make(chan error)
	go func() {
		done <- s.Serve(context.Background())
	}()
	stats := s.Stats.(*JSONStats)
	require.Eventually(t, func() bool {
		return stats.workers.Load() == 2
	}, 5*time.Second, 10*time.Millisecond)
	s.Stop()
	require.NoError(t, <-done)
	require.Equal(t, int64(0), stats.workers.Load())
	require.Equal(t, int64(0), stats.listeners.Load())
}

func TestClientAgainstResponder(t *testing.T) {
	const serverAhead = 3 * time.Second
	cfg := DefaultConfig()
	cfg.IPs = MultiIPs{net.ParseIP("127.0.0.1")}
	cfg.Port = 0
	cfg.TimeSource = "monotonic"
	cfg.ExtraOffset = serverAhead
	s, err := New(*cfg, &JSONStats{})
	require.NoError(t, err)
	addr := serve(t, s)

	ccfg := client.DefaultConfig()
	ccfg.Server = addr.IP.String()
	ccfg.Port = addr.Port
	ccfg.Interval = 10 * time.Millisecond
	c, err := client.New(ccfg, client.NewStats())
	require.NoError(t, err)
	require.NoError(t, c.Start(context.Background()))
	defer c.Stop()

	require.Eventually(t, func() bool {
		return c.GetMetadata().PongsReceived >= 5
	}, 10*time.Second, 10*time.Millisecond)
	md := c.GetMetadata()
	require.LessOrEqual(t, md.PongsReceived, md.PingsSent)
	// both ends share the clock, so offset is just the configured shift
	require.InDelta(t, serverAhead.Microseconds(), md.Offset, float64(10*time.Millisecond/time.Microsecond))
}
