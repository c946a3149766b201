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

package cmd

import (
	"bytes"
	"context"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/facebook/timesync/tsp/client"
	"github.com/facebook/timesync/tsp/responder"
)

func TestPrepareExpression(t *testing.T) {
	_, err := prepareExpression(DefaultHealthExpression)
	require.NoError(t, err)

	_, err = prepareExpression("abs(offset) < 1000 && loss == 0")
	require.NoError(t, err)

	_, err = prepareExpression("jitter < 10")
	require.ErrorContains(t, err, "unsupported variable")

	_, err = prepareExpression("offset <")
	require.Error(t, err)
}

func TestEvaluateHealth(t *testing.T) {
	md := client.Metadata{Offset: -3950, RTT2: 100, PingsSent: 4, PongsReceived: 3}

	healthy, err := evaluateHealth(DefaultHealthExpression, md)
	require.NoError(t, err)
	require.True(t, healthy)

	healthy, err = evaluateHealth("abs(offset) < 1000", md)
	require.NoError(t, err)
	require.False(t, healthy)

	healthy, err = evaluateHealth("loss == 0.25 && sent == 4 && received == 3", md)
	require.NoError(t, err)
	require.True(t, healthy)

	healthy, err = evaluateHealth(DefaultHealthExpression, client.Metadata{PingsSent: 5})
	require.NoError(t, err)
	require.False(t, healthy)

	_, err = evaluateHealth("rtt2 * 2", md)
	require.ErrorContains(t, err, "expected boolean")
}

func TestPrintSnapshots(t *testing.T) {
	var buf bytes.Buffer
	err := printSnapshots(&buf, []client.Metadata{
		{Offset: 3950, RTT2: 100, PingsSent: 1, PongsReceived: 1},
		{Offset: -12, RTT2: 87, PingsSent: 2, PongsReceived: 2},
	})
	require.NoError(t, err)
	out := buf.String()
	require.Contains(t, out, "3950")
	require.Contains(t, out, "-12")
	require.Contains(t, out, "87")
	require.Equal(t, 1, strings.Count(out, "3950"))
}

func TestRunProbe(t *testing.T) {
	cfg := responder.DefaultConfig()
	cfg.IPs = responder.MultiIPs{net.ParseIP("127.0.0.1")}
	cfg.Port = 0
	s, err := responder.New(*cfg, &responder.JSONStats{})
	require.NoError(t, err)
	require.NoError(t, s.Listen())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		_ = s.Serve(ctx)
	}()
	addr := s.Addrs()[0].(*net.UDPAddr)

	probeServerFlag = "127.0.0.1"
	probePortFlag = addr.Port
	probeIntervalFlag = 10 * time.Millisecond
	probeCountFlag = 3
	probeTimeoutFlag = 5 * time.Second
	probeExprFlag = "received >= 3"
	probeDumpFlag = true

	var buf bytes.Buffer
	healthy, err := runProbe(&buf)
	require.NoError(t, err)
	require.True(t, healthy)
	require.Contains(t, buf.String(), "PongsReceived")
	require.Contains(t, buf.String(), "[ OK ]")

	probeCountFlag = 0
	_, err = runProbe(&buf)
	require.Error(t, err)

	probeCountFlag = 3
	probeExprFlag = "jitter > 0"
	_, err = runProbe(&buf)
	require.Error(t, err)
}
