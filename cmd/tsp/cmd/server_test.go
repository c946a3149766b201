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
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/facebook/timesync/tsp/responder"
)

func TestPrepareServerConfig(t *testing.T) {
	serverConfigFlag = ""
	cfg, err := prepareServerConfig(map[string]bool{})
	require.NoError(t, err)
	require.Equal(t, responder.DefaultServerIPs, cfg.IPs)
	require.Equal(t, 5810, cfg.Port)

	cfgFile := filepath.Join(t.TempDir(), "responder.yaml")
	require.NoError(t, os.WriteFile(cfgFile, []byte("workers: 8\nport: 9999\n"), 0644))
	serverConfigFlag = cfgFile
	serverIPsFlag = responder.MultiIPs{net.ParseIP("10.0.0.1")}
	serverPortFlag = 1234
	serverExtraOffsetFlag = time.Millisecond
	cfg, err = prepareServerConfig(map[string]bool{"ip": true, "extraoffset": true})
	require.NoError(t, err)
	require.Equal(t, 8, cfg.Workers)
	require.Equal(t, 9999, cfg.Port)
	require.Equal(t, time.Millisecond, cfg.ExtraOffset)
	require.Equal(t, serverIPsFlag, cfg.IPs)

	serverWorkersFlag = 0
	_, err = prepareServerConfig(map[string]bool{"workers": true})
	require.Error(t, err)
	serverConfigFlag = ""
}
