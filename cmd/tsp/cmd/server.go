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
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/facebook/timesync/tsp/responder"
)

var (
	serverConfigFlag         string
	serverIPsFlag            responder.MultiIPs
	serverPortFlag           int
	serverWorkersFlag        int
	serverTimeSourceFlag     string
	serverExtraOffsetFlag    time.Duration
	serverMonitoringPortFlag int
)

func init() {
	defaults := responder.DefaultConfig()
	RootCmd.AddCommand(serverCmd)
	serverCmd.Flags().StringVarP(&serverConfigFlag, "config", "c", "", "path to the config")
	serverCmd.Flags().Var(&serverIPsFlag, "ip", "IP to listen on. Repeat for multiple IPs")
	serverCmd.Flags().IntVarP(&serverPortFlag, "port", "p", defaults.Port, "port to listen on")
	serverCmd.Flags().IntVarP(&serverWorkersFlag, "workers", "w", defaults.Workers, "number of workers answering pings")
	serverCmd.Flags().StringVar(&serverTimeSourceFlag, "timesource", defaults.TimeSource, "clock used for server time, monotonic or realtime")
	serverCmd.Flags().DurationVar(&serverExtraOffsetFlag, "extraoffset", defaults.ExtraOffset, "offset added to every server time")
	serverCmd.Flags().IntVar(&serverMonitoringPortFlag, "monitoringport", defaults.MonitoringPort, "port to start monitoring http server on, 0 disables it")
}

// prepareServerConfig merges flags set by user on top of config file or defaults
func prepareServerConfig(setFlags map[string]bool) (*responder.Config, error) {
	cfg := responder.DefaultConfig()
	if serverConfigFlag != "" {
		var err error
		if cfg, err = responder.ReadConfig(serverConfigFlag); err != nil {
			return nil, err
		}
	}
	if setFlags["ip"] {
		cfg.IPs = serverIPsFlag
	}
	if setFlags["port"] {
		cfg.Port = serverPortFlag
	}
	if setFlags["workers"] {
		cfg.Workers = serverWorkersFlag
	}
	if setFlags["timesource"] {
		cfg.TimeSource = serverTimeSourceFlag
	}
	if setFlags["extraoffset"] {
		cfg.ExtraOffset = serverExtraOffsetFlag
	}
	if setFlags["monitoringport"] {
		cfg.MonitoringPort = serverMonitoringPortFlag
	}
	cfg.IPs.SetDefault()
	return cfg, cfg.Validate()
}

var serverCmd = &cobra.Command{
	Use:   "server",
	Short: "Answer TSP pings",
	Run: func(cmd *cobra.Command, _ []string) {
		ConfigureVerbosity()

		cfg, err := prepareServerConfig(changedFlags(cmd))
		if err != nil {
			log.Fatal(err)
		}
		stats := &responder.JSONStats{}
		s, err := responder.New(*cfg, stats)
		if err != nil {
			log.Fatal(err)
		}
		if cfg.MonitoringPort != 0 {
			go stats.Start(cfg.MonitoringPort)
		}

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		if err := s.Start(ctx); err != nil {
			log.Fatal(err)
		}
	},
}
