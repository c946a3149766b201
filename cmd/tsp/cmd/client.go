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

	"github.com/facebook/timesync/tsp/client"
	"github.com/facebook/timesync/tsp/timesource"
)

var (
	clientConfigFlag         string
	clientServerFlag         string
	clientPortFlag           int
	clientIntervalFlag       time.Duration
	clientMonitoringPortFlag int
	clientReportFlag         time.Duration
)

func init() {
	defaults := client.DefaultConfig()
	RootCmd.AddCommand(clientCmd)
	clientCmd.Flags().StringVarP(&clientConfigFlag, "config", "c", "", "path to the config")
	clientCmd.Flags().StringVarP(&clientServerFlag, "server", "S", "", "TSP server to sync with")
	clientCmd.Flags().IntVarP(&clientPortFlag, "port", "p", defaults.Port, "port of the TSP server")
	clientCmd.Flags().DurationVarP(&clientIntervalFlag, "interval", "i", defaults.Interval, "how often to send pings")
	clientCmd.Flags().IntVar(&clientMonitoringPortFlag, "monitoringport", defaults.MonitoringPort, "port to start monitoring http server on, 0 disables it")
	clientCmd.Flags().DurationVar(&clientReportFlag, "report", 10*time.Second, "how often to log current offset")
}

// logSnapshot logs one line describing current sync state
func logSnapshot(c *client.Client, now timesource.Func) {
	md := c.GetMetadata()
	if !md.Synced() {
		log.Warningf("not synced yet: sent %d pings, got no pongs", md.PingsSent)
		return
	}
	log.WithFields(log.Fields{
		"offset":   md.Offset,
		"rtt2":     md.RTT2,
		"sent":     md.PingsSent,
		"received": md.PongsReceived,
		"age":      md.SinceLastPong(now()),
	}).Info("offset to server")
}

func runClient(cfg *client.Config, report time.Duration) error {
	now, err := timesource.ByName(cfg.TimeSource)
	if err != nil {
		return err
	}
	stats := client.NewJSONStats()
	c, err := client.New(cfg, stats)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := c.Start(ctx); err != nil {
		return err
	}
	defer c.Stop()

	if cfg.MonitoringPort != 0 {
		go stats.Start(cfg.MonitoringPort, cfg.MetricsAggregationWindow, c)
	}

	ticker := time.NewTicker(report)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			log.Info("shutting down")
			return nil
		case <-ticker.C:
			logSnapshot(c, now)
		}
	}
}

var clientCmd = &cobra.Command{
	Use:   "client",
	Short: "Continuously estimate offset to a TSP server",
	Run: func(cmd *cobra.Command, _ []string) {
		ConfigureVerbosity()

		cfg, err := client.PrepareConfig(clientConfigFlag, clientServerFlag, clientPortFlag, clientIntervalFlag, clientMonitoringPortFlag, changedFlags(cmd))
		if err != nil {
			log.Fatal(err)
		}
		if err := runClient(cfg, clientReportFlag); err != nil {
			log.Fatal(err)
		}
	},
}
