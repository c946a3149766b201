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
	"fmt"
	"io"
	"math"
	"os"
	"strconv"
	"time"

	"github.com/Knetic/govaluate"
	"github.com/davecgh/go-spew/spew"
	"github.com/fatih/color"
	"github.com/olekukonko/tablewriter"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/facebook/timesync/tsp/client"
	"github.com/facebook/timesync/tsp/filter"
)

// DefaultHealthExpression marks a probe healthy when most pings are answered quickly
const DefaultHealthExpression = "received > 0 && loss <= 0.5 && rtt2 < 100000"

var (
	probeServerFlag   string
	probePortFlag     int
	probeIntervalFlag time.Duration
	probeCountFlag    int
	probeTimeoutFlag  time.Duration
	probeExprFlag     string
	probeDumpFlag     bool
)

var okString = color.GreenString("[ OK ]")
var failString = color.RedString("[FAIL]")

func init() {
	RootCmd.AddCommand(probeCmd)
	probeCmd.Flags().StringVarP(&probeServerFlag, "server", "S", "", "TSP server to probe")
	probeCmd.Flags().IntVarP(&probePortFlag, "port", "p", client.DefaultPort, "port of the TSP server")
	probeCmd.Flags().DurationVarP(&probeIntervalFlag, "interval", "i", 100*time.Millisecond, "how often to send pings")
	probeCmd.Flags().IntVarP(&probeCountFlag, "count", "n", 5, "stop after this many pongs")
	probeCmd.Flags().DurationVarP(&probeTimeoutFlag, "timeout", "t", 5*time.Second, "give up waiting for pongs after this long")
	probeCmd.Flags().StringVarP(&probeExprFlag, "expr", "e", DefaultHealthExpression, "health expression over offset, rtt2, sent, received and loss")
	probeCmd.Flags().BoolVar(&probeDumpFlag, "dump", false, "dump final snapshot")
}

// functions available in health expressions
var functions = map[string]govaluate.ExpressionFunction{
	"abs": func(args ...interface{}) (interface{}, error) {
		if len(args) != 1 {
			return nil, fmt.Errorf("abs: wrong number of arguments: want 1, got %d", len(args))
		}
		val, ok := args[0].(float64)
		if !ok {
			return nil, fmt.Errorf("abs: argument must be a number")
		}
		return math.Abs(val), nil
	},
}

var supportedVars = map[string]bool{
	"offset":   true,
	"rtt2":     true,
	"sent":     true,
	"received": true,
	"loss":     true,
}

func prepareExpression(exprStr string) (*govaluate.EvaluableExpression, error) {
	expr, err := govaluate.NewEvaluableExpressionWithFunctions(exprStr, functions)
	if err != nil {
		return nil, err
	}
	for _, v := range expr.Vars() {
		if !supportedVars[v] {
			return nil, fmt.Errorf("unsupported variable %q", v)
		}
	}
	return expr, nil
}

func healthParameters(md client.Metadata) map[string]interface{} {
	return map[string]interface{}{
		"offset":   float64(md.Offset),
		"rtt2":     float64(md.RTT2),
		"sent":     float64(md.PingsSent),
		"received": float64(md.PongsReceived),
		"loss":     md.Loss(),
	}
}

// evaluateHealth runs exprStr against md. Expression must produce a boolean.
func evaluateHealth(exprStr string, md client.Metadata) (bool, error) {
	expr, err := prepareExpression(exprStr)
	if err != nil {
		return false, err
	}
	res, err := expr.Evaluate(healthParameters(md))
	if err != nil {
		return false, err
	}
	healthy, ok := res.(bool)
	if !ok {
		return false, fmt.Errorf("expression %q evaluated to %v, expected boolean", exprStr, res)
	}
	return healthy, nil
}

// printSnapshots prints a table row per accepted exchange
func printSnapshots(w io.Writer, snapshots []client.Metadata) error {
	table := tablewriter.NewWriter(w)
	table.Header("#", "Offset (us)", "RTT2 (us)", "Sent", "Received")
	for i, md := range snapshots {
		if err := table.Append([]string{
			strconv.Itoa(i + 1),
			strconv.FormatInt(md.Offset, 10),
			strconv.FormatUint(md.RTT2, 10),
			strconv.FormatUint(md.PingsSent, 10),
			strconv.FormatUint(md.PongsReceived, 10),
		}); err != nil {
			return err
		}
	}
	return table.Render()
}

// collectSnapshots records metadata every time a new pong is accepted, until count pongs or ctx is done
func collectSnapshots(ctx context.Context, c *client.Client, count int, poll time.Duration) []client.Metadata {
	snapshots := []client.Metadata{}
	var seen uint64
	ticker := time.NewTicker(poll)
	defer ticker.Stop()
	for len(snapshots) < count {
		select {
		case <-ctx.Done():
			return snapshots
		case <-ticker.C:
			md := c.GetMetadata()
			if md.PongsReceived > seen {
				seen = md.PongsReceived
				snapshots = append(snapshots, md)
			}
		}
	}
	return snapshots
}

func runProbe(w io.Writer) (bool, error) {
	cfg := client.DefaultConfig()
	cfg.Server = probeServerFlag
	cfg.Port = probePortFlag
	cfg.Interval = probeIntervalFlag
	// report every exchange as is
	cfg.Filter.Type = filter.FilterNone
	if probeCountFlag < 1 {
		return false, fmt.Errorf("count must be positive")
	}
	// fail on bad expression before sending anything
	if _, err := prepareExpression(probeExprFlag); err != nil {
		return false, err
	}

	c, err := client.New(cfg, client.NewStats())
	if err != nil {
		return false, err
	}
	ctx, cancel := context.WithTimeout(context.Background(), probeTimeoutFlag)
	defer cancel()
	if err := c.Start(ctx); err != nil {
		return false, err
	}
	snapshots := collectSnapshots(ctx, c, probeCountFlag, max(probeIntervalFlag/4, time.Millisecond))
	c.Stop()

	if len(snapshots) > 0 {
		if err := printSnapshots(w, snapshots); err != nil {
			return false, err
		}
	}
	final := c.GetMetadata()
	if probeDumpFlag {
		spew.Fdump(w, final)
	}
	healthy, err := evaluateHealth(probeExprFlag, final)
	if err != nil {
		return false, err
	}
	verdict := failString
	if healthy {
		verdict = okString
	}
	fmt.Fprintf(w, "%s %s: offset %s, rtt2 %dus, %d/%d pongs\n",
		verdict,
		cfg.ServerAddress(),
		color.BlueString("%dus", final.Offset),
		final.RTT2,
		final.PongsReceived,
		final.PingsSent,
	)
	return healthy, nil
}

var probeCmd = &cobra.Command{
	Use:   "probe",
	Short: "Exchange a few pings with a TSP server and report health",
	Run: func(_ *cobra.Command, _ []string) {
		ConfigureVerbosity()

		healthy, err := runProbe(os.Stdout)
		if err != nil {
			log.Fatal(err)
		}
		if !healthy {
			os.Exit(1)
		}
	},
}
