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
	"strings"

	"github.com/prometheus/client_golang/prometheus"
)

const promNamespace = "tsp"

// metadataCollector exports a Metadata snapshot on every scrape
type metadataCollector struct {
	source MetadataSource

	offset        *prometheus.Desc
	rtt2          *prometheus.Desc
	pingsSent     *prometheus.Desc
	pongsReceived *prometheus.Desc
	lastPongTime  *prometheus.Desc
}

func newMetadataCollector(source MetadataSource) *metadataCollector {
	desc := func(name, help string) *prometheus.Desc {
		return prometheus.NewDesc(prometheus.BuildFQName(promNamespace, "", name), help, nil, nil)
	}
	return &metadataCollector{
		source:        source,
		offset:        desc("offset_us", "Filtered offset of server clock from local clock"),
		rtt2:          desc("rtt2_us", "Round trip time of the last accepted exchange"),
		pingsSent:     desc("pings_sent_total", "Pings fully written to the socket"),
		pongsReceived: desc("pongs_received_total", "Pongs accepted as replies"),
		lastPongTime:  desc("last_pong_time_us", "Local time of the last accepted pong"),
	}
}

// Describe implements prometheus.Collector
func (c *metadataCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.offset
	ch <- c.rtt2
	ch <- c.pingsSent
	ch <- c.pongsReceived
	ch <- c.lastPongTime
}

// Collect implements prometheus.Collector
func (c *metadataCollector) Collect(ch chan<- prometheus.Metric) {
	m := c.source.GetMetadata()
	ch <- prometheus.MustNewConstMetric(c.offset, prometheus.GaugeValue, float64(m.Offset))
	ch <- prometheus.MustNewConstMetric(c.rtt2, prometheus.GaugeValue, float64(m.RTT2))
	ch <- prometheus.MustNewConstMetric(c.pingsSent, prometheus.CounterValue, float64(m.PingsSent))
	ch <- prometheus.MustNewConstMetric(c.pongsReceived, prometheus.CounterValue, float64(m.PongsReceived))
	ch <- prometheus.MustNewConstMetric(c.lastPongTime, prometheus.GaugeValue, float64(m.LastPongTime))
}

// countersCollector exports whatever counters exist at scrape time.
// It is unchecked as the set of counters is not known upfront.
type countersCollector struct {
	stats *Stats
}

// Describe implements prometheus.Collector
func (c *countersCollector) Describe(chan<- *prometheus.Desc) {}

// Collect implements prometheus.Collector
func (c *countersCollector) Collect(ch chan<- prometheus.Metric) {
	for k, v := range c.stats.GetCounters() {
		desc := prometheus.NewDesc(flattenKey(k), k, nil, nil)
		ch <- prometheus.MustNewConstMetric(desc, prometheus.GaugeValue, float64(v))
	}
}

func newRegistry(source MetadataSource, stats *Stats) *prometheus.Registry {
	r := prometheus.NewRegistry()
	r.MustRegister(newMetadataCollector(source), &countersCollector{stats: stats})
	return r
}

func flattenKey(key string) string {
	return strings.NewReplacer(" ", "_", ".", "_", "-", "_", "=", "_", "/", "_").Replace(key)
}
