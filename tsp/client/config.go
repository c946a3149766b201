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
	"fmt"
	"net"
	"os"
	"strconv"
	"time"

	log "github.com/sirupsen/logrus"
	yaml "gopkg.in/yaml.v2"

	"github.com/facebook/timesync/tsp/filter"
	"github.com/facebook/timesync/tsp/timesource"
)

// DefaultPort is the port TSP servers listen on
const DefaultPort = 5810

// Config specifies TSP client run options
type Config struct {
	Server                   string        `yaml:"server"`                   // address or hostname of the TSP server
	Port                     int           `yaml:"port"`                     // UDP port of the TSP server
	Interval                 time.Duration `yaml:"interval"`                 // how often to send pings
	DSCP                     int           `yaml:"dscp"`                     // DSCP for ping packets, 0-63
	TimeSource               string        `yaml:"timesource"`               // local clock, see timesource package
	Filter                   filter.Config `yaml:"filter"`                   // how raw offsets are smoothed
	MonitoringPort           int           `yaml:"monitoringport"`           // port for http stats, 0 disables it
	MetricsAggregationWindow time.Duration `yaml:"metricsaggregationwindow"` // how often aggregated stats are published
}

// DefaultConfig returns Config initialized with default values
func DefaultConfig() *Config {
	return &Config{
		Port:                     DefaultPort,
		Interval:                 time.Second,
		TimeSource:               timesource.MonotonicName,
		Filter:                   filter.DefaultConfig(),
		MetricsAggregationWindow: time.Minute,
	}
}

// Validate config is sane
func (c *Config) Validate() error {
	if c.Server == "" {
		return fmt.Errorf("server must be specified")
	}
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("port must be within 1-65535")
	}
	if c.Interval <= 0 {
		return fmt.Errorf("interval must be greater than zero")
	}
	if c.DSCP < 0 || c.DSCP > 63 {
		return fmt.Errorf("dscp must be within 0-63")
	}
	if _, err := timesource.ByName(c.TimeSource); err != nil {
		return err
	}
	if err := c.Filter.Validate(); err != nil {
		return fmt.Errorf("invalid filter config: %w", err)
	}
	if c.MonitoringPort < 0 {
		return fmt.Errorf("monitoringport must be 0 or positive")
	}
	if c.MetricsAggregationWindow <= 0 {
		return fmt.Errorf("metricsaggregationwindow must be greater than zero")
	}
	return nil
}

// ServerAddress returns host:port of the server
func (c *Config) ServerAddress() string {
	return net.JoinHostPort(c.Server, strconv.Itoa(c.Port))
}

// ReadConfig reads config from the file
func ReadConfig(path string) (*Config, error) {
	c := DefaultConfig()
	cData, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	if err = yaml.UnmarshalStrict(cData, c); err != nil {
		return nil, err
	}

	return c, nil
}

// PrepareConfig prepares final version of config based on defaults, CLI flags and on-disk config, and validates resulting config
func PrepareConfig(cfgPath string, server string, port int, interval time.Duration, monitoringPort int, setFlags map[string]bool) (*Config, error) {
	cfg := DefaultConfig()
	var err error
	warn := func(name string) {
		log.Warningf("overriding %s from CLI flag", name)
	}
	if cfgPath != "" {
		cfg, err = ReadConfig(cfgPath)
		if err != nil {
			return nil, fmt.Errorf("reading config from %q: %w", cfgPath, err)
		}
	}
	if setFlags["server"] {
		if cfgPath != "" {
			warn("server")
		}
		cfg.Server = server
	}
	if setFlags["port"] {
		if cfgPath != "" {
			warn("port")
		}
		cfg.Port = port
	}
	if setFlags["interval"] {
		if cfgPath != "" {
			warn("interval")
		}
		cfg.Interval = interval
	}
	if setFlags["monitoringport"] {
		if cfgPath != "" {
			warn("monitoringport")
		}
		cfg.MonitoringPort = monitoringPort
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}
	log.Debugf("config: %+v", cfg)
	return cfg, nil
}
