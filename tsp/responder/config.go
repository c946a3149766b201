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
	"fmt"
	"net"
	"os"
	"strings"
	"time"

	yaml "gopkg.in/yaml.v2"

	"github.com/facebook/timesync/tsp/timesource"
)

// DefaultServerIPs is a default list of IPs server will bind to if nothing else is specified
var DefaultServerIPs = MultiIPs{net.ParseIP("::")}

// Config is a server config structure
type Config struct {
	IPs            MultiIPs      `yaml:"ips"`
	Port           int           `yaml:"port"`
	Workers        int           `yaml:"workers"`
	TimeSource     string        `yaml:"timesource"`
	ExtraOffset    time.Duration `yaml:"extraoffset"`
	MonitoringPort int           `yaml:"monitoringport"`
}

// DefaultConfig returns Config initialized with default values
func DefaultConfig() *Config {
	return &Config{
		Port:       5810,
		Workers:    4,
		TimeSource: timesource.RealtimeName,
	}
}

// MultiIPs is a wrapper allowing to set multiple IPs with flag parser
type MultiIPs []net.IP

// Set adds ip to the list
func (m *MultiIPs) Set(ipaddr string) error {
	ip := net.ParseIP(ipaddr)
	if ip == nil {
		return fmt.Errorf("invalid ip address %s", ipaddr)
	}
	*m = append([]net.IP(*m), ip)
	return nil
}

// String returns joined list of ips
func (m *MultiIPs) String() string {
	ips := make([]string, 0, len(*m))
	for _, ip := range *m {
		ips = append(ips, ip.String())
	}
	return strings.Join(ips, ", ")
}

// Type is used by flag parsers to describe the value
func (m *MultiIPs) Type() string {
	return "ip"
}

// UnmarshalYAML parses list of ip strings
func (m *MultiIPs) UnmarshalYAML(unmarshal func(interface{}) error) error {
	var ips []string
	if err := unmarshal(&ips); err != nil {
		return err
	}
	*m = nil
	for _, ip := range ips {
		if err := m.Set(ip); err != nil {
			return err
		}
	}
	return nil
}

// SetDefault sets default ips if none are set
func (m *MultiIPs) SetDefault() {
	if len(*m) != 0 {
		return
	}

	*m = DefaultServerIPs
}

// Validate checks if config is valid
func (c *Config) Validate() error {
	if c.Workers < 1 {
		return fmt.Errorf("will not start without workers")
	}
	if c.Port < 0 || c.Port > 65535 {
		return fmt.Errorf("port must be within 0-65535")
	}
	if c.MonitoringPort < 0 {
		return fmt.Errorf("monitoringport must be 0 or positive")
	}
	if _, err := timesource.ByName(c.TimeSource); err != nil {
		return err
	}
	return nil
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
