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

/*
Package filter implements smoothing filters for raw clock offset samples.

Every filter is deterministic for a given input sequence, keeps bounded
state, and returns the sample itself for the very first input.
*/
package filter

import (
	"fmt"
	"math"
)

// Supported filter types
const (
	FilterNone   = "none"
	FilterMedian = "median"
	FilterMean   = "mean"
	FilterEMA    = "ema"
)

// Filter turns a raw offset sample (microseconds) into a filtered estimate
type Filter interface {
	Sample(raw int64) int64
	Reset()
}

// Config describes which filter to use and how
type Config struct {
	Type   string  `yaml:"type"`   // see supported filter types const
	Length int     `yaml:"length"` // window size for median and mean
	Alpha  float64 `yaml:"alpha"`  // weight of a new sample for ema
}

// DefaultConfig returns the median filter over 5 samples
func DefaultConfig() Config {
	return Config{
		Type:   FilterMedian,
		Length: 5,
		Alpha:  0.1,
	}
}

// Validate Config is sane
func (c *Config) Validate() error {
	switch c.Type {
	case FilterNone:
	case FilterMedian, FilterMean:
		if c.Length < 1 {
			return fmt.Errorf("length must be at least 1 for %q filter", c.Type)
		}
	case FilterEMA:
		if math.IsNaN(c.Alpha) || c.Alpha <= 0 || c.Alpha > 1 {
			return fmt.Errorf("alpha must be within (0, 1] for %q filter", c.Type)
		}
	default:
		return fmt.Errorf("filter type must be either %q, %q, %q or %q", FilterNone, FilterMedian, FilterMean, FilterEMA)
	}
	return nil
}

// New creates the filter described by c
func New(c Config) (Filter, error) {
	if err := c.Validate(); err != nil {
		return nil, err
	}
	switch c.Type {
	case FilterMedian:
		return NewMedian(c.Length), nil
	case FilterMean:
		return NewMean(c.Length), nil
	case FilterEMA:
		return NewEMA(c.Alpha), nil
	}
	return None{}, nil
}

// None passes samples through untouched
type None struct{}

// Sample returns raw
func (None) Sample(raw int64) int64 { return raw }

// Reset is a noop
func (None) Reset() {}

// Median returns the median of the last N samples
type Median struct {
	w *slidingWindow
}

// NewMedian creates a median filter over length samples
func NewMedian(length int) *Median {
	return &Median{w: newSlidingWindow(length)}
}

// Sample adds raw to the window and returns the current median
func (m *Median) Sample(raw int64) int64 {
	m.w.add(raw)
	return m.w.median()
}

// Reset drops all history
func (m *Median) Reset() {
	m.w.reset()
}

// Mean returns the arithmetic mean of the last N samples, truncated toward zero
type Mean struct {
	w *slidingWindow
}

// NewMean creates a mean filter over length samples
func NewMean(length int) *Mean {
	return &Mean{w: newSlidingWindow(length)}
}

// Sample adds raw to the window and returns the current mean
func (m *Mean) Sample(raw int64) int64 {
	m.w.add(raw)
	return m.w.mean()
}

// Reset drops all history
func (m *Mean) Reset() {
	m.w.reset()
}

// EMA is an exponential moving average
type EMA struct {
	alpha  float64
	value  float64
	seeded bool
}

// NewEMA creates an EMA filter where alpha is the weight of a new sample
func NewEMA(alpha float64) *EMA {
	return &EMA{alpha: alpha}
}

// Sample folds raw into the average
func (e *EMA) Sample(raw int64) int64 {
	if !e.seeded {
		e.value = float64(raw)
		e.seeded = true
		return raw
	}
	e.value += e.alpha * (float64(raw) - e.value)
	return int64(math.Round(e.value))
}

// Reset forgets the average, next sample seeds it again
func (e *EMA) Reset() {
	e.value = 0
	e.seeded = false
}
