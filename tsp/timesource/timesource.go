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
Package timesource provides microsecond clocks used to stamp TSP messages.
*/
package timesource

import (
	"fmt"
	"time"

	"golang.org/x/sys/unix"
)

// Supported time sources
const (
	MonotonicName = "monotonic"
	RealtimeName  = "realtime"
)

// Func returns current local time in microseconds
type Func func() uint64

// Monotonic returns CLOCK_MONOTONIC in microseconds.
// It never goes backwards for the lifetime of the process.
func Monotonic() uint64 {
	var ts unix.Timespec
	if err := unix.ClockGettime(unix.CLOCK_MONOTONIC, &ts); err != nil {
		// CLOCK_MONOTONIC is always available on supported platforms
		panic(fmt.Sprintf("clock_gettime(CLOCK_MONOTONIC): %v", err))
	}
	return uint64(ts.Nano() / int64(time.Microsecond))
}

// Realtime returns unix time in microseconds
func Realtime() uint64 {
	return uint64(time.Now().UnixMicro())
}

// ByName returns time source by its config name
func ByName(name string) (Func, error) {
	switch name {
	case MonotonicName, "":
		return Monotonic, nil
	case RealtimeName:
		return Realtime, nil
	}
	return nil, fmt.Errorf("time source must be either %q or %q, got %q", MonotonicName, RealtimeName, name)
}
