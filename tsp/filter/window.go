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

package filter

import (
	"slices"
)

// slidingWindow keeps the last size samples in a ring
type slidingWindow struct {
	size        int
	currentSize int
	head        int
	samples     []int64
	sorted      []int64
}

func newSlidingWindow(size int) *slidingWindow {
	if size < 1 {
		size = 1
	}
	return &slidingWindow{
		size:    size,
		samples: make([]int64, size),
		sorted:  make([]int64, 0, size),
	}
}

func (w *slidingWindow) add(sample int64) {
	if !w.Full() {
		w.currentSize++
	}
	w.samples[w.head] = sample
	w.head = (w.head + 1) % w.size
}

// allSamples returns samples currently held, oldest first
func (w *slidingWindow) allSamples() []int64 {
	res := make([]int64, 0, w.currentSize)
	start := w.head - w.currentSize
	if start < 0 {
		start += w.size
	}
	for i := range w.currentSize {
		res = append(res, w.samples[(start+i)%w.size])
	}
	return res
}

func (w *slidingWindow) median() int64 {
	if w.currentSize == 0 {
		return 0
	}
	w.sorted = w.sorted[:0]
	if w.Full() {
		w.sorted = append(w.sorted, w.samples...)
	} else {
		w.sorted = append(w.sorted, w.allSamples()...)
	}
	slices.Sort(w.sorted)
	l := len(w.sorted)
	if l%2 == 0 {
		return midpoint(w.sorted[l/2-1], w.sorted[l/2])
	}
	return w.sorted[l/2]
}

// mean is sum/n truncated toward zero, without overflowing on the sum
func (w *slidingWindow) mean() int64 {
	if w.currentSize == 0 {
		return 0
	}
	n := int64(w.currentSize)
	var q, r int64
	for i := range w.currentSize {
		s := w.samples[(w.head-w.currentSize+i+w.size)%w.size]
		q += s / n
		r += s % n
	}
	q += r / n
	r %= n
	switch {
	case q > 0 && r < 0:
		q--
	case q < 0 && r > 0:
		q++
	}
	return q
}

// midpoint is (a+b)/2 truncated toward zero for a <= b, without overflow
func midpoint(a, b int64) int64 {
	if (a < 0) != (b < 0) {
		return (a + b) / 2
	}
	if b < 0 {
		return b - (b-a)/2
	}
	return a + (b-a)/2
}

func (w *slidingWindow) reset() {
	w.currentSize = 0
	w.head = 0
	clear(w.samples)
}

func (w *slidingWindow) Full() bool {
	return w.currentSize == w.size
}
