// Copyright 2020 Anapaya Systems
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//   http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package metrics

import (
	"sort"
	"strings"
	"sync"
)

// store keeps one value per label set. Histograms use two entries per label
// set, one for the sum and one for the count of observations. All metrics derived from the same
// test metric via With share it.
type store struct {
	mtx    sync.Mutex
	values map[string]float64
}

func newStore() *store {
	return &store{values: make(map[string]float64)}
}

func (s *store) add(key string, delta float64, canBeNegative bool) {
	s.mtx.Lock()
	defer s.mtx.Unlock()
	if !canBeNegative && delta < 0 {
		panic("counter increment value is < 0")
	}
	s.values[key] += delta
}

func (s *store) set(key string, v float64) {
	s.mtx.Lock()
	defer s.mtx.Unlock()
	s.values[key] = v
}

func (s *store) value(key string) float64 {
	s.mtx.Lock()
	defer s.mtx.Unlock()
	return s.values[key]
}

// key renders the label values independent of the order they were given in.
func key(lvs []string) string {
	pairs := make([]string, 0, len(lvs)/2)
	for i := 0; i+1 < len(lvs); i += 2 {
		pairs = append(pairs, lvs[i]+"="+lvs[i+1])
	}
	sort.Strings(pairs)
	return strings.Join(pairs, ",")
}

// TestCounter implements a counter for use in tests.
type TestCounter struct {
	s   *store
	lvs []string
}

// NewTestCounter creates a new counter for use in tests.
func NewTestCounter() *TestCounter {
	return &TestCounter{s: newStore()}
}

// With returns a counter with additional labels. It shares its storage with
// the parent counter.
func (c *TestCounter) With(labelValues ...string) Counter {
	return &TestCounter{s: c.s, lvs: append(append([]string(nil), c.lvs...), labelValues...)}
}

// Add increases the value of the counter by delta. Delta must not be negative.
func (c *TestCounter) Add(delta float64) {
	c.s.add(key(c.lvs), delta, false)
}

// CounterValue extracts the value out of a TestCounter. If the argument is not
// a *TestCounter, CounterValue will panic.
func CounterValue(c Counter) float64 {
	tc := c.(*TestCounter)
	return tc.s.value(key(tc.lvs))
}

// TestGauge implements a gauge for use in tests.
type TestGauge struct {
	s   *store
	lvs []string
}

// NewTestGauge creates a new gauge for use in tests.
func NewTestGauge() *TestGauge {
	return &TestGauge{s: newStore()}
}

// With returns a gauge with additional labels. It shares its storage with the
// parent gauge.
func (g *TestGauge) With(labelValues ...string) Gauge {
	return &TestGauge{s: g.s, lvs: append(append([]string(nil), g.lvs...), labelValues...)}
}

// Set sets the value of the gauge.
func (g *TestGauge) Set(v float64) {
	g.s.set(key(g.lvs), v)
}

// Add changes the value of the gauge by delta.
func (g *TestGauge) Add(delta float64) {
	g.s.add(key(g.lvs), delta, true)
}

// GaugeValue extracts the value out of a TestGauge. If the argument is not a
// *TestGauge, GaugeValue will panic.
func GaugeValue(g Gauge) float64 {
	tg := g.(*TestGauge)
	return tg.s.value(key(tg.lvs))
}

// TestHistogram implements a histogram for use in tests. It tracks the sum
// and the number of observations per label set.
type TestHistogram struct {
	s   *store
	lvs []string
}

// NewTestHistogram creates a new histogram for use in tests.
func NewTestHistogram() *TestHistogram {
	return &TestHistogram{s: newStore()}
}

// With returns a histogram with additional labels. It shares its storage
// with the parent histogram.
func (h *TestHistogram) With(labelValues ...string) Histogram {
	return &TestHistogram{s: h.s, lvs: append(append([]string(nil), h.lvs...), labelValues...)}
}

// Observe records value.
func (h *TestHistogram) Observe(value float64) {
	k := key(h.lvs)
	h.s.add(k+"#sum", value, true)
	h.s.add(k+"#count", 1, false)
}

// HistogramCount returns the number of observations of a TestHistogram. If
// the argument is not a *TestHistogram, HistogramCount will panic.
func HistogramCount(h Histogram) int {
	th := h.(*TestHistogram)
	return int(th.s.value(key(th.lvs) + "#count"))
}

// HistogramSum returns the sum of all observations of a TestHistogram. If the
// argument is not a *TestHistogram, HistogramSum will panic.
func HistogramSum(h Histogram) float64 {
	th := h.(*TestHistogram)
	return th.s.value(key(th.lvs) + "#sum")
}
