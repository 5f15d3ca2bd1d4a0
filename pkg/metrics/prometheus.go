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
	"github.com/prometheus/client_golang/prometheus"
)

// NewPromGauge wraps a prometheus gauge vector as a gauge.
// Returns nil, if gv is nil.
func NewPromGauge(gv *prometheus.GaugeVec) Gauge {
	if gv == nil {
		return nil
	}
	return gauge{vec: bind[prometheus.Gauge](gv)}
}

// NewPromCounter wraps a prometheus counter vector as a counter.
// Returns nil if cv is nil.
func NewPromCounter(cv *prometheus.CounterVec) Counter {
	if cv == nil {
		return nil
	}
	return counter{vec: bind[prometheus.Counter](cv)}
}

// NewPromHistogram wraps a prometheus histogram vector as a histogram.
// Returns nil if hv is nil.
func NewPromHistogram(hv *prometheus.HistogramVec) Histogram {
	if hv == nil {
		return nil
	}
	return histogram{vec: bind[prometheus.Observer](hv)}
}

// vector is the label lookup shared by the prometheus vector types.
type vector[M any] interface {
	With(prometheus.Labels) M
}

// bound is a prometheus vector together with the label values collected so
// far through With calls. The child metric is only resolved when a value is
// recorded.
type bound[M any] struct {
	vec vector[M]
	lvs []string
}

func bind[M any](vec vector[M]) bound[M] {
	return bound[M]{vec: vec}
}

// with returns a copy of b extended by the label name/value pairs in more. A
// trailing name without a value is recorded as "unknown".
func (b bound[M]) with(more []string) bound[M] {
	if len(more)%2 != 0 {
		more = append(more[:len(more):len(more)], "unknown")
	}
	lvs := make([]string, 0, len(b.lvs)+len(more))
	lvs = append(append(lvs, b.lvs...), more...)
	return bound[M]{vec: b.vec, lvs: lvs}
}

// metric resolves the child metric. Later values override earlier ones for
// the same label name.
func (b bound[M]) metric() M {
	labels := make(prometheus.Labels, len(b.lvs)/2)
	for i := 0; i+1 < len(b.lvs); i += 2 {
		labels[b.lvs[i]] = b.lvs[i+1]
	}
	return b.vec.With(labels)
}

type gauge struct {
	vec bound[prometheus.Gauge]
}

func (g gauge) With(lvs ...string) Gauge { return gauge{vec: g.vec.with(lvs)} }
func (g gauge) Set(value float64)        { g.vec.metric().Set(value) }
func (g gauge) Add(delta float64)        { g.vec.metric().Add(delta) }

type counter struct {
	vec bound[prometheus.Counter]
}

func (c counter) With(lvs ...string) Counter { return counter{vec: c.vec.with(lvs)} }
func (c counter) Add(delta float64)          { c.vec.metric().Add(delta) }

type histogram struct {
	vec bound[prometheus.Observer]
}

func (h histogram) With(lvs ...string) Histogram { return histogram{vec: h.vec.with(lvs)} }
func (h histogram) Observe(value float64)        { h.vec.metric().Observe(value) }
