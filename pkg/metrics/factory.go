// Copyright 2023 Anapaya Systems
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

type Option func(*Options)

// Options configures the metrics Factory, construct it using the ApplyOptions
// function.
type Options struct {
	registry prometheus.Registerer
}

func (o Options) registerer() prometheus.Registerer {
	if o.registry != nil {
		return o.registry
	}
	return prometheus.DefaultRegisterer
}

// WithRegistry registers all metrics of the factory in registry instead of
// the default registry.
func WithRegistry(registry prometheus.Registerer) Option {
	return func(o *Options) {
		o.registry = registry
	}
}

func ApplyOptions(options ...Option) Options {
	opts := Options{}
	for _, option := range options {
		option(&opts)
	}
	return opts
}

// Auto creates a Factory that uses the provided Options as registry. If no
// explicit registry is set the default registry is used.
func (o Options) Auto() Factory {
	return Factory{opts: o}
}

// Factory registers metrics and returns them wrapped in the Counter, Gauge and
// Histogram interfaces. Construct it using the Options.Auto function.
type Factory struct {
	opts Options
}

// NewCounterVec creates and registers a counter vector.
func (f Factory) NewCounterVec(opts prometheus.CounterOpts, labelNames []string) Counter {
	c := prometheus.NewCounterVec(opts, labelNames)
	f.opts.registerer().MustRegister(c)
	return NewPromCounter(c)
}

// NewGaugeVec creates and registers a gauge vector.
func (f Factory) NewGaugeVec(opts prometheus.GaugeOpts, labelNames []string) Gauge {
	g := prometheus.NewGaugeVec(opts, labelNames)
	f.opts.registerer().MustRegister(g)
	return NewPromGauge(g)
}

// NewHistogramVec creates and registers a histogram vector. Unset buckets
// default to the prometheus default buckets.
func (f Factory) NewHistogramVec(opts prometheus.HistogramOpts,
	labelNames []string) Histogram {

	h := prometheus.NewHistogramVec(opts, labelNames)
	f.opts.registerer().MustRegister(h)
	return NewPromHistogram(h)
}
