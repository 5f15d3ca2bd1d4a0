// Copyright 2017 ETH Zurich
// Copyright 2018 ETH Zurich, Anapaya Systems
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

// Package prom contains some utility functions for dealing with prometheus
// metrics.
package prom

import (
	"runtime/debug"

	"github.com/prometheus/client_golang/prometheus"
)

// Namespace is the prefix of all metrics exported by the key manager.
const Namespace = "keymgr"

// Common label names.
const (
	// LabelResult is the label for result classifications.
	LabelResult = "result"
	// LabelOperation is the label for the name of an executed operation.
	LabelOperation = "operation"
	// LabelZone is the label for the zone name.
	LabelZone = "zone"
)

// Common result values.
const (
	// Success is no error.
	Success = "ok"
	// ErrNotClassified is an error that is not further classified.
	ErrNotClassified = "err_not_classified"
)

// ExportElementID exports the instance ID as configured in the config file.
func ExportElementID(id string) {
	g := SafeRegister(prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: Namespace,
			Name:      "instance_id",
			Help:      "The instance ID from the config file",
		},
		[]string{"cfg"},
	)).(*prometheus.GaugeVec)
	g.WithLabelValues(id).Set(1)
}

// ExportBuildInfo exports the module version and the go version the binary
// was built with.
func ExportBuildInfo() {
	version, goVersion := "(unknown)", "(unknown)"
	if info, ok := debug.ReadBuildInfo(); ok {
		version = info.Main.Version
		goVersion = info.GoVersion
	}
	g := SafeRegister(prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: Namespace,
			Name:      "build_info",
			Help:      "Build information of the running binary",
		},
		[]string{"version", "go_version"},
	)).(*prometheus.GaugeVec)
	g.WithLabelValues(version, goVersion).Set(1)
}

// SafeRegister registers c and returns the registered collector. If c was
// already registered the already registered collector is returned. In case of
// any other error this method panicks (as MustRegister).
func SafeRegister(c prometheus.Collector) prometheus.Collector {
	if err := prometheus.Register(c); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			return are.ExistingCollector
		}
		panic(err)
	}
	return c
}
