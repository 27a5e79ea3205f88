/*
Copyright 2024 The CSE Runtime Authors.

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

// Package statemetrics records the state of the hosted resource tree and
// the engine's operation counters as Prometheus metrics. Recorders are
// prometheus.Collectors; embedders register them on their own registry, or
// wire the Nop variants to keep metrics out entirely.
package statemetrics

import (
	"context"

	"github.com/prometheus/client_golang/prometheus"
)

const subSystem = "cse"

// A StateRecorder periodically samples the resource tree into gauges.
type StateRecorder interface {
	prometheus.Collector

	// Record takes one sample of the tree.
	Record(ctx context.Context)

	// Run samples the tree on the recorder's interval until the context
	// is done.
	Run(ctx context.Context)
}

// A NopStateRecorder records nothing.
type NopStateRecorder struct{}

// NewNopStateRecorder returns a StateRecorder that records nothing.
func NewNopStateRecorder() *NopStateRecorder {
	return &NopStateRecorder{}
}

// Describe does nothing.
func (r *NopStateRecorder) Describe(_ chan<- *prometheus.Desc) {}

// Collect does nothing.
func (r *NopStateRecorder) Collect(_ chan<- prometheus.Metric) {}

// Record does nothing.
func (r *NopStateRecorder) Record(_ context.Context) {}

// Run does nothing.
func (r *NopStateRecorder) Run(_ context.Context) {}
