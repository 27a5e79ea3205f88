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

package statemetrics

import (
	"context"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/onem2m-go/cse-runtime/pkg/logging"
	"github.com/onem2m-go/cse-runtime/pkg/resource"
	"github.com/onem2m-go/cse-runtime/pkg/store"
)

// A ResourceStateRecorder records the state of the hosted resource tree.
type ResourceStateRecorder struct {
	store    store.Store
	log      logging.Logger
	interval time.Duration

	hosted    *prometheus.GaugeVec
	announced *prometheus.GaugeVec
}

// NewResourceStateRecorder returns a new ResourceStateRecorder which records
// per-type counts of the hosted resource tree.
func NewResourceStateRecorder(s store.Store, log logging.Logger, interval time.Duration) *ResourceStateRecorder {
	return &ResourceStateRecorder{
		store:    s,
		log:      log,
		interval: interval,

		hosted: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Subsystem: subSystem,
			Name:      "hosted_resources",
			Help:      "The number of hosted resources, by resource type",
		}, []string{"ty"}),
		announced: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Subsystem: subSystem,
			Name:      "announced_resources",
			Help:      "The number of hosted resources with at least one confirmed announcement, by resource type",
		}, []string{"ty"}),
	}
}

// Describe sends the recorder's metric descriptors to the channel.
func (r *ResourceStateRecorder) Describe(ch chan<- *prometheus.Desc) {
	r.hosted.Describe(ch)
	r.announced.Describe(ch)
}

// Collect sends the recorder's current metric values to the channel.
func (r *ResourceStateRecorder) Collect(ch chan<- prometheus.Metric) {
	r.hosted.Collect(ch)
	r.announced.Collect(ch)
}

// Record records the per-type state of the hosted resource tree.
func (r *ResourceStateRecorder) Record(ctx context.Context) {
	all, err := r.store.SearchByFilter(ctx, func(*resource.Resource) bool { return true })
	if err != nil {
		r.log.Info("Failed to list hosted resources", "error", err)
		return
	}

	hosted := map[string]float64{}
	announced := map[string]float64{}
	for _, res := range all {
		label := res.Type().String()
		hosted[label]++
		if confirmed(res.AnnounceTo()) {
			announced[label]++
		}
	}

	r.hosted.Reset()
	for label, n := range hosted {
		r.hosted.WithLabelValues(label).Set(n)
	}
	r.announced.Reset()
	for label, n := range announced {
		r.announced.WithLabelValues(label).Set(n)
	}
}

// Run records state of the resource tree with the configured interval.
func (r *ResourceStateRecorder) Run(ctx context.Context) {
	if r.interval <= 0 {
		return
	}
	ticker := time.NewTicker(r.interval)
	go func() {
		for {
			select {
			case <-ticker.C:
				r.Record(ctx)
			case <-ctx.Done():
				ticker.Stop()
				return
			}
		}
	}()
}

// confirmed reports whether an announceTo list holds at least one
// confirmation, an entry of the form <remote CSE-ID>/<twin resource id>.
func confirmed(at []string) bool {
	for _, entry := range at {
		if strings.Contains(strings.TrimPrefix(entry, "/"), "/") {
			return true
		}
	}
	return false
}
