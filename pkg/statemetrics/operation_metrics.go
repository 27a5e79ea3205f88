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
	"github.com/prometheus/client_golang/prometheus"

	"github.com/onem2m-go/cse-runtime/apis/onem2m"
)

// A DeliveryOutcome classifies how a notification delivery ended.
type DeliveryOutcome string

// Delivery outcomes.
const (
	DeliveryDelivered DeliveryOutcome = "delivered"
	DeliveryAbandoned DeliveryOutcome = "abandoned"
)

// An OperationRecorder counts request primitives and notification
// deliveries as they complete.
type OperationRecorder interface {
	prometheus.Collector

	RecordOperation(op onem2m.Operation, c onem2m.StatusCode)
	RecordDelivery(outcome DeliveryOutcome)
}

// A NopOperationRecorder does nothing.
type NopOperationRecorder struct{}

// NewNopOperationRecorder returns a NopOperationRecorder that does nothing.
func NewNopOperationRecorder() *NopOperationRecorder {
	return &NopOperationRecorder{}
}

// Describe does nothing.
func (r *NopOperationRecorder) Describe(_ chan<- *prometheus.Desc) {}

// Collect does nothing.
func (r *NopOperationRecorder) Collect(_ chan<- prometheus.Metric) {}

// RecordOperation does nothing.
func (r *NopOperationRecorder) RecordOperation(_ onem2m.Operation, _ onem2m.StatusCode) {}

// RecordDelivery does nothing.
func (r *NopOperationRecorder) RecordDelivery(_ DeliveryOutcome) {}

// A CSEOperationRecorder counts handled request primitives by operation and
// response status, and notification deliveries by outcome.
type CSEOperationRecorder struct {
	operations    *prometheus.CounterVec
	notifications *prometheus.CounterVec
}

// NewCSEOperationRecorder returns a new CSEOperationRecorder.
func NewCSEOperationRecorder() *CSEOperationRecorder {
	return &CSEOperationRecorder{
		operations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Subsystem: subSystem,
			Name:      "operations_total",
			Help:      "The number of handled request primitives, by operation and response status",
		}, []string{"operation", "status"}),
		notifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Subsystem: subSystem,
			Name:      "notifications_total",
			Help:      "The number of completed notification deliveries, by outcome",
		}, []string{"outcome"}),
	}
}

// Describe sends the recorder's metric descriptors to the channel.
func (r *CSEOperationRecorder) Describe(ch chan<- *prometheus.Desc) {
	r.operations.Describe(ch)
	r.notifications.Describe(ch)
}

// Collect sends the recorder's current metric values to the channel.
func (r *CSEOperationRecorder) Collect(ch chan<- prometheus.Metric) {
	r.operations.Collect(ch)
	r.notifications.Collect(ch)
}

// RecordOperation counts one handled request primitive.
func (r *CSEOperationRecorder) RecordOperation(op onem2m.Operation, c onem2m.StatusCode) {
	r.operations.WithLabelValues(op.String(), c.String()).Inc()
}

// RecordDelivery counts one completed notification delivery.
func (r *CSEOperationRecorder) RecordDelivery(outcome DeliveryOutcome) {
	r.notifications.WithLabelValues(string(outcome)).Inc()
}
