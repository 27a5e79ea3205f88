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

// Package ratelimiter provides default rate limiters for outbound delivery
// queues.
package ratelimiter

import (
	"time"

	"golang.org/x/time/rate"
	"k8s.io/client-go/util/workqueue"
)

// DefaultDeliveryRPS is the recommended default average deliveries per
// second tolerated across every key of a delivery queue.
const DefaultDeliveryRPS = 10

// NewDeliveryBucket returns a token bucket rate limiter meant for bounding
// the aggregate delivery rate of a queue. The bucket size is a linear
// function of the rate.
func NewDeliveryBucket[T comparable](rps float64) *workqueue.TypedBucketRateLimiter[T] {
	return &workqueue.TypedBucketRateLimiter[T]{Limiter: rate.NewLimiter(rate.Limit(rps), int(rps)*10)}
}

// NewDelivery returns a rate limiter that takes the maximum delay between
// the passed aggregate limiter and a per-key exponential backoff limiter.
// The exponential backoff limiter has a base delay of 1s and a maximum of
// 64s.
func NewDelivery[T comparable](aggregate workqueue.TypedRateLimiter[T]) workqueue.TypedRateLimiter[T] {
	return workqueue.NewTypedMaxOfRateLimiter(
		workqueue.NewTypedItemExponentialFailureRateLimiter[T](1*time.Second, 64*time.Second),
		aggregate,
	)
}
