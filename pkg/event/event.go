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

// Package event publishes resource lifecycle events to in-process
// listeners. The dispatcher publishes; the subscription, announcement and
// metrics managers listen. The bus keeps those packages from importing
// each other.
package event

import (
	"context"
	"sync"

	"github.com/onem2m-go/cse-runtime/pkg/resource"
)

// A Kind of event.
type Kind string

// Event kinds.
const (
	KindCreatedResource Kind = "createdResource"
	KindUpdatedResource Kind = "updatedResource"
	KindDeletedResource Kind = "deletedResource"
	KindExpiredResource Kind = "expireResource"
	KindRegisteredCSE   Kind = "remoteCSEHasRegistered"
	KindDeregisteredCSE Kind = "remoteCSEHasDeregistered"
	KindRemoteCSEUpdate Kind = "remoteCSEUpdate"
	KindDeliveryFailed  Kind = "subscriptionNotificationFailed"
)

// An Event describes one resource lifecycle transition.
type Event struct {
	Kind Kind

	// Resource is a snapshot of the affected resource after the
	// transition, or before it for deletions.
	Resource *resource.Resource

	// Patch is the applied attribute patch. Set on update events only.
	Patch map[string]any

	// Target is the notification URI that exhausted its retries. Set on
	// delivery failure events only.
	Target string
}

// Created returns a creation event for the supplied resource.
func Created(r *resource.Resource) Event {
	return Event{Kind: KindCreatedResource, Resource: r}
}

// Updated returns an update event carrying the applied patch.
func Updated(r *resource.Resource, patch map[string]any) Event {
	return Event{Kind: KindUpdatedResource, Resource: r, Patch: patch}
}

// Deleted returns a deletion event for the supplied resource.
func Deleted(r *resource.Resource) Event {
	return Event{Kind: KindDeletedResource, Resource: r}
}

// Expired returns an expiration event for the supplied resource. The
// expiry sweep publishes it after the deletion it triggers, so listeners
// observe the deletion events first.
func Expired(r *resource.Resource) Event {
	return Event{Kind: KindExpiredResource, Resource: r}
}

// A Handler consumes events. Handlers run synchronously on the
// publisher's goroutine and must not block on remote I/O.
type Handler func(ctx context.Context, e Event)

// A Publisher publishes events.
type Publisher interface {
	Publish(ctx context.Context, e Event)
}

type listener struct {
	name string
	h    Handler
}

// A Bus fans events out to named listeners, in subscription order.
type Bus struct {
	mu        sync.RWMutex
	listeners map[Kind][]listener
}

// NewBus returns an empty bus.
func NewBus() *Bus {
	return &Bus{listeners: map[Kind][]listener{}}
}

// Subscribe registers the named handler for the supplied kind.
// Subscribing a name twice replaces its handler in place.
func (b *Bus) Subscribe(k Kind, name string, h Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for i, l := range b.listeners[k] {
		if l.name == name {
			b.listeners[k][i].h = h
			return
		}
	}
	b.listeners[k] = append(b.listeners[k], listener{name: name, h: h})
}

// Unsubscribe removes the named handler for the supplied kind. Removing a
// name that is not subscribed is a no-op.
func (b *Bus) Unsubscribe(k Kind, name string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	ls := b.listeners[k]
	for i, l := range ls {
		if l.name == name {
			b.listeners[k] = append(ls[:i:i], ls[i+1:]...)
			return
		}
	}
}

// Publish invokes every handler subscribed to the event's kind. Handlers
// run outside the bus lock, so they may subscribe and unsubscribe.
func (b *Bus) Publish(ctx context.Context, e Event) {
	b.mu.RLock()
	ls := b.listeners[e.Kind]
	snapshot := make([]listener, len(ls))
	copy(snapshot, ls)
	b.mu.RUnlock()

	for _, l := range snapshot {
		l.h(ctx, e)
	}
}

// A NopPublisher drops every event.
type NopPublisher struct{}

// NewNopPublisher returns a Publisher that drops every event.
func NewNopPublisher() *NopPublisher {
	return &NopPublisher{}
}

// Publish does nothing.
func (p *NopPublisher) Publish(_ context.Context, _ Event) {}
