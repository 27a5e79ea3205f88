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

package onem2m

import (
	"k8s.io/apimachinery/pkg/util/json"
)

// NotificationKey is the wire key of the notification envelope.
const NotificationKey = "m2m:sgn"

// URIKey is the wire key of a bare resource identifier carried as
// notification content.
const URIKey = "m2m:uri"

// A NotificationEventType selects which resource events a subscription
// wants to be notified about (the enc/net attribute).
type NotificationEventType int64

// Notification event types, per TS-0004 m2m:notificationEventType.
const (
	EventResourceUpdated     NotificationEventType = 1
	EventResourceDeleted     NotificationEventType = 2
	EventCreateDirectChild   NotificationEventType = 3
	EventDeleteDirectChild   NotificationEventType = 4
	EventRetrieveOfContainer NotificationEventType = 5
)

// A NotificationContentType selects how much of the triggering resource is
// carried in a notification (the nct attribute).
type NotificationContentType int64

// Notification content types, per TS-0004 m2m:notificationContentType.
const (
	ContentAllAttributes      NotificationContentType = 1
	ContentModifiedAttributes NotificationContentType = 2
	ContentResourceID         NotificationContentType = 3
	ContentTriggerPayload     NotificationContentType = 4
)

// EventCriteria is the subscription's event notification criteria (enc).
type EventCriteria struct {
	// EventTypes lists the event types the subscriber wants (net). An
	// empty list defaults to resource-update events.
	EventTypes []NotificationEventType `json:"net,omitempty"`
}

// Matches returns true if the criteria admit the given event type.
func (c *EventCriteria) Matches(t NotificationEventType) bool {
	if c == nil || len(c.EventTypes) == 0 {
		return t == EventResourceUpdated
	}
	for _, et := range c.EventTypes {
		if et == t {
			return true
		}
	}
	return false
}

// A NotificationEvent describes the resource event a notification reports
// (the nev structure).
type NotificationEvent struct {
	// Representation carries the triggering resource, shaped per the
	// subscription's nct: the full wire representation, the modified
	// attributes, or a m2m:uri reference.
	Representation map[string]any `json:"rep,omitempty"`

	// EventType is the notification event type that fired.
	EventType NotificationEventType `json:"net,omitempty"`
}

// A Notification is the m2m:sgn envelope delivered to notification targets.
type Notification struct {
	// VerificationRequest marks the subscription verification handshake.
	VerificationRequest bool `json:"vrq,omitempty"`

	// SubscriptionDeletion marks the notice sent when the subscription
	// itself is deleted.
	SubscriptionDeletion bool `json:"sud,omitempty"`

	// SubscriptionReference identifies the subscription that caused this
	// notification.
	SubscriptionReference string `json:"sur,omitempty"`

	// Creator is the originator that created the subscription.
	Creator string `json:"cr,omitempty"`

	// Event carries the triggering resource event, absent on verification
	// and deletion notices.
	Event *NotificationEvent `json:"nev,omitempty"`
}

// MarshalJSON wraps the notification under its m2m:sgn envelope key.
func (n Notification) MarshalJSON() ([]byte, error) {
	type plain Notification
	return json.Marshal(map[string]plain{NotificationKey: plain(n)})
}

// UnmarshalJSON accepts both enveloped and bare notification documents.
func (n *Notification) UnmarshalJSON(data []byte) error {
	type plain Notification
	var wrapped map[string]plain
	if err := json.Unmarshal(data, &wrapped); err == nil {
		if inner, ok := wrapped[NotificationKey]; ok {
			*n = Notification(inner)
			return nil
		}
	}
	var p plain
	if err := json.Unmarshal(data, &p); err != nil {
		return err
	}
	*n = Notification(p)
	return nil
}
