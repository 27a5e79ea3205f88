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

package event

import (
	"context"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/onem2m-go/cse-runtime/pkg/resource"
)

func TestPublishOrder(t *testing.T) {
	b := NewBus()

	var got []string
	b.Subscribe(KindCreatedResource, "first", func(_ context.Context, _ Event) {
		got = append(got, "first")
	})
	b.Subscribe(KindCreatedResource, "second", func(_ context.Context, _ Event) {
		got = append(got, "second")
	})
	b.Subscribe(KindDeletedResource, "other", func(_ context.Context, _ Event) {
		got = append(got, "other")
	})

	b.Publish(context.Background(), Created(resource.FromMap(map[string]any{"ri": "x"})))

	want := []string{"first", "second"}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("\nPublish(...): listeners run in subscription order, same kind only: -want, +got:\n%s", diff)
	}
}

func TestSubscribeReplaces(t *testing.T) {
	b := NewBus()

	var got []string
	b.Subscribe(KindUpdatedResource, "sub", func(_ context.Context, _ Event) {
		got = append(got, "old")
	})
	b.Subscribe(KindUpdatedResource, "sub", func(_ context.Context, _ Event) {
		got = append(got, "new")
	})

	b.Publish(context.Background(), Updated(resource.FromMap(nil), nil))

	want := []string{"new"}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("\nSubscribe(...): resubscribing a name replaces its handler: -want, +got:\n%s", diff)
	}
}

func TestUnsubscribe(t *testing.T) {
	b := NewBus()

	called := false
	b.Subscribe(KindDeletedResource, "sub", func(_ context.Context, _ Event) {
		called = true
	})
	b.Unsubscribe(KindDeletedResource, "sub")
	b.Unsubscribe(KindDeletedResource, "never-subscribed")

	b.Publish(context.Background(), Deleted(resource.FromMap(nil)))

	if called {
		t.Errorf("Publish(...): unsubscribed handler was invoked")
	}
}

func TestHandlerMayUnsubscribeItself(t *testing.T) {
	b := NewBus()

	calls := 0
	b.Subscribe(KindExpiredResource, "once", func(_ context.Context, _ Event) {
		calls++
		b.Unsubscribe(KindExpiredResource, "once")
	})

	b.Publish(context.Background(), Expired(resource.FromMap(nil)))
	b.Publish(context.Background(), Expired(resource.FromMap(nil)))

	if calls != 1 {
		t.Errorf("Publish(...): want 1 call, got %d", calls)
	}
}

func TestEventConstructors(t *testing.T) {
	r := resource.FromMap(map[string]any{"ri": "cnt1"})
	patch := map[string]any{"lbl": []any{"x"}}

	cases := map[string]struct {
		got  Event
		want Event
	}{
		"Created": {got: Created(r), want: Event{Kind: KindCreatedResource, Resource: r}},
		"Updated": {got: Updated(r, patch), want: Event{Kind: KindUpdatedResource, Resource: r, Patch: patch}},
		"Deleted": {got: Deleted(r), want: Event{Kind: KindDeletedResource, Resource: r}},
		"Expired": {got: Expired(r), want: Event{Kind: KindExpiredResource, Resource: r}},
	}

	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			if tc.got.Kind != tc.want.Kind {
				t.Errorf("kind: want %q, got %q", tc.want.Kind, tc.got.Kind)
			}
			if tc.got.Resource != tc.want.Resource {
				t.Errorf("resource: want %p, got %p", tc.want.Resource, tc.got.Resource)
			}
			if diff := cmp.Diff(tc.want.Patch, tc.got.Patch); diff != "" {
				t.Errorf("patch: -want, +got:\n%s", diff)
			}
		})
	}
}
