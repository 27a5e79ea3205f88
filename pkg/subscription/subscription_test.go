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

package subscription

import (
	"context"
	"sync"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/pkg/errors"
	"k8s.io/client-go/util/workqueue"

	"github.com/onem2m-go/cse-runtime/apis/onem2m"
	"github.com/onem2m-go/cse-runtime/pkg/access"
	"github.com/onem2m-go/cse-runtime/pkg/connect/fake"
	"github.com/onem2m-go/cse-runtime/pkg/dispatcher"
	"github.com/onem2m-go/cse-runtime/pkg/event"
	"github.com/onem2m-go/cse-runtime/pkg/resource"
	"github.com/onem2m-go/cse-runtime/pkg/status"
	"github.com/onem2m-go/cse-runtime/pkg/store/memory"
)

var testID = dispatcher.Identity{
	Originator:   "CAdmin",
	CSEID:        "/id-test",
	ResourceID:   "id-test",
	ResourceName: "cse-test",
}

const (
	nsA  = "http://ns-a.example/notify"
	nsB  = "http://ns-b.example/notify"
	sink = "http://sink.example/notify"
)

var errRefused = errors.New("target refused")

// call is one notification a target accepted.
type call struct {
	target string
	n      onem2m.Notification
}

// A wire records what the fake requester is asked to deliver and refuses
// targets it was told to fail.
type wire struct {
	mu       sync.Mutex
	accepted []call
	attempts map[string]int
	fail     map[string]error
}

func newWire() *wire {
	return &wire{attempts: map[string]int{}, fail: map[string]error{}}
}

func (w *wire) notify(_ context.Context, target string, n *onem2m.Notification) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.attempts[target]++
	if err := w.fail[target]; err != nil {
		return err
	}
	w.accepted = append(w.accepted, call{target: target, n: *n})
	return nil
}

func (w *wire) requester() *fake.Requester {
	return &fake.Requester{NotifyFn: w.notify}
}

func (w *wire) setFail(target string, err error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.fail[target] = err
}

func (w *wire) reset() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.accepted = nil
	w.attempts = map[string]int{}
}

func (w *wire) targets() []string {
	w.mu.Lock()
	defer w.mu.Unlock()
	var out []string
	for _, c := range w.accepted {
		out = append(out, c.target)
	}
	return out
}

// nets returns the event types of the accepted notifications that carry an
// event, in delivery order.
func (w *wire) nets() []onem2m.NotificationEventType {
	w.mu.Lock()
	defer w.mu.Unlock()
	var out []onem2m.NotificationEventType
	for _, c := range w.accepted {
		if c.n.Event != nil {
			out = append(out, c.n.Event.EventType)
		}
	}
	return out
}

// recorder captures published events in order.
type recorder struct {
	mu     sync.Mutex
	events []event.Event
}

func (r *recorder) Publish(_ context.Context, e event.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

func (r *recorder) ofKind(k event.Kind) []event.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []event.Event
	for _, e := range r.events {
		if e.Kind == k {
			out = append(out, e)
		}
	}
	return out
}

type harness struct {
	engine  *dispatcher.Engine
	manager *Manager
	store   *memory.Store
	wire    *wire
	events  *recorder
}

// newHarness wires a manager into a real engine over a fresh store. The
// delivery queue gets a zero-delay limiter so tests can drain it without
// waiting out backoffs.
func newHarness(t *testing.T, o ...ManagerOption) *harness {
	t.Helper()

	s := memory.NewStore()
	base := resource.FromMap(map[string]any{
		"ri": testID.ResourceID, "rn": testID.ResourceName,
		"ty": int64(onem2m.ResourceTypeCSEBase), "csi": testID.CSEID,
		"ct": "20240101T000000,000",
	})
	if err := s.Create(context.Background(), base); err != nil {
		t.Fatalf("Create(CSEBase): %v", err)
	}

	w := newWire()
	rec := &recorder{}
	opts := append([]ManagerOption{
		WithPublisher(rec),
		WithRateLimiter(workqueue.NewTypedItemExponentialFailureRateLimiter[string](0, 0)),
	}, o...)
	m := NewManager(s, w.requester(), testID, opts...)

	e := dispatcher.NewEngine(s, resource.NewRegistry(), access.NewEvaluator(s, testID.Originator), testID,
		dispatcher.WithNotifier(m),
		dispatcher.WithPublisher(rec),
	)
	m.Bind(e)

	return &harness{engine: e, manager: m, store: s, wire: w, events: rec}
}

// drain works the delivery queue single-threaded until it is empty. The
// zero-delay limiter re-queues retries immediately, so backoff never
// stalls the loop.
func (h *harness) drain(ctx context.Context, t *testing.T) {
	t.Helper()
	for i := 0; h.manager.queue.Len() > 0; i++ {
		if i > 1000 {
			t.Fatalf("delivery queue did not drain")
		}
		h.manager.processNext(ctx)
	}
}

func (h *harness) mustCreate(ctx context.Context, t *testing.T, parentID string, r *resource.Resource) *resource.Resource {
	t.Helper()
	got, err := h.engine.Create(ctx, parentID, r, testID.Originator)
	if err != nil {
		t.Fatalf("engine.Create(%s): %v", r.RN(), err)
	}
	return got
}

func container(rn string) *resource.Resource {
	return resource.New(onem2m.ResourceTypeContainer, rn)
}

func instance(con string) *resource.Resource {
	cin := resource.New(onem2m.ResourceTypeContentInstance, "")
	cin.SetAttribute(onem2m.AttrContent, con)
	return cin
}

// newSub builds a subscription with the supplied targets and extras.
func newSub(rn string, nu []any, extra map[string]any) *resource.Resource {
	sub := resource.New(onem2m.ResourceTypeSubscription, rn)
	if nu != nil {
		sub.SetAttribute(onem2m.AttrNotificationURIs, nu)
	}
	for k, v := range extra {
		sub.SetAttribute(k, v)
	}
	return sub
}

// watching builds an enc attribute admitting the supplied event types.
func watching(nets ...int64) map[string]any {
	vals := make([]any, 0, len(nets))
	for _, n := range nets {
		vals = append(vals, n)
	}
	return map[string]any{onem2m.AttrNotEventTypes: vals}
}

func TestVerifyCreate(t *testing.T) {
	ctx := context.Background()

	cases := map[string]struct {
		reason         string
		sub            *resource.Resource
		fail           map[string]error
		wantErr        func(error) bool
		wantHandshakes []string
		wantStored     bool
		check          func(t *testing.T, h *harness, stored *resource.Resource)
	}{
		"EveryTargetVerified": {
			reason:         "without a subscriber URI, every notification target must accept the handshake.",
			sub:            newSub("watch", []any{nsA, nsB}, nil),
			wantHandshakes: []string{nsA, nsB},
			wantStored:     true,
		},
		"SubscriberURIOnly": {
			reason:         "a subscriber URI takes over verification; the targets are left alone.",
			sub:            newSub("watch", []any{nsA}, map[string]any{onem2m.AttrSubscriberURI: nsB}),
			wantHandshakes: []string{nsB},
			wantStored:     true,
		},
		"VerifierRefuses": {
			reason:         "one refused handshake aborts the create; nothing is persisted.",
			sub:            newSub("watch", []any{nsA, nsB}, nil),
			fail:           map[string]error{nsB: errRefused},
			wantErr:        status.IsVerificationFailed,
			wantHandshakes: []string{nsA},
		},
		"MissingTargets": {
			reason:  "a subscription without notification targets is refused outright.",
			sub:     newSub("watch", nil, nil),
			wantErr: status.IsBadRequest,
		},
		"BlankTarget": {
			reason:  "blank targets are refused before any handshake goes out.",
			sub:     newSub("watch", []any{""}, nil),
			wantErr: status.IsBadRequest,
		},
		"ContentTypeOutOfRange": {
			reason:  "an unknown notification content type is refused before any handshake goes out.",
			sub:     newSub("watch", []any{nsA}, map[string]any{onem2m.AttrNotContentType: int64(9)}),
			wantErr: status.IsBadRequest,
		},
		"CounterOutOfRange": {
			reason:  "a non-positive expiration counter is refused.",
			sub:     newSub("watch", []any{nsA}, map[string]any{onem2m.AttrExpirationCounter: int64(0)}),
			wantErr: status.IsBadRequest,
		},
		"UnresolvableTarget": {
			reason:  "a target with no binding and no local counterpart is unreachable.",
			sub:     newSub("watch", []any{"gopher://nowhere"}, nil),
			wantErr: func(err error) bool { return status.IsCode(err, onem2m.StatusTargetNotReachable) },
		},
		"DefaultContentStamped": {
			reason:         "a subscription without a content type gets the full-representation default.",
			sub:            newSub("watch", []any{nsA}, nil),
			wantHandshakes: []string{nsA},
			wantStored:     true,
			check: func(t *testing.T, _ *harness, stored *resource.Resource) {
				t.Helper()
				if nct, _ := stored.IntAttribute(onem2m.AttrNotContentType); nct != int64(onem2m.ContentAllAttributes) {
					t.Errorf("stored nct: got %d, want %d", nct, onem2m.ContentAllAttributes)
				}
			},
		},
		"CreatorCarried": {
			reason:         "the handshake tells the verifier who created the subscription.",
			sub:            newSub("watch", []any{nsA}, map[string]any{onem2m.AttrCreator: "CAe1"}),
			wantHandshakes: []string{nsA},
			wantStored:     true,
			check: func(t *testing.T, h *harness, _ *resource.Resource) {
				t.Helper()
				if cr := h.wire.accepted[0].n.Creator; cr != "CAe1" {
					t.Errorf("handshake creator: got %q, want %q", cr, "CAe1")
				}
			},
		},
	}

	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			h := newHarness(t)
			cnt := h.mustCreate(ctx, t, testID.ResourceID, container("room"))
			for target, err := range tc.fail {
				h.wire.setFail(target, err)
			}
			h.wire.reset()

			got, err := h.engine.Create(ctx, cnt.RI(), tc.sub, testID.Originator)

			if tc.wantErr != nil {
				if err == nil || !tc.wantErr(err) {
					t.Fatalf("\n%s\nengine.Create(...): got error %v, want predicate match", tc.reason, err)
				}
			} else if err != nil {
				t.Fatalf("\n%s\nengine.Create(...): %v", tc.reason, err)
			}

			if diff := cmp.Diff(tc.wantHandshakes, h.wire.targets()); diff != "" {
				t.Errorf("\n%s\nhandshake targets: -want, +got:\n%s", tc.reason, diff)
			}
			for _, c := range h.wire.accepted {
				if !c.n.VerificationRequest {
					t.Errorf("\n%s\nhandshake to %s: vrq not set", tc.reason, c.target)
				}
			}

			var stored *resource.Resource
			if got != nil {
				if stored, err = h.store.Retrieve(ctx, got.RI()); err != nil {
					t.Fatalf("\n%s\nRetrieve(sub): %v", tc.reason, err)
				}
			}
			if tc.wantStored && stored == nil {
				t.Fatalf("\n%s\naccepted subscription was not persisted", tc.reason)
			}
			if !tc.wantStored {
				children, _ := h.store.SearchByValueInField(ctx, onem2m.AttrParentID, cnt.RI())
				if len(children) != 0 {
					t.Errorf("\n%s\nrefused subscription was persisted", tc.reason)
				}
			}
			if tc.check != nil {
				tc.check(t, h, stored)
			}
		})
	}
}

func TestVerifyCreateReference(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	cnt := h.mustCreate(ctx, t, testID.ResourceID, container("room"))
	h.wire.reset()

	sub := h.mustCreate(ctx, t, cnt.RI(), newSub("watch", []any{nsA}, nil))

	want := testID.CSEID + "/" + sub.RI()
	if got := h.wire.accepted[0].n.SubscriptionReference; got != want {
		t.Errorf("handshake sur: got %q, want %q", got, want)
	}
}

func TestVerifyCreateResolvesLocalTargets(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	cnt := h.mustCreate(ctx, t, testID.ResourceID, container("room"))

	ae := resource.FromMap(map[string]any{
		"ri": "CAe9", "rn": "meter", "pi": testID.ResourceID,
		"ty": int64(onem2m.ResourceTypeAE),
		"poa": []any{"http://meter.example/notify"},
		"ct":  "20240101T000000,000",
	})
	if err := h.store.Create(ctx, ae); err != nil {
		t.Fatalf("Create(AE): %v", err)
	}
	h.wire.reset()

	h.mustCreate(ctx, t, cnt.RI(), newSub("watch", []any{"CAe9"}, nil))

	want := []string{"http://meter.example/notify"}
	if diff := cmp.Diff(want, h.wire.targets()); diff != "" {
		t.Errorf("handshake resolved to point of access: -want, +got:\n%s", diff)
	}
}

func TestVerifyUpdate(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	cnt := h.mustCreate(ctx, t, testID.ResourceID, container("room"))
	sub := h.mustCreate(ctx, t, cnt.RI(), newSub("watch", []any{nsA}, nil))

	t.Run("AddedTargetVerified", func(t *testing.T) {
		h.wire.reset()
		if _, err := h.engine.Update(ctx, sub.RI(), map[string]any{onem2m.AttrNotificationURIs: []any{nsA, nsB}}, testID.Originator); err != nil {
			t.Fatalf("engine.Update(...): %v", err)
		}
		if diff := cmp.Diff([]string{nsB}, h.wire.targets()); diff != "" {
			t.Errorf("only the added target is verified: -want, +got:\n%s", diff)
		}
	})

	t.Run("RemovalSkipsHandshake", func(t *testing.T) {
		h.wire.reset()
		if _, err := h.engine.Update(ctx, sub.RI(), map[string]any{onem2m.AttrNotificationURIs: []any{nsA}}, testID.Originator); err != nil {
			t.Fatalf("engine.Update(...): %v", err)
		}
		if len(h.wire.targets()) != 0 {
			t.Errorf("removing a target ran a handshake: %v", h.wire.targets())
		}
	})

	t.Run("AddedTargetRefused", func(t *testing.T) {
		h.wire.reset()
		h.wire.setFail(nsB, errRefused)
		_, err := h.engine.Update(ctx, sub.RI(), map[string]any{onem2m.AttrNotificationURIs: []any{nsA, nsB}}, testID.Originator)
		if !status.IsVerificationFailed(err) {
			t.Fatalf("engine.Update(...): got %v, want verification failure", err)
		}
		stored, _ := h.store.Retrieve(ctx, sub.RI())
		nu, _ := stored.StringsAttribute(onem2m.AttrNotificationURIs)
		if diff := cmp.Diff([]string{nsA}, nu); diff != "" {
			t.Errorf("refused update left targets changed: -want, +got:\n%s", diff)
		}
		h.wire.setFail(nsB, nil)
	})

	t.Run("EmptiedRejected", func(t *testing.T) {
		_, err := h.engine.Update(ctx, sub.RI(), map[string]any{onem2m.AttrNotificationURIs: nil}, testID.Originator)
		if !status.IsBadRequest(err) {
			t.Fatalf("engine.Update(...): got %v, want bad request", err)
		}
	})

	t.Run("ContentTypeValidated", func(t *testing.T) {
		_, err := h.engine.Update(ctx, sub.RI(), map[string]any{onem2m.AttrNotContentType: int64(9)}, testID.Originator)
		if !status.IsBadRequest(err) {
			t.Fatalf("engine.Update(...): got %v, want bad request", err)
		}
	})
}

func TestNotifyOnChildCreate(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	cnt := h.mustCreate(ctx, t, testID.ResourceID, container("room"))
	sub := h.mustCreate(ctx, t, cnt.RI(), newSub("watch", []any{sink}, map[string]any{
		onem2m.AttrEventNotification: watching(int64(onem2m.EventCreateDirectChild)),
	}))
	h.wire.reset()

	cin := h.mustCreate(ctx, t, cnt.RI(), instance("21.5"))
	h.drain(ctx, t)

	if len(h.wire.accepted) != 1 {
		t.Fatalf("accepted notifications: got %d, want 1", len(h.wire.accepted))
	}
	got := h.wire.accepted[0]
	if got.target != sink {
		t.Errorf("notification target: got %q, want %q", got.target, sink)
	}
	if got.n.VerificationRequest {
		t.Errorf("notification carries vrq")
	}
	if want := testID.CSEID + "/" + sub.RI(); got.n.SubscriptionReference != want {
		t.Errorf("notification sur: got %q, want %q", got.n.SubscriptionReference, want)
	}
	if got.n.Event == nil || got.n.Event.EventType != onem2m.EventCreateDirectChild {
		t.Fatalf("notification event: got %+v, want direct-child create", got.n.Event)
	}
	rep, ok := got.n.Event.Representation["m2m:cin"].(map[string]any)
	if !ok {
		t.Fatalf("notification rep: got %v, want m2m:cin body", got.n.Event.Representation)
	}
	if rep["ri"] != cin.RI() {
		t.Errorf("notification rep ri: got %v, want %v", rep["ri"], cin.RI())
	}
}

func TestNotifyCriteria(t *testing.T) {
	ctx := context.Background()

	cases := map[string]struct {
		reason   string
		extra    map[string]any
		under    func(h *harness, cnt *resource.Resource) string
		act      func(ctx context.Context, t *testing.T, h *harness, cnt *resource.Resource)
		wantNets []onem2m.NotificationEventType
	}{
		"DefaultUpdatesOnly": {
			reason: "absent criteria admit update events and nothing else.",
			act: func(ctx context.Context, t *testing.T, h *harness, cnt *resource.Resource) {
				t.Helper()
				h.mustCreate(ctx, t, cnt.RI(), instance("on"))
				if _, err := h.engine.Update(ctx, cnt.RI(), map[string]any{"lbl": []any{"fresh"}}, testID.Originator); err != nil {
					t.Fatalf("engine.Update(...): %v", err)
				}
			},
			wantNets: []onem2m.NotificationEventType{onem2m.EventResourceUpdated},
		},
		"ChildCreateOnly": {
			reason: "criteria scoped to child creates ignore updates.",
			extra: map[string]any{
				onem2m.AttrEventNotification: watching(int64(onem2m.EventCreateDirectChild)),
			},
			act: func(ctx context.Context, t *testing.T, h *harness, cnt *resource.Resource) {
				t.Helper()
				if _, err := h.engine.Update(ctx, cnt.RI(), map[string]any{"lbl": []any{"fresh"}}, testID.Originator); err != nil {
					t.Fatalf("engine.Update(...): %v", err)
				}
				h.mustCreate(ctx, t, cnt.RI(), instance("on"))
			},
			wantNets: []onem2m.NotificationEventType{onem2m.EventCreateDirectChild},
		},
		"UpdateAndChildCreate": {
			reason: "criteria can admit several event types at once.",
			extra: map[string]any{
				onem2m.AttrEventNotification: watching(
					int64(onem2m.EventResourceUpdated), int64(onem2m.EventCreateDirectChild)),
			},
			act: func(ctx context.Context, t *testing.T, h *harness, cnt *resource.Resource) {
				t.Helper()
				if _, err := h.engine.Update(ctx, cnt.RI(), map[string]any{"lbl": []any{"fresh"}}, testID.Originator); err != nil {
					t.Fatalf("engine.Update(...): %v", err)
				}
				h.mustCreate(ctx, t, cnt.RI(), instance("on"))
			},
			wantNets: []onem2m.NotificationEventType{onem2m.EventResourceUpdated, onem2m.EventCreateDirectChild},
		},
		"DeleteOfResource": {
			reason: "a subscription on the resource sees its deletion before going with it.",
			extra: map[string]any{
				onem2m.AttrEventNotification: watching(int64(onem2m.EventResourceDeleted)),
			},
			act: func(ctx context.Context, t *testing.T, h *harness, cnt *resource.Resource) {
				t.Helper()
				if err := h.engine.Delete(ctx, cnt.RI(), testID.Originator); err != nil {
					t.Fatalf("engine.Delete(...): %v", err)
				}
			},
			wantNets: []onem2m.NotificationEventType{onem2m.EventResourceDeleted},
		},
		"DeleteOfDirectChild": {
			reason: "a subscription on the parent sees direct-child deletions.",
			extra: map[string]any{
				onem2m.AttrEventNotification: watching(int64(onem2m.EventDeleteDirectChild)),
			},
			under: func(_ *harness, _ *resource.Resource) string { return testID.ResourceID },
			act: func(ctx context.Context, t *testing.T, h *harness, cnt *resource.Resource) {
				t.Helper()
				if err := h.engine.Delete(ctx, cnt.RI(), testID.Originator); err != nil {
					t.Fatalf("engine.Delete(...): %v", err)
				}
			},
			wantNets: []onem2m.NotificationEventType{onem2m.EventDeleteDirectChild},
		},
	}

	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			h := newHarness(t)
			cnt := h.mustCreate(ctx, t, testID.ResourceID, container("room"))
			holder := cnt.RI()
			if tc.under != nil {
				holder = tc.under(h, cnt)
			}
			h.mustCreate(ctx, t, holder, newSub("watch", []any{sink}, tc.extra))
			h.wire.reset()

			tc.act(ctx, t, h, cnt)
			h.drain(ctx, t)

			if diff := cmp.Diff(tc.wantNets, h.wire.nets()); diff != "" {
				t.Errorf("\n%s\ndelivered event types: -want, +got:\n%s", tc.reason, diff)
			}
		})
	}
}

func TestNotifyShaping(t *testing.T) {
	ctx := context.Background()

	cases := map[string]struct {
		reason string
		nct    int64
		check  func(t *testing.T, h *harness, cnt *resource.Resource, ev *onem2m.NotificationEvent)
	}{
		"AllAttributes": {
			reason: "the default shape carries the full resource representation.",
			nct:    int64(onem2m.ContentAllAttributes),
			check: func(t *testing.T, _ *harness, cnt *resource.Resource, ev *onem2m.NotificationEvent) {
				t.Helper()
				rep, ok := ev.Representation["m2m:cnt"].(map[string]any)
				if !ok {
					t.Fatalf("rep: got %v, want m2m:cnt body", ev.Representation)
				}
				if rep["ri"] != cnt.RI() {
					t.Errorf("rep ri: got %v, want %v", rep["ri"], cnt.RI())
				}
				if diff := cmp.Diff([]any{"fresh"}, rep["lbl"]); diff != "" {
					t.Errorf("rep lbl: -want, +got:\n%s", diff)
				}
			},
		},
		"ModifiedAttributes": {
			reason: "the modified-attributes shape carries exactly the applied patch.",
			nct:    int64(onem2m.ContentModifiedAttributes),
			check: func(t *testing.T, _ *harness, _ *resource.Resource, ev *onem2m.NotificationEvent) {
				t.Helper()
				want := map[string]any{"m2m:cnt": map[string]any{"lbl": []any{"fresh"}}}
				if diff := cmp.Diff(want, ev.Representation); diff != "" {
					t.Errorf("rep: -want, +got:\n%s", diff)
				}
			},
		},
		"ResourceIDOnly": {
			reason: "the identifier shape carries a reference and nothing else.",
			nct:    int64(onem2m.ContentResourceID),
			check: func(t *testing.T, _ *harness, cnt *resource.Resource, ev *onem2m.NotificationEvent) {
				t.Helper()
				want := map[string]any{onem2m.URIKey: testID.CSEID + "/" + cnt.RI()}
				if diff := cmp.Diff(want, ev.Representation); diff != "" {
					t.Errorf("rep: -want, +got:\n%s", diff)
				}
			},
		},
		"TriggerPayload": {
			reason: "the trigger shape is a bare signal.",
			nct:    int64(onem2m.ContentTriggerPayload),
			check: func(t *testing.T, _ *harness, _ *resource.Resource, ev *onem2m.NotificationEvent) {
				t.Helper()
				if ev.Representation != nil {
					t.Errorf("rep: got %v, want none", ev.Representation)
				}
				if ev.EventType != onem2m.EventResourceUpdated {
					t.Errorf("event type: got %d, want %d", ev.EventType, onem2m.EventResourceUpdated)
				}
			},
		},
	}

	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			h := newHarness(t)
			cnt := h.mustCreate(ctx, t, testID.ResourceID, container("room"))
			h.mustCreate(ctx, t, cnt.RI(), newSub("watch", []any{sink}, map[string]any{
				onem2m.AttrNotContentType: tc.nct,
			}))
			h.wire.reset()

			if _, err := h.engine.Update(ctx, cnt.RI(), map[string]any{"lbl": []any{"fresh"}}, testID.Originator); err != nil {
				t.Fatalf("engine.Update(...): %v", err)
			}
			h.drain(ctx, t)

			if len(h.wire.accepted) != 1 {
				t.Fatalf("\n%s\naccepted notifications: got %d, want 1", tc.reason, len(h.wire.accepted))
			}
			tc.check(t, h, cnt, h.wire.accepted[0].n.Event)
		})
	}
}

func TestNotifyShapingNeverLeaksType(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	cnt := h.mustCreate(ctx, t, testID.ResourceID, container("room"))
	h.mustCreate(ctx, t, cnt.RI(), newSub("watch", []any{sink}, map[string]any{
		onem2m.AttrNotContentType: int64(onem2m.ContentModifiedAttributes),
	}))
	h.wire.reset()

	h.manager.ResourceUpdated(ctx, cnt, map[string]any{"ty": int64(99), "lbl": []any{"x"}})
	h.drain(ctx, t)

	want := map[string]any{"m2m:cnt": map[string]any{"lbl": []any{"x"}}}
	if diff := cmp.Diff(want, h.wire.accepted[0].n.Event.Representation); diff != "" {
		t.Errorf("modified attributes leak the resource type: -want, +got:\n%s", diff)
	}
}

func TestDeliveryOrderPerSubscription(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	cnt := h.mustCreate(ctx, t, testID.ResourceID, container("room"))
	h.mustCreate(ctx, t, cnt.RI(), newSub("watch", []any{sink}, map[string]any{
		onem2m.AttrEventNotification: watching(int64(onem2m.EventCreateDirectChild)),
		onem2m.AttrNotContentType:    int64(onem2m.ContentResourceID),
	}))
	h.wire.reset()

	var want []string
	for _, con := range []string{"a", "b", "c"} {
		cin := h.mustCreate(ctx, t, cnt.RI(), instance(con))
		want = append(want, testID.CSEID+"/"+cin.RI())
	}
	h.drain(ctx, t)

	var got []string
	for _, c := range h.wire.accepted {
		got = append(got, c.n.Event.Representation[onem2m.URIKey].(string))
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("deliveries out of emission order: -want, +got:\n%s", diff)
	}
}

func TestExpirationCountdown(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	cnt := h.mustCreate(ctx, t, testID.ResourceID, container("room"))
	sub := h.mustCreate(ctx, t, cnt.RI(), newSub("watch", []any{sink}, map[string]any{
		onem2m.AttrEventNotification: watching(int64(onem2m.EventCreateDirectChild)),
		onem2m.AttrExpirationCounter: int64(2),
	}))
	h.wire.reset()

	h.mustCreate(ctx, t, cnt.RI(), instance("one"))

	stored, err := h.store.Retrieve(ctx, sub.RI())
	if err != nil {
		t.Fatalf("Retrieve(sub): %v", err)
	}
	if exc, _ := stored.IntAttribute(onem2m.AttrExpirationCounter); exc != 1 {
		t.Fatalf("counter after first emission: got %d, want 1", exc)
	}

	h.mustCreate(ctx, t, cnt.RI(), instance("two"))

	if _, err := h.store.Retrieve(ctx, sub.RI()); !status.IsNotFound(err) {
		t.Fatalf("exhausted subscription still stored: %v", err)
	}

	h.drain(ctx, t)

	if len(h.wire.accepted) != 3 {
		t.Fatalf("accepted notifications: got %d, want 3", len(h.wire.accepted))
	}
	for i, wantSud := range []bool{false, false, true} {
		if got := h.wire.accepted[i].n.SubscriptionDeletion; got != wantSud {
			t.Errorf("delivery %d sud: got %t, want %t", i, got, wantSud)
		}
	}
}

func TestDeletionNoticeBehindPending(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	cnt := h.mustCreate(ctx, t, testID.ResourceID, container("room"))
	sub := h.mustCreate(ctx, t, cnt.RI(), newSub("watch", []any{sink}, map[string]any{
		onem2m.AttrEventNotification: watching(int64(onem2m.EventCreateDirectChild)),
	}))
	h.wire.reset()

	h.mustCreate(ctx, t, cnt.RI(), instance("pending"))
	if err := h.engine.Delete(ctx, sub.RI(), testID.Originator); err != nil {
		t.Fatalf("engine.Delete(sub): %v", err)
	}
	h.drain(ctx, t)

	if len(h.wire.accepted) != 2 {
		t.Fatalf("accepted notifications: got %d, want 2", len(h.wire.accepted))
	}
	if h.wire.accepted[0].n.Event == nil {
		t.Errorf("first delivery should be the pending notification")
	}
	if !h.wire.accepted[1].n.SubscriptionDeletion {
		t.Errorf("deletion notice did not follow the pending notification")
	}
}

func TestRequeueLimitDropsTarget(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, WithRequeueLimit(2))
	cnt := h.mustCreate(ctx, t, testID.ResourceID, container("room"))
	sub := h.mustCreate(ctx, t, cnt.RI(), newSub("watch", []any{nsA, sink}, map[string]any{
		onem2m.AttrEventNotification: watching(int64(onem2m.EventCreateDirectChild)),
	}))
	h.wire.reset()
	h.wire.setFail(nsA, errRefused)

	h.mustCreate(ctx, t, cnt.RI(), instance("on"))
	h.drain(ctx, t)

	if got := h.wire.attempts[nsA]; got != 3 {
		t.Errorf("attempts against the refusing target: got %d, want 3", got)
	}
	if got := h.wire.attempts[sink]; got != 1 {
		t.Errorf("attempts against the accepting target: got %d, want 1", got)
	}

	stored, err := h.store.Retrieve(ctx, sub.RI())
	if err != nil {
		t.Fatalf("Retrieve(sub): %v", err)
	}
	nu, _ := stored.StringsAttribute(onem2m.AttrNotificationURIs)
	if diff := cmp.Diff([]string{sink}, nu); diff != "" {
		t.Errorf("surviving targets: -want, +got:\n%s", diff)
	}

	failures := h.events.ofKind(event.KindDeliveryFailed)
	if len(failures) != 1 {
		t.Fatalf("delivery failure events: got %d, want 1", len(failures))
	}
	if failures[0].Target != nsA {
		t.Errorf("failure target: got %q, want %q", failures[0].Target, nsA)
	}
	if failures[0].Resource == nil || failures[0].Resource.RI() != sub.RI() {
		t.Errorf("failure resource: got %v, want the subscription", failures[0].Resource)
	}
}
