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

package memory

import (
	"context"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/onem2m-go/cse-runtime/apis/onem2m"
	"github.com/onem2m-go/cse-runtime/pkg/resource"
	"github.com/onem2m-go/cse-runtime/pkg/status"
	"github.com/onem2m-go/cse-runtime/pkg/store"
)

func TestCreateIsolatesDocuments(t *testing.T) {
	s := NewStore()
	ctx := context.Background()

	in := resource.FromMap(map[string]any{"ri": "cnt1", "lbl": []any{"a"}})
	if err := s.Create(ctx, in); err != nil {
		t.Fatalf("Create(...): %v", err)
	}

	// Mutating the document after create must not reach the store.
	in.SetAttribute("lbl", []any{"changed"})

	got, err := s.Retrieve(ctx, "cnt1")
	if err != nil {
		t.Fatalf("Retrieve(...): %v", err)
	}
	if diff := cmp.Diff([]string{"a"}, got.Labels()); diff != "" {
		t.Errorf("\nRetrieve(...): store shares state with creator: -want, +got:\n%s", diff)
	}

	// Mutating a retrieved document must not reach the store either.
	got.SetAttribute("lbl", []any{"changed"})
	again, err := s.Retrieve(ctx, "cnt1")
	if err != nil {
		t.Fatalf("Retrieve(...): %v", err)
	}
	if diff := cmp.Diff([]string{"a"}, again.Labels()); diff != "" {
		t.Errorf("\nRetrieve(...): store shares state with reader: -want, +got:\n%s", diff)
	}
}

func TestCreateConflict(t *testing.T) {
	s := NewStore()
	ctx := context.Background()

	r := resource.FromMap(map[string]any{"ri": "cnt1"})
	if err := s.Create(ctx, r); err != nil {
		t.Fatalf("Create(...): %v", err)
	}
	if err := s.Create(ctx, r); !status.IsConflict(err) {
		t.Errorf("Create(existing): want CONFLICT, got %v", err)
	}
}

func TestNotFound(t *testing.T) {
	s := NewStore()
	ctx := context.Background()

	if _, err := s.Retrieve(ctx, "nope"); !status.IsNotFound(err) {
		t.Errorf("Retrieve(absent): want NOT_FOUND, got %v", err)
	}
	if err := s.Update(ctx, resource.FromMap(map[string]any{"ri": "nope"})); !status.IsNotFound(err) {
		t.Errorf("Update(absent): want NOT_FOUND, got %v", err)
	}
	if err := s.Delete(ctx, "nope"); !status.IsNotFound(err) {
		t.Errorf("Delete(absent): want NOT_FOUND, got %v", err)
	}
}

func TestSearchByValueInField(t *testing.T) {
	s := NewStore()
	ctx := context.Background()

	seed := []map[string]any{
		{"ri": "cb1", "rn": "cse", "ct": "20240101T000000,000"},
		{"ri": "ae1", "rn": "a", "pi": "cb1", "ct": "20240101T000001,000"},
		{"ri": "ae2", "rn": "b", "pi": "cb1", "ct": "20240101T000002,000", "at": []any{"/id-in", "/id-mn"}},
		{"ri": "cnt1", "rn": "c", "pi": "ae1", "ct": "20240101T000003,000"},
	}
	for _, doc := range seed {
		if err := s.Create(ctx, resource.FromMap(doc)); err != nil {
			t.Fatalf("Create(...): %v", err)
		}
	}

	cases := map[string]struct {
		reason string
		field  string
		value  string
		want   []string
	}{
		"Equality": {
			reason: "pi equality finds the children of cb1 in creation order.",
			field:  onem2m.AttrParentID,
			value:  "cb1",
			want:   []string{"ae1", "ae2"},
		},
		"ListContainment": {
			reason: "a list field matches when it contains the value.",
			field:  onem2m.AttrAnnounceTo,
			value:  "/id-mn",
			want:   []string{"ae2"},
		},
		"NoMatch": {
			reason: "no resource carries the value.",
			field:  onem2m.AttrParentID,
			value:  "missing",
			want:   nil,
		},
	}

	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			rs, err := s.SearchByValueInField(ctx, tc.field, tc.value)
			if err != nil {
				t.Fatalf("SearchByValueInField(...): %v", err)
			}
			var got []string
			for _, r := range rs {
				got = append(got, r.RI())
			}
			if diff := cmp.Diff(tc.want, got); diff != "" {
				t.Errorf("\n%s\nSearchByValueInField(...): -want, +got:\n%s", tc.reason, diff)
			}
		})
	}
}

func TestChildByName(t *testing.T) {
	s := NewStore()
	ctx := context.Background()

	docs := []map[string]any{
		{"ri": "cb1", "rn": "cse"},
		{"ri": "ae1", "rn": "sensor", "pi": "cb1"},
	}
	for _, doc := range docs {
		if err := s.Create(ctx, resource.FromMap(doc)); err != nil {
			t.Fatalf("Create(...): %v", err)
		}
	}

	got, err := store.ChildByName(ctx, s, "cb1", "sensor")
	if err != nil {
		t.Fatalf("ChildByName(...): %v", err)
	}
	if got.RI() != "ae1" {
		t.Errorf("ChildByName(...): want ae1, got %s", got.RI())
	}

	if _, err := store.ChildByName(ctx, s, "cb1", "absent"); !status.IsNotFound(err) {
		t.Errorf("ChildByName(absent): want NOT_FOUND, got %v", err)
	}
}

func TestHasResource(t *testing.T) {
	s := NewStore()
	ctx := context.Background()

	if err := s.Create(ctx, resource.FromMap(map[string]any{"ri": "cnt1"})); err != nil {
		t.Fatalf("Create(...): %v", err)
	}

	ok, err := s.HasResource(ctx, "cnt1")
	if err != nil || !ok {
		t.Errorf("HasResource(existing): want true, got %t (err: %v)", ok, err)
	}
	ok, err = s.HasResource(ctx, "nope")
	if err != nil || ok {
		t.Errorf("HasResource(absent): want false, got %t (err: %v)", ok, err)
	}
}
