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

package file

import (
	"context"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/spf13/afero"

	"github.com/onem2m-go/cse-runtime/pkg/resource"
	"github.com/onem2m-go/cse-runtime/pkg/status"
)

func TestNewStoreWritesManifest(t *testing.T) {
	fs := afero.NewMemMapFs()

	if _, err := NewStore(fs, "data"); err != nil {
		t.Fatalf("NewStore(...): %v", err)
	}

	b, err := afero.ReadFile(fs, "data/layout.json")
	if err != nil {
		t.Fatalf("ReadFile(manifest): %v", err)
	}
	want := `{"version":"` + LayoutVersion + `"}`
	if string(b) != want {
		t.Errorf("manifest: want %s, got %s", want, b)
	}
}

func TestNewStoreLayoutCompatibility(t *testing.T) {
	cases := map[string]struct {
		reason  string
		version string
		wantErr bool
	}{
		"SameVersion": {
			reason:  "the layout this release writes opens cleanly.",
			version: LayoutVersion,
		},
		"NewerMinor": {
			reason:  "a newer minor of the same major is compatible.",
			version: "1.3.0",
		},
		"DifferentMajor": {
			reason:  "a different major layout is rejected.",
			version: "2.0.0",
			wantErr: true,
		},
		"Garbage": {
			reason:  "an unparseable version is rejected.",
			version: "not-a-version",
			wantErr: true,
		},
	}

	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			fs := afero.NewMemMapFs()
			if err := fs.MkdirAll("data", 0o750); err != nil {
				t.Fatalf("MkdirAll(...): %v", err)
			}
			manifest := `{"version":"` + tc.version + `"}`
			if err := afero.WriteFile(fs, "data/layout.json", []byte(manifest), 0o640); err != nil {
				t.Fatalf("WriteFile(manifest): %v", err)
			}

			_, err := NewStore(fs, "data")
			if tc.wantErr != (err != nil) {
				t.Errorf("\n%s\nNewStore(...): wantErr %t, got %v", tc.reason, tc.wantErr, err)
			}
		})
	}
}

func TestRoundTripPreservesIntegers(t *testing.T) {
	fs := afero.NewMemMapFs()
	s, err := NewStore(fs, "data")
	if err != nil {
		t.Fatalf("NewStore(...): %v", err)
	}
	ctx := context.Background()

	in := resource.FromMap(map[string]any{
		"ri": "cnt1", "rn": "cnt", "ty": int64(3), "mni": int64(10),
	})
	if err := s.Create(ctx, in); err != nil {
		t.Fatalf("Create(...): %v", err)
	}

	got, err := s.Retrieve(ctx, "cnt1")
	if err != nil {
		t.Fatalf("Retrieve(...): %v", err)
	}
	mni, ok := got.IntAttribute("mni")
	if !ok || mni != 10 {
		t.Errorf("Retrieve(...): mni survives the JSON round trip as an integer: want 10, got %d (ok %t)", mni, ok)
	}
	if diff := cmp.Diff(in.Object(), got.Object()); diff != "" {
		t.Errorf("\nRetrieve(...): -want, +got:\n%s", diff)
	}
}

func TestLifecycle(t *testing.T) {
	fs := afero.NewMemMapFs()
	s, err := NewStore(fs, "data")
	if err != nil {
		t.Fatalf("NewStore(...): %v", err)
	}
	ctx := context.Background()

	r := resource.FromMap(map[string]any{"ri": "ae1", "rn": "a", "pi": "cb1", "ct": "20240101T000000,000"})
	if err := s.Create(ctx, r); err != nil {
		t.Fatalf("Create(...): %v", err)
	}
	if err := s.Create(ctx, r); !status.IsConflict(err) {
		t.Errorf("Create(existing): want CONFLICT, got %v", err)
	}

	r.SetAttribute("lbl", []any{"x"})
	if err := s.Update(ctx, r); err != nil {
		t.Fatalf("Update(...): %v", err)
	}

	rs, err := s.SearchByValueInField(ctx, "pi", "cb1")
	if err != nil {
		t.Fatalf("SearchByValueInField(...): %v", err)
	}
	if len(rs) != 1 || rs[0].RI() != "ae1" {
		t.Fatalf("SearchByValueInField(...): want [ae1], got %v", rs)
	}
	if diff := cmp.Diff([]string{"x"}, rs[0].Labels()); diff != "" {
		t.Errorf("\nSearchByValueInField(...): update not visible: -want, +got:\n%s", diff)
	}

	if err := s.Delete(ctx, "ae1"); err != nil {
		t.Fatalf("Delete(...): %v", err)
	}
	if _, err := s.Retrieve(ctx, "ae1"); !status.IsNotFound(err) {
		t.Errorf("Retrieve(deleted): want NOT_FOUND, got %v", err)
	}
	if err := s.Delete(ctx, "ae1"); !status.IsNotFound(err) {
		t.Errorf("Delete(deleted): want NOT_FOUND, got %v", err)
	}
}

func TestReopenKeepsData(t *testing.T) {
	fs := afero.NewMemMapFs()
	ctx := context.Background()

	s, err := NewStore(fs, "data")
	if err != nil {
		t.Fatalf("NewStore(...): %v", err)
	}
	if err := s.Create(ctx, resource.FromMap(map[string]any{"ri": "cb1", "rn": "cse"})); err != nil {
		t.Fatalf("Create(...): %v", err)
	}

	reopened, err := NewStore(fs, "data")
	if err != nil {
		t.Fatalf("NewStore(reopen): %v", err)
	}
	ok, err := reopened.HasResource(ctx, "cb1")
	if err != nil || !ok {
		t.Errorf("HasResource(after reopen): want true, got %t (err: %v)", ok, err)
	}
}
