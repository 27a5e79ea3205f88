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

package resource

import (
	"testing"

	fuzz "github.com/AdaLogics/go-fuzz-headers"
	"github.com/google/go-cmp/cmp"
)

func TestApply(t *testing.T) {
	type args struct {
		object map[string]any
		patch  map[string]any
	}

	cases := map[string]struct {
		reason string
		args   args
		want   map[string]any
	}{
		"ReplaceAndAdd": {
			reason: "Patched attributes replace stored values; new attributes are added.",
			args: args{
				object: map[string]any{"rn": "cnt", "lbl": []any{"a"}},
				patch:  map[string]any{"lbl": []any{"b"}, "mni": int64(10)},
			},
			want: map[string]any{"rn": "cnt", "lbl": []any{"b"}, "mni": int64(10)},
		},
		"NullRemoves": {
			reason: "A null attribute value removes the attribute.",
			args: args{
				object: map[string]any{"rn": "cnt", "lbl": []any{"a"}},
				patch:  map[string]any{"lbl": nil},
			},
			want: map[string]any{"rn": "cnt"},
		},
		"NestedReplacedWholesale": {
			reason: "Nested attributes are replaced, not merged.",
			args: args{
				object: map[string]any{"enc": map[string]any{"net": []any{int64(1)}, "extra": "x"}},
				patch:  map[string]any{"enc": map[string]any{"net": []any{int64(3)}}},
			},
			want: map[string]any{"enc": map[string]any{"net": []any{int64(3)}}},
		},
	}

	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			r := FromMap(tc.args.object)
			r.Apply(tc.args.patch)
			if diff := cmp.Diff(tc.want, r.Object()); diff != "" {
				t.Errorf("\n%s\nApply(...): -want, +got:\n%s", tc.reason, diff)
			}
		})
	}
}

func TestApplyCopiesPatchValues(t *testing.T) {
	patch := map[string]any{"lbl": []any{"a"}}
	r := FromMap(map[string]any{})
	r.Apply(patch)

	patch["lbl"].([]any)[0] = "mutated"
	if diff := cmp.Diff([]string{"a"}, r.Labels()); diff != "" {
		t.Errorf("\nApply(...): patch mutation leaked into resource: -want, +got:\n%s", diff)
	}
}

func TestDiff(t *testing.T) {
	type args struct {
		old map[string]any
		new map[string]any
	}

	cases := map[string]struct {
		reason string
		args   args
		want   map[string]any
	}{
		"ChangedAndRemoved": {
			reason: "Changed attributes map to their new values, removed ones to nil.",
			args: args{
				old: map[string]any{"lbl": []any{"a"}, "mni": int64(5), "rn": "cnt"},
				new: map[string]any{"lbl": []any{"b"}, "rn": "cnt"},
			},
			want: map[string]any{"lbl": []any{"b"}, "mni": nil},
		},
		"NoChange": {
			reason: "Identical representations diff to an empty patch.",
			args: args{
				old: map[string]any{"rn": "cnt"},
				new: map[string]any{"rn": "cnt"},
			},
			want: map[string]any{},
		},
	}

	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			got, err := Diff(tc.args.old, tc.args.new)
			if err != nil {
				t.Fatalf("Diff(...): %v", err)
			}
			if diff := cmp.Diff(tc.want, got); diff != "" {
				t.Errorf("\n%s\nDiff(...): -want, +got:\n%s", tc.reason, diff)
			}
		})
	}
}

// FuzzApplyPatch checks that patch application never panics and that null
// entries always remove.
func FuzzApplyPatch(f *testing.F) {
	f.Add([]byte("seed"))
	f.Fuzz(func(t *testing.T, data []byte) {
		c := fuzz.NewConsumer(data)

		object := map[string]any{}
		patch := map[string]any{}
		for i := 0; i < 4; i++ {
			k, err := c.GetString()
			if err != nil {
				return
			}
			v, err := c.GetString()
			if err != nil {
				return
			}
			object[k] = v

			pk, err := c.GetString()
			if err != nil {
				return
			}
			removes, err := c.GetBool()
			if err != nil {
				return
			}
			if removes {
				patch[pk] = nil
			} else {
				patch[pk] = v
			}
		}

		r := FromMap(object)
		r.Apply(patch)

		for k, v := range patch {
			if v == nil && r.HasAttribute(k) {
				t.Errorf("Apply(...): null patch entry %q not removed", k)
			}
		}
	})
}
