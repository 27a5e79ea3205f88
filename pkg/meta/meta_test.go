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

package meta

import (
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	testingclock "k8s.io/utils/clock/testing"

	"github.com/onem2m-go/cse-runtime/apis/onem2m"
)

func TestTimestamp(t *testing.T) {
	at := time.Date(2024, 8, 20, 12, 0, 0, 500*int(time.Millisecond), time.UTC)

	want := "20240820T120000,500"
	got := Timestamp(at)
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("\nTimestamp(...): -want, +got:\n%s", diff)
	}

	back, err := ParseTimestamp(got)
	if err != nil {
		t.Fatalf("ParseTimestamp(...): %v", err)
	}
	if !back.Equal(at) {
		t.Errorf("ParseTimestamp(Timestamp(t)): want %v, got %v", at, back)
	}
}

func TestTimestampOrdersLexicographically(t *testing.T) {
	early := Timestamp(time.Date(2024, 8, 20, 12, 0, 0, 0, time.UTC))
	late := Timestamp(time.Date(2024, 8, 20, 12, 0, 1, 0, time.UTC))

	if !(early < late) {
		t.Errorf("timestamps must order lexicographically: %q >= %q", early, late)
	}
}

func TestNow(t *testing.T) {
	c := testingclock.NewFakePassiveClock(time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC))

	want := "20240102T030405,000"
	if diff := cmp.Diff(want, Now(c)); diff != "" {
		t.Errorf("\nNow(...): -want, +got:\n%s", diff)
	}
}

func TestUniqueRI(t *testing.T) {
	got := UniqueRI(onem2m.ResourceTypeAE, 10)

	if !strings.HasPrefix(got, "ae") {
		t.Errorf("UniqueRI(AE): want ae prefix, got %q", got)
	}
	if len(got) != len("ae")+10 {
		t.Errorf("UniqueRI(AE): want random part of 10, got %q", got)
	}
	if other := UniqueRI(onem2m.ResourceTypeAE, 10); other == got {
		t.Errorf("UniqueRI(AE): want unique identifiers, got %q twice", got)
	}
}

func TestUniqueRIAnnounced(t *testing.T) {
	got := UniqueRI(onem2m.ResourceTypeAEAnnc, 10)
	if !strings.HasPrefix(got, "aeA") {
		t.Errorf("UniqueRI(AEAnnc): want aeA prefix, got %q", got)
	}
}

func TestNormalizeOriginator(t *testing.T) {
	cases := map[string]struct {
		reason string
		o      string
		want   string
	}{
		"Bare":        {reason: "Bare identifiers pass through.", o: "CAE1", want: "CAE1"},
		"CSERelative": {reason: "A CSE-relative originator reduces to its identifier.", o: "/id-in/CAE1", want: "CAE1"},
		"SPRelative":  {reason: "An SP-relative originator reduces to its identifier.", o: "//sp.example/id-in/CAE1", want: "CAE1"},
		"Empty":       {reason: "Empty originators stay empty.", o: "", want: ""},
	}

	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			got := NormalizeOriginator(tc.o)
			if diff := cmp.Diff(tc.want, got); diff != "" {
				t.Errorf("\n%s\nNormalizeOriginator(...): -want, +got:\n%s", tc.reason, diff)
			}
		})
	}
}

func TestSplitAddress(t *testing.T) {
	cases := map[string]struct {
		reason string
		addr   string
		want   []string
	}{
		"Structured": {
			reason: "Structured addresses split on separators.",
			addr:   "cse-in/myAE/cnt1",
			want:   []string{"cse-in", "myAE", "cnt1"},
		},
		"LeadingSeparators": {
			reason: "Leading separators do not produce empty segments.",
			addr:   "//cse-in/myAE",
			want:   []string{"cse-in", "myAE"},
		},
	}

	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			got := SplitAddress(tc.addr)
			if diff := cmp.Diff(tc.want, got); diff != "" {
				t.Errorf("\n%s\nSplitAddress(...): -want, +got:\n%s", tc.reason, diff)
			}
		})
	}
}
