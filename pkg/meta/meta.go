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

// Package meta provides identifier and timestamp utilities shared by the
// engine: unique resource identifiers, the compact oneM2M timestamp form,
// and originator and address normalization.
package meta

import (
	"strings"
	"time"

	"github.com/pkg/errors"
	"k8s.io/apimachinery/pkg/util/rand"
	"k8s.io/utils/clock"

	"github.com/onem2m-go/cse-runtime/apis/onem2m"
)

// TimestampLayout is the compact oneM2M timestamp form. It is fixed width,
// so timestamps order lexicographically; expiration sweeps rely on that.
const TimestampLayout = "20060102T150405,000"

// DefaultIDLength is the length of the random part of generated
// identifiers.
const DefaultIDLength = 10

// Timestamp renders t in the compact oneM2M form, in UTC.
func Timestamp(t time.Time) string {
	return t.UTC().Format(TimestampLayout)
}

// Now renders the supplied clock's current time in the compact oneM2M form.
func Now(c clock.PassiveClock) string {
	return Timestamp(c.Now())
}

// ParseTimestamp parses a timestamp in the compact oneM2M form.
func ParseTimestamp(s string) (time.Time, error) {
	t, err := time.Parse(TimestampLayout, s)
	return t, errors.Wrapf(err, "cannot parse timestamp %q", s)
}

// typePrefix derives the identifier prefix for a resource type from its
// wire key, e.g. "m2m:ae" yields "ae" and "m2m:aeA" yields "aeA".
func typePrefix(ty onem2m.ResourceType) string {
	k := ty.Key()
	if k == "" {
		return "unk"
	}
	return strings.TrimPrefix(k, "m2m:")
}

// UniqueRI returns a new unique resource identifier for the supplied type,
// with a random part of n characters. Non-positive n uses DefaultIDLength.
func UniqueRI(ty onem2m.ResourceType, n int) string {
	if n <= 0 {
		n = DefaultIDLength
	}
	return typePrefix(ty) + rand.String(n)
}

// UniqueRN returns a new unique resource name for the supplied type.
func UniqueRN(ty onem2m.ResourceType, n int) string {
	if n <= 0 {
		n = DefaultIDLength
	}
	return typePrefix(ty) + "_" + rand.String(n)
}

// UniqueAEI returns a new unique AE identifier with the supplied prefix,
// conventionally "C" for registrations without an SP-assigned identifier.
func UniqueAEI(prefix string, n int) string {
	if n <= 0 {
		n = DefaultIDLength
	}
	return prefix + rand.String(n)
}

// NormalizeOriginator strips SP-relative and CSE-relative prefixes from an
// originator, reducing it to a bare identifier: "//sp/id/CAE1", "/id/CAE1"
// and "CAE1" all normalize to "CAE1".
func NormalizeOriginator(o string) string {
	o = strings.TrimLeft(o, "/")
	if i := strings.LastIndex(o, "/"); i >= 0 {
		return o[i+1:]
	}
	return o
}

// IsStructured returns true if the supplied address is a structured
// resource address (a resource-name path) rather than an unstructured
// resource identifier.
func IsStructured(addr string) bool {
	return strings.Contains(addr, "/")
}

// SplitAddress splits a structured address into its resource-name
// segments, dropping empty segments from leading or duplicate separators.
func SplitAddress(addr string) []string {
	parts := strings.Split(addr, "/")
	out := parts[:0]
	for _, p := range parts {
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
