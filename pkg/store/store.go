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

// Package store defines the resource persistence contract. The engine
// talks to a Store; the memory, file and fake subpackages implement it.
package store

import (
	"context"
	"sort"

	"github.com/onem2m-go/cse-runtime/apis/onem2m"
	"github.com/onem2m-go/cse-runtime/pkg/resource"
	"github.com/onem2m-go/cse-runtime/pkg/status"
)

// A Store persists resources keyed by resource identifier. Implementations
// must be safe for concurrent use, must not retain or return documents
// aliased to their internal state, and must return search results ordered
// by creation time, oldest first, with the resource identifier as the
// tiebreaker.
type Store interface {
	// Create persists a new resource. Creating an identifier that already
	// exists is a conflict.
	Create(ctx context.Context, r *resource.Resource) error

	// Retrieve returns the resource with the supplied identifier.
	Retrieve(ctx context.Context, ri string) (*resource.Resource, error)

	// Update replaces the stored document of an existing resource.
	Update(ctx context.Context, r *resource.Resource) error

	// Delete removes the resource with the supplied identifier.
	Delete(ctx context.Context, ri string) error

	// SearchByValueInField returns the resources whose named field equals
	// the supplied value, or whose named list field contains it.
	SearchByValueInField(ctx context.Context, field, value string) ([]*resource.Resource, error)

	// SearchByFilter returns the resources the supplied filter accepts.
	SearchByFilter(ctx context.Context, filter func(*resource.Resource) bool) ([]*resource.Resource, error)

	// HasResource returns true if a resource with the supplied identifier
	// exists.
	HasResource(ctx context.Context, ri string) (bool, error)
}

// ChildrenOf returns the direct children of the resource with the supplied
// identifier.
func ChildrenOf(ctx context.Context, s Store, pi string) ([]*resource.Resource, error) {
	return s.SearchByValueInField(ctx, onem2m.AttrParentID, pi)
}

// ChildByName returns the direct child with the supplied resource name.
func ChildByName(ctx context.Context, s Store, pi, rn string) (*resource.Resource, error) {
	children, err := ChildrenOf(ctx, s, pi)
	if err != nil {
		return nil, err
	}
	for _, c := range children {
		if c.RN() == rn {
			return c, nil
		}
	}
	return nil, status.Errorf(onem2m.StatusNotFound, "no child named %q under %s", rn, pi)
}

// OwnedBy returns the resources the engine created on behalf of the
// resource with the supplied identifier.
func OwnedBy(ctx context.Context, s Store, ri string) ([]*resource.Resource, error) {
	return s.SearchByValueInField(ctx, resource.OwnerAttr(), ri)
}

// SortByCreation orders resources by creation time, oldest first, with
// the resource identifier as the tiebreaker. Implementations share it to
// keep the search result contract aligned.
func SortByCreation(rs []*resource.Resource) {
	sort.Slice(rs, func(i, j int) bool {
		if ci, cj := rs[i].CreationTime(), rs[j].CreationTime(); ci != cj {
			return ci < cj
		}
		return rs[i].RI() < rs[j].RI()
	})
}

// FieldMatches reports whether the supplied document field matches the
// supplied value: either the field equals it, or the field is a list that
// contains it. Implementations share it to keep search semantics aligned.
func FieldMatches(field any, value string) bool {
	switch f := field.(type) {
	case string:
		return f == value
	case []any:
		for _, e := range f {
			if s, ok := e.(string); ok && s == value {
				return true
			}
		}
	case []string:
		for _, s := range f {
			if s == value {
				return true
			}
		}
	}
	return false
}
