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

// Package memory implements an in-memory resource store.
package memory

import (
	"context"
	"sync"

	"k8s.io/apimachinery/pkg/runtime"

	"github.com/onem2m-go/cse-runtime/apis/onem2m"
	"github.com/onem2m-go/cse-runtime/pkg/resource"
	"github.com/onem2m-go/cse-runtime/pkg/status"
	"github.com/onem2m-go/cse-runtime/pkg/store"
)

// A Store keeps resource documents in a map. Documents are deep copied on
// the way in and out, so callers never share state with the store.
type Store struct {
	mu        sync.RWMutex
	resources map[string]map[string]any
}

// NewStore returns an empty in-memory store.
func NewStore() *Store {
	return &Store{resources: map[string]map[string]any{}}
}

// Create persists a new resource.
func (s *Store) Create(_ context.Context, r *resource.Resource) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	ri := r.RI()
	if _, ok := s.resources[ri]; ok {
		return status.Errorf(onem2m.StatusConflict, "resource %s already exists", ri)
	}
	s.resources[ri] = runtime.DeepCopyJSON(r.Object())
	return nil
}

// Retrieve returns the resource with the supplied identifier.
func (s *Store) Retrieve(_ context.Context, ri string) (*resource.Resource, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	doc, ok := s.resources[ri]
	if !ok {
		return nil, status.Errorf(onem2m.StatusNotFound, "resource %s not found", ri)
	}
	return resource.FromMap(runtime.DeepCopyJSON(doc)), nil
}

// Update replaces the stored document of an existing resource.
func (s *Store) Update(_ context.Context, r *resource.Resource) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	ri := r.RI()
	if _, ok := s.resources[ri]; !ok {
		return status.Errorf(onem2m.StatusNotFound, "resource %s not found", ri)
	}
	s.resources[ri] = runtime.DeepCopyJSON(r.Object())
	return nil
}

// Delete removes the resource with the supplied identifier.
func (s *Store) Delete(_ context.Context, ri string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.resources[ri]; !ok {
		return status.Errorf(onem2m.StatusNotFound, "resource %s not found", ri)
	}
	delete(s.resources, ri)
	return nil
}

// SearchByValueInField returns the resources whose named field equals the
// supplied value or whose named list field contains it.
func (s *Store) SearchByValueInField(ctx context.Context, field, value string) ([]*resource.Resource, error) {
	return s.SearchByFilter(ctx, func(r *resource.Resource) bool {
		v, ok := r.Attribute(field)
		return ok && store.FieldMatches(v, value)
	})
}

// SearchByFilter returns the resources the supplied filter accepts,
// ordered by creation time then identifier.
func (s *Store) SearchByFilter(_ context.Context, filter func(*resource.Resource) bool) ([]*resource.Resource, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*resource.Resource
	for _, doc := range s.resources {
		r := resource.FromMap(runtime.DeepCopyJSON(doc))
		if filter(r) {
			out = append(out, r)
		}
	}
	store.SortByCreation(out)
	return out, nil
}

// HasResource returns true if a resource with the supplied identifier
// exists.
func (s *Store) HasResource(_ context.Context, ri string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	_, ok := s.resources[ri]
	return ok, nil
}
