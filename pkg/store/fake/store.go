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

// Package fake implements a resource store with pluggable behavior.
package fake

import (
	"context"

	"github.com/onem2m-go/cse-runtime/pkg/resource"
)

// A Store whose behavior is supplied per call site.
type Store struct {
	CreateFn               func(ctx context.Context, r *resource.Resource) error
	RetrieveFn             func(ctx context.Context, ri string) (*resource.Resource, error)
	UpdateFn               func(ctx context.Context, r *resource.Resource) error
	DeleteFn               func(ctx context.Context, ri string) error
	SearchByValueInFieldFn func(ctx context.Context, field, value string) ([]*resource.Resource, error)
	SearchByFilterFn       func(ctx context.Context, filter func(*resource.Resource) bool) ([]*resource.Resource, error)
	HasResourceFn          func(ctx context.Context, ri string) (bool, error)
}

// Create calls CreateFn.
func (s *Store) Create(ctx context.Context, r *resource.Resource) error {
	return s.CreateFn(ctx, r)
}

// Retrieve calls RetrieveFn.
func (s *Store) Retrieve(ctx context.Context, ri string) (*resource.Resource, error) {
	return s.RetrieveFn(ctx, ri)
}

// Update calls UpdateFn.
func (s *Store) Update(ctx context.Context, r *resource.Resource) error {
	return s.UpdateFn(ctx, r)
}

// Delete calls DeleteFn.
func (s *Store) Delete(ctx context.Context, ri string) error {
	return s.DeleteFn(ctx, ri)
}

// SearchByValueInField calls SearchByValueInFieldFn.
func (s *Store) SearchByValueInField(ctx context.Context, field, value string) ([]*resource.Resource, error) {
	return s.SearchByValueInFieldFn(ctx, field, value)
}

// SearchByFilter calls SearchByFilterFn.
func (s *Store) SearchByFilter(ctx context.Context, filter func(*resource.Resource) bool) ([]*resource.Resource, error) {
	return s.SearchByFilterFn(ctx, filter)
}

// HasResource calls HasResourceFn.
func (s *Store) HasResource(ctx context.Context, ri string) (bool, error) {
	return s.HasResourceFn(ctx, ri)
}
