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

// Package fake implements an outbound requester with pluggable behavior.
package fake

import (
	"context"

	"github.com/onem2m-go/cse-runtime/apis/onem2m"
	"github.com/onem2m-go/cse-runtime/pkg/resource"
)

// A Requester whose behavior is supplied per call site.
type Requester struct {
	NotifyFn         func(ctx context.Context, target string, n *onem2m.Notification) error
	CreateResourceFn func(ctx context.Context, target, parentID string, r *resource.Resource) (string, error)
	UpdateResourceFn func(ctx context.Context, target, id string, content map[string]any) error
	DeleteResourceFn func(ctx context.Context, target, id string) error
}

// Notify calls NotifyFn.
func (r *Requester) Notify(ctx context.Context, target string, n *onem2m.Notification) error {
	return r.NotifyFn(ctx, target, n)
}

// CreateResource calls CreateResourceFn.
func (r *Requester) CreateResource(ctx context.Context, target, parentID string, res *resource.Resource) (string, error) {
	return r.CreateResourceFn(ctx, target, parentID, res)
}

// UpdateResource calls UpdateResourceFn.
func (r *Requester) UpdateResource(ctx context.Context, target, id string, content map[string]any) error {
	return r.UpdateResourceFn(ctx, target, id, content)
}

// DeleteResource calls DeleteResourceFn.
func (r *Requester) DeleteResource(ctx context.Context, target, id string) error {
	return r.DeleteResourceFn(ctx, target, id)
}
