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

// Package connect delivers outbound requests: subscription notifications,
// announced-resource replication, and verification handshakes. A Mux
// routes each target URI to the binding registered for its scheme.
package connect

import (
	"context"
	"net/url"
	"sync"

	"github.com/google/uuid"
	"k8s.io/apimachinery/pkg/util/json"

	"github.com/onem2m-go/cse-runtime/apis/onem2m"
	"github.com/onem2m-go/cse-runtime/pkg/resource"
	"github.com/onem2m-go/cse-runtime/pkg/status"
)

// Error strings.
const (
	errMarshalContent = "cannot marshal request content"
	errDecodeContent  = "cannot decode request content"
)

// A Requester delivers oneM2M requests to one target.
type Requester interface {
	// Notify delivers a notification to the target and returns an error
	// carrying the target's response code when it is not a success.
	Notify(ctx context.Context, target string, n *onem2m.Notification) error

	// CreateResource creates r as a child of parentID at the target and
	// returns the identifier the target assigned.
	CreateResource(ctx context.Context, target, parentID string, r *resource.Resource) (string, error)

	// UpdateResource applies the supplied content, already wrapped under
	// the resource's type key, to the identified resource at the target.
	UpdateResource(ctx context.Context, target, id string, content map[string]any) error

	// DeleteResource deletes the identified resource at the target.
	DeleteResource(ctx context.Context, target, id string) error
}

// A Mux routes requests to the binding registered for the target URI's
// scheme.
type Mux struct {
	mu       sync.RWMutex
	bindings map[string]Requester
}

// NewMux returns a Mux with no bindings.
func NewMux() *Mux {
	return &Mux{bindings: map[string]Requester{}}
}

// Bind registers a binding for the supplied URI scheme, replacing any
// previous one.
func (m *Mux) Bind(scheme string, r Requester) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.bindings[scheme] = r
}

func (m *Mux) binding(target string) (Requester, error) {
	u, err := url.Parse(target)
	if err != nil {
		return nil, status.Wrap(err, onem2m.StatusBadRequest, "invalid target URI")
	}
	if !onem2m.IsSupportedScheme(u.Scheme) {
		return nil, status.Errorf(onem2m.StatusBadRequest, "unsupported scheme %q in target %s", u.Scheme, target)
	}

	m.mu.RLock()
	defer m.mu.RUnlock()
	b, ok := m.bindings[u.Scheme]
	if !ok {
		return nil, status.Errorf(onem2m.StatusTargetNotReachable, "no binding for scheme %q", u.Scheme)
	}
	return b, nil
}

// Notify routes to the target's binding.
func (m *Mux) Notify(ctx context.Context, target string, n *onem2m.Notification) error {
	b, err := m.binding(target)
	if err != nil {
		return err
	}
	return b.Notify(ctx, target, n)
}

// CreateResource routes to the target's binding.
func (m *Mux) CreateResource(ctx context.Context, target, parentID string, r *resource.Resource) (string, error) {
	b, err := m.binding(target)
	if err != nil {
		return "", err
	}
	return b.CreateResource(ctx, target, parentID, r)
}

// UpdateResource routes to the target's binding.
func (m *Mux) UpdateResource(ctx context.Context, target, id string, content map[string]any) error {
	b, err := m.binding(target)
	if err != nil {
		return err
	}
	return b.UpdateResource(ctx, target, id, content)
}

// DeleteResource routes to the target's binding.
func (m *Mux) DeleteResource(ctx context.Context, target, id string) error {
	b, err := m.binding(target)
	if err != nil {
		return err
	}
	return b.DeleteResource(ctx, target, id)
}

// newPrimitive builds an outbound request primitive with a fresh request
// identifier.
func newPrimitive(op onem2m.Operation, origin, to string, pc map[string]any) onem2m.RequestPrimitive {
	return onem2m.RequestPrimitive{
		Operation:         op,
		Target:            to,
		Originator:        origin,
		RequestIdentifier: uuid.NewString(),
		ReleaseVersion:    onem2m.ReleaseVersion,
		Content:           pc,
	}
}

// toContent converts any marshalable value into primitive content.
func toContent(v any) (map[string]any, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, status.Wrap(err, onem2m.StatusInternalServerError, errMarshalContent)
	}
	var m map[string]any
	if err := json.Unmarshal(b, &m); err != nil {
		return nil, status.Wrap(err, onem2m.StatusInternalServerError, errDecodeContent)
	}
	return m, nil
}

// responseError reduces a response primitive to an error: nil on success,
// otherwise an error carrying the remote's status code and m2m:dbg text.
func responseError(rsp onem2m.ResponsePrimitive) error {
	if rsp.StatusCode.IsSuccess() {
		return nil
	}
	if dbg, ok := rsp.Content[onem2m.DebugKey].(string); ok && dbg != "" {
		return status.Errorf(rsp.StatusCode, "%s", dbg)
	}
	return status.Errorf(rsp.StatusCode, "request rejected by target")
}

// createdRI extracts the assigned resource identifier from a create
// response's content.
func createdRI(pc map[string]any) (string, error) {
	for _, v := range pc {
		m, ok := v.(map[string]any)
		if !ok {
			continue
		}
		if ri, ok := m[onem2m.AttrResourceID].(string); ok && ri != "" {
			return ri, nil
		}
	}
	return "", status.Errorf(onem2m.StatusInternalServerError, "create response carries no resource identifier")
}
