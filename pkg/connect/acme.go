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

package connect

import (
	"context"
	"net/url"
	"strings"
	"sync"

	"github.com/onem2m-go/cse-runtime/apis/onem2m"
	"github.com/onem2m-go/cse-runtime/pkg/resource"
	"github.com/onem2m-go/cse-runtime/pkg/status"
)

// A Handler serves inbound request primitives. The engine implements it;
// tests implement it to play the remote side of a handshake.
type Handler interface {
	HandleRequest(ctx context.Context, req *onem2m.RequestPrimitive) *onem2m.ResponsePrimitive
}

// A HandlerFunc adapts a function to a Handler.
type HandlerFunc func(ctx context.Context, req *onem2m.RequestPrimitive) *onem2m.ResponsePrimitive

// HandleRequest calls fn.
func (fn HandlerFunc) HandleRequest(ctx context.Context, req *onem2m.RequestPrimitive) *onem2m.ResponsePrimitive {
	return fn(ctx, req)
}

// An InProcBinding delivers requests to handlers registered under host
// names, without a transport. Target URIs use the acme scheme,
// acme://<host>[/<path>]; co-located engines and tests register under the
// host part.
type InProcBinding struct {
	origin string

	mu    sync.RWMutex
	hosts map[string]Handler
}

// NewInProcBinding returns a binding that sends requests as the supplied
// originator.
func NewInProcBinding(origin string) *InProcBinding {
	return &InProcBinding{origin: origin, hosts: map[string]Handler{}}
}

// Handle registers a handler under the given host name, replacing any
// previous one.
func (b *InProcBinding) Handle(host string, h Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.hosts[host] = h
}

// resolve splits an acme target into its handler and the address carried
// in the path, if any.
func (b *InProcBinding) resolve(target string) (Handler, string, error) {
	u, err := url.Parse(target)
	if err != nil {
		return nil, "", status.Wrap(err, onem2m.StatusBadRequest, "invalid target URI")
	}

	b.mu.RLock()
	defer b.mu.RUnlock()
	h, ok := b.hosts[u.Host]
	if !ok {
		return nil, "", status.Errorf(onem2m.StatusTargetNotReachable, "no handler registered for %q", u.Host)
	}
	return h, strings.TrimPrefix(u.Path, "/"), nil
}

func (b *InProcBinding) send(ctx context.Context, target string, req onem2m.RequestPrimitive) (onem2m.ResponsePrimitive, error) {
	h, path, err := b.resolve(target)
	if err != nil {
		return onem2m.ResponsePrimitive{}, err
	}
	if req.Target == "" {
		req.Target = path
	}
	rsp := h.HandleRequest(ctx, &req)
	if rsp == nil {
		return onem2m.ResponsePrimitive{}, status.Errorf(onem2m.StatusTargetNotReachable, "handler for %q returned no response", target)
	}
	return *rsp, nil
}

// Notify delivers a notification to the handler behind the target.
func (b *InProcBinding) Notify(ctx context.Context, target string, n *onem2m.Notification) error {
	pc, err := toContent(n)
	if err != nil {
		return err
	}
	rsp, err := b.send(ctx, target, newPrimitive(onem2m.OperationNotify, b.origin, "", pc))
	if err != nil {
		return err
	}
	return responseError(rsp)
}

// CreateResource creates r under parentID at the target and returns the
// assigned resource identifier.
func (b *InProcBinding) CreateResource(ctx context.Context, target, parentID string, r *resource.Resource) (string, error) {
	req := newPrimitive(onem2m.OperationCreate, b.origin, parentID, r.WireRepresentation())
	req.ResourceType = r.Type()
	rsp, err := b.send(ctx, target, req)
	if err != nil {
		return "", err
	}
	if err := responseError(rsp); err != nil {
		return "", err
	}
	return createdRI(rsp.Content)
}

// UpdateResource applies the supplied content to the identified resource.
func (b *InProcBinding) UpdateResource(ctx context.Context, target, id string, content map[string]any) error {
	rsp, err := b.send(ctx, target, newPrimitive(onem2m.OperationUpdate, b.origin, id, content))
	if err != nil {
		return err
	}
	return responseError(rsp)
}

// DeleteResource deletes the identified resource.
func (b *InProcBinding) DeleteResource(ctx context.Context, target, id string) error {
	rsp, err := b.send(ctx, target, newPrimitive(onem2m.OperationDelete, b.origin, id, nil))
	if err != nil {
		return err
	}
	return responseError(rsp)
}
