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

package dispatcher

import (
	"context"

	"k8s.io/apimachinery/pkg/util/json"

	"github.com/onem2m-go/cse-runtime/apis/onem2m"
	"github.com/onem2m-go/cse-runtime/pkg/logging"
	"github.com/onem2m-go/cse-runtime/pkg/resource"
	"github.com/onem2m-go/cse-runtime/pkg/store"
)

// absorbInstance accounts a content instance into its container: the
// instance gets its content size and a state tag, the container's
// instance and byte counters grow. The caller persists the container.
func absorbInstance(parent, cin *resource.Resource) {
	cs := contentSize(cin)
	st, _ := parent.IntAttribute(onem2m.AttrStateTag)
	st++

	cin.SetAttribute(onem2m.AttrContentSize, cs)
	cin.SetAttribute(onem2m.AttrStateTag, st)

	cni, _ := parent.IntAttribute(onem2m.AttrCurrentNrOfInst)
	cbs, _ := parent.IntAttribute(onem2m.AttrCurrentByteSize)
	parent.SetAttribute(onem2m.AttrCurrentNrOfInst, cni+1)
	parent.SetAttribute(onem2m.AttrCurrentByteSize, cbs+cs)
	parent.SetAttribute(onem2m.AttrStateTag, st)
}

// releaseInstance gives a deleted content instance's size back to its
// container. Counter drift stays silent: the instance is already gone.
func (e *Engine) releaseInstance(ctx context.Context, cin *resource.Resource) {
	e.locks.lock(cin.PI())
	defer e.locks.unlock(cin.PI())

	parent, err := e.store.Retrieve(ctx, cin.PI())
	if err != nil {
		return
	}
	cni, _ := parent.IntAttribute(onem2m.AttrCurrentNrOfInst)
	cbs, _ := parent.IntAttribute(onem2m.AttrCurrentByteSize)
	cs, _ := cin.IntAttribute(onem2m.AttrContentSize)
	if cni > 0 {
		cni--
	}
	if cbs -= cs; cbs < 0 {
		cbs = 0
	}
	parent.SetAttribute(onem2m.AttrCurrentNrOfInst, cni)
	parent.SetAttribute(onem2m.AttrCurrentByteSize, cbs)
	bumpStateTag(parent)

	if err := e.store.Update(ctx, parent); err != nil {
		e.log.Info("Cannot write back container accounting", "ri", parent.RI(), "error", err)
	}
}

// enforceLimits evicts the oldest content instances of a container until
// it fits its mni and mbs limits again. Evictions run as the CSE and go
// through the full delete path, so subscribers see them.
func (e *Engine) enforceLimits(ctx context.Context, parentRI string) {
	for {
		parent, err := e.store.Retrieve(ctx, parentRI)
		if err != nil || parent.Type() != onem2m.ResourceTypeContainer {
			return
		}
		mni, hasMNI := parent.IntAttribute(onem2m.AttrMaxNrOfInstances)
		mbs, hasMBS := parent.IntAttribute(onem2m.AttrMaxByteSize)
		if !hasMNI && !hasMBS {
			return
		}
		cni, _ := parent.IntAttribute(onem2m.AttrCurrentNrOfInst)
		cbs, _ := parent.IntAttribute(onem2m.AttrCurrentByteSize)
		if (!hasMNI || cni <= mni) && (!hasMBS || cbs <= mbs) {
			return
		}

		children, err := store.ChildrenOf(ctx, e.store, parentRI)
		if err != nil {
			return
		}
		var instances []*resource.Resource
		for _, c := range children {
			if c.Type() == onem2m.ResourceTypeContentInstance {
				instances = append(instances, c)
			}
		}
		if len(instances) == 0 {
			return
		}
		store.SortByCreation(instances)

		oldest := instances[0]
		if err := e.Delete(ctx, oldest.RI(), e.id.Originator); err != nil {
			e.log.Info("Cannot evict content instance", append(logging.ForResource(oldest), "error", err)...)
			return
		}
	}
}

// bumpStateTag increments a resource's state tag, establishing it at 1
// when the resource never had one.
func bumpStateTag(r *resource.Resource) {
	st, _ := r.IntAttribute(onem2m.AttrStateTag)
	r.SetAttribute(onem2m.AttrStateTag, st+1)
}

// contentSize measures a content instance's con attribute: strings by
// length, anything else by its serialized form.
func contentSize(cin *resource.Resource) int64 {
	v, ok := cin.Attribute(onem2m.AttrContent)
	if !ok || v == nil {
		return 0
	}
	if s, ok := v.(string); ok {
		return int64(len(s))
	}
	b, err := json.Marshal(v)
	if err != nil {
		return 0
	}
	return int64(len(b))
}
