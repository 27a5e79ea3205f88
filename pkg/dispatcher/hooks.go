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

	"github.com/onem2m-go/cse-runtime/pkg/resource"
)

// An Admitter vets resources at the engine's admission points. The
// registration manager implements it; the engine calls it for every
// create and update, before the resource is persisted.
type Admitter interface {
	// AdmitCreate vets a resource about to be created and may complete
	// it, e.g. by assigning an application entity identifier. An error
	// aborts the create with the error's status code.
	AdmitCreate(ctx context.Context, r *resource.Resource, originator string) error

	// AdmitUpdate vets an update. r already carries the applied patch.
	AdmitUpdate(ctx context.Context, r *resource.Resource, patch map[string]any, originator string) error

	// Deregister is told that a registered entity's resource is being
	// deleted. Deletion proceeds regardless.
	Deregister(ctx context.Context, r *resource.Resource)
}

// An AdmitterFns satisfies Admitter with the supplied functions.
type AdmitterFns struct {
	AdmitCreateFn func(ctx context.Context, r *resource.Resource, originator string) error
	AdmitUpdateFn func(ctx context.Context, r *resource.Resource, patch map[string]any, originator string) error
	DeregisterFn  func(ctx context.Context, r *resource.Resource)
}

// AdmitCreate calls AdmitCreateFn.
func (f AdmitterFns) AdmitCreate(ctx context.Context, r *resource.Resource, originator string) error {
	return f.AdmitCreateFn(ctx, r, originator)
}

// AdmitUpdate calls AdmitUpdateFn.
func (f AdmitterFns) AdmitUpdate(ctx context.Context, r *resource.Resource, patch map[string]any, originator string) error {
	return f.AdmitUpdateFn(ctx, r, patch, originator)
}

// Deregister calls DeregisterFn.
func (f AdmitterFns) Deregister(ctx context.Context, r *resource.Resource) {
	f.DeregisterFn(ctx, r)
}

// A NopAdmitter admits everything.
type NopAdmitter struct{}

// AdmitCreate does nothing.
func (NopAdmitter) AdmitCreate(context.Context, *resource.Resource, string) error { return nil }

// AdmitUpdate does nothing.
func (NopAdmitter) AdmitUpdate(context.Context, *resource.Resource, map[string]any, string) error {
	return nil
}

// Deregister does nothing.
func (NopAdmitter) Deregister(context.Context, *resource.Resource) {}

// A Notifier reacts to resource lifecycle transitions on behalf of
// subscriptions. The subscription manager implements it. Verification
// methods run before the transition is persisted and may abort it; the
// Resource methods run after it and are best effort.
type Notifier interface {
	// VerifyCreate vets a subscription about to be created, applying
	// defaults and running the verification handshake against its
	// targets.
	VerifyCreate(ctx context.Context, sub *resource.Resource) error

	// VerifyUpdate vets a subscription update, re-running the handshake
	// against targets the patch adds. sub already carries the applied
	// patch.
	VerifyUpdate(ctx context.Context, sub *resource.Resource, patch map[string]any) error

	// ResourceCreated is told that r was created.
	ResourceCreated(ctx context.Context, r *resource.Resource)

	// ResourceUpdated is told that r was updated by the given patch.
	ResourceUpdated(ctx context.Context, r *resource.Resource, patch map[string]any)

	// ResourceDeleted is told that the delete target r is about to be
	// removed, while r and its subscriptions are still present.
	ResourceDeleted(ctx context.Context, r *resource.Resource)

	// SubscriptionDeleted is told that the subscription sub is about to
	// be removed, whether directly or by cascade, so the deletion notice
	// can go out behind the subscription's queued deliveries.
	SubscriptionDeleted(ctx context.Context, sub *resource.Resource)
}

// A NotifierFns satisfies Notifier with the supplied functions.
type NotifierFns struct {
	VerifyCreateFn        func(ctx context.Context, sub *resource.Resource) error
	VerifyUpdateFn        func(ctx context.Context, sub *resource.Resource, patch map[string]any) error
	ResourceCreatedFn     func(ctx context.Context, r *resource.Resource)
	ResourceUpdatedFn     func(ctx context.Context, r *resource.Resource, patch map[string]any)
	ResourceDeletedFn     func(ctx context.Context, r *resource.Resource)
	SubscriptionDeletedFn func(ctx context.Context, sub *resource.Resource)
}

// VerifyCreate calls VerifyCreateFn.
func (f NotifierFns) VerifyCreate(ctx context.Context, sub *resource.Resource) error {
	return f.VerifyCreateFn(ctx, sub)
}

// VerifyUpdate calls VerifyUpdateFn.
func (f NotifierFns) VerifyUpdate(ctx context.Context, sub *resource.Resource, patch map[string]any) error {
	return f.VerifyUpdateFn(ctx, sub, patch)
}

// ResourceCreated calls ResourceCreatedFn.
func (f NotifierFns) ResourceCreated(ctx context.Context, r *resource.Resource) {
	f.ResourceCreatedFn(ctx, r)
}

// ResourceUpdated calls ResourceUpdatedFn.
func (f NotifierFns) ResourceUpdated(ctx context.Context, r *resource.Resource, patch map[string]any) {
	f.ResourceUpdatedFn(ctx, r, patch)
}

// ResourceDeleted calls ResourceDeletedFn.
func (f NotifierFns) ResourceDeleted(ctx context.Context, r *resource.Resource) {
	f.ResourceDeletedFn(ctx, r)
}

// SubscriptionDeleted calls SubscriptionDeletedFn.
func (f NotifierFns) SubscriptionDeleted(ctx context.Context, sub *resource.Resource) {
	f.SubscriptionDeletedFn(ctx, sub)
}

// A NopNotifier notifies no one.
type NopNotifier struct{}

// VerifyCreate does nothing.
func (NopNotifier) VerifyCreate(context.Context, *resource.Resource) error { return nil }

// VerifyUpdate does nothing.
func (NopNotifier) VerifyUpdate(context.Context, *resource.Resource, map[string]any) error {
	return nil
}

// ResourceCreated does nothing.
func (NopNotifier) ResourceCreated(context.Context, *resource.Resource) {}

// ResourceUpdated does nothing.
func (NopNotifier) ResourceUpdated(context.Context, *resource.Resource, map[string]any) {}

// ResourceDeleted does nothing.
func (NopNotifier) ResourceDeleted(context.Context, *resource.Resource) {}

// SubscriptionDeleted does nothing.
func (NopNotifier) SubscriptionDeleted(context.Context, *resource.Resource) {}

// An Announcer replicates resources to the remote CSEs named by their
// announceTo attribute. The announcement manager implements it. All
// methods run after the local transition is persisted and are best
// effort.
type Announcer interface {
	// Announce replicates a freshly created resource to its announcement
	// targets, recording delivery confirmations on the resource.
	Announce(ctx context.Context, r *resource.Resource)

	// Reconcile propagates an update: target additions and removals in
	// announceTo, and attribute changes on the announced twins.
	Reconcile(ctx context.Context, old, updated *resource.Resource)

	// DeAnnounce removes the announced twins of a resource being
	// deleted.
	DeAnnounce(ctx context.Context, r *resource.Resource)
}

// An AnnouncerFns satisfies Announcer with the supplied functions.
type AnnouncerFns struct {
	AnnounceFn   func(ctx context.Context, r *resource.Resource)
	ReconcileFn  func(ctx context.Context, old, updated *resource.Resource)
	DeAnnounceFn func(ctx context.Context, r *resource.Resource)
}

// Announce calls AnnounceFn.
func (f AnnouncerFns) Announce(ctx context.Context, r *resource.Resource) {
	f.AnnounceFn(ctx, r)
}

// Reconcile calls ReconcileFn.
func (f AnnouncerFns) Reconcile(ctx context.Context, old, updated *resource.Resource) {
	f.ReconcileFn(ctx, old, updated)
}

// DeAnnounce calls DeAnnounceFn.
func (f AnnouncerFns) DeAnnounce(ctx context.Context, r *resource.Resource) {
	f.DeAnnounceFn(ctx, r)
}

// A NopAnnouncer announces nothing.
type NopAnnouncer struct{}

// Announce does nothing.
func (NopAnnouncer) Announce(context.Context, *resource.Resource) {}

// Reconcile does nothing.
func (NopAnnouncer) Reconcile(context.Context, *resource.Resource, *resource.Resource) {}

// DeAnnounce does nothing.
func (NopAnnouncer) DeAnnounce(context.Context, *resource.Resource) {}
