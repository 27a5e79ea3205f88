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

package statemetrics

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/onem2m-go/cse-runtime/apis/onem2m"
	"github.com/onem2m-go/cse-runtime/pkg/logging"
	"github.com/onem2m-go/cse-runtime/pkg/resource"
	"github.com/onem2m-go/cse-runtime/pkg/store/memory"
)

func TestResourceStateRecorderRecord(t *testing.T) {
	ctx := context.Background()

	cases := map[string]struct {
		reason string
		seeds  []map[string]any
		want   string
	}{
		"CountsByType": {
			reason: "every hosted resource is counted under its resource type",
			seeds: []map[string]any{
				{"ri": "id-cb", "rn": "cse-in", "ty": int64(onem2m.ResourceTypeCSEBase)},
				{"ri": "id-ae1", "rn": "ae1", "ty": int64(onem2m.ResourceTypeAE)},
				{"ri": "id-ae2", "rn": "ae2", "ty": int64(onem2m.ResourceTypeAE)},
				{"ri": "id-cnt", "rn": "cnt", "ty": int64(onem2m.ResourceTypeContainer)},
			},
			want: `
# HELP cse_hosted_resources The number of hosted resources, by resource type
# TYPE cse_hosted_resources gauge
cse_hosted_resources{ty="m2m:ae"} 2
cse_hosted_resources{ty="m2m:cb"} 1
cse_hosted_resources{ty="m2m:cnt"} 1
`,
		},
		"ConfirmedAnnouncementsOnly": {
			reason: "only resources whose announceTo holds a confirmation count as announced",
			seeds: []map[string]any{
				{"ri": "id-ae1", "rn": "ae1", "ty": int64(onem2m.ResourceTypeAE),
					"at": []any{"/id-rem"}},
				{"ri": "id-ae2", "rn": "ae2", "ty": int64(onem2m.ResourceTypeAE),
					"at": []any{"/id-rem", "/id-rem/annc1"}},
				{"ri": "id-nod", "rn": "nod", "ty": int64(onem2m.ResourceTypeNode),
					"at": []any{"id-rem/annc2"}},
			},
			want: `
# HELP cse_announced_resources The number of hosted resources with at least one confirmed announcement, by resource type
# TYPE cse_announced_resources gauge
cse_announced_resources{ty="m2m:ae"} 1
cse_announced_resources{ty="m2m:nod"} 1
# HELP cse_hosted_resources The number of hosted resources, by resource type
# TYPE cse_hosted_resources gauge
cse_hosted_resources{ty="m2m:ae"} 2
cse_hosted_resources{ty="m2m:nod"} 1
`,
		},
	}

	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			s := memory.NewStore()
			for _, m := range tc.seeds {
				if err := s.Create(ctx, resource.FromMap(m)); err != nil {
					t.Fatalf("Create(%v): %v", m["ri"], err)
				}
			}

			r := NewResourceStateRecorder(s, logging.NewNopLogger(), time.Minute)
			r.Record(ctx)

			err := testutil.CollectAndCompare(r, strings.NewReader(tc.want),
				"cse_hosted_resources", "cse_announced_resources")
			if err != nil {
				t.Errorf("\n%s\nCollectAndCompare(...): %v", tc.reason, err)
			}
		})
	}
}

func TestResourceStateRecorderRecount(t *testing.T) {
	ctx := context.Background()

	s := memory.NewStore()
	seeds := []map[string]any{
		{"ri": "id-cb", "rn": "cse-in", "ty": int64(onem2m.ResourceTypeCSEBase)},
		{"ri": "id-cnt", "rn": "cnt", "ty": int64(onem2m.ResourceTypeContainer)},
	}
	for _, m := range seeds {
		if err := s.Create(ctx, resource.FromMap(m)); err != nil {
			t.Fatalf("Create(%v): %v", m["ri"], err)
		}
	}

	r := NewResourceStateRecorder(s, logging.NewNopLogger(), time.Minute)
	r.Record(ctx)

	if err := s.Delete(ctx, "id-cnt"); err != nil {
		t.Fatalf("Delete(id-cnt): %v", err)
	}
	r.Record(ctx)

	want := `
# HELP cse_hosted_resources The number of hosted resources, by resource type
# TYPE cse_hosted_resources gauge
cse_hosted_resources{ty="m2m:cb"} 1
`
	err := testutil.CollectAndCompare(r, strings.NewReader(want), "cse_hosted_resources")
	if err != nil {
		t.Errorf("\ndeleted resources must leave the recorded state on the next sweep\nCollectAndCompare(...): %v", err)
	}
}

func TestCSEOperationRecorder(t *testing.T) {
	r := NewCSEOperationRecorder()

	r.RecordOperation(onem2m.OperationCreate, onem2m.StatusCreated)
	r.RecordOperation(onem2m.OperationCreate, onem2m.StatusCreated)
	r.RecordOperation(onem2m.OperationCreate, onem2m.StatusOriginatorHasNoPrivilege)
	r.RecordOperation(onem2m.OperationDelete, onem2m.StatusDeleted)
	r.RecordDelivery(DeliveryDelivered)
	r.RecordDelivery(DeliveryDelivered)
	r.RecordDelivery(DeliveryAbandoned)

	want := `
# HELP cse_notifications_total The number of completed notification deliveries, by outcome
# TYPE cse_notifications_total counter
cse_notifications_total{outcome="abandoned"} 1
cse_notifications_total{outcome="delivered"} 2
# HELP cse_operations_total The number of handled request primitives, by operation and response status
# TYPE cse_operations_total counter
cse_operations_total{operation="create",status="CREATED"} 2
cse_operations_total{operation="create",status="ORIGINATOR_HAS_NO_PRIVILEGE"} 1
cse_operations_total{operation="delete",status="DELETED"} 1
`
	err := testutil.CollectAndCompare(r, strings.NewReader(want),
		"cse_operations_total", "cse_notifications_total")
	if err != nil {
		t.Errorf("\noperation and delivery counters must aggregate by their labels\nCollectAndCompare(...): %v", err)
	}
}
