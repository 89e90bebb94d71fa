package core

import (
	"github.com/clusterkit/clusterkit/pkg/ck"
	"k8s.io/apimachinery/pkg/api/resource"
)

var _ ck.Objecter = (*ResourceQuota)(nil)

// ResourceQuota constrains the aggregate resource consumption in its
// namespace. The store enforces object count limits, keyed by the plural
// lower case kind (e.g. "replicationcontrollers" or
// "count/replicationcontrollers").
type ResourceQuota struct {
	ck.ObjectMeta `json:"metadata,omitempty"`

	Spec   *ResourceQuotaSpec   `json:"spec,omitempty"`
	Status *ResourceQuotaStatus `json:"status,omitempty"`
}

func (q ResourceQuota) ObjectGroup() string {
	return ObjectGroup
}

func (q ResourceQuota) ObjectVersion() string {
	return ObjectVersion
}

func (q ResourceQuota) ObjectKind() string {
	return ObjectKindResourceQuota
}

// ResourceList maps a resource name to a quantity, e.g. "pods": 4.
type ResourceList map[string]resource.Quantity

type ResourceQuotaSpec struct {
	Hard ResourceList `json:"hard,omitempty"`
}

type ResourceQuotaStatus struct {
	Hard ResourceList `json:"hard,omitempty"`
	Used ResourceList `json:"used,omitempty"`
}
