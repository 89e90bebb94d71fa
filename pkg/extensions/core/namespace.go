package core

import (
	"github.com/clusterkit/clusterkit/pkg/ck"
)

const (
	ObjectGroup   = "core"
	ObjectVersion = "v1"

	ObjectKindNamespace             = "Namespace"
	ObjectKindResourceQuota         = "ResourceQuota"
	ObjectKindReplicationController = "ReplicationController"
)

var _ ck.Objecter = (*Namespace)(nil)

type Namespace struct {
	ck.ObjectMeta `json:"metadata,omitempty"`

	Spec   *NamespaceSpec   `json:"spec,omitempty"`
	Status *NamespaceStatus `json:"status,omitempty"`
}

func (n Namespace) ObjectGroup() string {
	return ObjectGroup
}

func (n Namespace) ObjectVersion() string {
	return ObjectVersion
}

func (n Namespace) ObjectKind() string {
	return ObjectKindNamespace
}

// Override ObjectNamespace because namespaces are cluster-scoped.
func (n Namespace) ObjectNamespace() string {
	return ck.ClusterNamespace
}

// IsTerminating reports whether the namespace is being deleted.
func (n Namespace) IsTerminating() bool {
	return n.Status != nil && n.Status.Phase == NamespaceTerminating
}

type NamespaceSpec struct{}

type NamespacePhase string

const (
	NamespaceActive      NamespacePhase = "Active"
	NamespaceTerminating NamespacePhase = "Terminating"
)

type NamespaceStatus struct {
	Phase NamespacePhase `json:"phase,omitempty"`
}

// NamespaceKey returns the key of the namespace object with the given name.
func NamespaceKey(name string) ck.ObjectKey {
	return ck.ObjectKey{
		Group:     ObjectGroup,
		Version:   ObjectVersion,
		Kind:      ObjectKindNamespace,
		Namespace: ck.ClusterNamespace,
		Name:      name,
	}
}
