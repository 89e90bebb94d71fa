package core

import (
	"errors"
	"fmt"

	"github.com/clusterkit/clusterkit/pkg/ck"
	"k8s.io/apimachinery/pkg/labels"
)

var (
	_ ck.Objecter  = (*ReplicationController)(nil)
	_ ck.Defaulter = (*ReplicationController)(nil)
	_ ck.Validator = (*ReplicationController)(nil)
)

// ReplicationController keeps a number of pod replicas, made from its
// template, running.
type ReplicationController struct {
	ck.ObjectMeta `json:"metadata,omitempty"`

	Spec   *ReplicationControllerSpec   `json:"spec,omitempty"`
	Status *ReplicationControllerStatus `json:"status,omitempty"`
}

func (r ReplicationController) ObjectGroup() string {
	return ObjectGroup
}

func (r ReplicationController) ObjectVersion() string {
	return ObjectVersion
}

func (r ReplicationController) ObjectKind() string {
	return ObjectKindReplicationController
}

// Default fills the selector and the controller labels from the template
// labels when unset, and the replicas with 1.
func (r *ReplicationController) Default() {
	if r.Spec == nil {
		return
	}
	if r.Spec.Replicas == nil {
		one := int32(1)
		r.Spec.Replicas = &one
	}
	if r.Spec.Template == nil || len(r.Spec.Template.Metadata.Labels) == 0 {
		return
	}
	if len(r.Spec.Selector) == 0 {
		r.Spec.Selector = copyLabels(r.Spec.Template.Metadata.Labels)
	}
	if len(r.Labels) == 0 {
		r.Labels = copyLabels(r.Spec.Template.Metadata.Labels)
	}
}

func (r *ReplicationController) Validate() error {
	if r.Spec == nil {
		return errors.New("spec is required")
	}
	var errs error
	if r.Spec.Replicas != nil && *r.Spec.Replicas < 0 {
		errs = errors.Join(errs, fmt.Errorf(
			"spec.replicas: must be non-negative, got %d",
			*r.Spec.Replicas,
		))
	}
	if r.Spec.Template == nil {
		return errors.Join(errs, errors.New("spec.template is required"))
	}
	if len(r.Spec.Selector) == 0 {
		errs = errors.Join(errs, errors.New("spec.selector is required"))
	} else {
		selector := labels.SelectorFromSet(r.Spec.Selector)
		if !selector.Matches(labels.Set(r.Spec.Template.Metadata.Labels)) {
			errs = errors.Join(errs, fmt.Errorf(
				"spec.template.metadata.labels: must match selector %q",
				selector.String(),
			))
		}
	}
	if len(r.Spec.Template.Spec.Containers) == 0 {
		errs = errors.Join(errs, errors.New(
			"spec.template.spec.containers: at least one container is required",
		))
	}
	for i, c := range r.Spec.Template.Spec.Containers {
		if c.Name == "" {
			errs = errors.Join(errs, fmt.Errorf(
				"spec.template.spec.containers[%d].name is required", i,
			))
		}
		if c.Image == "" {
			errs = errors.Join(errs, fmt.Errorf(
				"spec.template.spec.containers[%d].image is required", i,
			))
		}
		for j, p := range c.Ports {
			if p.ContainerPort < 1 || p.ContainerPort > 65535 {
				errs = errors.Join(errs, fmt.Errorf(
					"spec.template.spec.containers[%d].ports[%d]: invalid port %d",
					i, j, p.ContainerPort,
				))
			}
		}
	}
	return errs
}

type ReplicationControllerSpec struct {
	Replicas *int32            `json:"replicas,omitempty"`
	Selector map[string]string `json:"selector,omitempty"`
	Template *PodTemplateSpec  `json:"template,omitempty"`
}

type ReplicationControllerStatus struct {
	Replicas           int32 `json:"replicas"`
	ObservedGeneration int64 `json:"observedGeneration,omitempty"`
}

type PodTemplateSpec struct {
	Metadata PodTemplateMeta `json:"metadata,omitempty"`
	Spec     PodSpec         `json:"spec,omitempty"`
}

type PodTemplateMeta struct {
	Labels map[string]string `json:"labels,omitempty"`
}

type PodSpec struct {
	Containers []Container `json:"containers,omitempty"`
}

type Container struct {
	Name  string          `json:"name"`
	Image string          `json:"image"`
	Ports []ContainerPort `json:"ports,omitempty"`
}

type Protocol string

const (
	ProtocolTCP Protocol = "TCP"
	ProtocolUDP Protocol = "UDP"
)

type ContainerPort struct {
	ContainerPort int32    `json:"containerPort"`
	Protocol      Protocol `json:"protocol,omitempty"`
}

func copyLabels(in map[string]string) map[string]string {
	out := make(map[string]string, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
