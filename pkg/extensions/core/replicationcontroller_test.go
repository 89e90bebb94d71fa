package core

import (
	"testing"

	tu "github.com/clusterkit/clusterkit/pkg/testutil"
)

func nginxController() *ReplicationController {
	return &ReplicationController{
		Spec: &ReplicationControllerSpec{
			Template: &PodTemplateSpec{
				Metadata: PodTemplateMeta{
					Labels: map[string]string{"server": "nginx"},
				},
				Spec: PodSpec{
					Containers: []Container{
						{
							Name:  "nginx",
							Image: "nginx",
							Ports: []ContainerPort{{ContainerPort: 80}},
						},
					},
				},
			},
		},
	}
}

func TestReplicationControllerDefault(t *testing.T) {
	rc := nginxController()
	rc.Default()

	tu.AssertEqual(t, int32(1), *rc.Spec.Replicas)
	tu.AssertEqual(t, map[string]string{"server": "nginx"}, rc.Spec.Selector)
	tu.AssertEqual(t, map[string]string{"server": "nginx"}, rc.Labels)

	// Defaulted maps must not alias the template labels.
	rc.Labels["new"] = "label"
	tu.AssertEqual(t, 1, len(rc.Spec.Template.Metadata.Labels))
	tu.AssertNoError(t, rc.Validate())
}

func TestReplicationControllerDefaultKeepsValues(t *testing.T) {
	rc := nginxController()
	zero := int32(0)
	rc.Spec.Replicas = &zero
	rc.Labels = map[string]string{"app": "web"}
	rc.Default()

	tu.AssertEqual(t, int32(0), *rc.Spec.Replicas)
	tu.AssertEqual(t, map[string]string{"app": "web"}, rc.Labels)
}

func TestReplicationControllerValidate(t *testing.T) {
	type test struct {
		name    string
		mutate  func(rc *ReplicationController)
		wantErr bool
	}
	tests := []test{
		{
			name:   "valid",
			mutate: func(rc *ReplicationController) {},
		},
		{
			name: "selector mismatch",
			mutate: func(rc *ReplicationController) {
				rc.Spec.Selector = map[string]string{"server": "apache"}
			},
			wantErr: true,
		},
		{
			name: "no containers",
			mutate: func(rc *ReplicationController) {
				rc.Spec.Template.Spec.Containers = nil
			},
			wantErr: true,
		},
		{
			name: "negative replicas",
			mutate: func(rc *ReplicationController) {
				n := int32(-1)
				rc.Spec.Replicas = &n
			},
			wantErr: true,
		},
		{
			name: "invalid port",
			mutate: func(rc *ReplicationController) {
				rc.Spec.Template.Spec.Containers[0].Ports[0].ContainerPort = 0
			},
			wantErr: true,
		},
		{
			name: "no template",
			mutate: func(rc *ReplicationController) {
				rc.Spec.Template = nil
			},
			wantErr: true,
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			rc := nginxController()
			rc.Default()
			tc.mutate(rc)
			err := rc.Validate()
			if tc.wantErr {
				tu.AssertTrue(t, err != nil, "expected error")
				return
			}
			tu.AssertNoError(t, err)
		})
	}
}

func TestNamespaceIsClusterScoped(t *testing.T) {
	ns := Namespace{}
	ns.Name = "thisisatest"
	tu.AssertTrue(t, ns.ObjectNamespace() == "_", "namespace scope")
	tu.AssertTrue(t, !ns.IsTerminating(), "new namespace terminating")
	ns.Status = &NamespaceStatus{Phase: NamespaceTerminating}
	tu.AssertTrue(t, ns.IsTerminating(), "namespace not terminating")
}
