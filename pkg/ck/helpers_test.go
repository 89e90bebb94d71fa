package ck_test

import (
	"context"
	"testing"

	"github.com/clusterkit/clusterkit/pkg/ck"
	"github.com/clusterkit/clusterkit/pkg/extensions/core"
	"github.com/clusterkit/clusterkit/pkg/server"
	tu "github.com/clusterkit/clusterkit/pkg/testutil"
)

const testNamespace = "thisisatest"

// testClient starts a server with namespace testNamespace and returns a
// client scoped to it.
func testClient(t *testing.T, ctx context.Context) (*server.Server, *ck.Client) {
	t.Helper()
	ti := server.Test(t, ctx)
	client := ti.Client(ck.WithClientNamespace(testNamespace))
	ns := core.Namespace{}
	ns.Name = testNamespace
	ns.Labels = map[string]string{"this": "rocks"}
	_, err := ck.NewObjectClient[core.Namespace](client).Create(ctx, ns)
	tu.AssertNoError(t, err)
	return ti, client
}

func newController(name, server string) core.ReplicationController {
	zero := int32(0)
	rc := core.ReplicationController{
		Spec: &core.ReplicationControllerSpec{
			Replicas: &zero,
			Template: &core.PodTemplateSpec{
				Metadata: core.PodTemplateMeta{
					Labels: map[string]string{"server": server},
				},
				Spec: core.PodSpec{
					Containers: []core.Container{
						{
							Name:  "nginx",
							Image: "nginx",
							Ports: []core.ContainerPort{{ContainerPort: 80}},
						},
					},
				},
			},
		},
	}
	rc.Name = name
	rc.Labels = map[string]string{"server": server}
	return rc
}

func controllers(client *ck.Client) ck.ObjectClient[core.ReplicationController] {
	return ck.NewObjectClient[core.ReplicationController](client).
		InNamespace(testNamespace)
}

func names(rcs []core.ReplicationController) []string {
	out := make([]string, 0, len(rcs))
	for _, rc := range rcs {
		out = append(out, rc.Name)
	}
	return out
}
