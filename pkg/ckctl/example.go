package ckctl

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/clusterkit/clusterkit/pkg/ck"
	"github.com/clusterkit/clusterkit/pkg/extensions/core"
	"k8s.io/apimachinery/pkg/api/resource"
)

// ExampleNamespace is the namespace RunExample works in.
const ExampleNamespace = "thisisatest"

// RunExample exercises every client operation against the cluster: it
// creates a namespace with a quota, watches replication controllers while
// they are created, queried, edited and deleted, and finally deletes the
// namespace again.
func RunExample(ctx context.Context, client *ck.Client) (err error) {
	namespaces := ck.NewObjectClient[core.Namespace](client)

	ns := core.Namespace{}
	ns.Name = ExampleNamespace
	ns.Labels = map[string]string{"this": "rocks"}
	created, err := namespaces.Create(ctx, ns)
	if err != nil {
		return err
	}
	slog.Info("created namespace", "namespace", created)
	defer func() {
		if _, derr := namespaces.Delete(ctx, ExampleNamespace); derr != nil {
			err = errors.Join(err, derr)
			return
		}
		slog.Info("deleted namespace")
	}()

	got, err := namespaces.Get(ctx, ExampleNamespace)
	if err != nil {
		return err
	}
	slog.Info("get namespace by name", "namespace", got)
	list, err := namespaces.WithLabel("this", "rocks").List(ctx)
	if err != nil {
		return err
	}
	slog.Info("get namespace by label", "namespaces", list)

	quota, err := ck.NewObjectClient[core.ResourceQuota](client).
		InNamespace(ExampleNamespace).
		Create(ctx, core.ResourceQuota{
			ObjectMeta: ck.ObjectMeta{Name: "pod-quota"},
			Spec: &core.ResourceQuotaSpec{
				Hard: core.ResourceList{"pods": resource.MustParse("4")},
			},
		})
	if err != nil {
		return err
	}
	slog.Info("create resource quota", "quota", quota)

	all := ck.NewObjectClient[core.ReplicationController](client)
	rcs := all.InNamespace(ExampleNamespace)

	watcher, err := rcs.Watch(
		ctx,
		func(event ck.WatchEvent[core.ReplicationController]) {
			if event.Action == ck.ActionError {
				slog.Error("could not watch resources", "error", event.Err)
				return
			}
			slog.Info(
				"watch event",
				"action", event.Action,
				"name", event.Object.Name,
				"labels", event.Object.Labels,
			)
		},
	)
	if err != nil {
		return err
	}
	defer watcher.Close()

	rc := nginxController("nginx-controller", "nginx")
	createdRC, err := rcs.Create(ctx, rc)
	if err != nil {
		return err
	}
	slog.Info("created rc", "rc", createdRC)
	createdRC, err = rcs.Create(ctx, nginxController("nginx2-controller", "nginx2"))
	if err != nil {
		return err
	}
	slog.Info("created second rc", "rc", createdRC)

	gotRC, err := rcs.Get(ctx, "nginx-controller")
	if err != nil {
		return err
	}
	slog.Info("get rc by name in namespace", "rc", gotRC)

	for _, query := range []struct {
		msg string
		oc  ck.ObjectClient[core.ReplicationController]
	}{
		{"get rc by label", all.WithLabel("server", "nginx")},
		{"get rc without label", all.WithoutLabel("server", "apache")},
		{"get rc with label in", all.WithLabelIn("server", "nginx")},
		{"get rc with label not in", all.WithLabelNotIn("server", "apache")},
		{"get rc by label in namespace", rcs.WithLabel("server", "nginx")},
	} {
		items, err := query.oc.List(ctx)
		if err != nil {
			return err
		}
		slog.Info(query.msg, "count", len(items), "names", names(items))
	}

	for _, labels := range []map[string]string{
		{"new": "label"},
		{"another": "label"},
	} {
		if _, err := rcs.Edit(ctx, "nginx-controller", func(rc *core.ReplicationController) error {
			rc.AddLabels(labels)
			return nil
		}); err != nil {
			return err
		}
	}
	slog.Info("updated rc")

	for _, name := range []string{"nginx-controller", "nginx2-controller"} {
		if _, err := rcs.Delete(ctx, name); err != nil {
			return err
		}
	}
	slog.Info("deleted rcs")

	if _, err := rcs.Create(ctx, rc); err != nil {
		return err
	}
	slog.Info("created rc again")
	if _, err := rcs.Delete(ctx, rc.Name); err != nil {
		return err
	}
	slog.Info("deleted rc")

	if _, err := rcs.Create(ctx, rc); err != nil {
		return err
	}
	n, err := all.WithLabel("server", "nginx").DeleteAll(ctx)
	if err != nil {
		return err
	}
	slog.Info("deleted rc by label", "count", n)

	if _, err := rcs.Create(ctx, rc); err != nil {
		return err
	}
	n, err = rcs.WithField("metadata.name", rc.Name).DeleteAll(ctx)
	if err != nil {
		return err
	}
	slog.Info("deleted rc by field", "count", n)
	return nil
}

// LogError logs err and each error suppressed behind it.
func LogError(err error) {
	slog.Error("example failed", "error", err)
	for _, s := range ck.Suppressed(err) {
		slog.Error("suppressed", "error", s)
	}
}

func nginxController(name, server string) core.ReplicationController {
	replicas := int32(0)
	rc := core.ReplicationController{
		Spec: &core.ReplicationControllerSpec{
			Replicas: &replicas,
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
	rc.Labels = map[string]string{"server": "nginx"}
	return rc
}

func names[T ck.Objecter](objects []T) []string {
	out := make([]string, len(objects))
	for i, obj := range objects {
		out[i] = fmt.Sprintf("%s/%s", obj.ObjectNamespace(), obj.ObjectName())
	}
	return out
}
