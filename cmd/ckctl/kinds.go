package main

import (
	"context"
	"fmt"
	"slices"
	"strings"

	"github.com/clusterkit/clusterkit/pkg/ck"
	"github.com/clusterkit/clusterkit/pkg/extensions/core"
)

type kind struct {
	name          string
	aliases       []string
	clusterScoped bool
	deleteAll     func(ctx context.Context, client *ck.Client, namespace, selector string) (int, error)
}

var kinds = []kind{
	{
		name:          core.ObjectKindNamespace,
		aliases:       []string{"namespace", "namespaces", "ns"},
		clusterScoped: true,
		deleteAll:     deleteAll[core.Namespace],
	},
	{
		name:      core.ObjectKindResourceQuota,
		aliases:   []string{"resourcequota", "resourcequotas", "quota"},
		deleteAll: deleteAll[core.ResourceQuota],
	},
	{
		name:      core.ObjectKindReplicationController,
		aliases:   []string{"replicationcontroller", "replicationcontrollers", "rc"},
		deleteAll: deleteAll[core.ReplicationController],
	},
}

func kindFor(arg string) (kind, error) {
	arg = strings.ToLower(arg)
	for _, k := range kinds {
		if strings.ToLower(k.name) == arg || slices.Contains(k.aliases, arg) {
			return k, nil
		}
	}
	return kind{}, fmt.Errorf("unknown kind: %q", arg)
}

// key returns the key for name of kind k in namespace. An empty namespace
// matches all namespaces.
func (k kind) key(namespace, name string) ck.ObjectKey {
	key := ck.ObjectKey{
		Group:     core.ObjectGroup,
		Version:   core.ObjectVersion,
		Kind:      k.name,
		Namespace: namespace,
		Name:      name,
	}
	if k.clusterScoped {
		key.Namespace = ck.ClusterNamespace
	}
	return key
}

func deleteAll[T ck.Objecter](
	ctx context.Context,
	client *ck.Client,
	namespace, selector string,
) (int, error) {
	return ck.NewObjectClient[T](client).
		InNamespace(namespace).
		WithLabelSelector(selector).
		DeleteAll(ctx)
}
