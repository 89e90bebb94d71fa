package ck_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/clusterkit/clusterkit/pkg/ck"
	"github.com/clusterkit/clusterkit/pkg/extensions/core"
	tu "github.com/clusterkit/clusterkit/pkg/testutil"
)

func TestCreateGet(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	_, client := testClient(t, ctx)
	rcs := controllers(client)

	created, err := rcs.Create(ctx, newController("nginx", "nginx"))
	tu.AssertNoError(t, err)
	tu.AssertEqual(t, testNamespace, created.Namespace)
	tu.AssertEqual(t, int64(1), created.Generation)
	tu.AssertTrue(t, created.UID != "", "uid set")
	tu.AssertTrue(t, created.CreationTimestamp != nil, "creation timestamp set")
	tu.AssertTrue(t, created.Revision != nil, "revision set")
	// Defaulted from the template.
	tu.AssertEqual(t, map[string]string{"server": "nginx"}, created.Spec.Selector)

	got, err := rcs.Get(ctx, "nginx")
	tu.AssertNoError(t, err)
	tu.AssertEqual(t, created, got)

	_, err = rcs.Create(ctx, newController("nginx", "nginx"))
	tu.AssertErrorIs(t, err, ck.ErrAlreadyExists)
	// The existing object is unchanged.
	again, err := rcs.Get(ctx, "nginx")
	tu.AssertNoError(t, err)
	tu.AssertEqual(t, created, again)

	_, err = rcs.Get(ctx, "missing")
	tu.AssertErrorIs(t, err, ck.ErrNotFound)
}

func TestCreateInvalid(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	_, client := testClient(t, ctx)
	rcs := controllers(client)

	rc := newController("nginx", "nginx")
	rc.Spec.Template.Spec.Containers = nil
	_, err := rcs.Create(ctx, rc)
	tu.AssertReason(t, err, ck.ReasonInvalid)

	rc = newController("nginx", "nginx")
	rc.Namespace = "other"
	_, err = rcs.Create(ctx, rc)
	tu.AssertReason(t, err, ck.ReasonInvalid)

	_, err = rcs.InNamespace("nowhere").Create(ctx, newController("nginx", "nginx"))
	tu.AssertErrorIs(t, err, ck.ErrNotFound)
}

func TestNamespaceFallback(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	ti, client := testClient(t, ctx)

	// Without a scope, name based operations use the client namespace.
	unscoped := ck.NewObjectClient[core.ReplicationController](client)
	_, err := unscoped.Create(ctx, newController("nginx", "nginx"))
	tu.AssertNoError(t, err)
	got, err := controllers(client).Get(ctx, "nginx")
	tu.AssertNoError(t, err)
	tu.AssertEqual(t, testNamespace, got.Namespace)

	// Cluster-scoped kinds ignore the scope.
	ns, err := ck.NewObjectClient[core.Namespace](client).
		InNamespace("ignored").
		Get(ctx, testNamespace)
	tu.AssertNoError(t, err)
	tu.AssertEqual(t, map[string]string{"this": "rocks"}, ns.Labels)

	// A client without a namespace needs an explicit one.
	noDefault := ti.Client(ck.WithClientNamespace(""))
	_, err = ck.NewObjectClient[core.ReplicationController](noDefault).Get(ctx, "nginx")
	tu.AssertReason(t, err, ck.ReasonBadRequest)
}

func TestListSelectors(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	_, client := testClient(t, ctx)
	rcs := controllers(client)
	for _, rc := range []core.ReplicationController{
		newController("nginx", "nginx"),
		newController("apache", "apache"),
		newController("nginx2", "nginx2"),
	} {
		_, err := rcs.Create(ctx, rc)
		tu.AssertNoError(t, err)
	}

	type testcase struct {
		name string
		oc   ck.ObjectClient[core.ReplicationController]
		exp  []string
	}
	tcs := []testcase{
		{name: "all", oc: rcs, exp: []string{"apache", "nginx", "nginx2"}},
		{name: "label", oc: rcs.WithLabel("server", "nginx"), exp: []string{"nginx"}},
		{name: "without", oc: rcs.WithoutLabel("server", "apache"), exp: []string{"nginx", "nginx2"}},
		{name: "in", oc: rcs.WithLabelIn("server", "nginx"), exp: []string{"nginx"}},
		{name: "not_in", oc: rcs.WithLabelNotIn("server", "apache"), exp: []string{"nginx", "nginx2"}},
		{name: "field", oc: rcs.WithField(ck.FieldMetadataName, "nginx2"), exp: []string{"nginx2"}},
		{name: "other_namespace", oc: rcs.InNamespace("default"), exp: []string{}},
	}
	for _, tc := range tcs {
		list, err := tc.oc.List(ctx)
		tu.AssertNoError(t, err, tc.name)
		tu.AssertEqual(t, tc.exp, names(list))
	}
}

func TestEdit(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	_, client := testClient(t, ctx)
	rcs := controllers(client)
	_, err := rcs.Create(ctx, newController("nginx", "nginx"))
	tu.AssertNoError(t, err)

	addLabel := func(rc *core.ReplicationController) error {
		rc.AddLabels(map[string]string{"new": "label"})
		return nil
	}
	edited, err := rcs.Edit(ctx, "nginx", addLabel)
	tu.AssertNoError(t, err)
	tu.AssertEqual(t, map[string]string{"server": "nginx", "new": "label"}, edited.Labels)
	tu.AssertEqual(t, int64(2), edited.Generation)

	// Repeating the same edit converges and writes nothing.
	again, err := rcs.Edit(ctx, "nginx", addLabel)
	tu.AssertNoError(t, err)
	tu.AssertEqual(t, edited, again)

	_, err = rcs.Edit(ctx, "missing", addLabel)
	tu.AssertErrorIs(t, err, ck.ErrNotFound)
}

func TestEditRename(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	_, client := testClient(t, ctx)
	rcs := controllers(client)
	created, err := rcs.Create(ctx, newController("nginx", "nginx"))
	tu.AssertNoError(t, err)

	_, err = rcs.Edit(ctx, "nginx", func(rc *core.ReplicationController) error {
		rc.Name = "other"
		return nil
	})
	tu.AssertReason(t, err, ck.ReasonInvalid)

	// Neither name was written to.
	got, err := rcs.Get(ctx, "nginx")
	tu.AssertNoError(t, err)
	tu.AssertEqual(t, created, got)
	_, err = rcs.Get(ctx, "other")
	tu.AssertErrorIs(t, err, ck.ErrNotFound)
}

func TestUpdateConflict(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	_, client := testClient(t, ctx)
	rcs := controllers(client)
	stale, err := rcs.Create(ctx, newController("nginx", "nginx"))
	tu.AssertNoError(t, err)

	_, err = rcs.Edit(ctx, "nginx", func(rc *core.ReplicationController) error {
		three := int32(3)
		rc.Spec.Replicas = &three
		return nil
	})
	tu.AssertNoError(t, err)

	stale.Labels["new"] = "label"
	_, err = rcs.Update(ctx, stale)
	tu.AssertErrorIs(t, err, ck.ErrConflict)

	stale.Revision = nil
	_, err = rcs.Update(ctx, stale)
	tu.AssertErrorIs(t, err, ck.ErrUpdateRevision)
}

func TestConcurrentEdits(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	_, client := testClient(t, ctx)
	rcs := controllers(client)
	_, err := rcs.Create(ctx, newController("nginx", "nginx"))
	tu.AssertNoError(t, err)

	const editors = 5
	var wg sync.WaitGroup
	errs := make([]error, editors)
	for i := 0; i < editors; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = ck.RetryOnConflict(ctx, 20, 10*time.Millisecond, func() error {
				_, err := rcs.Edit(ctx, "nginx", func(rc *core.ReplicationController) error {
					*rc.Spec.Replicas++
					return nil
				})
				return err
			})
		}(i)
	}
	wg.Wait()
	for _, err := range errs {
		tu.AssertNoError(t, err)
	}
	rc, err := rcs.Get(ctx, "nginx")
	tu.AssertNoError(t, err)
	tu.AssertEqual(t, int32(editors), *rc.Spec.Replicas)
}

func TestDelete(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	_, client := testClient(t, ctx)
	rcs := controllers(client)
	for _, rc := range []core.ReplicationController{
		newController("nginx", "nginx"),
		newController("nginx2", "nginx"),
		newController("apache", "apache"),
	} {
		_, err := rcs.Create(ctx, rc)
		tu.AssertNoError(t, err)
	}

	deleted, err := rcs.Delete(ctx, "apache")
	tu.AssertNoError(t, err)
	tu.AssertTrue(t, deleted, "apache deleted")
	_, err = rcs.Get(ctx, "apache")
	tu.AssertErrorIs(t, err, ck.ErrNotFound)

	// Deleting nothing is not an error.
	deleted, err = rcs.Delete(ctx, "apache")
	tu.AssertNoError(t, err)
	tu.AssertTrue(t, !deleted, "nothing deleted")
	n, err := rcs.WithLabel("server", "apache").DeleteAll(ctx)
	tu.AssertNoError(t, err)
	tu.AssertEqual(t, 0, n)

	// Field selection deletes exactly the named object.
	n, err = rcs.WithField(ck.FieldMetadataName, "nginx2").DeleteAll(ctx)
	tu.AssertNoError(t, err)
	tu.AssertEqual(t, 1, n)
	left, err := rcs.List(ctx)
	tu.AssertNoError(t, err)
	tu.AssertEqual(t, []string{"nginx"}, names(left))

	n, err = rcs.WithLabel("server", "nginx").DeleteAll(ctx)
	tu.AssertNoError(t, err)
	tu.AssertEqual(t, 1, n)
	left, err = rcs.List(ctx)
	tu.AssertNoError(t, err)
	tu.AssertEqual(t, 0, len(left))
}

func TestTransportError(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	ti, client := testClient(t, ctx)
	rcs := controllers(client)
	tu.AssertNoError(t, ti.Store.Close())
	ti.Store = nil

	_, err := rcs.Get(ctx, "nginx")
	tu.AssertErrorIs(t, err, ck.ErrTransport)

	_, err = ck.Dial(ctx, ck.Config{
		MasterURL:      "nats://127.0.0.1:1",
		RequestTimeout: time.Second,
	})
	tu.AssertErrorIs(t, err, ck.ErrTransport)
}

func TestDial(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	ti, _ := testClient(t, ctx)
	client, err := ck.Dial(ctx, ck.Config{
		MasterURL: ti.URL(),
		Namespace: testNamespace,
	})
	tu.AssertNoError(t, err)
	defer client.Close()

	ns, err := ck.NewObjectClient[core.Namespace](client).
		WithLabel("this", "rocks").
		List(ctx)
	tu.AssertNoError(t, err)
	tu.AssertEqual(t, 1, len(ns))
	tu.AssertEqual(t, testNamespace, ns[0].Name)
}
