package ck_test

import (
	"context"
	"testing"

	"github.com/clusterkit/clusterkit/pkg/ck"
	tu "github.com/clusterkit/clusterkit/pkg/testutil"
)

type labeled struct {
	ck.ObjectMeta `json:"metadata,omitempty"`
}

func (labeled) ObjectGroup() string   { return "test" }
func (labeled) ObjectVersion() string { return "v1" }
func (labeled) ObjectKind() string    { return "Labeled" }

func newLabeled(name string, labels map[string]string) labeled {
	l := labeled{}
	l.Name = name
	l.Namespace = "thisisatest"
	l.Labels = labels
	return l
}

func TestSelectorMatches(t *testing.T) {
	t.Parallel()

	nginx := newLabeled("nginx", map[string]string{"server": "nginx"})
	apache := newLabeled("apache", map[string]string{"server": "apache"})
	bare := newLabeled("bare", nil)

	type testcase struct {
		name   string
		narrow func(ck.ObjectClient[labeled]) ck.ObjectClient[labeled]
		match  map[string]bool
	}
	tcs := []testcase{
		{
			name:   "empty",
			narrow: func(oc ck.ObjectClient[labeled]) ck.ObjectClient[labeled] { return oc },
			match:  map[string]bool{"nginx": true, "apache": true, "bare": true},
		},
		{
			name: "with_label",
			narrow: func(oc ck.ObjectClient[labeled]) ck.ObjectClient[labeled] {
				return oc.WithLabel("server", "nginx")
			},
			match: map[string]bool{"nginx": true},
		},
		{
			name: "without_label",
			narrow: func(oc ck.ObjectClient[labeled]) ck.ObjectClient[labeled] {
				return oc.WithoutLabel("server", "apache")
			},
			match: map[string]bool{"nginx": true, "bare": true},
		},
		{
			name: "label_in",
			narrow: func(oc ck.ObjectClient[labeled]) ck.ObjectClient[labeled] {
				return oc.WithLabelIn("server", "nginx")
			},
			match: map[string]bool{"nginx": true},
		},
		{
			name: "label_not_in",
			narrow: func(oc ck.ObjectClient[labeled]) ck.ObjectClient[labeled] {
				return oc.WithLabelNotIn("server", "apache")
			},
			match: map[string]bool{"nginx": true, "bare": true},
		},
		{
			name: "label_exists",
			narrow: func(oc ck.ObjectClient[labeled]) ck.ObjectClient[labeled] {
				return oc.WithLabelExists("server")
			},
			match: map[string]bool{"nginx": true, "apache": true},
		},
		{
			name: "label_key_absent",
			narrow: func(oc ck.ObjectClient[labeled]) ck.ObjectClient[labeled] {
				return oc.WithoutLabelKey("server")
			},
			match: map[string]bool{"bare": true},
		},
		{
			name: "field_name",
			narrow: func(oc ck.ObjectClient[labeled]) ck.ObjectClient[labeled] {
				return oc.WithField(ck.FieldMetadataName, "apache")
			},
			match: map[string]bool{"apache": true},
		},
		{
			name: "field_namespace_and_label",
			narrow: func(oc ck.ObjectClient[labeled]) ck.ObjectClient[labeled] {
				return oc.
					WithField(ck.FieldMetadataNamespace, "thisisatest").
					WithLabelSelector("server in (nginx,apache)")
			},
			match: map[string]bool{"nginx": true, "apache": true},
		},
		{
			name: "field_expression",
			narrow: func(oc ck.ObjectClient[labeled]) ck.ObjectClient[labeled] {
				return oc.WithFieldSelector("metadata.name!=nginx")
			},
			match: map[string]bool{"apache": true, "bare": true},
		},
	}
	for _, tc := range tcs {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			selector, err := tc.narrow(ck.NewObjectClient[labeled](nil)).Selector()
			tu.AssertNoError(t, err)
			for _, obj := range []labeled{nginx, apache, bare} {
				tu.AssertEqual(t, tc.match[obj.Name], selector.Matches(obj))
			}
		})
	}
}

func TestSelectorInvalid(t *testing.T) {
	t.Parallel()

	oc := ck.NewObjectClient[labeled](nil)
	tcs := map[string]ck.ObjectClient[labeled]{
		"bad_label_key":     oc.WithLabel("-bad-", "x"),
		"bad_label_value":   oc.WithLabel("server", "not valid"),
		"in_without_values": oc.WithLabelIn("server"),
		"bad_expression":    oc.WithLabelSelector("server in (nginx"),
		"unselectable":      oc.WithField("spec.replicas", "0"),
		"bad_field_expr":    oc.WithFieldSelector("metadata.name"),
		// The first error sticks, later narrowing does not clear it.
		"sticky": oc.WithLabel("-bad-", "x").WithLabel("server", "nginx"),
	}
	for name, narrowed := range tcs {
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			_, err := narrowed.Selector()
			tu.AssertErrorIs(t, err, ck.ErrSelectorInvalid)
			_, err = narrowed.List(context.Background())
			tu.AssertErrorIs(t, err, ck.ErrSelectorInvalid)
		})
	}
}

func TestParseSelector(t *testing.T) {
	t.Parallel()

	s, err := ck.ParseSelector("server=nginx,tier notin (db)", "metadata.name=web")
	tu.AssertNoError(t, err)
	tu.AssertTrue(t, !s.Empty(), "selector empty")

	web := newLabeled("web", map[string]string{"server": "nginx"})
	tu.AssertTrue(t, s.Matches(web), "web should match")

	// The string forms parse back into the same selector.
	again, err := ck.ParseSelector(s.LabelString(), s.FieldString())
	tu.AssertNoError(t, err)
	tu.AssertEqual(t, s.String(), again.String())

	empty, err := ck.ParseSelector("", "")
	tu.AssertNoError(t, err)
	tu.AssertTrue(t, empty.Empty(), "selector not empty")
	tu.AssertTrue(t, ck.Selector{}.Matches(web), "zero selector matches")

	_, err = ck.ParseSelector("", "status.phase=Active")
	tu.AssertReason(t, err, ck.ReasonSelectorInvalid)
}

func TestNarrowingDoesNotModifyReceiver(t *testing.T) {
	t.Parallel()

	base := ck.NewObjectClient[labeled](nil).InNamespace("a")
	_ = base.WithLabel("server", "nginx").InNamespace("b")
	s, err := base.Selector()
	tu.AssertNoError(t, err)
	tu.AssertTrue(t, s.Empty(), "base selector modified")
}
