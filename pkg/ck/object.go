package ck

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// ClusterNamespace is the namespace token used in keys for cluster-scoped
// kinds, such as namespaces themselves.
const ClusterNamespace = "_"

type Objecter interface {
	ObjectKeyer
	ObjectLabels() map[string]string
	ObjectRevision() *uint64
	ObjectGeneration() int64
	ObjectDeletionTimestamp() *Time
}

// ObjectKeyer is an interface that can produce a unique key for an object.
type ObjectKeyer interface {
	ObjectGroup() string
	ObjectVersion() string
	ObjectKind() string
	ObjectNamespace() string
	ObjectName() string
}

// Defaulter is implemented by objects that fill in unset fields before being
// sent to the store.
type Defaulter interface {
	Default()
}

// Validator is implemented by objects that can check themselves before being
// sent to the store.
type Validator interface {
	Validate() error
}

// IsClusterScoped reports whether the keyer belongs to a cluster-scoped kind.
func IsClusterScoped(obj ObjectKeyer) bool {
	return obj.ObjectNamespace() == ClusterNamespace
}

// KeyFromObject takes an ObjectKeyer and returns a string key.
// Any empty fields in the ObjectKeyer are replaced with "*" which works well
// for nats subjects and kv watchers to list objects.
//
// If performing an action on a specific object (e.g. get, create, delete) the
// key cannot contain "*".
// In this case you can use [KeyFromObjectStrict] which makes sure the
// ObjectKeyer is concrete.
func KeyFromObject(obj ObjectKeyer) string {
	return fmt.Sprintf(
		"%s.%s.%s.%s.%s",
		orStar(obj.ObjectGroup()),
		orStar(obj.ObjectVersion()),
		orStar(obj.ObjectKind()),
		orStar(obj.ObjectNamespace()),
		orStar(obj.ObjectName()),
	)
}

func orStar(s string) string {
	if s == "" {
		return "*"
	}
	return s
}

// KeyFromObjectStrict takes an ObjectKeyer and returns a string key.
// It returns an error if any of the fields are empty or wildcards.
func KeyFromObjectStrict(obj ObjectKeyer) (string, error) {
	var errs error
	isEmptyOrStar := func(s string) bool {
		return s == "" || s == "*"
	}
	if isEmptyOrStar(obj.ObjectGroup()) {
		errs = errors.Join(errs, fmt.Errorf("group is required"))
	}
	if isEmptyOrStar(obj.ObjectVersion()) {
		errs = errors.Join(errs, fmt.Errorf("version is required"))
	}
	if isEmptyOrStar(obj.ObjectKind()) {
		errs = errors.Join(errs, fmt.Errorf("kind is required"))
	}
	if isEmptyOrStar(obj.ObjectNamespace()) {
		errs = errors.Join(errs, fmt.Errorf("namespace is required"))
	}
	if isEmptyOrStar(obj.ObjectName()) {
		errs = errors.Join(errs, fmt.Errorf("name is required"))
	}
	if errs != nil {
		return "", errs
	}
	return KeyFromObject(obj), nil
}

func ObjectKeyFromString(key string) (ObjectKey, error) {
	parts := strings.Split(key, ".")
	if len(parts) != 5 {
		return ObjectKey{}, fmt.Errorf("invalid key: %q", key)
	}
	return ObjectKey{
		Group:     parts[0],
		Version:   parts[1],
		Kind:      parts[2],
		Namespace: parts[3],
		Name:      parts[4],
	}, nil
}

func ObjectKeyFromObject(object ObjectKeyer) ObjectKey {
	return ObjectKey{
		Group:     object.ObjectGroup(),
		Version:   object.ObjectVersion(),
		Kind:      object.ObjectKind(),
		Namespace: object.ObjectNamespace(),
		Name:      object.ObjectName(),
	}
}

var _ ObjectKeyer = (*ObjectKey)(nil)

type ObjectKey struct {
	Group     string
	Version   string
	Kind      string
	Namespace string
	Name      string
}

func (o ObjectKey) ObjectGroup() string     { return o.Group }
func (o ObjectKey) ObjectVersion() string   { return o.Version }
func (o ObjectKey) ObjectKind() string      { return o.Kind }
func (o ObjectKey) ObjectNamespace() string { return o.Namespace }
func (o ObjectKey) ObjectName() string      { return o.Name }

func (o ObjectKey) String() string {
	return KeyFromObject(o)
}

// ObjectMeta is embedded by every resource kind.
// Revision, UID, Generation and the timestamps are owned by the store and
// ignored when sent by a client on create.
type ObjectMeta struct {
	Name      string            `json:"name,omitempty"`
	Namespace string            `json:"namespace,omitempty"`
	Labels    map[string]string `json:"labels,omitempty"`

	UID string `json:"uid,omitempty"`
	// Revision is the kv revision the object was read at.
	// Writes are rejected with a conflict if the stored revision has moved.
	Revision   *uint64 `json:"revision,omitempty"`
	Generation int64   `json:"generation,omitempty"`

	CreationTimestamp *Time `json:"creationTimestamp,omitempty"`
	// DeletionTimestamp is only ever set on the final write of an object
	// before it is removed from the store.
	DeletionTimestamp *Time `json:"deletionTimestamp,omitempty"`
}

func (o ObjectMeta) ObjectName() string {
	return o.Name
}

func (o ObjectMeta) ObjectNamespace() string {
	return o.Namespace
}

func (o ObjectMeta) ObjectLabels() map[string]string {
	return o.Labels
}

func (o ObjectMeta) ObjectRevision() *uint64 {
	return o.Revision
}

func (o ObjectMeta) ObjectGeneration() int64 {
	return o.Generation
}

func (o ObjectMeta) ObjectDeletionTimestamp() *Time {
	return o.DeletionTimestamp
}

// AddLabels merges the given labels into the object labels, overwriting
// existing keys.
func (o *ObjectMeta) AddLabels(labels map[string]string) {
	if o.Labels == nil {
		o.Labels = make(map[string]string, len(labels))
	}
	for k, v := range labels {
		o.Labels[k] = v
	}
}

type TypeMeta struct {
	APIVersion string `json:"apiVersion,omitempty"`
	Kind       string `json:"kind,omitempty"`
}

func (t TypeMeta) ObjectKind() string {
	return t.Kind
}

func (t TypeMeta) ObjectGroup() string {
	parts := strings.Split(t.APIVersion, "/")
	if len(parts) != 2 {
		return ""
	}
	return parts[0]
}

func (t TypeMeta) ObjectVersion() string {
	parts := strings.Split(t.APIVersion, "/")
	if len(parts) != 2 {
		return ""
	}
	return parts[1]
}

type Time struct {
	time.Time
}

func Now() *Time {
	return &Time{Time: time.Now().UTC()}
}

var _ Objecter = (*MetaOnlyObject)(nil)

// MetaOnlyObject is an object that has no spec or status.
// It is used for unmarshalling objects from the store to read metadata.
type MetaOnlyObject struct {
	TypeMeta   `json:",inline"`
	ObjectMeta `json:"metadata"`
}

// ObjectNamespace maps the cluster namespace token back from objects that
// were stored without a namespace.
func (m MetaOnlyObject) ObjectNamespace() string {
	if m.Namespace == "" {
		return ClusterNamespace
	}
	return m.Namespace
}

var _ Objecter = (*GenericObject)(nil)

type GenericObject struct {
	TypeMeta   `json:",inline"`
	ObjectMeta `json:"metadata,omitempty"`

	Spec   json.RawMessage `json:"spec,omitempty"`
	Status json.RawMessage `json:"status,omitempty"`
}

func (g GenericObject) ObjectNamespace() string {
	if g.Namespace == "" {
		return ClusterNamespace
	}
	return g.Namespace
}

type ObjectList struct {
	Items []json.RawMessage `json:"items,omitempty"`
}
