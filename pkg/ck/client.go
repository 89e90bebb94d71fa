package ck

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/tidwall/sjson"
)

const (
	BucketObjects = "ck_objects"
	BucketMutex   = "ck_objects_mutex"
)

const (
	HeaderStatus        = "Ck-Status"
	HeaderReason        = "Ck-Reason"
	HeaderRevision      = "Ck-Revision"
	HeaderLabelSelector = "Ck-Label-Selector"
	HeaderFieldSelector = "Ck-Field-Selector"
)

// format: CK.store.<command>.<group>.<version>.<kind>.<namespace>.<name>
const (
	SubjectStoreCreate = "CK.store.create.%s"
	SubjectStoreGet    = "CK.store.get.%s"
	SubjectStoreList   = "CK.store.list.%s"
	SubjectStoreUpdate = "CK.store.update.%s"
	SubjectStoreDelete = "CK.store.delete.%s"
)

const (
	DefaultMasterURL      = nats.DefaultURL
	DefaultNamespace      = "default"
	DefaultRequestTimeout = 5 * time.Second
)

var (
	ErrCreateObjectRequired = errors.New("create: object required")
	ErrUpdateRevision       = errors.New("update: object revision required")
	ErrNamespaceRequired    = &Error{
		Status:  http.StatusBadRequest,
		Reason:  ReasonBadRequest,
		Message: "namespace required",
	}
)

// Config is the client configuration.
// MasterURL is the only value needed to reach a cluster.
type Config struct {
	MasterURL      string        `json:"masterUrl,omitempty"`
	Namespace      string        `json:"namespace,omitempty"`
	RequestTimeout time.Duration `json:"requestTimeout,omitempty"`
	// Name is reported to the nats server as the connection name.
	Name string `json:"name,omitempty"`
}

func (c Config) withDefaults() Config {
	if c.MasterURL == "" {
		c.MasterURL = DefaultMasterURL
	}
	if c.Namespace == "" {
		c.Namespace = DefaultNamespace
	}
	if c.RequestTimeout == 0 {
		c.RequestTimeout = DefaultRequestTimeout
	}
	if c.Name == "" {
		c.Name = "clusterkit-client"
	}
	return c
}

// Dial connects to the cluster at cfg.MasterURL.
// The returned client owns the connection and must be closed.
func Dial(ctx context.Context, cfg Config) (*Client, error) {
	cfg = cfg.withDefaults()
	opts := []nats.Option{nats.Name(cfg.Name)}
	if deadline, ok := ctx.Deadline(); ok {
		opts = append(opts, nats.Timeout(time.Until(deadline)))
	}
	conn, err := nats.Connect(cfg.MasterURL, opts...)
	if err != nil {
		return nil, ErrorWrap(
			ErrorFromNATSErr(err),
			http.StatusBadGateway,
			fmt.Sprintf("connecting to %s", cfg.MasterURL),
		)
	}
	c := NewClient(
		conn,
		WithClientNamespace(cfg.Namespace),
		WithClientTimeout(cfg.RequestTimeout),
	)
	c.ownsConn = true
	return c, nil
}

type ClientOption func(*clientOpts)

func WithClientNamespace(namespace string) ClientOption {
	return func(co *clientOpts) {
		co.namespace = namespace
	}
}

func WithClientTimeout(timeout time.Duration) ClientOption {
	return func(co *clientOpts) {
		co.timeout = timeout
	}
}

type clientOpts struct {
	namespace string
	timeout   time.Duration
}

func NewClient(conn *nats.Conn, opts ...ClientOption) *Client {
	co := clientOpts{
		namespace: DefaultNamespace,
		timeout:   DefaultRequestTimeout,
	}
	for _, opt := range opts {
		opt(&co)
	}
	return &Client{
		Conn:      conn,
		Namespace: co.namespace,
		Timeout:   co.timeout,
	}
}

type Client struct {
	Conn *nats.Conn

	// Namespace is used for name based operations on namespaced kinds when
	// no namespace was given.
	Namespace string
	// Timeout bounds every request to the store.
	Timeout time.Duration

	ownsConn bool
}

// Close drains the connection if the client created it with [Dial].
func (c *Client) Close() error {
	if !c.ownsConn || c.Conn == nil {
		return nil
	}
	if err := c.Conn.Drain(); err != nil {
		c.Conn.Close()
		return fmt.Errorf("draining connection: %w", err)
	}
	return nil
}

func (c *Client) marshalObjectWithTypeFields(obj Objecter) ([]byte, error) {
	data, err := json.Marshal(obj)
	if err != nil {
		return nil, fmt.Errorf("marshalling object: %w", err)
	}
	data, err = sjson.SetBytes(data, "kind", obj.ObjectKind())
	if err != nil {
		return nil, fmt.Errorf("setting kind: %w", err)
	}
	data, err = sjson.SetBytes(
		data,
		"apiVersion",
		obj.ObjectGroup()+"/"+obj.ObjectVersion(),
	)
	if err != nil {
		return nil, fmt.Errorf("setting apiVersion: %w", err)
	}
	return data, nil
}

func (c *Client) request(
	ctx context.Context,
	msg *nats.Msg,
) ([]byte, error) {
	timeout := c.Timeout
	if timeout == 0 {
		timeout = DefaultRequestTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	reply, err := c.Conn.RequestMsgWithContext(ctx, msg)
	if err != nil {
		return nil, ErrorWrap(
			ErrorFromNATSErr(err),
			http.StatusBadGateway,
			fmt.Sprintf("subject %q", msg.Subject),
		)
	}
	if err := ErrorFromNATS(reply); err != nil {
		return nil, err
	}
	return reply.Data, nil
}

// Create sends data for a new object to the store and returns the object as
// stored.
func (c *Client) Create(
	ctx context.Context,
	key ObjectKeyer,
	data []byte,
) ([]byte, error) {
	if data == nil {
		return nil, ErrCreateObjectRequired
	}
	rawKey, err := c.strictKey(key)
	if err != nil {
		return nil, err
	}
	msg := nats.NewMsg(fmt.Sprintf(SubjectStoreCreate, rawKey))
	msg.Data = data
	reply, err := c.request(ctx, msg)
	if err != nil {
		return nil, fmt.Errorf("creating %s: %w", rawKey, err)
	}
	return reply, nil
}

func (c *Client) Get(
	ctx context.Context,
	key ObjectKeyer,
) ([]byte, error) {
	rawKey, err := c.strictKey(key)
	if err != nil {
		return nil, err
	}
	msg := nats.NewMsg(fmt.Sprintf(SubjectStoreGet, rawKey))
	reply, err := c.request(ctx, msg)
	if err != nil {
		return nil, fmt.Errorf("getting %s: %w", rawKey, err)
	}
	return reply, nil
}

// List returns the objects matching the key, which may contain wildcards,
// and the selector.
func (c *Client) List(
	ctx context.Context,
	key ObjectKeyer,
	selector Selector,
) (*ObjectList, error) {
	rawKey := KeyFromObject(key)
	msg := nats.NewMsg(fmt.Sprintf(SubjectStoreList, rawKey))
	if ls := selector.LabelString(); ls != "" {
		msg.Header.Set(HeaderLabelSelector, ls)
	}
	if fs := selector.FieldString(); fs != "" {
		msg.Header.Set(HeaderFieldSelector, fs)
	}
	reply, err := c.request(ctx, msg)
	if err != nil {
		return nil, fmt.Errorf("listing %s: %w", rawKey, err)
	}
	var list ObjectList
	if err := json.Unmarshal(reply, &list); err != nil {
		return nil, fmt.Errorf("unmarshalling object list: %w", err)
	}
	return &list, nil
}

// Update replaces the object at key, provided the stored revision still
// equals revision.
func (c *Client) Update(
	ctx context.Context,
	key ObjectKeyer,
	data []byte,
	revision uint64,
) ([]byte, error) {
	if revision == 0 {
		return nil, ErrUpdateRevision
	}
	rawKey, err := c.strictKey(key)
	if err != nil {
		return nil, err
	}
	msg := nats.NewMsg(fmt.Sprintf(SubjectStoreUpdate, rawKey))
	msg.Header.Set(HeaderRevision, strconv.FormatUint(revision, 10))
	msg.Data = data
	reply, err := c.request(ctx, msg)
	if err != nil {
		return nil, fmt.Errorf("updating %s: %w", rawKey, err)
	}
	return reply, nil
}

func (c *Client) Delete(
	ctx context.Context,
	key ObjectKeyer,
) error {
	rawKey, err := c.strictKey(key)
	if err != nil {
		return err
	}
	msg := nats.NewMsg(fmt.Sprintf(SubjectStoreDelete, rawKey))
	if _, err := c.request(ctx, msg); err != nil {
		return fmt.Errorf("deleting %s: %w", rawKey, err)
	}
	return nil
}

func (c *Client) strictKey(key ObjectKeyer) (string, error) {
	rawKey, err := KeyFromObjectStrict(key)
	if err != nil {
		return "", &Error{
			Status:  http.StatusBadRequest,
			Reason:  ReasonBadRequest,
			Message: fmt.Sprintf("invalid key: %s", err.Error()),
			Cause:   err,
		}
	}
	return rawKey, nil
}
