package remote

import (
	"context"
	"net"
	"sync"
	"time"

	"github.com/gridkv/gridstore/pkg/kvstore"
	"github.com/mitchellh/mapstructure"
)

func init() {
	kvstore.RegisterBackend("remote", func(ctx context.Context, options map[string]any) (kvstore.Store, error) {
		var cfg Config
		if err := mapstructure.Decode(options, &cfg); err != nil {
			return nil, kvstore.WrapError(kvstore.ErrInvalidArgument, "invalid remote store config", "", err)
		}
		return Dial(ctx, cfg)
	})
}

// Config configures a remote store client.
type Config struct {
	// Backend is the discriminator; always "remote".
	Backend string `mapstructure:"backend"`

	// Address is the host:port of the store server. Required.
	Address string `mapstructure:"address"`

	// DialTimeout bounds connection establishment. Defaults to 10s.
	DialTimeout time.Duration `mapstructure:"dial_timeout"`
}

// Client is a kvstore.Store backed by a store server.
//
// Requests are serialized over a single connection; the XID ties each reply
// to its request as a sanity check. Callers needing parallelism open
// multiple clients.
type Client struct {
	mu      sync.Mutex
	conn    net.Conn
	nextXID uint32
	closed  bool
}

// Dial connects to a store server.
func Dial(ctx context.Context, cfg Config) (*Client, error) {
	if cfg.Address == "" {
		return nil, kvstore.NewError(kvstore.ErrInvalidArgument, "remote store: address is required", "")
	}
	timeout := cfg.DialTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	dialer := net.Dialer{Timeout: timeout}
	conn, err := dialer.DialContext(ctx, "tcp", cfg.Address)
	if err != nil {
		return nil, kvstore.WrapError(kvstore.ErrUnavailable, "failed to connect to store server", "", err)
	}
	return &Client{conn: conn, nextXID: 1}, nil
}

// call sends one request and decodes the reply body (which may be nil).
func (c *Client) call(ctx context.Context, op uint32, key string, request any, replyBody any) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return kvstore.NewError(kvstore.ErrUnavailable, "client is closed", key)
	}

	xid := c.nextXID
	c.nextXID++

	if deadline, ok := ctx.Deadline(); ok {
		c.conn.SetDeadline(deadline)
		defer c.conn.SetDeadline(time.Time{})
	}

	header := &RequestHeader{XID: xid, Op: op}
	var err error
	if request == nil {
		err = writeRecord(c.conn, header)
	} else {
		err = writeRecord(c.conn, header, request)
	}
	if err != nil {
		return kvstore.WrapError(kvstore.ErrUnavailable, "failed to send request", key, err)
	}

	record, err := readRecord(c.conn)
	if err != nil {
		return kvstore.WrapError(kvstore.ErrUnavailable, "failed to read reply", key, err)
	}

	var replyHeader ReplyHeader
	if err := decodeParts(record, &replyHeader); err != nil {
		return kvstore.WrapError(kvstore.ErrIO, "failed to decode reply", key, err)
	}
	if replyHeader.XID != xid {
		return kvstore.NewError(kvstore.ErrIO, "reply XID mismatch", key)
	}
	if err := errorFromStatus(replyHeader.Status, replyHeader.Message, key); err != nil {
		return err
	}

	// The body follows the header in the same record; XDR has no random
	// access, so decode both in one pass.
	if replyBody != nil {
		if err := decodeParts(record, &replyHeader, replyBody); err != nil {
			return kvstore.WrapError(kvstore.ErrIO, "failed to decode reply body", key, err)
		}
	}
	return nil
}

// Get returns the value stored under key, or a Missing result.
func (c *Client) Get(ctx context.Context, key string) (kvstore.ReadResult, error) {
	var reply GetReply
	if err := c.call(ctx, OpGet, key, &GetRequest{Key: key}, &reply); err != nil {
		return kvstore.ReadResult{}, err
	}
	if reply.Missing {
		return kvstore.ReadResult{Missing: true}, nil
	}
	return kvstore.ReadResult{Value: reply.Value, Generation: kvstore.Generation(reply.Generation)}, nil
}

// Put stores value under key subject to opts.
func (c *Client) Put(ctx context.Context, key string, value []byte, opts kvstore.WriteOptions) (kvstore.Generation, error) {
	if value == nil {
		value = []byte{}
	}
	req := &PutRequest{
		Key:               key,
		Value:             value,
		IfGenerationMatch: string(opts.IfGenerationMatch),
		IfNotExists:       opts.IfNotExists,
	}
	var reply PutReply
	if err := c.call(ctx, OpPut, key, req, &reply); err != nil {
		return kvstore.NoGeneration, err
	}
	return kvstore.Generation(reply.Generation), nil
}

// Delete removes key subject to opts.
func (c *Client) Delete(ctx context.Context, key string, opts kvstore.WriteOptions) error {
	req := &DeleteRequest{Key: key, IfGenerationMatch: string(opts.IfGenerationMatch)}
	return c.call(ctx, OpDelete, key, req, nil)
}

// List returns all keys with the given prefix in ascending order.
func (c *Client) List(ctx context.Context, prefix string) ([]string, error) {
	var reply ListReply
	if err := c.call(ctx, OpList, prefix, &ListRequest{Prefix: prefix}, &reply); err != nil {
		return nil, err
	}
	if len(reply.Keys) == 0 {
		return nil, nil
	}
	return reply.Keys, nil
}

// DeletePrefix removes every key with the given prefix.
func (c *Client) DeletePrefix(ctx context.Context, prefix string) error {
	return c.call(ctx, OpDeletePrefix, prefix, &DeletePrefixRequest{Prefix: prefix}, nil)
}

// Close closes the connection.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	return c.conn.Close()
}
