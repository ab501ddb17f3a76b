// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package bridge

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/bureau-foundation/winsync/lib/codec"
	"github.com/bureau-foundation/winsync/lib/netutil"
	"github.com/bureau-foundation/winsync/lib/remote"
)

// DefaultDialTimeout bounds connecting to the socket when the caller
// does not choose a timeout.
const DefaultDialTimeout = 5 * time.Second

// responseReadTimeout is how long the client waits for a reply after
// writing its request.
const responseReadTimeout = 45 * time.Second

// maxResponseSize is the maximum size of a single CBOR response.
const maxResponseSize = 1024 * 1024

// Client implements remote.Environment against a Server.
type Client struct {
	socketPath  string
	dialTimeout time.Duration
	logger      *slog.Logger

	stream    net.Conn
	notices   chan remote.Notice
	closed    chan struct{}
	done      chan struct{}
	closeOnce sync.Once
}

// Dial opens the notice stream on socketPath and returns a connected
// client. A zero dialTimeout means DefaultDialTimeout; a nil logger
// means slog.Default().
func Dial(ctx context.Context, socketPath string, dialTimeout time.Duration, logger *slog.Logger) (*Client, error) {
	if dialTimeout <= 0 {
		dialTimeout = DefaultDialTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}
	c := &Client{
		socketPath:  socketPath,
		dialTimeout: dialTimeout,
		logger:      logger.With("component", "bridge-client"),
		notices:     make(chan remote.Notice, streamBuffer),
		closed:      make(chan struct{}),
		done:        make(chan struct{}),
	}

	conn, err := c.dial(ctx)
	if err != nil {
		return nil, err
	}
	if err := codec.NewEncoder(conn).Encode(request{Action: actionNotices}); err != nil {
		conn.Close()
		return nil, fmt.Errorf("bridge: requesting notice stream: %w", err)
	}
	decoder := codec.NewDecoder(conn)
	conn.SetReadDeadline(time.Now().Add(responseReadTimeout))
	var ack response
	if err := decoder.Decode(&ack); err != nil {
		conn.Close()
		return nil, fmt.Errorf("bridge: reading notice stream acknowledgement: %w", err)
	}
	if !ack.OK {
		conn.Close()
		if ack.Error != nil {
			return nil, ack.Error.rebuild(actionNotices)
		}
		return nil, fmt.Errorf("bridge: notice stream refused")
	}
	conn.SetReadDeadline(time.Time{})

	c.stream = conn
	go c.readNotices(decoder)
	c.logger.Info("connected to bridge", "path", socketPath)
	return c, nil
}

func (c *Client) dial(ctx context.Context) (net.Conn, error) {
	dialer := net.Dialer{Timeout: c.dialTimeout}
	conn, err := dialer.DialContext(ctx, "unix", c.socketPath)
	if err != nil {
		return nil, remote.Failure(fmt.Errorf("connecting to %s: %w", c.socketPath, err))
	}
	return conn, nil
}

func (c *Client) readNotices(decoder *codec.Decoder) {
	defer close(c.notices)
	defer close(c.done)
	for {
		var notice remote.Notice
		if err := decoder.Decode(&notice); err != nil {
			select {
			case <-c.closed:
			default:
				if netutil.IsExpectedCloseError(err) {
					c.logger.Info("bridge closed the notice stream")
				} else {
					c.logger.Warn("notice stream failed", "error", err)
				}
			}
			return
		}
		select {
		case c.notices <- notice:
		case <-c.closed:
			return
		}
	}
}

// Notices implements remote.Environment. The channel closes when the
// stream ends.
func (c *Client) Notices() <-chan remote.Notice { return c.notices }

// Close ends the notice stream.
func (c *Client) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.closed)
		err = c.stream.Close()
		<-c.done
	})
	return err
}

// call performs one request-response exchange on a fresh connection and
// decodes the reply data into result when both are non-nil.
func (c *Client) call(ctx context.Context, req request, result any) error {
	conn, err := c.dial(ctx)
	if err != nil {
		return err
	}
	defer conn.Close()

	if deadline, ok := ctx.Deadline(); ok {
		conn.SetDeadline(deadline)
	} else {
		conn.SetReadDeadline(time.Now().Add(responseReadTimeout))
	}
	stop := context.AfterFunc(ctx, func() { conn.SetDeadline(time.Now()) })
	defer stop()

	if err := codec.NewEncoder(conn).Encode(req); err != nil {
		return remote.Failure(fmt.Errorf("bridge %s: writing request: %w", req.Action, err))
	}
	if unixConn, ok := conn.(*net.UnixConn); ok {
		unixConn.CloseWrite()
	}

	var reply response
	if err := codec.NewDecoder(io.LimitReader(conn, maxResponseSize)).Decode(&reply); err != nil {
		if ctx.Err() != nil {
			return remote.Failure(fmt.Errorf("bridge %s: %w", req.Action, ctx.Err()))
		}
		if netutil.IsTimeout(err) {
			if _, hasDeadline := ctx.Deadline(); !hasDeadline {
				return &remote.TimeoutError{Duration: responseReadTimeout}
			}
		}
		return remote.Failure(fmt.Errorf("bridge %s: reading response: %w", req.Action, err))
	}
	if !reply.OK {
		if reply.Error == nil {
			return remote.Failure(fmt.Errorf("bridge %s: failed without detail", req.Action))
		}
		return reply.Error.rebuild(req.Action)
	}
	if result != nil && len(reply.Data) > 0 {
		if err := codec.Unmarshal(reply.Data, result); err != nil {
			return remote.Failure(fmt.Errorf("bridge %s: decoding response: %w", req.Action, err))
		}
	}
	return nil
}

// Read implements remote.AttributeStore.
func (c *Client) Read(ctx context.Context, handle remote.Handle, name remote.Attribute) (any, error) {
	var wire WireValue
	if err := c.call(ctx, request{Action: actionRead, Handle: handle, Attribute: name}, &wire); err != nil {
		return nil, err
	}
	value, err := wire.Decode()
	if err != nil {
		return nil, remote.Failure(fmt.Errorf("bridge read %s: %w", name, err))
	}
	return value, nil
}

// ReadMany implements remote.AttributeStore.
func (c *Client) ReadMany(ctx context.Context, handle remote.Handle, names []remote.Attribute) (map[remote.Attribute]any, error) {
	var wire map[remote.Attribute]WireValue
	if err := c.call(ctx, request{Action: actionReadMany, Handle: handle, Attributes: names}, &wire); err != nil {
		return nil, err
	}
	values := make(map[remote.Attribute]any, len(wire))
	for name, encoded := range wire {
		value, err := encoded.Decode()
		if err != nil {
			return nil, remote.Failure(fmt.Errorf("bridge read_many %s: %w", name, err))
		}
		values[name] = value
	}
	return values, nil
}

// Write implements remote.AttributeStore.
func (c *Client) Write(ctx context.Context, handle remote.Handle, name remote.Attribute, value any) error {
	wire, err := EncodeValue(value)
	if err != nil {
		return err
	}
	return c.call(ctx, request{Action: actionWrite, Handle: handle, Attribute: name, Value: &wire}, nil)
}

// RunningApplications implements remote.Workspace.
func (c *Client) RunningApplications(ctx context.Context) ([]remote.ProcessID, error) {
	var pids []remote.ProcessID
	err := c.call(ctx, request{Action: actionRunningApplications}, &pids)
	return pids, err
}

// ApplicationHandle implements remote.Workspace.
func (c *Client) ApplicationHandle(ctx context.Context, pid remote.ProcessID) (remote.Handle, error) {
	var handle remote.Handle
	err := c.call(ctx, request{Action: actionApplicationHandle, PID: pid}, &handle)
	return handle, err
}

// FrontmostApplication implements remote.Workspace.
func (c *Client) FrontmostApplication(ctx context.Context) (remote.ProcessID, error) {
	var pid remote.ProcessID
	err := c.call(ctx, request{Action: actionFrontmostApplication}, &pid)
	return pid, err
}

// Screens implements remote.Workspace.
func (c *Client) Screens(ctx context.Context) ([]remote.ScreenInfo, error) {
	var screens []remote.ScreenInfo
	err := c.call(ctx, request{Action: actionScreens}, &screens)
	return screens, err
}

// Observe implements remote.Workspace.
func (c *Client) Observe(ctx context.Context, pid remote.ProcessID) (remote.Observer, error) {
	var id uint64
	if err := c.call(ctx, request{Action: actionObserve, PID: pid}, &id); err != nil {
		return nil, err
	}
	return &clientObserver{client: c, id: id}, nil
}

// clientObserver is an observer held open on the server.
type clientObserver struct {
	client *Client
	id     uint64
}

func (o *clientObserver) Subscribe(ctx context.Context, handle remote.Handle, kind remote.Notification) error {
	return o.client.call(ctx, request{Action: actionSubscribe, Observer: o.id, Handle: handle, Kind: kind}, nil)
}

func (o *clientObserver) Unsubscribe(ctx context.Context, handle remote.Handle, kind remote.Notification) error {
	return o.client.call(ctx, request{Action: actionUnsubscribe, Observer: o.id, Handle: handle, Kind: kind}, nil)
}

func (o *clientObserver) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), o.client.dialTimeout+writeTimeout)
	defer cancel()
	return o.client.call(ctx, request{Action: actionCloseObserver, Observer: o.id}, nil)
}
