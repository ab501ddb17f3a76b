// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package bridge

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"sync"
	"time"

	"github.com/bureau-foundation/winsync/lib/codec"
	"github.com/bureau-foundation/winsync/lib/netutil"
	"github.com/bureau-foundation/winsync/lib/remote"
)

// readTimeout is how long the server waits for a request after accept.
const readTimeout = 30 * time.Second

// writeTimeout bounds writing one response or one streamed notice.
const writeTimeout = 10 * time.Second

// maxRequestSize is the maximum size of a single CBOR request.
const maxRequestSize = 1024 * 1024

// streamBuffer is how many notices a slow stream may fall behind
// before notices are dropped for it.
const streamBuffer = 1024

type actionFunc func(ctx context.Context, req *request) (any, error)

// Server exposes an environment on a Unix socket.
type Server struct {
	// SocketPath is where the server listens. A stale socket file is
	// removed before listening and the file is removed on Stop.
	SocketPath string

	// Environment is the environment being served. The server becomes
	// the sole consumer of its notice stream.
	Environment remote.Environment

	// Logger receives structured log output. If nil, slog.Default() is
	// used.
	Logger *slog.Logger

	handlers map[string]actionFunc
	listener net.Listener
	cancel   context.CancelFunc
	done     chan struct{}

	connections sync.WaitGroup

	mu           sync.Mutex
	observers    map[uint64]remote.Observer
	nextObserver uint64
	streams      map[chan remote.Notice]struct{}
}

func (s *Server) logger() *slog.Logger {
	if s.Logger != nil {
		return s.Logger
	}
	return slog.Default()
}

// Start binds the socket and serves in the background until Stop is
// called or ctx is cancelled.
func (s *Server) Start(ctx context.Context) error {
	if s.SocketPath == "" {
		return fmt.Errorf("bridge: SocketPath is required")
	}
	if s.Environment == nil {
		return fmt.Errorf("bridge: Environment is required")
	}
	if err := os.Remove(s.SocketPath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("bridge: removing stale socket %s: %w", s.SocketPath, err)
	}
	listener, err := net.Listen("unix", s.SocketPath)
	if err != nil {
		return fmt.Errorf("bridge: listening on %s: %w", s.SocketPath, err)
	}

	s.listener = listener
	s.observers = make(map[uint64]remote.Observer)
	s.streams = make(map[chan remote.Notice]struct{})
	s.registerHandlers()

	ctx, s.cancel = context.WithCancel(ctx)
	s.done = make(chan struct{})

	go func() {
		<-ctx.Done()
		listener.Close()
	}()
	go s.fanOut(ctx)
	go func() {
		defer close(s.done)
		s.acceptLoop(ctx)
		s.closeObservers()
		os.Remove(s.SocketPath)
	}()

	s.logger().Info("bridge server listening", "path", s.SocketPath)
	return nil
}

// Stop closes the listener, ends notice streams, waits for in-flight
// requests, and closes every observer clients left open.
func (s *Server) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	s.Wait()
}

// Wait blocks until the server has stopped.
func (s *Server) Wait() {
	if s.done != nil {
		<-s.done
	}
}

func (s *Server) acceptLoop(ctx context.Context) {
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				s.connections.Wait()
				return
			}
			s.logger().Error("accept failed", "error", err)
			continue
		}
		s.connections.Add(1)
		go func() {
			defer s.connections.Done()
			s.handleConnection(ctx, conn)
		}()
	}
}

func (s *Server) handleConnection(ctx context.Context, conn net.Conn) {
	defer conn.Close()

	conn.SetReadDeadline(time.Now().Add(readTimeout))
	var req request
	if err := codec.NewDecoder(io.LimitReader(conn, maxRequestSize)).Decode(&req); err != nil {
		if errors.Is(err, io.EOF) {
			return
		}
		s.writeError(conn, remote.Failure(fmt.Errorf("invalid request: %w", err)))
		return
	}
	conn.SetReadDeadline(time.Time{})

	if req.Action == actionNotices {
		s.streamNotices(ctx, conn)
		return
	}

	handler, exists := s.handlers[req.Action]
	if !exists {
		s.writeError(conn, remote.Failure(fmt.Errorf("unknown action %q", req.Action)))
		return
	}
	result, err := handler(ctx, &req)
	if err != nil {
		s.logger().Debug("action failed", "action", req.Action, "error", err)
		s.writeError(conn, err)
		return
	}
	s.writeSuccess(conn, result)
}

func (s *Server) writeError(conn net.Conn, err error) {
	conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	if encodeErr := codec.NewEncoder(conn).Encode(response{Error: envelopeFor(err)}); encodeErr != nil {
		s.logger().Debug("failed to write error response", "error", encodeErr)
	}
}

func (s *Server) writeSuccess(conn net.Conn, result any) {
	conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	reply := response{OK: true}
	if result != nil {
		data, err := codec.Marshal(result)
		if err != nil {
			s.writeError(conn, remote.Failure(fmt.Errorf("marshaling response: %w", err)))
			return
		}
		reply.Data = data
	}
	if err := codec.NewEncoder(conn).Encode(reply); err != nil {
		s.logger().Debug("failed to write success response", "error", err)
	}
}

// streamNotices acknowledges the request and then forwards notices
// until the server stops or the client hangs up.
func (s *Server) streamNotices(ctx context.Context, conn net.Conn) {
	notices := make(chan remote.Notice, streamBuffer)
	s.mu.Lock()
	s.streams[notices] = struct{}{}
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		delete(s.streams, notices)
		s.mu.Unlock()
	}()

	encoder := codec.NewEncoder(conn)
	conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	if err := encoder.Encode(response{OK: true}); err != nil {
		return
	}

	// A read returning means the client hung up.
	hangup := make(chan struct{})
	go func() {
		io.Copy(io.Discard, conn)
		close(hangup)
	}()

	s.logger().Debug("notice stream opened")
	for {
		select {
		case <-ctx.Done():
			return
		case <-hangup:
			s.logger().Debug("notice stream closed by client")
			return
		case notice, ok := <-notices:
			if !ok {
				return
			}
			conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := encoder.Encode(notice); err != nil {
				if !netutil.IsExpectedCloseError(err) {
					s.logger().Warn("notice stream write failed", "error", err)
				}
				return
			}
		}
	}
}

// fanOut is the environment's single notice consumer. It copies every
// notice to every open stream and closes the streams when the
// environment's channel closes.
func (s *Server) fanOut(ctx context.Context) {
	source := s.Environment.Notices()
	for {
		select {
		case <-ctx.Done():
			return
		case notice, ok := <-source:
			if !ok {
				s.logger().Info("environment notice stream closed")
				s.mu.Lock()
				for stream := range s.streams {
					close(stream)
					delete(s.streams, stream)
				}
				s.mu.Unlock()
				return
			}
			s.mu.Lock()
			for stream := range s.streams {
				select {
				case stream <- notice:
				default:
					s.logger().Warn("notice stream full, dropping notice", "kind", notice.Kind, "pid", notice.PID)
				}
			}
			s.mu.Unlock()
		}
	}
}

func (s *Server) closeObservers() {
	s.mu.Lock()
	observers := s.observers
	s.observers = make(map[uint64]remote.Observer)
	s.mu.Unlock()
	for id, observer := range observers {
		if err := observer.Close(); err != nil {
			s.logger().Debug("closing observer", "observer", id, "error", err)
		}
	}
}

func (s *Server) observer(id uint64) (remote.Observer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	observer, ok := s.observers[id]
	if !ok {
		return nil, remote.Failure(fmt.Errorf("unknown observer %d", id))
	}
	return observer, nil
}

func (s *Server) registerHandlers() {
	env := s.Environment
	s.handlers = map[string]actionFunc{
		actionRead: func(ctx context.Context, req *request) (any, error) {
			value, err := env.Read(ctx, req.Handle, req.Attribute)
			if err != nil {
				return nil, err
			}
			return EncodeValue(value)
		},
		actionReadMany: func(ctx context.Context, req *request) (any, error) {
			values, err := env.ReadMany(ctx, req.Handle, req.Attributes)
			if err != nil {
				return nil, err
			}
			encoded := make(map[remote.Attribute]WireValue, len(values))
			for name, value := range values {
				wire, err := EncodeValue(value)
				if err != nil {
					return nil, remote.Failure(fmt.Errorf("attribute %s: %w", name, err))
				}
				encoded[name] = wire
			}
			return encoded, nil
		},
		actionWrite: func(ctx context.Context, req *request) (any, error) {
			if req.Value == nil {
				return nil, fmt.Errorf("write without value: %w", remote.ErrIllegalValue)
			}
			value, err := req.Value.Decode()
			if err != nil {
				return nil, fmt.Errorf("%v: %w", err, remote.ErrIllegalValue)
			}
			return nil, env.Write(ctx, req.Handle, req.Attribute, value)
		},
		actionRunningApplications: func(ctx context.Context, _ *request) (any, error) {
			return env.RunningApplications(ctx)
		},
		actionApplicationHandle: func(ctx context.Context, req *request) (any, error) {
			return env.ApplicationHandle(ctx, req.PID)
		},
		actionFrontmostApplication: func(ctx context.Context, _ *request) (any, error) {
			return env.FrontmostApplication(ctx)
		},
		actionScreens: func(ctx context.Context, _ *request) (any, error) {
			return env.Screens(ctx)
		},
		actionObserve: func(ctx context.Context, req *request) (any, error) {
			observer, err := env.Observe(ctx, req.PID)
			if err != nil {
				return nil, err
			}
			s.mu.Lock()
			s.nextObserver++
			id := s.nextObserver
			s.observers[id] = observer
			s.mu.Unlock()
			return id, nil
		},
		actionSubscribe: func(ctx context.Context, req *request) (any, error) {
			observer, err := s.observer(req.Observer)
			if err != nil {
				return nil, err
			}
			return nil, observer.Subscribe(ctx, req.Handle, req.Kind)
		},
		actionUnsubscribe: func(ctx context.Context, req *request) (any, error) {
			observer, err := s.observer(req.Observer)
			if err != nil {
				return nil, err
			}
			return nil, observer.Unsubscribe(ctx, req.Handle, req.Kind)
		},
		actionCloseObserver: func(ctx context.Context, req *request) (any, error) {
			s.mu.Lock()
			observer, ok := s.observers[req.Observer]
			delete(s.observers, req.Observer)
			s.mu.Unlock()
			if !ok {
				return nil, nil
			}
			return nil, observer.Close()
		},
	}
}
