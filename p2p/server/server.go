// Package server implements point-to-point protocol exchanges between two
// known peer identities. Each stream carries exactly one JSON envelope,
// terminated by closing the write side; there is no response framing, any
// reply travels on a stream in the opposite direction.
package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/libp2p/go-libp2p/core/network"
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/libp2p/go-libp2p/core/protocol"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
)

// ErrRequestTooLarge is returned when an inbound envelope exceeds the size
// limit.
var ErrRequestTooLarge = errors.New("request size limit exceeded")

// Host is the subset of the libp2p host the server needs.
type Host interface {
	SetStreamHandler(pid protocol.ID, handler network.StreamHandler)
	NewStream(ctx context.Context, p peer.ID, pids ...protocol.ID) (network.Stream, error)
}

// Handler receives one decoded envelope from a remote peer.
type Handler func(ctx context.Context, pid peer.ID, msg []byte) error

// Opt is a type to configure a server.
type Opt func(s *Server)

// WithLog configures the logger.
func WithLog(logger *zap.Logger) Opt {
	return func(s *Server) {
		s.logger = logger
	}
}

// WithTimeout configures the per-stream deadline.
func WithTimeout(timeout time.Duration) Opt {
	return func(s *Server) {
		s.timeout = timeout
	}
}

// WithRequestSizeLimit bounds the inbound envelope size.
func WithRequestSizeLimit(limit int) Opt {
	return func(s *Server) {
		s.requestLimit = limit
	}
}

// WithQueueSize parametrizes the number of streams kept waiting for a worker.
// Streams beyond it are closed immediately.
func WithQueueSize(size int) Opt {
	return func(s *Server) {
		s.queueSize = size
	}
}

// WithRequestsPerInterval limits how fast queued streams are handed to
// workers.
func WithRequestsPerInterval(n int, interval time.Duration) Opt {
	return func(s *Server) {
		s.requestsPerInterval = n
		s.interval = interval
	}
}

// Server dispatches inbound streams for one protocol id to a Handler.
type Server struct {
	logger              *zap.Logger
	protocol            string
	handler             Handler
	timeout             time.Duration
	requestLimit        int
	queueSize           int
	requestsPerInterval int
	interval            time.Duration

	h Host
}

// New creates a server for the given protocol id.
func New(h Host, proto string, handler Handler, opts ...Opt) *Server {
	srv := &Server{
		logger:              zap.NewNop(),
		protocol:            proto,
		handler:             handler,
		h:                   h,
		timeout:             25 * time.Second,
		requestLimit:        1 << 20,
		queueSize:           100,
		requestsPerInterval: 100,
		interval:            time.Second,
	}
	for _, opt := range opts {
		opt(srv)
	}
	return srv
}

// Run installs the stream handler and processes inbound streams until ctx is
// done.
func (s *Server) Run(ctx context.Context) error {
	limit := rate.NewLimiter(rate.Every(s.interval/time.Duration(s.requestsPerInterval)), s.requestsPerInterval)
	queue := make(chan network.Stream, s.queueSize)
	s.h.SetStreamHandler(protocol.ID(s.protocol), func(stream network.Stream) {
		select {
		case queue <- stream:
		default:
			stream.Close()
		}
	})

	var eg errgroup.Group
	eg.SetLimit(s.queueSize)
	for {
		select {
		case <-ctx.Done():
			eg.Wait()
			return nil
		case stream := <-queue:
			if err := limit.Wait(ctx); err != nil {
				eg.Wait()
				return nil
			}
			eg.Go(func() error {
				s.handleStream(ctx, stream)
				return nil
			})
		}
	}
}

func (s *Server) handleStream(ctx context.Context, stream network.Stream) {
	defer stream.Close()
	_ = stream.SetDeadline(time.Now().Add(s.timeout))
	pid := stream.Conn().RemotePeer()
	msg, err := io.ReadAll(io.LimitReader(stream, int64(s.requestLimit)+1))
	if err != nil {
		s.logger.Debug("error reading request",
			zap.String("protocol", s.protocol),
			zap.Stringer("remotePeer", pid),
			zap.Error(err),
		)
		return
	}
	if len(msg) > s.requestLimit {
		s.logger.Warn("request limit overflow",
			zap.String("protocol", s.protocol),
			zap.Stringer("remotePeer", pid),
			zap.Int("limit", s.requestLimit),
		)
		return
	}
	if err := s.handler(ctx, pid, msg); err != nil {
		s.logger.Debug("handler reported error",
			zap.String("protocol", s.protocol),
			zap.Stringer("remotePeer", pid),
			zap.Error(err),
		)
	}
}

// Send delivers one envelope to pid over this server's protocol.
func (s *Server) Send(ctx context.Context, pid peer.ID, msg []byte) error {
	return Send(ctx, s.h, pid, protocol.ID(s.protocol), msg, s.timeout)
}

// Send opens a stream to pid for proto, writes one envelope, closes the
// write side, and waits for the remote to finish reading.
func Send(ctx context.Context, h Host, pid peer.ID, proto protocol.ID, msg []byte, timeout time.Duration) error {
	stream, err := h.NewStream(ctx, pid, proto)
	if err != nil {
		return fmt.Errorf("open stream %s to %s: %w", proto, pid, err)
	}
	defer stream.Close()
	_ = stream.SetDeadline(time.Now().Add(timeout))
	if _, err := stream.Write(msg); err != nil {
		return fmt.Errorf("write to %s: %w", pid, err)
	}
	if err := stream.CloseWrite(); err != nil {
		return fmt.Errorf("close write to %s: %w", pid, err)
	}
	// drain until the remote closes so the envelope is fully flushed
	_, _ = io.Copy(io.Discard, stream)
	return nil
}
