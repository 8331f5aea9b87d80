// Package delivery unifies the two ways a message reaches its counterparty:
// a direct stream to a known peer id, and the gossip topic everyone follows.
// Callers that know the recipient use Send, which tries the stream first and
// falls back to broadcast, so delivery degrades instead of failing when the
// direct path is down.
package delivery

import (
	"context"

	"github.com/libp2p/go-libp2p/core/peer"
	"go.uber.org/zap"

	"github.com/ridemesh/go-ridemesh/codec"
	"github.com/ridemesh/go-ridemesh/metrics"
	"github.com/ridemesh/go-ridemesh/p2p/pubsub"
	"github.com/ridemesh/go-ridemesh/types"
)

// DirectSender opens a one-shot stream to a peer. Implemented by p2p.Host.
type DirectSender interface {
	Send(ctx context.Context, pid peer.ID, proto string, msg []byte) error
}

// Sender routes outbound messages.
type Sender struct {
	logger *zap.Logger
	pub    pubsub.Publisher
	direct DirectSender
}

// New creates a Sender.
func New(logger *zap.Logger, pub pubsub.Publisher, direct DirectSender) *Sender {
	return &Sender{logger: logger, pub: pub, direct: direct}
}

// Broadcast publishes msg on topic.
func (s *Sender) Broadcast(ctx context.Context, topic string, msg types.Message) error {
	raw, err := codec.Encode(msg)
	if err != nil {
		return err
	}
	return s.pub.Publish(ctx, topic, raw)
}

// Unicast delivers msg to pid over proto, with no fallback.
func (s *Sender) Unicast(ctx context.Context, pid peer.ID, proto string, msg types.Message) error {
	raw, err := codec.Encode(msg)
	if err != nil {
		return err
	}
	if err := s.direct.Send(ctx, pid, proto, raw); err != nil {
		metrics.DirectSendFailures.WithLabelValues(proto).Inc()
		return err
	}
	return nil
}

// Send delivers msg to pid over proto, falling back to a broadcast on topic
// when the direct stream fails. The broadcast carries the same envelope, so
// the recipient filters on its own ids.
func (s *Sender) Send(ctx context.Context, pid peer.ID, proto, topic string, msg types.Message) error {
	raw, err := codec.Encode(msg)
	if err != nil {
		return err
	}
	if err := s.direct.Send(ctx, pid, proto, raw); err != nil {
		metrics.DirectSendFailures.WithLabelValues(proto).Inc()
		s.logger.Debug("direct send failed, falling back to broadcast",
			zap.Stringer("peer", pid),
			zap.String("protocol", proto),
			zap.String("topic", topic),
			zap.Error(err),
		)
		return s.pub.Publish(ctx, topic, raw)
	}
	return nil
}
