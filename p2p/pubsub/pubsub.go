// Package pubsub wraps gossipsub for the ride-matching overlay.
//
// The overlay runs unsigned (StrictNoSign) and flood-publishes so that small
// meshes with a single relay still deliver to everyone. The message id is the
// raw payload, matching the dedup filter's byte-identity semantics.
package pubsub

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	pubsub "github.com/libp2p/go-libp2p-pubsub"
	pb "github.com/libp2p/go-libp2p-pubsub/pb"
	"github.com/libp2p/go-libp2p/core/host"
	"github.com/libp2p/go-libp2p/core/peer"
	"go.uber.org/zap"

	"github.com/ridemesh/go-ridemesh/metrics"
)

const (
	GossipScoreThreshold             = -500
	PublishScoreThreshold            = -1000
	GraylistScoreThreshold           = -2500
	AcceptPXScoreThreshold           = 1000
	OpportunisticGraftScoreThreshold = 3.5
)

// ErrValidationReject is returned by handlers for malformed or malicious
// messages that must not be propagated.
var ErrValidationReject = errors.New("validation reject")

// ErrDuplicate is returned by handlers for payloads already processed. The
// message is not propagated further and the sender is not penalized.
var ErrDuplicate = errors.New("duplicate message")

// DefaultConfig for PubSub.
func DefaultConfig() Config {
	return Config{
		Flood:          true,
		SeenTTL:        5 * time.Minute,
		MaxMessageSize: 1 << 20,
	}
}

// Config for PubSub.
type Config struct {
	Flood          bool          `mapstructure:"flood"`
	SeenTTL        time.Duration `mapstructure:"seen-ttl"`
	MaxMessageSize int           `mapstructure:"max-message-size"`
}

// GossipHandler receives a broadcast message. A nil return accepts the
// message for further propagation, ErrValidationReject drops and penalizes,
// any other error ignores without penalty.
type GossipHandler = func(context.Context, peer.ID, []byte) error

// Publisher publishes messages to a topic.
type Publisher interface {
	Publish(context.Context, string, []byte) error
}

// Subscriber registers a handler for a topic.
type Subscriber interface {
	Register(topic string, handler GossipHandler) error
}

// PublishSubscriber is the full overlay messaging contract.
type PublishSubscriber interface {
	Publisher
	Subscriber
}

// PubSub is the ridemesh wrapper around gossipsub.
type PubSub struct {
	logger *zap.Logger
	pubsub *pubsub.PubSub

	mu     sync.RWMutex
	topics map[string]*pubsub.Topic
}

// New creates a PubSub instance on top of h.
func New(ctx context.Context, logger *zap.Logger, h host.Host, cfg Config) (*PubSub, error) {
	ps, err := pubsub.NewGossipSub(ctx, h, getOptions(cfg)...)
	if err != nil {
		return nil, fmt.Errorf("initialize gossipsub: %w", err)
	}
	return &PubSub{
		logger: logger,
		pubsub: ps,
		topics: map[string]*pubsub.Topic{},
	}, nil
}

// Register installs handler as the validator for topic and joins it. Must be
// called once per topic before Publish.
func (ps *PubSub) Register(topic string, handler GossipHandler) error {
	ps.mu.Lock()
	defer ps.mu.Unlock()
	if _, exist := ps.topics[topic]; exist {
		return fmt.Errorf("already registered topic %s", topic)
	}
	err := ps.pubsub.RegisterTopicValidator(
		topic,
		func(ctx context.Context, pid peer.ID, msg *pubsub.Message) pubsub.ValidationResult {
			err := handler(ctx, pid, msg.Data)
			if err != nil {
				ps.logger.Debug("topic validation failed",
					zap.String("topic", topic), zap.Error(err))
			}
			switch {
			case errors.Is(err, ErrValidationReject):
				metrics.ProcessedMessages.WithLabelValues(topic, metrics.ResultMalformed).Inc()
				return pubsub.ValidationReject
			case errors.Is(err, ErrDuplicate):
				metrics.ProcessedMessages.WithLabelValues(topic, metrics.ResultDuplicate).Inc()
				return pubsub.ValidationIgnore
			case err != nil:
				metrics.ProcessedMessages.WithLabelValues(topic, metrics.ResultIgnored).Inc()
				return pubsub.ValidationIgnore
			default:
				metrics.ProcessedMessages.WithLabelValues(topic, metrics.ResultAccepted).Inc()
				return pubsub.ValidationAccept
			}
		})
	if err != nil {
		return fmt.Errorf("register validator for %s: %w", topic, err)
	}
	topich, err := ps.pubsub.Join(topic)
	if err != nil {
		return fmt.Errorf("join topic %s: %w", topic, err)
	}
	if _, err := topich.Relay(); err != nil {
		return fmt.Errorf("enable relay for %s: %w", topic, err)
	}
	ps.topics[topic] = topich
	return nil
}

// Publish message to the topic. Register must have been called for it.
func (ps *PubSub) Publish(ctx context.Context, topic string, msg []byte) error {
	ps.mu.RLock()
	topich := ps.topics[topic]
	ps.mu.RUnlock()
	if topich == nil {
		return fmt.Errorf("publish before register for topic %s", topic)
	}
	if err := topich.Publish(ctx, msg); err != nil {
		return fmt.Errorf("publish to topic %s: %w", topic, err)
	}
	return nil
}

// ProtocolPeers returns the peers participating in a topic.
func (ps *PubSub) ProtocolPeers(topic string) []peer.ID {
	return ps.pubsub.ListPeers(topic)
}

// msgID identifies a message by its raw payload, so the overlay's duplicate
// suppression and the application dedup filter agree on what "the same
// message" means.
func msgID(msg *pb.Message) string {
	return string(msg.Data)
}

func getOptions(cfg Config) []pubsub.Option {
	options := []pubsub.Option{
		pubsub.WithFloodPublish(cfg.Flood),
		pubsub.WithMessageIdFn(msgID),
		pubsub.WithNoAuthor(),
		pubsub.WithMessageSignaturePolicy(pubsub.StrictNoSign),
		pubsub.WithSeenMessagesTTL(cfg.SeenTTL),
		pubsub.WithPeerScore(
			&pubsub.PeerScoreParams{
				AppSpecificScore: func(p peer.ID) float64 {
					return 0
				},
				AppSpecificWeight: 1,

				BehaviourPenaltyThreshold: 6,
				BehaviourPenaltyWeight:    -10,
				BehaviourPenaltyDecay:     pubsub.ScoreParameterDecay(time.Hour),

				DecayInterval: pubsub.DefaultDecayInterval,
				DecayToZero:   pubsub.DefaultDecayToZero,

				RetainScore: 6 * time.Hour,
			},
			&pubsub.PeerScoreThresholds{
				GossipThreshold:             GossipScoreThreshold,
				PublishThreshold:            PublishScoreThreshold,
				GraylistThreshold:           GraylistScoreThreshold,
				AcceptPXThreshold:           AcceptPXScoreThreshold,
				OpportunisticGraftThreshold: OpportunisticGraftScoreThreshold,
			},
		),
	}
	if cfg.MaxMessageSize != 0 {
		options = append(options, pubsub.WithMaxMessageSize(cfg.MaxMessageSize))
	}
	return options
}
