package node

import (
	"context"
	"fmt"

	"github.com/libp2p/go-libp2p/core/peer"
	"go.uber.org/zap"

	"github.com/ridemesh/go-ridemesh/codec"
	"github.com/ridemesh/go-ridemesh/dedup"
	"github.com/ridemesh/go-ridemesh/driver"
	"github.com/ridemesh/go-ridemesh/p2p/pubsub"
	"github.com/ridemesh/go-ridemesh/rider"
	"github.com/ridemesh/go-ridemesh/rideshare"
	"github.com/ridemesh/go-ridemesh/types"
)

// router funnels every inbound payload through the dedup filter and then
// dispatches on the type discriminator. Role services may be nil; a message
// for an absent role is accepted for propagation and otherwise ignored.
type router struct {
	logger *zap.Logger
	filter *dedup.Filter

	rider  *rider.Service
	driver *driver.Service
	share  *rideshare.Service
}

func (r *router) gate(raw []byte) (string, error) {
	if r.filter.Seen(raw) {
		return "", pubsub.ErrDuplicate
	}
	typ, err := codec.PeekType(raw)
	if err != nil {
		return "", fmt.Errorf("%w: %w", pubsub.ErrValidationReject, err)
	}
	if !codec.Registered(typ) {
		return "", fmt.Errorf("%w: type %q", pubsub.ErrValidationReject, typ)
	}
	return typ, nil
}

func decode[T any, PT interface {
	*T
	types.Message
}](raw []byte) (PT, error) {
	msg := PT(new(T))
	if err := codec.Decode(raw, msg); err != nil {
		return nil, fmt.Errorf("%w: %w", pubsub.ErrValidationReject, err)
	}
	return msg, nil
}

// primary handles the ride-matching topic.
func (r *router) primary(ctx context.Context, _ peer.ID, raw []byte) error {
	typ, err := r.gate(raw)
	if err != nil {
		return err
	}
	switch typ {
	case types.TypeRideRequest:
		if r.driver == nil {
			return nil
		}
		msg, err := decode[types.RideRequest](raw)
		if err != nil {
			return err
		}
		return r.driver.HandleRequest(ctx, msg)
	case types.TypeRideAccepted:
		if r.rider == nil {
			return nil
		}
		msg, err := decode[types.RideAccepted](raw)
		if err != nil {
			return err
		}
		return r.rider.HandleAccepted(ctx, msg)
	case types.TypeRideConfirmation:
		if r.driver == nil {
			return nil
		}
		msg, err := decode[types.RideConfirmation](raw)
		if err != nil {
			return err
		}
		return r.driver.HandleConfirmation(ctx, msg)
	case types.TypeRideOffer:
		if r.rider == nil {
			return nil
		}
		msg, err := decode[types.RideOffer](raw)
		if err != nil {
			return err
		}
		return r.rider.HandleOffer(ctx, msg)
	default:
		r.logger.Debug("type not routed on primary topic", zap.String("type", typ))
		return nil
	}
}

// posts handles the shared ride post topic.
func (r *router) posts(ctx context.Context, _ peer.ID, raw []byte) error {
	typ, err := r.gate(raw)
	if err != nil {
		return err
	}
	switch typ {
	case types.TypeSharedRidePost:
		msg, err := decode[types.SharedRidePost](raw)
		if err != nil {
			return err
		}
		return r.share.HandlePost(ctx, msg)
	case types.TypeRideShareOffer:
		msg, err := decode[types.RideShareOffer](raw)
		if err != nil {
			return err
		}
		return r.share.HandleOffer(ctx, msg)
	default:
		r.logger.Debug("type not routed on posts topic", zap.String("type", typ))
		return nil
	}
}

// requests handles the ride share request topic.
func (r *router) requests(ctx context.Context, _ peer.ID, raw []byte) error {
	typ, err := r.gate(raw)
	if err != nil {
		return err
	}
	switch typ {
	case types.TypeRideShareRequest:
		msg, err := decode[types.RideShareRequest](raw)
		if err != nil {
			return err
		}
		return r.share.HandleJoinRequest(ctx, msg)
	case types.TypeRideShareResponse:
		msg, err := decode[types.RideShareResponse](raw)
		if err != nil {
			return err
		}
		return r.share.HandleResponse(ctx, msg)
	default:
		r.logger.Debug("type not routed on requests topic", zap.String("type", typ))
		return nil
	}
}

// acceptDirect handles the accept-ride direct protocol. Direct streams skip
// the dedup filter: the transport delivers each envelope once.
func (r *router) acceptDirect(ctx context.Context, pid peer.ID, raw []byte) error {
	typ, err := codec.PeekType(raw)
	if err != nil {
		return err
	}
	switch typ {
	case types.TypeAcceptResponse:
		if r.rider == nil {
			return nil
		}
		msg, err := decode[types.AcceptResponse](raw)
		if err != nil {
			return err
		}
		return r.rider.HandleAcceptResponse(ctx, pid, msg)
	case types.TypeRideAcceptance:
		if r.driver == nil {
			return nil
		}
		msg, err := decode[types.RideAcceptance](raw)
		if err != nil {
			return err
		}
		return r.driver.HandleAcceptance(ctx, pid, msg)
	default:
		return fmt.Errorf("type %q not valid on the accept-ride protocol", typ)
	}
}

// shareDirect handles the ride-share direct protocol.
func (r *router) shareDirect(ctx context.Context, pid peer.ID, raw []byte) error {
	typ, err := codec.PeekType(raw)
	if err != nil {
		return err
	}
	switch typ {
	case types.TypeRideShareRequest:
		msg, err := decode[types.RideShareRequest](raw)
		if err != nil {
			return err
		}
		return r.share.HandleJoinRequest(ctx, msg)
	case types.TypeRideShareResponse:
		msg, err := decode[types.RideShareResponse](raw)
		if err != nil {
			return err
		}
		return r.share.HandleResponse(ctx, msg)
	default:
		return fmt.Errorf("type %q not valid on the ride-share protocol", typ)
	}
}
