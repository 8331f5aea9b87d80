package rideshare

import (
	"github.com/ridemesh/go-ridemesh/types"
)

// protocol tracks both sides of the carpool flow as pure map transitions:
// outgoing join requests awaiting a terminal response, and inbound join
// requests against our own posts awaiting a decision. An entry leaves its map
// exactly when its terminal message is processed; anything referencing an
// unknown id is ignored.
type protocol struct {
	posts    map[string]*types.SharedRidePost   // observed posts by ride id
	outgoing map[string]*types.RideShareRequest // our pending joins by request id
	incoming map[string]*types.RideShareRequest // joins against our posts by request id
}

func newProtocol() protocol {
	return protocol{
		posts:    map[string]*types.SharedRidePost{},
		outgoing: map[string]*types.RideShareRequest{},
		incoming: map[string]*types.RideShareRequest{},
	}
}

func (p *protocol) onPost(msg *types.SharedRidePost) bool {
	if _, exist := p.posts[msg.RideID]; exist {
		return false
	}
	p.posts[msg.RideID] = msg
	return true
}

// onOffer folds a standalone carpool offer into the joinable post set, keyed
// by the offer's request id.
func (p *protocol) onOffer(msg *types.RideShareOffer) bool {
	if _, exist := p.posts[msg.RequestID]; exist {
		return false
	}
	p.posts[msg.RequestID] = &types.SharedRidePost{
		Type:   types.TypeSharedRidePost,
		RideID: msg.RequestID,
		Driver: msg.DriverInfo,
		Route: types.Route{
			Origin:         msg.Pickup,
			Destination:    msg.Destination,
			SeatsAvailable: msg.AvailableSeats,
		},
		Timestamp: msg.Timestamp,
	}
	return true
}

func (p *protocol) post(rideID string) (*types.SharedRidePost, bool) {
	post, exist := p.posts[rideID]
	return post, exist
}

func (p *protocol) request(req *types.RideShareRequest) {
	p.outgoing[req.RequestID] = req
}

// onResponse resolves an outgoing join request. The second return is false
// for unknown or already-resolved ids.
func (p *protocol) onResponse(msg *types.RideShareResponse) (*types.RideShareRequest, bool) {
	req, exist := p.outgoing[msg.RequestID]
	if !exist {
		return nil, false
	}
	delete(p.outgoing, msg.RequestID)
	return req, true
}

// abandon drops an outgoing join request that was never delivered.
func (p *protocol) abandon(requestID string) {
	delete(p.outgoing, requestID)
}

func (p *protocol) onJoinRequest(msg *types.RideShareRequest) bool {
	if _, exist := p.incoming[msg.RequestID]; exist {
		return false
	}
	p.incoming[msg.RequestID] = msg
	return true
}

// decide resolves an inbound join request. The second return is false for
// unknown or already-decided ids.
func (p *protocol) decide(requestID string) (*types.RideShareRequest, bool) {
	req, exist := p.incoming[requestID]
	if !exist {
		return nil, false
	}
	delete(p.incoming, requestID)
	return req, true
}

func (p *protocol) pendingCount() int { return len(p.outgoing) }
