package driver

import (
	"github.com/ridemesh/go-ridemesh/types"
)

type requestState uint8

const (
	seen requestState = iota
	accepted
	rejected
	won
	lost
)

func (s requestState) String() string {
	switch s {
	case seen:
		return "seen"
	case accepted:
		return "accepted"
	case rejected:
		return "rejected"
	case won:
		return "won"
	case lost:
		return "lost"
	default:
		return "unknown"
	}
}

type tracked struct {
	req   *types.RideRequest
	state requestState
}

// output is the effect set of one transition, applied by the service.
type output struct {
	surfaced  *types.RideRequest // new inbox entry, arm a dismiss timer
	dismissed []string           // request ids dropped from the inbox
	won       *types.RideRequest // confirmation named us: archive and post seats
	lost      string             // confirmation named someone else for this id
}

// protocol is the driver lifecycle as a pure transition function, tracking
// every observed request independently. No clocks, sockets, or stores.
//
// A confirmation is terminal per request id: once one has been processed,
// later confirmations for the same id do not transition again.
type protocol struct {
	driverID string
	requests map[string]*tracked
	unread   int
}

func newProtocol(driverID string) protocol {
	return protocol{
		driverID: driverID,
		requests: map[string]*tracked{},
	}
}

func (p *protocol) onRequest(msg *types.RideRequest) output {
	if _, exist := p.requests[msg.ID]; exist {
		return output{}
	}
	p.requests[msg.ID] = &tracked{req: msg, state: seen}
	p.unread++
	return output{surfaced: msg}
}

// decide records the accept or reject decision for an undecided request. The
// second return is false for unknown or already-decided ids.
func (p *protocol) decide(requestID string, accept bool) (*types.RideRequest, bool) {
	entry, exist := p.requests[requestID]
	if !exist || entry.state != seen {
		return nil, false
	}
	if accept {
		entry.state = accepted
	} else {
		entry.state = rejected
	}
	p.unread--
	return entry.req, true
}

// dismiss drops an undecided request from the inbox after its timeout.
func (p *protocol) dismiss(requestID string) output {
	entry, exist := p.requests[requestID]
	if !exist || entry.state != seen {
		return output{}
	}
	delete(p.requests, requestID)
	p.unread--
	return output{dismissed: []string{requestID}}
}

func (p *protocol) onConfirmation(msg *types.RideConfirmation) output {
	entry, exist := p.requests[msg.RequestID]
	if !exist {
		return output{}
	}
	switch entry.state {
	case won, lost:
		// first confirmation wins, later ones are echoes or races
		return output{}
	}
	if entry.state == seen {
		// confirmed before any decision, the inbox entry is moot
		p.unread--
	}
	if msg.DriverID != p.driverID {
		entry.state = lost
		return output{lost: msg.RequestID}
	}
	entry.state = won
	return output{won: entry.req}
}

// forget drops a settled entry once its retention lapses. Settled entries
// only absorb duplicate confirmations, so removal frees memory and a late
// duplicate simply finds nothing to transition.
func (p *protocol) forget(requestID string) {
	entry, exist := p.requests[requestID]
	if !exist {
		return
	}
	switch entry.state {
	case won, lost:
		delete(p.requests, requestID)
	}
}

func (p *protocol) unreadCount() int { return p.unread }
