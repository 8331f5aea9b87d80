package rider

import (
	"go.uber.org/zap/zapcore"

	"github.com/ridemesh/go-ridemesh/types"
)

type state uint8

const (
	idle state = iota
	requestSent
	confirmed
)

func (s state) String() string {
	switch s {
	case idle:
		return "idle"
	case requestSent:
		return "request sent"
	case confirmed:
		return "confirmed"
	default:
		return "unknown"
	}
}

// output is the effect set of one transition. The service applies it outside
// the lock: publishes the broadcast, arms or cancels expiry timers, reports
// events.
type output struct {
	broadcast types.Message       // publish on the primary topic
	surfaced  *types.RideAccepted // new candidate, arm an expiry timer
	dropped   []string            // driver ids whose candidates were discarded
}

func (o *output) MarshalLogObject(enc zapcore.ObjectEncoder) error {
	if o.broadcast != nil {
		enc.AddString("broadcast", o.broadcast.MsgType())
	}
	if o.surfaced != nil {
		enc.AddString("surfaced", o.surfaced.DriverID)
	}
	if o.dropped != nil {
		enc.AddInt("dropped", len(o.dropped))
	}
	return nil
}

// protocol is the rider lifecycle as a pure transition function over local
// events and inbound messages. It holds no clocks, sockets, or stores.
//
// A rider has at most one outstanding request. Submitting a new one discards
// every candidate gathered for the previous id. Once a confirmation is
// published for the current id, acceptances for it no longer register.
type protocol struct {
	state           state
	requestID       string
	confirmedDriver string
	candidates      map[string]*types.RideAccepted // keyed by driver id
}

func newProtocol() protocol {
	return protocol{candidates: map[string]*types.RideAccepted{}}
}

func (p *protocol) submit(req *types.RideRequest) output {
	out := output{broadcast: req}
	for id := range p.candidates {
		out.dropped = append(out.dropped, id)
		delete(p.candidates, id)
	}
	p.state = requestSent
	p.requestID = req.ID
	p.confirmedDriver = ""
	return out
}

func (p *protocol) onAccepted(msg *types.RideAccepted) output {
	if p.state != requestSent || msg.RequestID != p.requestID {
		return output{}
	}
	if _, exist := p.candidates[msg.DriverID]; exist {
		return output{}
	}
	p.candidates[msg.DriverID] = msg
	return output{surfaced: msg}
}

// expire drops the candidate from driverID if the user never acted on it.
func (p *protocol) expire(driverID string) output {
	if _, exist := p.candidates[driverID]; !exist {
		return output{}
	}
	delete(p.candidates, driverID)
	return output{dropped: []string{driverID}}
}

// confirm locks in driverID. The second return is false when driverID is not
// a live candidate, which includes every call after the first confirmation.
func (p *protocol) confirm(driverID string) (output, bool) {
	offer, exist := p.candidates[driverID]
	if !exist {
		return output{}, false
	}
	out := output{
		broadcast: &types.RideConfirmation{
			Type:      types.TypeRideConfirmation,
			RequestID: p.requestID,
			DriverID:  driverID,
			Fare:      offer.Fare,
		},
	}
	for id := range p.candidates {
		out.dropped = append(out.dropped, id)
		delete(p.candidates, id)
	}
	p.state = confirmed
	p.confirmedDriver = driverID
	return out, true
}
