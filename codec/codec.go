// Package codec encodes and decodes wire envelopes.
//
// Inbound payloads are validated against a per-type JSON schema before being
// unmarshaled, so malformed messages are dropped at the edge instead of
// surfacing as zero values deep in a state machine. Unknown fields pass
// through untouched; absent optional fields get their documented defaults.
package codec

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/ridemesh/go-ridemesh/types"
)

var (
	// ErrUnknownType is returned for a payload whose type discriminator is
	// not registered.
	ErrUnknownType = errors.New("unknown message type")
	// ErrMalformed is returned for payloads that are not valid JSON or fail
	// schema validation.
	ErrMalformed = errors.New("malformed message")
)

type envelope struct {
	Type string `json:"type"`
}

// PeekType extracts the type discriminator without decoding the full payload.
func PeekType(raw []byte) (string, error) {
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return "", fmt.Errorf("%w: %w", ErrMalformed, err)
	}
	if env.Type == "" {
		return "", fmt.Errorf("%w: missing type discriminator", ErrMalformed)
	}
	return env.Type, nil
}

var schemas = map[string]*jsonschema.Schema{
	types.TypeRideRequest: jsonschema.MustCompileString("ride-request.json", `{
		"type": "object",
		"required": ["type", "id", "from", "to", "timestamp"],
		"properties": {
			"type": {"const": "ride-request"},
			"id": {"type": "string", "minLength": 1},
			"name": {"type": "string"},
			"phone": {"type": "string"},
			"from": {"type": "string", "minLength": 1},
			"to": {"type": "string", "minLength": 1},
			"fare": {"type": "number", "minimum": 0},
			"vehicle": {"type": "string"},
			"selectedSeats": {"type": "integer", "minimum": 1},
			"riderPeerId": {"type": "string"},
			"timestamp": {"type": "number"}
		}
	}`),
	types.TypeRideAccepted: jsonschema.MustCompileString("ride-accepted.json", `{
		"type": "object",
		"required": ["type", "requestId", "driverId", "timestamp"],
		"properties": {
			"type": {"const": "ride-accepted"},
			"requestId": {"type": "string", "minLength": 1},
			"driverId": {"type": "string", "minLength": 1},
			"fare": {"type": "number", "minimum": 0},
			"selectedSeats": {"type": "integer", "minimum": 1},
			"timestamp": {"type": "number"}
		}
	}`),
	types.TypeRideConfirmation: jsonschema.MustCompileString("ride-confirmation.json", `{
		"type": "object",
		"required": ["type", "requestId", "driverId", "timestamp"],
		"properties": {
			"type": {"const": "ride-confirmation"},
			"requestId": {"type": "string", "minLength": 1},
			"driverId": {"type": "string", "minLength": 1},
			"fare": {"type": "number", "minimum": 0},
			"timestamp": {"type": "number"}
		}
	}`),
	types.TypeRideOffer: jsonschema.MustCompileString("ride-offer.json", `{
		"type": "object",
		"required": ["type", "driverId", "timestamp"],
		"properties": {
			"type": {"const": "ride-offer"},
			"driverId": {"type": "string", "minLength": 1},
			"availableSeats": {"type": "integer", "minimum": 1},
			"fare": {"type": "number", "minimum": 0},
			"timestamp": {"type": "number"}
		}
	}`),
	types.TypeRideAcceptance: jsonschema.MustCompileString("ride-acceptance.json", `{
		"type": "object",
		"required": ["type", "driverId", "riderId", "timestamp"],
		"properties": {
			"type": {"const": "ride-acceptance"},
			"driverId": {"type": "string", "minLength": 1},
			"riderId": {"type": "string", "minLength": 1},
			"fare": {"type": "number", "minimum": 0},
			"timestamp": {"type": "number"}
		}
	}`),
	types.TypeAcceptResponse: jsonschema.MustCompileString("accept-response.json", `{
		"type": "object",
		"required": ["type", "rideId", "accepted", "driverId", "timestamp"],
		"properties": {
			"type": {"const": "accept-response"},
			"rideId": {"type": "string", "minLength": 1},
			"accepted": {"type": "boolean"},
			"driverId": {"type": "string", "minLength": 1},
			"timestamp": {"type": "number"}
		}
	}`),
	types.TypeSharedRidePost: jsonschema.MustCompileString("ride-share-post.json", `{
		"type": "object",
		"required": ["type", "rideId", "driver", "rider", "timestamp"],
		"properties": {
			"type": {"const": "ride-share-post"},
			"rideId": {"type": "string", "minLength": 1},
			"driver": {"type": "object"},
			"rider": {
				"type": "object",
				"properties": {
					"origin": {"type": "string"},
					"destination": {"type": "string"},
					"seatsAvailable": {"type": "integer", "minimum": 1}
				}
			},
			"timestamp": {"type": "number"}
		}
	}`),
	types.TypeRideShareOffer: jsonschema.MustCompileString("ride-share-offer.json", `{
		"type": "object",
		"required": ["type", "requestId", "driverInfo", "pickup", "destination", "timestamp"],
		"properties": {
			"type": {"const": "ride-share-offer"},
			"requestId": {"type": "string", "minLength": 1},
			"driverInfo": {"type": "object"},
			"pickup": {"type": "string", "minLength": 1},
			"destination": {"type": "string", "minLength": 1},
			"availableSeats": {"type": "integer", "minimum": 1},
			"timestamp": {"type": "number"}
		}
	}`),
	types.TypeRideShareRequest: jsonschema.MustCompileString("ride-share-request.json", `{
		"type": "object",
		"required": ["type", "requestId", "pickup", "destination", "requesterPeerId", "timestamp"],
		"properties": {
			"type": {"const": "ride-share-request"},
			"requestId": {"type": "string", "minLength": 1},
			"riderInfo": {"type": "object"},
			"pickup": {"type": "string", "minLength": 1},
			"destination": {"type": "string", "minLength": 1},
			"seatsRequired": {"type": "integer", "minimum": 1},
			"requesterPeerId": {"type": "string", "minLength": 1},
			"timestamp": {"type": "number"}
		}
	}`),
	types.TypeRideShareResponse: jsonschema.MustCompileString("ride-share-response.json", `{
		"type": "object",
		"required": ["type", "requestId", "accepted", "timestamp"],
		"properties": {
			"type": {"const": "ride-share-response"},
			"requestId": {"type": "string", "minLength": 1},
			"accepted": {"type": "boolean"},
			"driverInfo": {"type": "object"},
			"timestamp": {"type": "number"}
		}
	}`),
}

type normalizer interface {
	Normalize()
}

// Decode validates raw against the schema registered for the message type and
// unmarshals it into msg. The payload's discriminator must match
// msg.MsgType(). Defaults for absent optional fields are applied.
func Decode(raw []byte, msg types.Message) error {
	typ, err := PeekType(raw)
	if err != nil {
		return err
	}
	if typ != msg.MsgType() {
		return fmt.Errorf("%w: decoding %q as %q", ErrMalformed, typ, msg.MsgType())
	}
	schema, exist := schemas[typ]
	if !exist {
		return fmt.Errorf("%w: %q", ErrUnknownType, typ)
	}
	var doc any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return fmt.Errorf("%w: %w", ErrMalformed, err)
	}
	if err := schema.Validate(doc); err != nil {
		return fmt.Errorf("%w: %w", ErrMalformed, err)
	}
	if err := json.Unmarshal(raw, msg); err != nil {
		return fmt.Errorf("%w: %w", ErrMalformed, err)
	}
	if n, ok := msg.(normalizer); ok {
		n.Normalize()
	}
	return nil
}

// Registered reports whether a message type has a schema.
func Registered(typ string) bool {
	_, exist := schemas[typ]
	return exist
}

// Encode marshals msg for the wire.
func Encode(msg types.Message) ([]byte, error) {
	raw, err := json.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("encode %q: %w", msg.MsgType(), err)
	}
	return raw, nil
}

// MustEncode marshals msg and panics on failure. All wire envelopes are plain
// structs, so a failure is a programming error.
func MustEncode(msg types.Message) []byte {
	raw, err := Encode(msg)
	if err != nil {
		panic(err)
	}
	return raw
}
