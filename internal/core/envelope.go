package core

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/dkeye/Beacon/internal/domain"
)

// Target addresses either a room or one connection, never both.
type Target struct {
	Room       domain.RoomName `json:"room,omitempty"`
	Connection ConnectionID    `json:"connection,omitempty"`
}

func ToRoom(name domain.RoomName) Target  { return Target{Room: name} }
func ToConnection(id ConnectionID) Target { return Target{Connection: id} }

func (t Target) String() string {
	if t.Connection != "" {
		return "conn:" + string(t.Connection)
	}
	return string(t.Room)
}

// Envelope is one outbound event. Payload is opaque to the gateway.
type Envelope struct {
	Event   string
	Payload any
	Target  Target
	// Lang is forwarded verbatim; payload text is already localized by the caller.
	Lang string
}

var ErrInvalidEnvelope = errors.New("invalid envelope")

func (e Envelope) Validate() error {
	if strings.TrimSpace(e.Event) == "" {
		return fmt.Errorf("%w: empty event name", ErrInvalidEnvelope)
	}
	hasRoom, hasConn := e.Target.Room != "", e.Target.Connection != ""
	if hasRoom == hasConn {
		return fmt.Errorf("%w: exactly one of room or connection must be set", ErrInvalidEnvelope)
	}
	if hasRoom {
		return e.Target.Room.Validate()
	}
	return nil
}

// OutboundMessage is the wire shape written to clients.
type OutboundMessage struct {
	Event string `json:"event"`
	Data  any    `json:"data,omitempty"`
	Lang  string `json:"lang,omitempty"`
}

// Encode renders the envelope once so every recipient shares the same bytes.
func (e Envelope) Encode() (Frame, error) {
	b, err := json.Marshal(OutboundMessage{Event: e.Event, Data: e.Payload, Lang: e.Lang})
	if err != nil {
		return nil, fmt.Errorf("%w: encode payload: %v", ErrInvalidEnvelope, err)
	}
	return b, nil
}

// DeliveryFailure names a recipient that did not get the event.
type DeliveryFailure struct {
	Connection ConnectionID
	Err        error
}

func (f DeliveryFailure) MarshalJSON() ([]byte, error) {
	msg := ""
	if f.Err != nil {
		msg = f.Err.Error()
	}
	return json.Marshal(struct {
		Connection ConnectionID `json:"connection"`
		Code       string       `json:"code"`
		Error      string       `json:"error"`
	}{f.Connection, failureCode(f.Err), msg})
}

func failureCode(err error) string {
	switch {
	case errors.Is(err, ErrBackpressure):
		return "backpressure"
	case errors.Is(err, ErrConnectionClosed), errors.Is(err, ErrNotActive):
		return "connection_closed"
	}
	return domain.ErrorCode(err)
}

// DispatchResult summarizes one fan-out.
type DispatchResult struct {
	Target    Target            `json:"target"`
	Delivered int               `json:"delivered"`
	Failed    []DeliveryFailure `json:"failed"`
}

func (r DispatchResult) Attempts() int { return r.Delivered + len(r.Failed) }

// Dispatcher is what business services depend on to push events.
type Dispatcher interface {
	Dispatch(ctx context.Context, env Envelope) (DispatchResult, error)
}
