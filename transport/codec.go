// Package transport moves coupling updates between co-simulation parties:
// in-memory pipes inside one process and NATS subjects across processes.
// Updates travel as CloudEvents.
package transport

import (
	"encoding/json"
	"errors"
	"fmt"

	cloudevents "github.com/cloudevents/sdk-go/v2"

	"github.com/GoCodeAlone/cosim"
)

// Event types carried on a link.
const (
	EventTypeUpdate = "com.cosim.coupling.update"
	EventTypeClosed = "com.cosim.coupling.closed"
)

// Static errors for transport package
var (
	ErrUnknownScheme     = errors.New("unknown endpoint scheme")
	ErrUnexpectedEvent   = errors.New("unexpected event type on link")
	ErrEndpointInUse     = errors.New("endpoint already claimed")
	ErrEndpointMismatch  = errors.New("inbound and outbound endpoints disagree")
	ErrNoEndpoint        = errors.New("no endpoint for direction")
	ErrSendOnly          = errors.New("link has no inbound subject")
	ErrReceiveOnly       = errors.New("link has no outbound subject")
	ErrHandshakeTimedOut = errors.New("peer did not become ready")
)

// EncodeUpdate wraps u in a CloudEvent from source and serializes it.
func EncodeUpdate(source string, u *cosim.CouplingUpdate) ([]byte, error) {
	event := cosim.NewCloudEvent(EventTypeUpdate, source, u, map[string]any{
		"windowstart": u.Window.StartStep,
		"windowsteps": u.Window.Steps,
	})
	if err := cosim.ValidateCloudEvent(event); err != nil {
		return nil, err
	}
	return json.Marshal(event)
}

// EncodeClosed serializes the end-of-stream marker a party sends when it
// closes its side of a link.
func EncodeClosed(source string) ([]byte, error) {
	return json.Marshal(cosim.NewCloudEvent(EventTypeClosed, source, nil, nil))
}

// DecodeUpdate parses an event produced by EncodeUpdate. The end-of-stream
// marker decodes to cosim.ErrLinkClosed.
func DecodeUpdate(raw []byte) (*cosim.CouplingUpdate, error) {
	event := cloudevents.NewEvent()
	if err := json.Unmarshal(raw, &event); err != nil {
		return nil, fmt.Errorf("decode coupling event: %w", err)
	}
	switch event.Type() {
	case EventTypeUpdate:
	case EventTypeClosed:
		return nil, cosim.ErrLinkClosed
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnexpectedEvent, event.Type())
	}
	u := &cosim.CouplingUpdate{}
	if err := event.DataAs(u); err != nil {
		return nil, fmt.Errorf("decode coupling update: %w", err)
	}
	if err := u.Validate(); err != nil {
		return nil, fmt.Errorf("decode coupling update: %w", err)
	}
	return u, nil
}
