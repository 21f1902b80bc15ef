package protocol

import (
	"fmt"

	"github.com/goccy/go-json"

	"github.com/dkeye/tabletop/internal/core"
)

type SpeakingPayload struct {
	ID       core.ConnID `json:"id"`
	Speaking bool        `json:"speaking"`
}

type SignalPayload struct {
	From   core.ConnID     `json:"from"`
	Signal json.RawMessage `json:"signal"`
}

type NegotiateResponsePayload struct {
	Granted  bool `json:"granted"`
	Position int  `json:"position"`
}

type NegotiateGrantPayload struct {
	ID core.ConnID `json:"id"`
}

type NegotiateReleasedPayload struct {
	ID       core.ConnID `json:"id"`
	NewOwner core.ConnID `json:"newOwner,omitempty"`
}

type DeletePayload struct {
	ID string `json:"id"`
}

// Encode wraps payload into an envelope frame.
func Encode(event string, payload any) (core.Frame, error) {
	var data json.RawMessage
	switch p := payload.(type) {
	case nil:
	case json.RawMessage:
		data = p
	default:
		b, err := json.Marshal(p)
		if err != nil {
			return nil, fmt.Errorf("encode %s: %w", event, err)
		}
		data = b
	}
	b, err := json.Marshal(Envelope{Type: event, Data: data})
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", event, err)
	}
	return core.Frame(b), nil
}
