package protocol

import (
	"errors"
	"fmt"

	"github.com/goccy/go-json"

	"github.com/dkeye/tabletop/internal/core"
	"github.com/dkeye/tabletop/internal/domain"
)

var (
	ErrMalformed    = errors.New("malformed event")
	ErrUnknownEvent = errors.New("unknown event")
)

// Envelope is the frame shape in both directions.
type Envelope struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// Inbound is the closed set of events a participant may send.
type Inbound interface {
	Name() string
	inbound()
}

type (
	AddToken struct{ Token domain.Token }
	// UpdateToken replaces the token with the same id wholesale.
	UpdateToken struct{ Token domain.Token }
	DeleteToken struct{ ID string }
	Reorder     struct{ Tokens []domain.Token }

	// Music is relayed verbatim; the hub keeps no playback state.
	Music struct {
		Event string
		Data  json.RawMessage
	}

	VoiceJoin     struct{ Nickname string }
	VoiceLeave    struct{}
	VoiceRename   struct{ Nickname string }
	VoiceSpeaking struct{ Speaking bool }
	VoiceSignal   struct {
		To     core.ConnID
		Signal json.RawMessage
	}

	NegotiateRequest struct{}
	NegotiateRelease struct{}
	Ping             struct{}
)

func (AddToken) Name() string         { return EventAddToken }
func (UpdateToken) Name() string      { return EventUpdateToken }
func (DeleteToken) Name() string      { return EventDeleteToken }
func (Reorder) Name() string          { return EventReorder }
func (m Music) Name() string          { return m.Event }
func (VoiceJoin) Name() string        { return EventVoiceJoin }
func (VoiceLeave) Name() string       { return EventVoiceLeave }
func (VoiceRename) Name() string      { return EventVoiceRename }
func (VoiceSpeaking) Name() string    { return EventVoiceSpeaking }
func (VoiceSignal) Name() string      { return EventVoiceSignal }
func (NegotiateRequest) Name() string { return EventNegotiateRequest }
func (NegotiateRelease) Name() string { return EventNegotiateRelease }
func (Ping) Name() string             { return EventPing }

func (AddToken) inbound()         {}
func (UpdateToken) inbound()      {}
func (DeleteToken) inbound()      {}
func (Reorder) inbound()          {}
func (Music) inbound()            {}
func (VoiceJoin) inbound()        {}
func (VoiceLeave) inbound()       {}
func (VoiceRename) inbound()      {}
func (VoiceSpeaking) inbound()    {}
func (VoiceSignal) inbound()      {}
func (NegotiateRequest) inbound() {}
func (NegotiateRelease) inbound() {}
func (Ping) inbound()             {}

// Decode parses one inbound frame. Tokens without id or src are rejected here
// so they never reach the store.
func Decode(data []byte) (Inbound, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if env.Type == "" {
		return nil, fmt.Errorf("%w: missing type", ErrMalformed)
	}

	if isMusic(env.Type) {
		return Music{Event: env.Type, Data: env.Data}, nil
	}

	switch env.Type {
	case EventAddToken, EventUpdateToken:
		var tok domain.Token
		if err := decodeData(env, &tok); err != nil {
			return nil, err
		}
		if err := tok.Validate(); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
		}
		if env.Type == EventAddToken {
			return AddToken{Token: tok}, nil
		}
		return UpdateToken{Token: tok}, nil

	case EventDeleteToken:
		id, err := decodeTokenID(env.Data)
		if err != nil {
			return nil, err
		}
		return DeleteToken{ID: id}, nil

	case EventReorder:
		var toks []domain.Token
		if err := decodeData(env, &toks); err != nil {
			return nil, err
		}
		return Reorder{Tokens: toks}, nil

	case EventVoiceJoin, EventVoiceRename:
		var p struct {
			Nickname string `json:"nickname"`
		}
		if len(env.Data) > 0 {
			if err := decodeData(env, &p); err != nil {
				return nil, err
			}
		}
		if env.Type == EventVoiceJoin {
			return VoiceJoin{Nickname: p.Nickname}, nil
		}
		return VoiceRename{Nickname: p.Nickname}, nil

	case EventVoiceLeave:
		return VoiceLeave{}, nil

	case EventVoiceSpeaking:
		var p struct {
			Speaking *bool `json:"speaking"`
		}
		if err := decodeData(env, &p); err != nil {
			return nil, err
		}
		if p.Speaking == nil {
			return nil, fmt.Errorf("%w: speaking flag missing", ErrMalformed)
		}
		return VoiceSpeaking{Speaking: *p.Speaking}, nil

	case EventVoiceSignal:
		var p struct {
			To     string          `json:"to"`
			Signal json.RawMessage `json:"signal"`
		}
		if err := decodeData(env, &p); err != nil {
			return nil, err
		}
		if p.To == "" || len(p.Signal) == 0 {
			return nil, fmt.Errorf("%w: signal needs to and signal", ErrMalformed)
		}
		return VoiceSignal{To: core.ConnID(p.To), Signal: p.Signal}, nil

	case EventNegotiateRequest:
		return NegotiateRequest{}, nil
	case EventNegotiateRelease:
		return NegotiateRelease{}, nil
	case EventPing:
		return Ping{}, nil
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownEvent, env.Type)
}

func decodeData(env Envelope, v any) error {
	if len(env.Data) == 0 {
		return fmt.Errorf("%w: %s without data", ErrMalformed, env.Type)
	}
	if err := json.Unmarshal(env.Data, v); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrMalformed, env.Type, err)
	}
	return nil
}

// decodeTokenID accepts either a bare id string or {"id": "..."}.
func decodeTokenID(data json.RawMessage) (string, error) {
	var id string
	if err := json.Unmarshal(data, &id); err == nil && id != "" {
		return id, nil
	}
	var p struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(data, &p); err != nil || p.ID == "" {
		return "", fmt.Errorf("%w: deleteToken needs an id", ErrMalformed)
	}
	return p.ID, nil
}
