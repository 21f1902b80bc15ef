package hub

import (
	"errors"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/dkeye/tabletop/internal/app"
	"github.com/dkeye/tabletop/internal/core"
	"github.com/dkeye/tabletop/internal/domain"
	"github.com/dkeye/tabletop/internal/metrics"
	"github.com/dkeye/tabletop/internal/protocol"
)

// Hub applies participant events to the shared state and fans the results out.
// A single mutex spans each event so mutations, persistence and the order of
// outbound frames are the same for every connection.
type Hub struct {
	Registry *app.Registry
	Tokens   *app.TokenStore
	Roster   *app.Roster
	Lock     *app.NegotiationLock
	Policy   app.Policy

	mu        sync.Mutex
	nicknames map[core.ConnID]string
}

func New(tokens *app.TokenStore, policy app.Policy) *Hub {
	if policy == nil {
		policy = app.DropPolicy{}
	}
	return &Hub{
		Registry:  app.NewRegistry(),
		Tokens:    tokens,
		Roster:    app.NewRoster(),
		Lock:      app.NewNegotiationLock(),
		Policy:    policy,
		nicknames: make(map[core.ConnID]string),
	}
}

// Connect registers conn and pushes the current token sequence to it only.
// nickname is used when the participant joins voice without naming itself.
func (h *Hub) Connect(id core.ConnID, conn core.Conn, nickname string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.Registry.Register(id, conn)
	h.nicknames[id] = nickname
	metrics.Connections.Set(float64(h.Registry.Count()))
	h.send(id, protocol.EventInit, h.Tokens.SnapshotAll())
}

// Disconnect is terminal for id: it leaves voice, gives up the negotiation
// lock and is forgotten by the registry.
func (h *Hub) Disconnect(id core.ConnID) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.Registry.Unregister(id); !ok {
		return
	}
	delete(h.nicknames, id)
	metrics.Connections.Set(float64(h.Registry.Count()))
	h.leaveVoice(id)
}

// HandleFrame decodes one raw frame from id and dispatches it.
// Malformed or unknown events are dropped without a reply.
func (h *Hub) HandleFrame(id core.ConnID, data []byte) {
	ev, err := protocol.Decode(data)
	if err != nil {
		outcome := "malformed"
		if errors.Is(err, protocol.ErrUnknownEvent) {
			outcome = "unknown"
		}
		metrics.Events.WithLabelValues("invalid", outcome).Inc()
		log.Warn().Err(err).Str("module", "hub").Str("conn", string(id)).Msg("dropping inbound frame")
		return
	}
	h.Dispatch(id, ev)
}

// Dispatch is the hub state machine: one case per inbound event kind.
func (h *Hub) Dispatch(id core.ConnID, ev protocol.Inbound) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if !h.Registry.IsLive(id) {
		log.Debug().Str("module", "hub").Str("conn", string(id)).Str("type", ev.Name()).Msg("event from dead connection")
		return
	}

	applied := true
	switch e := ev.(type) {
	case protocol.AddToken:
		applied = h.Tokens.Add(e.Token)
		if applied {
			h.broadcast(protocol.EventAddToken, e.Token)
		}
	case protocol.UpdateToken:
		applied = h.Tokens.Update(e.Token)
		if applied {
			h.broadcast(protocol.EventUpdateToken, e.Token)
		}
	case protocol.DeleteToken:
		applied = h.Tokens.Delete(e.ID)
		if applied {
			h.broadcast(protocol.EventDeleteToken, protocol.DeletePayload{ID: e.ID})
		}
	case protocol.Reorder:
		applied = h.Tokens.Reorder(e.Tokens)
		if applied {
			h.broadcast(protocol.EventReorder, h.Tokens.SnapshotAll())
		}

	case protocol.Music:
		h.broadcast(e.Event, e.Data, id)

	case protocol.VoiceJoin:
		nickname := e.Nickname
		if nickname == "" {
			nickname = h.nicknames[id]
		}
		h.Roster.Join(id, nickname)
		h.broadcastRoster()
	case protocol.VoiceRename:
		applied = h.Roster.Rename(id, e.Nickname)
		if applied {
			h.broadcastRoster()
		}
	case protocol.VoiceLeave:
		h.leaveVoice(id)
	case protocol.VoiceSignal:
		applied = h.relaySignal(id, e)
	case protocol.VoiceSpeaking:
		applied = h.Roster.SetSpeaking(id, e.Speaking)
		if applied {
			h.broadcast(protocol.EventVoiceSpeaking, protocol.SpeakingPayload{ID: id, Speaking: e.Speaking})
		}

	case protocol.NegotiateRequest:
		h.requestNegotiation(id)
	case protocol.NegotiateRelease:
		h.releaseNegotiation(id, true)

	case protocol.Ping:
		h.send(id, protocol.EventPong, nil)

	default:
		applied = false
		log.Warn().Str("module", "hub").Str("type", ev.Name()).Msg("unhandled event")
	}

	outcome := "applied"
	if !applied {
		outcome = "ignored"
	}
	metrics.Events.WithLabelValues(ev.Name(), outcome).Inc()
}

// ConnectionCount and TokenCount back the health endpoint.
func (h *Hub) ConnectionCount() int { return h.Registry.Count() }
func (h *Hub) TokenCount() int      { return h.Tokens.Len() }

// Participants returns the voice roster.
func (h *Hub) Participants() []domain.Participant { return h.Roster.Snapshot() }

func (h *Hub) leaveVoice(id core.ConnID) {
	h.Roster.Leave(id)
	h.releaseNegotiation(id, false)
	h.broadcastRoster()
}

func (h *Hub) broadcastRoster() {
	snap := h.Roster.Snapshot()
	metrics.VoiceParticipants.Set(float64(len(snap)))
	h.broadcast(protocol.EventVoiceParticipants, snap)
}

func (h *Hub) send(id core.ConnID, event string, payload any) {
	f, err := protocol.Encode(event, payload)
	if err != nil {
		log.Error().Err(err).Str("module", "hub").Msg("encode outbound")
		return
	}
	err = h.Registry.Send(id, f)
	switch {
	case err == nil:
	case errors.Is(err, app.ErrNotLive):
		log.Debug().Str("module", "hub").Str("conn", string(id)).Str("type", event).Msg("target not live")
	default:
		h.onDropped([]core.ConnID{id})
	}
}

func (h *Hub) broadcast(event string, payload any, except ...core.ConnID) {
	f, err := protocol.Encode(event, payload)
	if err != nil {
		log.Error().Err(err).Str("module", "hub").Msg("encode outbound")
		return
	}
	res := h.Registry.Broadcast(f, except...)
	h.onDropped(res.Dropped)
}

func (h *Hub) onDropped(dropped []core.ConnID) {
	for _, id := range dropped {
		metrics.DroppedFrames.Inc()
		switch h.Policy.OnBackPressure(id) {
		case app.KickMember:
			if conn, ok := h.Registry.Get(id); ok {
				log.Warn().Str("module", "hub").Str("conn", string(id)).Msg("kicking slow connection")
				// The adapter's read loop reports the disconnect back to the hub.
				conn.Close()
			}
		case app.DropFrame, app.NoAction:
			log.Debug().Str("module", "hub").Str("conn", string(id)).Msg("frame dropped for slow connection")
		}
	}
}
