package hub

import (
	"github.com/goccy/go-json"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/tabletop/internal/core"
	"github.com/dkeye/tabletop/internal/metrics"
	"github.com/dkeye/tabletop/internal/protocol"
)

// relaySignal forwards the opaque payload to its target only.
func (h *Hub) relaySignal(from core.ConnID, e protocol.VoiceSignal) bool {
	if !h.Registry.IsLive(e.To) {
		log.Debug().Str("module", "hub.voice").Str("from", string(from)).Str("to", string(e.To)).Msg("signal target not live")
		return false
	}
	if sdpType(e.Signal) == webrtc.SDPTypeOffer {
		if owner := h.Lock.Owner(); owner != from {
			// Offers are relayed whoever holds the lock.
			metrics.UnownedOffers.Inc()
			log.Warn().Str("module", "hub.voice").Str("from", string(from)).Str("owner", string(owner)).Msg("offer without negotiation lock")
		}
	}
	h.send(e.To, protocol.EventVoiceSignal, protocol.SignalPayload{From: from, Signal: e.Signal})
	return true
}

// sdpType reports the session description type carried by a signal, either
// at the top level or nested under "sdp". Candidates and other payloads are
// SDPTypeUnknown.
func sdpType(signal json.RawMessage) webrtc.SDPType {
	var desc webrtc.SessionDescription
	if err := json.Unmarshal(signal, &desc); err == nil && desc.Type != webrtc.SDPTypeUnknown {
		return desc.Type
	}
	var nested struct {
		SDP webrtc.SessionDescription `json:"sdp"`
	}
	if err := json.Unmarshal(signal, &nested); err == nil {
		return nested.SDP.Type
	}
	return webrtc.SDPTypeUnknown
}

func (h *Hub) requestNegotiation(id core.ConnID) {
	g := h.Lock.Request(id)
	metrics.NegotiationWaiters.Set(float64(len(h.Lock.Waiters())))
	h.send(id, protocol.EventNegotiateResponse, protocol.NegotiateResponsePayload{
		Granted:  g.Granted,
		Position: g.Position,
	})
	if g.Granted {
		h.send(id, protocol.EventNegotiateGrant, protocol.NegotiateGrantPayload{ID: id})
	}
}

// releaseNegotiation gives up id's claim on the lock. An explicit release is
// always announced; an implicit one (leave, disconnect) only when id owned it.
func (h *Hub) releaseNegotiation(id core.ConnID, explicit bool) {
	res := h.Lock.Release(id)
	metrics.NegotiationWaiters.Set(float64(len(h.Lock.Waiters())))
	if !explicit && !res.WasOwner {
		return
	}
	h.broadcast(protocol.EventNegotiateReleased, protocol.NegotiateReleasedPayload{
		ID:       id,
		NewOwner: res.NewOwner,
	})
	if res.NewOwner != "" {
		log.Info().Str("module", "hub.voice").Str("from", string(id)).Str("to", string(res.NewOwner)).Msg("negotiation lock handed over")
		h.send(res.NewOwner, protocol.EventNegotiateGrant, protocol.NegotiateGrantPayload{ID: res.NewOwner})
	}
}
