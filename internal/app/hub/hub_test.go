package hub

import (
	"sync"
	"testing"

	"github.com/goccy/go-json"
	"github.com/pion/webrtc/v4"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/require"

	"github.com/dkeye/tabletop/internal/app"
	"github.com/dkeye/tabletop/internal/core"
	"github.com/dkeye/tabletop/internal/domain"
	"github.com/dkeye/tabletop/internal/protocol"
	"github.com/dkeye/tabletop/internal/storage"
)

type captureConn struct {
	mu     sync.Mutex
	frames []protocol.Envelope
	full   bool
	closed bool
}

func (c *captureConn) TrySend(f core.Frame) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return core.ErrClosed
	}
	if c.full {
		return core.ErrBackpressure
	}
	var env protocol.Envelope
	if err := json.Unmarshal(f, &env); err != nil {
		return err
	}
	c.frames = append(c.frames, env)
	return nil
}

func (c *captureConn) Close() {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
}

func (c *captureConn) list() []protocol.Envelope {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]protocol.Envelope, len(c.frames))
	copy(out, c.frames)
	return out
}

func (c *captureConn) types() []string {
	var out []string
	for _, f := range c.list() {
		out = append(out, f.Type)
	}
	return out
}

func (c *captureConn) last(event string) (protocol.Envelope, bool) {
	frames := c.list()
	for i := len(frames) - 1; i >= 0; i-- {
		if frames[i].Type == event {
			return frames[i], true
		}
	}
	return protocol.Envelope{}, false
}

func (c *captureConn) reset() {
	c.mu.Lock()
	c.frames = nil
	c.mu.Unlock()
}

type fixture struct {
	hub  *Hub
	fs   afero.Fs
	file *storage.SnapshotFile
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	fs := afero.NewMemMapFs()
	file := storage.NewSnapshotFile(fs, "data/tokens.json")
	return &fixture{
		hub:  New(app.NewTokenStore(file.Load(), file), app.DropPolicy{}),
		fs:   fs,
		file: file,
	}
}

func (f *fixture) connect(id core.ConnID) *captureConn {
	c := &captureConn{}
	f.hub.Connect(id, c, "")
	return c
}

func (f *fixture) send(id core.ConnID, raw string) {
	f.hub.HandleFrame(id, []byte(raw))
}

func decode[T any](t *testing.T, env protocol.Envelope) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(env.Data, &v))
	return v
}

func TestHub_ConnectSendsInitToNewcomerOnly(t *testing.T) {
	f := newFixture(t)
	p1 := f.connect("p1")
	f.send("p1", `{"type":"addToken","data":{"id":"t1","src":"a.png"}}`)
	p1.reset()

	p2 := f.connect("p2")
	require.Equal(t, []string{protocol.EventInit}, p2.types())
	require.Empty(t, p1.list())

	init, _ := p2.last(protocol.EventInit)
	tokens := decode[[]domain.Token](t, init)
	require.Len(t, tokens, 1)
	require.Equal(t, "t1", tokens[0].ID)
}

func TestHub_AddTokenReachesEveryoneAndIsPersisted(t *testing.T) {
	f := newFixture(t)
	p1 := f.connect("p1")
	p2 := f.connect("p2")

	f.send("p1", `{"type":"addToken","data":{"id":"t1","src":"a.png"}}`)

	for _, c := range []*captureConn{p1, p2} {
		env, ok := c.last(protocol.EventAddToken)
		require.True(t, ok)
		tok := decode[domain.Token](t, env)
		require.Equal(t, "t1", tok.ID)
		require.Equal(t, "a.png", tok.Src)
	}

	b, err := afero.ReadFile(f.fs, "data/tokens.json")
	require.NoError(t, err)
	var onDisk []domain.Token
	require.NoError(t, json.Unmarshal(b, &onDisk))
	require.Len(t, onDisk, 1)
	require.Equal(t, "t1", onDisk[0].ID)
}

func TestHub_DuplicateAndInvalidTokensAreDroppedSilently(t *testing.T) {
	f := newFixture(t)
	p1 := f.connect("p1")
	f.send("p1", `{"type":"addToken","data":{"id":"t1","src":"a.png"}}`)
	p1.reset()

	f.send("p1", `{"type":"addToken","data":{"id":"t1","src":"b.png"}}`)
	f.send("p1", `{"type":"addToken","data":{"id":"t2"}}`)
	f.send("p1", `{"type":"reorder","data":[{"id":"x","src":"1"},{"id":"x","src":"2"}]}`)
	f.send("p1", `garbage`)

	require.Empty(t, p1.list())
	require.Equal(t, "a.png", f.hub.Tokens.SnapshotAll()[0].Src)
	require.Equal(t, 1, f.hub.TokenCount())
}

func TestHub_UpdateDeleteReorderBroadcastToAll(t *testing.T) {
	f := newFixture(t)
	p1 := f.connect("p1")
	p2 := f.connect("p2")
	f.send("p1", `{"type":"addToken","data":{"id":"a","src":"1"}}`)
	f.send("p1", `{"type":"addToken","data":{"id":"b","src":"2"}}`)

	f.send("p2", `{"type":"updateToken","data":{"id":"a","src":"1b","x":5}}`)
	f.send("p2", `{"type":"reorder","data":[{"id":"b","src":"2"},{"id":"a","src":"1b","x":5}]}`)
	f.send("p1", `{"type":"deleteToken","data":{"id":"b"}}`)

	for _, c := range []*captureConn{p1, p2} {
		require.Equal(t, []string{
			protocol.EventInit,
			protocol.EventAddToken, protocol.EventAddToken,
			protocol.EventUpdateToken, protocol.EventReorder, protocol.EventDeleteToken,
		}, c.types())
		del, _ := c.last(protocol.EventDeleteToken)
		require.Equal(t, "b", decode[protocol.DeletePayload](t, del).ID)
	}

	snap := f.hub.Tokens.SnapshotAll()
	require.Len(t, snap, 1)
	require.Equal(t, "1b", snap[0].Src)
	require.JSONEq(t, `5`, string(snap[0].Attrs["x"]))
}

func TestHub_MusicIsRelayedToOthersOnly(t *testing.T) {
	f := newFixture(t)
	p1 := f.connect("p1")
	p2 := f.connect("p2")
	p3 := f.connect("p3")

	f.send("p1", `{"type":"play-music","data":{"track":"tavern","loop":true}}`)

	_, ok := p1.last(protocol.EventPlayMusic)
	require.False(t, ok)
	for _, c := range []*captureConn{p2, p3} {
		env, ok := c.last(protocol.EventPlayMusic)
		require.True(t, ok)
		require.JSONEq(t, `{"track":"tavern","loop":true}`, string(env.Data))
	}

	// No playback state is kept for latecomers.
	p4 := f.connect("p4")
	require.Equal(t, []string{protocol.EventInit}, p4.types())
}

func TestHub_VoiceJoinLeaveRoster(t *testing.T) {
	f := newFixture(t)
	p1 := f.connect("p1")
	p2 := f.connect("p2")

	f.send("p1", `{"type":"voice-join","data":{"nickname":"ann"}}`)
	f.send("p2", `{"type":"voice-join"}`)
	f.send("p2", `{"type":"voice-join","data":{"nickname":"bo"}}`)

	env, _ := p1.last(protocol.EventVoiceParticipants)
	roster := decode[[]domain.Participant](t, env)
	require.Equal(t, []domain.Participant{{ID: "p1", Nickname: "ann"}, {ID: "p2", Nickname: "bo"}}, roster)

	f.send("p2", `{"type":"voice-leave"}`)
	env, _ = p1.last(protocol.EventVoiceParticipants)
	require.Equal(t, []domain.Participant{{ID: "p1", Nickname: "ann"}}, decode[[]domain.Participant](t, env))

	// p2 stays connected for the canvas after leaving voice.
	require.True(t, f.hub.Registry.IsLive("p2"))
	f.send("p1", `{"type":"addToken","data":{"id":"t","src":"s"}}`)
	_, ok := p2.last(protocol.EventAddToken)
	require.True(t, ok)

	f.hub.Disconnect("p1")
	env, _ = p2.last(protocol.EventVoiceParticipants)
	require.Empty(t, decode[[]domain.Participant](t, env))
}

func TestHub_VoiceJoinUsesConnectionNickname(t *testing.T) {
	f := newFixture(t)
	c := &captureConn{}
	f.hub.Connect("p1", c, "remembered")
	f.send("p1", `{"type":"voice-join"}`)
	require.Equal(t, "remembered", f.hub.Participants()[0].Nickname)

	f.send("p1", `{"type":"voice-rename","data":{"nickname":"renamed"}}`)
	require.Equal(t, "renamed", f.hub.Participants()[0].Nickname)
}

func TestHub_SpeakingDeltaOnlyForVoiceParticipants(t *testing.T) {
	f := newFixture(t)
	p1 := f.connect("p1")
	p2 := f.connect("p2")

	f.send("p1", `{"type":"voice-speaking","data":{"speaking":true}}`)
	_, ok := p2.last(protocol.EventVoiceSpeaking)
	require.False(t, ok)

	f.send("p1", `{"type":"voice-join"}`)
	f.send("p1", `{"type":"voice-speaking","data":{"speaking":true}}`)
	for _, c := range []*captureConn{p1, p2} {
		env, ok := c.last(protocol.EventVoiceSpeaking)
		require.True(t, ok)
		require.Equal(t, protocol.SpeakingPayload{ID: "p1", Speaking: true}, decode[protocol.SpeakingPayload](t, env))
	}
}

func TestHub_SignalGoesToTargetOnly(t *testing.T) {
	f := newFixture(t)
	p1 := f.connect("p1")
	p2 := f.connect("p2")
	p3 := f.connect("p3")

	f.send("p1", `{"type":"voice-signal","data":{"to":"p2","signal":{"type":"offer","sdp":"v=0"}}}`)

	env, ok := p2.last(protocol.EventVoiceSignal)
	require.True(t, ok)
	sig := decode[protocol.SignalPayload](t, env)
	require.Equal(t, core.ConnID("p1"), sig.From)
	require.JSONEq(t, `{"type":"offer","sdp":"v=0"}`, string(sig.Signal))

	_, ok = p1.last(protocol.EventVoiceSignal)
	require.False(t, ok)
	_, ok = p3.last(protocol.EventVoiceSignal)
	require.False(t, ok)

	// Unknown target: dropped, sender hears nothing.
	p1.reset()
	f.send("p1", `{"type":"voice-signal","data":{"to":"ghost","signal":{"candidate":"c"}}}`)
	require.Empty(t, p1.list())
}

func TestSDPType(t *testing.T) {
	require.Equal(t, webrtc.SDPTypeOffer, sdpType(json.RawMessage(`{"type":"offer","sdp":"v=0"}`)))
	require.Equal(t, webrtc.SDPTypeAnswer, sdpType(json.RawMessage(`{"sdp":{"type":"answer","sdp":"v=0"}}`)))
	require.Equal(t, webrtc.SDPTypeUnknown, sdpType(json.RawMessage(`{"candidate":"candidate:1 1 udp"}`)))
}

func TestHub_NegotiationFIFOThroughEvents(t *testing.T) {
	f := newFixture(t)
	p1 := f.connect("p1")
	p2 := f.connect("p2")
	p3 := f.connect("p3")

	f.send("p1", `{"type":"voice-negotiate-request"}`)
	f.send("p2", `{"type":"voice-negotiate-request"}`)
	f.send("p3", `{"type":"voice-negotiate-request"}`)

	resp, _ := p1.last(protocol.EventNegotiateResponse)
	require.Equal(t, protocol.NegotiateResponsePayload{Granted: true}, decode[protocol.NegotiateResponsePayload](t, resp))
	_, ok := p1.last(protocol.EventNegotiateGrant)
	require.True(t, ok)

	resp, _ = p2.last(protocol.EventNegotiateResponse)
	require.Equal(t, protocol.NegotiateResponsePayload{Position: 1}, decode[protocol.NegotiateResponsePayload](t, resp))
	resp, _ = p3.last(protocol.EventNegotiateResponse)
	require.Equal(t, protocol.NegotiateResponsePayload{Position: 2}, decode[protocol.NegotiateResponsePayload](t, resp))

	// Responses go to the requester only.
	require.NotContains(t, p2.types(), protocol.EventNegotiateGrant)

	f.send("p1", `{"type":"voice-negotiate-release"}`)

	for _, c := range []*captureConn{p1, p2, p3} {
		env, ok := c.last(protocol.EventNegotiateReleased)
		require.True(t, ok)
		require.Equal(t, protocol.NegotiateReleasedPayload{ID: "p1", NewOwner: "p2"}, decode[protocol.NegotiateReleasedPayload](t, env))
	}
	grant, ok := p2.last(protocol.EventNegotiateGrant)
	require.True(t, ok)
	require.Equal(t, core.ConnID("p2"), decode[protocol.NegotiateGrantPayload](t, grant).ID)
	require.Equal(t, core.ConnID("p2"), f.hub.Lock.Owner())
	require.NotContains(t, p3.types(), protocol.EventNegotiateGrant)

	f.send("p3", `{"type":"voice-negotiate-request"}`)
	resp, _ = p3.last(protocol.EventNegotiateResponse)
	require.Equal(t, 1, decode[protocol.NegotiateResponsePayload](t, resp).Position)
}

func TestHub_OwnerDisconnectPromotesNextInSameStep(t *testing.T) {
	f := newFixture(t)
	f.connect("p1")
	p2 := f.connect("p2")
	p3 := f.connect("p3")

	f.send("p1", `{"type":"voice-negotiate-request"}`)
	f.send("p2", `{"type":"voice-negotiate-request"}`)

	f.hub.Disconnect("p1")

	require.Equal(t, core.ConnID("p2"), f.hub.Lock.Owner())
	_, ok := p2.last(protocol.EventNegotiateGrant)
	require.True(t, ok)
	env, _ := p3.last(protocol.EventNegotiateReleased)
	require.Equal(t, protocol.NegotiateReleasedPayload{ID: "p1", NewOwner: "p2"}, decode[protocol.NegotiateReleasedPayload](t, env))

	// p3 cannot jump the queue.
	f.send("p3", `{"type":"voice-negotiate-request"}`)
	resp, _ := p3.last(protocol.EventNegotiateResponse)
	require.False(t, decode[protocol.NegotiateResponsePayload](t, resp).Granted)
}

func TestHub_WaiterDisconnectIsSilent(t *testing.T) {
	f := newFixture(t)
	p1 := f.connect("p1")
	f.connect("p2")
	f.send("p1", `{"type":"voice-negotiate-request"}`)
	f.send("p2", `{"type":"voice-negotiate-request"}`)
	p1.reset()

	f.hub.Disconnect("p2")
	require.NotContains(t, p1.types(), protocol.EventNegotiateReleased)
	require.Empty(t, f.hub.Lock.Waiters())
	require.Equal(t, core.ConnID("p1"), f.hub.Lock.Owner())
}

func TestHub_EventsAfterDisconnectAreIgnored(t *testing.T) {
	f := newFixture(t)
	f.connect("p1")
	p2 := f.connect("p2")
	f.hub.Disconnect("p1")
	p2.reset()

	f.send("p1", `{"type":"addToken","data":{"id":"t1","src":"a.png"}}`)
	require.Empty(t, p2.list())
	require.Equal(t, 0, f.hub.TokenCount())

	// Second disconnect is a no-op.
	f.hub.Disconnect("p1")
	require.Empty(t, p2.list())
}

func TestHub_SlowConnectionDoesNotBlockOthers(t *testing.T) {
	f := newFixture(t)
	slow := f.connect("slow")
	fast := f.connect("fast")
	slow.mu.Lock()
	slow.full = true
	slow.mu.Unlock()

	f.send("fast", `{"type":"addToken","data":{"id":"t1","src":"a.png"}}`)
	_, ok := fast.last(protocol.EventAddToken)
	require.True(t, ok)
	slow.mu.Lock()
	require.False(t, slow.closed)
	slow.mu.Unlock()
}

func TestHub_KickPolicyClosesSlowConnection(t *testing.T) {
	f := newFixture(t)
	f.hub.Policy = app.KickPolicy{}
	slow := f.connect("slow")
	f.connect("fast")
	slow.mu.Lock()
	slow.full = true
	slow.mu.Unlock()

	f.send("fast", `{"type":"addToken","data":{"id":"t1","src":"a.png"}}`)
	slow.mu.Lock()
	require.True(t, slow.closed)
	slow.mu.Unlock()
}

func TestHub_PingPong(t *testing.T) {
	f := newFixture(t)
	p1 := f.connect("p1")
	p2 := f.connect("p2")
	f.send("p1", `{"type":"ping"}`)
	_, ok := p1.last(protocol.EventPong)
	require.True(t, ok)
	_, ok = p2.last(protocol.EventPong)
	require.False(t, ok)
}

func TestHub_ConcurrentAddsAreAllApplied(t *testing.T) {
	f := newFixture(t)
	const n = 20
	conns := make([]*captureConn, 4)
	for i := range conns {
		conns[i] = f.connect(core.ConnID(rune('a' + i)))
	}

	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			from := core.ConnID(rune('a' + i%len(conns)))
			tok, _ := json.Marshal(domain.Token{ID: string(rune('A' + i)), Src: "s"})
			f.send(from, `{"type":"addToken","data":`+string(tok)+`}`)
		}(i)
	}
	wg.Wait()

	require.Equal(t, n, f.hub.TokenCount())
	// Every connection saw the adds in the same order.
	want := conns[0].list()
	for _, c := range conns[1:] {
		require.Equal(t, want, c.list())
	}
	require.Equal(t, f.hub.Tokens.SnapshotAll(), f.file.Load())
}
