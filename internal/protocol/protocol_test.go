package protocol

import (
	"testing"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/require"

	"github.com/dkeye/tabletop/internal/core"
)

func TestDecode_TokenEvents(t *testing.T) {
	ev, err := Decode([]byte(`{"type":"addToken","data":{"id":"t1","src":"a.png","x":3}}`))
	require.NoError(t, err)
	add, ok := ev.(AddToken)
	require.True(t, ok)
	require.Equal(t, "t1", add.Token.ID)

	ev, err = Decode([]byte(`{"type":"updateToken","data":{"id":"t1","src":"b.png"}}`))
	require.NoError(t, err)
	require.IsType(t, UpdateToken{}, ev)

	ev, err = Decode([]byte(`{"type":"reorder","data":[{"id":"a","src":"1"},{"id":"b","src":"2"}]}`))
	require.NoError(t, err)
	require.Len(t, ev.(Reorder).Tokens, 2)
}

func TestDecode_RejectsTokenWithoutIDOrSrc(t *testing.T) {
	for _, raw := range []string{
		`{"type":"addToken","data":{"src":"a.png"}}`,
		`{"type":"addToken","data":{"id":"t1"}}`,
		`{"type":"updateToken","data":{"id":"t1"}}`,
		`{"type":"addToken"}`,
	} {
		_, err := Decode([]byte(raw))
		require.ErrorIs(t, err, ErrMalformed, raw)
	}
}

func TestDecode_DeleteAcceptsBothShapes(t *testing.T) {
	ev, err := Decode([]byte(`{"type":"deleteToken","data":"t1"}`))
	require.NoError(t, err)
	require.Equal(t, DeleteToken{ID: "t1"}, ev)

	ev, err = Decode([]byte(`{"type":"deleteToken","data":{"id":"t2"}}`))
	require.NoError(t, err)
	require.Equal(t, DeleteToken{ID: "t2"}, ev)

	_, err = Decode([]byte(`{"type":"deleteToken","data":{}}`))
	require.ErrorIs(t, err, ErrMalformed)
}

func TestDecode_MusicIsVerbatim(t *testing.T) {
	ev, err := Decode([]byte(`{"type":"volume-music","data":{"track":"rain","volume":0.4}}`))
	require.NoError(t, err)
	m, ok := ev.(Music)
	require.True(t, ok)
	require.Equal(t, EventVolumeMusic, m.Name())
	require.JSONEq(t, `{"track":"rain","volume":0.4}`, string(m.Data))
}

func TestDecode_Voice(t *testing.T) {
	ev, err := Decode([]byte(`{"type":"voice-join","data":{"nickname":"ann"}}`))
	require.NoError(t, err)
	require.Equal(t, VoiceJoin{Nickname: "ann"}, ev)

	ev, err = Decode([]byte(`{"type":"voice-join"}`))
	require.NoError(t, err)
	require.Equal(t, VoiceJoin{}, ev)

	ev, err = Decode([]byte(`{"type":"voice-signal","data":{"to":"c2","signal":{"type":"offer","sdp":"v=0"}}}`))
	require.NoError(t, err)
	sig := ev.(VoiceSignal)
	require.Equal(t, core.ConnID("c2"), sig.To)

	_, err = Decode([]byte(`{"type":"voice-signal","data":{"signal":{}}}`))
	require.ErrorIs(t, err, ErrMalformed)

	_, err = Decode([]byte(`{"type":"voice-speaking","data":{}}`))
	require.ErrorIs(t, err, ErrMalformed)

	ev, err = Decode([]byte(`{"type":"voice-speaking","data":{"speaking":false}}`))
	require.NoError(t, err)
	require.Equal(t, VoiceSpeaking{Speaking: false}, ev)
}

func TestDecode_Errors(t *testing.T) {
	_, err := Decode([]byte(`not json`))
	require.ErrorIs(t, err, ErrMalformed)

	_, err = Decode([]byte(`{"data":1}`))
	require.ErrorIs(t, err, ErrMalformed)

	_, err = Decode([]byte(`{"type":"dance"}`))
	require.ErrorIs(t, err, ErrUnknownEvent)
}

func TestEncode(t *testing.T) {
	f, err := Encode(EventNegotiateReleased, NegotiateReleasedPayload{ID: "a"})
	require.NoError(t, err)
	require.JSONEq(t, `{"type":"voice-negotiate-released","data":{"id":"a"}}`, string(f))

	f, err = Encode(EventPong, nil)
	require.NoError(t, err)
	require.JSONEq(t, `{"type":"pong"}`, string(f))

	f, err = Encode(EventPlayMusic, json.RawMessage(`{"track":"x"}`))
	require.NoError(t, err)
	require.JSONEq(t, `{"type":"play-music","data":{"track":"x"}}`, string(f))
}
