// Package protocol defines the event names and payload shapes exchanged with
// participants over the hub connection.
package protocol

const (
	EventInit        = "init"
	EventAddToken    = "addToken"
	EventUpdateToken = "updateToken"
	EventDeleteToken = "deleteToken"
	EventReorder     = "reorder"

	EventPlayMusic    = "play-music"
	EventStopMusic    = "stop-music"
	EventStopAllMusic = "stop-all-music"
	EventVolumeMusic  = "volume-music"

	EventVoiceJoin         = "voice-join"
	EventVoiceLeave        = "voice-leave"
	EventVoiceSignal       = "voice-signal"
	EventVoiceSpeaking     = "voice-speaking"
	EventVoiceParticipants = "voice-participants"
	EventVoiceRename       = "voice-rename"

	EventNegotiateRequest  = "voice-negotiate-request"
	EventNegotiateResponse = "voice-negotiate-response"
	EventNegotiateGrant    = "voice-negotiate-grant"
	EventNegotiateReleased = "voice-negotiate-released"
	EventNegotiateRelease  = "voice-negotiate-release"

	EventPing = "ping"
	EventPong = "pong"
)

func isMusic(event string) bool {
	switch event {
	case EventPlayMusic, EventStopMusic, EventStopAllMusic, EventVolumeMusic:
		return true
	}
	return false
}
