package interrupt

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kestrel-audio/audiocore/pkg/audioerr"
	"github.com/kestrel-audio/audiocore/pkg/audiotypes"
)

func musicInterrupt(sessionID uint32) audiotypes.AudioInterrupt {
	return audiotypes.AudioInterrupt{
		Focus:     audiotypes.FocusType{StreamType: audiotypes.StreamTypeMusic, IsPlay: true},
		SessionID: sessionID,
	}
}

func voiceCallInterrupt(sessionID uint32) audiotypes.AudioInterrupt {
	return audiotypes.AudioInterrupt{
		Focus:     audiotypes.FocusType{StreamType: audiotypes.StreamTypeVoiceCall, IsPlay: true},
		SessionID: sessionID,
	}
}

func TestActivateWithoutCallbackIsInvalidOperation(t *testing.T) {
	e := New(nil)
	err := e.ActivateAudioInterrupt(musicInterrupt(1))
	assert.ErrorIs(t, err, audioerr.New(audioerr.KindInvalidOperation, "", nil))
}

func TestDeactivateWithoutPriorActivateIsInvalidOperation(t *testing.T) {
	e := New(nil)
	e.SetCallback(1, func(audiotypes.InterruptEvent) {})
	err := e.DeactivateAudioInterrupt(musicInterrupt(1))
	assert.Error(t, err)
}

func TestVoiceCallPausesMusicAndResumesOnDeactivate(t *testing.T) {
	e := New(nil)

	var musicEvents []audiotypes.InterruptEvent
	e.SetCallback(1, func(ev audiotypes.InterruptEvent) { musicEvents = append(musicEvents, ev) })
	require.NoError(t, e.ActivateAudioInterrupt(musicInterrupt(1)))

	e.SetCallback(2, func(audiotypes.InterruptEvent) {})
	require.NoError(t, e.ActivateAudioInterrupt(voiceCallInterrupt(2)))

	require.Len(t, musicEvents, 1)
	assert.Equal(t, audiotypes.InterruptBegin, musicEvents[0].EventType)
	assert.Equal(t, audiotypes.HintPause, musicEvents[0].Hint)
	assert.Equal(t, audiotypes.ForceForce, musicEvents[0].ForceType)

	state, ok := e.FocusStateOf(1)
	require.True(t, ok)
	assert.Equal(t, audiotypes.FocusPaused, state)

	require.NoError(t, e.DeactivateAudioInterrupt(voiceCallInterrupt(2)))

	require.Len(t, musicEvents, 2)
	assert.Equal(t, audiotypes.InterruptEnd, musicEvents[1].EventType)
	assert.Equal(t, audiotypes.HintResume, musicEvents[1].Hint)

	state, ok = e.FocusStateOf(1)
	require.True(t, ok)
	assert.Equal(t, audiotypes.FocusActive, state)
}

func TestAssistantDucksMusicInsteadOfPausing(t *testing.T) {
	e := New(nil)

	var musicEvents []audiotypes.InterruptEvent
	e.SetCallback(1, func(ev audiotypes.InterruptEvent) { musicEvents = append(musicEvents, ev) })
	require.NoError(t, e.ActivateAudioInterrupt(musicInterrupt(1)))

	assistant := audiotypes.AudioInterrupt{
		Focus:     audiotypes.FocusType{StreamType: audiotypes.StreamTypeVoiceAssistant, IsPlay: true},
		SessionID: 3,
	}
	e.SetCallback(3, func(audiotypes.InterruptEvent) {})
	require.NoError(t, e.ActivateAudioInterrupt(assistant))

	require.Len(t, musicEvents, 1)
	assert.Equal(t, audiotypes.HintDuck, musicEvents[0].Hint)

	state, ok := e.FocusStateOf(1)
	require.True(t, ok)
	assert.Equal(t, audiotypes.FocusDucked, state)

	require.NoError(t, e.DeactivateAudioInterrupt(assistant))
	require.Len(t, musicEvents, 2)
	assert.Equal(t, audiotypes.HintUnduck, musicEvents[1].Hint)
}

func TestSecondVoiceCallIsRejected(t *testing.T) {
	e := New(nil)
	e.SetCallback(1, func(audiotypes.InterruptEvent) {})
	require.NoError(t, e.ActivateAudioInterrupt(voiceCallInterrupt(1)))

	e.SetCallback(2, func(audiotypes.InterruptEvent) {})
	err := e.ActivateAudioInterrupt(voiceCallInterrupt(2))
	assert.Error(t, err)

	_, ok := e.FocusStateOf(2)
	assert.False(t, ok)
}

func TestRequestAbandonAudioFocusSingleSlot(t *testing.T) {
	e := New(nil)
	require.NoError(t, e.RequestAudioFocus("client-a"))

	err := e.RequestAudioFocus("client-b")
	assert.Error(t, err)

	require.NoError(t, e.AbandonAudioFocus("client-a"))
	require.NoError(t, e.RequestAudioFocus("client-b"))
}
