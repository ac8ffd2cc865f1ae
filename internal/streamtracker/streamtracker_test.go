package streamtracker

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kestrel-audio/audiocore/pkg/audiotypes"
)

func TestRegisterTrackerInsertsSession(t *testing.T) {
	tr := New()
	tr.RegisterTracker(ChangeInfo{SessionID: 1, Mode: ModeRenderer, RendererState: audiotypes.RendererNew}, nil)

	infos := tr.GetCurrentRendererChangeInfos()
	require.Len(t, infos, 1)
	assert.Equal(t, uint32(1), infos[0].SessionID)
}

func TestUpdateTrackerNotifiesListeners(t *testing.T) {
	tr := New()
	tr.RegisterTracker(ChangeInfo{SessionID: 1, Mode: ModeRenderer}, nil)

	var received []ChangeInfo
	tr.RegisterTracker(ChangeInfo{SessionID: 2, Mode: ModeRenderer}, func(info ChangeInfo) {
		received = append(received, info)
	})

	require.NoError(t, tr.UpdateTracker(1, audiotypes.RendererRunning, audiotypes.CapturerNew))

	require.Len(t, received, 1)
	assert.Equal(t, uint32(1), received[0].SessionID)
	assert.Equal(t, audiotypes.RendererRunning, received[0].RendererState)
}

func TestUpdateTrackerUnknownSessionIsInvalidHandle(t *testing.T) {
	tr := New()
	err := tr.UpdateTracker(99, audiotypes.RendererRunning, audiotypes.CapturerNew)
	assert.Error(t, err)
}

func TestUnregisterStopsFutureNotifications(t *testing.T) {
	tr := New()
	tr.RegisterTracker(ChangeInfo{SessionID: 1, Mode: ModeRenderer}, nil)

	var count int
	token := tr.RegisterTracker(ChangeInfo{SessionID: 2, Mode: ModeRenderer}, func(ChangeInfo) { count++ })
	require.NoError(t, tr.UpdateTracker(1, audiotypes.RendererRunning, audiotypes.CapturerNew))
	assert.Equal(t, 1, count)

	tr.Unregister(token)
	require.NoError(t, tr.UpdateTracker(1, audiotypes.RendererPaused, audiotypes.CapturerNew))
	assert.Equal(t, 1, count)
}

func TestGetCurrentChangeInfosSeparatesRendererAndCapturer(t *testing.T) {
	tr := New()
	tr.RegisterTracker(ChangeInfo{SessionID: 1, Mode: ModeRenderer}, nil)
	tr.RegisterTracker(ChangeInfo{SessionID: 2, Mode: ModeCapturer}, nil)

	assert.Len(t, tr.GetCurrentRendererChangeInfos(), 1)
	assert.Len(t, tr.GetCurrentCapturerChangeInfos(), 1)
}

func TestUpdateStreamStatePausesMatchingSessions(t *testing.T) {
	tr := New()
	tr.RegisterTracker(ChangeInfo{SessionID: 1, ClientUID: 7, Mode: ModeRenderer, RendererState: audiotypes.RendererRunning}, nil)
	tr.RegisterTracker(ChangeInfo{SessionID: 2, ClientUID: 8, Mode: ModeRenderer, RendererState: audiotypes.RendererRunning}, nil)

	streamTypeOf := func(sessionID uint32) audiotypes.StreamType { return audiotypes.StreamTypeMusic }
	affected := tr.UpdateStreamState(7, SetStatePause, audiotypes.StreamTypeMusic, streamTypeOf)

	require.Equal(t, []uint32{1}, affected)
	infos := tr.GetCurrentRendererChangeInfos()
	for _, info := range infos {
		if info.SessionID == 1 {
			assert.Equal(t, audiotypes.RendererPaused, info.RendererState)
		}
		if info.SessionID == 2 {
			assert.Equal(t, audiotypes.RendererRunning, info.RendererState)
		}
	}
}

func TestRemoveSessionDropsFromSnapshots(t *testing.T) {
	tr := New()
	tr.RegisterTracker(ChangeInfo{SessionID: 1, Mode: ModeRenderer}, nil)
	tr.RemoveSession(1)

	assert.Empty(t, tr.GetCurrentRendererChangeInfos())
}
