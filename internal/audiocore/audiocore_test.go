package audiocore

import (
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/kestrel-audio/audiocore/internal/adapter"
	"github.com/kestrel-audio/audiocore/internal/config"
	"github.com/kestrel-audio/audiocore/internal/serviceadapter"
	"github.com/kestrel-audio/audiocore/pkg/audiotypes"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestCore(t *testing.T) *Core {
	t.Helper()
	cfg := config.Config{
		StorePath:  ":memory:",
		SampleRate: 48000,
		Channels:   2,
		BufferSize: 960,
	}
	core, err := New(cfg, testLogger())
	require.NoError(t, err)
	t.Cleanup(func() { core.Close() })

	core.Start()
	require.Eventually(t, func() bool {
		return core.Adapter.State() == serviceadapter.Ready
	}, time.Second, time.Millisecond)
	return core
}

func TestNewSeedsDefaultsOnFirstBoot(t *testing.T) {
	core := newTestCore(t)

	vol, err := core.GetGroupVolume(audiotypes.VolumeGroupMusic)
	require.NoError(t, err)
	require.InDelta(t, 1.0, vol, 1e-9)

	mode, err := core.GetRingerMode()
	require.NoError(t, err)
	require.Equal(t, audiotypes.RingerNormal, mode)
}

func TestOpenAudioPortAttachVolumeEndToEnd(t *testing.T) {
	core := newTestCore(t)

	handle, err := core.OpenAudioPort(adapter.ModuleConfig{
		Lib:        adapter.LibHDISink,
		Name:       "primary-speaker",
		DeviceType: "null",
		Rate:       48000,
		Channels:   2,
	})
	require.NoError(t, err)
	require.NotEmpty(t, handle)

	require.NoError(t, core.AttachPlaybackSession(1, 7, audiotypes.StreamTypeMusic))

	require.NoError(t, core.SetGroupVolume(audiotypes.VolumeGroupMusic, 0.6))
	vol, err := core.GetGroupVolume(audiotypes.VolumeGroupMusic)
	require.NoError(t, err)
	require.InDelta(t, 0.6, vol, 1e-9)

	require.NoError(t, core.CloseAudioPort(handle))
}

func TestActivateInterruptPausesMusicOnIncomingCall(t *testing.T) {
	core := newTestCore(t)

	var musicEvents []audiotypes.InterruptEvent
	core.RegisterFocusCallback(1, func(ev audiotypes.InterruptEvent) {
		musicEvents = append(musicEvents, ev)
	})
	musicFocus := audiotypes.AudioInterrupt{
		SessionID: 1,
		Focus:     audiotypes.FocusType{StreamType: audiotypes.StreamTypeMusic, IsPlay: true},
		Mode:      audiotypes.InterruptModeShare,
	}
	require.NoError(t, core.ActivateAudioInterrupt(musicFocus))

	core.RegisterFocusCallback(2, func(audiotypes.InterruptEvent) {})
	callFocus := audiotypes.AudioInterrupt{
		SessionID: 2,
		Focus:     audiotypes.FocusType{StreamType: audiotypes.StreamTypeVoiceCall, IsPlay: true},
		Mode:      audiotypes.InterruptModeIndependent,
	}
	require.NoError(t, core.ActivateAudioInterrupt(callFocus))
	require.NotEmpty(t, musicEvents)
	require.Equal(t, audiotypes.HintPause, musicEvents[0].Hint)

	require.NoError(t, core.DeactivateAudioInterrupt(callFocus))

	state, ok := core.Interrupt.FocusStateOf(1)
	require.True(t, ok)
	require.Equal(t, audiotypes.FocusActive, state)
}

func TestActivateInterruptDucksMusicVolume(t *testing.T) {
	core := newTestCore(t)

	require.NoError(t, core.SetGroupVolume(audiotypes.VolumeGroupMusic, 0.5))
	require.NoError(t, core.AttachPlaybackSession(1, 7, audiotypes.StreamTypeMusic))

	core.RegisterFocusCallback(1, func(audiotypes.InterruptEvent) {})
	musicFocus := audiotypes.AudioInterrupt{
		SessionID: 1,
		Focus:     audiotypes.FocusType{StreamType: audiotypes.StreamTypeMusic, IsPlay: true},
		Mode:      audiotypes.InterruptModeShare,
	}
	require.NoError(t, core.ActivateAudioInterrupt(musicFocus))

	indices, err := core.Daemon.SinkInputsOfType(audiotypes.StreamTypeMusic)
	require.NoError(t, err)
	require.Len(t, indices, 1)
	idx := indices[0]

	assistant := audiotypes.AudioInterrupt{
		SessionID: 3,
		Focus:     audiotypes.FocusType{StreamType: audiotypes.StreamTypeVoiceAssistant, IsPlay: true},
		Mode:      audiotypes.InterruptModeShare,
	}
	core.RegisterFocusCallback(3, func(audiotypes.InterruptEvent) {})
	require.NoError(t, core.ActivateAudioInterrupt(assistant))

	core.Daemon.mu.Lock()
	ducked := core.Daemon.sinkInputs[idx].volume
	core.Daemon.mu.Unlock()
	require.InDelta(t, 0.1, ducked, 1e-9)

	require.NoError(t, core.DeactivateAudioInterrupt(assistant))

	core.Daemon.mu.Lock()
	restored := core.Daemon.sinkInputs[idx].volume
	core.Daemon.mu.Unlock()
	require.InDelta(t, 0.5, restored, 1e-9)
}

func TestAttachAndDetachCaptureSessionTracksState(t *testing.T) {
	core := newTestCore(t)

	idx := core.AttachCaptureSession(9, 3)
	require.NotZero(t, idx)
	require.Len(t, core.Tracker.GetCurrentCapturerChangeInfos(), 1)

	core.DetachCaptureSession(9, idx)
	require.Empty(t, core.Tracker.GetCurrentCapturerChangeInfos())
}

func TestDeviceConnectedUpdatesRouterDevices(t *testing.T) {
	core := newTestCore(t)

	err := core.DeviceConnected(audiotypes.DeviceDescriptor{
		DeviceType: audiotypes.DeviceTypeWiredHeadset,
		Role:       audiotypes.DeviceRoleOutput,
		DeviceID:   1,
	})
	require.NoError(t, err)

	devices := core.GetDevices(audiotypes.DeviceFlagOutput)
	require.NotEmpty(t, devices)
}
