package hdi

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kestrel-audio/audiocore/internal/localdriver"
)

type fakeSourceMixer struct {
	posted     [][]byte
	unloadErrs []error
}

func (m *fakeSourceMixer) PostCapturedChunk(buf []byte) {
	cp := append([]byte(nil), buf...)
	m.posted = append(m.posted, cp)
}
func (m *fakeSourceMixer) UnloadRequested(err error) { m.unloadErrs = append(m.unloadErrs, err) }

type fakeMicMute struct{ muted bool }

func (f fakeMicMute) MicrophoneMuted() bool { return f.muted }

func TestSourceRunsAndPostsChunks(t *testing.T) {
	driver := localdriver.NewNullEndpoint()
	mixer := &fakeSourceMixer{}
	s, err := OpenSourcePort("test-source", driver, testSpec(), 5*time.Millisecond, 256, mixer, fakeMicMute{}, nil)
	require.NoError(t, err)

	require.NoError(t, s.SetStateInIoThread(StateRunning))
	time.Sleep(30 * time.Millisecond)
	require.NoError(t, s.SetStateInIoThread(StateUnlinked))

	assert.NotEmpty(t, mixer.posted)
}

type muteRecordingDriver struct {
	*localdriver.NullEndpoint
	mutes []bool
}

func (d *muteRecordingDriver) SetMute(m bool) error {
	d.mutes = append(d.mutes, m)
	return d.NullEndpoint.SetMute(m)
}

func TestSourceAppliesMicMuteOnInit(t *testing.T) {
	driver := &muteRecordingDriver{NullEndpoint: localdriver.NewNullEndpoint()}
	mixer := &fakeSourceMixer{}
	s, err := OpenSourcePort("test-source", driver, testSpec(), 5*time.Millisecond, 256, mixer, fakeMicMute{muted: true}, nil)
	require.NoError(t, err)

	require.NoError(t, s.SetStateInIoThread(StateRunning))
	time.Sleep(5 * time.Millisecond)
	require.NoError(t, s.SetStateInIoThread(StateUnlinked))

	assert.Equal(t, []bool{true}, driver.mutes)
}

func TestSourceIllegalTransition(t *testing.T) {
	driver := localdriver.NewNullEndpoint()
	mixer := &fakeSourceMixer{}
	s, err := OpenSourcePort("test-source", driver, testSpec(), 5*time.Millisecond, 256, mixer, nil, nil)
	require.NoError(t, err)

	err = s.SetStateInIoThread(StateSuspended)
	assert.Error(t, err)
}
