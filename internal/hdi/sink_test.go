package hdi

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kestrel-audio/audiocore/internal/localdriver"
	"github.com/kestrel-audio/audiocore/pkg/audiotypes"
)

type fakeMixer struct {
	chunk      []byte
	rewinds    []int
	unloadErrs []error
}

func (m *fakeMixer) RenderChunk(maxLen int) []byte {
	if len(m.chunk) > maxLen {
		return m.chunk[:maxLen]
	}
	return m.chunk
}
func (m *fakeMixer) Rewind(n int)              { m.rewinds = append(m.rewinds, n) }
func (m *fakeMixer) UnloadRequested(err error) { m.unloadErrs = append(m.unloadErrs, err) }

func testSpec() audiotypes.SampleSpec {
	return audiotypes.SampleSpec{SampleRate: 48000, ChannelCount: 2}
}

func TestSinkStartsSuspended(t *testing.T) {
	driver := localdriver.NewNullEndpoint()
	mixer := &fakeMixer{chunk: make([]byte, 256)}
	s, err := OpenPort("test-sink", driver, testSpec(), 20*time.Millisecond, mixer, nil)
	require.NoError(t, err)
	assert.Equal(t, StateSuspended, s.state)
}

func TestSinkRunsAndRendersChunks(t *testing.T) {
	driver := localdriver.NewNullEndpoint()
	mixer := &fakeMixer{chunk: make([]byte, 256)}
	s, err := OpenPort("test-sink", driver, testSpec(), 5*time.Millisecond, mixer, nil)
	require.NoError(t, err)

	require.NoError(t, s.SetStateInIoThread(StateRunning))
	time.Sleep(30 * time.Millisecond)
	require.NoError(t, s.SetStateInIoThread(StateUnlinked))

	assert.NotEmpty(t, driver.Rendered())
}

func TestSinkIllegalTransition(t *testing.T) {
	driver := localdriver.NewNullEndpoint()
	mixer := &fakeMixer{chunk: make([]byte, 256)}
	s, err := OpenPort("test-sink", driver, testSpec(), 5*time.Millisecond, mixer, nil)
	require.NoError(t, err)

	err = s.SetStateInIoThread(StateSuspended)
	assert.Error(t, err)
}

func TestSinkDropAccounting(t *testing.T) {
	driver := localdriver.NewNullEndpoint()
	driver.FailNext = 100
	mixer := &fakeMixer{chunk: make([]byte, 256)}
	s, err := OpenPort("test-sink", driver, testSpec(), 5*time.Millisecond, mixer, nil)
	require.NoError(t, err)

	require.NoError(t, s.SetStateInIoThread(StateRunning))
	time.Sleep(20 * time.Millisecond)
	require.NoError(t, s.SetStateInIoThread(StateUnlinked))

	assert.Empty(t, driver.Rendered())
	assert.Greater(t, s.BytesDropped(), int64(0))
}

func TestSinkTimestampMonotonic(t *testing.T) {
	driver := localdriver.NewNullEndpoint()
	mixer := &fakeMixer{chunk: make([]byte, 256)}
	s, err := OpenPort("test-sink", driver, testSpec(), 5*time.Millisecond, mixer, nil)
	require.NoError(t, err)

	require.NoError(t, s.SetStateInIoThread(StateRunning))
	time.Sleep(15 * time.Millisecond)

	s.mu.Lock()
	ts1 := s.timestamp
	s.mu.Unlock()

	time.Sleep(15 * time.Millisecond)

	s.mu.Lock()
	ts2 := s.timestamp
	s.mu.Unlock()

	require.NoError(t, s.SetStateInIoThread(StateUnlinked))
	assert.GreaterOrEqual(t, ts2, ts1)
}
