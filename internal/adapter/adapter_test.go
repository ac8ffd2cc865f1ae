package adapter

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestModuleArgsHDISink(t *testing.T) {
	cfg := ModuleConfig{
		Lib: LibHDISink, Name: "Speaker_File", Rate: 48000, Channels: 2,
		Format: "s16le", BufferSize: 8192,
	}
	args := ModuleArgs(cfg)
	assert.Contains(t, args, "rate=48000")
	assert.Contains(t, args, "channels=2")
	assert.Contains(t, args, "buffer_size=8192")
	assert.Contains(t, args, "sink_name=Speaker_File")
	assert.Contains(t, args, "network_id=LocalDevice")
}

func TestModuleArgsHDISinkWithNetworkID(t *testing.T) {
	cfg := ModuleConfig{Lib: LibHDISink, Name: "Remote_Sink", NetworkID: "device-42"}
	args := ModuleArgs(cfg)
	assert.Contains(t, args, "network_id=device-42")
}

func TestModuleArgsPipeSinkOnlyFile(t *testing.T) {
	cfg := ModuleConfig{Lib: LibPipeSink, FileName: "/tmp/out.raw", Rate: 48000}
	args := ModuleArgs(cfg)
	assert.Equal(t, "file=/tmp/out.raw", args)
}

type fakeOpener struct {
	openErr  error
	closeErr error
	opened   bool
	closed   bool
}

func (f *fakeOpener) Open(cfg ModuleConfig) error {
	f.opened = true
	return f.openErr
}
func (f *fakeOpener) Close() error {
	f.closed = true
	return f.closeErr
}

func TestOpenCloseRoundTripPreservesCount(t *testing.T) {
	r := NewRegistry(nil)
	before := r.Count()

	handle, err := r.OpenAudioPort(ModuleConfig{Lib: LibHDISink, Name: "Speaker_File"}, &fakeOpener{})
	require.NoError(t, err)
	assert.Equal(t, before+1, r.Count())

	require.NoError(t, r.CloseAudioPort(handle))
	assert.Equal(t, before, r.Count())
}

func TestOpenAudioPortRollsBackOnOpenerFailure(t *testing.T) {
	r := NewRegistry(nil)
	_, err := r.OpenAudioPort(ModuleConfig{Lib: LibHDISink}, &fakeOpener{openErr: errors.New("boom")})
	assert.Error(t, err)
	assert.Equal(t, 0, r.Count())
}

func TestCloseUnknownHandleIsInvalidHandle(t *testing.T) {
	r := NewRegistry(nil)
	err := r.CloseAudioPort(IoHandle("nonexistent"))
	assert.Error(t, err)
}
