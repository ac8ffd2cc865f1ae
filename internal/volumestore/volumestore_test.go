package volumestore

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kestrel-audio/audiocore/pkg/audiotypes"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(":memory:", nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestOpenFirstBootSeedsDefaults(t *testing.T) {
	s := openTestStore(t)

	vol, err := s.GetStreamVolume(audiotypes.StreamTypeMusic)
	require.NoError(t, err)
	assert.Equal(t, defaultVolume, vol)

	muted, err := s.GetStreamMute(audiotypes.StreamTypeMusic)
	require.NoError(t, err)
	assert.False(t, muted)

	mode, err := s.GetRingerMode()
	require.NoError(t, err)
	assert.Equal(t, audiotypes.RingerNormal, mode)

	assert.False(t, s.MicrophoneMuted())
}

func TestSetStreamVolumeRoundTrip(t *testing.T) {
	s := openTestStore(t)

	require.NoError(t, s.SetStreamVolume(audiotypes.StreamTypeMusic, 0.25))
	vol, err := s.GetStreamVolume(audiotypes.StreamTypeMusic)
	require.NoError(t, err)
	assert.InDelta(t, 0.25, vol, 0.0001)
}

func TestSetStreamVolumeClampsToUnitRange(t *testing.T) {
	s := openTestStore(t)

	require.NoError(t, s.SetStreamVolume(audiotypes.StreamTypeMusic, 1.5))
	vol, err := s.GetStreamVolume(audiotypes.StreamTypeMusic)
	require.NoError(t, err)
	assert.Equal(t, 1.0, vol)

	require.NoError(t, s.SetStreamVolume(audiotypes.StreamTypeMusic, -1))
	vol, err = s.GetStreamVolume(audiotypes.StreamTypeMusic)
	require.NoError(t, err)
	assert.Equal(t, 0.0, vol)
}

func TestStreamTypesShareVolumeGroup(t *testing.T) {
	s := openTestStore(t)

	require.NoError(t, s.SetStreamVolume(audiotypes.StreamTypeMedia, 0.7))
	vol, err := s.GetStreamVolume(audiotypes.StreamTypeMusic)
	require.NoError(t, err)
	assert.InDelta(t, 0.7, vol, 0.0001)
}

func TestSetStreamMuteIdempotent(t *testing.T) {
	s := openTestStore(t)

	require.NoError(t, s.SetStreamMute(audiotypes.StreamTypeRing, true))
	require.NoError(t, s.SetStreamMute(audiotypes.StreamTypeRing, true))

	muted, err := s.GetStreamMute(audiotypes.StreamTypeRing)
	require.NoError(t, err)
	assert.True(t, muted)
}

func TestSetRingerModeRestoresAcrossReads(t *testing.T) {
	s := openTestStore(t)

	require.NoError(t, s.SetRingerMode(audiotypes.RingerVibrate))
	mode, err := s.GetRingerMode()
	require.NoError(t, err)
	assert.Equal(t, audiotypes.RingerVibrate, mode)
}

func TestSetStreamVolumeAboveZeroClearsMute(t *testing.T) {
	s := openTestStore(t)

	require.NoError(t, s.SetStreamMute(audiotypes.StreamTypeMusic, true))
	require.NoError(t, s.SetStreamVolume(audiotypes.StreamTypeMusic, 0.4))

	muted, err := s.GetStreamMute(audiotypes.StreamTypeMusic)
	require.NoError(t, err)
	assert.False(t, muted)
}

func TestGetStreamVolumeMaskedByRingerModeWithoutMutatingStore(t *testing.T) {
	s := openTestStore(t)

	require.NoError(t, s.SetStreamVolume(audiotypes.StreamTypeRing, 0.8))
	require.NoError(t, s.SetRingerMode(audiotypes.RingerSilent))

	vol, err := s.GetStreamVolume(audiotypes.StreamTypeRing)
	require.NoError(t, err)
	assert.Equal(t, 0.0, vol)

	require.NoError(t, s.SetRingerMode(audiotypes.RingerNormal))
	vol, err = s.GetStreamVolume(audiotypes.StreamTypeRing)
	require.NoError(t, err)
	assert.InDelta(t, 0.8, vol, 0.0001)
}

func TestMicrophoneMuteRoundTrip(t *testing.T) {
	s := openTestStore(t)

	require.NoError(t, s.SetMicrophoneMute(true))
	assert.True(t, s.MicrophoneMuted())

	require.NoError(t, s.SetMicrophoneMute(false))
	assert.False(t, s.MicrophoneMuted())
}
