package routing

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kestrel-audio/audiocore/pkg/audiotypes"
)

type fakeDriver struct {
	mu sync.Mutex

	nextHandle   audiotypes.RouteHandle
	releasedSet  map[audiotypes.RouteHandle]bool
	defaultSink  string
	defaultSrc   string
	scenes       []audiotypes.AudioCategory
}

func newFakeDriver() *fakeDriver {
	return &fakeDriver{releasedSet: make(map[audiotypes.RouteHandle]bool)}
}

func (f *fakeDriver) UpdateAudioRoute(route audiotypes.AudioRoute) (audiotypes.RouteHandle, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextHandle++
	return f.nextHandle, nil
}
func (f *fakeDriver) ReleaseAudioRoute(handle audiotypes.RouteHandle) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.releasedSet[handle] = true
	return nil
}
func (f *fakeDriver) SetDefaultSink(name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.defaultSink = name
	return nil
}
func (f *fakeDriver) SetDefaultSource(name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.defaultSrc = name
	return nil
}
func (f *fakeDriver) SelectScene(category audiotypes.AudioCategory, pin string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.scenes = append(f.scenes, category)
	return nil
}

func speakerDevice() audiotypes.DeviceDescriptor {
	return audiotypes.DeviceDescriptor{DeviceType: audiotypes.DeviceTypeSpeaker, Role: audiotypes.DeviceRoleOutput}
}
func wiredHeadsetDevice() audiotypes.DeviceDescriptor {
	return audiotypes.DeviceDescriptor{DeviceType: audiotypes.DeviceTypeWiredHeadset, Role: audiotypes.DeviceRoleOutput}
}

func TestHotPlugWiredHeadsetOverSpeaker(t *testing.T) {
	driver := newFakeDriver()
	var changes []audiotypes.DeviceDescriptor
	r := New(driver, func(role audiotypes.DeviceRole, d audiotypes.DeviceDescriptor) { changes = append(changes, d) }, nil)

	require.NoError(t, r.DeviceConnected(speakerDevice()))
	require.Len(t, changes, 1)
	assert.Equal(t, audiotypes.DeviceTypeSpeaker, changes[0].DeviceType)

	require.NoError(t, r.DeviceConnected(wiredHeadsetDevice()))
	require.Len(t, changes, 2)
	assert.Equal(t, audiotypes.DeviceTypeWiredHeadset, changes[1].DeviceType)

	require.NoError(t, r.DeviceDisconnected(wiredHeadsetDevice()))
	require.Len(t, changes, 3)
	assert.Equal(t, audiotypes.DeviceTypeSpeaker, changes[2].DeviceType)
}

func TestExplicitSelectionSurvivesUntilDeviceGoesAway(t *testing.T) {
	driver := newFakeDriver()
	r := New(driver, nil, nil)

	require.NoError(t, r.DeviceConnected(speakerDevice()))
	require.NoError(t, r.DeviceConnected(wiredHeadsetDevice()))
	require.NoError(t, r.SelectOutputDevice(1, speakerDevice()))

	devices := r.GetDevices(audiotypes.DeviceFlagOutput)
	assert.Len(t, devices, 2)

	driver.mu.Lock()
	assert.Equal(t, "speaker_sink", driver.defaultSink)
	driver.mu.Unlock()

	require.NoError(t, r.DeviceDisconnected(speakerDevice()))
	driver.mu.Lock()
	assert.Equal(t, "wiredHeadset_sink", driver.defaultSink)
	driver.mu.Unlock()
}

func TestGetDevicesFiltersByFlag(t *testing.T) {
	driver := newFakeDriver()
	r := New(driver, nil, nil)
	require.NoError(t, r.DeviceConnected(speakerDevice()))
	require.NoError(t, r.DeviceConnected(audiotypes.DeviceDescriptor{DeviceType: audiotypes.DeviceTypeBuiltinMic, Role: audiotypes.DeviceRoleInput}))

	out := r.GetDevices(audiotypes.DeviceFlagOutput)
	require.Len(t, out, 1)
	assert.Equal(t, audiotypes.DeviceTypeSpeaker, out[0].DeviceType)

	in := r.GetDevices(audiotypes.DeviceFlagInput)
	require.Len(t, in, 1)
	assert.Equal(t, audiotypes.DeviceTypeBuiltinMic, in[0].DeviceType)
}

func TestSetAudioSceneAppliesDriverCategory(t *testing.T) {
	driver := newFakeDriver()
	r := New(driver, nil, nil)
	require.NoError(t, r.DeviceConnected(speakerDevice()))

	require.NoError(t, r.SetAudioScene(audiotypes.ScenePhoneCall))

	driver.mu.Lock()
	defer driver.mu.Unlock()
	require.Len(t, driver.scenes, 1)
	assert.Equal(t, audiotypes.CategoryInCall, driver.scenes[0])
}

func TestSetDeviceActiveForcesCategoryRegardlessOfFallback(t *testing.T) {
	driver := newFakeDriver()
	r := New(driver, nil, nil)
	require.NoError(t, r.DeviceConnected(speakerDevice()))
	require.NoError(t, r.DeviceConnected(wiredHeadsetDevice()))

	require.NoError(t, r.SetDeviceActive(audiotypes.ActiveDeviceSpeaker, true))

	driver.mu.Lock()
	defer driver.mu.Unlock()
	assert.Contains(t, driver.defaultSink, "speaker")
}
