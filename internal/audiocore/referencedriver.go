package audiocore

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/pion/webrtc/v4"

	"github.com/kestrel-audio/audiocore/internal/adapter"
	"github.com/kestrel-audio/audiocore/internal/config"
	"github.com/kestrel-audio/audiocore/internal/distributed"
	"github.com/kestrel-audio/audiocore/internal/hai"
	"github.com/kestrel-audio/audiocore/internal/hdi"
	"github.com/kestrel-audio/audiocore/internal/localdriver"
	"github.com/kestrel-audio/audiocore/internal/volumestore"
	"github.com/kestrel-audio/audiocore/pkg/audioerr"
	"github.com/kestrel-audio/audiocore/pkg/audiotypes"
)

// passthroughMixer is the minimal hdi.Mixer a reference daemon can offer a
// Sink without the real mixing-core graph this module treats as out of
// scope: it hands the timing engine silence, the same role NullEndpoint
// plays on the driver side of the same boundary.
type passthroughMixer struct {
	logger *slog.Logger
}

func (m *passthroughMixer) RenderChunk(maxLen int) []byte { return make([]byte, maxLen) }
func (m *passthroughMixer) Rewind(nBytes int)             {}
func (m *passthroughMixer) UnloadRequested(err error) {
	m.logger.Warn("sink unload requested", "err", err)
}

type passthroughSourceMixer struct {
	logger *slog.Logger
}

func (m *passthroughSourceMixer) PostCapturedChunk(buf []byte) {}
func (m *passthroughSourceMixer) UnloadRequested(err error) {
	m.logger.Warn("source unload requested", "err", err)
}

// portOpener is the adapter.Opener that brings up a ModuleInstance's real
// IO: a hai.DriverEndpoint plus the matching HDI timing engine, selected
// from cfg.DeviceType the way AudioAdapterManager's LoadAdapter/CreatePort
// switch does in original_source.
type portOpener struct {
	daemon *referenceDaemon
	cfg    adapter.ModuleConfig

	sink   *hdi.Sink
	source *hdi.Source
}

func (o *portOpener) Open(cfg adapter.ModuleConfig) error {
	role := audiotypes.DeviceRoleOutput
	switch cfg.Lib {
	case adapter.LibHDISource, adapter.LibPipeSource:
		role = audiotypes.DeviceRoleInput
	}

	spec := o.daemon.sampleSpec(cfg)
	driver, err := o.daemon.newDriverEndpoint(cfg, role, spec)
	if err != nil {
		return err
	}

	blockUsec := o.daemon.blockUsec
	logger := o.daemon.logger.With("port", cfg.Name)

	if role == audiotypes.DeviceRoleOutput {
		sink, err := hdi.OpenPort(cfg.Name, driver, spec, blockUsec, &passthroughMixer{logger: logger}, logger)
		if err != nil {
			return err
		}
		if err := sink.SetStateInIoThread(hdi.StateRunning); err != nil {
			sink.Close()
			return err
		}
		o.sink = sink
		return nil
	}

	source, err := hdi.OpenSourcePort(cfg.Name, driver, spec, blockUsec, int(spec.Period), &passthroughSourceMixer{logger: logger}, o.daemon.store, logger)
	if err != nil {
		return err
	}
	if err := source.SetStateInIoThread(hdi.StateRunning); err != nil {
		source.Close()
		return err
	}
	o.source = source
	return nil
}

func (o *portOpener) Close() error {
	if o.sink != nil {
		return o.sink.Close()
	}
	if o.source != nil {
		return o.source.Close()
	}
	return nil
}

func (o *portOpener) suspend(suspend bool) error {
	state := hdi.StateRunning
	if suspend {
		state = hdi.StateSuspended
	}
	if o.sink != nil {
		return o.sink.SetStateInIoThread(state)
	}
	if o.source != nil {
		return o.source.SetStateInIoThread(state)
	}
	return nil
}

// sinkInputState is the bookkeeping the Service Adapter needs for one
// playback stream multiplexed onto a sink; the actual per-stream audio
// mixing is the out-of-scope mixing-core graph, so this records state
// rather than moving samples.
type sinkInputState struct {
	streamType audiotypes.StreamType
	volume     float64
	muted      bool
	corked     bool
	sinkName   string
}

type sourceOutputState struct {
	sourceName string
}

// referenceDaemon implements serviceadapter.Daemon and routing.RouteDriver
// on top of internal/adapter and internal/hdi, standing in for the real
// mixing daemon this module treats as out of scope per spec.md §1 — the
// same role internal/localdriver plays for the vendor HAI.
type referenceDaemon struct {
	logger *slog.Logger
	cfg    config.Config
	store  *volumestore.Store

	registry  *adapter.Registry
	blockUsec time.Duration

	mu             sync.Mutex
	openersByName  map[string]*portOpener
	defaultSink    string
	defaultSource  string
	sinkInputs     map[uint32]*sinkInputState
	sourceOutputs  map[uint32]*sourceOutputState
	nextSinkInput  uint32
	nextSourceOut  uint32
	nextRouteHandl audiotypes.RouteHandle
}

func newReferenceDaemon(cfg config.Config, store *volumestore.Store, registry *adapter.Registry, logger *slog.Logger) *referenceDaemon {
	return &referenceDaemon{
		logger:        logger,
		cfg:           cfg,
		store:         store,
		registry:      registry,
		blockUsec:     20 * time.Millisecond,
		openersByName: make(map[string]*portOpener),
		sinkInputs:    make(map[uint32]*sinkInputState),
		sourceOutputs: make(map[uint32]*sourceOutputState),
	}
}

func (d *referenceDaemon) sampleSpec(cfg adapter.ModuleConfig) audiotypes.SampleSpec {
	rate := cfg.Rate
	if rate == 0 {
		rate = d.cfg.SampleRate
	}
	channels := cfg.Channels
	if channels == 0 {
		channels = d.cfg.Channels
	}
	bufSize := cfg.BufferSize
	if bufSize == 0 {
		bufSize = d.cfg.BufferSize
	}
	return audiotypes.SampleSpec{
		Format:       audiotypes.SampleFormatS16LE,
		SampleRate:   rate,
		ChannelCount: channels,
		Period:       bufSize,
		IsSignedData: true,
		Interleaved:  true,
	}
}

// newDriverEndpoint loads the hai.DriverEndpoint named by cfg.DeviceType,
// generalizing AudioAdapterManager::LoadAdapter's lib-name switch to this
// module's dev/test-only local drivers plus the distributed transport.
func (d *referenceDaemon) newDriverEndpoint(cfg adapter.ModuleConfig, role audiotypes.DeviceRole, spec audiotypes.SampleSpec) (hai.DriverEndpoint, error) {
	switch cfg.DeviceType {
	case "", "null":
		return localdriver.NewNullEndpoint(), nil
	case "speaker":
		return localdriver.NewPortAudioOutput(spec)
	case "builtin_mic":
		return localdriver.NewPortAudioInput(spec)
	case "file":
		if role == audiotypes.DeviceRoleOutput {
			return localdriver.NewWAVFileOutput(cfg.FileName, spec)
		}
		return localdriver.NewWAVFileInput(cfg.FileName, spec)
	case "distributed":
		if d.cfg.DistributedSignalBaseURL == "" {
			return nil, audioerr.New(audioerr.KindDeviceInit, "referenceDaemon.newDriverEndpoint", fmt.Errorf("distributed device requested but no signal base url configured"))
		}
		offerURL := d.cfg.DistributedSignalBaseURL + "/distributed/offer"
		return distributed.Dial(context.Background(), webrtc.Configuration{}, cfg.NetworkID, offerURL, role, spec, d.logger)
	default:
		return nil, audioerr.New(audioerr.KindInvalidParam, "referenceDaemon.newDriverEndpoint", fmt.Errorf("unknown device type %q", cfg.DeviceType))
	}
}

// --------------------------------------------------------------------------
// serviceadapter.Daemon

func (d *referenceDaemon) OpenAudioPort(cfg adapter.ModuleConfig) (adapter.IoHandle, error) {
	if d.cfg.TestModeOn {
		cfg.TestModeOn = true
	}
	opener := &portOpener{daemon: d, cfg: cfg}
	handle, err := d.registry.OpenAudioPort(cfg, opener)
	if err != nil {
		return "", err
	}
	d.mu.Lock()
	d.openersByName[cfg.Name] = opener
	d.mu.Unlock()
	return handle, nil
}

func (d *referenceDaemon) CloseAudioPort(handle adapter.IoHandle) error {
	mod, ok := d.registry.Get(handle)
	if ok {
		d.mu.Lock()
		delete(d.openersByName, mod.Config.Name)
		d.mu.Unlock()
	}
	return d.registry.CloseAudioPort(handle)
}

func (d *referenceDaemon) SuspendAudioDevice(portName string, suspend bool) error {
	d.mu.Lock()
	opener, ok := d.openersByName[portName]
	d.mu.Unlock()
	if !ok {
		return audioerr.New(audioerr.KindInvalidHandle, "referenceDaemon.SuspendAudioDevice", fmt.Errorf("unknown port %q", portName))
	}
	return opener.suspend(suspend)
}

func (d *referenceDaemon) SetDefaultSink(name string) error {
	d.mu.Lock()
	d.defaultSink = name
	d.mu.Unlock()
	d.logger.Info("default sink changed", "name", name)
	return nil
}

func (d *referenceDaemon) SetDefaultSource(name string) error {
	d.mu.Lock()
	d.defaultSource = name
	d.mu.Unlock()
	d.logger.Info("default source changed", "name", name)
	return nil
}

func (d *referenceDaemon) SetSinkInputVolume(sinkInputIdx uint32, vol float64) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	si, ok := d.sinkInputs[sinkInputIdx]
	if !ok {
		return audioerr.New(audioerr.KindInvalidHandle, "referenceDaemon.SetSinkInputVolume", nil)
	}
	si.volume = vol
	return nil
}

func (d *referenceDaemon) SetSinkInputMute(sinkInputIdx uint32, mute bool) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	si, ok := d.sinkInputs[sinkInputIdx]
	if !ok {
		return audioerr.New(audioerr.KindInvalidHandle, "referenceDaemon.SetSinkInputMute", nil)
	}
	si.muted = mute
	return nil
}

func (d *referenceDaemon) IsSinkInputMuted(sinkInputIdx uint32) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	si, ok := d.sinkInputs[sinkInputIdx]
	if !ok {
		return false, audioerr.New(audioerr.KindInvalidHandle, "referenceDaemon.IsSinkInputMuted", nil)
	}
	return si.muted, nil
}

func (d *referenceDaemon) SinkInputsOfType(streamType audiotypes.StreamType) ([]uint32, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	var out []uint32
	for idx, si := range d.sinkInputs {
		if si.streamType == streamType {
			out = append(out, idx)
		}
	}
	return out, nil
}

func (d *referenceDaemon) IsSinkInputCorked(sinkInputIdx uint32) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	si, ok := d.sinkInputs[sinkInputIdx]
	if !ok {
		return false, audioerr.New(audioerr.KindInvalidHandle, "referenceDaemon.IsSinkInputCorked", nil)
	}
	return si.corked, nil
}

func (d *referenceDaemon) MoveSinkInput(idx uint32, destSinkIndex uint32, destSinkName string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	si, ok := d.sinkInputs[idx]
	if !ok {
		return audioerr.New(audioerr.KindInvalidHandle, "referenceDaemon.MoveSinkInput", nil)
	}
	si.sinkName = destSinkName
	return nil
}

func (d *referenceDaemon) MoveSourceOutput(idx uint32, destSourceIndex uint32, destSourceName string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	so, ok := d.sourceOutputs[idx]
	if !ok {
		return audioerr.New(audioerr.KindInvalidHandle, "referenceDaemon.MoveSourceOutput", nil)
	}
	so.sourceName = destSourceName
	return nil
}

// registerSinkInput simulates the mixing daemon's SINK_INPUT_NEW event,
// since no real per-application renderer client is wired into this module
// (spec.md §1 keeps those external). Exposed to Core for dev/test
// playback-session setup.
func (d *referenceDaemon) registerSinkInput(streamType audiotypes.StreamType, corked bool) uint32 {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.nextSinkInput++
	idx := d.nextSinkInput
	d.sinkInputs[idx] = &sinkInputState{streamType: streamType, volume: 1.0, corked: corked, sinkName: d.defaultSink}
	return idx
}

func (d *referenceDaemon) removeSinkInput(idx uint32) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.sinkInputs, idx)
}

func (d *referenceDaemon) setSinkInputCorked(idx uint32, corked bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if si, ok := d.sinkInputs[idx]; ok {
		si.corked = corked
	}
}

// registerSourceOutput is registerSinkInput's capture-side counterpart,
// simulating the mixing daemon's SOURCE_OUTPUT_NEW event for a capture
// session attaching to the default source.
func (d *referenceDaemon) registerSourceOutput() uint32 {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.nextSourceOut++
	idx := d.nextSourceOut
	d.sourceOutputs[idx] = &sourceOutputState{sourceName: d.defaultSource}
	return idx
}

func (d *referenceDaemon) removeSourceOutput(idx uint32) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.sourceOutputs, idx)
}

// --------------------------------------------------------------------------
// routing.RouteDriver — the reference daemon owns no real route table, so
// it mints an opaque incrementing handle and logs, the same stand-in role
// fakeDriver plays in internal/routing's own tests.

func (d *referenceDaemon) UpdateAudioRoute(route audiotypes.AudioRoute) (audiotypes.RouteHandle, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.nextRouteHandl++
	d.logger.Info("route updated", "handle", d.nextRouteHandl, "sink pin", route.Sink.PinType, "source pin", route.Source.PinType)
	return d.nextRouteHandl, nil
}

func (d *referenceDaemon) ReleaseAudioRoute(handle audiotypes.RouteHandle) error {
	d.logger.Info("route released", "handle", handle)
	return nil
}

func (d *referenceDaemon) SelectScene(category audiotypes.AudioCategory, pin string) error {
	d.logger.Info("scene selected", "category", category, "pin", pin)
	return nil
}
