// Package audiocore wires every subsystem package into the single
// process-wide context a daemon entrypoint constructs once and holds for
// its lifetime, the same role audiomanager.AudioManager plays for the
// teacher's peer/networking/encoderdecoder stack.
package audiocore

import (
	"log/slog"

	"github.com/kestrel-audio/audiocore/internal/adapter"
	"github.com/kestrel-audio/audiocore/internal/config"
	"github.com/kestrel-audio/audiocore/internal/interrupt"
	"github.com/kestrel-audio/audiocore/internal/routing"
	"github.com/kestrel-audio/audiocore/internal/serviceadapter"
	"github.com/kestrel-audio/audiocore/internal/streamtracker"
	"github.com/kestrel-audio/audiocore/internal/volumestore"
	"github.com/kestrel-audio/audiocore/pkg/audiotypes"
)

// volumeSourceFromStore satisfies serviceadapter.VolumeSource by reading
// the stream's volume out of the settings store through GetStreamVolume
// (0 for ringer-sensitive streams while the ringer mode is not normal), so the
// Service Adapter's subscribe callback needs no direct dependency on
// internal/volumestore's own interface shape.
type volumeSourceFromStore struct {
	store *volumestore.Store
}

func (v volumeSourceFromStore) GroupVolume(streamType audiotypes.StreamType) float64 {
	vol, err := v.store.GetStreamVolume(streamType)
	if err != nil {
		return 0
	}
	return vol
}

// Core owns every subsystem for the lifetime of the process: the
// persisted settings store, the adapter registry, the reference daemon
// standing in for the out-of-scope mixing core, the device router, the
// interrupt engine, the stream tracker, and the Service Adapter that
// glues the daemon's sink-input events back into policy.
type Core struct {
	logger *slog.Logger
	cfg    config.Config

	Store     *volumestore.Store
	Registry  *adapter.Registry
	Daemon    *referenceDaemon
	Router    *routing.Router
	Interrupt *interrupt.Engine
	Tracker   *streamtracker.Tracker
	Adapter   *serviceadapter.Adapter
}

// New constructs every subsystem in dependency order, leaving the Service
// Adapter Disconnected until Start, following the teacher's own load-config-then-construct
// shape (pkg/config.LoadConfig followed by one explicit wiring function),
// generalized here into a single in-process struct instead of
// cmd/signallingserver's package-level mux registration.
func New(cfg config.Config, logger *slog.Logger) (*Core, error) {
	if logger == nil {
		logger = slog.Default()
	}
	store, err := volumestore.Open(cfg.StorePath, logger)
	if err != nil {
		return nil, err
	}

	registry := adapter.NewRegistry(logger)
	daemon := newReferenceDaemon(cfg, store, registry, logger)

	tracker := streamtracker.New()
	interruptEngine := interrupt.New(logger)

	router := routing.New(daemon, func(role audiotypes.DeviceRole, d audiotypes.DeviceDescriptor) {
		logger.Info("active device changed", "role", role, "deviceType", d.DeviceType, "networkId", d.NetworkID)
	}, logger)

	volSource := volumeSourceFromStore{store: store}
	svcAdapter := serviceadapter.New(daemon, volSource, func(sessionID uint32) {
		tracker.RemoveSession(sessionID)
	}, logger)

	return &Core{
		logger:    logger,
		cfg:       cfg,
		Store:     store,
		Registry:  registry,
		Daemon:    daemon,
		Router:    router,
		Interrupt: interruptEngine,
		Tracker:   tracker,
		Adapter:   svcAdapter,
	}, nil
}

// Close releases everything that owns an OS resource: the live adapter
// connection and the settings store.
func (c *Core) Close() error {
	c.Adapter.Disconnect()
	return c.Store.Close()
}

// Start brings the Service Adapter's connection loop up through
// Adapter.Connect. It has no guard against repeat calls: each call starts
// another dispatch goroutine.
func (c *Core) Start() {
	c.Adapter.Connect()
}

// --------------------------------------------------------------------------
// Volume, mute, and ringer-mode control (spec.md §4.5), fronting
// internal/volumestore and pushing the new value out through the Service
// Adapter so every live sink input picks it up immediately.

// streamTypesInGroup walks the closed StreamType enumeration and returns
// every member of group, there being no group->members index in
// pkg/audiotypes (only the inverse VolumeGroupFor lookup).
func streamTypesInGroup(group audiotypes.VolumeGroup) []audiotypes.StreamType {
	var out []audiotypes.StreamType
	for st := audiotypes.StreamTypeDefault; st <= audiotypes.StreamTypeGame; st++ {
		if audiotypes.VolumeGroupFor(st) == group {
			out = append(out, st)
		}
	}
	return out
}

func (c *Core) SetGroupVolume(group audiotypes.VolumeGroup, vol float64) error {
	if err := c.Store.SetGroupVolume(group, vol); err != nil {
		return err
	}
	for _, t := range streamTypesInGroup(group) {
		if err := c.Adapter.SetVolume(t, vol); err != nil {
			return err
		}
	}
	return nil
}

func (c *Core) GetGroupVolume(group audiotypes.VolumeGroup) (float64, error) {
	return c.Store.GetGroupVolume(group)
}

func (c *Core) SetGroupMute(group audiotypes.VolumeGroup, muted bool) error {
	if err := c.Store.SetGroupMute(group, muted); err != nil {
		return err
	}
	for _, t := range streamTypesInGroup(group) {
		if err := c.Adapter.SetMute(t, muted); err != nil {
			return err
		}
	}
	return nil
}

func (c *Core) GetGroupMute(group audiotypes.VolumeGroup) (bool, error) {
	return c.Store.GetGroupMute(group)
}

func (c *Core) SetRingerMode(mode audiotypes.RingerMode) error {
	return c.Store.SetRingerMode(mode)
}

func (c *Core) GetRingerMode() (audiotypes.RingerMode, error) {
	return c.Store.GetRingerMode()
}

func (c *Core) SetMicrophoneMute(muted bool) error {
	return c.Store.SetMicrophoneMute(muted)
}

// --------------------------------------------------------------------------
// Interrupt arbitration (spec.md §4.6), delegated straight to
// internal/interrupt; Core's only job is to be the one place a caller
// reaches for it.

// RegisterFocusCallback wraps cb so a HintDuck/HintUnduck event also
// reaches the Service Adapter before cb sees it, making ducking reduce the
// session's actual driver volume instead of only reporting a state
// transition (spec.md §8 scenario 4).
func (c *Core) RegisterFocusCallback(sessionID uint32, cb interrupt.Callback) {
	c.Interrupt.SetCallback(sessionID, func(ev audiotypes.InterruptEvent) {
		if ev.Hint == audiotypes.HintDuck || ev.Hint == audiotypes.HintUnduck {
			if err := c.Adapter.ApplyDuck(sessionID, ev.DuckVolume); err != nil {
				c.logger.Warn("failed to apply duck volume", "sessionId", sessionID, "err", err)
			}
		}
		if cb != nil {
			cb(ev)
		}
	})
}

func (c *Core) UnregisterFocusCallback(sessionID uint32) {
	c.Interrupt.UnsetCallback(sessionID)
}

func (c *Core) ActivateAudioInterrupt(incoming audiotypes.AudioInterrupt) error {
	return c.Interrupt.ActivateAudioInterrupt(incoming)
}

func (c *Core) DeactivateAudioInterrupt(incoming audiotypes.AudioInterrupt) error {
	return c.Interrupt.DeactivateAudioInterrupt(incoming)
}

// --------------------------------------------------------------------------
// Device routing and scene selection (spec.md §4.4), delegated to
// internal/routing; SelectScene on the reference daemon fires as a side
// effect of SetAudioScene.

func (c *Core) DeviceConnected(d audiotypes.DeviceDescriptor) error {
	return c.Router.DeviceConnected(d)
}

func (c *Core) DeviceDisconnected(d audiotypes.DeviceDescriptor) error {
	return c.Router.DeviceDisconnected(d)
}

func (c *Core) GetDevices(flag audiotypes.DeviceFlag) []audiotypes.DeviceDescriptor {
	return c.Router.GetDevices(flag)
}

func (c *Core) SelectOutputDevice(sessionID uint32, device audiotypes.DeviceDescriptor) error {
	return c.Router.SelectOutputDevice(sessionID, device)
}

func (c *Core) SelectInputDevice(sessionID uint32, device audiotypes.DeviceDescriptor) error {
	return c.Router.SelectInputDevice(sessionID, device)
}

func (c *Core) SetDeviceActive(active audiotypes.ActiveDeviceType, on bool) error {
	return c.Router.SetDeviceActive(active, on)
}

func (c *Core) SetAudioScene(scene audiotypes.AudioScene) error {
	return c.Router.SetAudioScene(scene)
}

// --------------------------------------------------------------------------
// Stream state tracking (spec.md §4.7), delegated to internal/streamtracker.

func (c *Core) RegisterStreamTracker(info streamtracker.ChangeInfo, onChange streamtracker.TrackerCallback) uint32 {
	return c.Tracker.RegisterTracker(info, onChange)
}

func (c *Core) UnregisterStreamTracker(token uint32) {
	c.Tracker.Unregister(token)
}

// --------------------------------------------------------------------------
// Port and session lifecycle, bridging internal/adapter and the reference
// daemon's sink-input bookkeeping to the Service Adapter's dispatch loop.

func (c *Core) OpenAudioPort(cfg adapter.ModuleConfig) (adapter.IoHandle, error) {
	return c.Adapter.OpenAudioPort(cfg)
}

func (c *Core) CloseAudioPort(handle adapter.IoHandle) error {
	return c.Adapter.CloseAudioPort(handle)
}

func (c *Core) SuspendAudioDevice(portName string, suspend bool) error {
	return c.Adapter.SuspendAudioDevice(portName, suspend)
}

// AttachPlaybackSession simulates a client opening a renderer: it mints a
// sink input on the reference daemon, tells the Service Adapter about it
// so current policy volume/mute apply, and starts tracking the session.
func (c *Core) AttachPlaybackSession(sessionID uint32, clientUID uint32, streamType audiotypes.StreamType) error {
	idx := c.Daemon.registerSinkInput(streamType, false)
	if err := c.Adapter.HandleSinkInputNew(serviceadapter.SinkInputNewEvent{
		Index:        idx,
		StreamType:   streamType,
		VolumeFactor: 1.0,
		SessionID:    sessionID,
	}); err != nil {
		c.Daemon.removeSinkInput(idx)
		return err
	}
	c.Tracker.RegisterTracker(streamtracker.ChangeInfo{
		SessionID:     sessionID,
		ClientUID:     clientUID,
		Mode:          streamtracker.ModeRenderer,
		RendererState: audiotypes.RendererNew,
	}, nil)
	return nil
}

// DetachPlaybackSession is AttachPlaybackSession's inverse: the daemon
// forgets the sink input, which the Service Adapter's own sink-input-remove
// path reports back through onSessionRemoved into RemoveSession.
func (c *Core) DetachPlaybackSession(sinkInputIdx uint32) {
	c.Daemon.removeSinkInput(sinkInputIdx)
	c.Adapter.HandleSinkInputRemove(serviceadapter.SinkInputRemoveEvent{Index: sinkInputIdx})
}

// AttachCaptureSession mirrors AttachPlaybackSession for a capturer,
// without a Service Adapter leg since source outputs carry no per-input
// volume factor in this module's scope.
func (c *Core) AttachCaptureSession(sessionID uint32, clientUID uint32) uint32 {
	idx := c.Daemon.registerSourceOutput()
	c.Tracker.RegisterTracker(streamtracker.ChangeInfo{
		SessionID:     sessionID,
		ClientUID:     clientUID,
		Mode:          streamtracker.ModeCapturer,
		CapturerState: audiotypes.CapturerNew,
	}, nil)
	return idx
}

func (c *Core) DetachCaptureSession(sessionID uint32, sourceOutputIdx uint32) {
	c.Daemon.removeSourceOutput(sourceOutputIdx)
	c.Tracker.RemoveSession(sessionID)
}

func (c *Core) UpdateStreamState(clientUID uint32, action streamtracker.SetState, streamType audiotypes.StreamType, streamTypeOf func(uint32) audiotypes.StreamType) []uint32 {
	return c.Tracker.UpdateStreamState(clientUID, action, streamType, streamTypeOf)
}
