// Package serviceadapter is the thread-safe command pipe to the mixing
// daemon (spec.md §4.3): every caller-thread command is wrapped, submitted
// to a single dispatch goroutine that owns the daemon's object graph, and
// waited on synchronously — the same shape as
// mainloop.lock/submit/wait/unlock, realized here as a buffered operation
// channel plus a per-call response channel.
package serviceadapter

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/kestrel-audio/audiocore/internal/adapter"
	"github.com/kestrel-audio/audiocore/pkg/audioerr"
	"github.com/kestrel-audio/audiocore/pkg/audiotypes"
)

// ConnectionState is the Service Adapter's connection to the daemon.
type ConnectionState int

const (
	Disconnected ConnectionState = iota
	Connecting
	Ready
)

// OperationType names one daemon command.
type OperationType string

const (
	OpOpenAudioPort        OperationType = "open_audio_port"
	OpCloseAudioPort       OperationType = "close_audio_port"
	OpSuspendAudioDevice   OperationType = "suspend_audio_device"
	OpSetDefaultSink       OperationType = "set_default_sink"
	OpSetDefaultSource     OperationType = "set_default_source"
	OpSetVolume            OperationType = "set_volume"
	OpSetMute              OperationType = "set_mute"
	OpIsMute               OperationType = "is_mute"
	OpIsStreamActive       OperationType = "is_stream_active"
	OpMoveSinkInput        OperationType = "move_sink_input"
	OpMoveSourceOutput     OperationType = "move_source_output"
	OpApplyDuck            OperationType = "apply_duck"
)

// operation is one queued command plus the channel its result is delivered
// on.
type operation struct {
	Type OperationType
	Data any
	// Response is buffered (size 1) so the dispatch goroutine never
	// blocks writing it even if the caller has already given up.
	Response chan result
}

type result struct {
	Success bool
	Data    any
	Err     error
}

// Daemon is the mixing-daemon collaborator the Service Adapter actually
// drives — the concrete mixer core is out of scope (spec.md §1); this
// interface is the request/response contract at the boundary.
type Daemon interface {
	OpenAudioPort(cfg adapter.ModuleConfig) (adapter.IoHandle, error)
	CloseAudioPort(handle adapter.IoHandle) error
	SuspendAudioDevice(portName string, suspend bool) error
	SetDefaultSink(name string) error
	SetDefaultSource(name string) error
	// SetSinkInputVolume applies vol (already multiplied by the
	// sink-input's per-input factor) to one sink-input by index.
	SetSinkInputVolume(sinkInputIdx uint32, vol float64) error
	SetSinkInputMute(sinkInputIdx uint32, mute bool) error
	IsSinkInputMuted(sinkInputIdx uint32) (bool, error)
	// SinkInputsOfType lists the sink-input indices currently carrying
	// streamType, for SetVolume's per-input walk and IsStreamActive.
	SinkInputsOfType(streamType audiotypes.StreamType) ([]uint32, error)
	IsSinkInputCorked(sinkInputIdx uint32) (bool, error)
	MoveSinkInput(idx uint32, destSinkIndex uint32, destSinkName string) error
	MoveSourceOutput(idx uint32, destSourceIndex uint32, destSourceName string) error
}

// SinkInputNewEvent carries the proplist fields read on SINK_INPUT_NEW.
type SinkInputNewEvent struct {
	Index         uint32
	StreamType    audiotypes.StreamType
	VolumeFactor  float64
	SessionID     uint32
}

// SinkInputRemoveEvent carries the index that went away.
type SinkInputRemoveEvent struct {
	Index uint32
}

// VolumeSource supplies the current policy-group volume for a stream type,
// so the subscribe callback can apply it without a direct dependency on
// internal/volumestore.
type VolumeSource interface {
	GroupVolume(streamType audiotypes.StreamType) float64
}

// SessionRemovedFunc is invoked when a sink-input mapped to a sessionId
// disappears.
type SessionRemovedFunc func(sessionID uint32)

// Adapter is the Service Adapter: one dispatch goroutine owns the
// connection and the index<->sessionId map; every exported method submits
// an operation and blocks for its result.
type Adapter struct {
	logger *slog.Logger
	daemon Daemon
	volume VolumeSource

	operations chan operation
	stopChan   chan struct{}
	stopOnce   sync.Once

	stateMu sync.RWMutex
	state   ConnectionState

	// indexToSession is a copy-on-write snapshot: HandleSinkInputNew and
	// HandleSinkInputRemove install a fresh map on every change, and
	// readers take the snapshot's mutex only long enough to load the
	// current map; no read waits on the dispatch goroutine.
	indexToSession atomicSnapshot

	// factors tracks each live sink-input's per-input volume factor and
	// duck multiplier, so a later SetVolume or ApplyDuck call can
	// recompute groupVolume * perInputFactor * duckMultiplier instead of
	// discarding whichever of the two wasn't just supplied.
	factors factorSnapshot

	onSessionRemoved SessionRemovedFunc
}

// sinkInputFactor is the per-sink-input state applyVolumeToSinkInputs and
// applyDuckToSession multiply against the policy-group volume.
type sinkInputFactor struct {
	StreamType     audiotypes.StreamType
	VolumeFactor   float64
	DuckMultiplier float64
}

type factorSnapshot struct {
	mu   sync.Mutex
	snap map[uint32]sinkInputFactor
}

func (f *factorSnapshot) get(idx uint32) (sinkInputFactor, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	factor, ok := f.snap[idx]
	return factor, ok
}

func (f *factorSnapshot) put(idx uint32, factor sinkInputFactor) {
	f.mu.Lock()
	defer f.mu.Unlock()
	next := make(map[uint32]sinkInputFactor, len(f.snap)+1)
	for k, v := range f.snap {
		next[k] = v
	}
	next[idx] = factor
	f.snap = next
}

func (f *factorSnapshot) remove(idx uint32) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.snap[idx]; !ok {
		return
	}
	next := make(map[uint32]sinkInputFactor, len(f.snap))
	for k, v := range f.snap {
		if k != idx {
			next[k] = v
		}
	}
	f.snap = next
}

func (f *factorSnapshot) load() map[uint32]sinkInputFactor {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.snap
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

type atomicSnapshot struct {
	mu   sync.Mutex
	snap map[uint32]uint32
}

func (a *atomicSnapshot) load() map[uint32]uint32 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.snap
}

func (a *atomicSnapshot) put(idx, sessionID uint32) {
	a.mu.Lock()
	defer a.mu.Unlock()
	next := make(map[uint32]uint32, len(a.snap)+1)
	for k, v := range a.snap {
		next[k] = v
	}
	next[idx] = sessionID
	a.snap = next
}

func (a *atomicSnapshot) remove(idx uint32) (uint32, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	sessionID, ok := a.snap[idx]
	if !ok {
		return 0, false
	}
	next := make(map[uint32]uint32, len(a.snap))
	for k, v := range a.snap {
		if k != idx {
			next[k] = v
		}
	}
	a.snap = next
	return sessionID, true
}

// New returns an Adapter in the Disconnected state; call Connect to start
// the dispatch goroutine and begin the connection state machine.
func New(daemon Daemon, volume VolumeSource, onSessionRemoved SessionRemovedFunc, logger *slog.Logger) *Adapter {
	if logger == nil {
		logger = slog.Default()
	}
	return &Adapter{
		logger:           logger,
		daemon:           daemon,
		volume:           volume,
		operations:       make(chan operation, 64),
		stopChan:         make(chan struct{}),
		indexToSession:   atomicSnapshot{snap: make(map[uint32]uint32)},
		factors:          factorSnapshot{snap: make(map[uint32]sinkInputFactor)},
		onSessionRemoved: onSessionRemoved,
	}
}

// Connect starts the dispatch goroutine and the connecting→ready
// transition. With a nil daemon the attempt fails: after a 200ms back-off
// the state drops to Disconnected and no further attempt is made.
func (a *Adapter) Connect() {
	a.setState(Connecting)
	go a.dispatchLoop()
	go a.connectionLoop()
}

// Disconnect cancels any in-flight operations (they resolve with
// ErrIllegalState), stops the dispatch goroutine, and drops the connection
// state to Disconnected. Disconnect is the only way operations are
// canceled, per spec.md §5.
func (a *Adapter) Disconnect() {
	a.stopOnce.Do(func() { close(a.stopChan) })
	a.setState(Disconnected)
}

func (a *Adapter) State() ConnectionState {
	a.stateMu.RLock()
	defer a.stateMu.RUnlock()
	return a.state
}

func (a *Adapter) setState(s ConnectionState) {
	a.stateMu.Lock()
	a.state = s
	a.stateMu.Unlock()
}

// connectionLoop is a stand-in for the real context-state callback the
// daemon client library would invoke; it transitions Connecting→Ready
// immediately unless the daemon is nil (used by tests exercising the
// disconnected path).
func (a *Adapter) connectionLoop() {
	if a.daemon == nil {
		time.Sleep(200 * time.Millisecond)
		a.setState(Disconnected)
		return
	}
	a.setState(Ready)
}

func (a *Adapter) dispatchLoop() {
	for {
		select {
		case <-a.stopChan:
			return
		case op := <-a.operations:
			op.Response <- a.execute(op)
		}
	}
}

// submit enqueues op and blocks for its result. It returns ErrInvalidHandle
// immediately if the adapter is not Ready, and ErrIllegalState if the
// adapter is disconnected while op is queued or in flight (spec.md §5:
// "any in-flight command fails with ErrIllegalState").
func (a *Adapter) submit(opType OperationType, data any) (any, error) {
	if a.State() != Ready {
		return nil, audioerr.New(audioerr.KindInvalidHandle, string(opType), fmt.Errorf("service adapter not ready"))
	}

	op := operation{Type: opType, Data: data, Response: make(chan result, 1)}
	select {
	case a.operations <- op:
	case <-a.stopChan:
		return nil, audioerr.New(audioerr.KindIllegalState, string(opType), fmt.Errorf("disconnected"))
	}

	select {
	case res := <-op.Response:
		if !res.Success {
			return nil, res.Err
		}
		return res.Data, nil
	case <-a.stopChan:
		return nil, audioerr.New(audioerr.KindIllegalState, string(opType), fmt.Errorf("disconnected"))
	}
}

func (a *Adapter) execute(op operation) result {
	switch op.Type {
	case OpOpenAudioPort:
		cfg := op.Data.(adapter.ModuleConfig)
		h, err := a.daemon.OpenAudioPort(cfg)
		if err != nil {
			return result{Err: audioerr.New(audioerr.KindInvalidHandle, string(op.Type), err)}
		}
		return result{Success: true, Data: h}

	case OpCloseAudioPort:
		h := op.Data.(adapter.IoHandle)
		if err := a.daemon.CloseAudioPort(h); err != nil {
			return result{Err: audioerr.New(audioerr.KindOperationFailed, string(op.Type), err)}
		}
		return result{Success: true}

	case OpSuspendAudioDevice:
		d := op.Data.(suspendDeviceData)
		if err := a.daemon.SuspendAudioDevice(d.PortName, d.Suspend); err != nil {
			return result{Err: audioerr.New(audioerr.KindOperationFailed, string(op.Type), err)}
		}
		return result{Success: true}

	case OpSetDefaultSink:
		name := op.Data.(string)
		if err := a.daemon.SetDefaultSink(name); err != nil {
			return result{Err: audioerr.New(audioerr.KindOperationFailed, string(op.Type), err)}
		}
		return result{Success: true}

	case OpSetDefaultSource:
		name := op.Data.(string)
		if err := a.daemon.SetDefaultSource(name); err != nil {
			return result{Err: audioerr.New(audioerr.KindOperationFailed, string(op.Type), err)}
		}
		return result{Success: true}

	case OpSetVolume:
		d := op.Data.(setVolumeData)
		if err := a.applyVolumeToSinkInputs(d.StreamType, d.GroupVolume); err != nil {
			return result{Err: err}
		}
		return result{Success: true}

	case OpSetMute:
		d := op.Data.(setMuteData)
		indices, err := a.daemon.SinkInputsOfType(d.StreamType)
		if err != nil {
			return result{Err: audioerr.New(audioerr.KindOperationFailed, string(op.Type), err)}
		}
		for _, idx := range indices {
			if err := a.daemon.SetSinkInputMute(idx, d.Mute); err != nil {
				return result{Err: audioerr.New(audioerr.KindOperationFailed, string(op.Type), err)}
			}
		}
		return result{Success: true}

	case OpIsMute:
		streamType := op.Data.(audiotypes.StreamType)
		indices, err := a.daemon.SinkInputsOfType(streamType)
		if err != nil {
			return result{Err: audioerr.New(audioerr.KindOperationFailed, string(op.Type), err)}
		}
		for _, idx := range indices {
			muted, err := a.daemon.IsSinkInputMuted(idx)
			if err == nil && muted {
				return result{Success: true, Data: true}
			}
		}
		return result{Success: true, Data: false}

	case OpIsStreamActive:
		streamType := op.Data.(audiotypes.StreamType)
		indices, err := a.daemon.SinkInputsOfType(streamType)
		if err != nil {
			return result{Err: audioerr.New(audioerr.KindOperationFailed, string(op.Type), err)}
		}
		for _, idx := range indices {
			corked, err := a.daemon.IsSinkInputCorked(idx)
			if err == nil && !corked {
				return result{Success: true, Data: true}
			}
		}
		return result{Success: true, Data: false}

	case OpMoveSinkInput:
		d := op.Data.(moveSinkInputData)
		if err := a.daemon.MoveSinkInput(d.Index, d.DestSinkIndex, d.DestSinkName); err != nil {
			return result{Err: audioerr.New(audioerr.KindOperationFailed, string(op.Type), err)}
		}
		return result{Success: true}

	case OpMoveSourceOutput:
		d := op.Data.(moveSourceOutputData)
		if err := a.daemon.MoveSourceOutput(d.Index, d.DestSourceIndex, d.DestSourceName); err != nil {
			return result{Err: audioerr.New(audioerr.KindOperationFailed, string(op.Type), err)}
		}
		return result{Success: true}

	case OpApplyDuck:
		d := op.Data.(applyDuckData)
		if err := a.applyDuckToSession(d.SessionID, d.DuckMultiplier); err != nil {
			return result{Err: err}
		}
		return result{Success: true}

	default:
		return result{Err: audioerr.New(audioerr.KindInvalidOperation, string(op.Type), fmt.Errorf("unknown operation"))}
	}
}

// applyVolumeToSinkInputs walks every sink-input of streamType, setting
// clamp(groupVolume * perInputFactor * duckMultiplier, 0, 1), per spec.md
// §4.3's SetVolume contract. Runs on the dispatch goroutine.
func (a *Adapter) applyVolumeToSinkInputs(streamType audiotypes.StreamType, groupVolume float64) error {
	indices, err := a.daemon.SinkInputsOfType(streamType)
	if err != nil {
		return audioerr.New(audioerr.KindOperationFailed, string(OpSetVolume), err)
	}
	for _, idx := range indices {
		perInputFactor, duckMultiplier := 1.0, 1.0
		if f, ok := a.factors.get(idx); ok {
			perInputFactor = f.VolumeFactor
			duckMultiplier = f.DuckMultiplier
		}
		effective := clamp01(groupVolume * perInputFactor * duckMultiplier)
		if err := a.daemon.SetSinkInputVolume(idx, effective); err != nil {
			return audioerr.New(audioerr.KindOperationFailed, string(OpSetVolume), err)
		}
	}
	return nil
}

// applyDuckToSession sets duckMultiplier on every sink-input currently
// owned by sessionID and reapplies its effective volume immediately. A
// session with no live sink-input is a no-op, not an error: the interrupt
// engine's focus stack outlives session attach/detach.
func (a *Adapter) applyDuckToSession(sessionID uint32, duckMultiplier float64) error {
	for idx, sid := range a.indexToSession.load() {
		if sid != sessionID {
			continue
		}
		f, ok := a.factors.get(idx)
		if !ok {
			f = sinkInputFactor{VolumeFactor: 1.0}
		}
		f.DuckMultiplier = duckMultiplier
		a.factors.put(idx, f)

		if a.daemon == nil {
			continue
		}
		groupVolume := 1.0
		if a.volume != nil {
			groupVolume = a.volume.GroupVolume(f.StreamType)
		}
		effective := clamp01(groupVolume * f.VolumeFactor * f.DuckMultiplier)
		if err := a.daemon.SetSinkInputVolume(idx, effective); err != nil {
			return audioerr.New(audioerr.KindOperationFailed, string(OpApplyDuck), err)
		}
	}
	return nil
}

type suspendDeviceData struct {
	PortName string
	Suspend  bool
}
type setVolumeData struct {
	StreamType  audiotypes.StreamType
	GroupVolume float64
}
type setMuteData struct {
	StreamType audiotypes.StreamType
	Mute       bool
}
type moveSinkInputData struct {
	Index         uint32
	DestSinkIndex uint32
	DestSinkName  string
}
type moveSourceOutputData struct {
	Index           uint32
	DestSourceIndex uint32
	DestSourceName  string
}
type applyDuckData struct {
	SessionID      uint32
	DuckMultiplier float64
}

// OpenAudioPort submits OpOpenAudioPort and blocks for the resulting
// handle.
func (a *Adapter) OpenAudioPort(cfg adapter.ModuleConfig) (adapter.IoHandle, error) {
	data, err := a.submit(OpOpenAudioPort, cfg)
	if err != nil {
		return "", err
	}
	return data.(adapter.IoHandle), nil
}

func (a *Adapter) CloseAudioPort(handle adapter.IoHandle) error {
	_, err := a.submit(OpCloseAudioPort, handle)
	return err
}

func (a *Adapter) SuspendAudioDevice(portName string, suspend bool) error {
	_, err := a.submit(OpSuspendAudioDevice, suspendDeviceData{PortName: portName, Suspend: suspend})
	return err
}

func (a *Adapter) SetDefaultSink(name string) error {
	_, err := a.submit(OpSetDefaultSink, name)
	return err
}

func (a *Adapter) SetDefaultSource(name string) error {
	_, err := a.submit(OpSetDefaultSource, name)
	return err
}

// SetVolume applies groupVolume to every active sink-input of streamType.
func (a *Adapter) SetVolume(streamType audiotypes.StreamType, groupVolume float64) error {
	_, err := a.submit(OpSetVolume, setVolumeData{StreamType: streamType, GroupVolume: groupVolume})
	return err
}

func (a *Adapter) SetMute(streamType audiotypes.StreamType, mute bool) error {
	_, err := a.submit(OpSetMute, setMuteData{StreamType: streamType, Mute: mute})
	return err
}

func (a *Adapter) IsMute(streamType audiotypes.StreamType) (bool, error) {
	data, err := a.submit(OpIsMute, streamType)
	if err != nil {
		return false, err
	}
	return data.(bool), nil
}

func (a *Adapter) IsStreamActive(streamType audiotypes.StreamType) (bool, error) {
	data, err := a.submit(OpIsStreamActive, streamType)
	if err != nil {
		return false, err
	}
	return data.(bool), nil
}

func (a *Adapter) MoveSinkInput(idx, destSinkIndex uint32, destSinkName string) error {
	_, err := a.submit(OpMoveSinkInput, moveSinkInputData{Index: idx, DestSinkIndex: destSinkIndex, DestSinkName: destSinkName})
	return err
}

func (a *Adapter) MoveSourceOutput(idx, destSourceIndex uint32, destSourceName string) error {
	_, err := a.submit(OpMoveSourceOutput, moveSourceOutputData{Index: idx, DestSourceIndex: destSourceIndex, DestSourceName: destSourceName})
	return err
}

// ApplyDuck sets the duck multiplier for every sink-input owned by
// sessionID and reapplies its effective volume, the wiring point for
// interrupt.Engine's HintDuck/HintUnduck events (spec.md §8 scenario 4).
// duckMultiplier is 1.0 to fully restore.
func (a *Adapter) ApplyDuck(sessionID uint32, duckMultiplier float64) error {
	_, err := a.submit(OpApplyDuck, applyDuckData{SessionID: sessionID, DuckMultiplier: duckMultiplier})
	return err
}

// SessionForSinkInput reads the index→sessionId snapshot without going
// through the dispatch goroutine; the load holds the snapshot's mutex
// briefly.
func (a *Adapter) SessionForSinkInput(idx uint32) (uint32, bool) {
	sessionID, ok := a.indexToSession.load()[idx]
	return sessionID, ok
}

// HandleSinkInputNew is the daemon's SINK_INPUT_NEW subscribe callback.
// Per spec.md §4.3 it must apply the first SetVolume before returning, so
// the daemon can cork the new input until this call completes (spec.md
// §5's SINK_INPUT_NEW ordering guarantee).
func (a *Adapter) HandleSinkInputNew(ev SinkInputNewEvent) error {
	a.indexToSession.put(ev.Index, ev.SessionID)
	a.factors.put(ev.Index, sinkInputFactor{
		StreamType:     ev.StreamType,
		VolumeFactor:   ev.VolumeFactor,
		DuckMultiplier: 1.0,
	})

	groupVolume := 1.0
	if a.volume != nil {
		groupVolume = a.volume.GroupVolume(ev.StreamType)
	}
	effective := clamp01(groupVolume * ev.VolumeFactor)

	if a.daemon == nil {
		return nil
	}
	if err := a.daemon.SetSinkInputVolume(ev.Index, effective); err != nil {
		return audioerr.New(audioerr.KindOperationFailed, "Adapter.HandleSinkInputNew", err)
	}
	return nil
}

// HandleSinkInputRemove is the daemon's SINK_INPUT_REMOVE subscribe
// callback; it looks the sessionId up in the index map and fires
// onSessionRemoved exactly once.
func (a *Adapter) HandleSinkInputRemove(ev SinkInputRemoveEvent) {
	sessionID, ok := a.indexToSession.remove(ev.Index)
	a.factors.remove(ev.Index)
	if !ok {
		return
	}
	if a.onSessionRemoved != nil {
		a.onSessionRemoved(sessionID)
	}
}
