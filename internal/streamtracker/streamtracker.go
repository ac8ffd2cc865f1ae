// Package streamtracker maintains the sessionId → StreamChangeInfo table
// and fans out renderer/capturer state-change callbacks to every
// registered listener, per spec.md §4.7.
package streamtracker

import (
	"sync"

	"github.com/kestrel-audio/audiocore/pkg/audioerr"
	"github.com/kestrel-audio/audiocore/pkg/audiotypes"
)

// Mode distinguishes a renderer-side registration from a capturer-side
// one.
type Mode int

const (
	ModeRenderer Mode = iota
	ModeCapturer
)

// ChangeInfo is one session's tracked state, spec.md §4.7.
type ChangeInfo struct {
	SessionID     uint32
	ClientUID     uint32
	TokenID       uint64
	Mode          Mode
	RendererState audiotypes.RendererState
	CapturerState audiotypes.CapturerState
	OutputDevice  audiotypes.DeviceDescriptor
	InputDevice   audiotypes.DeviceDescriptor
}

// TrackerCallback is notified whenever a tracked session's state
// transitions.
type TrackerCallback func(info ChangeInfo)

// listener pairs a callback with the integer token used to remove it,
// mirroring the teacher's splice-remove InputListener list.
type listener struct {
	id uint32
	cb TrackerCallback
}

// Tracker is the Stream Tracker, spec.md §4.7.
type Tracker struct {
	mu        sync.Mutex
	sessions  map[uint32]ChangeInfo
	listeners []listener
	nextID    uint32
}

// New returns an empty Tracker.
func New() *Tracker {
	return &Tracker{sessions: make(map[uint32]ChangeInfo)}
}

// RegisterTracker inserts info (keyed by info.SessionID, itself derived
// from the sink-input index via the Service Adapter subscribe path) and
// registers cb for future state-change notifications, returning a token
// for Unregister.
func (t *Tracker) RegisterTracker(info ChangeInfo, cb TrackerCallback) uint32 {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.sessions[info.SessionID] = info

	t.nextID++
	id := t.nextID
	if cb != nil {
		t.listeners = append(t.listeners, listener{id: id, cb: cb})
	}
	return id
}

// Unregister removes the listener registered under token, leaving the
// session's ChangeInfo in the table (it is removed separately when the
// client detaches).
func (t *Tracker) Unregister(token uint32) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for i, l := range t.listeners {
		if l.id == token {
			t.listeners = append(t.listeners[:i], t.listeners[i+1:]...)
			return
		}
	}
}

// RemoveSession deletes sessionID's ChangeInfo on client detach.
func (t *Tracker) RemoveSession(sessionID uint32) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.sessions, sessionID)
}

// UpdateTracker applies a state-only update to an existing session and
// fans the new ChangeInfo out to every registered listener.
func (t *Tracker) UpdateTracker(sessionID uint32, rendererState audiotypes.RendererState, capturerState audiotypes.CapturerState) error {
	t.mu.Lock()
	info, ok := t.sessions[sessionID]
	if !ok {
		t.mu.Unlock()
		return audioerr.New(audioerr.KindInvalidHandle, "Tracker.UpdateTracker", nil)
	}
	if info.Mode == ModeRenderer {
		info.RendererState = rendererState
	} else {
		info.CapturerState = capturerState
	}
	t.sessions[sessionID] = info
	cbs := t.snapshotCallbacksLocked()
	t.mu.Unlock()

	for _, cb := range cbs {
		cb(info)
	}
	return nil
}

func (t *Tracker) snapshotCallbacksLocked() []TrackerCallback {
	cbs := make([]TrackerCallback, len(t.listeners))
	for i, l := range t.listeners {
		cbs[i] = l.cb
	}
	return cbs
}

// GetCurrentRendererChangeInfos returns a snapshot of every renderer-mode
// session.
func (t *Tracker) GetCurrentRendererChangeInfos() []ChangeInfo {
	t.mu.Lock()
	defer t.mu.Unlock()
	var out []ChangeInfo
	for _, info := range t.sessions {
		if info.Mode == ModeRenderer {
			out = append(out, info)
		}
	}
	return out
}

// GetCurrentCapturerChangeInfos returns a snapshot of every capturer-mode
// session.
func (t *Tracker) GetCurrentCapturerChangeInfos() []ChangeInfo {
	t.mu.Lock()
	defer t.mu.Unlock()
	var out []ChangeInfo
	for _, info := range t.sessions {
		if info.Mode == ModeCapturer {
			out = append(out, info)
		}
	}
	return out
}

// SetState is the action UpdateStreamState applies to a matching session.
type SetState int

const (
	SetStatePause SetState = iota
	SetStateResume
)

// UpdateStreamState is the admin stop/resume path used by power/UX layers:
// every session owned by uid with the given streamType is paused or
// resumed.
func (t *Tracker) UpdateStreamState(uid uint32, action SetState, streamType audiotypes.StreamType, streamTypeOf func(sessionID uint32) audiotypes.StreamType) []uint32 {
	t.mu.Lock()
	defer t.mu.Unlock()

	var affected []uint32
	for sessionID, info := range t.sessions {
		if info.ClientUID != uid || info.Mode != ModeRenderer {
			continue
		}
		if streamTypeOf != nil && streamTypeOf(sessionID) != streamType {
			continue
		}
		if action == SetStatePause {
			info.RendererState = audiotypes.RendererPaused
		} else {
			info.RendererState = audiotypes.RendererRunning
		}
		t.sessions[sessionID] = info
		affected = append(affected, sessionID)
	}
	return affected
}
