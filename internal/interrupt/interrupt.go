// Package interrupt implements audio focus arbitration: deciding, for each
// newly-activated stream, which already-active streams must duck, pause,
// stop, or reject it outright.
package interrupt

import (
	"log/slog"
	"sync"

	"github.com/kestrel-audio/audiocore/pkg/audioerr"
	"github.com/kestrel-audio/audiocore/pkg/audiotypes"
)

// ActionOn says which side of a policy pairing an entry's hint applies to.
type ActionOn int

const (
	ActionCurrent ActionOn = iota
	ActionIncoming
	ActionBoth
)

// FocusEntry is one policy-table cell: what happens when incoming activates
// while active already holds focus.
type FocusEntry struct {
	ForceType audiotypes.ForceType
	Hint      audiotypes.InterruptHint
	ActionOn  ActionOn
	IsReject  bool
	// DuckVolume is the multiplier applied to the ducked session's volume
	// when Hint == HintDuck.
	DuckVolume float64
}

// policyKey indexes the table by the two sides' focus priority tiers.
type policyKey struct {
	incoming audiotypes.FocusPriority
	active   audiotypes.FocusPriority
}

// policyTable is the static (incomingPriority, activePriority) → FocusEntry
// mapping. An incoming Critical stream is rejected while another Critical
// one is active, pauses High and Normal streams and stops Low ones. An
// incoming High stream is rejected while a Critical one is active, ducks
// High and Normal streams to 0.2 and pauses Low ones. An incoming Normal
// stream is rejected while a Critical or High one is active and pauses
// Normal and Low ones. An incoming Low stream shares focus with every tier.
var policyTable = map[policyKey]FocusEntry{
	{audiotypes.FocusPriorityCritical, audiotypes.FocusPriorityCritical}: {ForceType: audiotypes.ForceShare, Hint: audiotypes.HintNone, ActionOn: ActionBoth, IsReject: true},
	{audiotypes.FocusPriorityCritical, audiotypes.FocusPriorityHigh}:     {ForceType: audiotypes.ForceForce, Hint: audiotypes.HintPause, ActionOn: ActionCurrent},
	{audiotypes.FocusPriorityCritical, audiotypes.FocusPriorityNormal}:   {ForceType: audiotypes.ForceForce, Hint: audiotypes.HintPause, ActionOn: ActionCurrent},
	{audiotypes.FocusPriorityCritical, audiotypes.FocusPriorityLow}:      {ForceType: audiotypes.ForceForce, Hint: audiotypes.HintStop, ActionOn: ActionCurrent},

	{audiotypes.FocusPriorityHigh, audiotypes.FocusPriorityCritical}: {ForceType: audiotypes.ForceShare, Hint: audiotypes.HintNone, ActionOn: ActionBoth, IsReject: true},
	{audiotypes.FocusPriorityHigh, audiotypes.FocusPriorityHigh}:     {ForceType: audiotypes.ForceForce, Hint: audiotypes.HintDuck, ActionOn: ActionCurrent, DuckVolume: 0.2},
	{audiotypes.FocusPriorityHigh, audiotypes.FocusPriorityNormal}:   {ForceType: audiotypes.ForceForce, Hint: audiotypes.HintDuck, ActionOn: ActionCurrent, DuckVolume: 0.2},
	{audiotypes.FocusPriorityHigh, audiotypes.FocusPriorityLow}:      {ForceType: audiotypes.ForceForce, Hint: audiotypes.HintPause, ActionOn: ActionCurrent},

	{audiotypes.FocusPriorityNormal, audiotypes.FocusPriorityCritical}: {ForceType: audiotypes.ForceShare, Hint: audiotypes.HintNone, ActionOn: ActionBoth, IsReject: true},
	{audiotypes.FocusPriorityNormal, audiotypes.FocusPriorityHigh}:     {ForceType: audiotypes.ForceShare, Hint: audiotypes.HintNone, ActionOn: ActionBoth, IsReject: true},
	{audiotypes.FocusPriorityNormal, audiotypes.FocusPriorityNormal}:   {ForceType: audiotypes.ForceForce, Hint: audiotypes.HintPause, ActionOn: ActionCurrent},
	{audiotypes.FocusPriorityNormal, audiotypes.FocusPriorityLow}:      {ForceType: audiotypes.ForceForce, Hint: audiotypes.HintPause, ActionOn: ActionCurrent},

	{audiotypes.FocusPriorityLow, audiotypes.FocusPriorityCritical}: {ForceType: audiotypes.ForceShare, Hint: audiotypes.HintNone, ActionOn: ActionBoth},
	{audiotypes.FocusPriorityLow, audiotypes.FocusPriorityHigh}:     {ForceType: audiotypes.ForceShare, Hint: audiotypes.HintNone, ActionOn: ActionBoth},
	{audiotypes.FocusPriorityLow, audiotypes.FocusPriorityNormal}:   {ForceType: audiotypes.ForceShare, Hint: audiotypes.HintNone, ActionOn: ActionBoth},
	{audiotypes.FocusPriorityLow, audiotypes.FocusPriorityLow}:      {ForceType: audiotypes.ForceShare, Hint: audiotypes.HintNone, ActionOn: ActionBoth},
}

func lookupPolicy(incoming, active audiotypes.FocusPriority) FocusEntry {
	if entry, ok := policyTable[policyKey{incoming, active}]; ok {
		return entry
	}
	return FocusEntry{ForceType: audiotypes.ForceShare, Hint: audiotypes.HintNone, ActionOn: ActionBoth}
}

// activeSession is the bookkeeping the engine keeps per currently-active
// AudioInterrupt.
type activeSession struct {
	interrupt audiotypes.AudioInterrupt
	state     audiotypes.FocusState
	// displacedBy is the sessionId of the incoming activation that forced
	// this session into paused/ducked state, 0 if none — a FocusGraph
	// edge in the form spec.md §3 describes.
	displacedBy uint32
}

// Callback delivers one InterruptEvent to the owner of a sessionId.
type Callback func(event audiotypes.InterruptEvent)

// Engine is the Interrupt Arbitration Engine, spec.md §4.6.
type Engine struct {
	logger *slog.Logger

	mu        sync.Mutex
	callbacks map[uint32]Callback
	active    map[uint32]*activeSession

	// singleSlotOwner backs the older RequestAudioFocus/AbandonAudioFocus
	// pair.
	singleSlotOwner string
}

// New returns an empty Engine.
func New(logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		logger:    logger,
		callbacks: make(map[uint32]Callback),
		active:    make(map[uint32]*activeSession),
	}
}

// SetCallback registers the focus-event callback for sessionID. Must
// precede any Activate call from that session, per spec.md §4.6's ordering
// guarantee.
func (e *Engine) SetCallback(sessionID uint32, cb Callback) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.callbacks[sessionID] = cb
}

// UnsetCallback removes sessionID's callback. Any session still active is
// implicitly deactivated first.
func (e *Engine) UnsetCallback(sessionID uint32) {
	e.mu.Lock()
	a, ok := e.active[sessionID]
	e.mu.Unlock()
	if ok {
		_ = e.DeactivateAudioInterrupt(a.interrupt)
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.callbacks, sessionID)
	delete(e.active, sessionID)
}

// ActivateAudioInterrupt runs the policy table against every currently
// active session and either rejects incoming outright or applies the
// resulting hints, per spec.md §4.6.
func (e *Engine) ActivateAudioInterrupt(incoming audiotypes.AudioInterrupt) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if _, ok := e.callbacks[incoming.SessionID]; !ok {
		return audioerr.New(audioerr.KindInvalidOperation, "Engine.ActivateAudioInterrupt", nil)
	}

	incomingPriority := audiotypes.FocusPriorityFor(incoming.Focus.StreamType)

	for _, a := range e.active {
		activePriority := audiotypes.FocusPriorityFor(a.interrupt.Focus.StreamType)
		entry := lookupPolicy(incomingPriority, activePriority)
		if entry.IsReject && (entry.ActionOn == ActionIncoming || entry.ActionOn == ActionBoth) {
			return audioerr.New(audioerr.KindInvalidOperation, "Engine.ActivateAudioInterrupt", nil)
		}
	}

	for sessionID, a := range e.active {
		activePriority := audiotypes.FocusPriorityFor(a.interrupt.Focus.StreamType)
		entry := lookupPolicy(incomingPriority, activePriority)
		if entry.Hint == audiotypes.HintNone {
			continue
		}
		if entry.ActionOn != ActionCurrent && entry.ActionOn != ActionBoth {
			continue
		}

		switch entry.Hint {
		case audiotypes.HintPause:
			a.state = audiotypes.FocusPaused
			a.displacedBy = incoming.SessionID
		case audiotypes.HintStop:
			a.state = audiotypes.FocusStopped
			a.displacedBy = incoming.SessionID
		case audiotypes.HintDuck:
			a.state = audiotypes.FocusDucked
			a.displacedBy = incoming.SessionID
		}

		e.emit(sessionID, audiotypes.InterruptEvent{
			EventType:  audiotypes.InterruptBegin,
			ForceType:  entry.ForceType,
			Hint:       entry.Hint,
			DuckVolume: entry.DuckVolume,
		})
	}

	e.active[incoming.SessionID] = &activeSession{interrupt: incoming, state: audiotypes.FocusActive}
	return nil
}

// DeactivateAudioInterrupt removes incoming from the active set and
// restores every session it had displaced.
func (e *Engine) DeactivateAudioInterrupt(incoming audiotypes.AudioInterrupt) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if _, ok := e.active[incoming.SessionID]; !ok {
		return audioerr.New(audioerr.KindInvalidOperation, "Engine.DeactivateAudioInterrupt", nil)
	}
	delete(e.active, incoming.SessionID)

	for sessionID, a := range e.active {
		if a.displacedBy != incoming.SessionID {
			continue
		}
		hint := audiotypes.HintResume
		duckVolume := 0.0
		if a.state == audiotypes.FocusDucked {
			hint = audiotypes.HintUnduck
			duckVolume = 1.0
		}
		a.state = audiotypes.FocusActive
		a.displacedBy = 0
		e.emit(sessionID, audiotypes.InterruptEvent{
			EventType:  audiotypes.InterruptEnd,
			ForceType:  audiotypes.ForceShare,
			Hint:       hint,
			DuckVolume: duckVolume,
		})
	}
	return nil
}

func (e *Engine) emit(sessionID uint32, event audiotypes.InterruptEvent) {
	cb, ok := e.callbacks[sessionID]
	if !ok || cb == nil {
		return
	}
	cb(event)
}

// FocusStateOf returns the current focus state for an active session.
func (e *Engine) FocusStateOf(sessionID uint32) (audiotypes.FocusState, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	a, ok := e.active[sessionID]
	if !ok {
		return audiotypes.FocusActive, false
	}
	return a.state, true
}

// RequestAudioFocus is the older single-slot exclusive-focus variant: only
// one clientID may hold the slot at a time.
func (e *Engine) RequestAudioFocus(clientID string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.singleSlotOwner != "" && e.singleSlotOwner != clientID {
		return audioerr.New(audioerr.KindInvalidOperation, "Engine.RequestAudioFocus", nil)
	}
	e.singleSlotOwner = clientID
	return nil
}

// AbandonAudioFocus releases the single-slot focus if clientID holds it.
func (e *Engine) AbandonAudioFocus(clientID string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.singleSlotOwner != clientID {
		return audioerr.New(audioerr.KindInvalidOperation, "Engine.AbandonAudioFocus", nil)
	}
	e.singleSlotOwner = ""
	return nil
}
