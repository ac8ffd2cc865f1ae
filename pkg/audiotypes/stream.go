package audiotypes

// SampleFormat names a PCM sample encoding exchanged with the driver.
type SampleFormat int

const (
	SampleFormatS16LE SampleFormat = iota
	SampleFormatS24LE
	SampleFormatS32LE
	SampleFormatF32LE
)

// SampleSpec describes the PCM layout a render/capture endpoint was opened
// with, and the attributes passed to DriverEndpoint at createRender /
// createCapture time.
type SampleSpec struct {
	Format           SampleFormat
	SampleRate       uint32
	ChannelCount     uint32
	Period           uint32
	FrameSize        uint32
	Interleaved      bool
	IsBigEndian      bool
	IsSignedData     bool
	StartThreshold   uint32
	StopThreshold    uint32
	SilenceThreshold uint32
	StreamID         uint32
	Type             StreamType
}

// RendererState is the lifecycle of an active playback StreamSession.
type RendererState int

const (
	RendererNew RendererState = iota
	RendererPrepared
	RendererRunning
	RendererPaused
	RendererStopped
	RendererReleased
)

// CapturerState is the lifecycle of an active capture StreamSession.
type CapturerState int

const (
	CapturerNew CapturerState = iota
	CapturerPrepared
	CapturerRunning
	CapturerPaused
	CapturerStopped
	CapturerReleased
)

// FocusState is a session's standing with respect to the interrupt engine.
type FocusState int

const (
	FocusActive FocusState = iota
	FocusDucked
	FocusPaused
	FocusStopped
)

func (f FocusState) String() string {
	switch f {
	case FocusActive:
		return "active"
	case FocusDucked:
		return "ducked"
	case FocusPaused:
		return "paused"
	case FocusStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// RingerMode is the user-facing mode overriding ring-family effective
// volume.
type RingerMode int

const (
	RingerNormal RingerMode = iota
	RingerSilent
	RingerVibrate
)

func (m RingerMode) String() string {
	switch m {
	case RingerSilent:
		return "silent"
	case RingerVibrate:
		return "vibrate"
	default:
		return "normal"
	}
}

// FocusType identifies the kind of focus a stream is requesting, used as
// both the incoming key and the active-session key in the interrupt
// engine's policy table.
type FocusType struct {
	StreamType StreamType
	SourceType StreamType
	IsPlay     bool
}

// InterruptMode selects whether concurrent sessions of the same
// FocusType share or hold focus independently.
type InterruptMode int

const (
	InterruptModeShare InterruptMode = iota
	InterruptModeIndependent
)

// AudioInterrupt is the record a client registers before requesting focus.
type AudioInterrupt struct {
	StreamUsage     string
	ContentType     string
	Focus           FocusType
	SessionID       uint32
	PauseWhenDucked bool
	PID             int
	Mode            InterruptMode
}

// ForceType distinguishes a policy-driven, client-applied action from one
// the client may choose to honour.
type ForceType int

const (
	ForceShare ForceType = iota
	ForceForce
)

// InterruptHint is the action a FocusEntry asks the target session to take.
type InterruptHint int

const (
	HintNone InterruptHint = iota
	HintResume
	HintPause
	HintStop
	HintDuck
	HintUnduck
)

// InterruptEventType distinguishes the start of an interruption from its
// resolution.
type InterruptEventType int

const (
	InterruptBegin InterruptEventType = iota
	InterruptEnd
)

// InterruptEvent is delivered to a session's registered focus callback.
// DuckVolume only carries a meaningful value alongside HintDuck (the scale
// to apply) and HintUnduck (1.0, full restoration); other hints leave it
// at its zero value.
type InterruptEvent struct {
	EventType  InterruptEventType
	ForceType  ForceType
	Hint       InterruptHint
	DuckVolume float64
}

// StreamSession is the per-active-stream record shared by Routing, the
// Interrupt Engine, and the Stream Tracker.
type StreamSession struct {
	SessionID      uint32
	ClientUID      uint32
	PID            int
	TokenID        uint64
	StreamType     StreamType
	RendererState  RendererState
	CapturerState  CapturerState
	OutputDevice   DeviceDescriptor
	InputDevice    DeviceDescriptor
	Volume         float64
	Muted          bool
	FocusState     FocusState
	DuckMultiplier float64
}

// EffectiveVolume applies mute, duck, and ringer-mode rules to a stored
// volume, without mutating the session.
func (s StreamSession) EffectiveVolume(mode RingerMode) float64 {
	if s.Muted {
		return 0
	}
	if mode != RingerNormal && RingerSensitive(s.StreamType) {
		return 0
	}
	duck := s.DuckMultiplier
	if duck == 0 {
		duck = 1
	}
	v := s.Volume * duck
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
