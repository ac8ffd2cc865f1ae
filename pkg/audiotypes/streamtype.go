// Package audiotypes holds the wire-level contract types shared by the
// routing/policy core and any external client layer: stream classification,
// device identity, interrupt records, and the renderer/capturer state
// machines. None of these types carry behaviour beyond small lookup tables —
// the policy logic that consumes them lives in the internal packages.
package audiotypes

// StreamType names a logical audio purpose. It is a closed enumeration; the
// numeric values are part of the wire contract and must not be renumbered.
type StreamType int

const (
	StreamTypeDefault StreamType = iota
	StreamTypeVoiceCall
	StreamTypeMusic
	StreamTypeRing
	StreamTypeMedia
	StreamTypeVoiceAssistant
	StreamTypeSystem
	StreamTypeAlarm
	StreamTypeNotification
	StreamTypeDTMF
	StreamTypeAccessibility
	StreamTypeUltrasonic
	StreamTypeMovie
	StreamTypeSpeech
	StreamTypeVoiceMessage
	// StreamTypeWakeup and StreamTypeGame collide at value 15 in the
	// upstream enumeration this was distilled from. Assigned distinct
	// values here rather than reproducing the collision.
	StreamTypeWakeup
	StreamTypeGame
)

// String renders a human-readable name for logs; not part of the wire
// contract.
func (t StreamType) String() string {
	switch t {
	case StreamTypeDefault:
		return "default"
	case StreamTypeVoiceCall:
		return "voiceCall"
	case StreamTypeMusic:
		return "music"
	case StreamTypeRing:
		return "ring"
	case StreamTypeMedia:
		return "media"
	case StreamTypeVoiceAssistant:
		return "voiceAssistant"
	case StreamTypeSystem:
		return "system"
	case StreamTypeAlarm:
		return "alarm"
	case StreamTypeNotification:
		return "notification"
	case StreamTypeDTMF:
		return "dtmf"
	case StreamTypeAccessibility:
		return "accessibility"
	case StreamTypeUltrasonic:
		return "ultrasonic"
	case StreamTypeMovie:
		return "movie"
	case StreamTypeSpeech:
		return "speech"
	case StreamTypeVoiceMessage:
		return "voiceMessage"
	case StreamTypeWakeup:
		return "wakeup"
	case StreamTypeGame:
		return "game"
	default:
		return "unknown"
	}
}

// VolumeGroup is the persisted volume bucket a StreamType rolls up into.
type VolumeGroup int

const (
	VolumeGroupMusic VolumeGroup = iota
	VolumeGroupRing
	VolumeGroupAlarm
	VolumeGroupVoiceCall
	VolumeGroupVoiceAssistant
)

func (g VolumeGroup) String() string {
	switch g {
	case VolumeGroupMusic:
		return "music"
	case VolumeGroupRing:
		return "ring"
	case VolumeGroupAlarm:
		return "alarm"
	case VolumeGroupVoiceCall:
		return "voice_call"
	case VolumeGroupVoiceAssistant:
		return "voice_assistant"
	default:
		return "unknown"
	}
}

// AllVolumeGroups returns every VolumeGroup in a stable order, for callers
// that need to seed or iterate per-group state.
func AllVolumeGroups() []VolumeGroup {
	return []VolumeGroup{
		VolumeGroupMusic,
		VolumeGroupRing,
		VolumeGroupAlarm,
		VolumeGroupVoiceCall,
		VolumeGroupVoiceAssistant,
	}
}

// VolumeGroupFor maps a StreamType to its persisted volume group. MEDIA is
// folded into MUSIC; notification/dtmf/system/ring share the ring group;
// anything not explicitly listed defaults to music.
func VolumeGroupFor(t StreamType) VolumeGroup {
	switch t {
	case StreamTypeRing, StreamTypeNotification, StreamTypeSystem, StreamTypeDTMF:
		return VolumeGroupRing
	case StreamTypeAlarm:
		return VolumeGroupAlarm
	case StreamTypeVoiceCall:
		return VolumeGroupVoiceCall
	case StreamTypeVoiceAssistant:
		return VolumeGroupVoiceAssistant
	case StreamTypeMusic, StreamTypeMedia:
		return VolumeGroupMusic
	default:
		return VolumeGroupMusic
	}
}

// RingerSensitive reports whether a silent/vibrate ringer mode forces this
// StreamType's effective volume to zero.
func RingerSensitive(t StreamType) bool {
	switch t {
	case StreamTypeRing, StreamTypeNotification, StreamTypeSystem, StreamTypeDTMF:
		return true
	default:
		return false
	}
}

// FocusPriority is a tier used by the interrupt engine to break ties between
// concurrently-active stream types; larger wins.
type FocusPriority int

const (
	FocusPriorityLow FocusPriority = iota
	FocusPriorityNormal
	FocusPriorityHigh
	FocusPriorityCritical
)

// FocusPriorityFor returns the tier that the interrupt engine's policy table
// lookups are ordered by.
func FocusPriorityFor(t StreamType) FocusPriority {
	switch t {
	case StreamTypeVoiceCall, StreamTypeRing:
		return FocusPriorityCritical
	case StreamTypeVoiceAssistant, StreamTypeAlarm, StreamTypeNotification, StreamTypeSystem:
		return FocusPriorityHigh
	case StreamTypeMusic, StreamTypeMedia, StreamTypeMovie, StreamTypeGame:
		return FocusPriorityNormal
	default:
		return FocusPriorityLow
	}
}
