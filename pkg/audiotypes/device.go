package audiotypes

import "time"

// DeviceType names a class of audio endpoint. ActiveDeviceType below reuses
// the same vocabulary for SetDeviceActive calls.
type DeviceType int

const (
	DeviceTypeInvalid DeviceType = iota
	DeviceTypeSpeaker
	DeviceTypeBuiltinMic
	DeviceTypeWiredHeadset
	DeviceTypeWiredHeadphones
	DeviceTypeUSBHeadset
	DeviceTypeBluetoothSCO
	DeviceTypeBluetoothA2DP
	DeviceTypeDistributed
	DeviceTypeFile
)

func (d DeviceType) String() string {
	switch d {
	case DeviceTypeSpeaker:
		return "speaker"
	case DeviceTypeBuiltinMic:
		return "builtinMic"
	case DeviceTypeWiredHeadset:
		return "wiredHeadset"
	case DeviceTypeWiredHeadphones:
		return "wiredHeadphones"
	case DeviceTypeUSBHeadset:
		return "usbHeadset"
	case DeviceTypeBluetoothSCO:
		return "bluetoothSco"
	case DeviceTypeBluetoothA2DP:
		return "a2dp"
	case DeviceTypeDistributed:
		return "distributed"
	case DeviceTypeFile:
		return "file"
	default:
		return "invalid"
	}
}

// DeviceRole is the direction a device plays in a route.
type DeviceRole int

const (
	DeviceRoleOutput DeviceRole = iota
	DeviceRoleInput
)

// ConnectionType distinguishes a device physically attached to this host
// from one projected over a network link.
type ConnectionType int

const (
	ConnectionLocal ConnectionType = iota
	ConnectionDistributed
)

// DeviceFlag selects a subset when listing devices via GetDevices.
type DeviceFlag int

const (
	DeviceFlagOutput DeviceFlag = iota
	DeviceFlagInput
	DeviceFlagAll
	DeviceFlagDistributedOutput
	DeviceFlagDistributedInput
	DeviceFlagAllDistributed
	DeviceFlagAllLocalAndDistributed
)

// DeviceDescriptor identifies one audio endpoint known to the routing
// layer. (DeviceType, Role, NetworkID, MACAddress) is unique; NetworkID
// non-empty means the device is reached over ConnectionDistributed.
type DeviceDescriptor struct {
	DeviceType     DeviceType
	Role           DeviceRole
	DeviceID       uint32
	NetworkID      string
	MACAddress     string
	ChannelMask    uint32
	SupportedRates []uint32
	Connection     ConnectionType
	ConnectedAt    time.Time
}

// IsDistributed reports whether this descriptor names a network-projected
// endpoint rather than a locally attached one.
func (d DeviceDescriptor) IsDistributed() bool {
	return d.NetworkID != "" || d.Connection == ConnectionDistributed
}

// ActiveDeviceType enumerates the device categories SetDeviceActive can
// switch between.
type ActiveDeviceType int

const (
	ActiveDeviceSpeaker ActiveDeviceType = iota
	ActiveDeviceBluetoothSCO
	ActiveDeviceWiredHeadset
	ActiveDeviceUSBHeadset
	ActiveDeviceA2DP
	ActiveDeviceFileSink
)

// AudioScene selects the driver-side category/pin combination applied to
// the active sink and source.
type AudioScene int

const (
	SceneDefault AudioScene = iota
	SceneRinging
	ScenePhoneCall
	ScenePhoneChat
)

// AudioCategory is the driver-facing category a scene translates to.
type AudioCategory int

const (
	CategoryInMedia AudioCategory = iota
	CategoryInRingtone
	CategoryInCall
	CategoryInCommunication
)

// CategoryForScene maps a scene to the driver category SetAudioScene must
// pass to DriverEndpoint.SelectScene.
func CategoryForScene(s AudioScene) AudioCategory {
	switch s {
	case SceneRinging:
		return CategoryInRingtone
	case ScenePhoneCall:
		return CategoryInCall
	case ScenePhoneChat:
		return CategoryInCommunication
	default:
		return CategoryInMedia
	}
}

// RouteNodeKind is the taxonomy of a route-graph endpoint.
type RouteNodeKind int

const (
	RouteNodePort RouteNodeKind = iota
	RouteNodeMix
	RouteNodeDevice
)

// RouteNode is one half of an AudioRoute.
type RouteNode struct {
	Kind     RouteNodeKind
	PortID   uint32
	Role     DeviceRole
	ModuleID uint32
	StreamID uint32
	PinType  string
	PinDesc  string
}

// AudioRoute pairs a source node with a sink node for
// DriverEndpoint.UpdateAudioRoute.
type AudioRoute struct {
	Source RouteNode
	Sink   RouteNode
}

// RouteHandle is the opaque token returned by UpdateAudioRoute, retained
// until the route is torn down.
type RouteHandle uint64
