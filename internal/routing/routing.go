// Package routing maintains the known-device table, selects the active
// output/input device per session, and reacts to hot-plug by re-running
// the selection algorithm and re-wiring the driver-level route.
package routing

import (
	"log/slog"
	"sort"
	"sync"

	"github.com/kestrel-audio/audiocore/pkg/audioerr"
	"github.com/kestrel-audio/audiocore/pkg/audiotypes"
)

// outputFallbackOrder is the hot-plug preference order for output devices
// without an explicit user selection, per spec.md §4.4: wired headset,
// wired headphones, usb headset, a2dp, bluetooth sco, speaker, file (debug
// last).
var outputFallbackOrder = []audiotypes.DeviceType{
	audiotypes.DeviceTypeWiredHeadset,
	audiotypes.DeviceTypeWiredHeadphones,
	audiotypes.DeviceTypeUSBHeadset,
	audiotypes.DeviceTypeBluetoothA2DP,
	audiotypes.DeviceTypeBluetoothSCO,
	audiotypes.DeviceTypeSpeaker,
	audiotypes.DeviceTypeFile,
}

var inputFallbackOrder = []audiotypes.DeviceType{
	audiotypes.DeviceTypeWiredHeadset,
	audiotypes.DeviceTypeUSBHeadset,
	audiotypes.DeviceTypeBluetoothSCO,
	audiotypes.DeviceTypeBuiltinMic,
	audiotypes.DeviceTypeFile,
}

// RouteDriver is the driver-facing collaborator routing decisions are
// applied to — internal/audiocore's referenceDaemon in production, a test
// double in tests.
type RouteDriver interface {
	UpdateAudioRoute(route audiotypes.AudioRoute) (audiotypes.RouteHandle, error)
	ReleaseAudioRoute(handle audiotypes.RouteHandle) error
	SetDefaultSink(name string) error
	SetDefaultSource(name string) error
	SelectScene(category audiotypes.AudioCategory, pin string) error
}

// DeviceChangeFunc is invoked whenever the active device for a role
// changes, whether by explicit SetDeviceActive or by hot-plug fallback.
type DeviceChangeFunc func(role audiotypes.DeviceRole, device audiotypes.DeviceDescriptor)

// sessionSelection records an explicit user choice for one session, kept
// separate from the device table so it survives device churn.
type sessionSelection struct {
	sessionID uint32
	device    audiotypes.DeviceDescriptor
}

// Router owns the device table and the active route per role.
type Router struct {
	logger *slog.Logger
	driver RouteDriver
	onChange DeviceChangeFunc

	mu sync.Mutex

	devices map[deviceKey]audiotypes.DeviceDescriptor

	activeOutput audiotypes.DeviceDescriptor
	activeInput  audiotypes.DeviceDescriptor
	outputHandle audiotypes.RouteHandle
	inputHandle  audiotypes.RouteHandle
	haveOutput   bool
	haveInput    bool

	outputSelections map[uint32]audiotypes.DeviceDescriptor
	inputSelections  map[uint32]audiotypes.DeviceDescriptor
}

type deviceKey struct {
	deviceType audiotypes.DeviceType
	role       audiotypes.DeviceRole
	networkID  string
	mac        string
}

func keyOf(d audiotypes.DeviceDescriptor) deviceKey {
	return deviceKey{deviceType: d.DeviceType, role: d.Role, networkID: d.NetworkID, mac: d.MACAddress}
}

// New returns a Router with no known devices; the caller seeds the table
// via DeviceConnected for the built-in speaker/mic before traffic starts.
func New(driver RouteDriver, onChange DeviceChangeFunc, logger *slog.Logger) *Router {
	if logger == nil {
		logger = slog.Default()
	}
	return &Router{
		logger:           logger,
		driver:           driver,
		onChange:         onChange,
		devices:          make(map[deviceKey]audiotypes.DeviceDescriptor),
		outputSelections: make(map[uint32]audiotypes.DeviceDescriptor),
		inputSelections:  make(map[uint32]audiotypes.DeviceDescriptor),
	}
}

// GetDevices returns the known devices matching flag.
func (r *Router) GetDevices(flag audiotypes.DeviceFlag) []audiotypes.DeviceDescriptor {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []audiotypes.DeviceDescriptor
	for _, d := range r.devices {
		if matchesFlag(d, flag) {
			out = append(out, d)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].DeviceType < out[j].DeviceType })
	return out
}

func matchesFlag(d audiotypes.DeviceDescriptor, flag audiotypes.DeviceFlag) bool {
	switch flag {
	case audiotypes.DeviceFlagOutput:
		return d.Role == audiotypes.DeviceRoleOutput && !d.IsDistributed()
	case audiotypes.DeviceFlagInput:
		return d.Role == audiotypes.DeviceRoleInput && !d.IsDistributed()
	case audiotypes.DeviceFlagAll:
		return !d.IsDistributed()
	case audiotypes.DeviceFlagDistributedOutput:
		return d.Role == audiotypes.DeviceRoleOutput && d.IsDistributed()
	case audiotypes.DeviceFlagDistributedInput:
		return d.Role == audiotypes.DeviceRoleInput && d.IsDistributed()
	case audiotypes.DeviceFlagAllDistributed:
		return d.IsDistributed()
	case audiotypes.DeviceFlagAllLocalAndDistributed:
		return true
	default:
		return false
	}
}

// DeviceConnected registers or updates a device in the table, then runs
// the hot-plug selection algorithm for its role.
func (r *Router) DeviceConnected(d audiotypes.DeviceDescriptor) error {
	r.mu.Lock()
	r.devices[keyOf(d)] = d
	r.mu.Unlock()
	return r.runSelection(d.Role)
}

// DeviceDisconnected removes d from the table. If it was the active
// device for its role, tears down the route handle first, then picks a
// fallback, per spec.md §4.4's ResetRouteForDisconnect.
func (r *Router) DeviceDisconnected(d audiotypes.DeviceDescriptor) error {
	r.mu.Lock()
	delete(r.devices, keyOf(d))
	for sessionID, sel := range r.outputSelections {
		if keyOf(sel) == keyOf(d) {
			delete(r.outputSelections, sessionID)
		}
	}
	for sessionID, sel := range r.inputSelections {
		if keyOf(sel) == keyOf(d) {
			delete(r.inputSelections, sessionID)
		}
	}
	isActive := (d.Role == audiotypes.DeviceRoleOutput && r.haveOutput && keyOf(r.activeOutput) == keyOf(d)) ||
		(d.Role == audiotypes.DeviceRoleInput && r.haveInput && keyOf(r.activeInput) == keyOf(d))
	r.mu.Unlock()

	if !isActive {
		return nil
	}
	return r.ResetRouteForDisconnect(d.Role)
}

// ResetRouteForDisconnect tears down the route handle for role, then runs
// the selection algorithm to pick a fallback.
func (r *Router) ResetRouteForDisconnect(role audiotypes.DeviceRole) error {
	r.mu.Lock()
	if role == audiotypes.DeviceRoleOutput && r.haveOutput {
		handle := r.outputHandle
		r.haveOutput = false
		r.mu.Unlock()
		if r.driver != nil {
			if err := r.driver.ReleaseAudioRoute(handle); err != nil {
				return audioerr.New(audioerr.KindOperationFailed, "Router.ResetRouteForDisconnect", err)
			}
		}
	} else if role == audiotypes.DeviceRoleInput && r.haveInput {
		handle := r.inputHandle
		r.haveInput = false
		r.mu.Unlock()
		if r.driver != nil {
			if err := r.driver.ReleaseAudioRoute(handle); err != nil {
				return audioerr.New(audioerr.KindOperationFailed, "Router.ResetRouteForDisconnect", err)
			}
		}
	} else {
		r.mu.Unlock()
	}
	return r.runSelection(role)
}

// SelectOutputDevice assigns device as sessionID's explicit output
// selection, then re-runs the selection algorithm.
func (r *Router) SelectOutputDevice(sessionID uint32, device audiotypes.DeviceDescriptor) error {
	r.mu.Lock()
	r.outputSelections[sessionID] = device
	r.mu.Unlock()
	return r.runSelection(audiotypes.DeviceRoleOutput)
}

// SelectInputDevice assigns device as sessionID's explicit input
// selection, then re-runs the selection algorithm.
func (r *Router) SelectInputDevice(sessionID uint32, device audiotypes.DeviceDescriptor) error {
	r.mu.Lock()
	r.inputSelections[sessionID] = device
	r.mu.Unlock()
	return r.runSelection(audiotypes.DeviceRoleInput)
}

// runSelection implements spec.md §4.4's hot-plug algorithm: prefer an
// explicit, still-present user selection; otherwise walk the fallback
// order. If the winner differs from the currently active device, re-route
// and fire onChange.
func (r *Router) runSelection(role audiotypes.DeviceRole) error {
	r.mu.Lock()
	winner, ok := r.pickWinnerLocked(role)
	if !ok {
		r.mu.Unlock()
		return nil
	}

	var current audiotypes.DeviceDescriptor
	var haveCurrent bool
	if role == audiotypes.DeviceRoleOutput {
		current, haveCurrent = r.activeOutput, r.haveOutput
	} else {
		current, haveCurrent = r.activeInput, r.haveInput
	}
	if haveCurrent && keyOf(current) == keyOf(winner) {
		r.mu.Unlock()
		return nil
	}
	r.mu.Unlock()

	return r.applySelection(role, winner)
}

func (r *Router) pickWinnerLocked(role audiotypes.DeviceRole) (audiotypes.DeviceDescriptor, bool) {
	selections := r.outputSelections
	order := outputFallbackOrder
	if role == audiotypes.DeviceRoleInput {
		selections = r.inputSelections
		order = inputFallbackOrder
	}

	for _, sel := range selections {
		if _, present := r.devices[keyOf(sel)]; present {
			return sel, true
		}
	}

	for _, deviceType := range order {
		for _, d := range r.devices {
			if d.Role == role && d.DeviceType == deviceType {
				return d, true
			}
		}
	}
	return audiotypes.DeviceDescriptor{}, false
}

func (r *Router) applySelection(role audiotypes.DeviceRole, winner audiotypes.DeviceDescriptor) error {
	route := audiotypes.AudioRoute{
		Source: audiotypes.RouteNode{Kind: audiotypes.RouteNodeMix, Role: audiotypes.DeviceRoleOutput},
		Sink:   audiotypes.RouteNode{Kind: audiotypes.RouteNodeDevice, Role: role, PinType: pinFor(winner.DeviceType)},
	}
	if role == audiotypes.DeviceRoleInput {
		route.Source = audiotypes.RouteNode{Kind: audiotypes.RouteNodeDevice, Role: role, PinType: pinFor(winner.DeviceType)}
		route.Sink = audiotypes.RouteNode{Kind: audiotypes.RouteNodeMix, Role: audiotypes.DeviceRoleInput}
	}

	var handle audiotypes.RouteHandle
	var err error
	if r.driver != nil {
		handle, err = r.driver.UpdateAudioRoute(route)
		if err != nil {
			return audioerr.New(audioerr.KindDeviceInit, "Router.applySelection", err)
		}
		if role == audiotypes.DeviceRoleOutput {
			err = r.driver.SetDefaultSink(sinkNameFor(winner))
		} else {
			err = r.driver.SetDefaultSource(sinkNameFor(winner))
		}
		if err != nil {
			return audioerr.New(audioerr.KindOperationFailed, "Router.applySelection", err)
		}
	}

	r.mu.Lock()
	if role == audiotypes.DeviceRoleOutput {
		r.activeOutput, r.haveOutput = winner, true
		r.outputHandle = handle
	} else {
		r.activeInput, r.haveInput = winner, true
		r.inputHandle = handle
	}
	r.mu.Unlock()

	if r.onChange != nil {
		r.onChange(role, winner)
	}
	return nil
}

// SetDeviceActive switches the active output device category directly,
// bypassing the fallback walk — used when the UX layer (not hot-plug)
// forces a device, e.g. a speakerphone toggle during a call. Every
// ActiveDeviceType names an output device, per spec.md §4.4.
func (r *Router) SetDeviceActive(active audiotypes.ActiveDeviceType, on bool) error {
	if !on {
		return nil
	}
	deviceType := activeTypeToDeviceType(active)

	r.mu.Lock()
	var match audiotypes.DeviceDescriptor
	found := false
	for _, d := range r.devices {
		if d.Role == audiotypes.DeviceRoleOutput && d.DeviceType == deviceType {
			match, found = d, true
			break
		}
	}
	r.mu.Unlock()
	if !found {
		return audioerr.New(audioerr.KindInvalidParam, "Router.SetDeviceActive", nil)
	}
	return r.applySelection(audiotypes.DeviceRoleOutput, match)
}

func activeTypeToDeviceType(a audiotypes.ActiveDeviceType) audiotypes.DeviceType {
	switch a {
	case audiotypes.ActiveDeviceBluetoothSCO:
		return audiotypes.DeviceTypeBluetoothSCO
	case audiotypes.ActiveDeviceWiredHeadset:
		return audiotypes.DeviceTypeWiredHeadset
	case audiotypes.ActiveDeviceUSBHeadset:
		return audiotypes.DeviceTypeUSBHeadset
	case audiotypes.ActiveDeviceA2DP:
		return audiotypes.DeviceTypeBluetoothA2DP
	case audiotypes.ActiveDeviceFileSink:
		return audiotypes.DeviceTypeFile
	default:
		return audiotypes.DeviceTypeSpeaker
	}
}

// SetAudioScene translates scene to a driver AudioCategory and applies it
// to the active sink and source, per spec.md §4.4.
func (r *Router) SetAudioScene(scene audiotypes.AudioScene) error {
	category := audiotypes.CategoryForScene(scene)
	pin := pinForCategory(category)

	if err := r.runSelection(audiotypes.DeviceRoleOutput); err != nil {
		return err
	}

	if r.driver == nil {
		return nil
	}
	if err := r.driver.SelectScene(category, pin); err != nil {
		return audioerr.New(audioerr.KindOperationFailed, "Router.SetAudioScene", err)
	}
	return nil
}

func pinFor(deviceType audiotypes.DeviceType) string {
	switch deviceType {
	case audiotypes.DeviceTypeWiredHeadset, audiotypes.DeviceTypeWiredHeadphones:
		return "OUT_HEADSET"
	case audiotypes.DeviceTypeUSBHeadset:
		return "OUT_USB_HEADSET"
	case audiotypes.DeviceTypeBluetoothA2DP:
		return "OUT_BLUETOOTH_A2DP"
	case audiotypes.DeviceTypeBluetoothSCO:
		return "OUT_BLUETOOTH_SCO"
	case audiotypes.DeviceTypeFile:
		return "OUT_FILE"
	case audiotypes.DeviceTypeBuiltinMic:
		return "IN_BUILTIN_MIC"
	default:
		return "OUT_SPEAKER"
	}
}

func pinForCategory(c audiotypes.AudioCategory) string {
	switch c {
	case audiotypes.CategoryInRingtone:
		return "PIN_RINGTONE"
	case audiotypes.CategoryInCall:
		return "PIN_CALL"
	case audiotypes.CategoryInCommunication:
		return "PIN_COMMUNICATION"
	default:
		return "PIN_MEDIA"
	}
}

func sinkNameFor(d audiotypes.DeviceDescriptor) string {
	return d.DeviceType.String() + "_sink"
}
