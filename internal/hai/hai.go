// Package hai defines the hardware abstraction interface surface this core
// consumes from a vendor audio driver: the render/capture endpoint
// contract, route programming, and scene selection. A real driver binding
// is out of scope; internal/localdriver supplies reference implementations
// for development and tests.
package hai

import "github.com/kestrel-audio/audiocore/pkg/audiotypes"

// AdapterPort describes one port exposed by a loaded hardware adapter.
type AdapterPort struct {
	Dir    audiotypes.DeviceRole
	PortID uint32
}

// AdapterDescriptor is returned by Manager.GetAllAdapters.
type AdapterDescriptor struct {
	Name  string
	Ports []AdapterPort
}

// Render is a push-mode driver-side output endpoint.
type Render interface {
	// RenderFrame writes up to len(buf) bytes and returns the number
	// actually written. A return of 0, or greater than len(buf), is a
	// fatal chunk error from the caller's point of view.
	RenderFrame(buf []byte) (written int, err error)
	Start() error
	Stop() error
	Pause() error
	Resume() error
	Flush() error
	SetVolume(v float64) error
	GetVolume() (float64, error)
	SetMute(m bool) error
	GetMute() (bool, error)
	SelectScene(category audiotypes.AudioCategory, pin string) error
	// GetLatency returns the hardware's reported latency in microseconds,
	// or an error if the driver cannot report it — the caller falls back
	// to a timestamp-based estimate in that case.
	GetLatency() (microseconds int64, err error)
}

// Capture is a pull-mode driver-side input endpoint.
type Capture interface {
	// CaptureFrame reads up to len(buf) bytes and returns the number
	// actually captured. A return of 0, or greater than len(buf), is
	// fatal from the caller's point of view.
	CaptureFrame(buf []byte) (actual int, err error)
	Start() error
	Stop() error
	Pause() error
	Resume() error
	SetMute(m bool) error
	GetMute() (bool, error)
	SelectScene(category audiotypes.AudioCategory, pin string) error
	GetLatency() (microseconds int64, err error)
}

// Adapter is one loaded hardware adapter, capable of creating render and
// capture endpoints and programming routes on behalf of its ports.
type Adapter interface {
	InitAllPorts() error
	CreateRender(desc audiotypes.DeviceDescriptor, spec audiotypes.SampleSpec) (Render, error)
	CreateCapture(desc audiotypes.DeviceDescriptor, spec audiotypes.SampleSpec) (Capture, error)
	UpdateAudioRoute(route audiotypes.AudioRoute) (audiotypes.RouteHandle, error)
	ReleaseAudioRoute(handle audiotypes.RouteHandle) error
}

// Manager is the root HAI entry point, equivalent to
// getAudioProxyManager() in the vendor driver contract.
type Manager interface {
	GetAllAdapters() ([]AdapterDescriptor, error)
	LoadAdapter(desc AdapterDescriptor) (Adapter, error)
}

// DriverEndpoint is the minimal capability the HDI timing engines need from
// a loaded render or capture endpoint: the data-path call plus the
// lifecycle/volume/scene controls, collapsed behind one interface so
// internal/hdi doesn't need to know whether it's driving a Render or a
// Capture.
//
// internal/localdriver's concrete endpoints implement this directly rather
// than going through the Adapter/Manager indirection, since they have no
// real hardware adapter to load.
type DriverEndpoint interface {
	RenderFrame(buf []byte) (written int, err error)
	CaptureFrame(buf []byte) (actual int, err error)
	Start() error
	Stop() error
	SetVolume(v float64) error
	SetMute(m bool) error
	SelectScene(category audiotypes.AudioCategory, pin string) error
	GetLatency() (microseconds int64, err error)
	Close() error
}
