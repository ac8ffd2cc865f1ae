// Package adapter implements the Adapter Module Registry: it loads and
// unloads driver-side endpoints on behalf of the routing/policy layer,
// tracking each as a ModuleInstance identified by an opaque IoHandle.
package adapter

import (
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/kestrel-audio/audiocore/pkg/audioerr"
)

// IoHandle is the opaque identifier the mixing daemon assigns to a loaded
// module, per spec.md §3.
type IoHandle string

// ModuleState is a ModuleInstance's lifecycle.
type ModuleState int

const (
	ModuleLoading ModuleState = iota
	ModuleActive
	ModuleSuspended
	ModuleUnloading
)

// Lib names the driver library a ModuleConfig loads, which in turn selects
// which module-args keys GetModuleArgs recognizes.
type Lib string

const (
	LibHDISink   Lib = "libmodule-hdi-sink"
	LibHDISource Lib = "libmodule-hdi-source"
	LibPipeSink  Lib = "libmodule-pipe-sink"
	LibPipeSource Lib = "libmodule-pipe-source"
)

// ModuleConfig is the AudioModuleInfo configuration tuple from spec.md §3.
type ModuleConfig struct {
	Lib               Lib
	Name              string
	AdapterName       string
	ClassName         string
	Rate              uint32
	Channels          uint32
	Format            string
	BufferSize        uint32
	FileName          string
	NetworkID         string
	DeviceType        string
	FixedLatency      bool
	RenderInIdleState bool
	TestModeOn        bool
}

// ModuleArgs serializes cfg to the whitespace-delimited key=value string
// the mixing daemon's module loader expects, following
// AudioAdapterManager::GetModuleArgs's per-library key selection.
func ModuleArgs(cfg ModuleConfig) string {
	var b strings.Builder
	appendKV := func(key, val string) {
		if val == "" {
			return
		}
		if b.Len() > 0 {
			b.WriteByte(' ')
		}
		b.WriteString(key)
		b.WriteByte('=')
		b.WriteString(val)
	}

	switch cfg.Lib {
	case LibPipeSink, LibPipeSource:
		appendKV("file", cfg.FileName)
		return b.String()
	}

	if cfg.Rate != 0 {
		appendKV("rate", strconv.FormatUint(uint64(cfg.Rate), 10))
	}
	if cfg.Channels != 0 {
		appendKV("channels", strconv.FormatUint(uint64(cfg.Channels), 10))
	}
	if cfg.BufferSize != 0 {
		appendKV("buffer_size", strconv.FormatUint(uint64(cfg.BufferSize), 10))
	}
	appendKV("format", cfg.Format)
	if cfg.FixedLatency {
		appendKV("fixed_latency", "1")
	}
	if cfg.RenderInIdleState {
		appendKV("render_in_idle_state", "1")
	}

	switch cfg.Lib {
	case LibHDISink:
		appendKV("sink_name", cfg.Name)
	case LibHDISource:
		appendKV("source_name", cfg.Name)
	}
	appendKV("adapter_name", cfg.AdapterName)
	appendKV("device_class", cfg.ClassName)
	appendKV("file_path", cfg.FileName)
	if cfg.TestModeOn {
		appendKV("test_mode_on", "1")
	}
	if cfg.NetworkID != "" {
		appendKV("network_id", cfg.NetworkID)
	} else {
		appendKV("network_id", "LocalDevice")
	}
	appendKV("device_type", cfg.DeviceType)

	return b.String()
}

// ModuleInstance is one loaded driver-side endpoint, per spec.md §3. It
// cannot be reused across OpenAudioPort calls: a fresh ModuleInstance is
// always created, even for an identical config.
type ModuleInstance struct {
	Handle IoHandle
	Config ModuleConfig
	State  ModuleState
}

// Opener is the collaborator that actually brings up IO for a module once
// the registry has decided to create one — internal/hdi's Sink/Source in
// production, a test double in tests. Close releases whatever resources
// Open acquired.
type Opener interface {
	Open(cfg ModuleConfig) error
	Close() error
}

// Registry owns the process's ModuleInstance table (spec.md §3: "the
// Adapter Module Registry exclusively owns ModuleInstances").
type Registry struct {
	logger *slog.Logger

	mu       sync.Mutex
	modules  map[IoHandle]*ModuleInstance
	openers  map[IoHandle]Opener
}

// NewRegistry returns an empty Registry.
func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		logger:  logger,
		modules: make(map[IoHandle]*ModuleInstance),
		openers: make(map[IoHandle]Opener),
	}
}

// OpenAudioPort creates a driver endpoint and starts its IO, returning the
// handle the mixing daemon will use to reference it. The opener is
// caller-supplied because construction of the concrete Sink/Source depends
// on cfg.DeviceType in ways this package deliberately stays agnostic to.
func (r *Registry) OpenAudioPort(cfg ModuleConfig, opener Opener) (IoHandle, error) {
	if opener == nil {
		return "", audioerr.New(audioerr.KindInvalidParam, "Registry.OpenAudioPort", nil)
	}

	handle := IoHandle(uuid.New().String())
	r.logger.Info("opening audio port", "handle", handle, "lib", cfg.Lib, "args", ModuleArgs(cfg))

	r.mu.Lock()
	r.modules[handle] = &ModuleInstance{Handle: handle, Config: cfg, State: ModuleLoading}
	r.mu.Unlock()

	if err := opener.Open(cfg); err != nil {
		r.mu.Lock()
		delete(r.modules, handle)
		r.mu.Unlock()
		return "", audioerr.New(audioerr.KindDeviceInit, "Registry.OpenAudioPort", err)
	}

	r.mu.Lock()
	r.modules[handle].State = ModuleActive
	r.openers[handle] = opener
	r.mu.Unlock()

	return handle, nil
}

// CloseAudioPort tears down and forgets a ModuleInstance.
func (r *Registry) CloseAudioPort(handle IoHandle) error {
	r.mu.Lock()
	mod, ok := r.modules[handle]
	opener := r.openers[handle]
	r.mu.Unlock()
	if !ok {
		return audioerr.New(audioerr.KindInvalidHandle, "Registry.CloseAudioPort", fmt.Errorf("unknown handle %s", handle))
	}

	r.mu.Lock()
	mod.State = ModuleUnloading
	r.mu.Unlock()

	var closeErr error
	if opener != nil {
		closeErr = opener.Close()
	}

	r.mu.Lock()
	delete(r.modules, handle)
	delete(r.openers, handle)
	r.mu.Unlock()

	if closeErr != nil {
		return audioerr.New(audioerr.KindOperationFailed, "Registry.CloseAudioPort", closeErr)
	}
	return nil
}

// Get returns the ModuleInstance for handle, or ok=false.
func (r *Registry) Get(handle IoHandle) (ModuleInstance, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	mod, ok := r.modules[handle]
	if !ok {
		return ModuleInstance{}, false
	}
	return *mod, true
}

// SetState updates a ModuleInstance's lifecycle state (e.g. suspend/resume
// driven by SuspendAudioDevice).
func (r *Registry) SetState(handle IoHandle, state ModuleState) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	mod, ok := r.modules[handle]
	if !ok {
		return audioerr.New(audioerr.KindInvalidHandle, "Registry.SetState", fmt.Errorf("unknown handle %s", handle))
	}
	mod.State = state
	return nil
}

// Count returns the number of currently-loaded ModuleInstances, used by
// the OpenAudioPort/CloseAudioPort round-trip test (spec.md §8).
func (r *Registry) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.modules)
}
