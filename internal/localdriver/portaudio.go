package localdriver

import (
	"encoding/binary"
	"fmt"
	"log/slog"
	"sync"

	"github.com/gordonklaus/portaudio"
	"github.com/google/uuid"

	"github.com/kestrel-audio/audiocore/internal/hai"
	"github.com/kestrel-audio/audiocore/pkg/audiotypes"
)

// PortAudioEndpoint is a hai.DriverEndpoint backed by a real local sound
// card via github.com/gordonklaus/portaudio. It is the reference "Speaker"
// / "Built-in Mic" driver used in dev/test mode, in place of the vendor HDI
// implementation this core normally runs against.
type PortAudioEndpoint struct {
	logger *slog.Logger
	id     uuid.UUID

	role audiotypes.DeviceRole
	spec audiotypes.SampleSpec

	mu       sync.Mutex
	stream   *portaudio.Stream
	scratch  []int16
	volume   float64
	muted    bool
	started  bool
}

// NewPortAudioOutput opens the system default output device as a
// hai.DriverEndpoint rendering s16le interleaved PCM.
func NewPortAudioOutput(spec audiotypes.SampleSpec) (*PortAudioEndpoint, error) {
	return newPortAudioEndpoint(audiotypes.DeviceRoleOutput, spec)
}

// NewPortAudioInput opens the system default input device as a
// hai.DriverEndpoint producing s16le interleaved PCM.
func NewPortAudioInput(spec audiotypes.SampleSpec) (*PortAudioEndpoint, error) {
	return newPortAudioEndpoint(audiotypes.DeviceRoleInput, spec)
}

func newPortAudioEndpoint(role audiotypes.DeviceRole, spec audiotypes.SampleSpec) (*PortAudioEndpoint, error) {
	id := uuid.New()
	logger := slog.Default().With("portaudio endpoint", id, "role", role)

	if err := portaudio.Initialize(); err != nil {
		logger.Error("failed to initialize portaudio", "err", err)
		return nil, fmt.Errorf("portaudio init: %w", err)
	}

	framesPerBuffer := int(spec.Period)
	if framesPerBuffer == 0 {
		framesPerBuffer = 960
	}

	e := &PortAudioEndpoint{
		logger:  logger,
		id:      id,
		role:    role,
		spec:    spec,
		scratch: make([]int16, framesPerBuffer*int(spec.ChannelCount)),
		volume:  1.0,
	}

	var stream *portaudio.Stream
	var err error
	if role == audiotypes.DeviceRoleOutput {
		stream, err = portaudio.OpenDefaultStream(0, int(spec.ChannelCount), float64(spec.SampleRate), framesPerBuffer, &e.scratch)
	} else {
		stream, err = portaudio.OpenDefaultStream(int(spec.ChannelCount), 0, float64(spec.SampleRate), framesPerBuffer, &e.scratch)
	}
	if err != nil {
		portaudio.Terminate()
		logger.Error("failed to open default stream", "err", err)
		return nil, fmt.Errorf("open default stream: %w", err)
	}
	e.stream = stream

	return e, nil
}

func (e *PortAudioEndpoint) Start() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.started {
		return nil
	}
	if err := e.stream.Start(); err != nil {
		return fmt.Errorf("portaudio start: %w", err)
	}
	e.started = true
	return nil
}

func (e *PortAudioEndpoint) Stop() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.started {
		return nil
	}
	if err := e.stream.Stop(); err != nil {
		return fmt.Errorf("portaudio stop: %w", err)
	}
	e.started = false
	return nil
}

// RenderFrame decodes buf as little-endian s16 samples into the scratch
// buffer, scaling by the configured volume, and blocks until written to the
// output device.
func (e *PortAudioEndpoint) RenderFrame(buf []byte) (int, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	n := len(buf) / 2
	if n > len(e.scratch) {
		n = len(e.scratch)
	}
	vol := e.volume
	if e.muted {
		vol = 0
	}
	for i := 0; i < n; i++ {
		s := int16(binary.LittleEndian.Uint16(buf[i*2:]))
		e.scratch[i] = int16(float64(s) * vol)
	}
	for i := n; i < len(e.scratch); i++ {
		e.scratch[i] = 0
	}

	if err := e.stream.Write(); err != nil {
		return 0, fmt.Errorf("portaudio write: %w", err)
	}
	return n * 2, nil
}

// CaptureFrame blocks for one period and encodes the captured samples as
// little-endian s16 into buf.
func (e *PortAudioEndpoint) CaptureFrame(buf []byte) (int, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.stream.Read(); err != nil {
		return 0, fmt.Errorf("portaudio read: %w", err)
	}

	n := len(e.scratch)
	if n*2 > len(buf) {
		n = len(buf) / 2
	}
	if e.muted {
		for i := 0; i < n*2; i++ {
			buf[i] = 0
		}
		return n * 2, nil
	}
	for i := 0; i < n; i++ {
		binary.LittleEndian.PutUint16(buf[i*2:], uint16(e.scratch[i]))
	}
	return n * 2, nil
}

func (e *PortAudioEndpoint) SetVolume(v float64) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.volume = v
	return nil
}

func (e *PortAudioEndpoint) SetMute(m bool) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.muted = m
	return nil
}

// SelectScene is a no-op on the reference driver: it has no hardware route
// table to reprogram.
func (e *PortAudioEndpoint) SelectScene(category audiotypes.AudioCategory, pin string) error {
	e.logger.Debug("select scene (no-op on local driver)", "category", category, "pin", pin)
	return nil
}

// GetLatency is unavailable on the blocking portaudio API; callers fall
// back to the timestamp-based estimate.
func (e *PortAudioEndpoint) GetLatency() (int64, error) {
	return 0, fmt.Errorf("portaudio endpoint: %w", errUnsupported)
}

func (e *PortAudioEndpoint) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	err := e.stream.Close()
	portaudio.Terminate()
	return err
}

var _ hai.DriverEndpoint = (*PortAudioEndpoint)(nil)
