package localdriver

import (
	"encoding/binary"
	"fmt"
	"log/slog"
	"os"
	"sync"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"
	"github.com/google/uuid"

	"github.com/kestrel-audio/audiocore/internal/hai"
	"github.com/kestrel-audio/audiocore/pkg/audiotypes"
)

// WAVFileEndpoint is a hai.DriverEndpoint backed by a .wav file: it either
// loops a file's PCM samples as an output "speaker" (the `file (debug)`
// device category from the routing fallback order), or appends captured
// frames to a file as an input. This realizes the pipe sink/source
// `file=<path>` module-args form.
type WAVFileEndpoint struct {
	logger *slog.Logger
	id     uuid.UUID
	role   audiotypes.DeviceRole

	mu     sync.Mutex
	path   string
	volume float64
	muted  bool

	// output mode
	samples []int
	cursor  int

	// input mode
	captured *os.File
	encoder  *wav.Encoder
}

// NewWAVFileOutput loads path's full PCM buffer into memory and returns an
// endpoint that loops it on every RenderFrame call once the in-memory
// buffer is exhausted.
func NewWAVFileOutput(path string, spec audiotypes.SampleSpec) (*WAVFileEndpoint, error) {
	id := uuid.New()
	logger := slog.Default().With("wav file endpoint", id, "path", path)

	f, err := os.Open(path)
	if err != nil {
		logger.Error("could not open wav file", "err", err)
		return nil, fmt.Errorf("open wav file: %w", err)
	}
	defer f.Close()

	decoder := wav.NewDecoder(f)
	if !decoder.IsValidFile() {
		logger.Error("not a valid wav file", "err", decoder.Err())
		return nil, fmt.Errorf("invalid wav file: %w", decoder.Err())
	}

	buf, err := decoder.FullPCMBuffer()
	if err != nil {
		logger.Error("could not read full pcm buffer", "err", err)
		return nil, fmt.Errorf("read pcm buffer: %w", err)
	}

	return &WAVFileEndpoint{
		logger:  logger,
		id:      id,
		role:    audiotypes.DeviceRoleOutput,
		path:    path,
		volume:  1.0,
		samples: buf.Data,
	}, nil
}

// NewWAVFileInput creates a capture endpoint that writes every captured
// frame to a freshly created .wav file at path, using spec's sample rate
// and channel count.
func NewWAVFileInput(path string, spec audiotypes.SampleSpec) (*WAVFileEndpoint, error) {
	id := uuid.New()
	logger := slog.Default().With("wav file endpoint", id, "path", path)

	f, err := os.Create(path)
	if err != nil {
		logger.Error("could not create wav file", "err", err)
		return nil, fmt.Errorf("create wav file: %w", err)
	}

	enc := wav.NewEncoder(f, int(spec.SampleRate), 16, int(spec.ChannelCount), 1)

	return &WAVFileEndpoint{
		logger:   logger,
		id:       id,
		role:     audiotypes.DeviceRoleInput,
		path:     path,
		volume:   1.0,
		captured: f,
		encoder:  enc,
	}, nil
}

func (e *WAVFileEndpoint) Start() error { return nil }
func (e *WAVFileEndpoint) Stop() error  { return nil }

// RenderFrame copies the next len(buf)/2 s16 samples from the looped
// in-memory buffer, scaled by volume, wrapping back to the start on
// exhaustion so playback never underruns.
func (e *WAVFileEndpoint) RenderFrame(buf []byte) (int, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.role != audiotypes.DeviceRoleOutput {
		return 0, fmt.Errorf("wav file endpoint: %w", errUnsupported)
	}
	if len(e.samples) == 0 {
		return 0, fmt.Errorf("wav file endpoint: empty sample buffer")
	}

	vol := e.volume
	if e.muted {
		vol = 0
	}

	n := len(buf) / 2
	for i := 0; i < n; i++ {
		s := e.samples[e.cursor]
		e.cursor = (e.cursor + 1) % len(e.samples)
		binary.LittleEndian.PutUint16(buf[i*2:], uint16(int16(float64(s)*vol)))
	}
	return n * 2, nil
}

// CaptureFrame decodes buf as though it were the frame the mixer wants
// captured, writes it to the backing .wav encoder, and echoes the byte
// count back as "actual" — there is no real microphone behind this
// endpoint, only a sink for whatever the caller feeds it via its own test
// harness driving buf's contents.
func (e *WAVFileEndpoint) CaptureFrame(buf []byte) (int, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.role != audiotypes.DeviceRoleInput || e.encoder == nil {
		return 0, fmt.Errorf("wav file endpoint: %w", errUnsupported)
	}

	n := len(buf) / 2
	ints := make([]int, n)
	for i := 0; i < n; i++ {
		ints[i] = int(int16(binary.LittleEndian.Uint16(buf[i*2:])))
	}

	intBuf := &goaudio.IntBuffer{
		Format:         &goaudio.Format{NumChannels: int(e.encoder.NumChans), SampleRate: int(e.encoder.SampleRate)},
		Data:           ints,
		SourceBitDepth: 16,
	}
	if err := e.encoder.Write(intBuf); err != nil {
		return 0, fmt.Errorf("wav encode: %w", err)
	}
	return n * 2, nil
}

func (e *WAVFileEndpoint) SetVolume(v float64) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.volume = v
	return nil
}

func (e *WAVFileEndpoint) SetMute(m bool) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.muted = m
	return nil
}

func (e *WAVFileEndpoint) SelectScene(category audiotypes.AudioCategory, pin string) error {
	return nil
}

func (e *WAVFileEndpoint) GetLatency() (int64, error) {
	return 0, fmt.Errorf("wav file endpoint: %w", errUnsupported)
}

func (e *WAVFileEndpoint) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.encoder != nil {
		if err := e.encoder.Close(); err != nil {
			return err
		}
	}
	if e.captured != nil {
		return e.captured.Close()
	}
	return nil
}

var _ hai.DriverEndpoint = (*WAVFileEndpoint)(nil)
