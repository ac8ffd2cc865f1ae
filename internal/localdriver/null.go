package localdriver

import (
	"sync"
	"sync/atomic"

	"github.com/kestrel-audio/audiocore/internal/hai"
	"github.com/kestrel-audio/audiocore/pkg/audiotypes"
)

// NullEndpoint is an in-memory hai.DriverEndpoint that accepts every call
// unless FailNext is set, recording every frame it rendered and counting
// every capture. It has no
// hardware behind it at all; it exists so internal/hdi's timing-engine
// tests can exercise drop accounting and state transitions deterministically
// without opening real audio devices, the same role the teacher's
// interface-typed `paStream`/`opusEncoder` fields play in its own tests.
type NullEndpoint struct {
	mu       sync.Mutex
	rendered [][]byte
	captureN int

	// FailNext, when >0, causes the next N RenderFrame/CaptureFrame calls
	// to return (0, nil) without touching the buffer, simulating driver
	// backpressure.
	FailNext int32

	volume float64
	muted  bool
	closed bool
}

// NewNullEndpoint returns a NullEndpoint ready for either role.
func NewNullEndpoint() *NullEndpoint {
	return &NullEndpoint{volume: 1.0}
}

func (n *NullEndpoint) Start() error { return nil }
func (n *NullEndpoint) Stop() error  { return nil }

func (n *NullEndpoint) RenderFrame(buf []byte) (int, error) {
	if atomic.LoadInt32(&n.FailNext) > 0 {
		atomic.AddInt32(&n.FailNext, -1)
		return 0, nil
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	cp := append([]byte(nil), buf...)
	n.rendered = append(n.rendered, cp)
	return len(buf), nil
}

func (n *NullEndpoint) CaptureFrame(buf []byte) (int, error) {
	if atomic.LoadInt32(&n.FailNext) > 0 {
		atomic.AddInt32(&n.FailNext, -1)
		return 0, nil
	}
	n.mu.Lock()
	n.captureN++
	n.mu.Unlock()
	for i := range buf {
		buf[i] = 0
	}
	return len(buf), nil
}

// Rendered returns a snapshot of every buffer accepted by RenderFrame.
func (n *NullEndpoint) Rendered() [][]byte {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([][]byte(nil), n.rendered...)
}

func (n *NullEndpoint) SetVolume(v float64) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.volume = v
	return nil
}

func (n *NullEndpoint) SetMute(m bool) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.muted = m
	return nil
}

func (n *NullEndpoint) SelectScene(category audiotypes.AudioCategory, pin string) error {
	return nil
}

func (n *NullEndpoint) GetLatency() (int64, error) {
	return 0, errUnsupported
}

func (n *NullEndpoint) Close() error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.closed = true
	return nil
}

var _ hai.DriverEndpoint = (*NullEndpoint)(nil)
