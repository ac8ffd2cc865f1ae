// Package hdi implements the sink and source timing engines that bridge a
// pull-mode mixer to a push-mode driver endpoint: one dedicated goroutine
// per loaded ModuleInstance, paced against rtpoll, accounting for dropped
// samples when the driver falls behind.
package hdi

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/kestrel-audio/audiocore/internal/hai"
	"github.com/kestrel-audio/audiocore/internal/rtpoll"
	"github.com/kestrel-audio/audiocore/pkg/audioerr"
	"github.com/kestrel-audio/audiocore/pkg/audiotypes"
)

// EndpointState is the lifecycle of a loaded HDI endpoint, driven by
// SetStateInIoThread.
type EndpointState int

const (
	StateInit EndpointState = iota
	StateSuspended
	StateRunning
	StateUnlinked
)

// Mixer is the pull-mode collaborator a Sink asks for the next chunk to
// render; the mixing daemon's sink object in spec terms. internal/hdi never
// constructs one — it is supplied by whatever owns the ModuleInstance.
type Mixer interface {
	// RenderChunk asks the mixer to fill up to maxLen bytes. It may
	// return fewer than maxLen if it has less to offer right now; it
	// never blocks.
	RenderChunk(maxLen int) []byte
	// Rewind is invoked when the sink wants to roll back previously
	// delivered-but-unconsumed audio, forwarded from RequestRewind.
	Rewind(nBytes int)
	// UnloadRequested is called when the IO thread hits a fatal error
	// and is giving up; the mixer is responsible for tearing the
	// ModuleInstance down.
	UnloadRequested(err error)
}

// SourceMixer is the pull-side counterpart for a Source: it receives
// captured chunks pushed up from the IO thread.
type SourceMixer interface {
	PostCapturedChunk(buf []byte)
	UnloadRequested(err error)
}

// Sink is the HDI Sink Timing Engine for one ModuleInstance (spec.md §4.1).
type Sink struct {
	logger *slog.Logger
	name   string

	driver hai.DriverEndpoint
	spec   audiotypes.SampleSpec
	mixer  Mixer

	poll *rtpoll.Poll

	mu            sync.Mutex
	state         EndpointState
	blockUsec     time.Duration
	maxRequest    int
	timestamp     time.Duration
	bytesDropped  int64
	rewindPending int
	started       bool

	cancel context.CancelFunc
	done   chan struct{}
}

// OpenPort creates the driver endpoint's timing loop. The endpoint starts
// SUSPENDED; the caller drives it to RUNNING via SetStateInIoThread once the
// mixer has attached a sink-input.
func OpenPort(name string, driver hai.DriverEndpoint, spec audiotypes.SampleSpec, blockUsec time.Duration, mixer Mixer, logger *slog.Logger) (*Sink, error) {
	if driver == nil || mixer == nil {
		return nil, audioerr.New(audioerr.KindInvalidParam, "hdi.OpenPort", nil)
	}
	if logger == nil {
		logger = slog.Default()
	}
	if err := driver.Start(); err != nil {
		return nil, audioerr.New(audioerr.KindDeviceInit, "hdi.OpenPort", err)
	}

	bytesPerSec := float64(spec.SampleRate) * float64(spec.ChannelCount) * 2
	maxRequest := int(bytesPerSec * blockUsec.Seconds())

	s := &Sink{
		logger:     logger.With("sink", name),
		name:       name,
		driver:     driver,
		spec:       spec,
		mixer:      mixer,
		poll:       rtpoll.New(),
		state:      StateSuspended,
		blockUsec:  blockUsec,
		maxRequest: maxRequest,
		done:       make(chan struct{}),
	}
	return s, nil
}

// usecToBytes converts a duration to a byte count at this sink's sample
// rate, matching pa_usec_to_bytes's role in the original timing loop.
func (s *Sink) usecToBytes(d time.Duration) int {
	bytesPerSec := float64(s.spec.SampleRate) * float64(s.spec.ChannelCount) * 2
	return int(bytesPerSec * d.Seconds())
}

func (s *Sink) bytesToUsec(n int) time.Duration {
	bytesPerSec := float64(s.spec.SampleRate) * float64(s.spec.ChannelCount) * 2
	if bytesPerSec == 0 {
		return 0
	}
	return time.Duration(float64(n) / bytesPerSec * float64(time.Second))
}

// SetStateInIoThread drives the legal transitions: INIT→RUNNING,
// SUSPENDED→RUNNING (device reinit), RUNNING→SUSPENDED (stop + teardown),
// *→UNLINKED.
func (s *Sink) SetStateInIoThread(newState EndpointState) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	old := s.state
	switch {
	case newState == StateRunning && (old == StateInit || old == StateSuspended):
		s.timestamp = rtpoll.Now()
		if old == StateSuspended {
			if err := s.driver.Start(); err != nil {
				return audioerr.New(audioerr.KindDeviceInit, "Sink.SetStateInIoThread", err)
			}
			if err := s.driver.SetVolume(1.0); err != nil {
				s.logger.Warn("failed to reset volume to max on reinit", "err", err)
			}
		}
		s.state = StateRunning
		if !s.started {
			s.started = true
			s.startLoop()
		}
	case newState == StateSuspended && old == StateRunning:
		if err := s.driver.Stop(); err != nil {
			s.logger.Warn("driver stop failed during suspend", "err", err)
		}
		s.bytesDropped = 0
		s.state = StateSuspended
	case newState == StateUnlinked:
		s.state = StateUnlinked
		if s.cancel != nil {
			s.cancel()
		}
		s.poll.Stop()
	default:
		return audioerr.New(audioerr.KindIllegalState, "Sink.SetStateInIoThread", fmt.Errorf("%v -> %v", old, newState))
	}
	return nil
}

// ProcessMsg implements GET_LATENCY: the driver's reported latency, or the
// time since the last timestamp advance if the driver can't report one.
// Never negative.
func (s *Sink) ProcessMsg() (time.Duration, error) {
	if usec, err := s.driver.GetLatency(); err == nil {
		return time.Duration(usec) * time.Microsecond, nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	d := rtpoll.Now() - s.timestamp
	if d < 0 {
		d = 0
	}
	return d, nil
}

// RequestRewind records a rewind request; the IO goroutine forwards it to
// the mixer's Rewind at the start of its next iteration.
func (s *Sink) RequestRewind(nBytes int) {
	s.mu.Lock()
	s.rewindPending = nBytes
	s.mu.Unlock()
}

// UpdateRequestedLatency sets blockUsec and recomputes maxRequestBytes.
func (s *Sink) UpdateRequestedLatency(d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.blockUsec = d
	s.maxRequest = s.usecToBytes(d)
}

// BytesDropped reports the running total of bytes dropped since the last
// clean reset (observable only via stats, not an error — spec.md §7).
func (s *Sink) BytesDropped() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.bytesDropped
}

func (s *Sink) startLoop() {
	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	go s.ioLoop(ctx)
}

// ioLoop is the dedicated IO thread (goroutine) for this endpoint. One
// iteration mirrors ProcessRenderUseTiming/ThreadFuncUseTiming: fill to
// blockUsec ahead of now, track drops, arm the poll at the next due time.
func (s *Sink) ioLoop(ctx context.Context) {
	defer close(s.done)
	for {
		s.mu.Lock()
		running := s.state == StateRunning
		rewind := s.rewindPending
		s.rewindPending = 0
		s.mu.Unlock()

		if rewind > 0 {
			s.mixer.Rewind(rewind)
		}

		if running {
			now := rtpoll.Now()
			s.mu.Lock()
			if s.timestamp <= now {
				s.renderUseTiming(now)
			}
			s.poll.SetTimerAbsolute(s.timestamp)
			s.mu.Unlock()
		} else {
			s.poll.SetTimerDisabled()
		}

		ret, err := s.poll.Run(ctx)
		if err != nil {
			s.logger.Error("rtpoll failed, posting unload", "err", err)
			s.mixer.UnloadRequested(audioerr.New(audioerr.KindOperationFailed, "Sink.ioLoop", err))
			return
		}
		if ret == 0 {
			s.logger.Debug("sink io thread shutting down")
			return
		}
	}
}

// renderUseTiming fills the buffer up to blockUsec ahead of now, always
// requesting a full chunk from the mixer (RenderFull semantics — see
// DESIGN.md's Open Question decision on pa_sink_render vs
// pa_sink_render_full). Caller holds s.mu.
func (s *Sink) renderUseTiming(now time.Duration) {
	consumed := 0
	for s.timestamp < now+s.blockUsec {
		chunk := s.mixer.RenderChunk(s.maxRequest)
		if len(chunk) == 0 {
			break
		}

		written := s.renderWrite(chunk)

		// Pacing always advances by the full chunk length, win or lose:
		// a fatal driver error still has to retire the chunk's worth of
		// playback time, or the timer deadline never catches up to now
		// and the poll loop spins instead of sleeping.
		s.timestamp += s.bytesToUsec(len(chunk))

		dropped := len(chunk) - written
		if s.bytesDropped != 0 && dropped != len(chunk) {
			s.logger.Info("sink continuously dropped bytes", "bytesDropped", s.bytesDropped)
			s.bytesDropped = 0
		}
		if s.bytesDropped == 0 && dropped != 0 {
			s.logger.Debug("sink just dropped bytes", "dropped", dropped)
		}
		s.bytesDropped += int64(dropped)

		consumed += len(chunk)
		if consumed >= s.maxRequest {
			break
		}
	}
}

// renderWrite writes chunk to the driver in a loop, matching RenderWrite's
// fatal conditions: writtenLen == 0 or writtenLen > remaining length both
// terminate the write early. Returns the bytes actually written before a
// fatal error, if any; the caller accounts the remainder of chunk as
// dropped regardless of where the failure happened.
func (s *Sink) renderWrite(chunk []byte) (written int) {
	index := 0
	length := len(chunk)
	for {
		n, err := s.driver.RenderFrame(chunk[index : index+length])
		if err != nil || n > length || n == 0 {
			return written
		}
		written += n
		index += n
		length -= n
		if length <= 0 {
			return written
		}
	}
}

// Close tears the endpoint down unconditionally, used on ModuleInstance
// unload.
func (s *Sink) Close() error {
	_ = s.SetStateInIoThread(StateUnlinked)
	<-s.doneOrClosed()
	return s.driver.Close()
}

func (s *Sink) doneOrClosed() <-chan struct{} {
	s.mu.Lock()
	started := s.started
	s.mu.Unlock()
	if !started {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return s.done
}
