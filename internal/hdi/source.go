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

// MicMuteSource is consulted by the Source at every (re)init so the
// driver's mute flag reflects the volume store's process-wide mic-mute
// state (spec.md §4.2, §4.5), without internal/hdi depending on
// internal/volumestore directly.
type MicMuteSource interface {
	MicrophoneMuted() bool
}

// Source is the HDI Source Timing Engine for one ModuleInstance, symmetric
// to Sink for capture (spec.md §4.2).
type Source struct {
	logger *slog.Logger
	name   string

	driver  hai.DriverEndpoint
	spec    audiotypes.SampleSpec
	mixer   SourceMixer
	micMute MicMuteSource

	poll *rtpoll.Poll

	mu              sync.Mutex
	state           EndpointState
	blockUsec       time.Duration
	bufferSize      int
	timestamp       time.Duration
	capturerStarted bool
	started         bool

	cancel context.CancelFunc
	done   chan struct{}
}

// OpenSourcePort mirrors Sink's OpenPort for the capture direction. The
// source starts IDLE (modeled here as StateSuspended — see spec.md §4.2's
// IDLE↔SUSPENDED note).
func OpenSourcePort(name string, driver hai.DriverEndpoint, spec audiotypes.SampleSpec, blockUsec time.Duration, bufferSize int, mixer SourceMixer, micMute MicMuteSource, logger *slog.Logger) (*Source, error) {
	if driver == nil || mixer == nil {
		return nil, audioerr.New(audioerr.KindInvalidParam, "hdi.OpenSourcePort", nil)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Source{
		logger:     logger.With("source", name),
		name:       name,
		driver:     driver,
		spec:       spec,
		mixer:      mixer,
		micMute:    micMute,
		poll:       rtpoll.New(),
		state:      StateSuspended,
		blockUsec:  blockUsec,
		bufferSize: bufferSize,
		done:       make(chan struct{}),
	}, nil
}

func (s *Source) usecToBytes(d time.Duration) int {
	bytesPerSec := float64(s.spec.SampleRate) * float64(s.spec.ChannelCount) * 2
	return int(bytesPerSec * d.Seconds())
}

func (s *Source) bytesToUsec(n int) time.Duration {
	bytesPerSec := float64(s.spec.SampleRate) * float64(s.spec.ChannelCount) * 2
	if bytesPerSec == 0 {
		return 0
	}
	return time.Duration(float64(n) / bytesPerSec * float64(time.Second))
}

func (s *Source) applyMicMute() {
	if s.micMute == nil {
		return
	}
	if err := s.driver.SetMute(s.micMute.MicrophoneMuted()); err != nil {
		s.logger.Warn("failed to apply mic mute on (re)init", "err", err)
	}
}

// SetStateInIoThread drives INIT/SUSPENDED→RUNNING (starting the capturer
// if it is not already started, then re-applying mic mute) and
// RUNNING→SUSPENDED (stopping the capturer only if it was started); any
// state may move to UNLINKED, which stops the IO goroutine.
func (s *Source) SetStateInIoThread(newState EndpointState) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	old := s.state
	switch {
	case newState == StateRunning && (old == StateInit || old == StateSuspended):
		s.timestamp = rtpoll.Now()
		if !s.capturerStarted {
			if err := s.driver.Start(); err != nil {
				return audioerr.New(audioerr.KindDeviceInit, "Source.SetStateInIoThread", err)
			}
			s.capturerStarted = true
		}
		s.applyMicMute()
		s.state = StateRunning
		if !s.started {
			s.started = true
			s.startLoop()
		}
	case newState == StateSuspended && old == StateRunning:
		if s.capturerStarted {
			if err := s.driver.Stop(); err != nil {
				s.logger.Warn("driver stop failed during suspend", "err", err)
			}
			s.capturerStarted = false
		}
		s.state = StateSuspended
	case newState == StateUnlinked:
		s.state = StateUnlinked
		if s.cancel != nil {
			s.cancel()
		}
		s.poll.Stop()
	default:
		return audioerr.New(audioerr.KindIllegalState, "Source.SetStateInIoThread", fmt.Errorf("%v -> %v", old, newState))
	}
	return nil
}

// ProcessMsg implements GET_LATENCY for a source, symmetric to Sink's.
func (s *Source) ProcessMsg() (time.Duration, error) {
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

// SetMicrophoneMute applies an immediate mute change to the driver, in
// addition to the store being consulted on every (re)init.
func (s *Source) SetMicrophoneMute(muted bool) error {
	if err := s.driver.SetMute(muted); err != nil {
		return audioerr.New(audioerr.KindOperationFailed, "Source.SetMicrophoneMute", err)
	}
	return nil
}

func (s *Source) startLoop() {
	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	go s.ioLoop(ctx)
}

// ioLoop mirrors hdi_source.c's thread_func: while RUNNING, compute bytes
// due since the last post, capture exactly that many, post the block
// upstream, advance the timestamp, and arm the timer at the next due time.
func (s *Source) ioLoop(ctx context.Context) {
	defer close(s.done)
	for {
		s.mu.Lock()
		running := s.state == StateRunning
		s.mu.Unlock()

		if running {
			now := rtpoll.Now()
			s.mu.Lock()
			due := s.usecToBytes(now - s.timestamp)
			if due > 0 {
				buf := make([]byte, due)
				actual, err := s.driver.CaptureFrame(buf)
				if err != nil || actual == 0 || actual > due {
					s.mu.Unlock()
					s.logger.Error("source capture fatal error, posting unload", "err", err, "actual", actual)
					s.mixer.UnloadRequested(audioerr.New(audioerr.KindOperationFailed, "Source.ioLoop", err))
					return
				}
				s.mixer.PostCapturedChunk(buf[:actual])
				s.timestamp += s.bytesToUsec(actual)
			}
			s.poll.SetTimerAbsolute(s.timestamp + s.blockUsec)
			s.mu.Unlock()
		} else {
			s.poll.SetTimerDisabled()
		}

		ret, err := s.poll.Run(ctx)
		if err != nil {
			s.logger.Error("rtpoll failed, posting unload", "err", err)
			s.mixer.UnloadRequested(audioerr.New(audioerr.KindOperationFailed, "Source.ioLoop", err))
			return
		}
		if ret == 0 {
			s.logger.Debug("source io thread shutting down")
			return
		}
	}
}

// Close tears the endpoint down unconditionally, used on ModuleInstance
// unload.
func (s *Source) Close() error {
	_ = s.SetStateInIoThread(StateUnlinked)
	<-s.doneOrClosed()
	return s.driver.Close()
}

func (s *Source) doneOrClosed() <-chan struct{} {
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
