// Package rtpoll provides the monotonic clock and absolute-deadline wait
// primitive the HDI timing engines pace themselves against, standing in for
// pulseaudio's pa_rtclock_now/pa_rtpoll pairing.
package rtpoll

import (
	"context"
	"time"
)

// clockBase is the monotonic reading Now measures from.
var clockBase = time.Now()

// Now returns the time elapsed on a monotonic clock since the package was
// initialized, in the same units TimingEngineState.timestampUsec is
// expressed in.
func Now() time.Duration {
	return time.Since(clockBase)
}

// Poll is a one-shot, re-armable absolute-deadline timer plus a stop
// signal, modeling the rtpoll loop each HDI IO thread blocks in between
// render/capture iterations.
type Poll struct {
	deadline time.Duration
	disabled bool
	stop     chan struct{}
}

// New returns a Poll with its timer disabled.
func New() *Poll {
	return &Poll{disabled: true, stop: make(chan struct{})}
}

// SetTimerAbsolute arms the timer to fire at the given deadline (same clock
// as Now).
func (p *Poll) SetTimerAbsolute(deadline time.Duration) {
	p.deadline = deadline
	p.disabled = false
}

// SetTimerDisabled disables the timer; Run then blocks only on Stop or ctx
// cancellation.
func (p *Poll) SetTimerDisabled() {
	p.disabled = true
}

// Run blocks until the armed deadline elapses, Stop is called, or ctx is
// done. It returns (1, nil) on a normal timer/wake, (0, nil) on Stop (clean
// exit, mirrors pa_rtpoll_run returning 0), or a non-nil error on ctx
// cancellation (mirrors pa_rtpoll_run returning <0, a fatal rtpoll error).
func (p *Poll) Run(ctx context.Context) (int, error) {
	if p.disabled {
		select {
		case <-p.stop:
			return 0, nil
		case <-ctx.Done():
			return -1, ctx.Err()
		}
	}

	now := Now()
	if p.deadline <= now {
		return 1, nil
	}

	timer := time.NewTimer(p.deadline - now)
	defer timer.Stop()

	select {
	case <-timer.C:
		return 1, nil
	case <-p.stop:
		return 0, nil
	case <-ctx.Done():
		return -1, ctx.Err()
	}
}

// Stop unblocks any in-progress or future Run call with a clean exit.
// Stop is idempotent.
func (p *Poll) Stop() {
	select {
	case <-p.stop:
	default:
		close(p.stop)
	}
}
