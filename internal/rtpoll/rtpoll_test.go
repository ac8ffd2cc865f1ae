package rtpoll

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestRunFiresAtDeadline(t *testing.T) {
	p := New()
	p.SetTimerAbsolute(Now() + 10*time.Millisecond)
	ret, err := p.Run(context.Background())
	assert.NoError(t, err)
	assert.Equal(t, 1, ret)
}

func TestRunReturnsZeroOnStop(t *testing.T) {
	p := New()
	p.SetTimerDisabled()
	go func() {
		time.Sleep(5 * time.Millisecond)
		p.Stop()
	}()
	ret, err := p.Run(context.Background())
	assert.NoError(t, err)
	assert.Equal(t, 0, ret)
}

func TestRunReturnsErrorOnCancel(t *testing.T) {
	p := New()
	p.SetTimerDisabled()
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(5 * time.Millisecond)
		cancel()
	}()
	_, err := p.Run(ctx)
	assert.Error(t, err)
}

func TestPastDeadlineFiresImmediately(t *testing.T) {
	p := New()
	p.SetTimerAbsolute(Now() - time.Second)
	ret, err := p.Run(context.Background())
	assert.NoError(t, err)
	assert.Equal(t, 1, ret)
}
