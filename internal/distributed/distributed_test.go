package distributed

import (
	"encoding/json"
	"testing"

	"github.com/pion/webrtc/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kestrel-audio/audiocore/pkg/audiotypes"
)

func TestSignallingOfferRoundTripsThroughJSON(t *testing.T) {
	offer := SignallingOffer{
		NetworkID: "distributed-speaker-1",
		Role:      audiotypes.DeviceRoleOutput,
		WebRTCSessionDescription: webrtc.SessionDescription{
			Type: webrtc.SDPTypeOffer,
			SDP:  "v=0",
		},
	}

	body, err := json.Marshal(offer)
	require.NoError(t, err)

	var decoded SignallingOffer
	require.NoError(t, json.Unmarshal(body, &decoded))
	assert.Equal(t, offer.NetworkID, decoded.NetworkID)
	assert.Equal(t, offer.Role, decoded.Role)
	assert.Equal(t, offer.WebRTCSessionDescription.SDP, decoded.WebRTCSessionDescription.SDP)
}

func TestControlMessageRoundTripsThroughJSON(t *testing.T) {
	cm := controlMessage{Op: opVolume, Volume: 0.42}
	body, err := json.Marshal(cm)
	require.NoError(t, err)

	var decoded controlMessage
	require.NoError(t, json.Unmarshal(body, &decoded))
	assert.Equal(t, opVolume, decoded.Op)
	assert.InDelta(t, 0.42, decoded.Volume, 1e-9)
}

func TestNewLinkOutputRoleBuildsEncoderOnly(t *testing.T) {
	link, err := newLink(nil, "net-1", audiotypes.DeviceRoleOutput, audiotypes.SampleSpec{SampleRate: 48000, ChannelCount: 2}, nil)
	require.NoError(t, err)
	assert.NotNil(t, link.encoder)
	assert.Nil(t, link.decoder)
}

func TestNewLinkInputRoleBuildsDecoderOnly(t *testing.T) {
	link, err := newLink(nil, "net-1", audiotypes.DeviceRoleInput, audiotypes.SampleSpec{SampleRate: 48000, ChannelCount: 1}, nil)
	require.NoError(t, err)
	assert.Nil(t, link.encoder)
	assert.NotNil(t, link.decoder)
}

func TestNewLinkDefaultsMissingSampleSpec(t *testing.T) {
	link, err := newLink(nil, "net-1", audiotypes.DeviceRoleOutput, audiotypes.SampleSpec{}, nil)
	require.NoError(t, err)
	assert.Equal(t, uint32(48000), link.spec.SampleRate)
	assert.Equal(t, uint32(2), link.spec.ChannelCount)
}

func TestOnControlMessageAppliesVolumeAndMute(t *testing.T) {
	link, err := newLink(nil, "net-1", audiotypes.DeviceRoleOutput, audiotypes.SampleSpec{SampleRate: 48000, ChannelCount: 2}, nil)
	require.NoError(t, err)

	volBody, _ := json.Marshal(controlMessage{Op: opVolume, Volume: 0.3})
	link.onControlMessage(webrtc.DataChannelMessage{Data: volBody})
	link.mu.Lock()
	assert.InDelta(t, 0.3, link.volume, 1e-9)
	link.mu.Unlock()

	muteBody, _ := json.Marshal(controlMessage{Op: opMute, Mute: true})
	link.onControlMessage(webrtc.DataChannelMessage{Data: muteBody})
	link.mu.Lock()
	assert.True(t, link.muted)
	link.mu.Unlock()
}

func TestOnControlMessageIgnoresMalformedPayload(t *testing.T) {
	link, err := newLink(nil, "net-1", audiotypes.DeviceRoleOutput, audiotypes.SampleSpec{SampleRate: 48000, ChannelCount: 2}, nil)
	require.NoError(t, err)

	link.onControlMessage(webrtc.DataChannelMessage{Data: []byte("not json")})
	link.mu.Lock()
	assert.Equal(t, 1.0, link.volume)
	link.mu.Unlock()
}

func TestRenderFrameWithoutAudioChannelIsIllegalState(t *testing.T) {
	link, err := newLink(nil, "net-1", audiotypes.DeviceRoleOutput, audiotypes.SampleSpec{SampleRate: 48000, ChannelCount: 2}, nil)
	require.NoError(t, err)

	buf := make([]byte, 64)
	_, err = link.RenderFrame(buf)
	assert.Error(t, err)
}

func TestSendControlWithoutControlChannelIsIllegalState(t *testing.T) {
	link, err := newLink(nil, "net-1", audiotypes.DeviceRoleOutput, audiotypes.SampleSpec{SampleRate: 48000, ChannelCount: 2}, nil)
	require.NoError(t, err)

	err = link.sendControl(controlMessage{Op: opStart})
	assert.Error(t, err)
}

func TestCaptureFrameTimesOutWithoutIncomingData(t *testing.T) {
	link, err := newLink(nil, "net-1", audiotypes.DeviceRoleInput, audiotypes.SampleSpec{SampleRate: 48000, ChannelCount: 1}, nil)
	require.NoError(t, err)

	// No frame ever arrives, so CaptureFrame fails once captureReadTimeout
	// elapses.
	done := make(chan struct{})
	go func() {
		buf := make([]byte, 64)
		_, err := link.CaptureFrame(buf)
		assert.Error(t, err)
		close(done)
	}()

	select {
	case <-done:
	case <-link.incoming:
		t.Fatal("unexpected data on incoming channel")
	}
}

func TestGetLatencyIsUnsupported(t *testing.T) {
	link, err := newLink(nil, "net-1", audiotypes.DeviceRoleOutput, audiotypes.SampleSpec{SampleRate: 48000, ChannelCount: 2}, nil)
	require.NoError(t, err)

	_, err = link.GetLatency()
	assert.Error(t, err)
}

func TestSelectSceneWithoutControlChannelIsIllegalState(t *testing.T) {
	link, err := newLink(nil, "net-1", audiotypes.DeviceRoleOutput, audiotypes.SampleSpec{SampleRate: 48000, ChannelCount: 2}, nil)
	require.NoError(t, err)

	err = link.SelectScene(audiotypes.CategoryInMedia, "speaker")
	assert.Error(t, err)
}
