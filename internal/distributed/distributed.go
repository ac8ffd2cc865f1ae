// Package distributed projects a hai.DriverEndpoint over the network to a
// remote HDI-equivalent device, standing in for the vendor "distributed
// audio" subsystem original_source's audio_adapter_manager.cpp assumes
// whenever a DeviceDescriptor carries a non-empty NetworkID. A Link
// negotiates a WebRTC peer connection with that remote endpoint and moves
// control messages and Opus-encoded PCM over two reliable, ordered data
// channels instead of local hardware.
package distributed

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/pion/webrtc/v4"
	"gopkg.in/hraban/opus.v2"

	"github.com/kestrel-audio/audiocore/internal/hai"
	"github.com/kestrel-audio/audiocore/pkg/audioerr"
	"github.com/kestrel-audio/audiocore/pkg/audiotypes"
)

const (
	controlChannelLabel = "control"
	audioChannelLabel   = "audio"

	// dataChannelOpenTimeout bounds how long Dial/accept wait for both
	// data channels to report open before giving up on the connection.
	dataChannelOpenTimeout = 10 * time.Second
	// captureReadTimeout bounds how long CaptureFrame waits for the next
	// decoded frame before returning a timeout error, so a stalled remote
	// endpoint can't wedge a timing-engine goroutine forever.
	captureReadTimeout = 2 * time.Second

	opusSamplesPerChannel = 960 // 20ms at 48kHz
)

// SignallingOffer is POSTed to a remote endpoint's offer URL to begin a
// distributed-device negotiation, mirroring the teacher's
// networking.SignallingOffer shape.
type SignallingOffer struct {
	NetworkID                string                    `json:"networkId"`
	Role                     audiotypes.DeviceRole     `json:"role"`
	WebRTCSessionDescription webrtc.SessionDescription `json:"sessionDescription"`
}

// SignallingAnswer is the response to a SignallingOffer.
type SignallingAnswer struct {
	WebRTCSessionDescription webrtc.SessionDescription `json:"sessionDescription"`
}

// controlMessage is the JSON envelope carried over the control data
// channel for the driver-endpoint lifecycle/volume/scene operations that
// don't belong on the audio-frame path.
type controlMessage struct {
	Op       string                   `json:"op"`
	Volume   float64                  `json:"volume,omitempty"`
	Mute     bool                     `json:"mute,omitempty"`
	Category audiotypes.AudioCategory `json:"category,omitempty"`
	Pin      string                   `json:"pin,omitempty"`
}

const (
	opStart  = "start"
	opStop   = "stop"
	opVolume = "volume"
	opMute   = "mute"
	opScene  = "scene"
)

// Link is a hai.DriverEndpoint that ships RenderFrame/CaptureFrame payloads
// to a remote network-projected device instead of local hardware.
type Link struct {
	logger *slog.Logger

	networkID string
	role      audiotypes.DeviceRole
	spec      audiotypes.SampleSpec

	pc      *webrtc.PeerConnection
	control *webrtc.DataChannel
	audio   *webrtc.DataChannel

	encoder *opus.Encoder
	decoder *opus.Decoder

	mu     sync.Mutex
	volume float64
	muted  bool

	incoming chan []int16
	closeOnce sync.Once
}

var _ hai.DriverEndpoint = (*Link)(nil)

func newLink(pc *webrtc.PeerConnection, networkID string, role audiotypes.DeviceRole, spec audiotypes.SampleSpec, logger *slog.Logger) (*Link, error) {
	if logger == nil {
		logger = slog.Default()
	}
	channels := int(spec.ChannelCount)
	if channels == 0 {
		channels = 2
	}
	sampleRate := int(spec.SampleRate)
	if sampleRate == 0 {
		sampleRate = 48000
	}

	var encoder *opus.Encoder
	var decoder *opus.Decoder
	var err error
	if role == audiotypes.DeviceRoleOutput {
		encoder, err = opus.NewEncoder(sampleRate, channels, opus.AppVoIP)
	} else {
		decoder, err = opus.NewDecoder(sampleRate, channels)
	}
	if err != nil {
		return nil, audioerr.Wrap(audioerr.KindDeviceInit, "distributed.newLink", "%w", err)
	}

	return &Link{
		logger:    logger.With("network id", networkID, "role", role),
		networkID: networkID,
		role:      role,
		spec:      audiotypes.SampleSpec{SampleRate: uint32(sampleRate), ChannelCount: uint32(channels)},
		pc:        pc,
		encoder:   encoder,
		decoder:   decoder,
		volume:    1.0,
		incoming:  make(chan []int16, 8),
	}, nil
}

// Dial negotiates a new distributed-device connection against a remote
// endpoint reachable at offerURL, generalizing the teacher's
// WebRTCConnectionManager.Dial offer/answer exchange from peer chat to
// device-transport control.
func Dial(ctx context.Context, config webrtc.Configuration, networkID, offerURL string, role audiotypes.DeviceRole, spec audiotypes.SampleSpec, logger *slog.Logger) (*Link, error) {
	pc, err := webrtc.NewPeerConnection(config)
	if err != nil {
		return nil, audioerr.Wrap(audioerr.KindDeviceInit, "distributed.Dial: NewPeerConnection", "%w", err)
	}

	link, err := newLink(pc, networkID, role, spec, logger)
	if err != nil {
		pc.Close()
		return nil, err
	}

	opened := make(chan struct{})
	var openOnce sync.Once
	signalOpen := func() { openOnce.Do(func() { close(opened) }) }

	control, err := pc.CreateDataChannel(controlChannelLabel, nil)
	if err != nil {
		pc.Close()
		return nil, audioerr.Wrap(audioerr.KindDeviceInit, "distributed.Dial: control channel", "%w", err)
	}
	link.control = control
	control.OnMessage(link.onControlMessage)

	audioDC, err := pc.CreateDataChannel(audioChannelLabel, nil)
	if err != nil {
		pc.Close()
		return nil, audioerr.Wrap(audioerr.KindDeviceInit, "distributed.Dial: audio channel", "%w", err)
	}
	link.audio = audioDC
	audioDC.OnMessage(link.onAudioMessage)
	audioDC.OnOpen(signalOpen)

	offer, err := pc.CreateOffer(nil)
	if err != nil {
		pc.Close()
		return nil, audioerr.Wrap(audioerr.KindDeviceInit, "distributed.Dial: CreateOffer", "%w", err)
	}
	gatherComplete := webrtc.GatheringCompletePromise(pc)
	if err := pc.SetLocalDescription(offer); err != nil {
		pc.Close()
		return nil, audioerr.Wrap(audioerr.KindDeviceInit, "distributed.Dial: SetLocalDescription", "%w", err)
	}
	select {
	case <-gatherComplete:
	case <-ctx.Done():
		pc.Close()
		return nil, ctx.Err()
	}

	answer, err := postSignallingOffer(ctx, offerURL, SignallingOffer{
		NetworkID:                networkID,
		Role:                     role,
		WebRTCSessionDescription: *pc.LocalDescription(),
	})
	if err != nil {
		pc.Close()
		return nil, err
	}
	if err := pc.SetRemoteDescription(answer.WebRTCSessionDescription); err != nil {
		pc.Close()
		return nil, audioerr.Wrap(audioerr.KindDeviceInit, "distributed.Dial: SetRemoteDescription", "%w", err)
	}

	select {
	case <-opened:
	case <-time.After(dataChannelOpenTimeout):
		pc.Close()
		return nil, audioerr.New(audioerr.KindDeviceInit, "distributed.Dial: data channel never opened", nil)
	case <-ctx.Done():
		pc.Close()
		return nil, ctx.Err()
	}

	link.logger.Info("distributed link established")
	return link, nil
}

func postSignallingOffer(ctx context.Context, offerURL string, offer SignallingOffer) (*SignallingAnswer, error) {
	body, err := json.Marshal(offer)
	if err != nil {
		return nil, audioerr.Wrap(audioerr.KindOperationFailed, "distributed.postSignallingOffer: marshal", "%w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, offerURL, bytes.NewReader(body))
	if err != nil {
		return nil, audioerr.Wrap(audioerr.KindOperationFailed, "distributed.postSignallingOffer: request", "%w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, audioerr.Wrap(audioerr.KindOperationFailed, "distributed.postSignallingOffer: do", "%w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, audioerr.New(audioerr.KindOperationFailed, fmt.Sprintf("distributed.postSignallingOffer: remote returned %d", resp.StatusCode), nil)
	}

	var answer SignallingAnswer
	if err := json.NewDecoder(resp.Body).Decode(&answer); err != nil {
		return nil, audioerr.Wrap(audioerr.KindOperationFailed, "distributed.postSignallingOffer: decode answer", "%w", err)
	}
	return &answer, nil
}

// Listener accepts incoming distributed-device offers on an HTTP handler,
// generalizing WebRTCConnectionManager.listenIncomingSessionOffers from
// "new chat peer" to "new remote HDI endpoint".
type Listener struct {
	logger *slog.Logger
	config webrtc.Configuration
	spec   audiotypes.SampleSpec

	// Accepted receives every Link established by an inbound offer.
	Accepted chan *Link
}

// NewListener returns a Listener ready to be mounted at a path via
// http.ServeMux.Handle(path, listener).
func NewListener(config webrtc.Configuration, spec audiotypes.SampleSpec, logger *slog.Logger) *Listener {
	if logger == nil {
		logger = slog.Default()
	}
	return &Listener{logger: logger, config: config, spec: spec, Accepted: make(chan *Link, 4)}
}

func (l *Listener) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var offer SignallingOffer
	if err := json.NewDecoder(r.Body).Decode(&offer); err != nil {
		http.Error(w, "bad offer", http.StatusBadRequest)
		return
	}

	// The remote's output becomes our input and vice versa.
	localRole := audiotypes.DeviceRoleInput
	if offer.Role == audiotypes.DeviceRoleInput {
		localRole = audiotypes.DeviceRoleOutput
	}

	pc, err := webrtc.NewPeerConnection(l.config)
	if err != nil {
		l.logger.Error("failed to create answering peer connection", "err", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	link, err := newLink(pc, offer.NetworkID, localRole, l.spec, l.logger)
	if err != nil {
		pc.Close()
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	opened := make(chan struct{})
	var openOnce sync.Once
	signalOpen := func() { openOnce.Do(func() { close(opened) }) }

	pc.OnDataChannel(func(dc *webrtc.DataChannel) {
		switch dc.Label() {
		case controlChannelLabel:
			link.control = dc
			dc.OnMessage(link.onControlMessage)
		case audioChannelLabel:
			link.audio = dc
			dc.OnMessage(link.onAudioMessage)
			dc.OnOpen(signalOpen)
		}
	})

	if err := pc.SetRemoteDescription(offer.WebRTCSessionDescription); err != nil {
		pc.Close()
		http.Error(w, "bad session description", http.StatusBadRequest)
		return
	}

	answer, err := pc.CreateAnswer(nil)
	if err != nil {
		pc.Close()
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	gatherComplete := webrtc.GatheringCompletePromise(pc)
	if err := pc.SetLocalDescription(answer); err != nil {
		pc.Close()
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	<-gatherComplete

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(SignallingAnswer{WebRTCSessionDescription: *pc.LocalDescription()})

	go func() {
		select {
		case <-opened:
			l.logger.Info("distributed link accepted", "network id", offer.NetworkID)
			l.Accepted <- link
		case <-time.After(dataChannelOpenTimeout):
			l.logger.Warn("distributed link never opened", "network id", offer.NetworkID)
			pc.Close()
		}
	}()
}

func (l *Link) onControlMessage(msg webrtc.DataChannelMessage) {
	var cm controlMessage
	if err := json.Unmarshal(msg.Data, &cm); err != nil {
		l.logger.Warn("malformed control message", "err", err)
		return
	}
	switch cm.Op {
	case opVolume:
		l.mu.Lock()
		l.volume = cm.Volume
		l.mu.Unlock()
	case opMute:
		l.mu.Lock()
		l.muted = cm.Mute
		l.mu.Unlock()
	default:
		l.logger.Debug("received remote control op", "op", cm.Op)
	}
}

func (l *Link) onAudioMessage(msg webrtc.DataChannelMessage) {
	channels := int(l.spec.ChannelCount)
	pcm := make([]int16, opusSamplesPerChannel*channels)
	n, err := l.decoder.Decode(msg.Data, pcm)
	if err != nil {
		l.logger.Warn("failed to decode incoming opus frame", "err", err)
		return
	}
	select {
	case l.incoming <- pcm[:n*channels]:
	default:
		l.logger.Warn("distributed capture buffer full, dropping frame")
	}
}

func (l *Link) sendControl(cm controlMessage) error {
	if l.control == nil {
		return audioerr.New(audioerr.KindIllegalState, "distributed.Link: control channel not established", nil)
	}
	body, err := json.Marshal(cm)
	if err != nil {
		return audioerr.Wrap(audioerr.KindOperationFailed, "distributed.Link.sendControl", "%w", err)
	}
	if err := l.control.SendText(string(body)); err != nil {
		return audioerr.Wrap(audioerr.KindOperationFailed, "distributed.Link.sendControl: send", "%w", err)
	}
	return nil
}

// Start notifies the remote endpoint that streaming is beginning.
func (l *Link) Start() error {
	return l.sendControl(controlMessage{Op: opStart})
}

// Stop notifies the remote endpoint that streaming has ended.
func (l *Link) Stop() error {
	return l.sendControl(controlMessage{Op: opStop})
}

// RenderFrame decodes buf as little-endian s16 samples, encodes them to
// Opus scaled by the current volume/mute state, and ships the result over
// the audio data channel.
func (l *Link) RenderFrame(buf []byte) (int, error) {
	if l.audio == nil {
		return 0, audioerr.New(audioerr.KindIllegalState, "distributed.Link.RenderFrame: audio channel not established", nil)
	}
	n := len(buf) / 2
	pcm := make([]int16, n)
	l.mu.Lock()
	vol := l.volume
	if l.muted {
		vol = 0
	}
	l.mu.Unlock()
	for i := 0; i < n; i++ {
		s := int16(binary.LittleEndian.Uint16(buf[i*2:]))
		pcm[i] = int16(float64(s) * vol)
	}

	encoded := make([]byte, len(buf))
	written, err := l.encoder.Encode(pcm, encoded)
	if err != nil {
		return 0, audioerr.Wrap(audioerr.KindOperationFailed, "distributed.Link.RenderFrame: encode", "%w", err)
	}
	if err := l.audio.Send(encoded[:written]); err != nil {
		return 0, audioerr.Wrap(audioerr.KindOperationFailed, "distributed.Link.RenderFrame: send", "%w", err)
	}
	return len(buf), nil
}

// CaptureFrame blocks until the next decoded Opus frame arrives from the
// remote endpoint, or captureReadTimeout elapses.
func (l *Link) CaptureFrame(buf []byte) (int, error) {
	select {
	case pcm := <-l.incoming:
		n := len(pcm)
		if n*2 > len(buf) {
			n = len(buf) / 2
		}
		l.mu.Lock()
		muted := l.muted
		l.mu.Unlock()
		if muted {
			for i := 0; i < n*2; i++ {
				buf[i] = 0
			}
			return n * 2, nil
		}
		for i := 0; i < n; i++ {
			binary.LittleEndian.PutUint16(buf[i*2:], uint16(pcm[i]))
		}
		return n * 2, nil
	case <-time.After(captureReadTimeout):
		return 0, audioerr.New(audioerr.KindOperationFailed, "distributed.Link.CaptureFrame: timed out waiting for remote frame", nil)
	}
}

func (l *Link) SetVolume(v float64) error {
	l.mu.Lock()
	l.volume = v
	l.mu.Unlock()
	return l.sendControl(controlMessage{Op: opVolume, Volume: v})
}

func (l *Link) SetMute(m bool) error {
	l.mu.Lock()
	l.muted = m
	l.mu.Unlock()
	return l.sendControl(controlMessage{Op: opMute, Mute: m})
}

// SelectScene forwards the category/pin pair to the remote endpoint; the
// remote side owns its own route table so this is advisory only.
func (l *Link) SelectScene(category audiotypes.AudioCategory, pin string) error {
	return l.sendControl(controlMessage{Op: opScene, Category: category, Pin: pin})
}

// GetLatency is unavailable over a data-channel transport with no
// round-trip timestamp exchange implemented; callers fall back to a
// timestamp-based estimate, same as internal/localdriver's endpoints.
func (l *Link) GetLatency() (int64, error) {
	return 0, audioerr.New(audioerr.KindOperationFailed, "distributed.Link.GetLatency: not supported", nil)
}

// Close tears down the underlying peer connection. Idempotent.
func (l *Link) Close() error {
	var err error
	l.closeOnce.Do(func() {
		err = l.pc.Close()
	})
	return err
}

// NetworkID returns the networkId this link was established against.
func (l *Link) NetworkID() string { return l.networkID }
