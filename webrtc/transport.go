// Package webrtc provides the WebRTC audio transport for voicebridge,
// built on pion. It exchanges an SDP offer with the provider's realtime
// endpoint using the ephemeral session credential, streams local audio
// over a PCMU track, and exposes the "oai-events" data channel as the
// conversation's event channel.
package webrtc

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sync"
	"time"

	pion "github.com/pion/webrtc/v3"

	"github.com/soracall/voicebridge"
)

// eventChannelLabel is the data channel label the provider listens on.
const eventChannelLabel = "oai-events"

// Options configures the WebRTC transport.
type Options struct {
	// Source supplies outbound audio. Defaults to silence when nil.
	Source AudioSource

	// Region selects the realtime endpoint when the session descriptor
	// does not carry a transport URL.
	Region string

	// Deployment is the model deployment, used in the constructed realtime
	// URL when the session descriptor names none.
	Deployment string

	// IceServers overrides the default ICE configuration.
	IceServers []pion.ICEServer

	// HTTPClient is used for the SDP exchange.
	HTTPClient *http.Client

	// OnAudioRTP, when set, is invoked periodically with the count of
	// inbound audio packets received.
	OnAudioRTP func(pkts uint64)

	// Logger receives transport diagnostics.
	Logger func(event string, fields map[string]any)
}

// RegionRealtimeURL returns the regional realtime WebRTC endpoint.
func RegionRealtimeURL(region string) string {
	return fmt.Sprintf("https://%s.realtimeapi-preview.ai.azure.com/v1/realtimertc", region)
}

// NewEstablisher returns an Establisher that acquires the audio source and
// builds a WebRTC peer connection with a pending local offer. The SDP
// exchange itself happens later, in Negotiate, once a session descriptor
// with an ephemeral credential is available.
func NewEstablisher(opt Options) voicebridge.Establisher {
	return func(ctx context.Context, onMessage func(string), onStatus func(voicebridge.Status)) (voicebridge.Transport, error) {
		onStatus(voicebridge.StatusAcquiringMedia)
		src := opt.Source
		if src == nil {
			src = NewSilenceSource()
		}
		if err := src.Start(); err != nil {
			return nil, voicebridge.NewMediaError("start", err)
		}

		onStatus(voicebridge.StatusEstablishing)
		t, err := newTransport(opt, src, onMessage)
		if err != nil {
			_ = src.Close()
			return nil, err
		}
		return t, nil
	}
}

// Transport is an established peer connection awaiting SDP negotiation.
type Transport struct {
	opt    Options
	source AudioSource
	pc     *pion.PeerConnection
	track  *pion.TrackLocalStaticSample
	offer  pion.SessionDescription

	mu       sync.Mutex
	localDC  *pion.DataChannel
	remoteDC *pion.DataChannel

	pumpOnce  sync.Once
	closeOnce sync.Once
	done      chan struct{}
}

func newTransport(opt Options, src AudioSource, onMessage func(string)) (*Transport, error) {
	cfg := pion.Configuration{}
	if len(opt.IceServers) > 0 {
		cfg.ICEServers = opt.IceServers
	}
	pc, err := pion.NewPeerConnection(cfg)
	if err != nil {
		return nil, voicebridge.NewMediaError("peer_connection", err)
	}

	t := &Transport{opt: opt, source: src, pc: pc, done: make(chan struct{})}

	t.track, err = pion.NewTrackLocalStaticSample(
		pion.RTPCodecCapability{MimeType: pion.MimeTypePCMU, ClockRate: 8000, Channels: 1},
		"audio", "voicebridge",
	)
	if err != nil {
		_ = pc.Close()
		return nil, voicebridge.NewMediaError("track", err)
	}
	if _, err := pc.AddTrack(t.track); err != nil {
		_ = pc.Close()
		return nil, voicebridge.NewMediaError("add_track", err)
	}

	dc, err := pc.CreateDataChannel(eventChannelLabel, nil)
	if err != nil {
		_ = pc.Close()
		return nil, voicebridge.NewMediaError("data_channel", err)
	}
	dc.OnOpen(func() { t.log("event_channel_open", map[string]any{"label": dc.Label()}) })
	dc.OnMessage(func(m pion.DataChannelMessage) { onMessage(string(m.Data)) })
	t.localDC = dc

	// Some provider builds open their own data channel back to us instead
	// of answering on ours; a remote channel supersedes the local one.
	pc.OnDataChannel(func(rdc *pion.DataChannel) {
		t.log("remote_event_channel", map[string]any{"label": rdc.Label()})
		rdc.OnMessage(func(m pion.DataChannelMessage) { onMessage(string(m.Data)) })
		t.mu.Lock()
		t.remoteDC = rdc
		t.mu.Unlock()
	})

	pc.OnTrack(func(track *pion.TrackRemote, _ *pion.RTPReceiver) {
		var pkts uint64
		buf := make([]byte, 1500)
		for {
			_, _, e := track.Read(buf)
			if e != nil {
				return
			}
			pkts++
			if t.opt.OnAudioRTP != nil && pkts%200 == 0 {
				t.opt.OnAudioRTP(pkts)
			}
		}
	})

	offer, err := pc.CreateOffer(nil)
	if err != nil {
		_ = pc.Close()
		return nil, voicebridge.NewMediaError("create_offer", err)
	}
	if err := pc.SetLocalDescription(offer); err != nil {
		_ = pc.Close()
		return nil, voicebridge.NewMediaError("set_local_description", err)
	}
	t.offer = offer
	return t, nil
}

// Negotiate completes the SDP offer/answer exchange with the realtime
// endpoint named by the session descriptor, falling back to the regional
// URL when the descriptor carries none, and starts the audio pump.
func (t *Transport) Negotiate(ctx context.Context, desc *voicebridge.SessionDescriptor) error {
	if desc == nil || desc.EphemeralKey == "" {
		return fmt.Errorf("sdp exchange requires a session credential: %w", voicebridge.ErrNoCredential)
	}

	target, err := t.targetURL(desc)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target, bytes.NewBufferString(t.offer.SDP))
	if err != nil {
		return voicebridge.NewNegotiationError(target, 0, "", err)
	}
	req.Header.Set("Authorization", "Bearer "+desc.EphemeralKey)
	req.Header.Set("Content-Type", "application/sdp")

	resp, err := t.httpClient().Do(req)
	if err != nil {
		return voicebridge.NewNegotiationError(target, 0, "", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return voicebridge.NewNegotiationError(target, resp.StatusCode, "", err)
	}
	if resp.StatusCode/100 != 2 {
		return voicebridge.NewNegotiationError(target, resp.StatusCode, string(body), nil)
	}

	answer := pion.SessionDescription{Type: pion.SDPTypeAnswer, SDP: string(body)}
	if err := t.pc.SetRemoteDescription(answer); err != nil {
		return voicebridge.NewNegotiationError(target, resp.StatusCode, "", err)
	}

	t.log("sdp_exchange_complete", map[string]any{"url": target})
	t.pumpOnce.Do(func() { go t.pumpAudio() })
	return nil
}

// targetURL resolves the realtime endpoint: the descriptor's URL when the
// provider supplied one, otherwise the regional URL with the model query.
// The model name itself is probed from the descriptor before falling back
// to the configured deployment.
func (t *Transport) targetURL(desc *voicebridge.SessionDescriptor) (string, error) {
	if desc.RealtimeURL != "" {
		return desc.RealtimeURL, nil
	}

	deployment := t.opt.Deployment
	for _, k := range []string{"deployment", "model"} {
		if s, ok := desc.Raw[k].(string); ok && s != "" {
			deployment = s
			break
		}
	}
	if t.opt.Region == "" || deployment == "" {
		return "", fmt.Errorf("no realtime URL in session and no region/deployment configured: %w", voicebridge.ErrNoTarget)
	}
	return RegionRealtimeURL(t.opt.Region) + "?model=" + url.QueryEscape(deployment), nil
}

// Channel returns the event channel. A provider-opened remote channel is
// preferred once present.
func (t *Transport) Channel() voicebridge.Channel {
	return &dataChannel{t: t}
}

// Close tears down the peer connection and releases the audio source.
func (t *Transport) Close() error {
	t.closeOnce.Do(func() { close(t.done) })
	_ = t.source.Close()
	return t.pc.Close()
}

// pumpAudio paces samples from the source onto the local track. The pump
// stops at source EOF, on write failure, or when the transport closes.
func (t *Transport) pumpAudio() {
	ticker := time.NewTicker(frameDuration)
	defer ticker.Stop()
	for {
		select {
		case <-t.done:
			return
		case <-ticker.C:
		}

		sample, err := t.source.NextSample()
		if err != nil {
			if err != io.EOF {
				t.log("audio_source_error", map[string]any{"err": err.Error()})
			}
			return
		}
		if err := t.track.WriteSample(sample); err != nil {
			t.log("audio_write_error", map[string]any{"err": err.Error()})
			return
		}
	}
}

func (t *Transport) httpClient() *http.Client {
	if t.opt.HTTPClient != nil {
		return t.opt.HTTPClient
	}
	return &http.Client{Timeout: 20 * time.Second}
}

func (t *Transport) log(event string, fields map[string]any) {
	if t.opt.Logger != nil {
		t.opt.Logger(event, fields)
	}
}

// dataChannel adapts a pion data channel to the voicebridge Channel
// interface. It re-resolves the active channel on every call so that a
// remote channel opened after negotiation takes over transparently.
type dataChannel struct {
	t *Transport
}

func (c *dataChannel) active() *pion.DataChannel {
	c.t.mu.Lock()
	defer c.t.mu.Unlock()
	if c.t.remoteDC != nil && c.t.remoteDC.ReadyState() == pion.DataChannelStateOpen {
		return c.t.remoteDC
	}
	return c.t.localDC
}

func (c *dataChannel) Ready() bool {
	dc := c.active()
	return dc != nil && dc.ReadyState() == pion.DataChannelStateOpen
}

func (c *dataChannel) SendText(_ context.Context, text string) error {
	dc := c.active()
	if dc == nil {
		return voicebridge.ErrChannelMissing
	}
	return dc.SendText(text)
}
