package voicebridge

import (
	"context"
	"net/http"
	"net/url"
	"sync"
	"time"

	"nhooyr.io/websocket"
)

// WSChannel is a websocket-backed event channel. It is used when no WebRTC
// realtime target is available: the provider multiplexes events over the
// /openai/realtime websocket instead of a peer connection data channel.
// Audio then travels base64-encoded over the same channel, so this path
// trades latency for not needing a media stack.
type WSChannel struct {
	cfg Config

	conn       *websocket.Conn
	writeMu    sync.Mutex
	readCancel context.CancelFunc
	closedCh   chan struct{}
	closeOnce  sync.Once
}

// DialWS connects the realtime websocket and begins delivering raw inbound
// text frames to onMessage in arrival order.
func DialWS(ctx context.Context, cfg Config, onMessage func(raw string)) (*WSChannel, error) {
	if err := ValidateConfig(cfg); err != nil {
		return nil, err
	}

	u, err := url.Parse(cfg.Endpoint)
	if err != nil {
		return nil, NewConfigError("Endpoint", cfg.Endpoint, "invalid URL format")
	}
	if u.Scheme == "https" {
		u.Scheme = "wss"
	} else {
		u.Scheme = "ws" // HTTP only for testing
	}
	u.Path = "/openai/realtime"
	q := u.Query()
	q.Set("api-version", cfg.apiVersion())
	q.Set("deployment", cfg.model())
	u.RawQuery = q.Encode()

	h := http.Header{}
	cfg.Credential.apply(h)

	ws, _, err := websocket.Dial(ctx, u.String(), &websocket.DialOptions{HTTPHeader: h})
	if err != nil {
		return nil, NewNegotiationError(u.String(), 0, "", err)
	}

	ch := &WSChannel{cfg: cfg, conn: ws, closedCh: make(chan struct{})}
	cfg.log("ws_connected", map[string]any{"url": u.String()})

	rcCtx, cancel := context.WithCancel(context.Background())
	ch.readCancel = cancel
	go ch.readLoop(rcCtx, ws, onMessage)
	go ch.pingLoop()
	return ch, nil
}

// Ready reports whether the websocket is open for writing.
func (ch *WSChannel) Ready() bool {
	select {
	case <-ch.closedCh:
		return false
	default:
	}
	ch.writeMu.Lock()
	defer ch.writeMu.Unlock()
	return ch.conn != nil
}

// SendText writes one text frame with a bounded write timeout.
func (ch *WSChannel) SendText(ctx context.Context, text string) error {
	ch.writeMu.Lock()
	defer ch.writeMu.Unlock()
	if ch.conn == nil {
		return ErrClosed
	}

	ctx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()
	return ch.conn.Write(ctx, websocket.MessageText, []byte(text))
}

// Close shuts the channel down. Safe to call multiple times.
func (ch *WSChannel) Close() error {
	if ch.readCancel != nil {
		ch.readCancel()
	}

	ch.writeMu.Lock()
	if ch.conn != nil {
		_ = ch.conn.Close(websocket.StatusNormalClosure, "closing")
		ch.conn = nil
	}
	ch.writeMu.Unlock()

	ch.closeOnce.Do(func() { close(ch.closedCh) })
	return nil
}

// readLoop forwards inbound text frames until the connection closes.
// Decoding happens downstream; the channel only moves raw frames. The
// connection is passed in rather than read from the field: Close nils
// ch.conn under writeMu, and reads are interrupted through ctx and the
// connection close, so the loop never touches the guarded field.
func (ch *WSChannel) readLoop(ctx context.Context, conn *websocket.Conn, onMessage func(string)) {
	defer func() {
		ch.writeMu.Lock()
		if ch.conn != nil {
			_ = ch.conn.Close(websocket.StatusNormalClosure, "reader_exit")
			ch.conn = nil
		}
		ch.writeMu.Unlock()
		ch.closeOnce.Do(func() { close(ch.closedCh) })
	}()

	for {
		typ, data, err := conn.Read(ctx)
		if err != nil {
			return
		}
		if typ != websocket.MessageText {
			continue
		}
		onMessage(string(data))
	}
}

func (ch *WSChannel) pingLoop() {
	t := time.NewTicker(20 * time.Second)
	defer t.Stop()
	for {
		select {
		case <-ch.closedCh:
			return
		case <-t.C:
			ch.writeMu.Lock()
			if ch.conn != nil {
				_ = ch.conn.Ping(context.Background())
			}
			ch.writeMu.Unlock()
		}
	}
}

// WSTransport adapts a WSChannel to the Transport interface. The websocket
// handshake already carried the resource credential, so Negotiate applies
// the session configuration over the channel instead of exchanging SDP.
type WSTransport struct {
	cfg   Config
	tools []map[string]any
	ch    *WSChannel
}

// NewWSEstablisher returns an Establisher that connects over websocket.
// tools are the declarations to register via session.update once connected.
func NewWSEstablisher(cfg Config, tools []map[string]any) Establisher {
	return func(ctx context.Context, onMessage func(string), onStatus func(Status)) (Transport, error) {
		onStatus(StatusEstablishing)
		ch, err := DialWS(ctx, cfg, onMessage)
		if err != nil {
			return nil, err
		}
		return &WSTransport{cfg: cfg, tools: tools, ch: ch}, nil
	}
}

// Negotiate implements Transport by pushing the session configuration over
// the already-authenticated channel.
func (t *WSTransport) Negotiate(ctx context.Context, _ *SessionDescriptor) error {
	session := map[string]any{
		"input_audio_transcription": map[string]any{
			"model":    t.cfg.model(),
			"language": t.cfg.language(),
		},
	}
	if t.cfg.Instructions != "" {
		session["instructions"] = t.cfg.Instructions
	}
	if len(t.tools) > 0 {
		session["tools"] = t.tools
	}
	return SendJSON(ctx, t.ch, map[string]any{"type": "session.update", "session": session})
}

// Channel implements Transport.
func (t *WSTransport) Channel() Channel { return t.ch }

// Close implements Transport.
func (t *WSTransport) Close() error { return t.ch.Close() }
