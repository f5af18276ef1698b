package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log"
	"net"
	"net/http"
	"sync"
	"time"

	"golang.org/x/net/websocket"

	apperrors "github.com/louisbranch/retroboard/internal/platform/errors"
	"github.com/louisbranch/retroboard/internal/platform/requestctx"
	"github.com/louisbranch/retroboard/internal/platform/timeouts"
	"github.com/louisbranch/retroboard/internal/services/retro/domain"
	"github.com/louisbranch/retroboard/internal/services/retro/eventbus"
	"github.com/louisbranch/retroboard/internal/services/retro/session"
)

const (
	maxFramePayloadBytes   = 16 * 1024
	maxFramesPerSecond     = 40
	maxDecodeErrorsPerConn = 3

	frameJoined    = "retro.joined"
	frameEvent     = "retro.event"
	frameError     = "retro.error"
	framePing      = "retro.ping"
	framePong      = "retro.pong"
	frameKeepAlive = "retro.keepalive"
)

type wsFrame struct {
	Type      string          `json:"type"`
	RequestID string          `json:"request_id,omitempty"`
	Payload   json.RawMessage `json:"payload"`
}

type joinedPayload struct {
	Retro      domain.RetroView `json:"retro"`
	ServerTime string           `json:"server_time"`
}

type eventPayload struct {
	Event domain.EventView `json:"event"`
}

type pongPayload struct {
	ServerTime string `json:"server_time"`
}

type wsPeer struct {
	mu      sync.Mutex
	conn    *websocket.Conn
	encoder *json.Encoder
}

func newWSPeer(conn *websocket.Conn) *wsPeer {
	return &wsPeer{conn: conn, encoder: json.NewEncoder(conn)}
}

func (p *wsPeer) writeFrame(frame wsFrame) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	_ = p.conn.SetWriteDeadline(time.Now().Add(timeouts.WSWrite))
	return p.encoder.Encode(frame)
}

func (p *wsPeer) writeError(requestID string, body errorBody) error {
	return p.writeFrame(wsFrame{
		Type:      frameError,
		RequestID: requestID,
		Payload:   mustJSON(errorEnvelope{Error: body}),
	})
}

func mustJSON(v any) json.RawMessage {
	b, err := json.Marshal(v)
	if err != nil {
		log.Printf("retro: marshal websocket frame payload: %v", err)
		return nil
	}
	return b
}

func serverTime() string {
	return time.Now().UTC().Format(time.RFC3339)
}

// stream authenticates the caller and upgrades to a WebSocket carrying the
// retro's events as the caller sees them.
func (h *handler) stream(w http.ResponseWriter, r *http.Request) {
	user, err := h.requireUser(r)
	if err != nil {
		log.Printf("retro: websocket unauthorized host=%q remote=%s path=%q err=%v", r.Host, r.RemoteAddr, r.URL.Path, err)
		writeError(w, r, err)
		return
	}
	sess, err := h.registry.Get(r.PathValue("id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	locale := localeFromRequest(r)
	websocket.Handler(func(conn *websocket.Conn) {
		serveStream(conn, sess, user, locale)
	}).ServeHTTP(w, r)
}

func serveStream(conn *websocket.Conn, sess *session.Session, user requestctx.User, locale string) {
	defer func() {
		_ = conn.Close()
	}()
	peer := newWSPeer(conn)
	ctx := context.Background()
	if req := conn.Request(); req != nil {
		ctx = req.Context()
	}

	sub, view, err := sess.SubscribeAndView(ctx, user.ID)
	if err != nil {
		_ = peer.writeError("", errorBodyFor(err, locale))
		return
	}
	if err := peer.writeFrame(wsFrame{
		Type:    frameJoined,
		Payload: mustJSON(joinedPayload{Retro: view, ServerTime: serverTime()}),
	}); err != nil {
		sub.Close()
		return
	}

	joinCtx, cancel := context.WithTimeout(ctx, timeouts.Command)
	_, err = sess.Execute(joinCtx, domain.Join{UserID: user.ID, Username: user.Username, Stream: true})
	cancel()
	if err != nil {
		sub.Close()
		_ = peer.writeError("", errorBodyFor(err, locale))
		return
	}

	forwardDone := make(chan struct{})
	go func() {
		defer close(forwardDone)
		forwardEvents(conn, peer, sub, locale)
	}()

	readFrames(conn, peer)

	sub.Close()
	<-forwardDone

	leaveCtx, cancel := context.WithTimeout(context.Background(), timeouts.Command)
	defer cancel()
	if _, err := sess.Execute(leaveCtx, domain.Leave{UserID: user.ID, Stream: true}); err != nil &&
		apperrors.CodeOf(err) != apperrors.CodeSessionClosed {
		log.Printf("retro: leave after disconnect failed retro=%q user=%q err=%v", sess.ID(), user.ID, err)
	}
}

// forwardEvents writes every event of sub to the peer and sends a keep-alive
// frame when the stream is idle. When the subscription ends for any reason
// other than Close, the peer gets an error frame and the connection closes.
func forwardEvents(conn *websocket.Conn, peer *wsPeer, sub *eventbus.Subscription, locale string) {
	keepAlive := time.NewTicker(timeouts.WSKeepAlive)
	defer keepAlive.Stop()
	for {
		select {
		case evt, ok := <-sub.Events():
			if !ok {
				closeStream(conn, peer, sub.Err(), locale)
				return
			}
			if err := peer.writeFrame(wsFrame{Type: frameEvent, Payload: mustJSON(eventPayload{Event: evt})}); err != nil {
				_ = conn.Close()
				return
			}
			keepAlive.Reset(timeouts.WSKeepAlive)
		case <-keepAlive.C:
			if err := peer.writeFrame(wsFrame{Type: frameKeepAlive, Payload: mustJSON(pongPayload{ServerTime: serverTime()})}); err != nil {
				_ = conn.Close()
				return
			}
		}
	}
}

func closeStream(conn *websocket.Conn, peer *wsPeer, reason error, locale string) {
	switch {
	case reason == nil:
		return
	case errors.Is(reason, eventbus.ErrSubscriberLagging):
		_ = peer.writeError("", errorBody{Code: "RESOURCE_EXHAUSTED", Message: "subscriber fell too far behind", Retryable: true})
	case errors.Is(reason, eventbus.ErrBusClosed):
		_ = peer.writeError("", errorBodyFor(apperrors.New(apperrors.CodeSessionClosed, "retro closed"), locale))
	}
	_ = conn.Close()
}

// readFrames serves client frames until the peer disconnects or breaks the
// frame limits.
func readFrames(conn *websocket.Conn, peer *wsPeer) {
	decoder := json.NewDecoder(conn)
	windowStart := time.Now()
	framesInWindow := 0
	decodeErrors := 0

	for {
		var frame wsFrame
		if err := decoder.Decode(&frame); err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, net.ErrClosed) {
				return
			}
			var syntaxErr *json.SyntaxError
			var typeErr *json.UnmarshalTypeError
			if !errors.As(err, &syntaxErr) && !errors.As(err, &typeErr) {
				return
			}
			decodeErrors++
			_ = peer.writeError("", errorBody{Code: string(apperrors.CodeInvalidArgument), Message: "invalid frame payload"})
			if decodeErrors >= maxDecodeErrorsPerConn {
				return
			}
			decoder = json.NewDecoder(conn)
			continue
		}
		decodeErrors = 0

		if len(frame.Payload) > maxFramePayloadBytes {
			_ = peer.writeError(frame.RequestID, errorBody{Code: string(apperrors.CodeInvalidArgument), Message: "payload too large"})
			continue
		}

		now := time.Now()
		if now.Sub(windowStart) >= time.Second {
			windowStart = now
			framesInWindow = 0
		}
		framesInWindow++
		if framesInWindow > maxFramesPerSecond {
			_ = peer.writeError(frame.RequestID, errorBody{Code: "RESOURCE_EXHAUSTED", Message: "rate limit exceeded"})
			return
		}

		switch frame.Type {
		case framePing:
			_ = peer.writeFrame(wsFrame{
				Type:      framePong,
				RequestID: frame.RequestID,
				Payload:   mustJSON(pongPayload{ServerTime: serverTime()}),
			})
		default:
			_ = peer.writeError(frame.RequestID, errorBody{Code: string(apperrors.CodeInvalidArgument), Message: "unsupported frame type"})
		}
	}
}
