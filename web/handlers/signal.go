package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"time"

	"nhooyr.io/websocket"

	"github.com/openglance/glance/internal/broker"
)

// SignalHandler is the websocket endpoint carrying the relay protocol.
// Each accepted connection becomes a broker peer; the broker decides
// everything else (role binding, relaying, conflict handling).
type SignalHandler struct {
	broker         *broker.Broker
	allowedOrigins []string
}

// NewSignalHandler creates the signaling endpoint over the given broker.
func NewSignalHandler(b *broker.Broker, allowedOrigins []string) *SignalHandler {
	return &SignalHandler{broker: b, allowedOrigins: allowedOrigins}
}

// ServeHTTP upgrades the connection and pumps frames into the broker
// until the transport closes.
func (h *SignalHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: h.allowedOrigins,
	})
	if err != nil {
		log.Printf("ERROR: signal: websocket upgrade failed: %v", err)
		return
	}
	// Capture frames ride this socket as JSON with base64 payloads, so
	// allow more than the 32 KiB default.
	conn.SetReadLimit(8 << 20)

	ctx, cancel := context.WithCancel(r.Context())
	peer := &signalPeer{
		conn:    conn,
		send:    make(chan []byte, 64),
		closeCh: make(chan closeRequest, 1),
		ctx:     ctx,
		cancel:  cancel,
	}
	h.broker.Attach(peer)
	go peer.writePump()

	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			break
		}
		h.broker.HandleMessage(peer, data)
	}

	h.broker.Detach(peer)
	peer.cancel()
	_ = conn.Close(websocket.StatusNormalClosure, "")
}

// closeRequest asks the write pump to drain and close with a code.
type closeRequest struct {
	code   websocket.StatusCode
	reason string
}

// signalPeer adapts one websocket connection to broker.Peer. Send
// enqueues without blocking the broker; the write pump owns all socket
// writes, including the final close frame.
type signalPeer struct {
	conn    *websocket.Conn
	send    chan []byte
	closeCh chan closeRequest
	ctx     context.Context
	cancel  context.CancelFunc
}

// Send queues a message for delivery. Returns an error when the peer is
// gone or its queue is saturated; the broker treats both as best-effort
// delivery failures.
func (p *signalPeer) Send(msg broker.Message) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("signal: marshal failed: %w", err)
	}
	select {
	case <-p.ctx.Done():
		return fmt.Errorf("signal: connection closed")
	default:
	}
	select {
	case p.send <- data:
		return nil
	default:
		return fmt.Errorf("signal: send queue full")
	}
}

// Close asks the write pump to flush queued messages (the role-conflict
// error envelope in particular) and then close with the given code.
func (p *signalPeer) Close(code int, reason string) {
	select {
	case p.closeCh <- closeRequest{code: websocket.StatusCode(code), reason: reason}:
	default:
		// A close is already pending.
	}
}

// writePump drains the send queue onto the socket.
func (p *signalPeer) writePump() {
	for {
		select {
		case data := <-p.send:
			if !p.write(data) {
				return
			}
		case req := <-p.closeCh:
			p.drain()
			p.cancel()
			_ = p.conn.Close(req.code, req.reason)
			return
		case <-p.ctx.Done():
			return
		}
	}
}

// drain writes whatever is still queued before a close.
func (p *signalPeer) drain() {
	for {
		select {
		case data := <-p.send:
			if !p.write(data) {
				return
			}
		default:
			return
		}
	}
}

// write performs one socket write with a timeout. Reports whether the
// connection is still usable.
func (p *signalPeer) write(data []byte) bool {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	err := p.conn.Write(ctx, websocket.MessageText, data)
	cancel()
	if err != nil {
		p.cancel()
		return false
	}
	return true
}
