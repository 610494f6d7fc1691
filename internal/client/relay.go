package client

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/confera/confera/internal/signaling"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 64 * 1024
)

var ErrRelayClosed = errors.New("relay connection closed")

// Relay manages the WebSocket connection to the relay server.
type Relay struct {
	conn     *websocket.Conn
	url      string
	codec    signaling.Codec
	log      *slog.Logger
	incoming chan *signaling.Frame
	outgoing chan *signaling.Message
	done     chan struct{}
	once     sync.Once
}

// NewRelay creates a relay client for cfg's server and codec.
func NewRelay(log *slog.Logger, cfg *Config) (*Relay, error) {
	codec, err := signaling.CodecByName(cfg.Codec)
	if err != nil {
		return nil, err
	}
	return &Relay{
		url:      cfg.WebSocketURL(),
		codec:    codec,
		log:      log,
		incoming: make(chan *signaling.Frame, 16),
		outgoing: make(chan *signaling.Message, 16),
		done:     make(chan struct{}),
	}, nil
}

// Connect establishes the WebSocket connection and starts the pumps.
func (r *Relay) Connect(ctx context.Context) error {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, r.url, nil)
	if err != nil {
		return fmt.Errorf("failed to connect: %w", err)
	}

	r.conn = conn
	r.conn.SetReadLimit(maxMessageSize)
	r.conn.SetPongHandler(func(string) error {
		r.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	go r.readPump()
	go r.writePump()

	return nil
}

// readPump decodes frames from the connection until it fails.
func (r *Relay) readPump() {
	defer func() {
		r.conn.Close()
		close(r.incoming)
	}()

	r.conn.SetReadDeadline(time.Now().Add(pongWait))

	for {
		_, data, err := r.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				r.log.Debug("Relay read failed", "err", err)
			}
			return
		}
		frame, err := r.codec.Decode(data)
		if err != nil {
			r.log.Debug("Dropping undecodable frame", "err", err)
			continue
		}
		select {
		case r.incoming <- frame:
		case <-r.done:
			return
		}
	}
}

// writePump writes messages to the connection and sends periodic pings.
func (r *Relay) writePump() {
	ticker := time.NewTicker(pingPeriod)

	defer func() {
		ticker.Stop()
		r.conn.Close()
	}()

	for {
		select {
		case msg := <-r.outgoing:
			data, err := r.codec.Encode(msg)
			if err != nil {
				r.log.Warn("Failed to encode message", "type", msg.Type, "err", err)
				continue
			}
			r.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := r.conn.WriteMessage(r.codec.FrameType(), data); err != nil {
				return
			}

		case <-ticker.C:
			r.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := r.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}

		case <-r.done:
			r.conn.SetWriteDeadline(time.Now().Add(writeWait))
			r.conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		}
	}
}

// Send queues a message for the server.
func (r *Relay) Send(eventType string, payload any) error {
	select {
	case r.outgoing <- &signaling.Message{Type: eventType, Payload: payload}:
		return nil
	case <-r.done:
		return ErrRelayClosed
	}
}

// Incoming returns the channel of decoded server frames. It is closed
// when the connection ends.
func (r *Relay) Incoming() <-chan *signaling.Frame {
	return r.incoming
}

// Close closes the connection. It is safe to call more than once.
func (r *Relay) Close() {
	r.once.Do(func() { close(r.done) })
}
