// Package client implements the participant side of a live class: it joins a
// room through the signaling relay and drives one peer connection per remote
// participant.
package client

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 64 * 1024
)

// Transport is the controller's view of the signaling channel. Incoming is
// closed when the connection dies.
type Transport interface {
	Send(v any) error
	Incoming() <-chan []byte
	Close()
}

// WSTransport talks to the relay over a websocket.
type WSTransport struct {
	conn     *websocket.Conn
	incoming chan []byte
	outgoing chan []byte
	done     chan struct{}
	once     sync.Once
}

// Dial connects to the relay's signaling endpoint (ws://host/api/ws/signal).
func Dial(ctx context.Context, serverURL string) (*WSTransport, error) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, serverURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to connect: %w", err)
	}

	t := &WSTransport{
		conn:     conn,
		incoming: make(chan []byte, 16),
		outgoing: make(chan []byte, 16),
		done:     make(chan struct{}),
	}

	conn.SetReadLimit(maxMessageSize)
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	go t.readPump()
	go t.writePump()
	return t, nil
}

func (t *WSTransport) readPump() {
	defer func() {
		_ = t.conn.Close()
		close(t.incoming)
	}()

	_ = t.conn.SetReadDeadline(time.Now().Add(pongWait))
	for {
		_, data, err := t.conn.ReadMessage()
		if err != nil {
			return
		}
		select {
		case t.incoming <- data:
		case <-t.done:
			return
		}
	}
}

func (t *WSTransport) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = t.conn.Close()
	}()

	for {
		select {
		case data := <-t.outgoing:
			_ = t.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := t.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		case <-ticker.C:
			_ = t.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := t.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-t.done:
			_ = t.conn.SetWriteDeadline(time.Now().Add(writeWait))
			_ = t.conn.WriteMessage(websocket.CloseMessage, []byte{})
			return
		}
	}
}

func (t *WSTransport) Send(v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal signaling message: %w", err)
	}
	select {
	case t.outgoing <- b:
		return nil
	case <-t.done:
		return fmt.Errorf("transport closed")
	}
}

func (t *WSTransport) Incoming() <-chan []byte { return t.incoming }

func (t *WSTransport) Close() {
	t.once.Do(func() {
		close(t.done)
		log.Info().Str("module", "client.transport").Msg("transport closed")
	})
}
