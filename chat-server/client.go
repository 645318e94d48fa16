package main

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/gosuda/socket-chat/chat-server/chat"
)

const (
	writeWait    = 10 * time.Second
	pongWait     = 60 * time.Second
	pingInterval = 30 * time.Second
)

// Client is one websocket connection. It implements chat.Sink.
type Client struct {
	id     string
	conn   *websocket.Conn
	router *chat.Router
	log    zerolog.Logger

	readLimit int64
	send      chan chat.Event
	done      chan struct{}
	closeOnce sync.Once
}

func NewClient(id string, conn *websocket.Conn, router *chat.Router, cfg Config, log zerolog.Logger) *Client {
	return &Client{
		id:        id,
		conn:      conn,
		router:    router,
		log:       log.With().Str("conn", id).Logger(),
		readLimit: int64(cfg.ReadLimit),
		send:      make(chan chat.Event, cfg.SendBuffer),
		done:      make(chan struct{}),
	}
}

func (c *Client) ID() string { return c.id }

// Send queues ev for the write loop. When the queue is full the oldest
// event is discarded.
func (c *Client) Send(ev chat.Event) {
	for {
		select {
		case <-c.done:
			return
		default:
		}
		select {
		case c.send <- ev:
			return
		default:
		}
		select {
		case <-c.send:
			c.log.Debug().Str("type", ev.Type).Msg("send buffer full, dropped oldest")
		default:
		}
	}
}

// Close stops the write loop, which closes the socket.
func (c *Client) Close() {
	c.closeOnce.Do(func() { close(c.done) })
}

func (c *Client) readLoop() {
	defer func() {
		c.router.Disconnect(c.id)
		c.Close()
	}()
	c.conn.SetReadLimit(c.readLimit)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		_, payload, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseNoStatusReceived) {
				c.log.Debug().Err(err).Msg("read message")
			}
			return
		}
		var in chat.Inbound
		if err := json.Unmarshal(payload, &in); err != nil || in.Type == "" {
			c.log.Debug().Err(err).Msg("malformed envelope")
			continue
		}
		c.router.Dispatch(c.id, in)
	}
}

func (c *Client) writeLoop() {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()
	for {
		select {
		case ev := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := writeJSON(c.conn, ev); err != nil {
				c.log.Debug().Err(err).Msg("write json")
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-c.done:
			_ = c.conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, ""),
				time.Now().Add(writeWait))
			return
		}
	}
}

// writeJSON writes v as one text frame without escaping <, > and &.
func writeJSON(conn *websocket.Conn, v any) error {
	w, err := conn.NextWriter(websocket.TextMessage)
	if err != nil {
		return err
	}
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		_ = w.Close()
		return err
	}
	return w.Close()
}
