// Package events carries the ops feed: a WebSocket fan-out of msgpack
// envelopes, served by the gateway and the worker and consumed by the ops
// monitor and any browser tooling.
package events

import (
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/parleyhq/parley/pkg/protocol"
)

const (
	writeTimeout = 10 * time.Second
	readTimeout  = 60 * time.Second
	pingInterval = 30 * time.Second

	// publishBuffer absorbs bursts; Publish drops rather than stall the
	// caller when consumers cannot keep up.
	publishBuffer = 256
)

type client struct {
	conn *websocket.Conn

	wmu  sync.Mutex // serializes writes to the conn
	room string     // filter; "" receives every room
}

func (c *client) send(data []byte) error {
	c.wmu.Lock()
	defer c.wmu.Unlock()
	c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return c.conn.WriteMessage(websocket.BinaryMessage, data)
}

// Broadcaster fans envelopes out to every connected feed consumer. A new
// connection gets the firehose; a Subscribe message narrows it to one room.
type Broadcaster struct {
	upgrader websocket.Upgrader

	mu    sync.RWMutex
	conns map[*client]struct{}

	queue chan *protocol.Envelope
	done  chan struct{}
	once  sync.Once
}

func NewBroadcaster(allowedOrigins []string) *Broadcaster {
	allowed := make(map[string]bool, len(allowedOrigins))
	for _, origin := range allowedOrigins {
		allowed[origin] = true
	}

	b := &Broadcaster{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				origin := r.Header.Get("Origin")
				if origin == "" || allowed["*"] {
					return true
				}
				return allowed[origin]
			},
		},
		conns: make(map[*client]struct{}),
		queue: make(chan *protocol.Envelope, publishBuffer),
		done:  make(chan struct{}),
	}
	go b.fanOut()
	return b
}

// Publish enqueues an envelope for delivery. It never blocks the caller; a
// full queue drops the envelope with a warning.
func (b *Broadcaster) Publish(env *protocol.Envelope) {
	select {
	case b.queue <- env:
	case <-b.done:
	default:
		slog.Warn("events: feed backlog full, dropping envelope", "type", env.Type.String())
	}
}

// Handler serves one feed consumer until its connection drops.
func (b *Broadcaster) Handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := b.upgrader.Upgrade(w, r, nil)
		if err != nil {
			slog.Error("events: upgrade failed", "error", err)
			return
		}

		c := &client{conn: conn}
		b.mu.Lock()
		b.conns[c] = struct{}{}
		total := len(b.conns)
		b.mu.Unlock()
		slog.Info("events: consumer connected", "remote", conn.RemoteAddr().String(), "total", total)

		defer b.drop(c)

		stop := make(chan struct{})
		defer close(stop)
		go b.pingLoop(c, stop)

		b.readLoop(c)
	}
}

// readLoop consumes inbound messages: Subscribe envelopes adjust the room
// filter, everything else is ignored.
func (b *Broadcaster) readLoop(c *client) {
	c.conn.SetReadDeadline(time.Now().Add(readTimeout))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(readTimeout))
		return nil
	})

	for {
		messageType, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				slog.Debug("events: read error", "error", err)
			}
			return
		}
		if messageType != websocket.BinaryMessage {
			continue
		}

		env, err := protocol.DecodeEnvelope(data)
		if err != nil {
			b.sendEnvelope(c, protocol.NewEnvelope("", protocol.TypeError, protocol.Error{
				Code:    "invalid_envelope",
				Message: err.Error(),
			}))
			continue
		}
		if env.Type != protocol.TypeSubscribe {
			continue
		}

		sub, err := protocol.DecodeBody[protocol.Subscribe](env)
		if err != nil {
			b.sendEnvelope(c, protocol.NewEnvelope("", protocol.TypeSubscribeAck, protocol.SubscribeAck{
				Success: false,
				Error:   err.Error(),
			}))
			continue
		}

		b.mu.Lock()
		c.room = sub.Room
		b.mu.Unlock()

		b.sendEnvelope(c, protocol.NewEnvelope(sub.Room, protocol.TypeSubscribeAck, protocol.SubscribeAck{
			Room:    sub.Room,
			Success: true,
		}))
	}
}

func (b *Broadcaster) pingLoop(c *client, stop <-chan struct{}) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-b.done:
			return
		case <-ticker.C:
			c.wmu.Lock()
			c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			err := c.conn.WriteMessage(websocket.PingMessage, nil)
			c.wmu.Unlock()
			if err != nil {
				return
			}
		}
	}
}

// fanOut delivers queued envelopes to every matching consumer.
func (b *Broadcaster) fanOut() {
	for {
		select {
		case <-b.done:
			return
		case env := <-b.queue:
			data, err := env.Encode()
			if err != nil {
				slog.Error("events: failed to encode envelope", "type", env.Type.String(), "error", err)
				continue
			}

			b.mu.RLock()
			targets := make([]*client, 0, len(b.conns))
			for c := range b.conns {
				if c.room == "" || c.room == env.Room {
					targets = append(targets, c)
				}
			}
			b.mu.RUnlock()

			for _, c := range targets {
				if err := c.send(data); err != nil {
					slog.Debug("events: dropping consumer after write failure", "error", err)
					b.drop(c)
				}
			}
		}
	}
}

func (b *Broadcaster) sendEnvelope(c *client, env *protocol.Envelope) {
	data, err := env.Encode()
	if err != nil {
		return
	}
	if err := c.send(data); err != nil {
		b.drop(c)
	}
}

func (b *Broadcaster) drop(c *client) {
	b.mu.Lock()
	_, present := b.conns[c]
	delete(b.conns, c)
	b.mu.Unlock()
	if present {
		c.conn.Close()
	}
}

// Count reports connected consumers.
func (b *Broadcaster) Count() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.conns)
}

// Close disconnects every consumer and stops delivery.
func (b *Broadcaster) Close() {
	b.once.Do(func() {
		close(b.done)
		b.mu.Lock()
		for c := range b.conns {
			c.conn.Close()
		}
		b.conns = make(map[*client]struct{})
		b.mu.Unlock()
	})
}
