package web

import (
	"encoding/json"
	"log"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"radiosonde-ng/internal/rs41"
)

const (
	feedClientQueue = 64
	feedWriteWait   = 5 * time.Second
)

// FeedMessage is one decoded record pushed to /api/live subscribers.
type FeedMessage struct {
	TimeUTC string `json:"time_utc"`
	rs41.SondeData
}

// Feed fans decoded records out to websocket subscribers. A subscriber that
// cannot keep up loses messages instead of stalling the decoder.
type Feed struct {
	upgrader websocket.Upgrader

	mu      sync.Mutex
	clients map[*feedClient]struct{}
	closed  bool

	sent    atomic.Uint64
	dropped atomic.Uint64
}

type feedClient struct {
	conn *websocket.Conn
	send chan []byte
	done chan struct{}
}

type FeedSnapshot struct {
	Clients int    `json:"clients"`
	Sent    uint64 `json:"sent"`
	Dropped uint64 `json:"dropped"`
}

func NewFeed() *Feed {
	return &Feed{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			// Read-only telemetry; any page may subscribe.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		clients: map[*feedClient]struct{}{},
	}
}

// Publish queues d for every subscriber. Records without a serial are
// skipped.
func (f *Feed) Publish(nowUTC time.Time, d *rs41.SondeData) {
	if f == nil || d == nil || d.Serial == "" {
		return
	}
	b, err := json.Marshal(FeedMessage{TimeUTC: nowUTC.UTC().Format(time.RFC3339Nano), SondeData: *d})
	if err != nil {
		return
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	for c := range f.clients {
		select {
		case c.send <- b:
		default:
			f.dropped.Add(1)
		}
	}
}

func (f *Feed) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := f.upgrader.Upgrade(w, r, nil)
		if err != nil {
			// Upgrade already wrote the HTTP error.
			return
		}
		c := &feedClient{conn: conn, send: make(chan []byte, feedClientQueue), done: make(chan struct{})}

		f.mu.Lock()
		if f.closed {
			f.mu.Unlock()
			_ = conn.Close()
			return
		}
		f.clients[c] = struct{}{}
		f.mu.Unlock()
		log.Printf("live feed subscriber connected remote=%s", r.RemoteAddr)

		go f.readLoop(c)
		f.writeLoop(c)

		f.remove(c)
		_ = conn.Close()
		log.Printf("live feed subscriber disconnected remote=%s", r.RemoteAddr)
	})
}

// readLoop only watches for the peer going away.
func (f *Feed) readLoop(c *feedClient) {
	defer close(c.done)
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (f *Feed) writeLoop(c *feedClient) {
	for {
		select {
		case <-c.done:
			return
		case b, ok := <-c.send:
			if !ok {
				_ = c.conn.SetWriteDeadline(time.Now().Add(feedWriteWait))
				_ = c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
			_ = c.conn.SetWriteDeadline(time.Now().Add(feedWriteWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, b); err != nil {
				return
			}
			f.sent.Add(1)
		}
	}
}

func (f *Feed) remove(c *feedClient) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.clients[c]; ok {
		delete(f.clients, c)
		close(c.send)
	}
}

// Close disconnects every subscriber and refuses new ones.
func (f *Feed) Close() {
	if f == nil {
		return
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	for c := range f.clients {
		delete(f.clients, c)
		close(c.send)
	}
}

func (f *Feed) Snapshot() FeedSnapshot {
	f.mu.Lock()
	n := len(f.clients)
	f.mu.Unlock()
	return FeedSnapshot{Clients: n, Sent: f.sent.Load(), Dropped: f.dropped.Load()}
}
