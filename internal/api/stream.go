package api

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"lunar-bazi/backend/internal/convert"
)

const (
	watcherQueueSize = 32
	writeWait        = 10 * time.Second
)

// watcher owns one websocket connection. Only its writer goroutine writes to conn.
type watcher struct {
	conn  *websocket.Conn
	queue chan []byte
	done  chan struct{}
	once  sync.Once
}

// ConversionNotifier fans conversion events out to websocket watchers.
// Publish never blocks on the network: each watcher drains a bounded queue
// and is dropped when it falls behind.
type ConversionNotifier struct {
	mu        sync.Mutex
	watchers  map[*watcher]struct{}
	lastEvent *convert.Event
}

// NewConversionNotifier constructs a notifier instance.
func NewConversionNotifier() *ConversionNotifier {
	return &ConversionNotifier{watchers: make(map[*watcher]struct{})}
}

// Register attaches a websocket connection and queues the most recent event for it.
func (n *ConversionNotifier) Register(conn *websocket.Conn) *watcher {
	w := &watcher{
		conn:  conn,
		queue: make(chan []byte, watcherQueueSize),
		done:  make(chan struct{}),
	}
	go w.writeLoop()

	n.mu.Lock()
	defer n.mu.Unlock()
	if n.lastEvent != nil {
		if payload, err := json.Marshal(n.lastEvent); err == nil {
			w.queue <- payload
		}
	}
	n.watchers[w] = struct{}{}
	return w
}

// Unregister detaches the watcher and closes its socket.
func (n *ConversionNotifier) Unregister(w *watcher) {
	if w == nil {
		return
	}
	n.mu.Lock()
	delete(n.watchers, w)
	n.mu.Unlock()
	w.close()
}

// Publish queues the event for every watcher. Watchers whose queue is full are dropped.
func (n *ConversionNotifier) Publish(event convert.Event) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}
	payload, err := json.Marshal(event)
	if err != nil {
		logrus.WithError(err).Warn("encode conversion event")
		return
	}

	var slow []*watcher
	n.mu.Lock()
	n.lastEvent = &event
	for w := range n.watchers {
		select {
		case w.queue <- payload:
		default:
			delete(n.watchers, w)
			slow = append(slow, w)
		}
	}
	n.mu.Unlock()

	for _, w := range slow {
		logrus.WithField("remote", w.conn.RemoteAddr().String()).Warn("dropping slow conversion watcher")
		w.close()
	}
}

// Clients returns the number of connected watchers.
func (n *ConversionNotifier) Clients() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.watchers)
}

// LastEvent returns a copy of the most recent event, if any.
func (n *ConversionNotifier) LastEvent() *convert.Event {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.lastEvent == nil {
		return nil
	}
	last := *n.lastEvent
	return &last
}

func (w *watcher) writeLoop() {
	for {
		select {
		case <-w.done:
			return
		case payload := <-w.queue:
			_ = w.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := w.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				w.close()
				return
			}
		}
	}
}

// close is safe to call from the writer, Publish and Unregister.
func (w *watcher) close() {
	w.once.Do(func() {
		close(w.done)
		_ = w.conn.Close()
	})
}
