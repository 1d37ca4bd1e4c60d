// Package diagnostics exposes a websocket stream of engine lifecycle
// events for external observability tooling, grounded on the teacher's
// coder/websocket usage and its sourcegraph/conc-managed goroutine
// lifecycles.
package diagnostics

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/goccy/go-json"
	"github.com/sourcegraph/conc"
	"golang.org/x/time/rate"
)

// Event is a single engine lifecycle notification broadcast to
// connected diagnostics subscribers.
type Event struct {
	Kind      string `json:"kind"`
	Operation string `json:"operation,omitempty"`
	Error     string `json:"error,omitempty"`
	FD        int    `json:"fd,omitempty"`
	At        int64  `json:"at"`
}

// Stream fans engine Observer callbacks out to any number of websocket
// subscribers. Each subscriber gets its own rate limiter; a subscriber
// that exceeds it is disconnected rather than allowed to back up the
// broadcast.
type Stream struct {
	mu              sync.Mutex
	subscribers     map[*subscriber]struct{}
	eventsPerSecond float64
	burst           int
	writeTimeout    time.Duration
	wg              conc.WaitGroup
	nowFn           func() int64
}

type subscriber struct {
	conn     *websocket.Conn
	limiter  *rate.Limiter
	done     chan struct{}
	closeErr sync.Once
}

func (sub *subscriber) disconnect() {
	sub.closeErr.Do(func() { close(sub.done) })
}

// NewStream builds a Stream. eventsPerSecond/burst bound how fast any
// one subscriber is fed; writeTimeout bounds each individual frame
// write.
func NewStream(eventsPerSecond float64, burst int, writeTimeout time.Duration) *Stream {
	if eventsPerSecond <= 0 {
		eventsPerSecond = 50
	}
	if burst <= 0 {
		burst = 100
	}
	if writeTimeout <= 0 {
		writeTimeout = 5 * time.Second
	}
	return &Stream{
		subscribers:     make(map[*subscriber]struct{}),
		eventsPerSecond: eventsPerSecond,
		burst:           burst,
		writeTimeout:    writeTimeout,
		nowFn:           func() int64 { return time.Now().UnixNano() },
	}
}

// ServeHTTP upgrades the request to a websocket and registers the
// connection as a subscriber until the client disconnects or the
// request context is cancelled.
func (s *Stream) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{InsecureSkipVerify: true})
	if err != nil {
		return
	}

	sub := &subscriber{
		conn:    conn,
		limiter: rate.NewLimiter(rate.Limit(s.eventsPerSecond), s.burst),
		done:    make(chan struct{}),
	}

	s.mu.Lock()
	s.subscribers[sub] = struct{}{}
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		delete(s.subscribers, sub)
		s.mu.Unlock()
		_ = conn.Close(websocket.StatusNormalClosure, "diagnostics stream closed")
	}()

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case <-sub.done:
			return
		}
	}
}

// Publish broadcasts ev to every connected subscriber. Each delivery
// runs in its own conc-managed goroutine so one stalled writer can't
// delay the others; a subscriber that can't keep up with its rate
// limit is disconnected rather than buffered without bound.
func (s *Stream) Publish(ev Event) {
	ev.At = s.nowFn()
	payload, err := json.Marshal(ev)
	if err != nil {
		return
	}

	s.mu.Lock()
	targets := make([]*subscriber, 0, len(s.subscribers))
	for sub := range s.subscribers {
		targets = append(targets, sub)
	}
	s.mu.Unlock()

	for _, sub := range targets {
		sub := sub
		s.wg.Go(func() {
			s.deliver(sub, payload)
		})
	}
}

func (s *Stream) deliver(sub *subscriber, payload []byte) {
	if !sub.limiter.Allow() {
		sub.disconnect()
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), s.writeTimeout)
	defer cancel()

	if err := sub.conn.Write(ctx, websocket.MessageText, payload); err != nil {
		sub.disconnect()
	}
}

// Close waits for any in-flight Publish deliveries to finish.
func (s *Stream) Close() {
	s.wg.Wait()
}
