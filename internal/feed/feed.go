// Package feed subscribes to the platform's realtime channel and surfaces
// game lifecycle events, most importantly game.completed, which drives the
// rating updater.
package feed

import (
	"context"
	"strings"
	"sync"
	"time"

	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"
)

const EventGameCompleted = "game.completed"

// Event is one realtime message from the platform channel.
type Event struct {
	Type      string    `json:"type"`
	GameID    string    `json:"game_id"`
	EmittedAt time.Time `json:"emitted_at"`
}

type EventCallback func(*Event)

type State string

const (
	StateDisconnected State = "disconnected"
	StateConnecting   State = "connecting"
	StateConnected    State = "connected"
	StateReconnecting State = "reconnecting"
	StateFailed       State = "failed"
)

// session is one established connection together with its goroutine pair.
// done is closed exactly once when the connection is retired, which makes
// both the listen and ping loops of that connection exit. A reconnect
// creates a fresh session, so loops from a dead connection never survive
// into the next one.
type session struct {
	ws       *websocket.Conn
	done     chan struct{}
	doneOnce sync.Once
}

func newSession(ws *websocket.Conn) *session {
	return &session{ws: ws, done: make(chan struct{})}
}

func (s *session) end() {
	s.doneOnce.Do(func() { close(s.done) })
}

// Client maintains a websocket subscription with automatic reconnect and a
// ping keepalive. Event callbacks run on the read loop goroutine; handlers
// that do real work should hand off to their own goroutine.
type Client struct {
	wsURL string

	mu    sync.RWMutex
	sess  *session
	state State

	cbs []EventCallback
	cbM sync.RWMutex

	maxReconnectAttempts int
	reconnectDelay       time.Duration
	pingInterval         time.Duration

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup

	rootCtx    context.Context
	rootCancel context.CancelFunc
}

func NewClient(wsURL string, maxReconnectAttempts int, reconnectDelay time.Duration) *Client {
	return &Client{
		wsURL:                wsURL,
		state:                StateDisconnected,
		maxReconnectAttempts: maxReconnectAttempts,
		reconnectDelay:       reconnectDelay,
		pingInterval:         30 * time.Second,
		stopCh:               make(chan struct{}),
	}
}

// OnEvent registers a callback for every decoded event.
func (c *Client) OnEvent(cb EventCallback) {
	c.cbM.Lock()
	c.cbs = append(c.cbs, cb)
	c.cbM.Unlock()
}

func (c *Client) State() State {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	if c.state == StateConnected || c.state == StateConnecting {
		c.mu.Unlock()
		return nil
	}
	c.state = StateConnecting
	c.mu.Unlock()

	c.rootCtx, c.rootCancel = context.WithCancel(context.Background())

	dialCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	ws, _, err := websocket.Dial(dialCtx, c.wsURL, &websocket.DialOptions{
		CompressionMode: websocket.CompressionNoContextTakeover,
	})
	if err != nil {
		c.setState(StateFailed)
		c.scheduleReconnect()
		return err
	}

	c.startSession(ws)
	return nil
}

// startSession installs a new current session and spawns its goroutine pair.
func (c *Client) startSession(ws *websocket.Conn) {
	s := newSession(ws)
	c.mu.Lock()
	c.sess = s
	c.state = StateConnected
	c.mu.Unlock()

	c.wg.Add(2)
	go c.listen(s)
	go c.pingLoop(s)
}

func (c *Client) listen(s *session) {
	defer c.wg.Done()
	for {
		select {
		case <-c.stopCh:
			return
		case <-s.done:
			return
		default:
		}
		var ev Event
		if err := wsjson.Read(c.rootCtx, s.ws, &ev); err != nil {
			c.teardown(s, "read failure")
			return
		}
		if strings.TrimSpace(ev.Type) == "" {
			continue
		}
		c.cbM.RLock()
		cbs := make([]EventCallback, len(c.cbs))
		copy(cbs, c.cbs)
		c.cbM.RUnlock()
		for _, cb := range cbs {
			if cb != nil {
				cb(&ev)
			}
		}
	}
}

func (c *Client) pingLoop(s *session) {
	defer c.wg.Done()
	t := time.NewTicker(c.pingInterval)
	defer t.Stop()
	failures := 0
	for {
		select {
		case <-c.stopCh:
			return
		case <-s.done:
			return
		case <-t.C:
			if s.ws == nil {
				continue
			}
			ctx, cancel := context.WithTimeout(c.rootCtx, 3*time.Second)
			err := s.ws.Ping(ctx)
			cancel()
			if err != nil {
				failures++
				if failures >= 2 {
					c.teardown(s, "ping failure")
					return
				}
				continue
			}
			failures = 0
		}
	}
}

// teardown retires one connection. Both of the session's loops exit via
// done, so a reconnect never stacks a second ping loop on top of a
// surviving one. Only the current session may flip client state and
// trigger the reconnect; a session that already lost that race just
// releases its own resources.
func (c *Client) teardown(s *session, reason string) {
	s.end()
	if s.ws != nil {
		_ = s.ws.Close(websocket.StatusGoingAway, reason)
	}
	if c.isStopping() {
		return
	}

	c.mu.Lock()
	current := c.sess == s
	if current {
		c.sess = nil
		c.state = StateDisconnected
	}
	c.mu.Unlock()

	if current {
		c.scheduleReconnect()
	}
}

func (c *Client) scheduleReconnect() {
	if c.maxReconnectAttempts <= 0 {
		return
	}
	c.setState(StateReconnecting)

	go func() {
		for attempt := 1; attempt <= c.maxReconnectAttempts; attempt++ {
			select {
			case <-c.stopCh:
				return
			case <-time.After(c.backoff(attempt)):
			}

			dialCtx, cancel := context.WithTimeout(c.rootCtx, 10*time.Second)
			ws, _, err := websocket.Dial(dialCtx, c.wsURL, &websocket.DialOptions{
				CompressionMode: websocket.CompressionNoContextTakeover,
			})
			cancel()
			if err != nil {
				continue
			}

			c.startSession(ws)
			return
		}
		c.setState(StateFailed)
	}()
}

// backoff grows the delay per attempt, capped at 30s.
func (c *Client) backoff(attempt int) time.Duration {
	d := c.reconnectDelay * time.Duration(1<<uint(attempt-1))
	if d > 30*time.Second {
		d = 30 * time.Second
	}
	return d
}

func (c *Client) setState(state State) {
	c.mu.Lock()
	c.state = state
	c.mu.Unlock()
}

func (c *Client) Close(ctx context.Context) error {
	c.stopOnce.Do(func() { close(c.stopCh) })

	c.mu.Lock()
	s := c.sess
	c.sess = nil
	c.state = StateDisconnected
	c.mu.Unlock()
	if s != nil {
		s.end()
		if s.ws != nil {
			_ = s.ws.Close(websocket.StatusNormalClosure, "close")
		}
	}

	done := make(chan struct{})
	go func() {
		c.wg.Wait()
		close(done)
	}()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-done:
		if c.rootCancel != nil {
			c.rootCancel()
		}
		return nil
	}
}

func (c *Client) isStopping() bool {
	select {
	case <-c.stopCh:
		return true
	default:
		return false
	}
}
