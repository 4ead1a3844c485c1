package feed

import (
	"testing"
	"time"
)

func waitGroupDrains(c *Client, d time.Duration) bool {
	done := make(chan struct{})
	go func() {
		c.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return true
	case <-time.After(d):
		return false
	}
}

func TestPingLoopExitsWhenSessionEnds(t *testing.T) {
	c := NewClient("ws://unused", 0, time.Millisecond)
	s := newSession(nil)
	c.mu.Lock()
	c.sess = s
	c.mu.Unlock()

	c.wg.Add(1)
	go c.pingLoop(s)

	// Ending the session must release its ping loop even though the
	// client itself keeps running.
	c.teardown(s, "read failure")
	if !waitGroupDrains(c, time.Second) {
		t.Fatalf("ping loop survived its session")
	}
	if got := c.State(); got != StateDisconnected {
		t.Fatalf("state = %q, want %q", got, StateDisconnected)
	}
}

func TestTeardownOnlyRetiresItsOwnSession(t *testing.T) {
	c := NewClient("ws://unused", 0, time.Millisecond)
	stale := newSession(nil)
	current := newSession(nil)
	c.mu.Lock()
	c.sess = current
	c.state = StateConnected
	c.mu.Unlock()

	// A loop from an already-replaced connection reporting a failure must
	// not disturb the connection that replaced it.
	c.teardown(stale, "ping failure")

	select {
	case <-stale.done:
	default:
		t.Fatalf("stale session was not released")
	}
	select {
	case <-current.done:
		t.Fatalf("current session was torn down by a stale one")
	default:
	}
	if got := c.State(); got != StateConnected {
		t.Fatalf("state = %q, want %q", got, StateConnected)
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.sess != current {
		t.Fatalf("current session replaced")
	}
}

func TestTeardownIsIdempotent(t *testing.T) {
	c := NewClient("ws://unused", 0, time.Millisecond)
	s := newSession(nil)
	c.mu.Lock()
	c.sess = s
	c.mu.Unlock()

	// Listen and ping can both report the same dead connection.
	c.teardown(s, "read failure")
	c.teardown(s, "ping failure")

	select {
	case <-s.done:
	default:
		t.Fatalf("session not released")
	}
}
