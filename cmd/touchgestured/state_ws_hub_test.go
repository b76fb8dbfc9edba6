package main

import (
	"context"
	"log/slog"
	"testing"
	"time"
)

// Hub tests construct Clients with a nil websocket.Conn; close() skips it,
// so fanout and eviction are exercised without network I/O.

// newTestHub returns a hub with small buffers for deterministic tests.
func newTestHub(t *testing.T, sendBuf int, broadcastBuf int) *Hub {
	t.Helper()
	return NewHub(slog.Default(), HubConfig{
		SendBuf:      sendBuf,
		BroadcastBuf: broadcastBuf,
	})
}

func TestHub_BroadcastDeliveredToAllClients(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	hub := newTestHub(t, 4, 8)

	// Run the hub loop.
	done := make(chan struct{})
	go func() {
		defer close(done)
		hub.Run(ctx)
	}()

	// Create two clients with buffered send channels and nil conns (not used in this test).
	c1 := &Client{
		hub:        hub,
		conn:       nil,
		send:       make(chan []byte, 4),
		remoteAddr: "c1",
		logger:     slog.Default(),
	}
	c2 := &Client{
		hub:        hub,
		conn:       nil,
		send:       make(chan []byte, 4),
		remoteAddr: "c2",
		logger:     slog.Default(),
	}

	// Ensure registrations have been processed by the hub goroutine before broadcasting.
	hub.register <- c1
	waitUntil(t, 500*time.Millisecond, func() bool {
		hub.mu.Lock()
		defer hub.mu.Unlock()
		_, ok := hub.clients[c1]
		return ok
	}, "client1 not registered in time")

	hub.register <- c2
	waitUntil(t, 500*time.Millisecond, func() bool {
		hub.mu.Lock()
		defer hub.mu.Unlock()
		_, ok := hub.clients[c2]
		return ok
	}, "client2 not registered in time")

	msg := []byte(`{"type":"gesture_received","data":{"scancode":252}}`)

	// BroadcastBytes may drop under scheduling pressure; push directly.
	hub.broadcast <- msg

	// Both clients should receive the message.
	select {
	case got := <-c1.send:
		if string(got) != string(msg) {
			t.Fatalf("client1 got %q, want %q", string(got), string(msg))
		}
	case <-time.After(500 * time.Millisecond):
		t.Fatalf("timeout waiting for client1 to receive broadcast")
	}

	select {
	case got := <-c2.send:
		if string(got) != string(msg) {
			t.Fatalf("client2 got %q, want %q", string(got), string(msg))
		}
	case <-time.After(500 * time.Millisecond):
		t.Fatalf("timeout waiting for client2 to receive broadcast")
	}

	// Shutdown hub.
	cancel()
	select {
	case <-done:
	case <-time.After(1 * time.Second):
		t.Fatalf("timeout waiting for hub to stop")
	}
}

func TestHub_SlowClientDisconnectedOnFullSendBuffer(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// sendBuf=1 so we can fill it easily; broadcastBuf ample.
	hub := newTestHub(t, 1, 8)

	done := make(chan struct{})
	go func() {
		defer close(done)
		hub.Run(ctx)
	}()

	// Slow client: send buffer will fill and we never drain it.
	slow := &Client{
		hub:        hub,
		conn:       nil,
		send:       make(chan []byte, 1),
		remoteAddr: "slow",
		logger:     slog.Default(),
	}

	// Fast client: we will drain its channel.
	fast := &Client{
		hub:        hub,
		conn:       nil,
		send:       make(chan []byte, 8),
		remoteAddr: "fast",
		logger:     slog.Default(),
	}

	// Ensure registrations have been processed by the hub goroutine before broadcasting.
	hub.register <- slow
	waitUntil(t, 500*time.Millisecond, func() bool {
		hub.mu.Lock()
		defer hub.mu.Unlock()
		_, ok := hub.clients[slow]
		return ok
	}, "slow client not registered in time")

	hub.register <- fast
	waitUntil(t, 500*time.Millisecond, func() bool {
		hub.mu.Lock()
		defer hub.mu.Unlock()
		_, ok := hub.clients[fast]
		return ok
	}, "fast client not registered in time")

	// Pre-fill slow client buffer to simulate it being stuck.
	slow.send <- []byte(`"already queued"`)

	// Broadcast should attempt to enqueue to slow, hit default, and disconnect it,
	// while still delivering to fast.
	msg := []byte(`{"type":"torch_changed","data":{"camera":"led0","enabled":true}}`)

	hub.broadcast <- msg

	select {
	case got := <-fast.send:
		if string(got) != string(msg) {
			t.Fatalf("fast client got %q, want %q", string(got), string(msg))
		}
	case <-time.After(500 * time.Millisecond):
		t.Fatalf("timeout waiting for fast client to receive broadcast")
	}

	// The slow client should be disconnected and its send channel should be closed.
	// (There may still be the pre-filled message in the buffer; drain it first.)
	select {
	case <-slow.send:
	default:
	}

	waitUntil(t, 750*time.Millisecond, func() bool {
		select {
		case _, ok := <-slow.send:
			return !ok
		default:
			return false
		}
	}, "expected slow send channel to be closed")
}

func waitUntil(t *testing.T, timeout time.Duration, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timeout: %s", msg)
}

func TestHub_StopClosesRemainingClients(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	hub := newTestHub(t, 2, 2)

	done := make(chan struct{})
	go func() {
		defer close(done)
		hub.Run(ctx)
	}()

	c := &Client{hub: hub, send: make(chan []byte, 2), remoteAddr: "c", logger: slog.Default()}
	hub.register <- c
	waitUntil(t, 500*time.Millisecond, func() bool { return hub.ClientCount() == 1 }, "client not registered in time")

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatalf("timeout waiting for hub to stop")
	}

	if _, ok := <-c.send; ok {
		t.Fatalf("expected send channel closed after hub stop")
	}
	// A second close must not panic.
	c.close()
}

func TestGestureFeed_DispatchNoticeTypes(t *testing.T) {
	feed := NewGestureFeed(8, slog.Default())

	base := DispatchNotice{RequestID: "r1", Scancode: scancodeLetterO, Gesture: "letter_o", Action: "toggle_torch", Gated: true}
	feed.DispatchNotice(base)

	performed := base
	performed.Outcome = OutcomePerformed
	feed.DispatchNotice(performed)

	dropped := base
	dropped.Outcome = OutcomeDroppedNear
	feed.DispatchNotice(dropped)

	want := []string{"gesture_received", "action_performed", "gesture_dropped"}
	for i, typ := range want {
		select {
		case ev := <-feed.Events():
			if ev.Type != typ {
				t.Fatalf("event %d type = %q, want %q", i, ev.Type, typ)
			}
			if ev.At.IsZero() {
				t.Fatalf("event %d has no timestamp", i)
			}
			if typ == "gesture_dropped" {
				data := ev.Data.(feedGestureData)
				if data.Reason != string(OutcomeDroppedNear) {
					t.Fatalf("drop reason = %q, want %q", data.Reason, OutcomeDroppedNear)
				}
			}
		default:
			t.Fatalf("missing event %d (%s)", i, typ)
		}
	}
}

func TestGestureFeed_CameraAndTorch(t *testing.T) {
	feed := NewGestureFeed(8, slog.Default())

	feed.ActionPerformed(ToggleMedia{Direction: MediaNext})
	feed.ActionPerformed(LaunchCameraGesture{})
	feed.TorchChanged("white:torch", true)

	ev := <-feed.Events()
	if ev.Type != "camera_gesture" {
		t.Fatalf("first event = %q, want camera_gesture (media actions are not announced)", ev.Type)
	}
	ev = <-feed.Events()
	if ev.Type != "torch_changed" {
		t.Fatalf("second event = %q, want torch_changed", ev.Type)
	}
	data := ev.Data.(feedTorchData)
	if data.Camera != "white:torch" || !data.Enabled {
		t.Fatalf("torch data = %+v", data)
	}
}

func TestGestureFeed_FullQueueDropsWithoutBlocking(t *testing.T) {
	feed := NewGestureFeed(1, slog.New(slog.DiscardHandler))

	feed.TorchChanged("a", true)
	done := make(chan struct{})
	go func() {
		defer close(done)
		feed.TorchChanged("a", false)
	}()

	select {
	case <-done:
	case <-time.After(500 * time.Millisecond):
		t.Fatalf("publish blocked on a full queue")
	}
	if n := len(feed.Events()); n != 1 {
		t.Fatalf("queued events = %d, want 1", n)
	}
}

func TestRunBroadcaster_WrapsEnvelope(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	hub := newTestHub(t, 4, 4)
	src := make(chan FeedEvent, 1)
	at := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	src <- FeedEvent{Type: "camera_gesture", At: at}

	go RunBroadcaster(ctx, src, hub, slog.Default())

	select {
	case msg := <-hub.broadcast:
		want := `{"type":"camera_gesture","ts":"2026-01-02T03:04:05Z"}`
		if string(msg) != want {
			t.Fatalf("frame = %s, want %s", msg, want)
		}
	case <-time.After(500 * time.Millisecond):
		t.Fatalf("timeout waiting for broadcast")
	}
}
