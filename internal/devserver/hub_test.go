package devserver

import (
	"context"
	"testing"
	"time"

	itypes "github.com/DoyleJ11/spark-client/internal/types"
	"go.uber.org/zap"
)

func recvFrame(t *testing.T, ch <-chan itypes.Frame, within time.Duration) itypes.Frame {
	t.Helper()
	select {
	case f, ok := <-ch:
		if !ok {
			t.Fatalf("outbox closed unexpectedly")
		}
		return f
	case <-time.After(within):
		t.Fatalf("timed out waiting for frame")
		return itypes.Frame{} // unreachable
	}
}

func recvNoFrame(t *testing.T, ch <-chan itypes.Frame, within time.Duration) {
	t.Helper()
	select {
	case f, ok := <-ch:
		if !ok {
			return
		}
		t.Fatalf("expected no frame within %v, got %+v", within, f)
	case <-time.After(within):
	}
}

func stats(t *testing.T, h *Hub) HubStats {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	s, err := h.Stats(ctx)
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	return s
}

func TestHub_RoomBroadcastReachesMembersOnly(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	h := NewHub(ctx, zap.NewNop())

	alice := make(chan itypes.Frame, 4)
	bob := make(chan itypes.Frame, 4)
	carol := make(chan itypes.Frame, 4)
	h.Inbox() <- Register{ConnID: "a", UID: "alice", Outbox: alice}
	h.Inbox() <- Register{ConnID: "b", UID: "bob", Outbox: bob}
	h.Inbox() <- Register{ConnID: "c", UID: "carol", Outbox: carol}
	h.Inbox() <- JoinRoom{ConnID: "a", SessionID: "s1"}
	h.Inbox() <- JoinRoom{ConnID: "b", SessionID: "s1"}

	h.Publish("s1", "chat_received", map[string]string{"id": "m1"})

	if f := recvFrame(t, alice, 100*time.Millisecond); f.Event != "chat_received" {
		t.Fatalf("alice: want chat_received, got %q", f.Event)
	}
	recvFrame(t, bob, 100*time.Millisecond)
	recvNoFrame(t, carol, 50*time.Millisecond)

	h.Inbox() <- LeaveRoom{ConnID: "b", SessionID: "s1"}
	h.Publish("s1", "chat_received", nil)
	recvFrame(t, alice, 100*time.Millisecond)
	recvNoFrame(t, bob, 50*time.Millisecond)

	if got := stats(t, h); got.Conns != 3 || got.Rooms["s1"] != 1 {
		t.Fatalf("unexpected stats %+v", got)
	}
}

func TestHub_NotifyReachesEveryConnectionOfUser(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	h := NewHub(ctx, zap.NewNop())

	phone := make(chan itypes.Frame, 1)
	laptop := make(chan itypes.Frame, 1)
	h.Inbox() <- Register{ConnID: "p", UID: "alice", Outbox: phone}
	h.Inbox() <- Register{ConnID: "l", UID: "alice", Outbox: laptop}

	h.Notify("alice", "session_found", nil)
	recvFrame(t, phone, 100*time.Millisecond)
	recvFrame(t, laptop, 100*time.Millisecond)
}

func TestHub_SlowConnectionIsDropped(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	h := NewHub(ctx, zap.NewNop())

	slow := make(chan itypes.Frame, 1)
	slow <- itypes.Frame{Event: "backlog"} // already full
	h.Inbox() <- Register{ConnID: "s", UID: "slow", Outbox: slow}
	h.Inbox() <- JoinRoom{ConnID: "s", SessionID: "s1"}
	h.Publish("s1", "chat_received", nil)

	// Stats is answered after the publish, so the drop has happened by now.
	if got := stats(t, h); got.Conns != 0 || len(got.Rooms) != 0 {
		t.Fatalf("unexpected stats after drop %+v", got)
	}
	if f := <-slow; f.Event != "backlog" {
		t.Fatalf("slow connection got %q", f.Event)
	}
	if _, ok := <-slow; ok {
		t.Fatalf("expected closed outbox")
	}
}

func TestHub_ShutdownClosesOutboxes(t *testing.T) {
	h := NewHub(context.Background(), zap.NewNop())
	out := make(chan itypes.Frame, 1)
	h.Inbox() <- Register{ConnID: "a", UID: "alice", Outbox: out}
	h.Inbox() <- ShutdownHub{}

	select {
	case <-h.Done():
	case <-time.After(time.Second):
		t.Fatalf("hub never stopped")
	}
	if _, ok := <-out; ok {
		t.Fatalf("expected closed outbox")
	}
	// Sends after shutdown must not block.
	h.Notify("alice", "session_found", nil)
}
