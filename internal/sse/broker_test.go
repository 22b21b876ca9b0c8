package sse

import (
	"strings"
	"testing"
	"time"
)

func recv(t *testing.T, ch chan []byte) string {
	t.Helper()
	select {
	case msg, ok := <-ch:
		if !ok {
			t.Fatal("channel closed while waiting for event")
		}
		return string(msg)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for event")
		return ""
	}
}

func expectSilence(t *testing.T, ch chan []byte) {
	t.Helper()
	select {
	case msg := <-ch:
		t.Fatalf("unexpected event: %s", msg)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestPublishReachesAllSubscribers(t *testing.T) {
	b := NewBroker()
	defer b.Close()

	ch1 := b.Subscribe()
	ch2 := b.Subscribe()

	b.Publish(Event{Type: "note.deleted", Data: map[string]string{"id": "n1"}})

	for _, ch := range []chan []byte{ch1, ch2} {
		msg := recv(t, ch)
		if !strings.Contains(msg, "event: note.deleted") {
			t.Errorf("message %q missing event type", msg)
		}
		if !strings.Contains(msg, `"id":"n1"`) {
			t.Errorf("message %q missing payload", msg)
		}
	}
}

func TestUnsubscribeClosesChannel(t *testing.T) {
	b := NewBroker()
	defer b.Close()

	ch := b.Subscribe()
	b.Unsubscribe(ch)

	select {
	case _, ok := <-ch:
		if ok {
			t.Error("expected closed channel, got a message")
		}
	case <-time.After(2 * time.Second):
		t.Error("channel not closed after unsubscribe")
	}
}

func TestClientCount(t *testing.T) {
	b := NewBroker()
	defer b.Close()

	if n := b.ClientCount(); n != 0 {
		t.Fatalf("fresh broker has %d clients, want 0", n)
	}
	ch := b.Subscribe()
	if n := b.ClientCount(); n != 1 {
		t.Errorf("got %d clients, want 1", n)
	}
	b.Unsubscribe(ch)
	if n := b.ClientCount(); n != 0 {
		t.Errorf("got %d clients after unsubscribe, want 0", n)
	}
}

func TestConnectivityTransitionsOnly(t *testing.T) {
	b := NewBroker()
	defer b.Close()

	ch := b.Subscribe()

	b.PublishConnectivity(true)
	msg := recv(t, ch)
	if !strings.Contains(msg, "event: connectivity") || !strings.Contains(msg, `"online":true`) {
		t.Errorf("first transition message %q", msg)
	}

	// Repeats of the same state are dropped.
	b.PublishConnectivity(true)
	expectSilence(t, ch)

	b.PublishConnectivity(false)
	msg = recv(t, ch)
	if !strings.Contains(msg, `"online":false`) {
		t.Errorf("offline transition message %q", msg)
	}
}

func TestNoteSyncedEvent(t *testing.T) {
	b := NewBroker()
	defer b.Close()

	ch := b.Subscribe()
	b.NoteSynced("temp-1", "srv-1")

	msg := recv(t, ch)
	if !strings.Contains(msg, "event: note.synced") {
		t.Errorf("message %q missing event type", msg)
	}
	if !strings.Contains(msg, `"oldId":"temp-1"`) || !strings.Contains(msg, `"id":"srv-1"`) {
		t.Errorf("message %q missing id mapping", msg)
	}
}

func TestCloseClosesSubscribers(t *testing.T) {
	b := NewBroker()
	ch := b.Subscribe()
	b.Close()

	select {
	case _, ok := <-ch:
		if ok {
			t.Error("expected closed channel after broker close")
		}
	case <-time.After(2 * time.Second):
		t.Error("subscriber channel not closed")
	}

	// Operations on a closed broker are harmless no-ops.
	b.Publish(Event{Type: "x"})
	if ch := b.Subscribe(); ch == nil {
		t.Error("subscribe on closed broker should return a closed channel, not nil")
	}
}
