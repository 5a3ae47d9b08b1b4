package bus

import (
	"testing"
	"time"
)

func TestPublishDeliversInOrder(t *testing.T) {
	b := New()
	defer b.Close()

	ch, unsub := b.Subscribe()
	defer unsub()

	b.Publish(Event{Kind: KindSpeakingStarted})
	b.Publish(Event{Kind: KindStreamDelta, Payload: "hi"})
	b.Publish(Event{Kind: KindSpeakingStopped})

	wantKinds := []Kind{KindSpeakingStarted, KindStreamDelta, KindSpeakingStopped}
	for i, want := range wantKinds {
		select {
		case ev := <-ch:
			if ev.Kind != want {
				t.Errorf("event %d kind = %q, want %q", i, ev.Kind, want)
			}
			if ev.Time.IsZero() {
				t.Errorf("event %d has zero timestamp", i)
			}
		case <-time.After(time.Second):
			t.Fatalf("timed out waiting for event %d", i)
		}
	}
}

func TestSubscribeFiltersByKind(t *testing.T) {
	b := New()
	defer b.Close()

	ch, unsub := b.Subscribe(KindMouthSample)
	defer unsub()

	b.Publish(Event{Kind: KindStreamDelta, Payload: "ignored"})
	b.Publish(Event{Kind: KindMouthSample, Payload: 0.5})

	select {
	case ev := <-ch:
		if ev.Kind != KindMouthSample {
			t.Errorf("kind = %q, want %q", ev.Kind, KindMouthSample)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for filtered event")
	}
}

func TestPublishNeverBlocksOnSlowSubscriber(t *testing.T) {
	b := New(WithBuffer(2))
	defer b.Close()

	ch, unsub := b.Subscribe()
	defer unsub()

	// Nobody reads ch; publishing more than the buffer must not block and must
	// keep the freshest events.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 10; i++ {
			b.Publish(Event{Kind: KindMouthSample, Payload: float64(i)})
		}
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Publish blocked on a slow subscriber")
	}

	// The two buffered events must be the newest two.
	first := <-ch
	second := <-ch
	if first.Payload.(float64) != 8 || second.Payload.(float64) != 9 {
		t.Errorf("buffered payloads = %v, %v; want 8, 9", first.Payload, second.Payload)
	}
}

func TestUnsubscribeIsIdempotent(t *testing.T) {
	b := New()
	defer b.Close()

	ch, unsub := b.Subscribe()
	unsub()
	unsub() // must not panic

	if _, ok := <-ch; ok {
		t.Error("channel still open after unsubscribe")
	}

	// Publishing after unsubscribe must not panic.
	b.Publish(Event{Kind: KindStreamEnd})
}

func TestCloseClosesSubscribers(t *testing.T) {
	b := New()
	ch, _ := b.Subscribe()

	b.Close()
	b.Close() // idempotent

	if _, ok := <-ch; ok {
		t.Error("channel still open after Close")
	}

	// Subscribing after Close yields a closed channel.
	ch2, _ := b.Subscribe()
	if _, ok := <-ch2; ok {
		t.Error("subscription after Close returned an open channel")
	}
}
