package notify

import (
	"testing"
	"time"
)

func TestPublishWakesSubscriber(t *testing.T) {
	b := NewBus()

	ch, cancel := b.Subscribe("s1")
	defer cancel()

	b.Publish("s1", Event{Name: EventMessageEnqueued})

	select {
	case ev := <-ch:
		if ev.Name != EventMessageEnqueued {
			t.Errorf("unexpected event: %+v", ev)
		}
		if ev.SentAt.IsZero() {
			t.Error("SentAt must be stamped on publish")
		}
	case <-time.After(time.Second):
		t.Fatal("subscriber was not woken")
	}
}

func TestPublishIsScoped(t *testing.T) {
	b := NewBus()

	ch, cancel := b.Subscribe("s1")
	defer cancel()

	b.Publish("s2", Event{Name: EventMessageEnqueued})

	select {
	case ev := <-ch:
		t.Fatalf("received event for another scope: %+v", ev)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestPublishBroadcastsToAllSubscribers(t *testing.T) {
	b := NewBus()

	ch1, cancel1 := b.Subscribe("s1")
	defer cancel1()
	ch2, cancel2 := b.Subscribe("s1")
	defer cancel2()

	b.Publish("s1", Event{Name: EventRequestAnswered})

	for i, ch := range []<-chan Event{ch1, ch2} {
		select {
		case <-ch:
		case <-time.After(time.Second):
			t.Fatalf("subscriber %d was not woken", i+1)
		}
	}
}

func TestLateSubscriberSeesNothing(t *testing.T) {
	b := NewBus()

	b.Publish(ScopeGlobal, Event{Name: EventRequestCreated})

	ch, cancel := b.Subscribe(ScopeGlobal)
	defer cancel()

	select {
	case ev := <-ch:
		t.Fatalf("events must not be buffered for late subscribers: %+v", ev)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestCancelUnsubscribes(t *testing.T) {
	b := NewBus()

	_, cancel := b.Subscribe("s1")
	if got := b.Subscribers("s1"); got != 1 {
		t.Fatalf("expected 1 subscriber, got %d", got)
	}

	cancel()
	cancel() // double cancel is harmless

	if got := b.Subscribers("s1"); got != 0 {
		t.Errorf("expected 0 subscribers after cancel, got %d", got)
	}
}

func TestFullSubscriberDoesNotBlockPublisher(t *testing.T) {
	b := NewBus()

	_, cancel := b.Subscribe("s1")
	defer cancel()

	done := make(chan struct{})
	go func() {
		for i := 0; i < subscriberBuffer*2; i++ {
			b.Publish("s1", Event{Name: EventSessionUpdated})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("publisher blocked on a full subscriber")
	}
}
