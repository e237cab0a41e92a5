package events

import "testing"

func TestBusDeliversToSubscribers(t *testing.T) {
	bus := NewBus()
	sub := bus.Subscribe(EventBatchJob)
	other := bus.Subscribe(EventTripCreated)

	bus.Publish(EventBatchJob, Payload{"job_id": "abc"})

	select {
	case p := <-sub:
		if p["job_id"] != "abc" {
			t.Fatalf("unexpected payload %v", p)
		}
	default:
		t.Fatal("expected payload to be delivered")
	}

	select {
	case p := <-other:
		t.Fatalf("unexpected delivery to other event type: %v", p)
	default:
	}
}

func TestBusDropsWhenSubscriberIsFull(t *testing.T) {
	bus := NewBus()
	sub := bus.Subscribe(EventBatchJob)

	for i := 0; i < cap(sub)+5; i++ {
		bus.Publish(EventBatchJob, Payload{"i": i})
	}
	if len(sub) != cap(sub) {
		t.Fatalf("expected full buffer, got %d/%d", len(sub), cap(sub))
	}
}

func TestBusUnsubscribeClosesChannel(t *testing.T) {
	bus := NewBus()
	sub := bus.Subscribe(EventBatchJob)
	bus.Unsubscribe(EventBatchJob, sub)

	if _, ok := <-sub; ok {
		t.Fatal("expected closed channel")
	}

	// Publishing after unsubscribe must not panic on the closed channel.
	bus.Publish(EventBatchJob, Payload{})
	// Unsubscribing twice is a no-op.
	bus.Unsubscribe(EventBatchJob, sub)
}
