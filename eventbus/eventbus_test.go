package eventbus

import (
	"testing"

	"github.com/vectorhq/vector/model"
)

func TestPublishDeliversToSubscriber(t *testing.T) {
	bus := NewInMemoryBus()
	ch := bus.Subscribe("p1")
	defer bus.Unsubscribe("p1", ch)

	entry := &model.ExecutionLog{ProjectID: "p1", StepName: "provision", Message: "sandbox ready"}
	bus.Publish("p1", entry)

	select {
	case got := <-ch:
		if got.Message != "sandbox ready" {
			t.Fatalf("expected 'sandbox ready', got %q", got.Message)
		}
	default:
		t.Fatal("expected event on channel")
	}
}

func TestPublishIsolatedByProject(t *testing.T) {
	bus := NewInMemoryBus()
	ch := bus.Subscribe("p1")
	defer bus.Unsubscribe("p1", ch)

	bus.Publish("p2", &model.ExecutionLog{ProjectID: "p2"})

	select {
	case <-ch:
		t.Fatal("subscriber for p1 must not receive p2 events")
	default:
	}
}

func TestPublishWithoutSubscribersDoesNotBlock(t *testing.T) {
	bus := NewInMemoryBus()
	bus.Publish("nobody", &model.ExecutionLog{ProjectID: "nobody"})
}

func TestSlowSubscriberDropsEvents(t *testing.T) {
	bus := NewInMemoryBus()
	ch := bus.Subscribe("p1")
	defer bus.Unsubscribe("p1", ch)

	// Overflow the buffer; Publish must never block.
	for i := 0; i < 200; i++ {
		bus.Publish("p1", &model.ExecutionLog{ProjectID: "p1"})
	}
	if len(ch) != cap(ch) {
		t.Fatalf("expected full channel (%d), got %d", cap(ch), len(ch))
	}
}

func TestUnsubscribeClosesChannel(t *testing.T) {
	bus := NewInMemoryBus()
	ch := bus.Subscribe("p1")
	bus.Unsubscribe("p1", ch)

	if _, ok := <-ch; ok {
		t.Fatal("expected channel to be closed after Unsubscribe")
	}

	// Publishing after unsubscribe must not panic.
	bus.Publish("p1", &model.ExecutionLog{ProjectID: "p1"})
}

func TestMultipleSubscribers(t *testing.T) {
	bus := NewInMemoryBus()
	ch1 := bus.Subscribe("p1")
	ch2 := bus.Subscribe("p1")
	defer bus.Unsubscribe("p1", ch1)
	defer bus.Unsubscribe("p1", ch2)

	bus.Publish("p1", &model.ExecutionLog{ProjectID: "p1", Message: "hello"})

	if len(ch1) != 1 || len(ch2) != 1 {
		t.Fatalf("expected both subscribers to receive the event, got %d and %d", len(ch1), len(ch2))
	}
}
