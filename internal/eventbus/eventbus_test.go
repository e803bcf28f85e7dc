package eventbus_test

import (
	"testing"
	"time"

	"github.com/nshaw/qdm/internal/eventbus"
)

func TestBus_DeliversToSubscriber(t *testing.T) {
	b := eventbus.New()
	sub := b.Subscribe("download:progress", 4)
	defer sub.Close()

	b.Publish("download:progress", 42)

	select {
	case ev := <-sub.C:
		if ev.Topic != "download:progress" || ev.Payload != 42 {
			t.Errorf("unexpected event: %+v", ev)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
	}
}

func TestBus_TopicIsolation(t *testing.T) {
	b := eventbus.New()
	subA := b.Subscribe("download:progress", 4)
	subB := b.Subscribe("queue:updated", 4)
	defer subA.Close()
	defer subB.Close()

	b.Publish("download:progress", "x")

	select {
	case <-subB.C:
		t.Fatal("subscriber on a different topic should not receive the event")
	case <-time.After(100 * time.Millisecond):
	}

	select {
	case <-subA.C:
	case <-time.After(time.Second):
		t.Fatal("expected subA to receive the event")
	}
}

func TestBus_FullSubscriberDropsWithoutBlocking(t *testing.T) {
	b := eventbus.New()
	sub := b.Subscribe("download:progress", 1)
	defer sub.Close()

	done := make(chan struct{})
	go func() {
		b.Publish("download:progress", 1)
		b.Publish("download:progress", 2) // dropped, buffer of 1 is full
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Publish blocked on a full subscriber")
	}
}

func TestBus_CloseUnblocksReceivers(t *testing.T) {
	b := eventbus.New()
	sub := b.Subscribe("queue:updated", 1)

	b.Close()

	select {
	case _, ok := <-sub.C:
		if ok {
			t.Error("expected subscriber channel to be closed, not to deliver a value")
		}
	case <-time.After(time.Second):
		t.Fatal("expected subscriber channel to close after Bus.Close")
	}
}
