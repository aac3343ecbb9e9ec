package eventbus

import "testing"

func TestPublishFansOutAndDropsWhenFull(t *testing.T) {
	t.Parallel()
	b := New()
	a, unsubA := b.Subscribe(1)
	c, unsubC := b.Subscribe(4)
	defer unsubC()

	Publish(b, QueueHalted, HaltReport{Owner: 2, Object: -1, Removed: 3})
	Publish(b, QueueSlow, SlowCommand{Player: 5})

	if ev := <-a; ev.Type != QueueHalted || ev.Time.IsZero() {
		t.Fatalf("first event = %+v", ev)
	}
	select {
	case ev := <-a:
		t.Fatalf("full subscriber should have dropped, got %+v", ev)
	default:
	}
	if len(c) != 2 {
		t.Fatalf("buffered subscriber has %d events, want 2", len(c))
	}

	unsubA()
	unsubA()
	Publish(b, QueueDrained, DrainReport{})
	Publish(nil, QueueDrained, nil)
}
