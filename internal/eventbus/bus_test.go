package eventbus

import "testing"

func TestPublishFanout(t *testing.T) {
	t.Parallel()
	b := New()
	a, unsubA := b.Subscribe(1)
	c, unsubC := b.Subscribe(1)
	defer unsubA()
	defer unsubC()

	Emit(b, "cycle.done", 3)

	for _, ch := range []<-chan Event{a, c} {
		e := <-ch
		if e.Type != "cycle.done" || e.Data.(int) != 3 {
			t.Fatalf("unexpected event: %+v", e)
		}
	}
}

func TestPublishNeverBlocks(t *testing.T) {
	t.Parallel()
	b := New()
	_, unsub := b.Subscribe(1)
	defer unsub()
	for i := 0; i < 10; i++ {
		b.Publish(Event{Type: "x"})
	}
}

func TestUnsubscribeClosesChannel(t *testing.T) {
	t.Parallel()
	b := New()
	ch, unsub := b.Subscribe(1)
	unsub()
	unsub()
	if _, ok := <-ch; ok {
		t.Fatal("expected closed channel")
	}
	b.Publish(Event{Type: "after"})
}

func TestEmitNilBus(t *testing.T) {
	t.Parallel()
	Emit(nil, "noop", nil)
}
