package eventbus

import (
	"sync"
	"testing"
)

func TestPublishFansOut(t *testing.T) {
	b := New()
	a, unsubA := b.Subscribe(4)
	c, unsubC := b.Subscribe(4)
	defer unsubA()
	defer unsubC()

	b.Publish(Event{Type: TypePassState, Data: PassState{ChannelID: "x", To: "DONE"}})

	for _, ch := range []<-chan Event{a, c} {
		e := <-ch
		if e.Type != TypePassState || e.Time.IsZero() {
			t.Fatalf("unexpected event %+v", e)
		}
		if ps, ok := e.Data.(PassState); !ok || ps.ChannelID != "x" {
			t.Fatalf("unexpected payload %+v", e.Data)
		}
	}
}

func TestPublishDropsWhenFull(t *testing.T) {
	b := New()
	ch, unsub := b.Subscribe(1)
	defer unsub()

	b.Publish(Event{Type: "a"})
	b.Publish(Event{Type: "b"})

	if got := (<-ch).Type; got != "a" {
		t.Fatalf("first event = %q", got)
	}
	if Dropped(b) != 1 {
		t.Fatalf("Dropped = %d, want 1", Dropped(b))
	}
}

func TestUnsubscribeDuringPublish(t *testing.T) {
	b := New()
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		_, unsub := b.Subscribe(1)
		wg.Add(2)
		go func() { defer wg.Done(); b.Publish(Event{Type: "x"}) }()
		go func() { defer wg.Done(); unsub(); unsub() }()
	}
	wg.Wait()
}
