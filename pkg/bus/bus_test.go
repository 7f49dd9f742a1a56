package bus

import "testing"

func TestPublishReachesAllSubscribers(t *testing.T) {
	b := New[int]()
	var a, c int
	b.Subscribe(func(v int) { a += v })
	b.Subscribe(func(v int) { c += v })
	b.Publish(3)
	b.Publish(4)
	if a != 7 || c != 7 {
		t.Fatalf("got %d / %d, want 7 / 7", a, c)
	}
}

func TestCancelRemovesSubscriber(t *testing.T) {
	b := New[string]()
	var got []string
	cancel := b.Subscribe(func(v string) { got = append(got, v) })
	b.Publish("one")
	cancel()
	b.Publish("two")
	if len(got) != 1 || got[0] != "one" {
		t.Fatalf("got %v", got)
	}
	if b.Len() != 0 {
		t.Fatalf("Len = %d after cancel", b.Len())
	}
	cancel() // idempotent
}

func TestPublishWithNoSubscribers(t *testing.T) {
	b := New[struct{}]()
	b.Publish(struct{}{}) // must not panic
}
