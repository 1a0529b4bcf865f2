package changefeed

import (
	"context"
	"testing"
	"time"
)

func TestInMemoryFanOut(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	f := NewInMemory(4)

	a, _ := f.Listen(ctx)
	b, _ := f.Listen(ctx)

	if err := f.Publish(ctx, "classroom/c1"); err != nil {
		t.Fatal(err)
	}
	for _, ch := range []<-chan string{a, b} {
		select {
		case p := <-ch:
			if p != "classroom/c1" {
				t.Fatalf("got %q", p)
			}
		case <-time.After(time.Second):
			t.Fatal("listener did not receive")
		}
	}
}

func TestInMemoryListenStops(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	f := NewInMemory(1)
	ch, _ := f.Listen(ctx)
	cancel()
	select {
	case _, ok := <-ch:
		if ok {
			t.Fatal("expected closed channel")
		}
	case <-time.After(time.Second):
		t.Fatal("listener not closed")
	}
}
