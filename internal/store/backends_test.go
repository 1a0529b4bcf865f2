package store

import (
	"context"
	"testing"

	"go.uber.org/zap"

	"classattend/internal/config"
	"classattend/internal/docstore"
	"classattend/internal/queue"
)

func TestOpenMemory(t *testing.T) {
	cfg := config.App{StoreBackend: "memory", FeedBackend: "memory", QueueBackend: "memory"}
	b, err := Open(context.Background(), cfg, zap.NewNop())
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := b.Docs.(*docstore.Memory); !ok {
		t.Fatalf("docs = %T", b.Docs)
	}
	if _, ok := b.Jobs.(*queue.InMemory); !ok {
		t.Fatalf("jobs = %T", b.Jobs)
	}
	if b.Redis != nil {
		t.Fatal("redis client opened without a redis backend")
	}
	if h := b.Healthy(context.Background()); !h["store"] || len(h) != 1 {
		t.Fatalf("health = %v", h)
	}
	if err := b.Close(); err != nil {
		t.Fatal(err)
	}
}

func TestOpenUnknownBackend(t *testing.T) {
	if _, err := Open(context.Background(), config.App{StoreBackend: "etcd"}, zap.NewNop()); err == nil {
		t.Fatal("expected error")
	}
}
