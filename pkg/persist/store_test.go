package persist

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

type snapshot struct {
	Items []int  `json:"items"`
	Note  string `json:"note"`
}

func TestMemoryStoreRoundTrip(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	var missing snapshot
	found, err := s.Load(ctx, "cart-store", &missing)
	if err != nil {
		t.Fatalf("load empty: %v", err)
	}
	if found {
		t.Fatal("expected missing slot")
	}

	if err := s.Save(ctx, "cart-store", snapshot{Items: []int{1, 2}, Note: "x"}); err != nil {
		t.Fatalf("save: %v", err)
	}
	var got snapshot
	found, err = s.Load(ctx, "cart-store", &got)
	if err != nil || !found {
		t.Fatalf("load: found=%v err=%v", found, err)
	}
	if len(got.Items) != 2 || got.Note != "x" {
		t.Fatalf("unexpected snapshot: %+v", got)
	}

	if err := s.Delete(ctx, "cart-store"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if found, _ := s.Load(ctx, "cart-store", &got); found {
		t.Fatal("expected slot gone after delete")
	}
}

func TestFileStoreTreatsCorruptSlotAsAbsent(t *testing.T) {
	dir := t.TempDir()
	s, err := NewFileStore(dir)
	if err != nil {
		t.Fatalf("new file store: %v", err)
	}
	ctx := context.Background()

	if err := s.Save(ctx, "wishlist-store", snapshot{Note: "keep"}); err != nil {
		t.Fatalf("save: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "wishlist-store.json"), []byte("{not json"), 0o644); err != nil {
		t.Fatalf("corrupt slot: %v", err)
	}

	var got snapshot
	found, err := s.Load(ctx, "wishlist-store", &got)
	if err != nil {
		t.Fatalf("load corrupt: %v", err)
	}
	if found {
		t.Fatal("corrupt slot must report absent")
	}
}

func TestFileStoreSurvivesReopen(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	s, err := NewFileStore(dir)
	if err != nil {
		t.Fatalf("new file store: %v", err)
	}
	if err := s.Save(ctx, "auth-storage", snapshot{Items: []int{7}}); err != nil {
		t.Fatalf("save: %v", err)
	}

	reopened, err := NewFileStore(dir)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	var got snapshot
	found, err := reopened.Load(ctx, "auth-storage", &got)
	if err != nil || !found {
		t.Fatalf("load after reopen: found=%v err=%v", found, err)
	}
	if len(got.Items) != 1 || got.Items[0] != 7 {
		t.Fatalf("unexpected snapshot after reopen: %+v", got)
	}
}

func TestRedisStoreRoundTripAndTTL(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	s := NewRedisStore(client, "", time.Minute)
	ctx := context.Background()

	if err := s.Save(ctx, "cart-store", snapshot{Note: "y"}); err != nil {
		t.Fatalf("save: %v", err)
	}
	var got snapshot
	found, err := s.Load(ctx, "cart-store", &got)
	if err != nil || !found {
		t.Fatalf("load: found=%v err=%v", found, err)
	}
	if got.Note != "y" {
		t.Fatalf("unexpected snapshot: %+v", got)
	}

	mr.FastForward(2 * time.Minute)
	if found, _ := s.Load(ctx, "cart-store", &got); found {
		t.Fatal("expected slot expired after TTL")
	}
}

func TestRedisStoreCorruptValueReportsAbsent(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	s := NewRedisStore(client, "p", 0)

	if err := mr.Set("p:cart-store", "{{nope"); err != nil {
		t.Fatalf("seed corrupt value: %v", err)
	}
	var got snapshot
	found, err := s.Load(context.Background(), "cart-store", &got)
	if err != nil {
		t.Fatalf("load corrupt: %v", err)
	}
	if found {
		t.Fatal("corrupt value must report absent")
	}
}
