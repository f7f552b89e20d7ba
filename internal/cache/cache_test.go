package cache

import (
	"context"
	"testing"
	"time"
)

func TestMemoryStoreExpiry(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	s := NewMemoryStore()
	s.now = func() time.Time { return now }
	ctx := context.Background()

	if err := s.Set(ctx, "a", []byte("1"), time.Minute); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if err := s.Set(ctx, "b", []byte("2"), 0); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if v, ok, _ := s.Get(ctx, "a"); !ok || string(v) != "1" {
		t.Fatalf("a before expiry: %q %v", v, ok)
	}
	now = now.Add(2 * time.Minute)
	if _, ok, _ := s.Get(ctx, "a"); ok {
		t.Fatalf("a should have expired")
	}
	if _, ok, _ := s.Get(ctx, "b"); !ok {
		t.Fatalf("b has no ttl and must persist")
	}
	_ = s.Delete(ctx, "b")
	if _, ok, _ := s.Get(ctx, "b"); ok {
		t.Fatalf("b should be deleted")
	}
}

func TestJSONHelpers(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	type verdict struct {
		Approved   bool
		Confidence float64
	}
	if err := SetJSON(ctx, s, "verdict:1", verdict{true, 0.9}, 0); err != nil {
		t.Fatalf("SetJSON: %v", err)
	}
	var got verdict
	found, err := GetJSON(ctx, s, "verdict:1", &got)
	if err != nil || !found || !got.Approved || got.Confidence != 0.9 {
		t.Fatalf("GetJSON: %+v found=%v err=%v", got, found, err)
	}

	_ = s.Set(ctx, "bad", []byte("{"), 0)
	if found, _ := GetJSON(ctx, s, "bad", &got); found {
		t.Fatalf("corrupt entry must miss")
	}
	if _, ok, _ := s.Get(ctx, "bad"); ok {
		t.Fatalf("corrupt entry must be dropped")
	}

	if found, err := GetJSON(ctx, nil, "x", &got); found || err != nil {
		t.Fatalf("nil store must miss")
	}
}
