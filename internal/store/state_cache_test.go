package store

import (
	"context"
	"slices"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newTestCache(t *testing.T) (*StateCache, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return NewStateCache(rdb), mr
}

func TestKey(t *testing.T) {
	if got := key("http-get"); got != "intg:entity:state:http-get" {
		t.Fatalf("unexpected key %q", got)
	}
}

func TestDecodeAttributes(t *testing.T) {
	attrs, err := decodeAttributes([]byte(`{"state":"ON","source":"http://x"}`))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if attrs["state"] != "ON" || attrs["source"] != "http://x" {
		t.Fatalf("unexpected attrs %v", attrs)
	}
	empty, err := decodeAttributes([]byte(`null`))
	if err != nil || empty == nil {
		t.Fatalf("null should decode to an empty map, got %v, %v", empty, err)
	}
	if _, err := decodeAttributes([]byte(`[1]`)); err == nil {
		t.Fatalf("expected error for non-object payload")
	}
}

func TestLoadAttributesUnreachable(t *testing.T) {
	rdb := redis.NewClient(&redis.Options{Addr: "127.0.0.1:1", DialTimeout: 100 * time.Millisecond, MaxRetries: -1})
	defer rdb.Close()
	c := NewStateCache(rdb)

	_, ok, err := c.LoadAttributes(context.Background(), "p1")
	if err == nil || ok {
		t.Fatalf("expected an error from an unreachable redis, got ok=%v err=%v", ok, err)
	}
}

func TestSaveAndLoadAttributes(t *testing.T) {
	c, mr := newTestCache(t)
	ctx := context.Background()

	if _, ok, err := c.LoadAttributes(ctx, "p1"); err != nil || ok {
		t.Fatalf("expected miss before save, got ok=%v err=%v", ok, err)
	}
	if err := c.SaveAttributes(ctx, "p1", map[string]any{"state": "ON", "source": "http://x"}); err != nil {
		t.Fatalf("save: %v", err)
	}
	attrs, ok, err := c.LoadAttributes(ctx, "p1")
	if err != nil || !ok {
		t.Fatalf("load: ok=%v err=%v", ok, err)
	}
	if attrs["state"] != "ON" || attrs["source"] != "http://x" {
		t.Fatalf("unexpected attrs %v", attrs)
	}
	if ttl := mr.TTL(key("p1")); ttl != stateTTL {
		t.Fatalf("expected ttl %s, got %s", stateTTL, ttl)
	}

	mr.FastForward(stateTTL + time.Second)
	if _, ok, err := c.LoadAttributes(ctx, "p1"); err != nil || ok {
		t.Fatalf("expected entry to expire, got ok=%v err=%v", ok, err)
	}
}

func TestDeleteAttributes(t *testing.T) {
	c, mr := newTestCache(t)
	ctx := context.Background()
	if err := c.SaveAttributes(ctx, "p1", map[string]any{"state": "ON"}); err != nil {
		t.Fatalf("save: %v", err)
	}
	if err := c.Delete(ctx, "p1"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if mr.Exists(key("p1")) {
		t.Fatalf("key still present after delete")
	}
}

func TestRemoveAllExcept(t *testing.T) {
	c, mr := newTestCache(t)
	ctx := context.Background()
	for _, id := range []string{"p1", "p2", "p3"} {
		if err := c.SaveAttributes(ctx, id, map[string]any{"state": "ON"}); err != nil {
			t.Fatalf("save %s: %v", id, err)
		}
	}
	if err := mr.Set("other:key", "x"); err != nil {
		t.Fatalf("seed unrelated key: %v", err)
	}

	removed, err := c.RemoveAllExcept(ctx, []string{"p2", ""})
	if err != nil {
		t.Fatalf("remove: %v", err)
	}
	slices.Sort(removed)
	if !slices.Equal(removed, []string{"p1", "p3"}) {
		t.Fatalf("unexpected removed ids %v", removed)
	}
	if !mr.Exists(key("p2")) {
		t.Fatalf("kept entity was removed")
	}
	if mr.Exists(key("p1")) || mr.Exists(key("p3")) {
		t.Fatalf("stale entities left behind")
	}
	if !mr.Exists("other:key") {
		t.Fatalf("unrelated key was removed")
	}
}
