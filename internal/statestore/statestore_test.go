package statestore

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
)

func newRedisStore(t *testing.T) (*RedisStore, *miniredis.Miniredis) {
	t.Helper()
	m := miniredis.RunT(t)
	s, err := NewRedisStore(context.Background(), "redis://"+m.Addr())
	if err != nil {
		t.Fatalf("NewRedisStore error: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s, m
}

func TestNewRedisStore_BadURL(t *testing.T) {
	if _, err := NewRedisStore(context.Background(), "not a url"); err == nil {
		t.Fatal("expected an error for an unparsable url")
	}
}

func TestRedisStore_Mode(t *testing.T) {
	s, _ := newRedisStore(t)
	ctx := context.Background()

	got, err := s.Mode(ctx, 7)
	if err != nil {
		t.Fatalf("Mode error: %v", err)
	}
	if got != ModeNone {
		t.Errorf("absent mode = %q, want ModeNone", got)
	}

	if err := s.SetMode(ctx, 7, ModeGathering); err != nil {
		t.Fatalf("SetMode error: %v", err)
	}
	if got, _ := s.Mode(ctx, 7); got != ModeGathering {
		t.Errorf("mode = %q, want GATHERING", got)
	}

	if err := s.SetMode(ctx, 7, Mode("BOGUS")); err == nil {
		t.Error("an invalid mode must be rejected")
	}
}

func TestRedisStore_DrainQueue_ExactlyOnce(t *testing.T) {
	s, _ := newRedisStore(t)
	ctx := context.Background()
	queue := DirectQueueKey(7)

	for i := 0; i < 3; i++ {
		p := MessagePayload{UserID: int64(i), Text: fmt.Sprintf("msg %d", i), Timestamp: int64(i)}
		if err := s.Enqueue(ctx, queue, p); err != nil {
			t.Fatalf("Enqueue error: %v", err)
		}
	}
	if n, _ := s.QueueLen(ctx, queue); n != 3 {
		t.Fatalf("QueueLen = %d, want 3", n)
	}

	got, err := s.DrainQueue(ctx, queue)
	if err != nil {
		t.Fatalf("DrainQueue error: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("drained %d, want 3", len(got))
	}
	for i, p := range got {
		if p.UserID != int64(i) || p.Text != fmt.Sprintf("msg %d", i) {
			t.Errorf("payload %d = %+v, enqueue order must be preserved", i, p)
		}
	}

	// The drain consumed the queue; a second drain sees nothing.
	again, err := s.DrainQueue(ctx, queue)
	if err != nil {
		t.Fatalf("second DrainQueue error: %v", err)
	}
	if len(again) != 0 {
		t.Errorf("second drain returned %d payloads, want none", len(again))
	}
	if n, _ := s.QueueLen(ctx, queue); n != 0 {
		t.Errorf("QueueLen after drain = %d, want 0", n)
	}
}

func TestRedisStore_DrainQueue_SkipsUnparsable(t *testing.T) {
	s, m := newRedisStore(t)
	ctx := context.Background()
	queue := DirectQueueKey(7)

	if _, err := m.Push(queue, "not json at all"); err != nil {
		t.Fatal(err)
	}
	if err := s.Enqueue(ctx, queue, MessagePayload{UserID: 42, Text: "fine"}); err != nil {
		t.Fatalf("Enqueue error: %v", err)
	}

	got, err := s.DrainQueue(ctx, queue)
	if err != nil {
		t.Fatalf("DrainQueue error: %v", err)
	}
	if len(got) != 1 || got[0].UserID != 42 {
		t.Errorf("drained = %+v, want only the parsable payload", got)
	}
}

func TestRedisStore_TrimQueue_KeepsMostRecent(t *testing.T) {
	s, _ := newRedisStore(t)
	ctx := context.Background()
	queue := BackgroundQueueKey(7)

	for i := 0; i < 5; i++ {
		if err := s.Enqueue(ctx, queue, MessagePayload{UserID: int64(i)}); err != nil {
			t.Fatal(err)
		}
	}
	if err := s.TrimQueue(ctx, queue, 3); err != nil {
		t.Fatalf("TrimQueue error: %v", err)
	}

	got, err := s.DrainQueue(ctx, queue)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 3 {
		t.Fatalf("kept %d, want 3", len(got))
	}
	if got[0].UserID != 2 || got[2].UserID != 4 {
		t.Errorf("kept %+v, want the most recent entries", got)
	}
}

func TestRedisStore_IncrReplyCount_WindowFromFirstReply(t *testing.T) {
	s, m := newRedisStore(t)
	ctx := context.Background()
	key := ReplyCountKey(7)

	n, err := s.IncrReplyCount(ctx, 7, time.Minute)
	if err != nil {
		t.Fatalf("IncrReplyCount error: %v", err)
	}
	if n != 1 {
		t.Fatalf("count = %d, want 1", n)
	}
	if got := m.TTL(key); got != time.Minute {
		t.Fatalf("TTL = %v, want 1m", got)
	}

	// A later increment must not restart the window.
	m.FastForward(30 * time.Second)
	if n, _ = s.IncrReplyCount(ctx, 7, time.Minute); n != 2 {
		t.Fatalf("count = %d, want 2", n)
	}
	if got := m.TTL(key); got != 30*time.Second {
		t.Errorf("TTL = %v, the expiry is attached only on the first reply", got)
	}
}

func TestRedisStore_ClearReplyCount(t *testing.T) {
	s, _ := newRedisStore(t)
	ctx := context.Background()

	if _, err := s.IncrReplyCount(ctx, 7, time.Minute); err != nil {
		t.Fatal(err)
	}
	if err := s.ClearReplyCount(ctx, 7); err != nil {
		t.Fatalf("ClearReplyCount error: %v", err)
	}
	if n, _ := s.IncrReplyCount(ctx, 7, time.Minute); n != 1 {
		t.Errorf("count = %d after clear, want a fresh 1", n)
	}
}

func TestRedisStore_Cooldown(t *testing.T) {
	s, m := newRedisStore(t)
	ctx := context.Background()

	active, err := s.CooldownActive(ctx, 7, 42)
	if err != nil {
		t.Fatalf("CooldownActive error: %v", err)
	}
	if active {
		t.Error("cooldown must start inactive")
	}

	if err := s.SetCooldown(ctx, 7, 42, 20*time.Second); err != nil {
		t.Fatalf("SetCooldown error: %v", err)
	}
	if active, _ = s.CooldownActive(ctx, 7, 42); !active {
		t.Error("cooldown must be active right after being set")
	}
	// Another user is unaffected.
	if active, _ = s.CooldownActive(ctx, 7, 43); active {
		t.Error("cooldown must be scoped per user")
	}

	m.FastForward(21 * time.Second)
	if active, _ = s.CooldownActive(ctx, 7, 42); active {
		t.Error("cooldown must expire")
	}
}

func TestRedisStore_ShortTerm_CapAndTTLRefresh(t *testing.T) {
	s, m := newRedisStore(t)
	ctx := context.Background()
	key := ShortTermKey(7)

	entries := []DialogEntry{
		{Role: RoleUser, Author: "Kid", Text: "one"},
		{Role: RoleUser, Author: "Pete", Text: "two"},
		{Role: RolePersona, Text: "three"},
		{Role: RoleUser, Author: "Kid", Text: "four"},
	}
	if err := s.AppendShortTerm(ctx, 7, entries, 3, time.Hour); err != nil {
		t.Fatalf("AppendShortTerm error: %v", err)
	}

	got, err := s.ShortTerm(ctx, 7)
	if err != nil {
		t.Fatalf("ShortTerm error: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("kept %d entries, want the cap of 3", len(got))
	}
	if got[0].Text != "two" || got[2].Text != "four" {
		t.Errorf("kept %+v, want the most recent entries in order", got)
	}
	if ttl := m.TTL(key); ttl != time.Hour {
		t.Fatalf("TTL = %v, want 1h", ttl)
	}

	// A later write refreshes the expiry.
	m.FastForward(30 * time.Minute)
	if err := s.AppendShortTerm(ctx, 7, []DialogEntry{{Role: RolePersona, Text: "five"}}, 3, time.Hour); err != nil {
		t.Fatal(err)
	}
	if ttl := m.TTL(key); ttl != time.Hour {
		t.Errorf("TTL = %v after a write, want the refreshed 1h", ttl)
	}

	if err := s.ClearShortTerm(ctx, 7); err != nil {
		t.Fatalf("ClearShortTerm error: %v", err)
	}
	if got, _ = s.ShortTerm(ctx, 7); len(got) != 0 {
		t.Errorf("entries = %d after clear, want none", len(got))
	}
}

func TestRedisStore_AppendShortTerm_NoEntries(t *testing.T) {
	s, m := newRedisStore(t)

	if err := s.AppendShortTerm(context.Background(), 7, nil, 3, time.Hour); err != nil {
		t.Fatalf("AppendShortTerm error: %v", err)
	}
	if m.Exists(ShortTermKey(7)) {
		t.Error("an empty append must not create the key")
	}
}

func TestRedisStore_TimeOfDay(t *testing.T) {
	s, _ := newRedisStore(t)
	ctx := context.Background()

	got, err := s.TimeOfDay(ctx, 7)
	if err != nil {
		t.Fatalf("TimeOfDay error: %v", err)
	}
	if got != "" {
		t.Errorf("absent label = %q, want empty", got)
	}

	if err := s.SetTimeOfDay(ctx, 7, "morning"); err != nil {
		t.Fatalf("SetTimeOfDay error: %v", err)
	}
	if got, _ = s.TimeOfDay(ctx, 7); got != "morning" {
		t.Errorf("label = %q, want morning", got)
	}
}

func TestRedisStore_ConfigCache(t *testing.T) {
	s, m := newRedisStore(t)
	ctx := context.Background()

	raw, err := s.CachedConfig(ctx, -100)
	if err != nil {
		t.Fatalf("CachedConfig error: %v", err)
	}
	if raw != nil {
		t.Error("a cache miss must return nil without an error")
	}

	if err := s.CacheConfig(ctx, -100, []byte(`{"id":7}`), 5*time.Minute); err != nil {
		t.Fatalf("CacheConfig error: %v", err)
	}
	if raw, _ = s.CachedConfig(ctx, -100); string(raw) != `{"id":7}` {
		t.Errorf("cached = %q", raw)
	}

	m.FastForward(6 * time.Minute)
	if raw, _ = s.CachedConfig(ctx, -100); raw != nil {
		t.Error("the cache entry must expire")
	}
}
