package session

import (
	"fmt"
	"testing"
	"time"
)

func TestPutGet(t *testing.T) {
	s := NewStore()
	if _, ok := s.Get("chat:1"); ok {
		t.Fatal("empty store should not return a session")
	}

	s.Put("chat:1", "thread_abc")
	threadID, ok := s.Get("chat:1")
	if !ok || threadID != "thread_abc" {
		t.Fatalf("got %q %v", threadID, ok)
	}

	s.Put("chat:1", "thread_def")
	if threadID, _ := s.Get("chat:1"); threadID != "thread_def" {
		t.Errorf("put should replace, got %q", threadID)
	}
}

func TestEvict(t *testing.T) {
	s := NewStore()
	s.Put("chat:1", "thread_abc")
	s.Evict("chat:1")
	if _, ok := s.Get("chat:1"); ok {
		t.Error("evicted session still present")
	}
	s.Evict("chat:never") // no-op
}

func TestExpiry(t *testing.T) {
	now := time.Now()
	clock := func() time.Time { return now }
	s := NewStore(WithTTL(time.Hour), withClock(clock))

	s.Put("chat:1", "thread_abc")

	now = now.Add(30 * time.Minute)
	if _, ok := s.Get("chat:1"); !ok {
		t.Fatal("session expired too early")
	}

	// The Get above refreshed last-seen, so another 45m stays inside TTL.
	now = now.Add(45 * time.Minute)
	if _, ok := s.Get("chat:1"); !ok {
		t.Fatal("activity should extend the session")
	}

	now = now.Add(2 * time.Hour)
	if _, ok := s.Get("chat:1"); ok {
		t.Error("idle session should expire")
	}
	if s.Len() != 0 {
		t.Errorf("expired entry should be removed on access, len=%d", s.Len())
	}
}

func TestCapEvictsOldest(t *testing.T) {
	now := time.Now()
	clock := func() time.Time { return now }
	s := NewStore(WithMaxEntries(3), withClock(clock))

	for i := 0; i < 3; i++ {
		s.Put(fmt.Sprintf("chat:%d", i), fmt.Sprintf("thread_%d", i))
		now = now.Add(time.Minute)
	}

	s.Put("chat:new", "thread_new")

	if s.Len() != 3 {
		t.Fatalf("store should stay at cap, len=%d", s.Len())
	}
	if _, ok := s.Get("chat:0"); ok {
		t.Error("oldest session should have been evicted")
	}
	if _, ok := s.Get("chat:new"); !ok {
		t.Error("new session should be present")
	}
}
