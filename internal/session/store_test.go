package session_test

import (
	"testing"
	"time"

	"github.com/firsec/fir/internal/session"
)

func TestMemoryStore_SaveAndGet(t *testing.T) {
	store := session.NewMemoryStore(time.Minute)
	s, err := store.New()
	if err != nil {
		t.Fatalf("new session: %v", err)
	}
	s.Set("user_id", "42")
	store.Save(s)

	loaded, ok := store.Get(s.ID)
	if !ok {
		t.Fatal("expected session to be stored")
	}
	if loaded.Get("user_id") != "42" {
		t.Fatalf("unexpected value: %q", loaded.Get("user_id"))
	}

	// Mutating the copy must not leak into the store before Save.
	loaded.Set("user_id", "43")
	again, _ := store.Get(s.ID)
	if again.Get("user_id") != "42" {
		t.Fatal("unsaved mutation leaked into the store")
	}
}

func TestMemoryStore_PopIsSingleUse(t *testing.T) {
	store := session.NewMemoryStore(time.Minute)
	s, _ := store.New()
	s.Set("auth_flow", "{\"state\":\"abc\"}")
	store.Save(s)

	value, ok := store.Pop(s.ID, "auth_flow")
	if !ok || value == "" {
		t.Fatal("expected first pop to return the flow")
	}
	if _, ok := store.Pop(s.ID, "auth_flow"); ok {
		t.Fatal("second pop must find nothing")
	}
}

func TestMemoryStore_Expiry(t *testing.T) {
	store := session.NewMemoryStore(10 * time.Millisecond)
	s, _ := store.New()
	s.Set("k", "v")
	store.Save(s)

	time.Sleep(20 * time.Millisecond)
	if _, ok := store.Get(s.ID); ok {
		t.Fatal("expected session to expire")
	}
	if removed := store.Sweep(); removed != 0 {
		// Get already removed it lazily; Sweep finds nothing more.
		t.Fatalf("unexpected sweep count %d", removed)
	}
}

func TestMemoryStore_Destroy(t *testing.T) {
	store := session.NewMemoryStore(time.Minute)
	s, _ := store.New()
	store.Save(s)
	store.Destroy(s.ID)
	if _, ok := store.Get(s.ID); ok {
		t.Fatal("expected session to be gone")
	}
}
