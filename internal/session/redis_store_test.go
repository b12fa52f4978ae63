package session

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
)

func setupTestRedis(t *testing.T) (*RedisStore, *miniredis.Miniredis) {
	t.Helper()
	s := miniredis.RunT(t)
	store, err := NewRedisStore("redis://"+s.Addr(), time.Minute)
	if err != nil {
		t.Fatalf("failed to create redis store: %v", err)
	}
	return store, s
}

func testState(ownerID string) *State {
	return New(ownerID, Movie{MovieID: "mv_new", Title: "New Movie"}, []Movie{
		{MovieID: "mv_a", Title: "Movie A"},
		{MovieID: "mv_b", Title: "Movie B"},
		{MovieID: "mv_c", Title: "Movie C"},
	}, 7)
}

func TestRedisSaveAndGet(t *testing.T) {
	store, s := setupTestRedis(t)
	defer store.Close()
	defer s.Close()

	ctx := context.Background()
	if err := store.Save(ctx, testState("usr_1")); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	got, err := store.Get(ctx, "usr_1")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got.Candidate.MovieID != "mv_new" {
		t.Errorf("expected candidate mv_new, got %s", got.Candidate.MovieID)
	}
	if got.Low != 0 || got.High != 2 {
		t.Errorf("expected window [0,2], got [%d,%d]", got.Low, got.High)
	}
	if got.ListVersion != 7 {
		t.Errorf("expected list version 7, got %d", got.ListVersion)
	}
	if len(got.Snapshot) != 3 {
		t.Errorf("expected snapshot of 3, got %d", len(got.Snapshot))
	}
}

func TestRedisGetMissingReturnsErrNoSession(t *testing.T) {
	store, s := setupTestRedis(t)
	defer store.Close()
	defer s.Close()

	_, err := store.Get(context.Background(), "usr_unknown")
	if !errors.Is(err, ErrNoSession) {
		t.Fatalf("expected ErrNoSession, got %v", err)
	}
}

func TestRedisSaveOverwritesPriorSession(t *testing.T) {
	store, s := setupTestRedis(t)
	defer store.Close()
	defer s.Close()

	ctx := context.Background()
	if err := store.Save(ctx, testState("usr_1")); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	replacement := New("usr_1", Movie{MovieID: "mv_other"}, []Movie{{MovieID: "mv_a"}}, 8)
	if err := store.Save(ctx, replacement); err != nil {
		t.Fatalf("Save replacement failed: %v", err)
	}

	got, err := store.Get(ctx, "usr_1")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got.Candidate.MovieID != "mv_other" {
		t.Errorf("expected replacement session, got candidate %s", got.Candidate.MovieID)
	}
}

func TestRedisSessionExpires(t *testing.T) {
	store, s := setupTestRedis(t)
	defer store.Close()
	defer s.Close()

	ctx := context.Background()
	if err := store.Save(ctx, testState("usr_1")); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	s.FastForward(2 * time.Minute)

	if _, err := store.Get(ctx, "usr_1"); !errors.Is(err, ErrNoSession) {
		t.Fatalf("expected ErrNoSession after TTL, got %v", err)
	}
}

func TestRedisDelete(t *testing.T) {
	store, s := setupTestRedis(t)
	defer store.Close()
	defer s.Close()

	ctx := context.Background()
	if err := store.Save(ctx, testState("usr_1")); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	if err := store.Delete(ctx, "usr_1"); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if _, err := store.Get(ctx, "usr_1"); !errors.Is(err, ErrNoSession) {
		t.Fatalf("expected ErrNoSession after delete, got %v", err)
	}

	// deleting again is not an error
	if err := store.Delete(ctx, "usr_1"); err != nil {
		t.Fatalf("Delete of missing session failed: %v", err)
	}
}

func TestRedisOwnerIsolation(t *testing.T) {
	store, s := setupTestRedis(t)
	defer store.Close()
	defer s.Close()

	ctx := context.Background()
	if err := store.Save(ctx, testState("usr_1")); err != nil {
		t.Fatalf("Save usr_1 failed: %v", err)
	}
	if err := store.Save(ctx, testState("usr_2")); err != nil {
		t.Fatalf("Save usr_2 failed: %v", err)
	}

	if err := store.Delete(ctx, "usr_1"); err != nil {
		t.Fatalf("Delete usr_1 failed: %v", err)
	}
	if _, err := store.Get(ctx, "usr_2"); err != nil {
		t.Fatalf("usr_2 session should survive usr_1 delete: %v", err)
	}
}
