//go:build integration

package storage

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/redis"
)

// setupRedisContainer starts a Redis container for testing
func setupRedisContainer(t *testing.T) string {
	t.Helper()

	ctx := context.Background()

	redisContainer, err := redis.Run(ctx,
		"redis:7-alpine",
		redis.WithSnapshotting(10, 1),
		redis.WithLogLevel(redis.LogLevelVerbose),
	)
	if err != nil {
		t.Fatalf("failed to start redis container: %v", err)
	}
	t.Cleanup(func() {
		if err := testcontainers.TerminateContainer(redisContainer); err != nil {
			t.Logf("failed to terminate container: %v", err)
		}
	})

	endpoint, err := redisContainer.ConnectionString(ctx)
	if err != nil {
		t.Fatalf("failed to get redis endpoint: %v", err)
	}
	return strings.TrimPrefix(endpoint, "redis://")
}

func TestRedisStoreContainer_RoundTrip(t *testing.T) {
	addr := setupRedisContainer(t)

	store, err := NewRedisStore(addr, "", 0, time.Minute)
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	defer store.Close()

	if err := store.Ping(context.Background()); err != nil {
		t.Fatalf("Ping failed: %v", err)
	}

	original := testSnapshot("mood", 7, time.Now().Truncate(time.Second).UTC())
	if err := store.Put(context.Background(), original); err != nil {
		t.Fatalf("Put failed: %v", err)
	}

	got, found, err := store.GetLatest(context.Background(), "mood")
	if err != nil || !found {
		t.Fatalf("GetLatest = found %v, err %v", found, err)
	}
	if !got.GeneratedAt.Equal(original.GeneratedAt) || got.Order != original.Order {
		t.Errorf("round trip mismatch: got %+v, want %+v", got, original)
	}
	if !sameRows(got, original) {
		t.Errorf("rows mismatch: got %+v / %+v", got.Future, got.History)
	}
}

func TestRedisStoreContainer_TTLExpiration(t *testing.T) {
	addr := setupRedisContainer(t)

	store, err := NewRedisStore(addr, "", 0, 2*time.Second)
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	defer store.Close()

	if err := store.Put(context.Background(), testSnapshot("mood", 6, time.Now())); err != nil {
		t.Fatalf("Put failed: %v", err)
	}

	// Wait for expiration
	time.Sleep(3 * time.Second)

	_, found, err := store.GetLatest(context.Background(), "mood")
	if err != nil {
		t.Fatalf("GetLatest failed: %v", err)
	}
	if found {
		t.Error("expected snapshot to be expired")
	}
}

func TestRedisStoreContainer_ConcurrentReadWrite(t *testing.T) {
	addr := setupRedisContainer(t)

	store, err := NewRedisStore(addr, "", 0, time.Minute)
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	defer store.Close()

	var wg sync.WaitGroup
	for i := range 5 {
		name := fmt.Sprintf("series-%d", i)
		wg.Add(2)
		go func() {
			defer wg.Done()
			for j := range 20 {
				if err := store.Put(context.Background(), testSnapshot(name, float64(j), time.Now())); err != nil {
					t.Errorf("Put(%s) failed: %v", name, err)
				}
			}
		}()
		go func() {
			defer wg.Done()
			for range 20 {
				if _, _, err := store.GetLatest(context.Background(), name); err != nil {
					t.Errorf("GetLatest(%s) failed: %v", name, err)
				}
			}
		}()
	}
	wg.Wait()

	for i := range 5 {
		name := fmt.Sprintf("series-%d", i)
		got, found, err := store.GetLatest(context.Background(), name)
		if err != nil || !found {
			t.Fatalf("GetLatest(%s) = found %v, err %v", name, found, err)
		}
		if got.Future[0].Forecast != 19 {
			t.Errorf("GetLatest(%s) forecast = %v, want 19", name, got.Future[0].Forecast)
		}
	}
}
