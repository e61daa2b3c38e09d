package cache

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/formflow/formflow/internal/domain"
)

func TestLRUCache(t *testing.T) {
	cache := NewLRUCache(100)
	ctx := context.Background()
	scope := "inst-001"

	t.Run("SetAndGet", func(t *testing.T) {
		if err := cache.Set(ctx, scope, "key1", []byte("value1"), time.Minute); err != nil {
			t.Fatalf("Set failed: %v", err)
		}

		val, err := cache.Get(ctx, scope, "key1")
		if err != nil {
			t.Fatalf("Get failed: %v", err)
		}
		if string(val) != "value1" {
			t.Errorf("expected 'value1', got '%s'", string(val))
		}
	})

	t.Run("GetMiss", func(t *testing.T) {
		val, err := cache.Get(ctx, scope, "nonexistent")
		if err != nil {
			t.Fatalf("Get failed: %v", err)
		}
		if val != nil {
			t.Errorf("expected nil for cache miss, got: %v", val)
		}
	})

	t.Run("ScopeIsolation", func(t *testing.T) {
		val, _ := cache.Get(ctx, "inst-002", "key1")
		if val != nil {
			t.Error("expected keys to be isolated per scope")
		}
	})

	t.Run("RequiresScope", func(t *testing.T) {
		if _, err := cache.Get(ctx, "", "k"); !errors.Is(err, ErrScopeRequired) {
			t.Errorf("expected ErrScopeRequired, got %v", err)
		}
		if err := cache.Set(ctx, "", "k", nil, time.Minute); !errors.Is(err, ErrScopeRequired) {
			t.Errorf("expected ErrScopeRequired, got %v", err)
		}
		if _, err := cache.IncrementCounter(ctx, "", "k", time.Minute); !errors.Is(err, ErrScopeRequired) {
			t.Errorf("expected ErrScopeRequired, got %v", err)
		}
	})

	t.Run("Delete", func(t *testing.T) {
		_ = cache.Set(ctx, scope, "key2", []byte("value2"), time.Minute)

		if err := cache.Delete(ctx, scope, "key2"); err != nil {
			t.Fatalf("Delete failed: %v", err)
		}

		val, _ := cache.Get(ctx, scope, "key2")
		if val != nil {
			t.Error("expected nil after delete")
		}
	})

	t.Run("TTLExpiration", func(t *testing.T) {
		c := NewLRUCache(10)
		now := time.Now()
		c.now = func() time.Time { return now }

		_ = c.Set(ctx, scope, "expiring", []byte("temp"), time.Second)
		if val, _ := c.Get(ctx, scope, "expiring"); val == nil {
			t.Fatal("expected value before expiry")
		}

		now = now.Add(2 * time.Second)
		if val, _ := c.Get(ctx, scope, "expiring"); val != nil {
			t.Error("expected nil after expiry")
		}
	})

	t.Run("LRUEviction", func(t *testing.T) {
		small := NewLRUCache(3)

		_ = small.Set(ctx, scope, "a", []byte("1"), time.Minute)
		_ = small.Set(ctx, scope, "b", []byte("2"), time.Minute)
		_ = small.Set(ctx, scope, "c", []byte("3"), time.Minute)

		// Touch "a" so "b" becomes least recently used
		_, _ = small.Get(ctx, scope, "a")
		_ = small.Set(ctx, scope, "d", []byte("4"), time.Minute)

		if val, _ := small.Get(ctx, scope, "b"); val != nil {
			t.Error("expected 'b' to be evicted")
		}
		if val, _ := small.Get(ctx, scope, "a"); val == nil {
			t.Error("expected 'a' to survive")
		}

		size, capacity := small.Stats()
		if size != 3 || capacity != 3 {
			t.Errorf("expected 3/3, got %d/%d", size, capacity)
		}
	})

	t.Run("CounterWindow", func(t *testing.T) {
		c := NewLRUCache(10)
		now := time.Now()
		c.now = func() time.Time { return now }

		for i := int64(1); i <= 3; i++ {
			n, err := c.IncrementCounter(ctx, scope, "hits", time.Minute)
			if err != nil {
				t.Fatalf("IncrementCounter failed: %v", err)
			}
			if n != i {
				t.Errorf("expected %d, got %d", i, n)
			}
		}

		now = now.Add(61 * time.Second)
		n, _ := c.IncrementCounter(ctx, scope, "hits", time.Minute)
		if n != 1 {
			t.Errorf("expected counter to reset after the window, got %d", n)
		}
	})

	t.Run("CounterDoesNotShadowValue", func(t *testing.T) {
		_ = cache.Set(ctx, scope, "shared", []byte("v"), time.Minute)
		_, _ = cache.IncrementCounter(ctx, scope, "shared", time.Minute)

		val, _ := cache.Get(ctx, scope, "shared")
		if string(val) != "v" {
			t.Errorf("expected value to survive a same-named counter, got %q", val)
		}
	})

	t.Run("Close", func(t *testing.T) {
		c := NewLRUCache(10)
		_ = c.Set(ctx, scope, "k", []byte("v"), time.Minute)

		if err := c.Close(); err != nil {
			t.Errorf("Close failed: %v", err)
		}
		if val, _ := c.Get(ctx, scope, "k"); val != nil {
			t.Error("expected cache to be cleared after close")
		}
	})
}

func TestTwoPhaseCache(t *testing.T) {
	ctx := context.Background()
	local := NewLRUCache(10)
	remote := NewLRUCache(10)
	c := NewTwoPhaseCache(local, remote, time.Minute)

	t.Run("ReadThroughPopulatesL1", func(t *testing.T) {
		_ = remote.Set(ctx, "inst", "k", []byte("v"), time.Hour)

		val, err := c.Get(ctx, "inst", "k")
		if err != nil || string(val) != "v" {
			t.Fatalf("expected v, got %q, %v", val, err)
		}
		if l1, _ := local.Get(ctx, "inst", "k"); string(l1) != "v" {
			t.Error("expected L1 to be populated on L2 hit")
		}
	})

	t.Run("DeleteBothTiers", func(t *testing.T) {
		_ = c.Set(ctx, "inst", "gone", []byte("x"), time.Hour)
		_ = c.Delete(ctx, "inst", "gone")

		if v, _ := local.Get(ctx, "inst", "gone"); v != nil {
			t.Error("expected L1 delete")
		}
		if v, _ := remote.Get(ctx, "inst", "gone"); v != nil {
			t.Error("expected L2 delete")
		}
	})

	t.Run("CountersUseL2", func(t *testing.T) {
		_, _ = c.IncrementCounter(ctx, "inst", "n", time.Minute)
		n, _ := remote.IncrementCounter(ctx, "inst", "n", time.Minute)
		if n != 2 {
			t.Errorf("expected counter to live in L2, got %d", n)
		}
	})
}

func TestBlocklist(t *testing.T) {
	ctx := context.Background()
	c := NewLRUCache(100)

	blocked, err := IsIPBlocked(ctx, c, "inst", "198.51.100.7")
	if err != nil || blocked {
		t.Fatalf("expected IP not blocked, got %v, %v", blocked, err)
	}

	if err := BlockIP(ctx, c, "inst", "198.51.100.7", "fraud"); err != nil {
		t.Fatalf("BlockIP failed: %v", err)
	}

	blocked, _ = IsIPBlocked(ctx, c, "inst", "198.51.100.7")
	if !blocked {
		t.Error("expected IP to be blocked")
	}
	blocked, _ = IsIPBlocked(ctx, c, "other", "198.51.100.7")
	if blocked {
		t.Error("expected block to be scoped to the instance")
	}
}

func TestAllowAlert(t *testing.T) {
	ctx := context.Background()
	c := NewLRUCache(100)

	allowed := 0
	for i := 0; i < 15; i++ {
		ok, err := AllowAlert(ctx, c, "inst", 10, time.Hour)
		if err != nil {
			t.Fatalf("AllowAlert failed: %v", err)
		}
		if ok {
			allowed++
		}
	}
	if allowed != 10 {
		t.Errorf("expected 10 alerts allowed per window, got %d", allowed)
	}
}

func TestNewCache(t *testing.T) {
	t.Run("MemoryType", func(t *testing.T) {
		cache, err := New(domain.CacheConfig{Type: "memory", LocalMaxSize: 100})
		if err != nil {
			t.Fatalf("New failed: %v", err)
		}
		defer cache.Close()

		if _, ok := cache.(*LRUCache); !ok {
			t.Error("expected LRUCache for memory type")
		}
	})

	t.Run("UnsupportedType", func(t *testing.T) {
		if _, err := New(domain.CacheConfig{Type: "memcached"}); err == nil {
			t.Error("expected error for unsupported type")
		}
	})
}
