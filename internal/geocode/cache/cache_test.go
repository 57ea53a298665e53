package cache

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newTestCache(t *testing.T, ttl time.Duration) (*Redis, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	c := NewWithClient(redis.NewClient(&redis.Options{Addr: mr.Addr()}), ttl)
	t.Cleanup(func() { _ = c.Close() })
	return c, mr
}

func TestRedis_SetGet(t *testing.T) {
	c, _ := newTestCache(t, time.Hour)
	ctx := context.Background()

	if _, ok, err := c.Get(ctx, "https://api.example.com/v1/search?text=x"); err != nil || ok {
		t.Fatalf("expected miss, got ok=%v err=%v", ok, err)
	}

	if err := c.Set(ctx, "https://api.example.com/v1/search?text=x", []byte(`{"features":[]}`)); err != nil {
		t.Fatalf("set: %v", err)
	}

	body, ok, err := c.Get(ctx, "https://api.example.com/v1/search?text=x")
	if err != nil || !ok {
		t.Fatalf("expected hit, got ok=%v err=%v", ok, err)
	}
	if string(body) != `{"features":[]}` {
		t.Fatalf("unexpected body %q", body)
	}
}

func TestRedis_Expires(t *testing.T) {
	c, mr := newTestCache(t, time.Minute)
	ctx := context.Background()

	if err := c.Set(ctx, "u", []byte("b")); err != nil {
		t.Fatal(err)
	}
	mr.FastForward(2 * time.Minute)

	if _, ok, _ := c.Get(ctx, "u"); ok {
		t.Fatal("expected entry to expire")
	}
}

func TestRedis_KeyHidesURL(t *testing.T) {
	c, mr := newTestCache(t, time.Minute)

	url := "https://api.example.com/v1/search?text=x&api_key=secret"
	if err := c.Set(context.Background(), url, []byte("b")); err != nil {
		t.Fatal(err)
	}

	keys := mr.Keys()
	if len(keys) != 1 {
		t.Fatalf("expected one key, got %v", keys)
	}
	if strings.Contains(keys[0], "secret") || !strings.HasPrefix(keys[0], keyPrefix) {
		t.Fatalf("unexpected key %q", keys[0])
	}
}

type disabledConfig struct{}

func (disabledConfig) GetRedisURL() string        { return "" }
func (disabledConfig) GetCacheTTL() time.Duration { return time.Hour }
func (disabledConfig) IsCacheEnabled() bool       { return false }

func TestNew_Disabled(t *testing.T) {
	c, err := New(disabledConfig{}, false)
	if err != nil || c != nil {
		t.Fatalf("expected nil cache, got %v %v", c, err)
	}
}
