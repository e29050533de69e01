package redis

import (
	"testing"

	"github.com/telemart/storefront-backend/pkg/config"
)

func TestOptionsFromConfigRequiresURLOrAddr(t *testing.T) {
	if _, err := optionsFromConfig(config.RedisConfig{}); err == nil {
		t.Fatalf("expected error when neither url nor addr set")
	}
}

func TestOptionsFromConfigParsesURL(t *testing.T) {
	opts, err := optionsFromConfig(config.RedisConfig{URL: "redis://:pw@host:6380/2", PoolSize: 5})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if opts.Addr != "host:6380" {
		t.Fatalf("unexpected addr %q", opts.Addr)
	}
	if opts.DB != 2 {
		t.Fatalf("unexpected db %d", opts.DB)
	}
	if opts.PoolSize != 5 {
		t.Fatalf("expected pool size from config, got %d", opts.PoolSize)
	}
}

func TestKeyBuilders(t *testing.T) {
	c := &Client{}
	if got := c.IdempotencyKey("webhook:yookassa", "evt-1"); got != "tgstore:idempotency:webhook:yookassa:evt-1" {
		t.Fatalf("unexpected idempotency key %q", got)
	}
	if got := c.QuoteCacheKey("abc123"); got != "tgstore:quote:abc123" {
		t.Fatalf("unexpected quote key %q", got)
	}
	if got := c.LockKey("sweeper"); got != "tgstore:lock:sweeper" {
		t.Fatalf("unexpected lock key %q", got)
	}
}
