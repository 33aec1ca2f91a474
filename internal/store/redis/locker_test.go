package redis

import (
	"context"
	"os"
	"testing"
	"time"

	goredis "github.com/go-redis/redis/v8"
)

// These tests need a live Redis; set REDIS_TEST_ADDR to run them.
func testClient(t *testing.T) *goredis.Client {
	t.Helper()
	addr := os.Getenv("REDIS_TEST_ADDR")
	if addr == "" {
		t.Skip("REDIS_TEST_ADDR not set")
	}
	client, err := New(Config{Addr: addr, DB: 15})
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	t.Cleanup(func() { client.Close() })
	return client
}

func TestTryLockMutualExclusion(t *testing.T) {
	client := testClient(t)
	l := NewLocker(client)
	ctx := context.Background()

	release, ok, err := l.TryLock(ctx, "BTCUSDT", time.Minute)
	if err != nil || !ok {
		t.Fatalf("first acquire: ok=%v err=%v", ok, err)
	}

	_, ok2, err := l.TryLock(ctx, "BTCUSDT", time.Minute)
	if err != nil {
		t.Fatal(err)
	}
	if ok2 {
		t.Fatal("second acquire succeeded while lock held")
	}

	release()

	release3, ok3, err := l.TryLock(ctx, "BTCUSDT", time.Minute)
	if err != nil || !ok3 {
		t.Fatalf("reacquire after release: ok=%v err=%v", ok3, err)
	}
	release3()
}

func TestTryLockDifferentKeysIndependent(t *testing.T) {
	client := testClient(t)
	l := NewLocker(client)
	ctx := context.Background()

	r1, ok, err := l.TryLock(ctx, "BTCUSDT", time.Minute)
	if err != nil || !ok {
		t.Fatalf("acquire BTCUSDT: ok=%v err=%v", ok, err)
	}
	defer r1()

	r2, ok, err := l.TryLock(ctx, "ETHUSDT", time.Minute)
	if err != nil || !ok {
		t.Fatalf("acquire ETHUSDT: ok=%v err=%v", ok, err)
	}
	defer r2()
}
