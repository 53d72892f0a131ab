package lock

import (
	"context"
	"errors"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

func TestLocal_ExclusiveUntilReleased(t *testing.T) {
	l := NewLocal()
	ctx := context.Background()

	release, err := l.Acquire(ctx, "company-a")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := l.Acquire(ctx, "company-a"); !errors.Is(err, ErrLocked) {
		t.Fatalf("expected ErrLocked, got %v", err)
	}
	// other keys are independent
	releaseB, err := l.Acquire(ctx, "company-b")
	if err != nil {
		t.Fatalf("unexpected error for other key: %v", err)
	}
	releaseB()

	release()
	release() // idempotent

	again, err := l.Acquire(ctx, "company-a")
	if err != nil {
		t.Fatalf("expected acquire after release, got %v", err)
	}
	again()
}

func TestLocal_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := NewLocal().Acquire(ctx, "k"); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestLocal_ConcurrentAcquireSingleWinner(t *testing.T) {
	l := NewLocal()
	var (
		wg      sync.WaitGroup
		winners int32
		start   = make(chan struct{})
	)
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			if _, err := l.Acquire(context.Background(), "k"); err == nil {
				atomic.AddInt32(&winners, 1)
			}
		}()
	}
	close(start)
	wg.Wait()
	if winners != 1 {
		t.Fatalf("expected exactly one winner, got %d", winners)
	}
}

// Runs only when TEST_REDIS_URL points at a disposable server.
func TestRedis_AcquireRelease(t *testing.T) {
	url := os.Getenv("TEST_REDIS_URL")
	if url == "" {
		t.Skip("TEST_REDIS_URL not set")
	}
	ctx := context.Background()
	rdb, err := Connect(ctx, url)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer rdb.Close()

	l := NewRedis(rdb, 5*time.Second, zerolog.Nop())
	key := "test-" + uuid.NewString()

	release, err := l.Acquire(ctx, key)
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	if _, err := l.Acquire(ctx, key); !errors.Is(err, ErrLocked) {
		t.Fatalf("expected ErrLocked, got %v", err)
	}
	release()

	release2, err := l.Acquire(ctx, key)
	if err != nil {
		t.Fatalf("re-acquire: %v", err)
	}
	release2()
}

func TestConnect_InvalidURL(t *testing.T) {
	if _, err := Connect(context.Background(), "not a url"); err == nil {
		t.Fatal("expected parse error")
	}
}

var (
	_ Locker = (*Local)(nil)
	_ Locker = (*Redis)(nil)
)

func TestLocker_InterfaceAcquire(t *testing.T) {
	var l Locker = NewLocal()
	release, err := l.Acquire(context.Background(), "generate:x")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if release == nil {
		t.Fatal("expected a release func")
	}
	release()
}
