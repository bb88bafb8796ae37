package authcode

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/OllieJC/di-authentication-api/store"
	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newTestService(t *testing.T, ttl time.Duration) (*Service, *miniredis.Miniredis) {
	t.Helper()

	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis run failed: %v", err)
	}
	t.Cleanup(mr.Close)

	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	return NewService(store.NewRedisStore(rdb, time.Second), ttl), mr
}

func TestGenerateAndRedeem(t *testing.T) {
	s, _ := newTestService(t, 5*time.Minute)
	ctx := context.Background()

	code, err := s.Generate(ctx, "cs-1", "joe.bloggs@example.gov.uk")
	if err != nil {
		t.Fatalf("Generate failed: %v", err)
	}
	if code == "" {
		t.Fatal("expected non-empty code")
	}

	binding, err := s.Redeem(ctx, code)
	if err != nil {
		t.Fatalf("Redeem failed: %v", err)
	}
	if binding.ClientSessionID != "cs-1" {
		t.Fatalf("expected cs-1, got %q", binding.ClientSessionID)
	}
	if binding.EmailAddress != "joe.bloggs@example.gov.uk" {
		t.Fatalf("unexpected email %q", binding.EmailAddress)
	}
}

func TestRedeemTwiceFails(t *testing.T) {
	s, _ := newTestService(t, 5*time.Minute)
	ctx := context.Background()

	code, err := s.Generate(ctx, "cs-1", "joe.bloggs@example.gov.uk")
	if err != nil {
		t.Fatalf("Generate failed: %v", err)
	}

	if _, err := s.Redeem(ctx, code); err != nil {
		t.Fatalf("first Redeem failed: %v", err)
	}
	if _, err := s.Redeem(ctx, code); !errors.Is(err, ErrInvalidCode) {
		t.Fatalf("expected ErrInvalidCode on second redemption, got %v", err)
	}
}

func TestRedeemExpiredCodeFails(t *testing.T) {
	s, mr := newTestService(t, time.Minute)
	ctx := context.Background()

	code, err := s.Generate(ctx, "cs-1", "joe.bloggs@example.gov.uk")
	if err != nil {
		t.Fatalf("Generate failed: %v", err)
	}

	mr.FastForward(2 * time.Minute)

	if _, err := s.Redeem(ctx, code); !errors.Is(err, ErrInvalidCode) {
		t.Fatalf("expected ErrInvalidCode after expiry, got %v", err)
	}
}

func TestRedeemUnknownCodeFails(t *testing.T) {
	s, _ := newTestService(t, time.Minute)

	if _, err := s.Redeem(context.Background(), "no-such-code"); !errors.Is(err, ErrInvalidCode) {
		t.Fatalf("expected ErrInvalidCode, got %v", err)
	}
}

func TestConcurrentRedemptionSingleWinner(t *testing.T) {
	s, _ := newTestService(t, time.Minute)
	ctx := context.Background()

	code, err := s.Generate(ctx, "cs-1", "joe.bloggs@example.gov.uk")
	if err != nil {
		t.Fatalf("Generate failed: %v", err)
	}

	const workers = 16
	start := make(chan struct{})
	results := make(chan error, workers)
	var wg sync.WaitGroup
	wg.Add(workers)

	for i := 0; i < workers; i++ {
		go func() {
			defer wg.Done()
			<-start
			_, err := s.Redeem(ctx, code)
			results <- err
		}()
	}

	close(start)
	wg.Wait()
	close(results)

	success := 0
	for err := range results {
		switch {
		case err == nil:
			success++
		case errors.Is(err, ErrInvalidCode):
		default:
			t.Fatalf("unexpected redeem error: %v", err)
		}
	}
	if success != 1 {
		t.Fatalf("expected exactly one successful redemption, got %d", success)
	}
}
