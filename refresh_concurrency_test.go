package diauth

import (
	"context"
	"errors"
	"sync"
	"testing"
)

// Concurrent presentations of one refresh token must produce exactly one
// rotated pair; every loser sees invalid_grant, never a second token set.
func TestConcurrentRefreshRotationSingleWinner(t *testing.T) {
	f := newEngineFixture(t)
	ctx := context.Background()

	tokens, err := f.engine.ExchangeAuthorizationCode(ctx,
		f.authorizationCode(t, "openid offline_access", nil),
		testClientID, testRedirectURI, f.clientAssertion(t, f.clientKey))
	if err != nil {
		t.Fatalf("exchange failed: %v", err)
	}

	const workers = 12
	assertions := make([]string, workers)
	for i := range assertions {
		assertions[i] = f.clientAssertion(t, f.clientKey)
	}

	start := make(chan struct{})
	results := make(chan error, workers)
	var wg sync.WaitGroup
	wg.Add(workers)

	for i := 0; i < workers; i++ {
		go func(assertion string) {
			defer wg.Done()
			<-start
			_, err := f.engine.ExchangeRefreshToken(ctx, tokens.RefreshToken, testClientID, assertion)
			results <- err
		}(assertions[i])
	}

	close(start)
	wg.Wait()
	close(results)

	success := 0
	for err := range results {
		switch {
		case err == nil:
			success++
		case errors.Is(err, ErrInvalidGrant):
		default:
			t.Fatalf("unexpected rotation error: %v", err)
		}
	}
	if success != 1 {
		t.Fatalf("expected exactly one successful rotation, got %d", success)
	}
}
