package callback

import (
	"context"
	"net/url"
	"testing"
	"time"

	"github.com/OllieJC/di-authentication-api/store"
	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newTestValidator(t *testing.T) (*StateValidator, *miniredis.Miniredis) {
	t.Helper()

	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis run failed: %v", err)
	}
	t.Cleanup(mr.Close)

	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	return NewStateValidator(store.NewRedisStore(rdb, time.Second), time.Hour), mr
}

func TestValidateResponseAccepted(t *testing.T) {
	v, _ := newTestValidator(t)
	ctx := context.Background()

	state, err := v.StoreState(ctx, "session-1")
	if err != nil {
		t.Fatalf("StoreState failed: %v", err)
	}

	result, err := v.ValidateResponse(ctx, "session-1", url.Values{
		"code":  {"some-code"},
		"state": {state},
	})
	if err != nil {
		t.Fatalf("ValidateResponse failed: %v", err)
	}
	if !result.Valid {
		t.Fatalf("expected valid response, got failure %q", result.Failure)
	}
}

func TestValidateResponseRejections(t *testing.T) {
	v, _ := newTestValidator(t)
	ctx := context.Background()

	state, err := v.StoreState(ctx, "session-1")
	if err != nil {
		t.Fatalf("StoreState failed: %v", err)
	}

	tests := []struct {
		name    string
		params  url.Values
		failure ValidationFailure
	}{
		{
			name:    "no parameters",
			params:  url.Values{},
			failure: FailureNoParams,
		},
		{
			name:    "error response",
			params:  url.Values{"error": {"access_denied"}, "state": {state}},
			failure: FailureErrorResponse,
		},
		{
			name:    "missing state",
			params:  url.Values{"code": {"some-code"}},
			failure: FailureMissingState,
		},
		{
			name:    "mismatched state",
			params:  url.Values{"code": {"some-code"}, "state": {"forged"}},
			failure: FailureUnexpectedState,
		},
		{
			name:    "missing code",
			params:  url.Values{"state": {state}},
			failure: FailureMissingCode,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			result, err := v.ValidateResponse(ctx, "session-1", tc.params)
			if err != nil {
				t.Fatalf("ValidateResponse failed: %v", err)
			}
			if result.Valid {
				t.Fatal("expected rejection")
			}
			if result.Failure != tc.failure {
				t.Fatalf("expected failure %q, got %q", tc.failure, result.Failure)
			}
		})
	}
}

func TestValidateResponseCarriesErrorCode(t *testing.T) {
	v, _ := newTestValidator(t)

	result, err := v.ValidateResponse(context.Background(), "session-1", url.Values{
		"error": {"temporarily_unavailable"},
	})
	if err != nil {
		t.Fatalf("ValidateResponse failed: %v", err)
	}
	if result.Failure != FailureErrorResponse {
		t.Fatalf("expected error-response failure, got %q", result.Failure)
	}
	if result.ErrorCode != "temporarily_unavailable" {
		t.Fatalf("unexpected error code %q", result.ErrorCode)
	}
}

func TestValidateResponseWrongSession(t *testing.T) {
	v, _ := newTestValidator(t)
	ctx := context.Background()

	state, err := v.StoreState(ctx, "session-1")
	if err != nil {
		t.Fatalf("StoreState failed: %v", err)
	}

	result, err := v.ValidateResponse(ctx, "session-2", url.Values{
		"code":  {"some-code"},
		"state": {state},
	})
	if err != nil {
		t.Fatalf("ValidateResponse failed: %v", err)
	}
	if result.Failure != FailureUnexpectedState {
		t.Fatalf("expected state mismatch, got %q", result.Failure)
	}
}

func TestStateExpires(t *testing.T) {
	v, mr := newTestValidator(t)
	ctx := context.Background()

	state, err := v.StoreState(ctx, "session-1")
	if err != nil {
		t.Fatalf("StoreState failed: %v", err)
	}

	mr.FastForward(2 * time.Hour)

	result, err := v.ValidateResponse(ctx, "session-1", url.Values{
		"code":  {"some-code"},
		"state": {state},
	})
	if err != nil {
		t.Fatalf("ValidateResponse failed: %v", err)
	}
	if result.Failure != FailureUnexpectedState {
		t.Fatalf("expected state mismatch after expiry, got %q", result.Failure)
	}
}
