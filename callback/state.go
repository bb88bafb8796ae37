// Package callback validates authorization responses returned to the
// redirect endpoint against the state nonce stored when the request was
// dispatched.
package callback

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"time"

	"github.com/OllieJC/di-authentication-api/internal"
	"github.com/OllieJC/di-authentication-api/store"
)

const statePrefix = "state:"

// ValidationFailure says why a callback response was rejected. Failures are
// outcomes of normal operation, not errors; infrastructure problems are
// reported through the error return instead.
type ValidationFailure string

const (
	FailureNone            ValidationFailure = ""
	FailureNoParams        ValidationFailure = "no query parameters present"
	FailureErrorResponse   ValidationFailure = "error response received"
	FailureMissingState    ValidationFailure = "state parameter missing"
	FailureUnexpectedState ValidationFailure = "state parameter does not match stored state"
	FailureMissingCode     ValidationFailure = "code parameter missing"
)

// Result of validating a callback response.
type Result struct {
	Valid   bool
	Failure ValidationFailure
	// ErrorCode carries the upstream error parameter when Failure is
	// FailureErrorResponse.
	ErrorCode string
}

// StateValidator issues per-session state nonces and checks callback
// responses against them.
type StateValidator struct {
	store store.EphemeralStore
	ttl   time.Duration
}

// NewStateValidator creates a StateValidator. ttl bounds how long a
// dispatched request stays redeemable; zero or negative selects 1 hour.
func NewStateValidator(ephemeral store.EphemeralStore, ttl time.Duration) *StateValidator {
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &StateValidator{
		store: ephemeral,
		ttl:   ttl,
	}
}

// StoreState generates a fresh state nonce for the session, persists it,
// and returns it for inclusion in the outbound authorization request.
func (v *StateValidator) StoreState(ctx context.Context, sessionID string) (string, error) {
	state, err := internal.NewStateNonce()
	if err != nil {
		return "", fmt.Errorf("generating state: %w", err)
	}

	data, err := json.Marshal(state)
	if err != nil {
		return "", fmt.Errorf("encoding state: %w", err)
	}
	if err := v.store.SetWithExpiry(ctx, statePrefix+sessionID, data, v.ttl); err != nil {
		return "", err
	}
	return state, nil
}

// ValidateResponse checks the callback query parameters for the session.
// The response is valid only when it carries a code, no error, and a state
// matching the one stored for the session. A non-nil error means storage
// could not be consulted and the outcome is unknown.
func (v *StateValidator) ValidateResponse(ctx context.Context, sessionID string, params url.Values) (Result, error) {
	if len(params) == 0 {
		return Result{Failure: FailureNoParams}, nil
	}
	if errCode := params.Get("error"); errCode != "" {
		return Result{Failure: FailureErrorResponse, ErrorCode: errCode}, nil
	}
	if params.Get("state") == "" {
		return Result{Failure: FailureMissingState}, nil
	}

	ok, err := v.stateMatches(ctx, sessionID, params.Get("state"))
	if err != nil {
		return Result{}, err
	}
	if !ok {
		return Result{Failure: FailureUnexpectedState}, nil
	}

	if params.Get("code") == "" {
		return Result{Failure: FailureMissingCode}, nil
	}
	return Result{Valid: true}, nil
}

func (v *StateValidator) stateMatches(ctx context.Context, sessionID, received string) (bool, error) {
	data, err := v.store.Get(ctx, statePrefix+sessionID)
	if err != nil {
		return false, err
	}
	if data == nil {
		return false, nil
	}

	var stored string
	if err := json.Unmarshal(data, &stored); err != nil {
		return false, nil
	}
	return stored == received, nil
}
