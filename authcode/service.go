// Package authcode mints and redeems single-use authorization codes bound
// to a client session and the authenticated user.
package authcode

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/OllieJC/di-authentication-api/internal"
	"github.com/OllieJC/di-authentication-api/store"
)

// ErrInvalidCode is returned when a code is absent, expired, or already
// redeemed. Storage failures are surfaced separately and must never be
// folded into it.
var ErrInvalidCode = errors.New("authorization code invalid or already used")

const codePrefix = "authcode:"

// Binding is what a code is exchanged for: the client session that asked
// for it and the subject it was issued to.
type Binding struct {
	ClientSessionID string `json:"client_session_id"`
	EmailAddress    string `json:"email_address"`
}

// Service issues and redeems authorization codes against the ephemeral
// store. Redemption is atomic get-and-delete, so a code can be observed at
// most once even under concurrent redemption attempts.
type Service struct {
	store store.EphemeralStore
	ttl   time.Duration
}

// NewService creates a Service. ttl is the code lifetime; zero or negative
// selects the 5 minute default.
func NewService(ephemeral store.EphemeralStore, ttl time.Duration) *Service {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &Service{
		store: ephemeral,
		ttl:   ttl,
	}
}

// Generate mints a fresh random code bound to the given client session and
// subject and stores it under the code's TTL.
func (s *Service) Generate(ctx context.Context, clientSessionID, emailAddress string) (string, error) {
	code, err := internal.NewAuthorizationCode()
	if err != nil {
		return "", fmt.Errorf("generating authorization code: %w", err)
	}

	data, err := json.Marshal(Binding{
		ClientSessionID: clientSessionID,
		EmailAddress:    emailAddress,
	})
	if err != nil {
		return "", fmt.Errorf("encoding code binding: %w", err)
	}

	if err := s.store.SetWithExpiry(ctx, codePrefix+code, data, s.ttl); err != nil {
		return "", err
	}
	return code, nil
}

// Redeem atomically removes the code and returns its binding. A second
// redemption, or redemption after expiry, yields ErrInvalidCode.
func (s *Service) Redeem(ctx context.Context, code string) (*Binding, error) {
	data, err := s.store.GetDel(ctx, codePrefix+code)
	if err != nil {
		return nil, err
	}
	if data == nil {
		return nil, ErrInvalidCode
	}

	var binding Binding
	if err := json.Unmarshal(data, &binding); err != nil {
		return nil, fmt.Errorf("%w: corrupt binding", ErrInvalidCode)
	}
	return &binding, nil
}
