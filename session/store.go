package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/OllieJC/di-authentication-api/store"
)

// ErrNotFound is returned when a session or client session is absent from
// the store or has expired.
var ErrNotFound = errors.New("session not found")

const (
	sessionPrefix       = "session:"
	clientSessionPrefix = "client-session-"
)

// Store persists sessions and client sessions as JSON in the ephemeral
// store. Entries expire a fixed TTL after their last write.
type Store struct {
	store store.EphemeralStore
	ttl   time.Duration
}

// NewStore creates a session Store. ttl applies to every save.
func NewStore(ephemeral store.EphemeralStore, ttl time.Duration) *Store {
	return &Store{
		store: ephemeral,
		ttl:   ttl,
	}
}

// Save writes the session back under its id, refreshing the TTL.
func (s *Store) Save(ctx context.Context, sess *Session) error {
	data, err := json.Marshal(sess)
	if err != nil {
		return fmt.Errorf("encoding session: %w", err)
	}
	return s.store.SetWithExpiry(ctx, sessionPrefix+sess.SessionID, data, s.ttl)
}

// Get loads a session by id. Absent or expired sessions yield ErrNotFound;
// store failures are surfaced unchanged.
func (s *Store) Get(ctx context.Context, sessionID string) (*Session, error) {
	data, err := s.store.Get(ctx, sessionPrefix+sessionID)
	if err != nil {
		return nil, err
	}
	if data == nil {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, sessionID)
	}

	var sess Session
	if err := json.Unmarshal(data, &sess); err != nil {
		return nil, fmt.Errorf("decoding session: %w", err)
	}
	return &sess, nil
}

// Delete removes a session.
func (s *Store) Delete(ctx context.Context, sessionID string) error {
	return s.store.Delete(ctx, sessionPrefix+sessionID)
}

// SaveClientSession persists an immutable client session under its id.
func (s *Store) SaveClientSession(ctx context.Context, cs *ClientSession) error {
	data, err := json.Marshal(cs)
	if err != nil {
		return fmt.Errorf("encoding client session: %w", err)
	}
	return s.store.SetWithExpiry(ctx, clientSessionPrefix+cs.ID, data, s.ttl)
}

// GetClientSession loads a client session by id.
func (s *Store) GetClientSession(ctx context.Context, clientSessionID string) (*ClientSession, error) {
	data, err := s.store.Get(ctx, clientSessionPrefix+clientSessionID)
	if err != nil {
		return nil, err
	}
	if data == nil {
		return nil, fmt.Errorf("%w: client session %s", ErrNotFound, clientSessionID)
	}

	var cs ClientSession
	if err := json.Unmarshal(data, &cs); err != nil {
		return nil, fmt.Errorf("decoding client session: %w", err)
	}
	return &cs, nil
}
