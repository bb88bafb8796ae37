package session

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/OllieJC/di-authentication-api/store"
	"github.com/OllieJC/di-authentication-api/vot"
	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newTestStore(t *testing.T) (*Store, *miniredis.Miniredis) {
	t.Helper()

	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis run failed: %v", err)
	}
	t.Cleanup(mr.Close)

	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	return NewStore(store.NewRedisStore(rdb, time.Second), 30*time.Minute), mr
}

func TestSaveAndGetSession(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	sess, err := NewSession()
	if err != nil {
		t.Fatalf("NewSession failed: %v", err)
	}
	sess.EmailAddress = "joe.bloggs@example.gov.uk"
	sess.State = StateAuthenticationRequired

	if err := s.Save(ctx, sess); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	loaded, err := s.Get(ctx, sess.SessionID)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if loaded.State != StateAuthenticationRequired {
		t.Fatalf("expected AUTHENTICATION_REQUIRED, got %v", loaded.State)
	}
	if !loaded.Validate("Joe.Bloggs@example.gov.uk") {
		t.Fatal("Validate should match case-insensitively")
	}
}

func TestGetMissingSession(t *testing.T) {
	s, _ := newTestStore(t)

	if _, err := s.Get(context.Background(), "absent"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestSessionExpires(t *testing.T) {
	s, mr := newTestStore(t)
	ctx := context.Background()

	sess, err := NewSession()
	if err != nil {
		t.Fatalf("NewSession failed: %v", err)
	}
	if err := s.Save(ctx, sess); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	mr.FastForward(31 * time.Minute)

	if _, err := s.Get(ctx, sess.SessionID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound after expiry, got %v", err)
	}
}

func TestSaveAndGetClientSession(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	vector, err := vot.ParseVector("Cl.Cm")
	if err != nil {
		t.Fatalf("ParseVector failed: %v", err)
	}
	cs := NewClientSession(map[string][]string{
		"client_id":    {"test-id"},
		"redirect_uri": {"http://localhost/redirect"},
		"scope":        {"openid offline_access"},
		"nonce":        {"nonce-123"},
		"state":        {"state-456"},
	}, vector)

	if err := s.SaveClientSession(ctx, cs); err != nil {
		t.Fatalf("SaveClientSession failed: %v", err)
	}

	loaded, err := s.GetClientSession(ctx, cs.ID)
	if err != nil {
		t.Fatalf("GetClientSession failed: %v", err)
	}
	if loaded.ClientID() != "test-id" {
		t.Fatalf("expected client id test-id, got %q", loaded.ClientID())
	}
	if loaded.RedirectURI() != "http://localhost/redirect" {
		t.Fatalf("unexpected redirect uri %q", loaded.RedirectURI())
	}
	if !loaded.HasScope("offline_access") {
		t.Fatal("expected offline_access scope")
	}
	if loaded.Nonce() != "nonce-123" {
		t.Fatalf("unexpected nonce %q", loaded.Nonce())
	}
	if loaded.VectorOfTrust.CredentialTrustLevel != vot.Medium {
		t.Fatalf("unexpected trust level %v", loaded.VectorOfTrust.CredentialTrustLevel)
	}
}
