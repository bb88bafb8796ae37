// Package session models the authentication session, the per-client
// authorisation request attached to it, and the policy governing how a
// session moves between lifecycle states.
package session

import (
	"strings"
	"time"

	"github.com/OllieJC/di-authentication-api/internal"
	"github.com/OllieJC/di-authentication-api/vot"
	"github.com/google/uuid"
)

// State is the lifecycle state of an authentication session. Exactly one
// value holds at a time.
type State string

const (
	StateNew                       State = "NEW"
	StateAuthenticationRequired    State = "AUTHENTICATION_REQUIRED"
	StateAuthenticated             State = "AUTHENTICATED"
	StateLoggedIn                  State = "LOGGED_IN"
	StateTwoFactorRequired         State = "TWO_FACTOR_REQUIRED"
	StateVerifyEmailCodeSent       State = "VERIFY_EMAIL_CODE_SENT"
	StateVerifyPhoneNumberCodeSent State = "VERIFY_PHONE_NUMBER_CODE_SENT"
	StateUpdatedTermsAndConditions State = "UPDATED_TERMS_AND_CONDITIONS"
)

// Event is a session lifecycle event reported by the frontend handlers.
type Event string

const (
	EventSessionStarted                     Event = "SESSION_STARTED"
	EventUserEnteredValidCredentials        Event = "USER_ENTERED_VALID_CREDENTIALS"
	EventSystemHasSentEmailVerificationCode Event = "SYSTEM_HAS_SENT_EMAIL_VERIFICATION_CODE"
	EventUserEnteredValidEmailCode          Event = "USER_ENTERED_VALID_EMAIL_CODE"
	EventSystemHasSentPhoneVerificationCode Event = "SYSTEM_HAS_SENT_PHONE_VERIFICATION_CODE"
	EventUserEnteredValidPhoneCode          Event = "USER_ENTERED_VALID_PHONE_CODE"
	EventTwoFactorCodeVerified              Event = "TWO_FACTOR_CODE_VERIFIED"
	EventUserAcceptedTermsAndConditions     Event = "USER_ACCEPTED_TERMS_AND_CONDITIONS"
)

// Session is the mutable authentication session persisted between stateless
// invocations. Callers mutate a copy and persist it back; the struct itself
// carries no synchronization.
type Session struct {
	SessionID        string   `json:"session_id"`
	ClientSessionIDs []string `json:"client_sessions"`
	EmailAddress     string   `json:"email_address,omitempty"`
	State            State    `json:"state"`
	RetryCount       int      `json:"retry_count"`
	CodeRequestCount int      `json:"code_request_count"`
}

// NewSession creates a session in StateNew with a fresh random identifier.
func NewSession() (*Session, error) {
	id, err := internal.NewSessionID()
	if err != nil {
		return nil, err
	}
	return &Session{
		SessionID: id,
		State:     StateNew,
	}, nil
}

// WithState returns a copy of the session in the given state.
func (s *Session) WithState(state State) *Session {
	copied := *s
	copied.ClientSessionIDs = append([]string(nil), s.ClientSessionIDs...)
	copied.State = state
	return &copied
}

// AttachClientSession records that a client session references this session.
func (s *Session) AttachClientSession(clientSessionID string) {
	s.ClientSessionIDs = append(s.ClientSessionIDs, clientSessionID)
}

// Validate reports whether the given email belongs to this session.
func (s *Session) Validate(email string) bool {
	return s.EmailAddress != "" && strings.EqualFold(s.EmailAddress, email)
}

func (s *Session) IncrementRetryCount()       { s.RetryCount++ }
func (s *Session) ResetRetryCount()           { s.RetryCount = 0 }
func (s *Session) IncrementCodeRequestCount() { s.CodeRequestCount++ }

// ClientSession captures the original authorisation request parameters of
// one relying-party interaction. It is immutable once created; many client
// sessions may reference a single session.
type ClientSession struct {
	ID            string              `json:"id"`
	AuthRequest   map[string][]string `json:"auth_request_params"`
	CreationDate  time.Time           `json:"creation_date"`
	VectorOfTrust vot.VectorOfTrust   `json:"effective_vector_of_trust"`
}

// NewClientSession creates a client session for the given authorisation
// request parameters and the trust vector resolved from them.
func NewClientSession(authRequest map[string][]string, vector vot.VectorOfTrust) *ClientSession {
	return &ClientSession{
		ID:            uuid.NewString(),
		AuthRequest:   authRequest,
		CreationDate:  time.Now().UTC(),
		VectorOfTrust: vector,
	}
}

func (cs *ClientSession) param(name string) string {
	values := cs.AuthRequest[name]
	if len(values) == 0 {
		return ""
	}
	return values[0]
}

// ClientID returns the client_id from the original authorisation request.
func (cs *ClientSession) ClientID() string { return cs.param("client_id") }

// RedirectURI returns the redirect_uri from the original request.
func (cs *ClientSession) RedirectURI() string { return cs.param("redirect_uri") }

// Nonce returns the nonce from the original request.
func (cs *ClientSession) Nonce() string { return cs.param("nonce") }

// StateParam returns the CSRF state from the original request.
func (cs *ClientSession) StateParam() string { return cs.param("state") }

// Scopes returns the space-separated scope parameter as a list.
func (cs *ClientSession) Scopes() []string {
	return strings.Fields(cs.param("scope"))
}

// HasScope reports whether the original request asked for the given scope.
func (cs *ClientSession) HasScope(scope string) bool {
	for _, s := range cs.Scopes() {
		if s == scope {
			return true
		}
	}
	return false
}
