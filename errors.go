package diauth

import (
	"errors"

	"github.com/OllieJC/di-authentication-api/clientauth"
	"github.com/OllieJC/di-authentication-api/statemachine"
	"github.com/OllieJC/di-authentication-api/store"
	"github.com/OllieJC/di-authentication-api/vot"
)

var (
	// ErrInvalidRequest is returned for malformed token or authorisation
	// requests: missing parameters, unparseable trust vectors, mismatched
	// redirect URIs.
	ErrInvalidRequest = errors.New("invalid_request")
	// ErrInvalidGrant is returned when a presented grant is unknown,
	// expired, or already used. It deliberately does not say which.
	ErrInvalidGrant = errors.New("invalid_grant")
	// ErrUnsupportedGrantType is returned for grant types the engine does
	// not issue tokens for.
	ErrUnsupportedGrantType = errors.New("unsupported_grant_type")
	// ErrUnknownAccessToken is returned when an access token is not
	// recognised, whether never issued or already expired.
	ErrUnknownAccessToken = errors.New("access token not recognised")
	// ErrSessionNotFound is returned when a session or client session id
	// does not resolve to stored state.
	ErrSessionNotFound = errors.New("session not found")
	// ErrSigningUnavailable is returned when the signer cannot produce a
	// token. The grant is not consumed retroactively; callers may retry.
	ErrSigningUnavailable = errors.New("token signing unavailable")
)

// ErrInvalidClient is the uniform client authentication failure.
var ErrInvalidClient = clientauth.ErrInvalidClient

// ErrInvalidStateTransition is returned by AdvanceSession when the event is
// not legal from the session's current state.
var ErrInvalidStateTransition = statemachine.ErrInvalidStateTransition

// ErrStorageUnavailable wraps ephemeral store transport failures. It is
// never conflated with protocol rejections like ErrInvalidGrant.
var ErrStorageUnavailable = store.ErrUnavailable

// ErrVectorParse marks a malformed vector of trust. The engine wraps it in
// ErrInvalidRequest; the sentinel stays reachable for callers that care.
var ErrVectorParse = vot.ErrParse
