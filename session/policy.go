package session

import (
	"github.com/OllieJC/di-authentication-api/statemachine"
	"github.com/OllieJC/di-authentication-api/vot"
)

// Decision is the context consulted by conditional transitions when a
// session advances: what the client requires, what the user has achieved,
// and whether their accepted terms and conditions are current.
type Decision struct {
	RequestedTrustLevel       vot.CredentialTrustLevel
	PhoneNumberVerified       bool
	TermsAndConditionsCurrent bool
}

func requestedLowTrust(d Decision) bool {
	return d.RequestedTrustLevel == vot.Low
}

func lowTrustWithCurrentTerms(d Decision) bool {
	return requestedLowTrust(d) && d.TermsAndConditionsCurrent
}

func secondFactorOutstanding(d Decision) bool {
	return !d.PhoneNumberVerified
}

// Policy wraps the session transition graph. Advance never mutates the
// session it is given; callers persist the returned copy.
type Policy struct {
	machine *statemachine.Machine[State, Event, Decision]
}

// NewPolicy builds the session state policy.
//
// The credential-entry outcome depends on the decision context: a client
// requiring only low credential trust gets AUTHENTICATED (or is detoured to
// re-accept stale terms and conditions), while medium-and-above clients
// need a verified second factor before reaching LOGGED_IN.
func NewPolicy() (*Policy, error) {
	machine, err := statemachine.New(map[State][]statemachine.Transition[State, Event, Decision]{
		StateNew: {
			{Event: EventSessionStarted, Target: StateAuthenticationRequired},
			{Event: EventSystemHasSentEmailVerificationCode, Target: StateVerifyEmailCodeSent},
		},
		StateAuthenticationRequired: {
			{Event: EventUserEnteredValidCredentials, Target: StateAuthenticated, Condition: lowTrustWithCurrentTerms},
			{Event: EventUserEnteredValidCredentials, Target: StateUpdatedTermsAndConditions, Condition: requestedLowTrust},
			{Event: EventUserEnteredValidCredentials, Target: StateTwoFactorRequired, Condition: secondFactorOutstanding},
			{Event: EventUserEnteredValidCredentials, Target: StateLoggedIn},
			{Event: EventSystemHasSentEmailVerificationCode, Target: StateVerifyEmailCodeSent},
		},
		StateVerifyEmailCodeSent: {
			{Event: EventUserEnteredValidEmailCode, Target: StateTwoFactorRequired},
		},
		StateTwoFactorRequired: {
			{Event: EventSystemHasSentPhoneVerificationCode, Target: StateVerifyPhoneNumberCodeSent},
			{Event: EventTwoFactorCodeVerified, Target: StateLoggedIn},
		},
		StateVerifyPhoneNumberCodeSent: {
			{Event: EventUserEnteredValidPhoneCode, Target: StateLoggedIn},
		},
		StateAuthenticated: {
			{Event: EventSystemHasSentPhoneVerificationCode, Target: StateVerifyPhoneNumberCodeSent},
			{Event: EventTwoFactorCodeVerified, Target: StateLoggedIn},
		},
		StateUpdatedTermsAndConditions: {
			{Event: EventUserAcceptedTermsAndConditions, Target: StateAuthenticated},
		},
		// StateLoggedIn is terminal.
		StateLoggedIn: {},
	})
	if err != nil {
		return nil, err
	}
	return &Policy{machine: machine}, nil
}

// Advance computes the session's next state for the given event and returns
// a copy of the session in that state. It surfaces
// statemachine.ErrInvalidStateTransition unchanged when the event is not
// legal from the current state; callers must treat that as a rejected
// action, never a silent no-op.
func (p *Policy) Advance(s *Session, event Event, decision Decision) (*Session, error) {
	next, err := p.machine.TransitionWithContext(s.State, event, decision)
	if err != nil {
		return nil, err
	}
	return s.WithState(next), nil
}
