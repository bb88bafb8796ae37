// Package vot parses and resolves vectors of trust: a relying party's
// statement of how strongly a user must be authenticated (credential trust
// level) and whether identity proofing is required, carried in the "vtr"
// authorisation request parameter.
package vot

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// ErrParse is returned for malformed or unknown vector-of-trust values.
// Callers surface it as an invalid_request class failure.
var ErrParse = errors.New("invalid vector of trust")

// CredentialTrustLevel is the ordinal strength of authentication performed.
// Comparison is by ordinal: a session satisfies a requirement when its
// achieved level is at least the requested one.
type CredentialTrustLevel int

const (
	Low CredentialTrustLevel = iota
	Medium
	High
	VeryHigh
)

// Value returns the wire form of the level, embedded as the "vot" claim in
// issued ID tokens.
func (l CredentialTrustLevel) Value() string {
	switch l {
	case Low:
		return "Cl"
	case Medium:
		return "Cl.Cm"
	case High:
		return "Cl.Ch"
	case VeryHigh:
		return "Cl.Ch.Cm"
	default:
		return ""
	}
}

func (l CredentialTrustLevel) String() string {
	switch l {
	case Low:
		return "LOW_LEVEL"
	case Medium:
		return "MEDIUM_LEVEL"
	case High:
		return "HIGH_LEVEL"
	case VeryHigh:
		return "VERY_HIGH_LEVEL"
	default:
		return fmt.Sprintf("CredentialTrustLevel(%d)", int(l))
	}
}

// VectorOfTrust is a normalized trust requirement: the credential trust
// level the session must reach and whether identity proofing is required.
// RetainedVTR keeps the raw requested vector strings for trust-mark
// metadata ("vtm").
type VectorOfTrust struct {
	CredentialTrustLevel CredentialTrustLevel `json:"credential_trust_level"`
	IdentityRequired     bool                 `json:"identity_required"`
	RetainedVTR          []string             `json:"retained_vtr,omitempty"`
}

// Default is the vector applied when a client requests none: medium
// credential trust, no identity proofing.
func Default() VectorOfTrust {
	return VectorOfTrust{CredentialTrustLevel: Medium}
}

// SatisfiedBy reports whether a session that achieved the given credential
// trust level meets this vector's requirement.
func (v VectorOfTrust) SatisfiedBy(achieved CredentialTrustLevel) bool {
	return achieved >= v.CredentialTrustLevel
}

// ParseFromAuthRequestAttribute flattens the "vtr" authorisation request
// attribute into its candidate vector strings. Each attribute value is
// either a JSON array of vector strings or a single bare vector string.
func ParseFromAuthRequestAttribute(attr []string) ([]string, error) {
	var vectors []string
	for _, value := range attr {
		value = strings.TrimSpace(value)
		if value == "" {
			continue
		}
		if strings.HasPrefix(value, "[") {
			var entries []string
			if err := json.Unmarshal([]byte(value), &entries); err != nil {
				return nil, fmt.Errorf("%w: malformed vtr attribute: %v", ErrParse, err)
			}
			vectors = append(vectors, entries...)
			continue
		}
		vectors = append(vectors, value)
	}
	return vectors, nil
}

// ParseVector parses a single dot-separated vector string such as "Cl.Cm"
// or "Pm.Cl". Unknown tokens are a hard parse error.
func ParseVector(vector string) (VectorOfTrust, error) {
	vector = strings.TrimSpace(vector)
	if vector == "" {
		return VectorOfTrust{}, fmt.Errorf("%w: empty vector", ErrParse)
	}

	var hasCl, hasCm, hasCh, identity bool
	for _, token := range strings.Split(vector, ".") {
		switch token {
		case "Cl":
			hasCl = true
		case "Cm":
			hasCm = true
		case "Ch":
			hasCh = true
		case "Pl", "Pm", "Ph":
			identity = true
		default:
			return VectorOfTrust{}, fmt.Errorf("%w: unknown token %q", ErrParse, token)
		}
	}
	if !hasCl {
		return VectorOfTrust{}, fmt.Errorf("%w: vector %q has no credential trust component", ErrParse, vector)
	}

	level := Low
	switch {
	case hasCh && hasCm:
		level = VeryHigh
	case hasCh:
		level = High
	case hasCm:
		level = Medium
	}

	return VectorOfTrust{
		CredentialTrustLevel: level,
		IdentityRequired:     identity,
		RetainedVTR:          []string{vector},
	}, nil
}

// Resolve normalizes the candidate vector strings from an authorisation
// request into the vector the session must satisfy. With no candidates the
// default vector applies. With several, the first the session can already
// satisfy wins; if none can be satisfied yet, the first candidate wins so
// the outcome stays deterministic and the session is driven to reach it.
// Any unparseable candidate fails the whole request.
func Resolve(candidates []string, achieved CredentialTrustLevel) (VectorOfTrust, error) {
	if len(candidates) == 0 {
		return Default(), nil
	}

	parsed := make([]VectorOfTrust, 0, len(candidates))
	for _, candidate := range candidates {
		v, err := ParseVector(candidate)
		if err != nil {
			return VectorOfTrust{}, err
		}
		parsed = append(parsed, v)
	}

	resolved := parsed[0]
	for _, v := range parsed {
		if v.SatisfiedBy(achieved) {
			resolved = v
			break
		}
	}
	resolved.RetainedVTR = append([]string(nil), candidates...)
	return resolved, nil
}
