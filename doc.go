// Package diauth is the protocol core of an OpenID Connect identity
// provider: session state policy, authorization code issuance and
// redemption, private-key JWT client authentication, vector-of-trust
// resolution, and token issuance with refresh rotation.
//
// The package is transport-agnostic. HTTP handlers, queueing, and
// deployment wiring live with the caller; the Engine exposes the protocol
// operations and owns the Redis-backed ephemeral state they depend on.
package diauth
