// Package jwt signs and verifies the two credential types of the trust core.
//
// Access and renewal credentials are signed with separate keys so that a leaked
// renewal key cannot mint access credentials and the other way round. Every
// parse pins the algorithm, checks exp against the injected clock, and
// requires the typ claim to match the expected credential type.
//
// PeekExpiry is the only unverified read and exists for the expired fast path.
package jwt
