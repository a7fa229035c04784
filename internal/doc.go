// Package internal holds helpers that are private to trustcore.
//
// # Sub-packages
//
//   - audit: audit event model, sinks, async dispatcher
//   - otp: HOTP/TOTP math, enrollment URIs, backup code generation and hashing
//   - rate: rule table, bucket keys, sliding-window decisions over the store
//   - envconfig: environment configuration for the binaries
//   - migrate: SQL migration runner
package internal
