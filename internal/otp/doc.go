// Package otp implements the one-time-password primitives behind the MFA service:
// RFC 4226 HOTP, RFC 6238 TOTP with a bounded drift window, otpauth:// enrollment
// URIs, and single-use backup code generation and hashing.
//
// # What this package must NOT do
//
//   - Touch storage. Consuming a backup code or recording a used step is the
//     store's job; this package only computes and compares.
//   - Compare codes with anything but constant-time equality.
package otp
