// Package staffauth is the authentication and session-lifecycle engine for
// hospital staff portals: password verification with progressive lockout,
// one-time-code step-up, opaque recovery and refresh tokens, issuance rate
// limiting, and short-lived JWT access tokens.
//
// The package is designed for concurrent server workloads: Engine methods
// are safe to call from multiple goroutines after initialization through
// [Builder.Build].
//
// # Architecture boundaries
//
// staffauth is the public surface. It exposes [Engine], [Builder], [Config],
// errors and value types (LoginOutcome, SessionResult, AuditEvent, etc.).
// Token randomness and encoding live under internal/ and are never exported.
// The host application owns the staff directory and implements
// [CredentialStore]; code delivery is behind [Notifier].
//
// # What this package must NOT do
//
//   - Persist or log a one-time code or token secret in plaintext; stores
//     hold SHA-256 digests only.
//   - Reveal on its external surface whether a code failed as expired,
//     consumed, unknown or mismatched, or whether a recovery email exists.
//   - Expose Redis clients, stores, or record encodings in its public API.
//
// # Performance contract
//
// Validate is the hot path: signature and claim checks only, no store
// round-trips. Login, step-up and recovery operations are allowed a handful
// of Redis round-trips; code delivery is bounded by the notifier timeout and
// never holds a store transaction open.
package staffauth
