// Package auth authenticates spherolink operators and decides what they may
// do.
//
// Three roles exist:
//   - viewer: list toys, their command tables and live events
//   - operator: everything a viewer can do, plus connect toys and execute
//     commands
//   - admin: everything, including managing the toy registry, operators and
//     reading the audit log
//
// Passwords are hashed with Argon2id and stored in PHC string format. Access
// tokens are HS256 JWTs validated by signature alone. There are no refresh
// tokens; clients log in again when a token expires.
package auth
