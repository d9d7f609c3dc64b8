// Package password hashes and verifies account passwords and checks
// candidate passwords against a composition policy.
//
// New hashes are Argon2id in PHC form:
//
//	$argon2id$v=19$m=<memory>,t=<time>,p=<threads>$<salt>$<hash>
//
// Bcrypt hashes from older systems still verify; [Argon2.NeedsUpgrade]
// reports true for them and for Argon2id hashes made with weaker parameters
// so the caller can re-hash after the next successful login.
//
// [Policy] is enforced on creation and change only. Reuse against previous
// hashes is checked by the caller, which owns the history.
//
// This package never stores or logs passwords.
package password
