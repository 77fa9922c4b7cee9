// Package password hashes and checks the passwords behind Podium's dev login.
//
// Hashes are Argon2id in the PHC string form:
//
//	$argon2id$v=19$m=<KiB>,t=<iterations>,p=<lanes>$<salt>$<key>
//
// Tuning comes from PODIUM_ARGON2_* and PODIUM_PASSWORD_* variables (see FromEnv).
package password
