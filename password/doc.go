// Package password hashes passwords with argon2id and checks login
// credentials before tokens are issued.
//
// Hashes use the PHC string form:
//
//	$argon2id$v=19$m=<memory>,t=<time>,p=<threads>$<salt>$<hash>
//
// [Argon2.NeedsUpgrade] reports hashes made with weaker parameters so
// callers can rehash after the next successful login.
package password
