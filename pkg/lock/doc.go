// Package lock keeps two pushes from mutating the same remote at once.
//
// RedisLocker stores a random token under mailsync:lock:<host> with SET NX
// and a TTL, and releases it with a compare-and-delete script. NopLocker is
// used when no redis address is configured.
package lock
