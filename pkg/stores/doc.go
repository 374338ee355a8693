// Package stores persists the mailsync run journal.
//
// Every push (including dry runs) can be recorded in a local SQLite
// database: one row per run in the runs table and one row per change in
// change_results, in diff order. The schema is applied with golang-migrate
// from migrations embedded in the binary. The journal is optional and is
// enabled by setting journal.path.
package stores
