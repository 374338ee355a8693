// Package devserver serves the remote resource API from memory.
//
// It backs "mailsync dev serve" and the client and round-trip tests. The
// behavior follows the remote contract the engine relies on: bearer-token
// authentication, 409 on duplicate endpoint names and addresses, 404 on
// unknown IDs, and deleting an endpoint degrades every address and
// catch-all routed to it to store-only.
package devserver
