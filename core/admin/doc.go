// Package admin exposes the operator surface of the engine over HTTP:
// a liveness probe, an engine status snapshot, and a forced logout.
// Endpoints other than the liveness probe can be protected with a
// static bearer token.
package admin
