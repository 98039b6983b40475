// Package server makes one process the authoritative instance for an
// address.
//
// A Server moves through Unbound, Binding, Listening, Draining and Closed.
// Start resolves a free port through portalloc, writes it back into the
// instance and marks the instance as serving. Shutdown stops accepting
// connections, gives in-flight requests a grace period and then force-closes
// whatever is left.
//
// Routes:
//
//	GET  /state        current snapshot
//	POST /state        apply a partial snapshot, answer {status, state}
//	GET  /health       liveness, answers {status, port}
//	GET  /metrics      prometheus exposition
//	POST /{operation}  invoke a published operation, answer {status, result}
//
// Every error response is a JSON {"error": "..."} body.
package server
