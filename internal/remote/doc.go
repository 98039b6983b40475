// Package remote forwards state reads, state writes and operation calls to
// the instance already serving an address.
//
// Every failure crossing the network boundary comes back typed: a
// *TransportError when the peer could not be reached, a *RemoteError when it
// answered with a failure, or a *dispatch.NotFoundError when it does not
// publish the requested operation.
package remote
