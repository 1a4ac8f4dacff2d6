// Package manager replicates the document store through raft. Writes are
// framed as Commands, committed to the raft log, and applied to the local
// bolt store by the FSM on every node; compare-and-swap update commands
// carry the expected document version so conflicts surface to the caller.
package manager
