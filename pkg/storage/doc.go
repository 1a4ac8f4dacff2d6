/*
Package storage provides the document store backing Purser, implemented on BoltDB.

Documents are stored as JSON keyed by self-link, one bucket per document kind.
Task documents and placements carry a DocumentVersion and are updated through
compare-and-swap: the read-check-write runs inside a single bolt transaction,
so concurrent patches to the same document serialize and a stale writer gets a
ConflictError instead of silently clobbering state.

Deletes are idempotent; deleting an absent document is not an error.
*/
package storage
