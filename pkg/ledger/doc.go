/*
Package ledger implements the reservation ledger: per-resource-pool
allocation counters broken down per resource description.

The placement entry for a pool is the one piece of shared mutable state
between otherwise independent task executions. Reserve and release apply
under a per-entry mutex, so two concurrent reservation tasks against the
same pool cannot interleave their read-modify-write of the counters. No
cross-entry locking exists; placements for different pools are independent.

Over-release clamps the counter at zero and logs a warning rather than
failing, which tolerates duplicate or late removal requests. The ledger
performs no request deduplication; retried identical requests double-count
unless the caller deduplicates.
*/
package ledger
