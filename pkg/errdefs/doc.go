/*
Package errdefs defines the typed error kinds surfaced by Purser operations.

Every failed operation returns an error distinguishable by kind through the
Is* predicates (errors.As under the hood):

  - ValidationError: malformed or missing input, rejected at the operation boundary
  - ConflictError: stale document version, caller must re-read and retry
  - NotFoundError: target document absent
  - AdapterError: resource-layer failure, surfaces as task FAILED
  - CallbackDeliveryError: best-effort notification failure, logged only
*/
package errdefs
