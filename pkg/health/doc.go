/*
Package health compares desired container descriptions against the live
fleet and recommends corrective action.

Inspect partitions observed instances by deployment context into healthy and
unhealthy sets; Recommend turns an inspection into removal candidates plus a
single verdict: NONE when everything is healthy, REDEPLOY the moment any
context holds an unhealthy instance. Redeployment always drops and recreates
failed instances rather than repairing in place.

Diff performs a structural field-by-field comparison between a description
and individual instances. The comparison set is extensible through the
package-level Comparators slice; environment variables and power state are
built in.

All entry points are pure and safe for concurrent use; nil inputs fail fast
with ValidationError.
*/
package health
