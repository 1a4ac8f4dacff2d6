// Package affinity derives host co-location constraints from shared local
// volumes across a composite description, before any task starts. The solver
// is stateless, performs no I/O, and is safe for concurrent use on
// independent inputs.
package affinity
