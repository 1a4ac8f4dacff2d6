// Package api serves the HTTP document surface: task requests under
// /requests/<kind>, placements, resource instances, composite template
// import, plus health and metrics endpoints. Typed errors map onto HTTP
// statuses (validation 400, conflict 409, not found 404, adapter 502).
package api
