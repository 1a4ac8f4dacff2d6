// Package reconciler runs the redeploy control loop. Each cycle inspects
// the live instances of every auto-redeploy container description through
// the health engine and, where a context carries unhealthy instances,
// posts paired removal and provision broker requests to replace them.
package reconciler
