/*
Package adapter provides the resource-layer adapters invoked by lifecycle
tasks: one adapter per resource type, each exposing CreateInstances and
DeleteInstances.

Containers are backed by containerd; local-driver volumes get host backing
directories; networks and load balancers are document-backed, reconciled by
external engines. The mock adapter backs tests and can simulate
resource-layer failures, which tasks surface as FAILED with the adapter
detail preserved.
*/
package adapter
