// Package tasks provides the concrete task types built on the generic
// state machine.
//
// The broker is the top-level entry point: a PROVISION_RESOURCE request
// fans out into reservation, allocation and per-instance provisioning
// children, a REMOVE_RESOURCE request into removal and reservation-release
// children. Each child carries a callback back to its creator; a counter
// task sits between the broker and parallel children so the broker
// advances only after every child has reported.
package tasks
