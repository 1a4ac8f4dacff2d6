// Package callback implements the completion notification protocol between
// cooperating tasks. A callback is a plain value (target link, target
// sub-stages, direction flag) attached to a task at creation; the Notifier
// delivers exactly one message per terminal transition, best effort, with no
// retries.
package callback
