// Package events provides a buffered publish/subscribe broker for
// lifecycle events. Slow subscribers drop events instead of blocking the
// distribution loop.
package events
