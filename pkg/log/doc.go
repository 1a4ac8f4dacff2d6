// Package log provides structured logging for Purser built on zerolog.
// Call Init once at startup, then obtain child loggers through the With*
// helpers so every line carries its component and document context.
package log
