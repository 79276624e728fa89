// Package logging assembles structured slog loggers and formatting helpers used
// across cropwatch components.
//
// It owns the configurable console/JSON handlers, centralizes level and output
// plumbing, and exposes context-aware helpers so a poll cycle can tag every log
// line with its correlation ID and category. The package also provides a no-op
// logger for tests and wiring code that cannot fail.
package logging
