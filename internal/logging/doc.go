// Package logging assembles structured slog loggers and formatting helpers used
// across fragility.
//
// It owns the console and JSON handlers, the fanout that mirrors console
// output into a JSON log file, and context helpers so pipeline code can tag
// log lines with run IDs, window indices and stages without threading extra
// parameters. NewNop provides a silent logger for tests and library callers
// that do not configure logging.
package logging
