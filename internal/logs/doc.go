// Package logs reads the daemon log file for the CLI and the HTTP API.
//
// Reads are bounded: a negative offset returns the last N lines, a byte offset
// from a previous Page continues where it left off, and Follow waits for new
// output. Field filters match both console (key=value) and JSON lines, so a
// single poll cycle can be isolated by its correlation_id.
package logs
