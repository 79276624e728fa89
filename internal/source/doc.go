// Package source reads game snapshots and extracts ready events from them.
//
// A snapshot is a JSON document listing the timers and conditions of one
// farm, keyed by category. Snapshots come from a local file written by a
// companion exporter or from an HTTP endpoint. Malformed records are dropped
// with a warning; the rest of the snapshot is still used.
package source
