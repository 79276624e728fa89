// Package preflight provides readiness checks for the paths and services
// cropwatch depends on.
//
// These checks run in two contexts:
//   - The daemon calls RunAll at startup and refuses to start when the state
//     directory is unusable.
//   - The CLI "cropwatch status" command renders the same results as a table.
//
// Checks for optional features report Passed with a "Disabled" detail.
package preflight
