// Package preflight provides readiness checks for the filesystem paths and
// resources the daemon depends on.
//
// The daemon runs RunAll at startup and refuses to serve when a check fails;
// the CLI status command reuses the individual checks to display health.
package preflight
