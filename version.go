// Package clibridge runs an external model CLI as a bounded-time text
// transformation service.
package clibridge

// Version is the clibridge release version.
const Version = "v0.1.0"
