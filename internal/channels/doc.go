// Package channels is the configuration surface behind the CLI: channel and preset changes,
// preview-then-confirm drafts, state resets, and the audit trail of every change.
package channels
