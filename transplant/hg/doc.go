// Package hg wraps the Mercurial command line client with the
// primitive operations the transplant service needs: clone, pull,
// log, update, push, identify, transplant, strip, purge, and
// collapse.
//
// Every failure surfaces as a *CommandError carrying the rendered
// command line, exit code, and both output streams. Expected benign
// conditions (an unknown revision during a probe, an empty revision
// set during strip) are detected with IsUnknownRevision and
// IsEmptyRevisionSet rather than treated as faults.
//
// The Runner interface isolates the actual process spawning so
// tests can script invocations without a Mercurial install.
package hg
