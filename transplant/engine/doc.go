// Package engine drives a transplant operation end to end: it
// validates the request, force-refreshes the source and
// destination mirrors, resolves revision set items against the
// commit ceiling, applies each item in order (squashing
// multi-commit sets into one changeset), pushes the destination
// upstream, and reports the new tip.
//
// The operation is modelled as an explicit state machine with
// named states so the failure and cleanup paths can be tested
// independently of the happy path. The destination mirror is
// locked together with the source for the whole operation; on
// failure after mutation has started, an optional cleanup pass
// rolls the destination back to a clean state.
package engine
