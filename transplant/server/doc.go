// Package server exposes the transplant service over HTTP: the
// transplant operation itself, a revision set query endpoint
// for the UI, the generated client configuration script, and
// the operational endpoints (health, metrics).
//
// The handlers only marshal requests and map errors to status
// codes; all orchestration lives in the engine package.
package server
