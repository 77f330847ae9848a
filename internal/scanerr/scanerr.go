// Package scanerr names the error taxonomy of the scanner by handling, not
// by exception class: a small set of sentinel errors that every workstream
// checks with errors.Is before deciding whether to retry, abort a tick, or
// mark a row terminal.
package scanerr

import "errors"

var (
	// ErrCircuitOpen bubbles up from a rate-limited host's circuit breaker.
	// The platform-crawl state machine special-cases this to abort the
	// current tick for that platform while preserving cursor progress.
	ErrCircuitOpen = errors.New("scanerr: circuit open")

	// ErrValidationFailed covers Content-Type/magic-bytes mismatch,
	// undersized payloads, and non-image bodies. Terminal for the image:
	// the row's face flag is set false and it is not reprocessed.
	ErrValidationFailed = errors.New("scanerr: validation failed")

	// ErrMultiFace names the outcome of a reference image that contains
	// more than one face. Terminal for that reference image; the ingest
	// worker records it on the row as model.ReasonMultipleFaces and does
	// not return this error.
	ErrMultiFace = errors.New("scanerr: multiple faces on reference image")

	// ErrNoFace names the outcome of a reference image that contains zero
	// faces; the ingest worker records it on the row as
	// model.ReasonNoFaceDetected and does not return this error.
	ErrNoFace = errors.New("scanerr: no face detected on reference image")

	// ErrStaleJob names the outcome of a job reclassified by the startup
	// stale-job reaper; the reaper stamps model.StaleJobError on the job
	// row and does not return this error.
	ErrStaleJob = errors.New("scanerr: stale job recovered")

	// ErrChunkTimeout is returned when a face-detection child process is
	// killed after exceeding its wall-clock budget.
	ErrChunkTimeout = errors.New("scanerr: detection chunk timed out")
)
