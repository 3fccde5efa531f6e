// Package worker runs one external render at a time.
//
// A Worker accepts blend-file tasks only. Process prepares the output
// directory (archiving whatever a previous render left there), writes the
// parameter-override script and the IN_PROGRESS marker, then starts the
// renderer through a Launcher and returns immediately. The caller polls
// IsDone and, once it reports true, calls Finalize to write the DONE or
// ERROR marker and free the worker.
//
// Calling Process on a busy worker is a caller error; the scheduler checks
// IsAvailable first.
//
// # Segments
//
// A task split across several workers shares one output directory. Only the
// first segment archives the directory and writes the top-level IN_PROGRESS
// marker. Every segment records its own result under segments/, and the
// segment that finishes last writes the aggregate DONE or ERROR marker.
package worker
