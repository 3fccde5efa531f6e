// Package marker persists the completion state of an output directory as one
// of three mutually exclusive JSON files:
//
//	IN_PROGRESS.json  {start_time, task_spec}
//	DONE.json         {start_time, task_spec, completion_time}
//	ERROR.json        {start_time, task_spec, completion_time, error_code}
//
// The absence of DONE.json is the only authoritative signal that a directory
// was never rendered successfully. Times are stored as fractional Unix
// seconds so markers written by earlier tooling stay readable.
//
// All writes go through a temporary file and an atomic rename, so a crash
// never leaves a half-written marker behind.
package marker
