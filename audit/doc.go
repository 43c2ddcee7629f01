// Package audit is a latch extension that bridges lifecycle events to an
// audit trail backend.
//
// Every job lifecycle hook emits a structured audit event through the
// [Recorder] interface. The extension assigns severity levels (info for
// normal operations, warning for retries, critical for terminal failures)
// and rich metadata (worker type, queue, attempt counts, errors).
// NewWriterRecorder ships a JSON-lines backend for log files and pipes;
// anything else plugs in through RecorderFunc.
//
// # Selective filtering
//
//	audit.New(recorder,
//	    audit.WithActions(
//	        audit.ActionJobFailed,
//	        audit.ActionJobDLQ,
//	        audit.ActionJobCancelled,
//	    ),
//	)
package audit
