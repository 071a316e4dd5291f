// Package audithook is an extension that turns scheduler lifecycle events
// into audit records.
//
// Every hook builds an [AuditEvent] and hands it to a [Recorder]. Normal
// transitions are recorded at info severity and failures at critical.
// Recorder errors are logged and never fail the job.
//
//	s, _ := queuesched.New(queuesched.WithExtension(
//	    audithook.New(audithook.RecorderFunc(func(ctx context.Context, evt *audithook.AuditEvent) error {
//	        return trail.Append(ctx, evt)
//	    }), audithook.WithActions(audithook.ActionJobFailed)),
//	))
package audithook
