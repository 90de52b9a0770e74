// Package ext defines the extension system for the email job queue.
//
// Extensions are notified of job lifecycle events and can react to them,
// for example by recording metrics or alerting on failures.
// Each lifecycle hook is a separate interface so extensions opt in only
// to the events they care about.
//
// # Implementing an Extension
//
//	type FailureAlert struct{ pager Pager }
//
//	func (a *FailureAlert) Name() string { return "failure-alert" }
//
//	// Opt in to specific hooks by implementing their interfaces.
//	func (a *FailureAlert) OnJobFailed(ctx context.Context, j *job.Job, err error) error {
//	    return a.pager.Page(ctx, fmt.Sprintf("%s mail to %s failed: %v", j.Type, j.Email, err))
//	}
//
// # Job Lifecycle Hooks
//
//   - [JobEnqueued]: job was accepted into the queue
//   - [JobStarted]: worker began an attempt
//   - [JobCompleted]: job finished successfully
//   - [JobRetrying]: attempt failed, another is scheduled
//   - [JobFailed]: attempts exhausted, job moved to the failed list
//
// # Other Hooks
//
//   - [Shutdown]: the queue is shutting down gracefully
//
// The [Registry] fans out each event to all registered extensions that
// implement the corresponding hook interface.
package ext
