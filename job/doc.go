// Package job defines the email job entity, its state machine, typed
// definitions, and the store interface.
//
// # Job Entity
//
// A [Job] carries the wire payload {type, email, data}, a [Priority] and
// an attempt budget, and progresses through a state machine:
//
//	waiting → active → completed (removed)
//	waiting → active → delayed (backoff) → waiting → active → ...
//	waiting → active → failed (moved to the failed list)
//	delayed → waiting (RunAt reached)
//
// Priority is a rank: [PriorityHigh] (1) strictly precedes [PriorityMedium]
// (2), which strictly precedes [PriorityLow] (3). Within a rank jobs are
// dequeued in enqueue order.
//
// # Defining a Job
//
// Use [Definition] with a typed handler. Data is JSON-encoded at enqueue
// time and decoded into T before the handler runs:
//
//	var Welcome = job.NewDefinition(job.TypeWelcome,
//	    func(ctx context.Context, email string, d WelcomeData) error {
//	        return mailer.Send(ctx, email, "Welcome", body(d))
//	    },
//	    job.WithPriority(job.PriorityLow),
//	)
//
// # Registry
//
// [Registry] maps job types to type-erased [HandlerFunc] values. Register
// definitions at startup via [RegisterDefinition].
package job
