// Package asyncx holds the concurrency helpers shared by the queue
// backends, the worker and the hub. Everything takes a context.
//
// [Pool] bounds fan-out over a slice and keeps result order. The Redis
// backend loads pending job records through it:
//
//	jobs, err := asyncx.Pool(ctx, 8, ids, func(ctx context.Context, id string) (*jobx.Job, error) {
//	    return q.GetJob(ctx, id)
//	})
//
// [Retry] and [RetryWithBackoff] retry with a doubling delay. Wrap an error
// in [Permanent] to stop early; workers do that for store errors that are
// not transient.
//
// [WithTimeout] runs a function under a deadline and turns a panic into a
// [PanicError]. Every executor call goes through it.
//
// [Sleep] is the interruptible wait used by poll loops.
package asyncx
