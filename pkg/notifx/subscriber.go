package notifx

import (
	"context"
	"time"

	"github.com/Abraxas-365/jobrelay/pkg/asyncx"
	"github.com/Abraxas-365/jobrelay/pkg/jobx"
	"github.com/Abraxas-365/jobrelay/pkg/logx"
)

// Subscriber retry policy, per (re)subscribe.
const (
	subscribeAttempts = 5
	subscribeDelay    = 200 * time.Millisecond
)

// RunSubscriber relays events from source to hub, in order, until ctx is
// done. A subscription that ends or cannot be opened is retried with
// backoff; RunSubscriber gives up and returns the error once the retries
// are exhausted.
func RunSubscriber(ctx context.Context, source jobx.EventSource, hub *Hub, log *logx.Logger) error {
	if log == nil {
		log = logx.Nop()
	}
	log = log.Named("subscriber")

	for {
		sub, err := asyncx.RetryWithBackoff(ctx, subscribeAttempts, subscribeDelay, func(ctx context.Context) (jobx.Subscription, error) {
			s, err := source.Subscribe(ctx)
			if err != nil {
				log.WithError(err).Warn("subscribe failed")
			}
			return s, err
		})
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		log.Info("subscribed to queue events")

		if err := relay(ctx, sub, hub, log); err != nil {
			_ = sub.Close()
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		_ = sub.Close()
		if ctx.Err() != nil {
			return nil
		}
		log.Warn("event subscription ended, resubscribing")
	}
}

// relay returns nil when the subscription ends and an error only if the hub
// is gone.
func relay(ctx context.Context, sub jobx.Subscription, hub *Hub, log *logx.Logger) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case e, ok := <-sub.Events():
			if !ok {
				return nil
			}
			if err := hub.BroadcastJSON(ctx, NewJobUpdate(e)); err != nil {
				if ctx.Err() != nil {
					return nil
				}
				return err
			}
			log.WithFields(logx.Fields{
				"job_id": e.JobID,
				"event":  string(e.Type),
				"status": string(e.Status()),
			}).Debug("event relayed")
		}
	}
}
