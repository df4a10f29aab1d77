package jobxredis

import (
	"context"
	"sync"

	"github.com/Abraxas-365/jobrelay/pkg/jobx"
	"github.com/redis/go-redis/v9"
)

type subscription struct {
	ps     *redis.PubSub
	events chan jobx.Event
	cancel context.CancelFunc
	done   chan struct{}
	once   sync.Once
}

// Subscribe listens on the updates channel. The returned subscription is
// confirmed before Subscribe returns, so no event published afterwards is
// missed.
func (q *Queue) Subscribe(ctx context.Context) (jobx.Subscription, error) {
	ps := q.rdb.Subscribe(ctx, q.channel())
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, redisErrors.NewWithCause(ErrSubscribe, err).WithDetail("channel", q.channel())
	}

	ctx, cancel := context.WithCancel(ctx)
	s := &subscription{
		ps:     ps,
		events: make(chan jobx.Event, 64),
		cancel: cancel,
		done:   make(chan struct{}),
	}
	go s.pump(ctx, q)
	return s, nil
}

func (s *subscription) pump(ctx context.Context, q *Queue) {
	defer close(s.done)
	defer close(s.events)

	msgs := s.ps.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-msgs:
			if !ok {
				return
			}
			e, err := jobx.DecodeEvent([]byte(msg.Payload))
			if err != nil {
				q.log.WithError(err).Warn("dropping undecodable event")
				continue
			}
			select {
			case s.events <- e:
			case <-ctx.Done():
				return
			}
		}
	}
}

func (s *subscription) Events() <-chan jobx.Event { return s.events }

func (s *subscription) Close() error {
	var err error
	s.once.Do(func() {
		s.cancel()
		err = s.ps.Close()
		<-s.done
	})
	return err
}
