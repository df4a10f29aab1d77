package jobxpostgres

import (
	"context"
	"sync"
	"time"

	"github.com/Abraxas-365/jobrelay/pkg/jobx"
	"github.com/lib/pq"
)

const (
	listenerMinReconnect = 100 * time.Millisecond
	listenerMaxReconnect = 10 * time.Second
)

type subscription struct {
	listener *pq.Listener
	events   chan jobx.Event
	cancel   context.CancelFunc
	done     chan struct{}
	once     sync.Once
}

// Subscribe opens a dedicated LISTEN connection. It returns once the
// connection is live so no later NOTIFY is missed.
func (q *Queue) Subscribe(ctx context.Context) (jobx.Subscription, error) {
	l := pq.NewListener(q.dsn, listenerMinReconnect, listenerMaxReconnect, func(ev pq.ListenerEventType, err error) {
		switch ev {
		case pq.ListenerEventDisconnected:
			q.log.WithError(err).Warn("listener disconnected")
		case pq.ListenerEventReconnected:
			q.log.Info("listener reconnected")
		case pq.ListenerEventConnectionAttemptFailed:
			q.log.WithError(err).Debug("listener connection attempt failed")
		}
	})

	if err := l.Listen(Channel); err != nil {
		_ = l.Close()
		return nil, pgErrors.NewWithCause(ErrListen, err).WithDetail("channel", Channel)
	}
	if err := waitConnected(ctx, l); err != nil {
		_ = l.Close()
		return nil, pgErrors.NewWithCause(ErrListen, err).WithDetail("channel", Channel)
	}

	ctx, cancel := context.WithCancel(ctx)
	s := &subscription{
		listener: l,
		events:   make(chan jobx.Event, 64),
		cancel:   cancel,
		done:     make(chan struct{}),
	}
	go s.pump(ctx, q)
	return s, nil
}

// waitConnected polls until the listener holds a live connection.
func waitConnected(ctx context.Context, l *pq.Listener) error {
	ticker := time.NewTicker(20 * time.Millisecond)
	defer ticker.Stop()
	for {
		if err := l.Ping(); err == nil {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func (s *subscription) pump(ctx context.Context, q *Queue) {
	defer close(s.done)
	defer close(s.events)

	keepalive := time.NewTicker(90 * time.Second)
	defer keepalive.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-keepalive.C:
			go func() { _ = s.listener.Ping() }()
		case n, ok := <-s.listener.Notify:
			if !ok {
				return
			}
			if n == nil {
				// reconnected; notifications sent while down are lost
				continue
			}
			e, err := jobx.DecodeEvent([]byte(n.Extra))
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
		<-s.done
		err = s.listener.Close()
	})
	return err
}
