package jobxtest

import (
	"context"
	"sync"

	"github.com/Abraxas-365/jobrelay/pkg/jobx"
)

// Feed is an in-memory jobx.EventSource. Events published before anyone
// subscribes are dropped, as on a pub/sub channel.
type Feed struct {
	mu   sync.Mutex
	subs map[*feedSub]struct{}
	// Subscribed receives one value per successful Subscribe.
	Subscribed chan struct{}
}

// NewFeed creates an empty feed.
func NewFeed() *Feed {
	return &Feed{
		subs:       make(map[*feedSub]struct{}),
		Subscribed: make(chan struct{}, 16),
	}
}

type feedSub struct {
	feed   *Feed
	events chan jobx.Event
	once   sync.Once
}

// Subscribe implements jobx.EventSource.
func (f *Feed) Subscribe(context.Context) (jobx.Subscription, error) {
	s := &feedSub{feed: f, events: make(chan jobx.Event, 64)}
	f.mu.Lock()
	f.subs[s] = struct{}{}
	f.mu.Unlock()
	select {
	case f.Subscribed <- struct{}{}:
	default:
	}
	return s, nil
}

// Publish delivers e to every live subscription.
func (f *Feed) Publish(e jobx.Event) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for s := range f.subs {
		s.events <- e
	}
}

// CloseAll ends every subscription, as a lost connection would.
func (f *Feed) CloseAll() {
	f.mu.Lock()
	subs := f.subs
	f.subs = make(map[*feedSub]struct{})
	f.mu.Unlock()
	for s := range subs {
		s.once.Do(func() { close(s.events) })
	}
}

func (s *feedSub) Events() <-chan jobx.Event { return s.events }

func (s *feedSub) Close() error {
	s.feed.mu.Lock()
	delete(s.feed.subs, s)
	s.feed.mu.Unlock()
	s.once.Do(func() { close(s.events) })
	return nil
}
