package notifx

import "time"

// Options configures a Hub.
type Options struct {
	// PingInterval is both the keepalive ping period and the sweep period.
	PingInterval time.Duration
	// ClientTimeout drops a client that sent no frame for this long. It is
	// rounded up to a multiple of PingInterval.
	ClientTimeout   time.Duration
	SendBuffer      int
	BroadcastBuffer int
	WriteWait       time.Duration
	Observer        Observer
}

// Option is a functional option for configuring a Hub.
type Option func(*Options)

func defaultOptions() Options {
	return Options{
		PingInterval:    30 * time.Second,
		ClientTimeout:   2 * time.Minute,
		SendBuffer:      256,
		BroadcastBuffer: 256,
		WriteWait:       10 * time.Second,
		Observer:        nopObserver{},
	}
}

// WithPingInterval sets how often clients are pinged and swept.
func WithPingInterval(d time.Duration) Option {
	return func(o *Options) {
		if d > 0 {
			o.PingInterval = d
		}
	}
}

// WithClientTimeout sets the inactivity limit.
func WithClientTimeout(d time.Duration) Option {
	return func(o *Options) {
		if d > 0 {
			o.ClientTimeout = d
		}
	}
}

// WithSendBuffer sets the per-client outbound buffer. A client whose buffer
// is full when a broadcast arrives is dropped.
func WithSendBuffer(n int) Option {
	return func(o *Options) {
		if n > 0 {
			o.SendBuffer = n
		}
	}
}

// WithBroadcastBuffer sets the hub's inbound broadcast queue size.
func WithBroadcastBuffer(n int) Option {
	return func(o *Options) {
		if n >= 0 {
			o.BroadcastBuffer = n
		}
	}
}

// WithWriteWait bounds every frame write.
func WithWriteWait(d time.Duration) Option {
	return func(o *Options) {
		if d > 0 {
			o.WriteWait = d
		}
	}
}

// WithObserver installs a metrics hook.
func WithObserver(obs Observer) Option {
	return func(o *Options) {
		if obs != nil {
			o.Observer = obs
		}
	}
}

func (o *Options) normalize() {
	if o.ClientTimeout < o.PingInterval {
		o.ClientTimeout = o.PingInterval
	}
	if rem := o.ClientTimeout % o.PingInterval; rem != 0 {
		o.ClientTimeout += o.PingInterval - rem
	}
}

// Observer receives hub activity. Implementations must not block.
type Observer interface {
	ClientsChanged(n int)
	Broadcasted()
	SlowConsumer()
}

type nopObserver struct{}

func (nopObserver) ClientsChanged(int) {}
func (nopObserver) Broadcasted()       {}
func (nopObserver) SlowConsumer()      {}
