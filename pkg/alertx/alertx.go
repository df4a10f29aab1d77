// Package alertx sends an alert whenever a job fails terminally.
package alertx

import (
	"context"
	"fmt"
	"time"

	"github.com/Abraxas-365/jobrelay/pkg/jobx"
	"github.com/Abraxas-365/jobrelay/pkg/logx"
)

// Message is a rendered alert.
type Message struct {
	From     string   `json:"from,omitempty"`
	To       []string `json:"to"`
	Subject  string   `json:"subject"`
	TextBody string   `json:"text_body,omitempty"`
	HTMLBody string   `json:"html_body,omitempty"`
}

// Validate checks the fields every provider needs.
func (m Message) Validate() error {
	if len(m.To) == 0 {
		return alertxErrors.New(ErrInvalidMessage).WithDetail("reason", "no recipients")
	}
	if m.Subject == "" {
		return alertxErrors.New(ErrInvalidMessage).WithDetail("reason", "empty subject")
	}
	return nil
}

// Sender delivers one message.
type Sender interface {
	Send(ctx context.Context, msg Message) error
}

// FailureData is what the failure template renders.
type FailureData struct {
	JobID        string
	Status       jobx.Status
	Priority     string
	RetryCount   int
	ErrorMessage string
	FailedAt     time.Time
	Job          *jobx.Job
}

// Options configures an Alerter.
type Options struct {
	From       string
	Recipients []string
	// SubjectPrefix is prepended to "Job <id> failed".
	SubjectPrefix string
	SendTimeout   time.Duration
}

// Option is a functional option for configuring an Alerter.
type Option func(*Options)

// WithRecipients sets who receives alerts. No recipients disables alerting.
func WithRecipients(to ...string) Option {
	return func(o *Options) { o.Recipients = append(o.Recipients, to...) }
}

// WithFrom sets the sender address.
func WithFrom(from string) Option {
	return func(o *Options) { o.From = from }
}

// WithSubjectPrefix sets a tag such as "[jobrelay]" for alert subjects.
func WithSubjectPrefix(p string) Option {
	return func(o *Options) { o.SubjectPrefix = p }
}

// WithSendTimeout bounds each send.
func WithSendTimeout(d time.Duration) Option {
	return func(o *Options) {
		if d > 0 {
			o.SendTimeout = d
		}
	}
}

// Alerter turns job_failed events into messages.
type Alerter struct {
	source    jobx.EventSource
	jobs      jobx.JobStatusReader
	sender    Sender
	templates *TemplateRegistry
	log       *logx.Logger
	opts      Options
}

// NewAlerter creates an alerter. jobs may be nil, in which case alerts carry
// only what the event holds.
func NewAlerter(source jobx.EventSource, jobs jobx.JobStatusReader, sender Sender, log *logx.Logger, opts ...Option) *Alerter {
	o := Options{SendTimeout: 10 * time.Second}
	for _, opt := range opts {
		opt(&o)
	}
	if log == nil {
		log = logx.Nop()
	}
	a := &Alerter{
		source:    source,
		jobs:      jobs,
		sender:    sender,
		templates: NewTemplateRegistry(),
		log:       log.Named("alertx"),
		opts:      o,
	}
	_ = a.templates.Register(FailedJobTemplate, defaultFailedJobTemplate)
	return a
}

// Templates exposes the registry so callers can override FailedJobTemplate.
func (a *Alerter) Templates() *TemplateRegistry { return a.templates }

// Enabled reports whether any recipient is configured.
func (a *Alerter) Enabled() bool { return len(a.opts.Recipients) > 0 && a.sender != nil }

// Run consumes events until ctx is done or the subscription ends.
func (a *Alerter) Run(ctx context.Context) error {
	if !a.Enabled() {
		a.log.Info("no alert recipients configured, alerter disabled")
		return nil
	}

	sub, err := a.source.Subscribe(ctx)
	if err != nil {
		return err
	}
	defer sub.Close()

	a.log.WithField("recipients", len(a.opts.Recipients)).Info("alerter started")
	for {
		select {
		case <-ctx.Done():
			return nil
		case e, ok := <-sub.Events():
			if !ok {
				return nil
			}
			if e.Type != jobx.EventJobFailed {
				continue
			}
			if err := a.Notify(ctx, e); err != nil {
				a.log.WithError(err).WithField("job_id", e.JobID).Error("alert not sent")
			}
		}
	}
}

// Notify renders and sends the alert for one job_failed event.
func (a *Alerter) Notify(ctx context.Context, e jobx.Event) error {
	data := FailureData{
		JobID:    e.JobID,
		Status:   e.Status(),
		FailedAt: time.Unix(e.Timestamp, 0).UTC(),
	}
	if msg, ok := e.Data["error_message"].(string); ok {
		data.ErrorMessage = msg
	}
	if n, ok := e.Data["retry_count"].(float64); ok {
		data.RetryCount = int(n)
	}

	if a.jobs != nil {
		job, err := a.jobs.GetJob(ctx, e.JobID)
		if err != nil {
			a.log.WithError(err).WithField("job_id", e.JobID).Debug("job record unavailable for alert")
		} else {
			data.Job = job
			data.Priority = job.Priority.String()
			data.RetryCount = job.RetryCount
			if data.ErrorMessage == "" {
				data.ErrorMessage = job.ErrorMessage
			}
		}
	}

	html, err := a.templates.Render(FailedJobTemplate, data)
	if err != nil {
		return err
	}

	subject := fmt.Sprintf("Job %s failed", e.JobID)
	if a.opts.SubjectPrefix != "" {
		subject = a.opts.SubjectPrefix + " " + subject
	}
	msg := Message{
		From:     a.opts.From,
		To:       a.opts.Recipients,
		Subject:  subject,
		TextBody: fmt.Sprintf("Job %s failed: %s", e.JobID, data.ErrorMessage),
		HTMLBody: html,
	}
	if err := msg.Validate(); err != nil {
		return err
	}

	sendCtx, cancel := context.WithTimeout(ctx, a.opts.SendTimeout)
	defer cancel()
	if err := a.sender.Send(sendCtx, msg); err != nil {
		return err
	}
	a.log.WithField("job_id", e.JobID).Info("failure alert sent")
	return nil
}
