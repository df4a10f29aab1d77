package alertx_test

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/Abraxas-365/jobrelay/pkg/alertx"
	"github.com/Abraxas-365/jobrelay/pkg/errx"
	"github.com/Abraxas-365/jobrelay/pkg/jobx"
	"github.com/Abraxas-365/jobrelay/pkg/jobx/jobxtest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingSender struct {
	mu   sync.Mutex
	sent []alertx.Message
	err  error
}

func (s *recordingSender) Send(_ context.Context, msg alertx.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.sent = append(s.sent, msg)
	return nil
}

func (s *recordingSender) messages() []alertx.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]alertx.Message(nil), s.sent...)
}

// jobReader serves GetJob from a map; other methods are unused here.
type jobReader struct {
	jobx.JobStatusReader
	jobs map[string]*jobx.Job
}

func (r jobReader) GetJob(_ context.Context, id string) (*jobx.Job, error) {
	if j, ok := r.jobs[id]; ok {
		return j, nil
	}
	return nil, jobx.NewError(jobx.ErrJobNotFound)
}

func failedEvent(id, msg string) jobx.Event {
	return jobx.NewEvent(jobx.EventJobFailed, id, jobx.StatusFailed, time.Unix(1700000000, 0),
		map[string]any{"error_message": msg})
}

func TestNotifyRendersJobDetails(t *testing.T) {
	sender := &recordingSender{}
	reader := jobReader{jobs: map[string]*jobx.Job{
		"j1": {ID: "j1", Priority: jobx.PriorityHigh, RetryCount: 3, ErrorMessage: "boom"},
	}}
	a := alertx.NewAlerter(jobxtest.NewFeed(), reader, sender, nil,
		alertx.WithRecipients("ops@example.com"),
		alertx.WithFrom("relay@example.com"),
		alertx.WithSubjectPrefix("[jobrelay]"),
	)

	require.NoError(t, a.Notify(context.Background(), failedEvent("j1", "")))

	msgs := sender.messages()
	require.Len(t, msgs, 1)
	msg := msgs[0]
	assert.Equal(t, "[jobrelay] Job j1 failed", msg.Subject)
	assert.Equal(t, []string{"ops@example.com"}, msg.To)
	assert.Equal(t, "relay@example.com", msg.From)
	assert.Contains(t, msg.HTMLBody, "after 3 retries")
	assert.Contains(t, msg.HTMLBody, "boom")
	assert.Contains(t, msg.TextBody, "boom")
}

func TestNotifyFallsBackToEventData(t *testing.T) {
	sender := &recordingSender{}
	a := alertx.NewAlerter(jobxtest.NewFeed(), jobReader{}, sender, nil, alertx.WithRecipients("ops@example.com"))

	require.NoError(t, a.Notify(context.Background(), failedEvent("gone", "disk full")))

	msgs := sender.messages()
	require.Len(t, msgs, 1)
	assert.Contains(t, msgs[0].HTMLBody, "disk full")
}

func TestNotifyPropagatesSendError(t *testing.T) {
	sender := &recordingSender{err: alertx.WrapSendError(errors.New("throttled"))}
	a := alertx.NewAlerter(jobxtest.NewFeed(), nil, sender, nil, alertx.WithRecipients("ops@example.com"))

	err := a.Notify(context.Background(), failedEvent("j1", "x"))
	require.Error(t, err)
	assert.True(t, errx.IsCode(err, alertx.ErrSendFailed))
}

func TestCustomTemplate(t *testing.T) {
	sender := &recordingSender{}
	a := alertx.NewAlerter(jobxtest.NewFeed(), nil, sender, nil, alertx.WithRecipients("ops@example.com"))
	require.NoError(t, a.Templates().Register(alertx.FailedJobTemplate, `custom {{.JobID}}`))

	require.NoError(t, a.Notify(context.Background(), failedEvent("j9", "")))
	assert.Equal(t, "custom j9", sender.messages()[0].HTMLBody)
}

func TestRegisterRejectsBadTemplate(t *testing.T) {
	r := alertx.NewTemplateRegistry()
	err := r.Register("bad", "{{.Unclosed")
	assert.True(t, errx.IsCode(err, alertx.ErrTemplateParse))

	_, err = r.Render("missing", nil)
	assert.True(t, errx.IsCode(err, alertx.ErrTemplateNotFound))
}

func TestRunDisabledWithoutRecipients(t *testing.T) {
	a := alertx.NewAlerter(jobxtest.NewFeed(), nil, &recordingSender{}, nil)
	assert.False(t, a.Enabled())
	assert.NoError(t, a.Run(context.Background()))
}

func TestRunAlertsOnlyOnJobFailed(t *testing.T) {
	feed := jobxtest.NewFeed()
	sender := &recordingSender{}
	a := alertx.NewAlerter(feed, nil, sender, nil, alertx.WithRecipients("ops@example.com"))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- a.Run(ctx) }()

	select {
	case <-feed.Subscribed:
	case <-time.After(2 * time.Second):
		t.Fatal("alerter never subscribed")
	}

	now := time.Now()
	feed.Publish(jobx.NewEvent(jobx.EventJobAdded, "a", jobx.StatusPending, now, nil))
	feed.Publish(jobx.NewEvent(jobx.EventJobCompleted, "b", jobx.StatusCompleted, now, nil))
	feed.Publish(jobx.NewEvent(jobx.EventStatusUpdated, "c", jobx.StatusFailed, now, nil))
	feed.Publish(failedEvent("d", "boom"))

	require.Eventually(t, func() bool { return len(sender.messages()) == 1 }, 2*time.Second, 10*time.Millisecond)
	assert.True(t, strings.Contains(sender.messages()[0].Subject, "d"))

	feed.CloseAll()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after the feed closed")
	}
	assert.Len(t, sender.messages(), 1)
}

func TestMessageValidate(t *testing.T) {
	assert.True(t, errx.IsCode(alertx.Message{Subject: "s"}.Validate(), alertx.ErrInvalidMessage))
	assert.True(t, errx.IsCode(alertx.Message{To: []string{"a@b"}}.Validate(), alertx.ErrInvalidMessage))
	assert.NoError(t, alertx.Message{To: []string{"a@b"}, Subject: "s"}.Validate())
}
