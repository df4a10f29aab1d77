package alertxses_test

import (
	"context"
	"errors"
	"testing"

	"github.com/Abraxas-365/jobrelay/pkg/alertx"
	"github.com/Abraxas-365/jobrelay/pkg/alertx/alertxses"
	"github.com/Abraxas-365/jobrelay/pkg/errx"
	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ses"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSES struct {
	input *ses.SendEmailInput
	err   error
}

func (f *fakeSES) SendEmail(_ context.Context, in *ses.SendEmailInput, _ ...func(*ses.Options)) (*ses.SendEmailOutput, error) {
	f.input = in
	if f.err != nil {
		return nil, f.err
	}
	return &ses.SendEmailOutput{MessageId: aws.String("m-1")}, nil
}

func TestSendBuildsInput(t *testing.T) {
	api := &fakeSES{}
	s := alertxses.NewSender(api, "alerts@example.com")

	err := s.Send(context.Background(), alertx.Message{
		To:       []string{"ops@example.com"},
		Subject:  "Job failed",
		HTMLBody: "<p>failed</p>",
	})
	require.NoError(t, err)
	require.NotNil(t, api.input)

	assert.Equal(t, "alerts@example.com", aws.ToString(api.input.Source))
	assert.Equal(t, []string{"ops@example.com"}, api.input.Destination.ToAddresses)
	assert.Equal(t, "Job failed", aws.ToString(api.input.Message.Subject.Data))
	assert.Equal(t, "<p>failed</p>", aws.ToString(api.input.Message.Body.Html.Data))
	assert.Nil(t, api.input.Message.Body.Text)
}

func TestSendWrapsProviderError(t *testing.T) {
	api := &fakeSES{err: errors.New("throttled")}
	s := alertxses.NewSender(api, "alerts@example.com")

	err := s.Send(context.Background(), alertx.Message{From: "x@example.com", To: []string{"ops@example.com"}, Subject: "s"})
	require.Error(t, err)
	assert.True(t, errx.IsCode(err, alertx.ErrSendFailed))
	assert.Equal(t, "x@example.com", aws.ToString(api.input.Source))
}

func TestSendValidatesFirst(t *testing.T) {
	api := &fakeSES{}
	s := alertxses.NewSender(api, "alerts@example.com")

	err := s.Send(context.Background(), alertx.Message{To: []string{"ops@example.com"}})
	assert.True(t, errx.IsCode(err, alertx.ErrInvalidMessage))
	assert.Nil(t, api.input)
}
