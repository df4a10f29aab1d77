package alertxses

import (
	"context"

	"github.com/Abraxas-365/jobrelay/pkg/alertx"
	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ses"
	"github.com/aws/aws-sdk-go-v2/service/ses/types"
)

// SendEmailAPI is the part of *ses.Client the sender uses.
type SendEmailAPI interface {
	SendEmail(ctx context.Context, params *ses.SendEmailInput, optFns ...func(*ses.Options)) (*ses.SendEmailOutput, error)
}

// Sender implements alertx.Sender using AWS SES.
type Sender struct {
	client      SendEmailAPI
	fromAddress string
}

// NewSender creates an SES sender. fromAddress is used when a message has
// no From.
func NewSender(client SendEmailAPI, fromAddress string) *Sender {
	return &Sender{
		client:      client,
		fromAddress: fromAddress,
	}
}

// Send delivers one message via SES.
func (s *Sender) Send(ctx context.Context, msg alertx.Message) error {
	if err := msg.Validate(); err != nil {
		return err
	}

	from := msg.From
	if from == "" {
		from = s.fromAddress
	}

	body := &types.Body{}
	if msg.TextBody != "" {
		body.Text = &types.Content{
			Data:    aws.String(msg.TextBody),
			Charset: aws.String("UTF-8"),
		}
	}
	if msg.HTMLBody != "" {
		body.Html = &types.Content{
			Data:    aws.String(msg.HTMLBody),
			Charset: aws.String("UTF-8"),
		}
	}

	input := &ses.SendEmailInput{
		Source:      aws.String(from),
		Destination: &types.Destination{ToAddresses: msg.To},
		Message: &types.Message{
			Subject: &types.Content{
				Data:    aws.String(msg.Subject),
				Charset: aws.String("UTF-8"),
			},
			Body: body,
		},
	}

	if _, err := s.client.SendEmail(ctx, input); err != nil {
		return alertx.WrapSendError(err).
			WithDetail("provider", "ses").
			WithDetail("to", msg.To).
			WithDetail("subject", msg.Subject)
	}
	return nil
}
