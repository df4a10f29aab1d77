package alertxconsole_test

import (
	"context"
	"testing"

	"github.com/Abraxas-365/jobrelay/pkg/alertx"
	"github.com/Abraxas-365/jobrelay/pkg/alertx/alertxconsole"
	"github.com/Abraxas-365/jobrelay/pkg/errx"
	"github.com/Abraxas-365/jobrelay/pkg/logx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSendLogsMessage(t *testing.T) {
	log, buf := logx.NewBuffered(logx.LevelDebug)
	s := alertxconsole.NewSender(log)

	err := s.Send(context.Background(), alertx.Message{
		From:     "noreply@example.com",
		To:       []string{"ops@example.com", "dev@example.com"},
		Subject:  "[jobrelay] Job j1 failed",
		TextBody: "boom",
	})
	require.NoError(t, err)

	out := buf.String()
	assert.Contains(t, out, `"subject":"[jobrelay] Job j1 failed"`)
	assert.Contains(t, out, `"to":"ops@example.com, dev@example.com"`)
	assert.Contains(t, out, "boom")
}

func TestSendRejectsInvalidMessage(t *testing.T) {
	log, buf := logx.NewBuffered(logx.LevelDebug)
	s := alertxconsole.NewSender(log)

	err := s.Send(context.Background(), alertx.Message{Subject: "no one"})
	assert.True(t, errx.IsCode(err, alertx.ErrInvalidMessage))
	assert.Empty(t, buf.String())
}
