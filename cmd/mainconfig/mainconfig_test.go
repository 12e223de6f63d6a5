package mainconfig

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	appconfig "github.com/wolfman30/exam-scheduling/internal/config"
	"github.com/wolfman30/exam-scheduling/internal/notify"
	"github.com/wolfman30/exam-scheduling/pkg/logging"
)

func TestEmailSenderSelection(t *testing.T) {
	logger := logging.New("error")
	ctx := context.Background()

	sender, err := EmailSender(ctx, &appconfig.Config{EmailProvider: "stub"}, logger)
	require.NoError(t, err)
	assert.IsType(t, &notify.StubEmailSender{}, sender)

	sender, err = EmailSender(ctx, &appconfig.Config{EmailProvider: "sendgrid", SendGridAPIKey: "SG.test", SendGridFromEmail: "noreply@example.com"}, logger)
	require.NoError(t, err)
	assert.IsType(t, &notify.SendGridSender{}, sender)

	_, err = EmailSender(ctx, &appconfig.Config{EmailProvider: "sendgrid"}, logger)
	assert.ErrorContains(t, err, "SENDGRID_API_KEY")

	_, err = EmailSender(ctx, &appconfig.Config{EmailProvider: "ses"}, logger)
	assert.ErrorContains(t, err, "SES_FROM_EMAIL")

	_, err = EmailSender(ctx, &appconfig.Config{EmailProvider: "carrier-pigeon"}, logger)
	assert.Error(t, err)
}

func TestEmailSenderSES(t *testing.T) {
	t.Setenv("AWS_EC2_METADATA_DISABLED", "true")
	cfg := &appconfig.Config{
		EmailProvider:       "ses",
		SESFromEmail:        "noreply@example.com",
		AWSRegion:           "us-east-1",
		AWSAccessKeyID:      "test",
		AWSSecretAccessKey:  "test",
		AWSEndpointOverride: "http://localhost:4566",
	}
	sender, err := EmailSender(context.Background(), cfg, logging.New("error"))
	require.NoError(t, err)
	assert.IsType(t, &notify.SESSender{}, sender)
}
