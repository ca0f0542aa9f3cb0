package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type captureLogger struct {
	warnings []string
}

func (c *captureLogger) Warn(format string, args ...any) {
	c.warnings = append(c.warnings, fmt.Sprintf(format, args...))
}

func TestNew_NoChannels(t *testing.T) {
	svc, err := New(Params{}, &captureLogger{})
	require.NoError(t, err)
	assert.Nil(t, svc)

	// nil receiver send is a no-op
	svc.Send(context.Background(), Result{Status: "success"})
}

func TestNew_UnknownChannel(t *testing.T) {
	_, err := New(Params{Channels: []string{"carrier-pigeon"}}, &captureLogger{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown notification channel")
}

func TestNew_ValidationErrors(t *testing.T) {
	tests := []struct {
		name    string
		params  Params
		wantErr string
	}{
		{
			name:    "telegram without token",
			params:  Params{Channels: []string{"telegram"}, TelegramChat: "123"},
			wantErr: "notify_telegram_token is required",
		},
		{
			name:    "telegram without chat",
			params:  Params{Channels: []string{"telegram"}, TelegramToken: "tok"},
			wantErr: "notify_telegram_chat is required",
		},
		{
			name:    "email without host",
			params:  Params{Channels: []string{"email"}, EmailFrom: "a@b", EmailTo: []string{"c@d"}},
			wantErr: "notify_smtp_host is required",
		},
		{
			name:    "email without recipients",
			params:  Params{Channels: []string{"email"}, SMTPHost: "smtp", EmailFrom: "a@b"},
			wantErr: "notify_email_to is required",
		},
		{
			name:    "slack without token",
			params:  Params{Channels: []string{"slack"}, SlackChannel: "ops"},
			wantErr: "notify_slack_token is required",
		},
		{
			name:    "webhook without urls",
			params:  Params{Channels: []string{"webhook"}},
			wantErr: "notify_webhook_urls is required",
		},
		{
			name:    "custom without script",
			params:  Params{Channels: []string{"custom"}},
			wantErr: "notify_custom_script is required",
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := New(tc.params, &captureLogger{})
			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.wantErr)
		})
	}
}

func TestNew_TelegramInitFailureRedacted(t *testing.T) {
	orig := telegramChannelMaker
	defer func() { telegramChannelMaker = orig }()
	telegramChannelMaker = func(p Params) (channel, error) {
		return channel{}, fmt.Errorf("bad token secret-token-123")
	}

	log := &captureLogger{}
	svc, err := New(Params{
		Channels:      []string{"telegram"},
		TelegramToken: "secret-token-123",
		TelegramChat:  "42",
	}, log)
	require.NoError(t, err)
	require.NotNil(t, svc)

	// channel skipped, token never logged
	require.Len(t, log.warnings, 2)
	assert.Contains(t, log.warnings[0], "[REDACTED]")
	assert.NotContains(t, log.warnings[0], "secret-token-123")
	assert.Contains(t, log.warnings[1], "all notification channels were disabled")
}

func TestNew_WebhookChannels(t *testing.T) {
	svc, err := New(Params{
		Channels:    []string{"webhook"},
		WebhookURLs: []string{"https://a.example/hook", "https://b.example/hook"},
	}, &captureLogger{})
	require.NoError(t, err)
	require.NotNil(t, svc)
	assert.Len(t, svc.channels, 2)
}

func TestSend_RespectsGates(t *testing.T) {
	script := writeScript(t, "#!/bin/sh\ncat > \"$OUT\"\n")

	svc, err := New(Params{
		Channels:     []string{"custom"},
		CustomScript: script,
		OnError:      true,
		OnComplete:   false,
	}, &captureLogger{})
	require.NoError(t, err)

	out := filepath.Join(t.TempDir(), "payload.json")
	t.Setenv("OUT", out)

	// success gated off
	svc.Send(context.Background(), Result{Status: "success"})
	_, statErr := os.Stat(out)
	assert.True(t, os.IsNotExist(statErr))

	// failure gated on
	svc.Send(context.Background(), Result{Status: "failure", Stage: "build extension", Error: "status 2"})
	data, readErr := os.ReadFile(out)
	require.NoError(t, readErr)

	var r Result
	require.NoError(t, json.Unmarshal(data, &r))
	assert.Equal(t, "failure", r.Status)
	assert.Equal(t, "build extension", r.Stage)
	assert.Equal(t, "status 2", r.Error)
}

func TestSend_CustomScriptFailureLogged(t *testing.T) {
	script := writeScript(t, "#!/bin/sh\necho broken >&2\nexit 1\n")

	log := &captureLogger{}
	svc, err := New(Params{
		Channels:     []string{"custom"},
		CustomScript: script,
		OnError:      true,
	}, log)
	require.NoError(t, err)

	svc.Send(context.Background(), Result{Status: "failure"})

	require.Len(t, log.warnings, 1)
	assert.Contains(t, log.warnings[0], "custom notification failed")
	assert.Contains(t, log.warnings[0], "broken")
}

func TestFormatMessage(t *testing.T) {
	svc := &Service{hostname: "gpu-box"}

	msg := svc.formatMessage(Result{
		Status:   "failure",
		Mode:     "resume",
		Stage:    "install cuda toolkit",
		Duration: "3 minutes",
		Error:    "status 100",
	})
	assert.Contains(t, msg, "stromup install failed on gpu-box")
	assert.Contains(t, msg, "mode:     resume")
	assert.Contains(t, msg, "stage:    install cuda toolkit")
	assert.Contains(t, msg, "duration: 3 minutes")
	assert.Contains(t, msg, "error:    status 100")

	msg = svc.formatMessage(Result{Status: "success", Duration: "10 minutes"})
	assert.Contains(t, msg, "stromup install completed on gpu-box")
	assert.NotContains(t, msg, "stage:")
	assert.NotContains(t, msg, "error:")
}

func writeScript(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "notify.sh")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o700))
	return path
}
