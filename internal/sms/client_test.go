package sms

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/untibullet/request-desk/internal/config"
)

func TestNew(t *testing.T) {
	tests := []struct {
		name        string
		cfg         config.SMSConfig
		wantErr     bool
		wantEnabled bool
	}{
		{"disabled", config.SMSConfig{}, false, false},
		{"enabled without key", config.SMSConfig{Enabled: true, TemplateID: "100"}, true, false},
		{"enabled without template", config.SMSConfig{Enabled: true, APIKey: "k"}, true, false},
		{"enabled", config.SMSConfig{Enabled: true, APIKey: "k", SecretKey: "s", TemplateID: "100"}, false, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client, err := New(tt.cfg, zap.NewNop())
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantEnabled, client.IsEnabled())
		})
	}
}

func TestSendOTP_Disabled(t *testing.T) {
	client, err := New(config.SMSConfig{}, zap.NewNop())
	require.NoError(t, err)

	assert.NoError(t, client.SendOTP(context.Background(), "+15551234567", "123456"))
	assert.Error(t, client.SendOTP(context.Background(), "", "123456"))
	assert.Error(t, client.SendOTP(context.Background(), "+15551234567", ""))
}
