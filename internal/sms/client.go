// Package sms отправка кодов подтверждения через sms.ir.
package sms

import (
	"context"
	"fmt"

	"github.com/arsmn/go-smsir/smsir"
	"go.uber.org/zap"

	"github.com/untibullet/request-desk/internal/config"
)

// Sender отправляет код подтверждения на номер
type Sender interface {
	SendOTP(ctx context.Context, phone, code string) error
}

// Client sms.ir; в выключенном режиме ничего не отправляет
type Client struct {
	client     *smsir.Client
	templateID string
	enabled    bool
	logger     *zap.Logger
}

func New(cfg config.SMSConfig, logger *zap.Logger) (*Client, error) {
	if !cfg.Enabled {
		return &Client{enabled: false, logger: logger}, nil
	}

	if cfg.APIKey == "" {
		return nil, fmt.Errorf("sms.ir API key required when SMS enabled")
	}
	if cfg.TemplateID == "" {
		return nil, fmt.Errorf("sms.ir template ID required when SMS enabled")
	}

	return &Client{
		client:     smsir.NewClient().WithAuthentication(cfg.APIKey, cfg.SecretKey),
		templateID: cfg.TemplateID,
		enabled:    true,
		logger:     logger,
	}, nil
}

// SendOTP отправляет код по шаблону; шаблон должен содержать параметр "code"
func (c *Client) SendOTP(ctx context.Context, phone, code string) error {
	if phone == "" {
		return fmt.Errorf("phone number is required")
	}
	if code == "" {
		return fmt.Errorf("OTP code is required")
	}

	if !c.enabled {
		c.logger.Debug("SendOTP: sms disabled, code not sent", zap.String("phone", phone))
		return nil
	}

	req := &smsir.UltraFastSendRequest{
		Mobile:     phone,
		TemplateID: c.templateID,
		Parameters: []smsir.UltraFastParameter{
			{Key: "code", Value: code},
		},
	}

	if _, err := c.client.Verification.UltraFastSend(ctx, req); err != nil {
		return fmt.Errorf("sms.ir send failed: %w", err)
	}

	return nil
}

func (c *Client) IsEnabled() bool {
	return c.enabled
}
