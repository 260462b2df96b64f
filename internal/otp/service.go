// Package otp выдача и проверка одноразовых кодов подтверждения телефона.
package otp

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/untibullet/request-desk/internal/config"
	"github.com/untibullet/request-desk/internal/models"
	"github.com/untibullet/request-desk/internal/ratelimit"
	"github.com/untibullet/request-desk/internal/repository"
	"github.com/untibullet/request-desk/internal/sms"
)

var (
	ErrInvalidInput    = errors.New("invalid input")
	ErrInvalidPhone    = errors.New("invalid phone number")
	ErrRateLimited     = errors.New("too many verification codes requested")
	ErrNoActiveCode    = errors.New("no active verification code")
	ErrCodeMismatch    = errors.New("verification code does not match")
	ErrTooManyAttempts = errors.New("too many verification attempts")
)

// Store хранилище кодов
type Store interface {
	SaveOTP(ctx context.Context, v *models.PhoneVerification) error
	// LatestOTP возвращает repository.ErrNotFound, если кодов нет
	LatestOTP(ctx context.Context, userID string) (*models.PhoneVerification, error)
	IncrementOTPAttempts(ctx context.Context, id uuid.UUID) (int, error)
	MarkOTPUsed(ctx context.Context, id uuid.UUID) error
}

type Service struct {
	store   Store
	limiter ratelimit.Limiter
	sender  sms.Sender
	cfg     config.OTPConfig
	logger  *zap.Logger
	now     func() time.Time
}

func NewService(store Store, limiter ratelimit.Limiter, sender sms.Sender, cfg config.OTPConfig, logger *zap.Logger) *Service {
	if cfg.Length == 0 {
		cfg.Length = DefaultLength
	}
	if cfg.TTL == 0 {
		cfg.TTL = 10 * time.Minute
	}
	if cfg.MaxRequests == 0 {
		cfg.MaxRequests = 3
	}
	if cfg.Window == 0 {
		cfg.Window = 10 * time.Minute
	}
	if cfg.MaxAttempts == 0 {
		cfg.MaxAttempts = 5
	}
	return &Service{
		store:   store,
		limiter: limiter,
		sender:  sender,
		cfg:     cfg,
		logger:  logger,
		now:     time.Now,
	}
}

// Send выдает новый код и отправляет его по SMS. Возвращает замаскированный номер.
func (s *Service) Send(ctx context.Context, userID, rawPhone string) (string, error) {
	if userID == "" {
		return "", fmt.Errorf("%w: userId is required", ErrInvalidInput)
	}

	phone := NormalizePhone(rawPhone)
	if !ValidatePhone(phone) {
		return "", fmt.Errorf("%w: expected 10-digit US number", ErrInvalidPhone)
	}

	allowed, err := s.limiter.Allow(ctx, limitKey(userID), s.cfg.MaxRequests, s.cfg.Window)
	if err != nil {
		return "", fmt.Errorf("failed to check rate limit: %w", err)
	}
	if !allowed {
		s.logger.Warn("Send: rate limited", zap.String("user_id", userID))
		return "", ErrRateLimited
	}

	code, err := Generate(s.cfg.Length)
	if err != nil {
		return "", err
	}

	now := s.now()
	v := &models.PhoneVerification{
		ID:        uuid.New(),
		UserID:    userID,
		Phone:     phone,
		CodeHash:  Hash(code),
		ExpiresAt: now.Add(s.cfg.TTL),
		CreatedAt: now,
	}
	if err := s.store.SaveOTP(ctx, v); err != nil {
		return "", fmt.Errorf("failed to save verification code: %w", err)
	}

	if err := s.sender.SendOTP(ctx, phone, code); err != nil {
		return "", fmt.Errorf("failed to send verification code: %w", err)
	}

	s.logger.Info("Send: verification code sent",
		zap.String("user_id", userID),
		zap.String("phone", MaskPhone(phone)))

	return MaskPhone(phone), nil
}

// Verify проверяет последний выданный код пользователя и возвращает подтвержденный номер
func (s *Service) Verify(ctx context.Context, userID, code string) (string, error) {
	if userID == "" || code == "" {
		return "", fmt.Errorf("%w: userId and code are required", ErrInvalidInput)
	}

	v, err := s.store.LatestOTP(ctx, userID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return "", ErrNoActiveCode
		}
		return "", fmt.Errorf("failed to load verification code: %w", err)
	}
	if v.UsedAt != nil || !s.now().Before(v.ExpiresAt) {
		return "", ErrNoActiveCode
	}
	if v.Attempts >= s.cfg.MaxAttempts {
		return "", ErrTooManyAttempts
	}

	if _, err := s.store.IncrementOTPAttempts(ctx, v.ID); err != nil {
		return "", fmt.Errorf("failed to count attempt: %w", err)
	}

	if !Matches(v.CodeHash, code) {
		return "", ErrCodeMismatch
	}

	if err := s.store.MarkOTPUsed(ctx, v.ID); err != nil {
		return "", fmt.Errorf("failed to mark code used: %w", err)
	}

	// подтвержденный номер снимает лимит на выдачу
	if err := s.limiter.Reset(ctx, limitKey(userID)); err != nil {
		s.logger.Warn("Verify: failed to reset rate limit", zap.String("user_id", userID), zap.Error(err))
	}

	return v.Phone, nil
}

func limitKey(userID string) string {
	return "otp:" + userID
}
