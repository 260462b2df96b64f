package otp

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/untibullet/request-desk/internal/config"
	"github.com/untibullet/request-desk/internal/models"
	"github.com/untibullet/request-desk/internal/ratelimit"
	"github.com/untibullet/request-desk/internal/repository"
)

type MockStore struct {
	mock.Mock
}

func (m *MockStore) SaveOTP(ctx context.Context, v *models.PhoneVerification) error {
	args := m.Called(ctx, v)
	return args.Error(0)
}

func (m *MockStore) LatestOTP(ctx context.Context, userID string) (*models.PhoneVerification, error) {
	args := m.Called(ctx, userID)
	v, _ := args.Get(0).(*models.PhoneVerification)
	return v, args.Error(1)
}

func (m *MockStore) IncrementOTPAttempts(ctx context.Context, id uuid.UUID) (int, error) {
	args := m.Called(ctx, id)
	return args.Int(0), args.Error(1)
}

func (m *MockStore) MarkOTPUsed(ctx context.Context, id uuid.UUID) error {
	args := m.Called(ctx, id)
	return args.Error(0)
}

type MockSender struct {
	mock.Mock
}

func (m *MockSender) SendOTP(ctx context.Context, phone, code string) error {
	args := m.Called(ctx, phone, code)
	return args.Error(0)
}

func newTestService(store *MockStore, sender *MockSender) *Service {
	return NewService(store, ratelimit.NewMemoryLimiter(), sender, config.OTPConfig{}, zap.NewNop())
}

func TestSend_Success(t *testing.T) {
	store := new(MockStore)
	sender := new(MockSender)
	svc := newTestService(store, sender)

	var saved *models.PhoneVerification
	store.On("SaveOTP", mock.Anything, mock.AnythingOfType("*models.PhoneVerification")).
		Run(func(args mock.Arguments) { saved = args.Get(1).(*models.PhoneVerification) }).
		Return(nil)
	sender.On("SendOTP", mock.Anything, "+15551234567", mock.AnythingOfType("string")).Return(nil)

	masked, err := svc.Send(context.Background(), "user-1", "5551234567")
	require.NoError(t, err)
	assert.Equal(t, "***-***-4567", masked)

	require.NotNil(t, saved)
	assert.Equal(t, "+15551234567", saved.Phone)
	assert.WithinDuration(t, time.Now().Add(10*time.Minute), saved.ExpiresAt, 5*time.Second)

	code := sender.Calls[0].Arguments.String(2)
	assert.Len(t, code, 6)
	assert.Equal(t, Hash(code), saved.CodeHash, "only the hash is persisted")
}

func TestSend_InvalidPhone(t *testing.T) {
	store := new(MockStore)
	sender := new(MockSender)
	svc := newTestService(store, sender)

	_, err := svc.Send(context.Background(), "user-1", "55512345")
	assert.ErrorIs(t, err, ErrInvalidPhone)
	store.AssertNotCalled(t, "SaveOTP", mock.Anything, mock.Anything)
	sender.AssertNotCalled(t, "SendOTP", mock.Anything, mock.Anything, mock.Anything)
}

func TestSend_FourthRequestRateLimited(t *testing.T) {
	store := new(MockStore)
	sender := new(MockSender)
	svc := newTestService(store, sender)

	store.On("SaveOTP", mock.Anything, mock.Anything).Return(nil)
	sender.On("SendOTP", mock.Anything, mock.Anything, mock.Anything).Return(nil)

	for i := 0; i < 3; i++ {
		_, err := svc.Send(context.Background(), "user-1", "5551234567")
		require.NoError(t, err, "request %d", i+1)
	}

	_, err := svc.Send(context.Background(), "user-1", "5551234567")
	assert.ErrorIs(t, err, ErrRateLimited)
	store.AssertNumberOfCalls(t, "SaveOTP", 3)

	_, err = svc.Send(context.Background(), "user-2", "5551234567")
	assert.NoError(t, err)
}

func TestSend_SMSFailure(t *testing.T) {
	store := new(MockStore)
	sender := new(MockSender)
	svc := newTestService(store, sender)

	store.On("SaveOTP", mock.Anything, mock.Anything).Return(nil)
	sender.On("SendOTP", mock.Anything, mock.Anything, mock.Anything).Return(errors.New("provider down"))

	_, err := svc.Send(context.Background(), "user-1", "5551234567")
	assert.Error(t, err)
	assert.NotErrorIs(t, err, ErrRateLimited)
}

func TestVerify(t *testing.T) {
	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	id := uuid.New()

	active := func() *models.PhoneVerification {
		return &models.PhoneVerification{
			ID: id, UserID: "user-1", Phone: "+15551234567",
			CodeHash: Hash("123456"), ExpiresAt: now.Add(5 * time.Minute),
		}
	}

	t.Run("success", func(t *testing.T) {
		store := new(MockStore)
		svc := newTestService(store, new(MockSender))
		svc.now = func() time.Time { return now }

		store.On("LatestOTP", mock.Anything, "user-1").Return(active(), nil)
		store.On("IncrementOTPAttempts", mock.Anything, id).Return(1, nil)
		store.On("MarkOTPUsed", mock.Anything, id).Return(nil)

		phone, err := svc.Verify(context.Background(), "user-1", "123456")
		require.NoError(t, err)
		assert.Equal(t, "+15551234567", phone)
		store.AssertExpectations(t)
	})

	t.Run("mismatch counts attempt", func(t *testing.T) {
		store := new(MockStore)
		svc := newTestService(store, new(MockSender))
		svc.now = func() time.Time { return now }

		store.On("LatestOTP", mock.Anything, "user-1").Return(active(), nil)
		store.On("IncrementOTPAttempts", mock.Anything, id).Return(1, nil)

		_, err := svc.Verify(context.Background(), "user-1", "000000")
		assert.ErrorIs(t, err, ErrCodeMismatch)
		store.AssertNotCalled(t, "MarkOTPUsed", mock.Anything, mock.Anything)
	})

	t.Run("expired", func(t *testing.T) {
		store := new(MockStore)
		svc := newTestService(store, new(MockSender))
		svc.now = func() time.Time { return now.Add(time.Hour) }

		store.On("LatestOTP", mock.Anything, "user-1").Return(active(), nil)

		_, err := svc.Verify(context.Background(), "user-1", "123456")
		assert.ErrorIs(t, err, ErrNoActiveCode)
	})

	t.Run("too many attempts", func(t *testing.T) {
		store := new(MockStore)
		svc := newTestService(store, new(MockSender))
		svc.now = func() time.Time { return now }

		v := active()
		v.Attempts = 5
		store.On("LatestOTP", mock.Anything, "user-1").Return(v, nil)

		_, err := svc.Verify(context.Background(), "user-1", "123456")
		assert.ErrorIs(t, err, ErrTooManyAttempts)
	})

	t.Run("no code", func(t *testing.T) {
		store := new(MockStore)
		svc := newTestService(store, new(MockSender))

		store.On("LatestOTP", mock.Anything, "user-1").Return(nil, repository.ErrNotFound)

		_, err := svc.Verify(context.Background(), "user-1", "123456")
		assert.ErrorIs(t, err, ErrNoActiveCode)
	})
}

func TestVerify_SuccessLiftsSendLimit(t *testing.T) {
	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	id := uuid.New()

	store := new(MockStore)
	sender := new(MockSender)
	svc := newTestService(store, sender)
	svc.now = func() time.Time { return now }

	store.On("SaveOTP", mock.Anything, mock.Anything).Return(nil)
	sender.On("SendOTP", mock.Anything, "+15551234567", mock.Anything).Return(nil)
	for i := 0; i < 3; i++ {
		_, err := svc.Send(context.Background(), "user-1", "5551234567")
		require.NoError(t, err)
	}
	_, err := svc.Send(context.Background(), "user-1", "5551234567")
	require.ErrorIs(t, err, ErrRateLimited)

	store.On("LatestOTP", mock.Anything, "user-1").Return(&models.PhoneVerification{
		ID: id, UserID: "user-1", Phone: "+15551234567",
		CodeHash: Hash("123456"), ExpiresAt: now.Add(5 * time.Minute),
	}, nil)
	store.On("IncrementOTPAttempts", mock.Anything, id).Return(1, nil)
	store.On("MarkOTPUsed", mock.Anything, id).Return(nil)

	_, err = svc.Verify(context.Background(), "user-1", "123456")
	require.NoError(t, err)

	_, err = svc.Send(context.Background(), "user-1", "5551234567")
	assert.NoError(t, err)
}
