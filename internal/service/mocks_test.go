package service

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/mock"

	"github.com/ignatzorin/revmark-backend/internal/gateway"
	"github.com/ignatzorin/revmark-backend/internal/models"
)

type mockEscrowRepo struct {
	mock.Mock
}

func (m *mockEscrowRepo) CreateAttempt(ctx context.Context, p *models.EscrowPayment) error {
	args := m.Called(ctx, p)
	if args.Error(0) == nil && p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	return args.Error(0)
}

func (m *mockEscrowRepo) AttachReference(ctx context.Context, paymentID uuid.UUID, reference string) error {
	return m.Called(ctx, paymentID, reference).Error(0)
}

func (m *mockEscrowRepo) MarkFailed(ctx context.Context, paymentID uuid.UUID, reason string) (bool, error) {
	args := m.Called(ctx, paymentID, reason)
	return args.Bool(0), args.Error(1)
}

func (m *mockEscrowRepo) RecordDecline(ctx context.Context, paymentID uuid.UUID, reason string) (bool, error) {
	args := m.Called(ctx, paymentID, reason)
	return args.Bool(0), args.Error(1)
}

func (m *mockEscrowRepo) GetByReference(ctx context.Context, reference string) (*models.EscrowPayment, error) {
	args := m.Called(ctx, reference)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.EscrowPayment), args.Error(1)
}

func (m *mockEscrowRepo) ConfirmFunding(ctx context.Context, paymentID uuid.UUID) (bool, error) {
	args := m.Called(ctx, paymentID)
	return args.Bool(0), args.Error(1)
}

func (m *mockEscrowRepo) CompleteRelease(ctx context.Context, paymentID, requestID uuid.UUID, transferID string, completedAt time.Time) error {
	return m.Called(ctx, paymentID, requestID, transferID, completedAt).Error(0)
}

func (m *mockEscrowRepo) CompleteRefund(ctx context.Context, paymentID, requestID uuid.UUID, refundID string, refundedAt time.Time) error {
	return m.Called(ctx, paymentID, requestID, refundID, refundedAt).Error(0)
}

func (m *mockEscrowRepo) ListByRequest(ctx context.Context, requestID uuid.UUID) ([]models.EscrowPayment, error) {
	args := m.Called(ctx, requestID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]models.EscrowPayment), args.Error(1)
}

func (m *mockEscrowRepo) ListPending(ctx context.Context, requestID uuid.UUID) ([]models.EscrowPayment, error) {
	args := m.Called(ctx, requestID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]models.EscrowPayment), args.Error(1)
}

func (m *mockEscrowRepo) ListStalePending(ctx context.Context, before time.Time, limit int) ([]models.EscrowPayment, error) {
	args := m.Called(ctx, before, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]models.EscrowPayment), args.Error(1)
}

func (m *mockEscrowRepo) FailAbandonedAttempts(ctx context.Context, before time.Time) (int64, error) {
	args := m.Called(ctx, before)
	return args.Get(0).(int64), args.Error(1)
}

type mockRequestRepo struct {
	mock.Mock
}

func (m *mockRequestRepo) GetByID(ctx context.Context, id uuid.UUID) (*models.Request, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Request), args.Error(1)
}

type mockUserRepo struct {
	mock.Mock
}

func (m *mockUserRepo) GetByID(ctx context.Context, id uuid.UUID) (*models.User, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.User), args.Error(1)
}

type mockPaymentGateway struct {
	mock.Mock
}

func (m *mockPaymentGateway) CreatePayment(ctx context.Context, in gateway.CreatePaymentInput) (*gateway.PaymentAuthorization, error) {
	args := m.Called(ctx, in)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*gateway.PaymentAuthorization), args.Error(1)
}

func (m *mockPaymentGateway) GetPayment(ctx context.Context, reference string) (*gateway.PaymentState, error) {
	args := m.Called(ctx, reference)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*gateway.PaymentState), args.Error(1)
}

func (m *mockPaymentGateway) CancelPayment(ctx context.Context, reference string) error {
	return m.Called(ctx, reference).Error(0)
}

func (m *mockPaymentGateway) Transfer(ctx context.Context, in gateway.TransferInput) (*gateway.Transfer, error) {
	args := m.Called(ctx, in)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*gateway.Transfer), args.Error(1)
}

func (m *mockPaymentGateway) Refund(ctx context.Context, in gateway.RefundInput) (*gateway.Refund, error) {
	args := m.Called(ctx, in)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*gateway.Refund), args.Error(1)
}

func (m *mockPaymentGateway) CreateAccount(ctx context.Context, in gateway.CreateAccountInput) (string, error) {
	args := m.Called(ctx, in)
	return args.String(0), args.Error(1)
}

func (m *mockPaymentGateway) GetAccountStatus(ctx context.Context, accountID string) (*gateway.AccountStatus, error) {
	args := m.Called(ctx, accountID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*gateway.AccountStatus), args.Error(1)
}

func (m *mockPaymentGateway) CreateOnboardingLink(ctx context.Context, accountID, refreshURL, returnURL string) (*gateway.OnboardingLink, error) {
	args := m.Called(ctx, accountID, refreshURL, returnURL)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*gateway.OnboardingLink), args.Error(1)
}

func (m *mockPaymentGateway) VerifyWebhook(payload []byte, signature string) (*gateway.Event, error) {
	args := m.Called(payload, signature)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*gateway.Event), args.Error(1)
}

type mockEscrowNotifier struct {
	mock.Mock
}

func (m *mockEscrowNotifier) FundingInitiated(req *models.Request, payment *models.EscrowPayment) {
	m.Called(req, payment)
}

func (m *mockEscrowNotifier) Funded(req *models.Request, payment *models.EscrowPayment) {
	m.Called(req, payment)
}

func (m *mockEscrowNotifier) FundingFailed(req *models.Request, payment *models.EscrowPayment, reason string) {
	m.Called(req, payment, reason)
}

func (m *mockEscrowNotifier) Released(req *models.Request, payment *models.EscrowPayment) {
	m.Called(req, payment)
}

func (m *mockEscrowNotifier) Refunded(req *models.Request, payment *models.EscrowPayment) {
	m.Called(req, payment)
}
