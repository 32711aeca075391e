package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/ignatzorin/revmark-backend/internal/domain/valueobject"
	"github.com/ignatzorin/revmark-backend/internal/gateway"
	"github.com/ignatzorin/revmark-backend/internal/models"
	"github.com/ignatzorin/revmark-backend/internal/pkg/apperror"
	"github.com/ignatzorin/revmark-backend/internal/repository"
	"github.com/ignatzorin/revmark-backend/internal/repository/common"
)

type escrowFixture struct {
	payments *mockEscrowRepo
	requests *mockRequestRepo
	users    *mockUserRepo
	gateway  *mockPaymentGateway
	notifier *mockEscrowNotifier
	svc      *EscrowService

	buyerID  uuid.UUID
	sellerID uuid.UUID
	now      time.Time
}

func newEscrowFixture() *escrowFixture {
	f := &escrowFixture{
		payments: new(mockEscrowRepo),
		requests: new(mockRequestRepo),
		users:    new(mockUserRepo),
		gateway:  new(mockPaymentGateway),
		notifier: new(mockEscrowNotifier),
		buyerID:  uuid.New(),
		sellerID: uuid.New(),
		now:      time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC),
	}
	f.svc = NewEscrowService(f.payments, f.requests, f.users, f.gateway, f.notifier, EscrowConfig{
		FeePercent: decimal.NewFromInt(5),
		Currency:   "usd",
	})
	f.svc.now = func() time.Time { return f.now }
	return f
}

func (f *escrowFixture) request(status valueobject.RequestStatus) *models.Request {
	req := &models.Request{
		ID:      uuid.New(),
		Title:   "Logo design",
		BuyerID: f.buyerID,
		Status:  status,
	}
	if status != valueobject.RequestStatusOpen {
		seller := f.sellerID
		ref := "pi_123"
		req.SellerID = &seller
		req.PaymentIntentID = &ref
	}
	return req
}

func (f *escrowFixture) verifiedSeller() *models.User {
	account := "acct_1"
	return &models.User{ID: f.sellerID, Role: models.RoleSeller, StripeAccountID: &account, OnboardingComplete: true}
}

func (f *escrowFixture) heldPayment(req *models.Request) *models.EscrowPayment {
	ref := "pi_123"
	seller := f.sellerID
	return &models.EscrowPayment{
		ID:              uuid.New(),
		RequestID:       req.ID,
		BuyerID:         f.buyerID,
		SellerID:        &seller,
		Amount:          10000,
		PlatformFee:     500,
		SellerAmount:    9500,
		Currency:        "usd",
		PaymentIntentID: &ref,
		Status:          valueobject.PaymentStatusPaid,
	}
}

func TestEscrowService_InitiateFunding_Success(t *testing.T) {
	f := newEscrowFixture()
	req := f.request(valueobject.RequestStatusOpen)

	f.requests.On("GetByID", mock.Anything, req.ID).Return(req, nil)
	f.users.On("GetByID", mock.Anything, f.sellerID).Return(&models.User{ID: f.sellerID}, nil)
	f.payments.On("ListPending", mock.Anything, req.ID).Return([]models.EscrowPayment{}, nil)
	f.payments.On("CreateAttempt", mock.Anything, mock.MatchedBy(func(p *models.EscrowPayment) bool {
		return p.Amount == 10000 && p.PlatformFee == 500 && p.SellerAmount == 9500 && *p.SellerID == f.sellerID
	})).Return(nil)
	f.gateway.On("CreatePayment", mock.Anything, mock.MatchedBy(func(in gateway.CreatePaymentInput) bool {
		return in.Amount == 10000 &&
			in.Currency == "usd" &&
			in.Metadata["request_id"] == req.ID.String() &&
			in.Metadata["platform_fee"] == "5.00" &&
			in.IdempotencyKey != ""
	})).Return(&gateway.PaymentAuthorization{Reference: "pi_new", ClientSecret: "secret_1"}, nil)
	f.payments.On("AttachReference", mock.Anything, mock.Anything, "pi_new").Return(nil)
	f.notifier.On("FundingInitiated", req, mock.Anything).Return()

	sellerID := f.sellerID
	res, err := f.svc.InitiateFunding(context.Background(), InitiateFundingInput{
		RequestID: req.ID,
		BuyerID:   f.buyerID,
		SellerID:  &sellerID,
		Amount:    10000,
	})

	require.NoError(t, err)
	assert.Equal(t, "secret_1", res.ClientSecret)
	assert.Equal(t, valueobject.Money(500), res.PlatformFee)
	assert.Equal(t, valueobject.Money(9500), res.SellerAmount)
	assert.Equal(t, res.Amount, res.PlatformFee+res.SellerAmount)
	// статус заявки меняет только подтверждение шлюза
	assert.Equal(t, valueobject.RequestStatusOpen, req.Status)
	f.payments.AssertExpectations(t)
	f.gateway.AssertExpectations(t)
	f.notifier.AssertExpectations(t)
}

func TestEscrowService_InitiateFunding_Guards(t *testing.T) {
	cases := []struct {
		name   string
		status valueobject.RequestStatus
		caller func(f *escrowFixture) uuid.UUID
		amount valueobject.Money
		want   error
	}{
		{
			name:   "non positive amount",
			status: valueobject.RequestStatusOpen,
			caller: func(f *escrowFixture) uuid.UUID { return f.buyerID },
			amount: 0,
			want:   apperror.ErrInvalidAmount,
		},
		{
			name:   "not buyer",
			status: valueobject.RequestStatusOpen,
			caller: func(f *escrowFixture) uuid.UUID { return f.sellerID },
			amount: 1000,
			want:   apperror.ErrNotBuyer,
		},
		{
			name:   "already funded",
			status: valueobject.RequestStatusFunded,
			caller: func(f *escrowFixture) uuid.UUID { return f.buyerID },
			amount: 1000,
			want:   apperror.ErrStatusConflict,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f := newEscrowFixture()
			req := f.request(tc.status)
			f.requests.On("GetByID", mock.Anything, req.ID).Return(req, nil)

			sellerID := f.sellerID
			_, err := f.svc.InitiateFunding(context.Background(), InitiateFundingInput{
				RequestID: req.ID,
				BuyerID:   tc.caller(f),
				SellerID:  &sellerID,
				Amount:    tc.amount,
			})

			assert.ErrorIs(t, err, tc.want)
			f.payments.AssertNotCalled(t, "CreateAttempt", mock.Anything, mock.Anything)
			f.gateway.AssertNotCalled(t, "CreatePayment", mock.Anything, mock.Anything)
		})
	}
}

func TestEscrowService_InitiateFunding_NoSeller(t *testing.T) {
	f := newEscrowFixture()
	req := f.request(valueobject.RequestStatusOpen)
	f.requests.On("GetByID", mock.Anything, req.ID).Return(req, nil)

	_, err := f.svc.InitiateFunding(context.Background(), InitiateFundingInput{
		RequestID: req.ID,
		BuyerID:   f.buyerID,
		Amount:    1000,
	})

	assert.ErrorIs(t, err, apperror.ErrNoSeller)
}

func TestEscrowService_InitiateFunding_RequestNotFound(t *testing.T) {
	f := newEscrowFixture()
	id := uuid.New()
	f.requests.On("GetByID", mock.Anything, id).Return(nil, repository.ErrRequestNotFound)

	_, err := f.svc.InitiateFunding(context.Background(), InitiateFundingInput{RequestID: id, BuyerID: f.buyerID, Amount: 1000})

	assert.ErrorIs(t, err, apperror.ErrRequestNotFound)
}

func TestEscrowService_InitiateFunding_GatewayDeclined(t *testing.T) {
	f := newEscrowFixture()
	req := f.request(valueobject.RequestStatusOpen)
	declined := apperror.New(apperror.ErrCodePaymentDeclined, "карта отклонена")

	f.requests.On("GetByID", mock.Anything, req.ID).Return(req, nil)
	f.users.On("GetByID", mock.Anything, f.sellerID).Return(&models.User{ID: f.sellerID}, nil)
	f.payments.On("ListPending", mock.Anything, req.ID).Return([]models.EscrowPayment{}, nil)
	f.payments.On("CreateAttempt", mock.Anything, mock.Anything).Return(nil)
	f.gateway.On("CreatePayment", mock.Anything, mock.Anything).Return(nil, declined)
	f.payments.On("MarkFailed", mock.Anything, mock.Anything, mock.Anything).Return(true, nil)

	sellerID := f.sellerID
	_, err := f.svc.InitiateFunding(context.Background(), InitiateFundingInput{
		RequestID: req.ID,
		BuyerID:   f.buyerID,
		SellerID:  &sellerID,
		Amount:    1000,
	})

	assert.True(t, apperror.HasCode(err, apperror.ErrCodePaymentDeclined))
	f.payments.AssertCalled(t, "MarkFailed", mock.Anything, mock.Anything, mock.Anything)
	f.payments.AssertNotCalled(t, "AttachReference", mock.Anything, mock.Anything, mock.Anything)
	f.notifier.AssertNotCalled(t, "FundingInitiated", mock.Anything, mock.Anything)
}

func TestEscrowService_InitiateFunding_RaceOnAttach(t *testing.T) {
	f := newEscrowFixture()
	req := f.request(valueobject.RequestStatusOpen)

	f.requests.On("GetByID", mock.Anything, req.ID).Return(req, nil)
	f.users.On("GetByID", mock.Anything, f.sellerID).Return(&models.User{ID: f.sellerID}, nil)
	f.payments.On("ListPending", mock.Anything, req.ID).Return([]models.EscrowPayment{}, nil)
	f.payments.On("CreateAttempt", mock.Anything, mock.Anything).Return(nil)
	f.gateway.On("CreatePayment", mock.Anything, mock.Anything).Return(&gateway.PaymentAuthorization{Reference: "pi_x"}, nil)
	f.payments.On("AttachReference", mock.Anything, mock.Anything, "pi_x").Return(common.ErrStatusConflict)
	f.payments.On("MarkFailed", mock.Anything, mock.Anything, mock.Anything).Return(true, nil)

	sellerID := f.sellerID
	_, err := f.svc.InitiateFunding(context.Background(), InitiateFundingInput{
		RequestID: req.ID,
		BuyerID:   f.buyerID,
		SellerID:  &sellerID,
		Amount:    1000,
	})

	assert.ErrorIs(t, err, apperror.ErrStatusConflict)
}

func (f *escrowFixture) pendingAttempt(req *models.Request, ref string) models.EscrowPayment {
	seller := f.sellerID
	return models.EscrowPayment{
		ID:              uuid.New(),
		RequestID:       req.ID,
		BuyerID:         f.buyerID,
		SellerID:        &seller,
		Amount:          1000,
		Currency:        "usd",
		PaymentIntentID: &ref,
		Status:          valueobject.PaymentStatusPending,
	}
}

func TestEscrowService_InitiateFunding_SupersedesPendingAttempt(t *testing.T) {
	f := newEscrowFixture()
	req := f.request(valueobject.RequestStatusOpen)
	earlier := f.pendingAttempt(req, "pi_old")

	f.requests.On("GetByID", mock.Anything, req.ID).Return(req, nil)
	f.users.On("GetByID", mock.Anything, f.sellerID).Return(&models.User{ID: f.sellerID}, nil)
	f.payments.On("ListPending", mock.Anything, req.ID).Return([]models.EscrowPayment{earlier}, nil)
	f.gateway.On("CancelPayment", mock.Anything, "pi_old").Return(nil)
	f.payments.On("MarkFailed", mock.Anything, earlier.ID, "superseded by a new funding attempt").Return(true, nil)
	f.payments.On("CreateAttempt", mock.Anything, mock.Anything).Return(nil)
	f.gateway.On("CreatePayment", mock.Anything, mock.Anything).Return(&gateway.PaymentAuthorization{Reference: "pi_new", ClientSecret: "secret_2"}, nil)
	f.payments.On("AttachReference", mock.Anything, mock.Anything, "pi_new").Return(nil)
	f.notifier.On("FundingInitiated", req, mock.Anything).Return()

	sellerID := f.sellerID
	res, err := f.svc.InitiateFunding(context.Background(), InitiateFundingInput{
		RequestID: req.ID,
		BuyerID:   f.buyerID,
		SellerID:  &sellerID,
		Amount:    1000,
	})

	require.NoError(t, err)
	assert.Equal(t, "secret_2", res.ClientSecret)
	f.gateway.AssertCalled(t, "CancelPayment", mock.Anything, "pi_old")
	f.payments.AssertExpectations(t)
}

func TestEscrowService_InitiateFunding_EarlierAttemptAlreadyPaid(t *testing.T) {
	f := newEscrowFixture()
	req := f.request(valueobject.RequestStatusOpen)
	earlier := f.pendingAttempt(req, "pi_old")

	f.requests.On("GetByID", mock.Anything, req.ID).Return(req, nil)
	f.users.On("GetByID", mock.Anything, f.sellerID).Return(&models.User{ID: f.sellerID}, nil)
	f.payments.On("ListPending", mock.Anything, req.ID).Return([]models.EscrowPayment{earlier}, nil)
	f.gateway.On("CancelPayment", mock.Anything, "pi_old").Return(errors.New("payment_intent_unexpected_state"))
	f.gateway.On("GetPayment", mock.Anything, "pi_old").Return(&gateway.PaymentState{Reference: "pi_old", Outcome: gateway.OutcomeSucceeded}, nil)
	f.payments.On("GetByReference", mock.Anything, "pi_old").Return(&earlier, nil)
	f.payments.On("ConfirmFunding", mock.Anything, earlier.ID).Return(true, nil)
	f.notifier.On("Funded", req, mock.Anything).Return()

	sellerID := f.sellerID
	_, err := f.svc.InitiateFunding(context.Background(), InitiateFundingInput{
		RequestID: req.ID,
		BuyerID:   f.buyerID,
		SellerID:  &sellerID,
		Amount:    1000,
	})

	assert.ErrorIs(t, err, apperror.ErrAlreadyPaid)
	f.payments.AssertNotCalled(t, "MarkFailed", mock.Anything, mock.Anything, mock.Anything)
	f.payments.AssertNotCalled(t, "CreateAttempt", mock.Anything, mock.Anything)
	f.notifier.AssertExpectations(t)
}

func TestEscrowService_InitiateFunding_ConcurrentAttempt(t *testing.T) {
	f := newEscrowFixture()
	req := f.request(valueobject.RequestStatusOpen)

	f.requests.On("GetByID", mock.Anything, req.ID).Return(req, nil)
	f.users.On("GetByID", mock.Anything, f.sellerID).Return(&models.User{ID: f.sellerID}, nil)
	f.payments.On("ListPending", mock.Anything, req.ID).Return([]models.EscrowPayment{}, nil)
	f.payments.On("CreateAttempt", mock.Anything, mock.Anything).Return(repository.ErrPendingAttemptExists)

	sellerID := f.sellerID
	_, err := f.svc.InitiateFunding(context.Background(), InitiateFundingInput{
		RequestID: req.ID,
		BuyerID:   f.buyerID,
		SellerID:  &sellerID,
		Amount:    1000,
	})

	assert.ErrorIs(t, err, apperror.ErrPaymentInFlight)
	f.gateway.AssertNotCalled(t, "CreatePayment", mock.Anything, mock.Anything)
}

func TestEscrowService_CancelPendingAttempts(t *testing.T) {
	t.Run("платёж уже закрыт в шлюзе", func(t *testing.T) {
		f := newEscrowFixture()
		req := f.request(valueobject.RequestStatusOpen)
		earlier := f.pendingAttempt(req, "pi_old")

		f.payments.On("ListPending", mock.Anything, req.ID).Return([]models.EscrowPayment{earlier}, nil)
		f.gateway.On("CancelPayment", mock.Anything, "pi_old").Return(errors.New("already canceled"))
		f.gateway.On("GetPayment", mock.Anything, "pi_old").Return(&gateway.PaymentState{Reference: "pi_old", Outcome: gateway.OutcomeFailed}, nil)
		f.payments.On("MarkFailed", mock.Anything, earlier.ID, "request cancelled").Return(true, nil)

		require.NoError(t, f.svc.CancelPendingAttempts(context.Background(), req.ID, "request cancelled"))
		f.payments.AssertExpectations(t)
	})

	t.Run("шлюз недоступен", func(t *testing.T) {
		f := newEscrowFixture()
		req := f.request(valueobject.RequestStatusOpen)
		earlier := f.pendingAttempt(req, "pi_old")
		unavailable := apperror.New(apperror.ErrCodeGatewayUnavailable, "шлюз недоступен")

		f.payments.On("ListPending", mock.Anything, req.ID).Return([]models.EscrowPayment{earlier}, nil)
		f.gateway.On("CancelPayment", mock.Anything, "pi_old").Return(unavailable)
		f.gateway.On("GetPayment", mock.Anything, "pi_old").Return(nil, unavailable)

		err := f.svc.CancelPendingAttempts(context.Background(), req.ID, "request cancelled")

		assert.ErrorIs(t, err, unavailable)
		f.payments.AssertNotCalled(t, "MarkFailed", mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("попытка без ссылки закрывается без шлюза", func(t *testing.T) {
		f := newEscrowFixture()
		req := f.request(valueobject.RequestStatusOpen)
		orphan := f.pendingAttempt(req, "")
		orphan.PaymentIntentID = nil

		f.payments.On("ListPending", mock.Anything, req.ID).Return([]models.EscrowPayment{orphan}, nil)
		f.payments.On("MarkFailed", mock.Anything, orphan.ID, "request cancelled").Return(true, nil)

		require.NoError(t, f.svc.CancelPendingAttempts(context.Background(), req.ID, "request cancelled"))
		f.gateway.AssertNotCalled(t, "CancelPayment", mock.Anything, mock.Anything)
	})
}

func TestEscrowService_RecordDeclineThenConfirm(t *testing.T) {
	f := newEscrowFixture()
	req := f.request(valueobject.RequestStatusOpen)
	payment := f.heldPayment(req)
	payment.Status = valueobject.PaymentStatusPending

	f.payments.On("GetByReference", mock.Anything, "pi_123").Return(payment, nil)
	f.payments.On("RecordDecline", mock.Anything, payment.ID, "card_declined").Return(true, nil)
	f.requests.On("GetByID", mock.Anything, req.ID).Return(req, nil)
	f.notifier.On("FundingFailed", req, payment, "card_declined").Return()

	require.NoError(t, f.svc.RecordDecline(context.Background(), "pi_123", "card_declined"))
	assert.Equal(t, valueobject.PaymentStatusPending, payment.Status)
	f.payments.AssertNotCalled(t, "MarkFailed", mock.Anything, mock.Anything, mock.Anything)

	// повторная попытка покупателя прошла
	f.payments.On("ConfirmFunding", mock.Anything, payment.ID).Return(true, nil)
	f.notifier.On("Funded", req, payment).Return()

	applied, err := f.svc.ConfirmFunding(context.Background(), "pi_123")
	require.NoError(t, err)
	assert.True(t, applied)
	f.notifier.AssertExpectations(t)
}

func TestEscrowService_RecordDecline_ClosedAttempt(t *testing.T) {
	f := newEscrowFixture()
	req := f.request(valueobject.RequestStatusOpen)
	payment := f.heldPayment(req)

	f.payments.On("GetByReference", mock.Anything, "pi_123").Return(payment, nil)
	f.payments.On("RecordDecline", mock.Anything, payment.ID, "card_declined").Return(false, nil)

	require.NoError(t, f.svc.RecordDecline(context.Background(), "pi_123", "card_declined"))
	f.notifier.AssertNotCalled(t, "FundingFailed", mock.Anything, mock.Anything, mock.Anything)
}

func TestEscrowService_ConfirmFunding(t *testing.T) {
	f := newEscrowFixture()
	req := f.request(valueobject.RequestStatusOpen)
	payment := f.heldPayment(req)
	payment.Status = valueobject.PaymentStatusPending

	f.payments.On("GetByReference", mock.Anything, "pi_123").Return(payment, nil)
	f.payments.On("ConfirmFunding", mock.Anything, payment.ID).Return(true, nil).Once()
	f.requests.On("GetByID", mock.Anything, req.ID).Return(req, nil)
	f.notifier.On("Funded", req, payment).Return().Once()

	applied, err := f.svc.ConfirmFunding(context.Background(), "pi_123")
	require.NoError(t, err)
	assert.True(t, applied)

	// повтор того же события ничего не меняет
	f.payments.On("ConfirmFunding", mock.Anything, payment.ID).Return(false, nil).Once()
	applied, err = f.svc.ConfirmFunding(context.Background(), "pi_123")
	require.NoError(t, err)
	assert.False(t, applied)

	f.notifier.AssertNumberOfCalls(t, "Funded", 1)
}

func TestEscrowService_ConfirmFunding_RequestNoLongerOpen(t *testing.T) {
	f := newEscrowFixture()
	req := f.request(valueobject.RequestStatusOpen)
	payment := f.heldPayment(req)
	payment.Status = valueobject.PaymentStatusPending

	f.payments.On("GetByReference", mock.Anything, "pi_123").Return(payment, nil)
	f.payments.On("ConfirmFunding", mock.Anything, payment.ID).Return(false, common.ErrStatusConflict)

	_, err := f.svc.ConfirmFunding(context.Background(), "pi_123")

	assert.True(t, apperror.HasCode(err, apperror.ErrCodeInconsistentState))
	f.notifier.AssertNotCalled(t, "Funded", mock.Anything, mock.Anything)
}

func TestEscrowService_ConfirmFunding_UnknownReference(t *testing.T) {
	f := newEscrowFixture()
	f.payments.On("GetByReference", mock.Anything, "pi_unknown").Return(nil, repository.ErrPaymentNotFound)

	_, err := f.svc.ConfirmFunding(context.Background(), "pi_unknown")

	assert.ErrorIs(t, err, apperror.ErrPaymentNotFound)
}

func TestEscrowService_FailFunding(t *testing.T) {
	f := newEscrowFixture()
	req := f.request(valueobject.RequestStatusOpen)
	payment := f.heldPayment(req)
	payment.Status = valueobject.PaymentStatusPending

	f.payments.On("GetByReference", mock.Anything, "pi_123").Return(payment, nil)
	f.payments.On("MarkFailed", mock.Anything, payment.ID, "card_declined").Return(true, nil)
	f.requests.On("GetByID", mock.Anything, req.ID).Return(req, nil)
	f.notifier.On("FundingFailed", req, payment, "card_declined").Return()

	applied, err := f.svc.FailFunding(context.Background(), "pi_123", "card_declined")

	require.NoError(t, err)
	assert.True(t, applied)
	assert.Equal(t, valueobject.RequestStatusOpen, req.Status)
	f.notifier.AssertExpectations(t)
}

func TestEscrowService_Release_Success(t *testing.T) {
	f := newEscrowFixture()
	req := f.request(valueobject.RequestStatusFunded)
	payment := f.heldPayment(req)

	f.requests.On("GetByID", mock.Anything, req.ID).Return(req, nil)
	f.users.On("GetByID", mock.Anything, f.sellerID).Return(f.verifiedSeller(), nil)
	f.payments.On("GetByReference", mock.Anything, "pi_123").Return(payment, nil)
	f.gateway.On("Transfer", mock.Anything, gateway.TransferInput{
		Amount:         9500,
		Currency:       "usd",
		Destination:    "acct_1",
		TransferGroup:  "pi_123",
		IdempotencyKey: "release-" + payment.ID.String(),
	}).Return(&gateway.Transfer{Reference: "tr_1", Amount: 9500}, nil)
	f.payments.On("CompleteRelease", mock.Anything, payment.ID, req.ID, "tr_1", f.now).Return(nil)
	f.notifier.On("Released", req, payment).Return()

	res, err := f.svc.Release(context.Background(), req.ID, f.buyerID)

	require.NoError(t, err)
	assert.Equal(t, "tr_1", res.TransferID)
	assert.Equal(t, valueobject.Money(9500), res.AmountTransferred)
	assert.Equal(t, valueobject.Money(500), res.PlatformFee)
	assert.Equal(t, valueobject.RequestStatusCompleted, req.Status)
	f.payments.AssertExpectations(t)
	f.notifier.AssertExpectations(t)
}

func TestEscrowService_Release_NotBuyer(t *testing.T) {
	f := newEscrowFixture()
	req := f.request(valueobject.RequestStatusFunded)
	f.requests.On("GetByID", mock.Anything, req.ID).Return(req, nil)

	_, err := f.svc.Release(context.Background(), req.ID, f.sellerID)

	assert.ErrorIs(t, err, apperror.ErrNotBuyer)
	assert.True(t, apperror.IsForbidden(err))
	f.gateway.AssertNotCalled(t, "Transfer", mock.Anything, mock.Anything)
}

func TestEscrowService_Release_NotFunded(t *testing.T) {
	f := newEscrowFixture()
	req := f.request(valueobject.RequestStatusCompleted)
	f.requests.On("GetByID", mock.Anything, req.ID).Return(req, nil)

	_, err := f.svc.Release(context.Background(), req.ID, f.buyerID)

	assert.ErrorIs(t, err, apperror.ErrStatusConflict)
}

func TestEscrowService_Release_SellerUnverified(t *testing.T) {
	f := newEscrowFixture()
	req := f.request(valueobject.RequestStatusFunded)
	f.requests.On("GetByID", mock.Anything, req.ID).Return(req, nil)
	f.users.On("GetByID", mock.Anything, f.sellerID).Return(&models.User{ID: f.sellerID}, nil)

	_, err := f.svc.Release(context.Background(), req.ID, f.buyerID)

	assert.ErrorIs(t, err, apperror.ErrSellerUnverified)
	f.gateway.AssertNotCalled(t, "Transfer", mock.Anything, mock.Anything)
}

func TestEscrowService_Release_TransferFailureKeepsState(t *testing.T) {
	f := newEscrowFixture()
	req := f.request(valueobject.RequestStatusFunded)
	payment := f.heldPayment(req)
	unavailable := apperror.New(apperror.ErrCodeGatewayUnavailable, "шлюз недоступен")

	f.requests.On("GetByID", mock.Anything, req.ID).Return(req, nil)
	f.users.On("GetByID", mock.Anything, f.sellerID).Return(f.verifiedSeller(), nil)
	f.payments.On("GetByReference", mock.Anything, "pi_123").Return(payment, nil)
	f.gateway.On("Transfer", mock.Anything, mock.Anything).Return(nil, unavailable)

	_, err := f.svc.Release(context.Background(), req.ID, f.buyerID)

	assert.True(t, apperror.IsRetryable(err))
	assert.Equal(t, valueobject.RequestStatusFunded, req.Status)
	f.payments.AssertNotCalled(t, "CompleteRelease", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	f.notifier.AssertNotCalled(t, "Released", mock.Anything, mock.Anything)
}

func TestEscrowService_Release_ConcurrentDoubleClick(t *testing.T) {
	f := newEscrowFixture()
	req := f.request(valueobject.RequestStatusFunded)
	payment := f.heldPayment(req)
	completed := *payment
	completed.Status = valueobject.PaymentStatusCompleted

	f.requests.On("GetByID", mock.Anything, req.ID).Return(req, nil)
	f.users.On("GetByID", mock.Anything, f.sellerID).Return(f.verifiedSeller(), nil)
	f.payments.On("GetByReference", mock.Anything, "pi_123").Return(payment, nil).Once()
	f.gateway.On("Transfer", mock.Anything, mock.Anything).Return(&gateway.Transfer{Reference: "tr_1"}, nil)
	f.payments.On("CompleteRelease", mock.Anything, payment.ID, req.ID, "tr_1", mock.Anything).Return(common.ErrStatusConflict)
	f.payments.On("GetByReference", mock.Anything, "pi_123").Return(&completed, nil).Once()

	_, err := f.svc.Release(context.Background(), req.ID, f.buyerID)

	assert.ErrorIs(t, err, apperror.ErrStatusConflict)
	f.notifier.AssertNotCalled(t, "Released", mock.Anything, mock.Anything)
}

func TestEscrowService_Release_CommitFailureIsInconsistent(t *testing.T) {
	f := newEscrowFixture()
	req := f.request(valueobject.RequestStatusFunded)
	payment := f.heldPayment(req)

	f.requests.On("GetByID", mock.Anything, req.ID).Return(req, nil)
	f.users.On("GetByID", mock.Anything, f.sellerID).Return(f.verifiedSeller(), nil)
	f.payments.On("GetByReference", mock.Anything, "pi_123").Return(payment, nil)
	f.gateway.On("Transfer", mock.Anything, mock.Anything).Return(&gateway.Transfer{Reference: "tr_1"}, nil)
	f.payments.On("CompleteRelease", mock.Anything, payment.ID, req.ID, "tr_1", mock.Anything).Return(errors.New("connection reset"))

	_, err := f.svc.Release(context.Background(), req.ID, f.buyerID)

	assert.True(t, apperror.HasCode(err, apperror.ErrCodeInconsistentState))
}

func TestEscrowService_Refund_Success(t *testing.T) {
	f := newEscrowFixture()
	req := f.request(valueobject.RequestStatusFunded)
	payment := f.heldPayment(req)

	f.requests.On("GetByID", mock.Anything, req.ID).Return(req, nil)
	f.payments.On("GetByReference", mock.Anything, "pi_123").Return(payment, nil)
	f.gateway.On("Refund", mock.Anything, gateway.RefundInput{
		PaymentReference: "pi_123",
		Reason:           "requested_by_customer",
		IdempotencyKey:   "refund-" + payment.ID.String(),
	}).Return(&gateway.Refund{Reference: "re_1", Amount: 10000, Status: "succeeded"}, nil)
	f.payments.On("CompleteRefund", mock.Anything, payment.ID, req.ID, "re_1", f.now).Return(nil)
	f.notifier.On("Refunded", req, payment).Return()

	res, err := f.svc.Refund(context.Background(), req.ID, f.buyerID, "requested_by_customer")

	require.NoError(t, err)
	assert.Equal(t, "re_1", res.RefundID)
	assert.Equal(t, valueobject.Money(10000), res.AmountRefunded)
	assert.Equal(t, valueobject.RequestStatusCancelled, req.Status)
	f.notifier.AssertExpectations(t)
}

func TestEscrowService_Refund_RejectedForFinalStatuses(t *testing.T) {
	for _, status := range []valueobject.RequestStatus{
		valueobject.RequestStatusCompleted,
		valueobject.RequestStatusCancelled,
		valueobject.RequestStatusOpen,
	} {
		t.Run(string(status), func(t *testing.T) {
			f := newEscrowFixture()
			req := f.request(status)
			f.requests.On("GetByID", mock.Anything, req.ID).Return(req, nil)

			_, err := f.svc.Refund(context.Background(), req.ID, f.buyerID, "")

			assert.ErrorIs(t, err, apperror.ErrStatusConflict)
			f.gateway.AssertNotCalled(t, "Refund", mock.Anything, mock.Anything)
		})
	}
}

func TestEscrowService_Refund_PaymentNotHeld(t *testing.T) {
	f := newEscrowFixture()
	req := f.request(valueobject.RequestStatusInProgress)
	payment := f.heldPayment(req)
	payment.Status = valueobject.PaymentStatusRefunded

	f.requests.On("GetByID", mock.Anything, req.ID).Return(req, nil)
	f.payments.On("GetByReference", mock.Anything, "pi_123").Return(payment, nil)

	_, err := f.svc.Refund(context.Background(), req.ID, f.buyerID, "")

	assert.ErrorIs(t, err, apperror.ErrStatusConflict)
	f.gateway.AssertNotCalled(t, "Refund", mock.Anything, mock.Anything)
}

func TestEscrowService_History(t *testing.T) {
	f := newEscrowFixture()
	req := f.request(valueobject.RequestStatusFunded)
	payment := f.heldPayment(req)

	f.requests.On("GetByID", mock.Anything, req.ID).Return(req, nil)
	f.payments.On("ListByRequest", mock.Anything, req.ID).Return([]models.EscrowPayment{*payment}, nil)

	history, err := f.svc.History(context.Background(), req.ID, f.sellerID)
	require.NoError(t, err)
	assert.Len(t, history, 1)

	_, err = f.svc.History(context.Background(), req.ID, uuid.New())
	assert.ErrorIs(t, err, apperror.ErrNotParticipant)
}

func TestEscrowService_Reconcile(t *testing.T) {
	f := newEscrowFixture()
	req := f.request(valueobject.RequestStatusOpen)

	succeeded := f.heldPayment(req)
	succeeded.Status = valueobject.PaymentStatusPending
	failedRef := "pi_failed"
	failed := f.heldPayment(req)
	failed.Status = valueobject.PaymentStatusPending
	failed.PaymentIntentID = &failedRef
	pendingRef := "pi_pending"
	pending := f.heldPayment(req)
	pending.Status = valueobject.PaymentStatusPending
	pending.PaymentIntentID = &pendingRef

	before := f.now.Add(-time.Hour)
	f.payments.On("FailAbandonedAttempts", mock.Anything, before).Return(int64(2), nil)
	f.payments.On("ListStalePending", mock.Anything, before, reconcileBatch).
		Return([]models.EscrowPayment{*succeeded, *failed, *pending}, nil)

	f.gateway.On("GetPayment", mock.Anything, "pi_123").Return(&gateway.PaymentState{Reference: "pi_123", Outcome: gateway.OutcomeSucceeded}, nil)
	f.gateway.On("GetPayment", mock.Anything, "pi_failed").Return(&gateway.PaymentState{Reference: "pi_failed", Outcome: gateway.OutcomeFailed, FailureReason: "expired"}, nil)
	f.gateway.On("GetPayment", mock.Anything, "pi_pending").Return(&gateway.PaymentState{Reference: "pi_pending", Outcome: gateway.OutcomePending}, nil)

	f.payments.On("GetByReference", mock.Anything, "pi_123").Return(succeeded, nil)
	f.payments.On("GetByReference", mock.Anything, "pi_failed").Return(failed, nil)
	f.payments.On("ConfirmFunding", mock.Anything, succeeded.ID).Return(true, nil)
	f.payments.On("MarkFailed", mock.Anything, failed.ID, "expired").Return(true, nil)
	f.requests.On("GetByID", mock.Anything, req.ID).Return(req, nil)
	f.notifier.On("Funded", mock.Anything, mock.Anything).Return()
	f.notifier.On("FundingFailed", mock.Anything, mock.Anything, "expired").Return()

	report, err := f.svc.Reconcile(context.Background(), time.Hour)

	require.NoError(t, err)
	assert.Equal(t, &ReconcileReport{Checked: 3, Confirmed: 1, Failed: 1, Pending: 1, Abandoned: 2}, report)
}
