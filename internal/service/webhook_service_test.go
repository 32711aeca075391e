package service

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/ignatzorin/revmark-backend/internal/gateway"
	"github.com/ignatzorin/revmark-backend/internal/pkg/apperror"
)

type mockWebhookEvents struct {
	mock.Mock
}

func (m *mockWebhookEvents) Register(ctx context.Context, provider, eventID, eventType string) (bool, error) {
	args := m.Called(ctx, provider, eventID, eventType)
	return args.Bool(0), args.Error(1)
}

func (m *mockWebhookEvents) MarkProcessed(ctx context.Context, provider, eventID string) error {
	return m.Called(ctx, provider, eventID).Error(0)
}

type mockFundingHandler struct {
	mock.Mock
}

func (m *mockFundingHandler) ConfirmFunding(ctx context.Context, reference string) (bool, error) {
	args := m.Called(ctx, reference)
	return args.Bool(0), args.Error(1)
}

func (m *mockFundingHandler) RecordDecline(ctx context.Context, reference, reason string) error {
	return m.Called(ctx, reference, reason).Error(0)
}

func (m *mockFundingHandler) FailFunding(ctx context.Context, reference, reason string) (bool, error) {
	args := m.Called(ctx, reference, reason)
	return args.Bool(0), args.Error(1)
}

type mockAccountHandler struct {
	mock.Mock
}

func (m *mockAccountHandler) HandleAccountUpdated(ctx context.Context, status *gateway.AccountStatus) error {
	return m.Called(ctx, status).Error(0)
}

type webhookFixture struct {
	gw       *mockPaymentGateway
	events   *mockWebhookEvents
	funding  *mockFundingHandler
	accounts *mockAccountHandler
	svc      *WebhookService
}

func newWebhookFixture() *webhookFixture {
	f := &webhookFixture{
		gw:       new(mockPaymentGateway),
		events:   new(mockWebhookEvents),
		funding:  new(mockFundingHandler),
		accounts: new(mockAccountHandler),
	}
	f.svc = NewWebhookService(f.gw, f.events, f.funding, f.accounts)
	return f
}

func TestWebhookService_PaymentSucceeded(t *testing.T) {
	f := newWebhookFixture()
	payload := []byte(`{}`)
	evt := &gateway.Event{ID: "evt_1", Type: gateway.EventPaymentSucceeded, PaymentReference: "pi_1"}

	f.gw.On("VerifyWebhook", payload, "sig").Return(evt, nil)
	f.events.On("Register", mock.Anything, "stripe", "evt_1", gateway.EventPaymentSucceeded).Return(true, nil)
	f.funding.On("ConfirmFunding", mock.Anything, "pi_1").Return(true, nil)
	f.events.On("MarkProcessed", mock.Anything, "stripe", "evt_1").Return(nil)

	require.NoError(t, f.svc.Handle(context.Background(), payload, "sig"))
	f.funding.AssertExpectations(t)
	f.events.AssertExpectations(t)
}

func TestWebhookService_DuplicateEventSkipped(t *testing.T) {
	f := newWebhookFixture()
	evt := &gateway.Event{ID: "evt_1", Type: gateway.EventPaymentSucceeded, PaymentReference: "pi_1"}

	f.gw.On("VerifyWebhook", mock.Anything, mock.Anything).Return(evt, nil)
	f.events.On("Register", mock.Anything, "stripe", "evt_1", mock.Anything).Return(false, nil)

	require.NoError(t, f.svc.Handle(context.Background(), []byte(`{}`), "sig"))
	f.funding.AssertNotCalled(t, "ConfirmFunding", mock.Anything, mock.Anything)
}

func TestWebhookService_InvalidSignature(t *testing.T) {
	f := newWebhookFixture()
	sigErr := apperror.New(apperror.ErrCodeInvalidSignature, "подпись вебхука не прошла проверку")
	f.gw.On("VerifyWebhook", mock.Anything, mock.Anything).Return(nil, sigErr)

	err := f.svc.Handle(context.Background(), []byte(`{}`), "bad")

	assert.True(t, apperror.HasCode(err, apperror.ErrCodeInvalidSignature))
	f.events.AssertNotCalled(t, "Register", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestWebhookService_MalformedEventAcknowledged(t *testing.T) {
	f := newWebhookFixture()
	malformed := apperror.New(apperror.ErrCodeValidation, "событие шлюза не удалось разобрать")
	f.gw.On("VerifyWebhook", mock.Anything, mock.Anything).Return(nil, malformed)

	require.NoError(t, f.svc.Handle(context.Background(), []byte(`{}`), "sig"))
	f.events.AssertNotCalled(t, "Register", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestWebhookService_PaymentFailedKeepsAttemptOpen(t *testing.T) {
	f := newWebhookFixture()
	evt := &gateway.Event{ID: "evt_2", Type: gateway.EventPaymentFailed, PaymentReference: "pi_2", FailureReason: "card_declined"}

	f.gw.On("VerifyWebhook", mock.Anything, mock.Anything).Return(evt, nil)
	f.events.On("Register", mock.Anything, "stripe", "evt_2", gateway.EventPaymentFailed).Return(true, nil)
	f.funding.On("RecordDecline", mock.Anything, "pi_2", "card_declined").Return(nil)
	f.events.On("MarkProcessed", mock.Anything, "stripe", "evt_2").Return(nil)

	require.NoError(t, f.svc.Handle(context.Background(), []byte(`{}`), "sig"))
	f.funding.AssertExpectations(t)
	f.funding.AssertNotCalled(t, "FailFunding", mock.Anything, mock.Anything, mock.Anything)
}

func TestWebhookService_DeclineThenSuccessFundsRequest(t *testing.T) {
	f := newWebhookFixture()
	failed := &gateway.Event{ID: "evt_6", Type: gateway.EventPaymentFailed, PaymentReference: "pi_6", FailureReason: "card_declined"}
	succeeded := &gateway.Event{ID: "evt_7", Type: gateway.EventPaymentSucceeded, PaymentReference: "pi_6"}

	f.gw.On("VerifyWebhook", []byte(`1`), "sig").Return(failed, nil)
	f.gw.On("VerifyWebhook", []byte(`2`), "sig").Return(succeeded, nil)
	f.events.On("Register", mock.Anything, "stripe", mock.Anything, mock.Anything).Return(true, nil)
	f.events.On("MarkProcessed", mock.Anything, "stripe", mock.Anything).Return(nil)
	f.funding.On("RecordDecline", mock.Anything, "pi_6", "card_declined").Return(nil)
	f.funding.On("ConfirmFunding", mock.Anything, "pi_6").Return(true, nil)

	require.NoError(t, f.svc.Handle(context.Background(), []byte(`1`), "sig"))
	require.NoError(t, f.svc.Handle(context.Background(), []byte(`2`), "sig"))

	f.funding.AssertCalled(t, "ConfirmFunding", mock.Anything, "pi_6")
	f.funding.AssertNotCalled(t, "FailFunding", mock.Anything, mock.Anything, mock.Anything)
}

func TestWebhookService_CanceledPaymentFailsAttempt(t *testing.T) {
	f := newWebhookFixture()
	evt := &gateway.Event{ID: "evt_8", Type: gateway.EventPaymentCanceled, PaymentReference: "pi_8", FailureReason: "abandoned"}

	f.gw.On("VerifyWebhook", mock.Anything, mock.Anything).Return(evt, nil)
	f.events.On("Register", mock.Anything, "stripe", "evt_8", gateway.EventPaymentCanceled).Return(true, nil)
	f.funding.On("FailFunding", mock.Anything, "pi_8", "abandoned").Return(true, nil)
	f.events.On("MarkProcessed", mock.Anything, "stripe", "evt_8").Return(nil)

	require.NoError(t, f.svc.Handle(context.Background(), []byte(`{}`), "sig"))
	f.funding.AssertExpectations(t)
}

func TestWebhookService_AccountUpdated(t *testing.T) {
	f := newWebhookFixture()
	account := &gateway.AccountStatus{AccountID: "acct_1", ChargesEnabled: true, PayoutsEnabled: true, DetailsSubmitted: true}
	evt := &gateway.Event{ID: "evt_3", Type: gateway.EventAccountUpdated, Account: account}

	f.gw.On("VerifyWebhook", mock.Anything, mock.Anything).Return(evt, nil)
	f.events.On("Register", mock.Anything, "stripe", "evt_3", gateway.EventAccountUpdated).Return(true, nil)
	f.accounts.On("HandleAccountUpdated", mock.Anything, account).Return(nil)
	f.events.On("MarkProcessed", mock.Anything, "stripe", "evt_3").Return(nil)

	require.NoError(t, f.svc.Handle(context.Background(), []byte(`{}`), "sig"))
	f.accounts.AssertExpectations(t)
}

func TestWebhookService_ErrorPolicy(t *testing.T) {
	cases := []struct {
		name       string
		err        error
		wantErr    bool
		markCalled bool
	}{
		{name: "database failure is retried", err: apperror.Wrap(errors.New("conn reset"), apperror.ErrCodeDatabaseError, "x"), wantErr: true},
		{name: "plain error is retried", err: errors.New("boom"), wantErr: true},
		{name: "unknown payment is acknowledged", err: apperror.ErrPaymentNotFound, markCalled: true},
		{name: "inconsistency is acknowledged", err: apperror.New(apperror.ErrCodeInconsistentState, "x"), markCalled: true},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f := newWebhookFixture()
			evt := &gateway.Event{ID: "evt_4", Type: gateway.EventPaymentSucceeded, PaymentReference: "pi_4"}

			f.gw.On("VerifyWebhook", mock.Anything, mock.Anything).Return(evt, nil)
			f.events.On("Register", mock.Anything, "stripe", "evt_4", mock.Anything).Return(true, nil)
			f.funding.On("ConfirmFunding", mock.Anything, "pi_4").Return(false, tc.err)
			f.events.On("MarkProcessed", mock.Anything, "stripe", "evt_4").Return(nil)

			err := f.svc.Handle(context.Background(), []byte(`{}`), "sig")

			if tc.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
			if tc.markCalled {
				f.events.AssertCalled(t, "MarkProcessed", mock.Anything, "stripe", "evt_4")
			} else {
				f.events.AssertNotCalled(t, "MarkProcessed", mock.Anything, mock.Anything, mock.Anything)
			}
		})
	}
}

func TestWebhookService_UnknownTypeAcknowledged(t *testing.T) {
	f := newWebhookFixture()
	evt := &gateway.Event{ID: "evt_5", Type: "charge.dispute.created"}

	f.gw.On("VerifyWebhook", mock.Anything, mock.Anything).Return(evt, nil)
	f.events.On("Register", mock.Anything, "stripe", "evt_5", mock.Anything).Return(true, nil)
	f.events.On("MarkProcessed", mock.Anything, "stripe", "evt_5").Return(nil)

	require.NoError(t, f.svc.Handle(context.Background(), []byte(`{}`), "sig"))
	f.events.AssertExpectations(t)
}
