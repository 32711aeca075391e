package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/stripe/stripe-go/v76"
	"github.com/stripe/stripe-go/v76/client"
	"github.com/stripe/stripe-go/v76/webhook"

	"github.com/ignatzorin/revmark-backend/internal/domain/valueobject"
)

// StripeGateway реализует PaymentGateway поверх Stripe Connect.
type StripeGateway struct {
	sc            *client.API
	webhookSecret string
}

// NewStripeGateway создаёт клиент Stripe с секретным ключом платформы.
func NewStripeGateway(secretKey, webhookSecret string) *StripeGateway {
	return &StripeGateway{
		sc:            client.New(secretKey, nil),
		webhookSecret: webhookSecret,
	}
}

// CreatePayment создаёт PaymentIntent с автоматическими способами оплаты.
func (g *StripeGateway) CreatePayment(ctx context.Context, in CreatePaymentInput) (*PaymentAuthorization, error) {
	params := &stripe.PaymentIntentParams{
		Amount:   stripe.Int64(in.Amount.Cents()),
		Currency: stripe.String(in.Currency),
		AutomaticPaymentMethods: &stripe.PaymentIntentAutomaticPaymentMethodsParams{
			Enabled: stripe.Bool(true),
		},
	}
	if in.Description != "" {
		params.Description = stripe.String(in.Description)
	}
	for k, v := range in.Metadata {
		params.AddMetadata(k, v)
	}
	if in.IdempotencyKey != "" {
		params.SetIdempotencyKey(in.IdempotencyKey)
	}
	params.Context = ctx

	pi, err := g.sc.PaymentIntents.New(params)
	if err != nil {
		return nil, classifyStripeError("create payment intent", err)
	}

	return &PaymentAuthorization{Reference: pi.ID, ClientSecret: pi.ClientSecret}, nil
}

// GetPayment возвращает состояние PaymentIntent.
func (g *StripeGateway) GetPayment(ctx context.Context, reference string) (*PaymentState, error) {
	params := &stripe.PaymentIntentParams{}
	params.Context = ctx

	pi, err := g.sc.PaymentIntents.Get(reference, params)
	if err != nil {
		return nil, classifyStripeError("get payment intent", err)
	}

	return paymentState(pi), nil
}

// CancelPayment отменяет PaymentIntent, который покупатель ещё не оплатил.
// Оплаченный платёж Stripe отменить не даст, вызывающий сверяет состояние через GetPayment.
func (g *StripeGateway) CancelPayment(ctx context.Context, reference string) error {
	params := &stripe.PaymentIntentCancelParams{
		CancellationReason: stripe.String("abandoned"),
	}
	params.Context = ctx

	if _, err := g.sc.PaymentIntents.Cancel(reference, params); err != nil {
		return classifyStripeError("cancel payment intent", err)
	}
	return nil
}

// Transfer переводит сумму на подключённый аккаунт продавца.
func (g *StripeGateway) Transfer(ctx context.Context, in TransferInput) (*Transfer, error) {
	params := &stripe.TransferParams{
		Amount:      stripe.Int64(in.Amount.Cents()),
		Currency:    stripe.String(in.Currency),
		Destination: stripe.String(in.Destination),
	}
	if in.TransferGroup != "" {
		params.TransferGroup = stripe.String(in.TransferGroup)
	}
	if in.IdempotencyKey != "" {
		params.SetIdempotencyKey(in.IdempotencyKey)
	}
	params.Context = ctx

	tr, err := g.sc.Transfers.New(params)
	if err != nil {
		return nil, classifyStripeError("create transfer", err)
	}

	return &Transfer{Reference: tr.ID, Amount: valueobject.Money(tr.Amount)}, nil
}

// Refund возвращает покупателю всю сумму платежа.
func (g *StripeGateway) Refund(ctx context.Context, in RefundInput) (*Refund, error) {
	params := &stripe.RefundParams{
		PaymentIntent: stripe.String(in.PaymentReference),
		Reason:        stripe.String(string(stripe.RefundReasonRequestedByCustomer)),
	}
	if in.Reason != "" {
		params.AddMetadata("reason", in.Reason)
	}
	if in.IdempotencyKey != "" {
		params.SetIdempotencyKey(in.IdempotencyKey)
	}
	params.Context = ctx

	rf, err := g.sc.Refunds.New(params)
	if err != nil {
		return nil, classifyStripeError("create refund", err)
	}

	return &Refund{
		Reference: rf.ID,
		Amount:    valueobject.Money(rf.Amount),
		Status:    string(rf.Status),
	}, nil
}

// CreateAccount создаёт Express аккаунт продавца с возможностью получать переводы.
func (g *StripeGateway) CreateAccount(ctx context.Context, in CreateAccountInput) (string, error) {
	params := &stripe.AccountParams{
		Type:    stripe.String(string(stripe.AccountTypeExpress)),
		Country: stripe.String(in.Country),
		Capabilities: &stripe.AccountCapabilitiesParams{
			Transfers: &stripe.AccountCapabilitiesTransfersParams{Requested: stripe.Bool(true)},
		},
	}
	if in.Email != "" {
		params.Email = stripe.String(in.Email)
	}
	params.Context = ctx

	acct, err := g.sc.Accounts.New(params)
	if err != nil {
		return "", classifyStripeError("create account", err)
	}

	return acct.ID, nil
}

// GetAccountStatus читает флаги готовности подключённого аккаунта.
func (g *StripeGateway) GetAccountStatus(ctx context.Context, accountID string) (*AccountStatus, error) {
	params := &stripe.AccountParams{}
	params.Context = ctx

	acct, err := g.sc.Accounts.GetByID(accountID, params)
	if err != nil {
		return nil, classifyStripeError("get account", err)
	}

	return accountStatus(acct), nil
}

// CreateOnboardingLink создаёт ссылку на анкету account_onboarding.
func (g *StripeGateway) CreateOnboardingLink(ctx context.Context, accountID, refreshURL, returnURL string) (*OnboardingLink, error) {
	params := &stripe.AccountLinkParams{
		Account:    stripe.String(accountID),
		RefreshURL: stripe.String(refreshURL),
		ReturnURL:  stripe.String(returnURL),
		Type:       stripe.String("account_onboarding"),
	}
	params.Context = ctx

	link, err := g.sc.AccountLinks.New(params)
	if err != nil {
		return nil, classifyStripeError("create account link", err)
	}

	return &OnboardingLink{URL: link.URL, ExpiresAt: time.Unix(link.ExpiresAt, 0).UTC()}, nil
}

// VerifyWebhook проверяет подпись Stripe-Signature и разбирает событие.
func (g *StripeGateway) VerifyWebhook(payload []byte, signature string) (*Event, error) {
	evt, err := webhook.ConstructEventWithOptions(payload, signature, g.webhookSecret, webhook.ConstructEventOptions{
		IgnoreAPIVersionMismatch: true,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}

	event := &Event{ID: evt.ID, Type: string(evt.Type)}

	switch event.Type {
	case EventPaymentSucceeded, EventPaymentFailed, EventPaymentCanceled:
		var pi stripe.PaymentIntent
		if err := json.Unmarshal(evt.Data.Raw, &pi); err != nil {
			return nil, fmt.Errorf("%w: payment intent payload: %v", ErrMalformedEvent, err)
		}
		state := paymentState(&pi)
		event.PaymentReference = state.Reference
		event.FailureReason = state.FailureReason
		if event.Type == EventPaymentCanceled && event.FailureReason == "" {
			event.FailureReason = "canceled"
		}
	case EventAccountUpdated:
		var acct stripe.Account
		if err := json.Unmarshal(evt.Data.Raw, &acct); err != nil {
			return nil, fmt.Errorf("%w: account payload: %v", ErrMalformedEvent, err)
		}
		event.Account = accountStatus(&acct)
	}

	return event, nil
}

func paymentState(pi *stripe.PaymentIntent) *PaymentState {
	state := &PaymentState{Reference: pi.ID, Outcome: OutcomePending}

	switch pi.Status {
	case stripe.PaymentIntentStatusSucceeded:
		state.Outcome = OutcomeSucceeded
	case stripe.PaymentIntentStatusCanceled:
		state.Outcome = OutcomeFailed
		state.FailureReason = string(pi.CancellationReason)
	}
	if pi.LastPaymentError != nil && pi.LastPaymentError.Msg != "" {
		state.FailureReason = pi.LastPaymentError.Msg
	}

	return state
}

func accountStatus(acct *stripe.Account) *AccountStatus {
	return &AccountStatus{
		AccountID:        acct.ID,
		ChargesEnabled:   acct.ChargesEnabled,
		PayoutsEnabled:   acct.PayoutsEnabled,
		DetailsSubmitted: acct.DetailsSubmitted,
	}
}

// classifyStripeError сводит ошибку Stripe к ошибкам шлюза.
func classifyStripeError(op string, err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return fmt.Errorf("stripe %s: %w", op, err)
	}

	var stripeErr *stripe.Error
	if !errors.As(err, &stripeErr) {
		return fmt.Errorf("stripe %s: %w: %v", op, ErrUnavailable, err)
	}

	switch {
	case stripeErr.Type == stripe.ErrorTypeCard:
		return fmt.Errorf("stripe %s: %w: %s", op, ErrDeclined, stripeErr.Msg)
	case stripeErr.Type == stripe.ErrorTypeInvalidRequest:
		return fmt.Errorf("stripe %s: %w: %s", op, ErrInvalidRequest, stripeErr.Msg)
	default:
		return fmt.Errorf("stripe %s: %w: %s", op, ErrUnavailable, stripeErr.Msg)
	}
}
