package gateway

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stripe/stripe-go/v76"
)

const testWebhookSecret = "whsec_test"

func signPayload(t *testing.T, payload []byte, secret string, ts time.Time) string {
	t.Helper()
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(fmt.Sprintf("%d.", ts.Unix())))
	mac.Write(payload)
	return fmt.Sprintf("t=%d,v1=%s", ts.Unix(), hex.EncodeToString(mac.Sum(nil)))
}

func TestStripeGateway_VerifyWebhook_PaymentSucceeded(t *testing.T) {
	g := NewStripeGateway("sk_test", testWebhookSecret)
	payload := []byte(`{"id":"evt_1","object":"event","type":"payment_intent.succeeded","data":{"object":{"id":"pi_123","object":"payment_intent","status":"succeeded"}}}`)

	event, err := g.VerifyWebhook(payload, signPayload(t, payload, testWebhookSecret, time.Now()))
	require.NoError(t, err)
	assert.Equal(t, "evt_1", event.ID)
	assert.Equal(t, EventPaymentSucceeded, event.Type)
	assert.Equal(t, "pi_123", event.PaymentReference)
	assert.Empty(t, event.FailureReason)
}

func TestStripeGateway_VerifyWebhook_PaymentFailedReason(t *testing.T) {
	g := NewStripeGateway("sk_test", testWebhookSecret)
	payload := []byte(`{"id":"evt_2","object":"event","type":"payment_intent.payment_failed","data":{"object":{"id":"pi_9","object":"payment_intent","status":"requires_payment_method","last_payment_error":{"message":"Your card was declined."}}}}`)

	event, err := g.VerifyWebhook(payload, signPayload(t, payload, testWebhookSecret, time.Now()))
	require.NoError(t, err)
	assert.Equal(t, "pi_9", event.PaymentReference)
	assert.Equal(t, "Your card was declined.", event.FailureReason)
}

func TestStripeGateway_VerifyWebhook_AccountUpdated(t *testing.T) {
	g := NewStripeGateway("sk_test", testWebhookSecret)
	payload := []byte(`{"id":"evt_3","object":"event","type":"account.updated","data":{"object":{"id":"acct_1","object":"account","charges_enabled":true,"payouts_enabled":true,"details_submitted":true}}}`)

	event, err := g.VerifyWebhook(payload, signPayload(t, payload, testWebhookSecret, time.Now()))
	require.NoError(t, err)
	require.NotNil(t, event.Account)
	assert.Equal(t, "acct_1", event.Account.AccountID)
	assert.True(t, event.Account.OnboardingComplete())
}

func TestStripeGateway_VerifyWebhook_BadSignature(t *testing.T) {
	g := NewStripeGateway("sk_test", testWebhookSecret)
	payload := []byte(`{"id":"evt_1","object":"event","type":"payment_intent.succeeded","data":{"object":{"id":"pi_123"}}}`)

	_, err := g.VerifyWebhook(payload, signPayload(t, payload, "whsec_other", time.Now()))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInvalidSignature)

	_, err = g.VerifyWebhook(payload, "")
	assert.ErrorIs(t, err, ErrInvalidSignature)
}

func TestStripeGateway_VerifyWebhook_StaleTimestamp(t *testing.T) {
	g := NewStripeGateway("sk_test", testWebhookSecret)
	payload := []byte(`{"id":"evt_1","object":"event","type":"payment_intent.succeeded","data":{"object":{"id":"pi_123"}}}`)

	_, err := g.VerifyWebhook(payload, signPayload(t, payload, testWebhookSecret, time.Now().Add(-time.Hour)))
	assert.ErrorIs(t, err, ErrInvalidSignature)
}

func TestStripeGateway_VerifyWebhook_MalformedPayload(t *testing.T) {
	g := NewStripeGateway("sk_test", testWebhookSecret)
	payload := []byte(`{"id":"evt_4","object":"event","type":"payment_intent.succeeded","data":{"object":{"id":"pi_123","object":"payment_intent","amount":"ten"}}}`)

	_, err := g.VerifyWebhook(payload, signPayload(t, payload, testWebhookSecret, time.Now()))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrMalformedEvent)
	assert.NotErrorIs(t, err, ErrInvalidSignature)
}

func TestClassifyStripeError(t *testing.T) {
	declined := classifyStripeError("create transfer", &stripe.Error{Type: stripe.ErrorTypeCard, Msg: "declined"})
	assert.ErrorIs(t, declined, ErrDeclined)

	invalid := classifyStripeError("create transfer", &stripe.Error{Type: stripe.ErrorTypeInvalidRequest, Msg: "no such account"})
	assert.ErrorIs(t, invalid, ErrInvalidRequest)

	api := classifyStripeError("create transfer", &stripe.Error{Type: stripe.ErrorTypeAPI, Msg: "oops"})
	assert.ErrorIs(t, api, ErrUnavailable)

	network := classifyStripeError("create transfer", fmt.Errorf("dial tcp: connection refused"))
	assert.ErrorIs(t, network, ErrUnavailable)
}
