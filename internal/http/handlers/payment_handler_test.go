package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/ignatzorin/revmark-backend/internal/domain/valueobject"
	"github.com/ignatzorin/revmark-backend/internal/models"
	"github.com/ignatzorin/revmark-backend/internal/pkg/apperror"
	"github.com/ignatzorin/revmark-backend/internal/service"
)

type mockEscrow struct {
	mock.Mock
}

func (m *mockEscrow) InitiateFunding(ctx context.Context, in service.InitiateFundingInput) (*service.InitiateFundingResult, error) {
	args := m.Called(ctx, in)
	res, _ := args.Get(0).(*service.InitiateFundingResult)
	return res, args.Error(1)
}

func (m *mockEscrow) Release(ctx context.Context, requestID, callerID uuid.UUID) (*service.ReleaseResult, error) {
	args := m.Called(ctx, requestID, callerID)
	res, _ := args.Get(0).(*service.ReleaseResult)
	return res, args.Error(1)
}

func (m *mockEscrow) Refund(ctx context.Context, requestID, callerID uuid.UUID, reason string) (*service.RefundResult, error) {
	args := m.Called(ctx, requestID, callerID, reason)
	res, _ := args.Get(0).(*service.RefundResult)
	return res, args.Error(1)
}

func (m *mockEscrow) History(ctx context.Context, requestID, callerID uuid.UUID) ([]models.EscrowPayment, error) {
	args := m.Called(ctx, requestID, callerID)
	res, _ := args.Get(0).([]models.EscrowPayment)
	return res, args.Error(1)
}

type mockWebhooks struct {
	mock.Mock
}

func (m *mockWebhooks) Handle(ctx context.Context, payload []byte, signature string) error {
	return m.Called(ctx, payload, signature).Error(0)
}

// withUser подставляет авторизованного пользователя, как это делает AuthMiddleware.
func withUser(userID uuid.UUID) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Set("userID", userID)
		c.Next()
	}
}

func postJSON(r http.Handler, path string, body interface{}) *httptest.ResponseRecorder {
	raw, _ := json.Marshal(body)
	req, _ := http.NewRequest(http.MethodPost, path, bytes.NewReader(raw))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestPaymentHandler_CreateIntent_Unauthorized(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	handler := &PaymentHandler{escrow: nil}
	r.POST("/api/payment/create-intent", handler.CreateIntent)

	req, _ := http.NewRequest("POST", "/api/payment/create-intent", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestPaymentHandler_CreateIntent(t *testing.T) {
	gin.SetMode(gin.TestMode)
	buyerID, requestID, sellerID := uuid.New(), uuid.New(), uuid.New()
	paymentID := uuid.New()

	escrow := new(mockEscrow)
	escrow.On("InitiateFunding", mock.Anything, service.InitiateFundingInput{
		RequestID: requestID,
		BuyerID:   buyerID,
		SellerID:  &sellerID,
		Amount:    valueobject.Money(10000),
	}).Return(&service.InitiateFundingResult{
		PaymentID:    paymentID,
		ClientSecret: "pi_1_secret_2",
		Amount:       10000,
		PlatformFee:  500,
		SellerAmount: 9500,
	}, nil)

	r := gin.New()
	r.POST("/api/payment/create-intent", withUser(buyerID), NewPaymentHandler(escrow, nil).CreateIntent)

	w := postJSON(r, "/api/payment/create-intent", map[string]interface{}{
		"request_id": requestID.String(),
		"seller_id":  sellerID.String(),
		"amount":     100,
	})

	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{
		"client_secret": "pi_1_secret_2",
		"payment_intent_id": "`+paymentID.String()+`",
		"amount": 100.00,
		"platform_fee": 5.00,
		"seller_amount": 95.00
	}`, w.Body.String())
	escrow.AssertExpectations(t)
}

func TestPaymentHandler_CreateIntent_InvalidRequestID(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.POST("/api/payment/create-intent", withUser(uuid.New()), NewPaymentHandler(new(mockEscrow), nil).CreateIntent)

	w := postJSON(r, "/api/payment/create-intent", map[string]interface{}{
		"request_id": "not-a-uuid",
		"amount":     10,
	})

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestPaymentHandler_ErrorMapping(t *testing.T) {
	gin.SetMode(gin.TestMode)

	cases := []struct {
		name   string
		err    error
		status int
		code   string
	}{
		{"not buyer", apperror.ErrNotBuyer, http.StatusForbidden, "FORBIDDEN"},
		{"wrong status", apperror.ErrStatusConflict, http.StatusConflict, "CONFLICT"},
		{"not found", apperror.ErrRequestNotFound, http.StatusNotFound, "NOT_FOUND"},
		{"declined", apperror.New(apperror.ErrCodePaymentDeclined, "карта отклонена"), http.StatusPaymentRequired, "PAYMENT_DECLINED"},
		{"gateway down", apperror.New(apperror.ErrCodeGatewayUnavailable, "шлюз недоступен"), http.StatusServiceUnavailable, "GATEWAY_UNAVAILABLE"},
		{"timeout", apperror.New(apperror.ErrCodeGatewayTimeout, "таймаут"), http.StatusGatewayTimeout, "GATEWAY_TIMEOUT"},
		{"inconsistent", apperror.New(apperror.ErrCodeInconsistentState, "рассогласование"), http.StatusInternalServerError, "INCONSISTENT_STATE"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			buyerID, requestID := uuid.New(), uuid.New()
			escrow := new(mockEscrow)
			escrow.On("Release", mock.Anything, requestID, buyerID).Return(nil, tc.err)

			r := gin.New()
			r.POST("/api/payment/release", withUser(buyerID), NewPaymentHandler(escrow, nil).Release)

			w := postJSON(r, "/api/payment/release", map[string]string{"request_id": requestID.String()})

			assert.Equal(t, tc.status, w.Code)
			assert.Contains(t, w.Body.String(), `"code":"`+tc.code+`"`)
		})
	}
}

func TestPaymentHandler_Refund(t *testing.T) {
	gin.SetMode(gin.TestMode)
	buyerID, requestID := uuid.New(), uuid.New()

	escrow := new(mockEscrow)
	escrow.On("Refund", mock.Anything, requestID, buyerID, "seller unresponsive").Return(&service.RefundResult{
		RefundID:       "re_1",
		AmountRefunded: 10000,
		Status:         "succeeded",
	}, nil)

	r := gin.New()
	r.POST("/api/payment/refund", withUser(buyerID), NewPaymentHandler(escrow, nil).Refund)

	w := postJSON(r, "/api/payment/refund", map[string]string{
		"request_id": requestID.String(),
		"reason":     "seller unresponsive",
	})

	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"refund_id":"re_1"`)
	assert.Contains(t, w.Body.String(), `"amount_refunded":100.00`)
}

func TestPaymentHandler_History_InvalidRequestID(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.GET("/api/payment/history/:request_id", withUser(uuid.New()), NewPaymentHandler(new(mockEscrow), nil).History)

	req, _ := http.NewRequest("GET", "/api/payment/history/invalid-uuid", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestPaymentHandler_Webhook(t *testing.T) {
	gin.SetMode(gin.TestMode)
	payload := `{"id":"evt_1","type":"payment_intent.succeeded"}`

	cases := []struct {
		name   string
		err    error
		status int
	}{
		{"processed", nil, http.StatusOK},
		{"bad signature", apperror.New(apperror.ErrCodeInvalidSignature, "неверная подпись"), http.StatusBadRequest},
		{"transient", apperror.New(apperror.ErrCodeDatabaseError, "db"), http.StatusInternalServerError},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			webhooks := new(mockWebhooks)
			webhooks.On("Handle", mock.Anything, []byte(payload), "t=1,v1=abc").Return(tc.err)

			r := gin.New()
			r.POST("/webhook", NewPaymentHandler(nil, webhooks).Webhook)

			req, _ := http.NewRequest("POST", "/webhook", strings.NewReader(payload))
			req.Header.Set("Stripe-Signature", "t=1,v1=abc")
			w := httptest.NewRecorder()
			r.ServeHTTP(w, req)

			assert.Equal(t, tc.status, w.Code)
			webhooks.AssertExpectations(t)
		})
	}
}
