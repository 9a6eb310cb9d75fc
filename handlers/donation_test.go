package handlers

import (
	"bytes"
	"database/sql"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"

	"payment-svc/gateway"
	"payment-svc/ledger"
	"payment-svc/models"
)

var orderCols = []string{
	"id", "external_order_id", "session_id", "amount_cents", "currency", "status",
	"external_payment_id", "donor_name", "donor_email", "is_anonymous", "message",
	"created_at", "updated_at",
}

func testGateway() *gateway.Adapter {
	return gateway.New(gateway.Config{
		MerchantID:     "1211149",
		MerchantSecret: "test-merchant-secret",
		Currency:       "LKR",
		ReturnURL:      "https://example.com/donate/return",
		CancelURL:      "https://example.com/donate/cancel",
		NotifyURL:      "https://example.com/api/payments/notify",
	})
}

func setupDonationTest(t *testing.T) (sqlmock.Sqlmock, *gin.Engine, func()) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("Failed to create mock database: %v", err)
	}

	logger := zaptest.NewLogger(t, zaptest.Level(zap.InfoLevel))
	led := ledger.New(db, logger)
	handler := NewDonationHandler(led, testGateway(), "LKR", nil, logger)

	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.POST("/api/donations", handler.CreateDonation)
	router.GET("/api/donations/:orderId", handler.GetDonation)

	return mock, router, func() { db.Close() }
}

func TestDonationHandler_CreateDonation_Success(t *testing.T) {
	mock, router, closeDB := setupDonationTest(t)
	defer closeDB()

	rows := orderRowAt(1, "DON-1-0001", models.OrderStatusPending, "", 150000)
	mock.ExpectQuery("INSERT INTO orders").WillReturnRows(rows)

	reqBody := models.CreateDonationRequest{
		Amount:     1500.00,
		DonorName:  "Nimal Perera",
		DonorEmail: "nimal@example.com",
		Message:    "Keep it up",
	}
	body, _ := json.Marshal(reqBody)
	req := httptest.NewRequest("POST", "/api/donations", bytes.NewBuffer(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()

	router.ServeHTTP(w, req)

	if w.Code != http.StatusCreated {
		t.Fatalf("Expected status %d, got %d: %s", http.StatusCreated, w.Code, w.Body.String())
	}

	var resp struct {
		Success  bool `json:"success"`
		Donation struct {
			OrderID  string `json:"orderId"`
			Amount   string `json:"amount"`
			Currency string `json:"currency"`
		} `json:"donation"`
		PaymentData gateway.CheckoutParams `json:"paymentData"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if !resp.Success {
		t.Error("Expected success=true")
	}
	if resp.Donation.Amount != "1500.00" {
		t.Errorf("Expected amount 1500.00, got %s", resp.Donation.Amount)
	}
	if resp.PaymentData.Hash == "" {
		t.Error("Expected paymentData to carry the checkout hash")
	}
	if resp.PaymentData.OrderID != resp.Donation.OrderID {
		t.Errorf("Expected paymentData order_id %s to match donation orderId %s",
			resp.PaymentData.OrderID, resp.Donation.OrderID)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("Database expectations were not met: %v", err)
	}
}

func TestDonationHandler_CreateDonation_RejectsNonPositiveAmount(t *testing.T) {
	_, router, closeDB := setupDonationTest(t)
	defer closeDB()

	body := []byte(`{"amount": -50, "donorName": "x"}`)
	req := httptest.NewRequest("POST", "/api/donations", bytes.NewBuffer(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()

	router.ServeHTTP(w, req)

	if w.Code != http.StatusBadRequest {
		t.Errorf("Expected status %d, got %d", http.StatusBadRequest, w.Code)
	}
}

func TestDonationHandler_GetDonation_NotFound(t *testing.T) {
	mock, router, closeDB := setupDonationTest(t)
	defer closeDB()

	mock.ExpectQuery("SELECT (.+) FROM orders WHERE external_order_id = \\$1").
		WithArgs("DON-404-0001").
		WillReturnError(sql.ErrNoRows)

	req := httptest.NewRequest("GET", "/api/donations/DON-404-0001", nil)
	w := httptest.NewRecorder()

	router.ServeHTTP(w, req)

	if w.Code != http.StatusNotFound {
		t.Errorf("Expected status %d, got %d", http.StatusNotFound, w.Code)
	}
}
