package ledger

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"

	"payment-svc/models"
)

var orderCols = []string{
	"id", "external_order_id", "session_id", "amount_cents", "currency", "status",
	"external_payment_id", "donor_name", "donor_email", "is_anonymous", "message",
	"created_at", "updated_at",
}

func setupLedgerTest(t *testing.T) (*Ledger, sqlmock.Sqlmock, func()) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("Failed to create mock database: %v", err)
	}

	logger := zaptest.NewLogger(t, zaptest.Level(zap.InfoLevel))
	return New(db, logger), mock, func() { db.Close() }
}

func orderRow(id int, externalID string, status models.OrderStatus, paymentID string) *sqlmock.Rows {
	var pid interface{}
	if paymentID != "" {
		pid = paymentID
	}
	now := time.Now()
	return sqlmock.NewRows(orderCols).
		AddRow(id, externalID, nil, int64(100000), "LKR", status, pid, "Nimal Perera",
			"nimal@example.com", false, nil, now, now)
}

func TestCreateOrder_Success(t *testing.T) {
	led, mock, closeDB := setupLedgerTest(t)
	defer closeDB()

	mock.ExpectQuery("INSERT INTO orders").
		WillReturnRows(orderRow(1, "DON-1-0001", models.OrderStatusPending, ""))

	order, err := led.CreateOrder(context.Background(), CreateOrderParams{
		AmountCents: 100000,
		Currency:    "LKR",
		DonorName:   "Nimal Perera",
		DonorEmail:  "nimal@example.com",
	})
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	if order.Status != models.OrderStatusPending {
		t.Errorf("Expected status PENDING, got %s", order.Status)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("Database expectations were not met: %v", err)
	}
}

func TestApplyStatus_PendingToCompleted(t *testing.T) {
	led, mock, closeDB := setupLedgerTest(t)
	defer closeDB()

	mock.ExpectQuery("SELECT (.+) FROM orders WHERE id = \\$1").
		WithArgs(1).
		WillReturnRows(orderRow(1, "DON-1-0001", models.OrderStatusPending, ""))
	mock.ExpectQuery("UPDATE orders").
		WithArgs(string(models.OrderStatusCompleted), "320025171", "", 1, string(models.OrderStatusPending)).
		WillReturnRows(orderRow(1, "DON-1-0001", models.OrderStatusCompleted, "320025171"))

	order, committed, err := led.ApplyStatus(context.Background(), 1, models.OrderStatusCompleted, "320025171")
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	if !committed {
		t.Error("Expected this call to commit the transition")
	}
	if order.Status != models.OrderStatusCompleted {
		t.Errorf("Expected status COMPLETED, got %s", order.Status)
	}
	if order.ExternalPaymentID != "320025171" {
		t.Errorf("Expected payment ID to be set, got %q", order.ExternalPaymentID)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("Database expectations were not met: %v", err)
	}
}

func TestApplyStatus_IdempotentReapply(t *testing.T) {
	led, mock, closeDB := setupLedgerTest(t)
	defer closeDB()

	// Already COMPLETED with the same payment ID: no UPDATE expected.
	mock.ExpectQuery("SELECT (.+) FROM orders WHERE id = \\$1").
		WithArgs(1).
		WillReturnRows(orderRow(1, "DON-1-0001", models.OrderStatusCompleted, "320025171"))

	order, committed, err := led.ApplyStatus(context.Background(), 1, models.OrderStatusCompleted, "320025171")
	if err != nil {
		t.Fatalf("Expected idempotent re-apply to succeed, got %v", err)
	}
	if committed {
		t.Error("Expected idempotent re-apply to report no commit")
	}
	if order.Status != models.OrderStatusCompleted {
		t.Errorf("Expected status COMPLETED, got %s", order.Status)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("Database expectations were not met: %v", err)
	}
}

func TestApplyStatus_RefundedFromPendingRejected(t *testing.T) {
	led, mock, closeDB := setupLedgerTest(t)
	defer closeDB()

	mock.ExpectQuery("SELECT (.+) FROM orders WHERE id = \\$1").
		WithArgs(1).
		WillReturnRows(orderRow(1, "DON-1-0001", models.OrderStatusPending, ""))

	_, _, err := led.ApplyStatus(context.Background(), 1, models.OrderStatusRefunded, "")
	if !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("Expected ErrInvalidTransition, got %v", err)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("Database expectations were not met: %v", err)
	}
}

func TestApplyStatus_NotFound(t *testing.T) {
	led, mock, closeDB := setupLedgerTest(t)
	defer closeDB()

	mock.ExpectQuery("SELECT (.+) FROM orders WHERE id = \\$1").
		WithArgs(999).
		WillReturnError(sql.ErrNoRows)

	_, _, err := led.ApplyStatus(context.Background(), 999, models.OrderStatusCompleted, "x")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("Expected ErrNotFound, got %v", err)
	}
}

func TestApplyStatus_LostRaceSameTransition(t *testing.T) {
	led, mock, closeDB := setupLedgerTest(t)
	defer closeDB()

	// Read sees PENDING, but a concurrent delivery commits the same COMPLETED
	// transition before our UPDATE lands. The re-read resolves it as a
	// duplicate, not an error, and the commit is attributed to the winner.
	mock.ExpectQuery("SELECT (.+) FROM orders WHERE id = \\$1").
		WithArgs(1).
		WillReturnRows(orderRow(1, "DON-1-0001", models.OrderStatusPending, ""))
	mock.ExpectQuery("UPDATE orders").
		WillReturnError(sql.ErrNoRows)
	mock.ExpectQuery("SELECT (.+) FROM orders WHERE id = \\$1").
		WithArgs(1).
		WillReturnRows(orderRow(1, "DON-1-0001", models.OrderStatusCompleted, "320025171"))

	order, committed, err := led.ApplyStatus(context.Background(), 1, models.OrderStatusCompleted, "320025171")
	if err != nil {
		t.Fatalf("Expected lost race with same payload to resolve cleanly, got %v", err)
	}
	if committed {
		t.Error("Expected the losing delivery to report no commit")
	}
	if order.Status != models.OrderStatusCompleted {
		t.Errorf("Expected status COMPLETED, got %s", order.Status)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("Database expectations were not met: %v", err)
	}
}

func TestApplyStatus_LostRaceConflictingTransition(t *testing.T) {
	led, mock, closeDB := setupLedgerTest(t)
	defer closeDB()

	mock.ExpectQuery("SELECT (.+) FROM orders WHERE id = \\$1").
		WithArgs(1).
		WillReturnRows(orderRow(1, "DON-1-0001", models.OrderStatusPending, ""))
	mock.ExpectQuery("UPDATE orders").
		WillReturnError(sql.ErrNoRows)
	mock.ExpectQuery("SELECT (.+) FROM orders WHERE id = \\$1").
		WithArgs(1).
		WillReturnRows(orderRow(1, "DON-1-0001", models.OrderStatusFailed, ""))

	_, _, err := led.ApplyStatus(context.Background(), 1, models.OrderStatusCompleted, "320025171")
	if !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("Expected ErrInvalidTransition after losing race to a conflicting write, got %v", err)
	}
}

func TestGetPendingOrderBySession_OldestFirst(t *testing.T) {
	led, mock, closeDB := setupLedgerTest(t)
	defer closeDB()

	// Deterministic pick if a session ever carries more than one PENDING order.
	mock.ExpectQuery("SELECT (.+) FROM orders WHERE session_id = \\$1 AND status = \\$2 ORDER BY id LIMIT 1").
		WithArgs(7, string(models.OrderStatusPending)).
		WillReturnRows(orderRow(1, "DON-1-0001", models.OrderStatusPending, ""))

	order, err := led.GetPendingOrderBySession(context.Background(), 7)
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	if order.ID != 1 {
		t.Errorf("Expected order 1, got %d", order.ID)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("Database expectations were not met: %v", err)
	}
}

func TestVoidOrder_FromPending(t *testing.T) {
	led, mock, closeDB := setupLedgerTest(t)
	defer closeDB()

	mock.ExpectQuery("SELECT (.+) FROM orders WHERE id = \\$1").
		WithArgs(1).
		WillReturnRows(orderRow(1, "DON-1-0001", models.OrderStatusPending, ""))
	mock.ExpectQuery("UPDATE orders").
		WithArgs(string(models.OrderStatusCancelled), "", "session cancelled", 1, string(models.OrderStatusPending)).
		WillReturnRows(orderRow(1, "DON-1-0001", models.OrderStatusCancelled, ""))

	order, err := led.VoidOrder(context.Background(), 1, "session cancelled")
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	if order.Status != models.OrderStatusCancelled {
		t.Errorf("Expected status CANCELLED, got %s", order.Status)
	}
}

func TestVoidOrder_RejectedWhenCompleted(t *testing.T) {
	led, mock, closeDB := setupLedgerTest(t)
	defer closeDB()

	mock.ExpectQuery("SELECT (.+) FROM orders WHERE id = \\$1").
		WithArgs(1).
		WillReturnRows(orderRow(1, "DON-1-0001", models.OrderStatusCompleted, "320025171"))

	_, err := led.VoidOrder(context.Background(), 1, "changed my mind")
	if !errors.Is(err, ErrInvalidState) {
		t.Errorf("Expected ErrInvalidState, got %v", err)
	}
}

func TestMarkCompletedManually_FromProcessing(t *testing.T) {
	led, mock, closeDB := setupLedgerTest(t)
	defer closeDB()

	mock.ExpectQuery("SELECT (.+) FROM orders WHERE id = \\$1").
		WithArgs(1).
		WillReturnRows(orderRow(1, "DON-1-0001", models.OrderStatusProcessing, ""))
	mock.ExpectQuery("UPDATE orders").
		WillReturnRows(orderRow(1, "DON-1-0001", models.OrderStatusCompleted, "MANUAL-1"))

	order, err := led.MarkCompletedManually(context.Background(), 1, "MANUAL-1")
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	if order.Status != models.OrderStatusCompleted {
		t.Errorf("Expected status COMPLETED, got %s", order.Status)
	}
}

func TestMarkCompletedManually_RejectedWhenRefunded(t *testing.T) {
	led, mock, closeDB := setupLedgerTest(t)
	defer closeDB()

	mock.ExpectQuery("SELECT (.+) FROM orders WHERE id = \\$1").
		WithArgs(1).
		WillReturnRows(orderRow(1, "DON-1-0001", models.OrderStatusRefunded, "320025171"))

	_, err := led.MarkCompletedManually(context.Background(), 1, "")
	if !errors.Is(err, ErrInvalidState) {
		t.Errorf("Expected ErrInvalidState, got %v", err)
	}
}
