package handlers

import (
	"time"

	"github.com/DATA-DOG/go-sqlmock"

	"payment-svc/models"
)

func orderRowAt(id int, externalID string, status models.OrderStatus, paymentID string, amountCents int64) *sqlmock.Rows {
	var pid interface{}
	if paymentID != "" {
		pid = paymentID
	}
	now := time.Now()
	return sqlmock.NewRows(orderCols).
		AddRow(id, externalID, nil, amountCents, "LKR", status, pid, "Nimal Perera",
			"nimal@example.com", false, nil, now, now)
}
