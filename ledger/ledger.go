package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math/rand"
	"time"

	"github.com/lib/pq"
	"go.uber.org/zap"

	"payment-svc/models"
)

var (
	ErrNotFound          = errors.New("order not found")
	ErrInvalidTransition = errors.New("invalid status transition")
	ErrInvalidState      = errors.New("order is not in a valid state for this operation")
)

// transitions is the directed graph of legal status changes. COMPLETED and
// FAILED are reachable straight from PENDING because the gateway can settle a
// checkout before we ever observe PROCESSING.
var transitions = map[models.OrderStatus][]models.OrderStatus{
	models.OrderStatusPending: {
		models.OrderStatusProcessing,
		models.OrderStatusCompleted,
		models.OrderStatusFailed,
		models.OrderStatusCancelled,
	},
	models.OrderStatusProcessing: {
		models.OrderStatusCompleted,
		models.OrderStatusFailed,
	},
	models.OrderStatusCompleted: {
		models.OrderStatusRefunded,
	},
}

func canTransition(from, to models.OrderStatus) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

const orderColumns = `id, external_order_id, session_id, amount_cents, currency, status,
		external_payment_id, donor_name, donor_email, is_anonymous, message, created_at, updated_at`

// Ledger is the sole writer of order state. Every mutation goes through a
// compare-and-set UPDATE conditioned on the status the caller observed, so two
// concurrent webhook deliveries for the same order can never both commit.
type Ledger struct {
	db     *sql.DB
	logger *zap.Logger
}

func New(db *sql.DB, logger *zap.Logger) *Ledger {
	return &Ledger{db: db, logger: logger}
}

type CreateOrderParams struct {
	AmountCents int64
	Currency    string
	DonorName   string
	DonorEmail  string
	IsAnonymous bool
	Message     string
	SessionID   int
}

// CreateOrder inserts a new PENDING order with a freshly generated external
// order ID. Generation is retried on a unique-violation collision.
func (l *Ledger) CreateOrder(ctx context.Context, p CreateOrderParams) (models.Order, error) {
	var sessionID sql.NullInt64
	if p.SessionID > 0 {
		sessionID = sql.NullInt64{Int64: int64(p.SessionID), Valid: true}
	}

	const maxAttempts = 3
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		externalID := newExternalOrderID()

		row := l.db.QueryRowContext(ctx,
			`INSERT INTO orders (external_order_id, session_id, amount_cents, currency, status,
				donor_name, donor_email, is_anonymous, message)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
			RETURNING `+orderColumns,
			externalID, sessionID, p.AmountCents, p.Currency, models.OrderStatusPending,
			p.DonorName, p.DonorEmail, p.IsAnonymous, p.Message,
		)

		order, err := scanOrder(row)
		if err == nil {
			l.logger.Info("Order created",
				zap.Int("order_id", order.ID),
				zap.String("external_order_id", order.ExternalOrderID),
				zap.Int64("amount_cents", order.AmountCents),
			)
			return order, nil
		}

		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == "23505" && attempt < maxAttempts {
			l.logger.Warn("External order ID collision, regenerating",
				zap.String("external_order_id", externalID))
			continue
		}
		return models.Order{}, fmt.Errorf("failed to create order: %w", err)
	}
	return models.Order{}, fmt.Errorf("failed to create order: exhausted ID generation attempts")
}

func (l *Ledger) GetOrder(ctx context.Context, orderID int) (models.Order, error) {
	row := l.db.QueryRowContext(ctx,
		`SELECT `+orderColumns+` FROM orders WHERE id = $1`, orderID)
	order, err := scanOrder(row)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Order{}, ErrNotFound
	}
	if err != nil {
		return models.Order{}, fmt.Errorf("failed to get order: %w", err)
	}
	return order, nil
}

func (l *Ledger) GetOrderByExternalID(ctx context.Context, externalID string) (models.Order, error) {
	row := l.db.QueryRowContext(ctx,
		`SELECT `+orderColumns+` FROM orders WHERE external_order_id = $1`, externalID)
	order, err := scanOrder(row)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Order{}, ErrNotFound
	}
	if err != nil {
		return models.Order{}, fmt.Errorf("failed to get order: %w", err)
	}
	return order, nil
}

// GetPendingOrderBySession returns the open order attached to a session, if
// any. Used by the session-events consumer to void orders for cancelled
// sessions.
func (l *Ledger) GetPendingOrderBySession(ctx context.Context, sessionID int) (models.Order, error) {
	row := l.db.QueryRowContext(ctx,
		`SELECT `+orderColumns+` FROM orders WHERE session_id = $1 AND status = $2 ORDER BY id LIMIT 1`,
		sessionID, models.OrderStatusPending)
	order, err := scanOrder(row)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Order{}, ErrNotFound
	}
	if err != nil {
		return models.Order{}, fmt.Errorf("failed to get order: %w", err)
	}
	return order, nil
}

// ApplyStatus moves an order to newStatus if the transition graph allows it.
//
// Re-applying the status an order already holds is a no-op returning the
// current record, provided the payment IDs agree; this absorbs duplicate
// webhook delivery. The UPDATE is conditioned on the status read above it, so
// a concurrent writer losing the race is detected by zero rows coming back
// and resolved by re-reading.
//
// The second return reports whether this call committed the transition. It is
// false on the idempotent no-op and on a race lost to a writer applying the
// same change, so side effects tied to the transition fire exactly once
// across concurrent deliveries.
func (l *Ledger) ApplyStatus(ctx context.Context, orderID int, newStatus models.OrderStatus, externalPaymentID string) (models.Order, bool, error) {
	cur, err := l.GetOrder(ctx, orderID)
	if err != nil {
		return models.Order{}, false, err
	}

	if sameApplication(cur, newStatus, externalPaymentID) {
		return cur, false, nil
	}

	if !canTransition(cur.Status, newStatus) {
		return models.Order{}, false, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, cur.Status, newStatus)
	}

	updated, committed, err := l.compareAndSet(ctx, cur, newStatus, externalPaymentID, "")
	if err != nil {
		return models.Order{}, false, err
	}

	if committed {
		l.logger.Info("Order status applied",
			zap.Int("order_id", orderID),
			zap.String("from", string(cur.Status)),
			zap.String("to", string(updated.Status)),
			zap.String("payment_id", externalPaymentID),
		)
	}
	return updated, committed, nil
}

// VoidOrder cancels an order that has not started payment. Only PENDING
// orders can be voided.
func (l *Ledger) VoidOrder(ctx context.Context, orderID int, reason string) (models.Order, error) {
	cur, err := l.GetOrder(ctx, orderID)
	if err != nil {
		return models.Order{}, err
	}

	if cur.Status != models.OrderStatusPending {
		return models.Order{}, fmt.Errorf("%w: cannot void order in status %s", ErrInvalidState, cur.Status)
	}

	updated, _, err := l.compareAndSet(ctx, cur, models.OrderStatusCancelled, "", reason)
	if err != nil {
		return models.Order{}, err
	}

	l.logger.Info("Order voided",
		zap.Int("order_id", orderID),
		zap.String("reason", reason),
	)
	return updated, nil
}

// MarkCompletedManually is the admin override for payments confirmed out of
// band. Idempotent when the order is already COMPLETED with a matching
// payment ID.
func (l *Ledger) MarkCompletedManually(ctx context.Context, orderID int, externalPaymentID string) (models.Order, error) {
	cur, err := l.GetOrder(ctx, orderID)
	if err != nil {
		return models.Order{}, err
	}

	if sameApplication(cur, models.OrderStatusCompleted, externalPaymentID) {
		return cur, nil
	}

	if cur.Status != models.OrderStatusPending && cur.Status != models.OrderStatusProcessing {
		return models.Order{}, fmt.Errorf("%w: cannot complete order in status %s", ErrInvalidState, cur.Status)
	}

	updated, _, err := l.compareAndSet(ctx, cur, models.OrderStatusCompleted, externalPaymentID, "")
	if err != nil {
		return models.Order{}, err
	}

	l.logger.Info("Order completed manually",
		zap.Int("order_id", orderID),
		zap.String("payment_id", externalPaymentID),
	)
	return updated, nil
}

// compareAndSet commits the transition with an UPDATE conditioned on the
// observed status. Zero rows back means another writer got there first; the
// race is resolved by re-reading and checking whether the other writer
// applied the same change. The bool reports whether this call's UPDATE is
// the one that committed.
func (l *Ledger) compareAndSet(ctx context.Context, cur models.Order, newStatus models.OrderStatus, externalPaymentID, cancelReason string) (models.Order, bool, error) {
	row := l.db.QueryRowContext(ctx,
		`UPDATE orders
		SET status = $1,
			external_payment_id = CASE WHEN $2 <> '' THEN $2 ELSE external_payment_id END,
			cancel_reason = CASE WHEN $3 <> '' THEN $3 ELSE cancel_reason END,
			updated_at = CURRENT_TIMESTAMP
		WHERE id = $4 AND status = $5
		RETURNING `+orderColumns,
		newStatus, externalPaymentID, cancelReason, cur.ID, cur.Status,
	)

	updated, err := scanOrder(row)
	if errors.Is(err, sql.ErrNoRows) {
		// Lost the race. If the winner applied the same transition this is a
		// duplicate delivery, not a conflict; the winner owns the commit.
		after, rerr := l.GetOrder(ctx, cur.ID)
		if rerr != nil {
			return models.Order{}, false, rerr
		}
		if sameApplication(after, newStatus, externalPaymentID) {
			return after, false, nil
		}
		return models.Order{}, false, fmt.Errorf("%w: %s -> %s (concurrent update moved order to %s)",
			ErrInvalidTransition, cur.Status, newStatus, after.Status)
	}
	if err != nil {
		return models.Order{}, false, fmt.Errorf("failed to update order: %w", err)
	}
	return updated, true, nil
}

// sameApplication reports whether applying newStatus with the given payment
// ID would repeat the state the order already holds.
func sameApplication(cur models.Order, newStatus models.OrderStatus, externalPaymentID string) bool {
	if cur.Status != newStatus {
		return false
	}
	return externalPaymentID == "" || cur.ExternalPaymentID == externalPaymentID
}

func newExternalOrderID() string {
	return fmt.Sprintf("DON-%d-%04d", time.Now().UnixNano(), rand.Intn(10000))
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanOrder(row rowScanner) (models.Order, error) {
	var (
		order      models.Order
		sessionID  sql.NullInt64
		paymentID  sql.NullString
		donorName  sql.NullString
		donorEmail sql.NullString
		message    sql.NullString
	)

	err := row.Scan(
		&order.ID, &order.ExternalOrderID, &sessionID, &order.AmountCents, &order.Currency,
		&order.Status, &paymentID, &donorName, &donorEmail, &order.IsAnonymous, &message,
		&order.CreatedAt, &order.UpdatedAt,
	)
	if err != nil {
		return models.Order{}, err
	}

	order.SessionID = int(sessionID.Int64)
	order.ExternalPaymentID = paymentID.String
	order.DonorName = donorName.String
	order.DonorEmail = donorEmail.String
	order.Message = message.String
	return order, nil
}
