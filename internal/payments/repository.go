package payments

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/coursemart/backend/internal/models"
)

// ErrUniqueViolation is returned when a write collides with a SUCCESS uniqueness index.
var ErrUniqueViolation = errors.New("unique violation")

const paymentColumns = `id, user_id, course_id, amount, amount_minor, currency, receipt_id, gateway_order_id,
	COALESCE(gateway_payment_id,''), status, COALESCE(method,''), COALESCE(description,''), COALESCE(receipt_key,''),
	created_at, updated_at`

// Repository is the PostgreSQL Store.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository creates a payments repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// Create inserts a PENDING record and fills ID and timestamps.
func (r *Repository) Create(ctx context.Context, p *models.Payment) error {
	const q = `INSERT INTO payments (id, user_id, course_id, amount, amount_minor, currency, receipt_id, gateway_order_id, status, description)
		VALUES (gen_random_uuid(), $1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING id, created_at, updated_at`
	p.Status = models.StatusPending
	return r.pool.QueryRow(ctx, q, p.UserID, p.CourseID, p.Amount, p.AmountMinor, p.Currency, p.ReceiptID,
		p.GatewayOrderID, p.Status.String(), p.Description).
		Scan(&p.ID, &p.CreatedAt, &p.UpdatedAt)
}

// GetByID returns a payment by ID.
func (r *Repository) GetByID(ctx context.Context, id uuid.UUID) (*models.Payment, error) {
	return r.getOne(ctx, `SELECT `+paymentColumns+` FROM payments WHERE id = $1`, id)
}

// GetByOrderAndUser returns the record for a gateway order owned by userID.
func (r *Repository) GetByOrderAndUser(ctx context.Context, orderID, userID string) (*models.Payment, error) {
	return r.getOne(ctx, `SELECT `+paymentColumns+` FROM payments WHERE gateway_order_id = $1 AND user_id = $2
		ORDER BY created_at LIMIT 1`, orderID, userID)
}

// FirstByOrderID returns the earliest record for a gateway order id, regardless of user.
func (r *Repository) FirstByOrderID(ctx context.Context, orderID string) (*models.Payment, error) {
	return r.getOne(ctx, `SELECT `+paymentColumns+` FROM payments WHERE gateway_order_id = $1
		ORDER BY created_at, id LIMIT 1`, orderID)
}

// FindSuccessByPaymentID returns the SUCCESS record holding a gateway payment id.
func (r *Repository) FindSuccessByPaymentID(ctx context.Context, paymentID string) (*models.Payment, error) {
	return r.getOne(ctx, `SELECT `+paymentColumns+` FROM payments WHERE gateway_payment_id = $1 AND status = 'SUCCESS'`, paymentID)
}

// MarkFailed sets FAILED unless the record is SUCCESS.
func (r *Repository) MarkFailed(ctx context.Context, id uuid.UUID, paymentID, description string) error {
	const q = `UPDATE payments
		SET status = 'FAILED', gateway_payment_id = COALESCE(NULLIF($2, ''), gateway_payment_id),
			description = $3, updated_at = NOW()
		WHERE id = $1 AND status <> 'SUCCESS'`
	_, err := r.pool.Exec(ctx, q, id, paymentID, description)
	return err
}

// MirrorStatus stores a gateway status verbatim unless the record is SUCCESS.
func (r *Repository) MirrorStatus(ctx context.Context, id uuid.UUID, status models.PaymentStatus, paymentID, description string) error {
	if status == models.StatusSuccess {
		return errors.New("mirror status cannot be SUCCESS")
	}
	const q = `UPDATE payments
		SET status = $2, gateway_payment_id = $3, description = $4, updated_at = NOW()
		WHERE id = $1 AND status <> 'SUCCESS'`
	_, err := r.pool.Exec(ctx, q, id, status.String(), paymentID, description)
	return err
}

// Concurrent writers that both pass NOT EXISTS collide on payments_one_success_per_order (23505).
const markSuccessSQL = `UPDATE payments p
	SET status = 'SUCCESS', gateway_payment_id = $2, method = $3, description = $4, updated_at = NOW()
	WHERE p.id = $1 AND p.status <> 'SUCCESS'
		AND NOT EXISTS (
			SELECT 1 FROM payments o
			WHERE o.gateway_order_id = p.gateway_order_id AND o.status = 'SUCCESS'
		)`

// MarkSuccess is the compare-and-swap that credits a payment. It affects at most one row.
func (r *Repository) MarkSuccess(ctx context.Context, id uuid.UUID, paymentID, method, description string) (bool, error) {
	tag, err := r.pool.Exec(ctx, markSuccessSQL, id, paymentID, method, description)
	if err != nil {
		if isUniqueViolation(err) {
			return false, ErrUniqueViolation
		}
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

// HasSuccessfulEnrollment reports whether userID holds a SUCCESS record for courseID.
func (r *Repository) HasSuccessfulEnrollment(ctx context.Context, userID, courseID string) (bool, error) {
	const q = `SELECT EXISTS (SELECT 1 FROM payments WHERE user_id = $1 AND course_id = $2 AND status = 'SUCCESS')`
	var ok bool
	err := r.pool.QueryRow(ctx, q, userID, courseID).Scan(&ok)
	return ok, err
}

// ListEnrolledCourseIDs returns distinct course ids the user has paid for, newest first.
func (r *Repository) ListEnrolledCourseIDs(ctx context.Context, userID string) ([]string, error) {
	const q = `SELECT course_id FROM payments WHERE user_id = $1 AND status = 'SUCCESS'
		GROUP BY course_id ORDER BY MAX(updated_at) DESC`
	rows, err := r.pool.Query(ctx, q, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var list []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		list = append(list, id)
	}
	return list, rows.Err()
}

// SetReceiptKey stores the archived receipt object key. It is not a status transition.
func (r *Repository) SetReceiptKey(ctx context.Context, id uuid.UUID, key string) error {
	_, err := r.pool.Exec(ctx, `UPDATE payments SET receipt_key = $2 WHERE id = $1`, id, key)
	return err
}

// ListCreatedBetween returns records created in [from, to), oldest first.
func (r *Repository) ListCreatedBetween(ctx context.Context, from, to time.Time) ([]*models.Payment, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+paymentColumns+` FROM payments
		WHERE created_at >= $1 AND created_at < $2 ORDER BY created_at`, from, to)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var list []*models.Payment
	for rows.Next() {
		p, err := scanPayment(rows)
		if err != nil {
			return nil, err
		}
		list = append(list, p)
	}
	return list, rows.Err()
}

func (r *Repository) getOne(ctx context.Context, q string, args ...interface{}) (*models.Payment, error) {
	p, err := scanPayment(r.pool.QueryRow(ctx, q, args...))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	return p, err
}

func scanPayment(row pgx.Row) (*models.Payment, error) {
	var p models.Payment
	var status string
	err := row.Scan(&p.ID, &p.UserID, &p.CourseID, &p.Amount, &p.AmountMinor, &p.Currency,
		&p.ReceiptID, &p.GatewayOrderID, &p.GatewayPaymentID, &status, &p.Method, &p.Description, &p.ReceiptKey,
		&p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return nil, err
	}
	p.Status = models.ParseStatus(status)
	return &p, nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
