package queue

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
)

const orderColumns = "id, order_number, job_id, preview_id, customer_name, customer_email, customer_phone, child_age, created_at"

// CreateOrder records an order and queues its full-book job in one
// transaction. The referenced preview must exist, be unexpired and completed.
func (s *Store) CreateOrder(ctx context.Context, req NewOrder) (*Order, *Job, error) {
	if strings.TrimSpace(req.CustomerName) == "" || strings.TrimSpace(req.CustomerEmail) == "" {
		return nil, nil, errors.New("customer name and email are required")
	}
	preview, err := s.GetPreview(ctx, req.PreviewToken)
	if err != nil {
		return nil, nil, err
	}
	if preview == nil {
		return nil, nil, ErrPreviewNotFound
	}
	if preview.Status != StatusCompleted {
		return nil, nil, fmt.Errorf("%w: preview is %s", ErrPreviewNotReady, preview.Status)
	}

	now := time.Now().UTC()
	timestamp := formatTime(now)
	number := newOrderNumber(now)
	var orderID, jobID int64

	err = s.withTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx,
			`INSERT INTO jobs (
                kind, token, template_id, child_name, photo_path, stylized_photo_path,
                source_preview_id, status, created_at, updated_at
            ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			KindFullBook,
			number,
			preview.TemplateID,
			preview.ChildName,
			preview.PhotoPath,
			nullableString(preview.StylizedPhotoPath),
			preview.ID,
			StatusQueued,
			timestamp,
			timestamp,
		)
		if err != nil {
			return fmt.Errorf("insert full book job: %w", err)
		}
		if jobID, err = res.LastInsertId(); err != nil {
			return fmt.Errorf("last insert id: %w", err)
		}

		res, err = tx.ExecContext(ctx,
			`INSERT INTO orders (
                order_number, job_id, preview_id, customer_name, customer_email,
                customer_phone, child_age, created_at
            ) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			number,
			jobID,
			preview.ID,
			strings.TrimSpace(req.CustomerName),
			strings.ToLower(strings.TrimSpace(req.CustomerEmail)),
			nullableString(strings.TrimSpace(req.CustomerPhone)),
			nullableInt64(int64(req.ChildAge)),
			timestamp,
		)
		if err != nil {
			return fmt.Errorf("insert order: %w", err)
		}
		orderID, err = res.LastInsertId()
		return err
	})
	if err != nil {
		return nil, nil, err
	}

	order, err := s.orderBy(ctx, `id = ?`, orderID)
	if err != nil {
		return nil, nil, err
	}
	job, err := s.GetByID(ctx, jobID)
	if err != nil {
		return nil, nil, err
	}
	return order, job, nil
}

// OrderByNumber fetches an order. A missing order returns nil, nil.
func (s *Store) OrderByNumber(ctx context.Context, number string) (*Order, error) {
	return s.orderBy(ctx, `order_number = ?`, strings.TrimSpace(number))
}

func (s *Store) orderBy(ctx context.Context, where string, arg any) (*Order, error) {
	row := s.db.QueryRowContext(ensureContext(ctx), `SELECT `+orderColumns+` FROM orders WHERE `+where, arg)
	var (
		order     Order
		previewID sql.NullInt64
		phone     sql.NullString
		childAge  sql.NullInt64
		created   string
	)
	err := row.Scan(&order.ID, &order.OrderNumber, &order.JobID, &previewID, &order.CustomerName,
		&order.CustomerEmail, &phone, &childAge, &created)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get order: %w", err)
	}
	order.PreviewID = previewID.Int64
	order.CustomerPhone = phone.String
	order.ChildAge = int(childAge.Int64)
	if t, err := parseTimeString(created); err == nil {
		order.CreatedAt = t
	}
	return &order, nil
}

// MatchesEmail reports whether email identifies the order's customer.
func (o *Order) MatchesEmail(email string) bool {
	if o == nil {
		return false
	}
	email = strings.TrimSpace(email)
	return email != "" && strings.EqualFold(o.CustomerEmail, email)
}
