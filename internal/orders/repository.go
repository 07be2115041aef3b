package orders

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"

	"procureflow/internal/domain"
)

type OrderRepository struct {
	db *sql.DB
}

func NewOrderRepository(db *sql.DB) *OrderRepository {
	return &OrderRepository{db: db}
}

type MaterializeParams struct {
	NegotiationID string
	BuyerID       string
	SellerID      string
	ProductID     string
	Quantity      int
	Unit          string
	FinalPrice    int64
}

// Materialize creates the order for an accepted negotiation. The unique
// constraint on negotiation_id makes it idempotent: a replay returns the
// existing order and reports created=false.
func (r *OrderRepository) Materialize(ctx context.Context, params MaterializeParams) (*domain.Order, bool, error) {
	now := time.Now().UTC()
	order := &domain.Order{
		ID:            uuid.New().String(),
		NegotiationID: params.NegotiationID,
		BuyerID:       params.BuyerID,
		SellerID:      params.SellerID,
		ProductID:     params.ProductID,
		Quantity:      params.Quantity,
		Unit:          params.Unit,
		FinalPrice:    params.FinalPrice,
		TotalPrice:    params.FinalPrice * int64(params.Quantity),
		Status:        domain.OrderStatusConfirmed,
		CreatedAt:     now,
		UpdatedAt:     now,
	}

	result, err := r.db.ExecContext(ctx, `
		INSERT INTO orders (id, negotiation_id, buyer_id, seller_id, product_id,
			quantity, unit, final_price, total_price, status, logistics_status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, '', $11, $11)
		ON CONFLICT (negotiation_id) DO NOTHING
	`, order.ID, order.NegotiationID, order.BuyerID, order.SellerID, order.ProductID,
		order.Quantity, order.Unit, order.FinalPrice, order.TotalPrice, order.Status, now)
	if err != nil {
		return nil, false, err
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return nil, false, err
	}

	if rowsAffected == 0 {
		existing, err := r.GetByNegotiationID(ctx, params.NegotiationID)
		if err != nil {
			return nil, false, err
		}
		if existing == nil {
			return nil, false, domain.ErrNotFound
		}
		return existing, false, nil
	}

	return order, true, nil
}

// RecordPayment transitions confirmed to completed, after which the order is
// eligible for invoicing.
func (r *OrderRepository) RecordPayment(ctx context.Context, id string) (*domain.Order, error) {
	return r.transition(ctx, id, func(order *domain.Order) error {
		next, err := domain.NextStatusOnPayment(order.Status)
		if err != nil {
			return err
		}
		order.Status = next
		return nil
	})
}

// Cancel moves any non-terminal order to cancelled. Cancelling a cancelled
// order succeeds without change.
func (r *OrderRepository) Cancel(ctx context.Context, id string) (*domain.Order, error) {
	return r.transition(ctx, id, func(order *domain.Order) error {
		next, err := domain.NextStatusOnCancel(order.Status)
		if err != nil {
			return err
		}
		order.Status = next
		return nil
	})
}

// SetLogistics records the advisory dispatched/delivered annotation.
func (r *OrderRepository) SetLogistics(ctx context.Context, id string, logistics domain.LogisticsStatus) (*domain.Order, error) {
	return r.transition(ctx, id, func(order *domain.Order) error {
		if err := domain.ValidateLogistics(order.Status, logistics); err != nil {
			return err
		}
		order.Logistics = logistics
		return nil
	})
}

// transition loads the order under a row lock, applies mutate, and persists
// status and logistics. Mutations on the same order are serialized.
func (r *OrderRepository) transition(ctx context.Context, id string, mutate func(*domain.Order) error) (*domain.Order, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	order := &domain.Order{}
	err = tx.QueryRowContext(ctx, `
		SELECT id, negotiation_id, buyer_id, seller_id, product_id, quantity, unit,
			final_price, total_price, status, logistics_status, created_at, updated_at
		FROM orders
		WHERE id = $1
		FOR UPDATE
	`, id).Scan(&order.ID, &order.NegotiationID, &order.BuyerID, &order.SellerID,
		&order.ProductID, &order.Quantity, &order.Unit, &order.FinalPrice, &order.TotalPrice,
		&order.Status, &order.Logistics, &order.CreatedAt, &order.UpdatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, domain.ErrNotFound
		}
		return nil, err
	}

	if err := mutate(order); err != nil {
		return nil, err
	}

	order.UpdatedAt = time.Now().UTC()
	_, err = tx.ExecContext(ctx, `
		UPDATE orders SET status = $2, logistics_status = $3, updated_at = $4
		WHERE id = $1
	`, order.ID, order.Status, order.Logistics, order.UpdatedAt)
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}

	return order, nil
}

func (r *OrderRepository) GetByID(ctx context.Context, id string) (*domain.Order, error) {
	return r.getBy(ctx, "id", id)
}

func (r *OrderRepository) GetByNegotiationID(ctx context.Context, negotiationID string) (*domain.Order, error) {
	return r.getBy(ctx, "negotiation_id", negotiationID)
}

func (r *OrderRepository) getBy(ctx context.Context, column, value string) (*domain.Order, error) {
	order := &domain.Order{}

	err := r.db.QueryRowContext(ctx, `
		SELECT id, negotiation_id, buyer_id, seller_id, product_id, quantity, unit,
			final_price, total_price, status, logistics_status, created_at, updated_at
		FROM orders
		WHERE `+column+` = $1
	`, value).Scan(&order.ID, &order.NegotiationID, &order.BuyerID, &order.SellerID,
		&order.ProductID, &order.Quantity, &order.Unit, &order.FinalPrice, &order.TotalPrice,
		&order.Status, &order.Logistics, &order.CreatedAt, &order.UpdatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}

	return order, nil
}

type ListFilter struct {
	Status  domain.OrderStatus
	PartyID string
}

func (r *OrderRepository) List(ctx context.Context, filter ListFilter) ([]domain.Order, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, negotiation_id, buyer_id, seller_id, product_id, quantity, unit,
			final_price, total_price, status, logistics_status, created_at, updated_at
		FROM orders
		WHERE ($1 = '' OR status = $1)
			AND ($2 = '' OR buyer_id = $2 OR seller_id = $2)
		ORDER BY created_at DESC
	`, string(filter.Status), filter.PartyID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	orders := []domain.Order{}
	for rows.Next() {
		var order domain.Order
		if err := rows.Scan(&order.ID, &order.NegotiationID, &order.BuyerID, &order.SellerID,
			&order.ProductID, &order.Quantity, &order.Unit, &order.FinalPrice, &order.TotalPrice,
			&order.Status, &order.Logistics, &order.CreatedAt, &order.UpdatedAt); err != nil {
			return nil, err
		}
		orders = append(orders, order)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return orders, nil
}
