package domain

import "time"

type OrderStatus string

const (
	// OrderStatusConfirmed: materialized from an accepted negotiation,
	// awaiting payment.
	OrderStatusConfirmed OrderStatus = "confirmed"
	OrderStatusCompleted OrderStatus = "completed"
	OrderStatusCancelled OrderStatus = "cancelled"
)

func (s OrderStatus) Terminal() bool {
	return s == OrderStatusCompleted || s == OrderStatusCancelled
}

// LogisticsStatus is an advisory annotation on top of the order status. It
// never gates invoicing.
type LogisticsStatus string

const (
	LogisticsNone       LogisticsStatus = ""
	LogisticsDispatched LogisticsStatus = "dispatched"
	LogisticsDelivered  LogisticsStatus = "delivered"
)

// Order is frozen at materialization time: party, product and price fields
// never change afterwards, only status and the logistics annotation do.
type Order struct {
	ID            string `json:"id"`
	NegotiationID string `json:"negotiation_id"`
	BuyerID       string `json:"buyer_id"`
	SellerID      string `json:"seller_id"`
	ProductID     string `json:"product_id"`
	Quantity      int    `json:"quantity"`
	Unit          string `json:"unit"`

	// FinalPrice is the unit price agreed in the negotiation's latest offer;
	// TotalPrice is FinalPrice times Quantity.
	FinalPrice int64 `json:"final_price"`
	TotalPrice int64 `json:"total_price"`

	Status    OrderStatus     `json:"status"`
	Logistics LogisticsStatus `json:"logistics_status,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// NextStatusOnPayment records payment received. No partial payments or
// refunds: confirmed goes straight to completed.
func NextStatusOnPayment(current OrderStatus) (OrderStatus, error) {
	if current != OrderStatusConfirmed {
		return current, ErrInvalidTransition
	}
	return OrderStatusCompleted, nil
}

// NextStatusOnCancel cancels any non-terminal order. Cancelling an already
// cancelled order is a no-op success; cancelling a completed order is not
// legal.
func NextStatusOnCancel(current OrderStatus) (OrderStatus, error) {
	switch current {
	case OrderStatusCancelled:
		return OrderStatusCancelled, nil
	case OrderStatusCompleted:
		return current, ErrInvalidTransition
	default:
		return OrderStatusCancelled, nil
	}
}

// ValidateLogistics checks that the annotation may be set: only dispatched and
// delivered are meaningful, and only while the order is confirmed or
// completed.
func ValidateLogistics(current OrderStatus, logistics LogisticsStatus) error {
	if logistics != LogisticsDispatched && logistics != LogisticsDelivered {
		return ErrInvalidTransition
	}
	if current != OrderStatusConfirmed && current != OrderStatusCompleted {
		return ErrInvalidTransition
	}
	return nil
}

// InvoiceEligible reports whether an invoice may exist for the order. True iff
// the order is completed; cancelled orders are never invoiced.
func InvoiceEligible(o *Order) bool {
	return o.Status == OrderStatusCompleted
}
