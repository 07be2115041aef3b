package domain

import "time"

// Invoice belongs to the external invoicing collaborator; this core only
// reads it. Existence implies the order is completed.
type Invoice struct {
	ID        string    `json:"id"`
	OrderID   string    `json:"order_id"`
	Number    string    `json:"number"`
	Amount    int64     `json:"amount"`
	IssuedAt  time.Time `json:"issued_at"`
	CreatedAt time.Time `json:"created_at"`
}
