package domain

import "time"

// NegotiationAcceptedEvent is published after an acceptance commits. The
// materializer worker consumes it to create the order; delivery is
// at-least-once, so consumers must tolerate duplicates.
type NegotiationAcceptedEvent struct {
	NegotiationID string     `json:"negotiation_id"`
	BuyerID       string     `json:"buyer_id"`
	SellerID      string     `json:"seller_id"`
	ProductID     string     `json:"product_id"`
	Quantity      int        `json:"quantity"`
	Unit          string     `json:"unit"`
	FinalPrice    int64      `json:"final_price"`
	DeliveryDate  *time.Time `json:"delivery_date,omitempty"`
	Timestamp     time.Time  `json:"timestamp"`
}
