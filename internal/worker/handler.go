package worker

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"

	"procureflow/internal/domain"
)

// MaterializerHandler turns accepted negotiations into orders. It consumes
// negotiation.accepted events and calls the orders service; the orders
// service's idempotent materialization makes event redelivery safe.
type MaterializerHandler struct {
	ordersServiceURL string
	httpClient       *http.Client
	logger           *slog.Logger
}

func NewMaterializerHandler(ordersServiceURL string, client *http.Client, logger *slog.Logger) *MaterializerHandler {
	return &MaterializerHandler{
		ordersServiceURL: ordersServiceURL,
		httpClient:       client,
		logger:           logger,
	}
}

func (h *MaterializerHandler) Handle(ctx context.Context, payload []byte) error {
	var event domain.NegotiationAcceptedEvent
	if err := json.Unmarshal(payload, &event); err != nil {
		return fmt.Errorf("unmarshal negotiation accepted event: %w", err)
	}

	h.logger.Info("processing negotiation accepted event",
		"negotiation_id", event.NegotiationID, "buyer_id", event.BuyerID)

	order, created, err := h.materialize(ctx, event)
	if err != nil {
		h.logger.Error("failed to materialize order", "error", err,
			"negotiation_id", event.NegotiationID)
		return fmt.Errorf("materialize order for negotiation %s: %w", event.NegotiationID, err)
	}

	if !created {
		h.logger.Info("order already materialized, skipping",
			"negotiation_id", event.NegotiationID, "order_id", order.ID)
		return nil
	}

	h.logger.Info("order materialized", "negotiation_id", event.NegotiationID,
		"order_id", order.ID, "total_price", order.TotalPrice)
	return nil
}

func (h *MaterializerHandler) materialize(ctx context.Context, event domain.NegotiationAcceptedEvent) (*domain.Order, bool, error) {
	body := map[string]any{
		"negotiation_id": event.NegotiationID,
		"buyer_id":       event.BuyerID,
		"seller_id":      event.SellerID,
		"product_id":     event.ProductID,
		"quantity":       event.Quantity,
		"unit":           event.Unit,
		"final_price":    event.FinalPrice,
	}

	data, err := json.Marshal(body)
	if err != nil {
		return nil, false, fmt.Errorf("marshal materialize request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.ordersServiceURL+"/orders", bytes.NewReader(data))
	if err != nil {
		return nil, false, fmt.Errorf("create materialize request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := h.httpClient.Do(req)
	if err != nil {
		return nil, false, err
	}
	defer func() { _ = resp.Body.Close() }()

	// 201 means the order was created now; 200 means an earlier delivery of
	// this event already created it.
	if resp.StatusCode != http.StatusCreated && resp.StatusCode != http.StatusOK {
		return nil, false, fmt.Errorf("orders service returned status %d", resp.StatusCode)
	}

	var order domain.Order
	if err := json.NewDecoder(resp.Body).Decode(&order); err != nil {
		return nil, false, fmt.Errorf("decode materialized order: %w", err)
	}

	return &order, resp.StatusCode == http.StatusCreated, nil
}
