package invoicing

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"

	"procureflow/internal/domain"
)

// Handler is a stand-in for the external invoicing collaborator. It issues
// and serves invoices keyed by order id; PDF rendering and billing details
// live outside this system.
type Handler struct {
	logger *slog.Logger

	mu       sync.Mutex
	byOrder  map[string]domain.Invoice
	sequence int
}

func NewHandler(logger *slog.Logger) *Handler {
	return &Handler{
		logger:  logger,
		byOrder: make(map[string]domain.Invoice),
	}
}

type issueRequest struct {
	OrderID string `json:"order_id"`
	Amount  int64  `json:"amount"`
}

// HandleIssue issues an invoice for a completed order. Issuing twice for the
// same order returns the original invoice.
func (h *Handler) HandleIssue(w http.ResponseWriter, r *http.Request) {
	var req issueRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if req.OrderID == "" || req.Amount <= 0 {
		h.writeError(w, http.StatusBadRequest, "order_id and a positive amount are required")
		return
	}

	h.mu.Lock()
	invoice, exists := h.byOrder[req.OrderID]
	if !exists {
		h.sequence++
		now := time.Now().UTC()
		invoice = domain.Invoice{
			ID:        uuid.New().String(),
			OrderID:   req.OrderID,
			Number:    fmt.Sprintf("INV-%s-%04d", now.Format("2006"), h.sequence),
			Amount:    req.Amount,
			IssuedAt:  now,
			CreatedAt: now,
		}
		h.byOrder[req.OrderID] = invoice
	}
	h.mu.Unlock()

	if exists {
		h.logger.Info("invoice already issued", "order_id", req.OrderID, "number", invoice.Number)
		h.writeJSON(w, http.StatusOK, invoice)
		return
	}

	h.logger.Info("invoice issued", "order_id", req.OrderID, "number", invoice.Number,
		"amount", invoice.Amount)
	h.writeJSON(w, http.StatusCreated, invoice)
}

func (h *Handler) HandleGetByOrder(w http.ResponseWriter, r *http.Request) {
	orderID := r.PathValue("orderId")
	if orderID == "" {
		h.writeError(w, http.StatusBadRequest, "missing order id")
		return
	}

	h.mu.Lock()
	invoice, exists := h.byOrder[orderID]
	h.mu.Unlock()

	if !exists {
		h.writeError(w, http.StatusNotFound, "invoice not found")
		return
	}

	h.writeJSON(w, http.StatusOK, invoice)
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("failed to encode response", "error", err)
	}
}

func (h *Handler) writeError(w http.ResponseWriter, status int, message string) {
	h.writeJSON(w, status, map[string]string{"error": message})
}
