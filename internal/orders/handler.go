package orders

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"procureflow/internal/domain"
	"procureflow/internal/invoicing"
)

type Handler struct {
	repo     *OrderRepository
	invoices *invoicing.Client
	logger   *slog.Logger
}

func NewHandler(repo *OrderRepository, invoices *invoicing.Client, logger *slog.Logger) *Handler {
	return &Handler{
		repo:     repo,
		invoices: invoices,
		logger:   logger,
	}
}

type materializeRequest struct {
	NegotiationID string `json:"negotiation_id"`
	BuyerID       string `json:"buyer_id"`
	SellerID      string `json:"seller_id"`
	ProductID     string `json:"product_id"`
	Quantity      int    `json:"quantity"`
	Unit          string `json:"unit"`
	FinalPrice    int64  `json:"final_price"`
}

// HandleMaterialize converts an accepted negotiation into an order. Replays
// for the same negotiation return the existing order with 200 instead of 201.
func (h *Handler) HandleMaterialize(w http.ResponseWriter, r *http.Request) {
	var req materializeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid request body", "bad_request")
		return
	}

	if req.NegotiationID == "" || req.BuyerID == "" || req.SellerID == "" ||
		req.ProductID == "" || req.Quantity <= 0 || req.FinalPrice <= 0 {
		h.writeError(w, http.StatusBadRequest, "incomplete negotiation snapshot", "bad_request")
		return
	}

	order, created, err := h.repo.Materialize(r.Context(), MaterializeParams{
		NegotiationID: req.NegotiationID,
		BuyerID:       req.BuyerID,
		SellerID:      req.SellerID,
		ProductID:     req.ProductID,
		Quantity:      req.Quantity,
		Unit:          req.Unit,
		FinalPrice:    req.FinalPrice,
	})
	if err != nil {
		h.logger.Error("failed to materialize order", "error", err, "negotiation_id", req.NegotiationID)
		h.writeError(w, http.StatusInternalServerError, "internal server error", "internal")
		return
	}

	if !created {
		h.logger.Info("order already materialized", "order_id", order.ID,
			"negotiation_id", req.NegotiationID)
		h.writeJSON(w, http.StatusOK, order)
		return
	}

	h.logger.Info("order materialized", "order_id", order.ID,
		"negotiation_id", req.NegotiationID, "total_price", order.TotalPrice)
	h.writeJSON(w, http.StatusCreated, order)
}

func (h *Handler) HandleGet(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if id == "" {
		h.writeError(w, http.StatusBadRequest, "missing order id", "bad_request")
		return
	}

	order, err := h.repo.GetByID(r.Context(), id)
	if err != nil {
		h.logger.Error("failed to get order", "error", err, "order_id", id)
		h.writeError(w, http.StatusInternalServerError, "internal server error", "internal")
		return
	}

	if order == nil {
		h.writeError(w, http.StatusNotFound, "order not found", "not_found")
		return
	}

	h.writeJSON(w, http.StatusOK, order)
}

func (h *Handler) HandleList(w http.ResponseWriter, r *http.Request) {
	filter := ListFilter{
		Status:  domain.OrderStatus(r.URL.Query().Get("status")),
		PartyID: r.URL.Query().Get("party_id"),
	}

	orders, err := h.repo.List(r.Context(), filter)
	if err != nil {
		h.logger.Error("failed to list orders", "error", err)
		h.writeError(w, http.StatusInternalServerError, "internal server error", "internal")
		return
	}

	h.logger.Info("orders listed", "count", len(orders))
	h.writeJSON(w, http.StatusOK, orders)
}

func (h *Handler) HandleRecordPayment(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if id == "" {
		h.writeError(w, http.StatusBadRequest, "missing order id", "bad_request")
		return
	}

	order, err := h.repo.RecordPayment(r.Context(), id)
	if err != nil {
		h.writeDomainError(w, err, "failed to record payment", "order_id", id)
		return
	}

	if h.invoices != nil {
		if _, err := h.invoices.Issue(r.Context(), order.ID, order.TotalPrice); err != nil {
			h.logger.Error("failed to request invoice issuance", "error", err, "order_id", order.ID)
		}
	}

	h.logger.Info("payment recorded", "order_id", id, "status", order.Status)
	h.writeJSON(w, http.StatusOK, order)
}

func (h *Handler) HandleCancel(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if id == "" {
		h.writeError(w, http.StatusBadRequest, "missing order id", "bad_request")
		return
	}

	order, err := h.repo.Cancel(r.Context(), id)
	if err != nil {
		h.writeDomainError(w, err, "failed to cancel order", "order_id", id)
		return
	}

	h.logger.Info("order cancelled", "order_id", id)
	h.writeJSON(w, http.StatusOK, order)
}

type logisticsRequest struct {
	Status domain.LogisticsStatus `json:"status"`
}

func (h *Handler) HandleSetLogistics(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if id == "" {
		h.writeError(w, http.StatusBadRequest, "missing order id", "bad_request")
		return
	}

	var req logisticsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid request body", "bad_request")
		return
	}

	order, err := h.repo.SetLogistics(r.Context(), id, req.Status)
	if err != nil {
		h.writeDomainError(w, err, "failed to set logistics status", "order_id", id)
		return
	}

	h.logger.Info("logistics status set", "order_id", id, "logistics_status", order.Logistics)
	h.writeJSON(w, http.StatusOK, order)
}

// HandleGetInvoice gates on local eligibility before asking the invoicing
// service: only completed orders can have an invoice.
func (h *Handler) HandleGetInvoice(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if id == "" {
		h.writeError(w, http.StatusBadRequest, "missing order id", "bad_request")
		return
	}

	order, err := h.repo.GetByID(r.Context(), id)
	if err != nil {
		h.logger.Error("failed to get order", "error", err, "order_id", id)
		h.writeError(w, http.StatusInternalServerError, "internal server error", "internal")
		return
	}

	if order == nil {
		h.writeError(w, http.StatusNotFound, "order not found", "not_found")
		return
	}

	if !domain.InvoiceEligible(order) {
		h.writeError(w, http.StatusConflict, "order is not completed, no invoice exists", "invalid_transition")
		return
	}

	invoice, err := h.invoices.FindByOrder(r.Context(), order.ID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			h.writeError(w, http.StatusNotFound, "invoice not found", "not_found")
			return
		}
		h.logger.Error("failed to look up invoice", "error", err, "order_id", id)
		h.writeError(w, http.StatusBadGateway, "invoicing service unavailable", "upstream_unavailable")
		return
	}

	h.writeJSON(w, http.StatusOK, invoice)
}

func (h *Handler) writeDomainError(w http.ResponseWriter, err error, msg string, args ...any) {
	switch {
	case errors.Is(err, domain.ErrNotFound):
		h.writeError(w, http.StatusNotFound, "order not found", "not_found")
	case errors.Is(err, domain.ErrInvalidTransition):
		h.writeError(w, http.StatusConflict, "operation not allowed in the current order state", "invalid_transition")
	default:
		h.logger.Error(msg, append([]any{"error", err}, args...)...)
		h.writeError(w, http.StatusInternalServerError, "internal server error", "internal")
	}
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("failed to encode response", "error", err)
	}
}

func (h *Handler) writeError(w http.ResponseWriter, status int, message, code string) {
	h.writeJSON(w, status, map[string]string{"error": message, "code": code})
}
