package negotiations

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"procureflow/internal/catalog"
	"procureflow/internal/domain"
	"procureflow/internal/messaging"
)

type Handler struct {
	repo     *NegotiationRepository
	catalog  *catalog.Client
	producer *messaging.Producer
	logger   *slog.Logger

	offersAppended metric.Int64Counter
	closed         metric.Int64Counter
}

func NewHandler(repo *NegotiationRepository, catalogClient *catalog.Client, producer *messaging.Producer, logger *slog.Logger) (*Handler, error) {
	meter := otel.Meter("negotiations")

	offersAppended, err := meter.Int64Counter("negotiation.offers.appended",
		metric.WithDescription("Offers appended to negotiation ledgers"))
	if err != nil {
		return nil, err
	}

	closed, err := meter.Int64Counter("negotiation.closed",
		metric.WithDescription("Negotiations reaching a terminal status"))
	if err != nil {
		return nil, err
	}

	return &Handler{
		repo:           repo,
		catalog:        catalogClient,
		producer:       producer,
		logger:         logger,
		offersAppended: offersAppended,
		closed:         closed,
	}, nil
}

type openNegotiationRequest struct {
	BuyerID   string `json:"buyer_id"`
	ProductID string `json:"product_id"`

	// Optional opening counter-offer. Zero amount opens against the listed
	// price with an empty ledger.
	Amount              int64      `json:"amount,omitempty"`
	Quantity            int        `json:"quantity,omitempty"`
	Message             string     `json:"message,omitempty"`
	DesiredDeliveryDate *time.Time `json:"desired_delivery_date,omitempty"`
}

func (h *Handler) HandleOpen(w http.ResponseWriter, r *http.Request) {
	var req openNegotiationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid request body", "bad_request")
		return
	}

	if req.BuyerID == "" || req.ProductID == "" {
		h.writeError(w, http.StatusBadRequest, "buyer_id and product_id are required", "bad_request")
		return
	}

	product, err := h.catalog.GetProduct(r.Context(), req.ProductID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			h.writeError(w, http.StatusNotFound, "product not found", "not_found")
			return
		}
		h.logger.Error("failed to read product from catalog", "error", err, "product_id", req.ProductID)
		h.writeError(w, http.StatusBadGateway, "catalog unavailable", "upstream_unavailable")
		return
	}

	quantity := domain.ResolveQuantity(req.Quantity, req.Message, product.AvailableQuantity)

	negotiation, err := h.repo.Open(r.Context(), OpenParams{
		BuyerID:             req.BuyerID,
		SellerID:            product.SellerID,
		ProductID:           product.ID,
		BasePrice:           product.BasePrice,
		Unit:                product.Unit,
		Quantity:            quantity,
		Amount:              req.Amount,
		Message:             req.Message,
		DesiredDeliveryDate: req.DesiredDeliveryDate,
	})
	if err != nil {
		h.logger.Error("failed to open negotiation", "error", err, "product_id", req.ProductID)
		h.writeError(w, http.StatusInternalServerError, "internal server error", "internal")
		return
	}

	h.logger.Info("negotiation opened", "negotiation_id", negotiation.ID,
		"buyer_id", negotiation.BuyerID, "seller_id", negotiation.SellerID,
		"offers", len(negotiation.Offers))
	h.writeJSON(w, http.StatusCreated, negotiation)
}

type appendOfferRequest struct {
	SenderID            string     `json:"sender_id"`
	Amount              int64      `json:"amount"`
	Quantity            int        `json:"quantity,omitempty"`
	Message             string     `json:"message,omitempty"`
	DesiredDeliveryDate *time.Time `json:"desired_delivery_date,omitempty"`
}

func (h *Handler) HandleAppendOffer(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if id == "" {
		h.writeError(w, http.StatusBadRequest, "missing negotiation id", "bad_request")
		return
	}

	var req appendOfferRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid request body", "bad_request")
		return
	}

	if req.SenderID == "" || req.Amount <= 0 {
		h.writeError(w, http.StatusBadRequest, "sender_id and a positive amount are required", "bad_request")
		return
	}

	negotiation, err := h.repo.AppendOffer(r.Context(), AppendOfferParams{
		NegotiationID:       id,
		SenderID:            req.SenderID,
		Amount:              req.Amount,
		Quantity:            req.Quantity,
		Message:             req.Message,
		DesiredDeliveryDate: req.DesiredDeliveryDate,
	})
	if err != nil {
		h.writeDomainError(w, err, "failed to append offer", "negotiation_id", id)
		return
	}

	h.offersAppended.Add(r.Context(), 1,
		metric.WithAttributes(attribute.String("status", string(negotiation.Status))))
	h.logger.Info("offer appended", "negotiation_id", id, "sender_id", req.SenderID,
		"amount", req.Amount, "status", negotiation.Status)
	h.writeJSON(w, http.StatusOK, negotiation)
}

type closeNegotiationRequest struct {
	ActorID string `json:"actor_id"`
}

func (h *Handler) HandleAccept(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if id == "" {
		h.writeError(w, http.StatusBadRequest, "missing negotiation id", "bad_request")
		return
	}

	var req closeNegotiationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid request body", "bad_request")
		return
	}

	negotiation, err := h.repo.Accept(r.Context(), id, req.ActorID)
	if err != nil {
		h.writeDomainError(w, err, "failed to accept negotiation", "negotiation_id", id)
		return
	}

	if h.producer != nil {
		event := domain.NegotiationAcceptedEvent{
			NegotiationID: negotiation.ID,
			BuyerID:       negotiation.BuyerID,
			SellerID:      negotiation.SellerID,
			ProductID:     negotiation.ProductID,
			Quantity:      negotiation.Quantity,
			Unit:          negotiation.Unit,
			FinalPrice:    negotiation.CurrentOfferAmount,
			DeliveryDate:  negotiation.DesiredDeliveryDate,
			Timestamp:     negotiation.UpdatedAt,
		}
		if err := h.producer.Publish(r.Context(), negotiation.ID, event); err != nil {
			h.logger.Error("failed to publish negotiation accepted event", "error", err,
				"negotiation_id", negotiation.ID)
		}
	}

	h.closed.Add(r.Context(), 1,
		metric.WithAttributes(attribute.String("status", string(domain.StatusAccepted))))
	h.logger.Info("negotiation accepted", "negotiation_id", id, "actor_id", req.ActorID,
		"final_price", negotiation.CurrentOfferAmount)
	h.writeJSON(w, http.StatusOK, negotiation)
}

func (h *Handler) HandleReject(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if id == "" {
		h.writeError(w, http.StatusBadRequest, "missing negotiation id", "bad_request")
		return
	}

	var req closeNegotiationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid request body", "bad_request")
		return
	}

	negotiation, err := h.repo.Reject(r.Context(), id, req.ActorID)
	if err != nil {
		h.writeDomainError(w, err, "failed to reject negotiation", "negotiation_id", id)
		return
	}

	h.closed.Add(r.Context(), 1,
		metric.WithAttributes(attribute.String("status", string(domain.StatusRejected))))
	h.logger.Info("negotiation rejected", "negotiation_id", id, "actor_id", req.ActorID)
	h.writeJSON(w, http.StatusOK, negotiation)
}

func (h *Handler) HandleGet(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if id == "" {
		h.writeError(w, http.StatusBadRequest, "missing negotiation id", "bad_request")
		return
	}

	negotiation, err := h.repo.GetByID(r.Context(), id)
	if err != nil {
		h.logger.Error("failed to get negotiation", "error", err, "negotiation_id", id)
		h.writeError(w, http.StatusInternalServerError, "internal server error", "internal")
		return
	}

	if negotiation == nil {
		h.writeError(w, http.StatusNotFound, "negotiation not found", "not_found")
		return
	}

	h.writeJSON(w, http.StatusOK, negotiation)
}

func (h *Handler) HandleList(w http.ResponseWriter, r *http.Request) {
	filter := ListFilter{
		Status:  domain.NegotiationStatus(r.URL.Query().Get("status")),
		PartyID: r.URL.Query().Get("party_id"),
	}

	if filter.Status != "" && !filter.Status.Valid() {
		h.writeError(w, http.StatusBadRequest, "unknown status filter", "bad_request")
		return
	}

	negotiations, err := h.repo.List(r.Context(), filter)
	if err != nil {
		h.logger.Error("failed to list negotiations", "error", err)
		h.writeError(w, http.StatusInternalServerError, "internal server error", "internal")
		return
	}

	h.logger.Info("negotiations listed", "count", len(negotiations))
	h.writeJSON(w, http.StatusOK, negotiations)
}

// writeDomainError maps the domain error taxonomy onto HTTP. Turn violations
// and illegal transitions both map to 409 but carry distinct codes, because
// the corrective action differs: refetch and retry versus give up.
func (h *Handler) writeDomainError(w http.ResponseWriter, err error, msg string, args ...any) {
	switch {
	case errors.Is(err, domain.ErrNotFound):
		h.writeError(w, http.StatusNotFound, "negotiation not found", "not_found")
	case errors.Is(err, domain.ErrUnauthorizedSender):
		h.writeError(w, http.StatusForbidden, "you are not a party to this negotiation", "unauthorized_sender")
	case errors.Is(err, domain.ErrTurnViolation):
		h.writeError(w, http.StatusConflict, "not your turn: the other party must respond first", "turn_violation")
	case errors.Is(err, domain.ErrInvalidTransition):
		h.writeError(w, http.StatusConflict, "operation not allowed in the current negotiation state", "invalid_transition")
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
